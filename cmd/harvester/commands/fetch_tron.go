package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tokenflow/harvester/utils"
)

func init() {
	fetchTronCmd.Flags().StringVar(&configPath, "config", utils.DefaultHomePath, "set custom config path")
	fetchTronCmd.Flags().StringVar(&startDate, "start-date", "", "harvest boundary (YYYY-MM-DD), overrides config")
	fetchTronCmd.Flags().StringVar(&dataDir, "data-dir", "", "block bucket directory, overrides config")

	rootCmd.AddCommand(fetchTronCmd)
}

var fetchTronCmd = &cobra.Command{
	Use:   "fetch-tron",
	Short: "Harvest TRC20 token transfers back to the start date",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := utils.LoadConfig(configPath)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to load config")
			return
		}

		harvester, err := setupTronHarvester(config)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to set up harvester")
			return
		}

		utils.TrackHarvestStarted(config.Telemetry, "tron")
		go utils.StartPrometheus(config.PrometheusPort)

		startTime := time.Now().Unix()

		ctx, cancel := shutdownContext()
		defer cancel()

		result, err := harvester.Run(ctx)
		if err != nil {
			logger.Warn().Str("err", err.Error()).Msg("harvest interrupted, resume state persisted")
			return
		}

		duration := time.Now().Unix() - startTime
		utils.PrometheusLastHarvestDuration.WithLabelValues("tron").Set(float64(duration))
		utils.TrackHarvestCompleted(config.Telemetry, "tron", result.NewRecords, duration)

		logger.Info().Msg(fmt.Sprintf("Finished harvest with %d records! Took %d seconds", result.NewRecords, duration))
	},
}
