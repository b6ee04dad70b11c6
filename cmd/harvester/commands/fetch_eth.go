package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tokenflow/harvester/utils"
)

func init() {
	fetchEthCmd.Flags().StringVar(&configPath, "config", utils.DefaultHomePath, "set custom config path")
	fetchEthCmd.Flags().StringVar(&startDate, "start-date", "", "harvest boundary (YYYY-MM-DD), overrides config")
	fetchEthCmd.Flags().StringVar(&dataDir, "data-dir", "", "chunk directory, overrides config")

	rootCmd.AddCommand(fetchEthCmd)
}

var fetchEthCmd = &cobra.Command{
	Use:   "fetch-eth",
	Short: "Harvest EVM token transfers back to the start date",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := utils.LoadConfig(configPath)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to load config")
			return
		}

		harvester, err := setupEVMHarvester(config)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to set up harvester")
			return
		}

		utils.TrackHarvestStarted(config.Telemetry, "eth")
		go utils.StartPrometheus(config.PrometheusPort)

		startTime := time.Now().Unix()

		ctx, cancel := shutdownContext()
		defer cancel()

		result, err := harvester.Run(ctx)
		if err != nil {
			logger.Warn().Str("err", err.Error()).Msg("harvest interrupted")
			return
		}

		duration := time.Now().Unix() - startTime
		utils.PrometheusLastHarvestDuration.WithLabelValues("eth").Set(float64(duration))
		utils.TrackHarvestCompleted(config.Telemetry, "eth", result.ChunksWritten, duration)

		logger.Info().Msg(fmt.Sprintf("Finished harvest! Took %d seconds", duration))
	},
}
