package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"github.com/tokenflow/harvester/store"
	"github.com/tokenflow/harvester/utils"
)

var chains string

func init() {
	runCmd.Flags().StringVar(&configPath, "config", utils.DefaultHomePath, "set custom config path")
	runCmd.Flags().Float64Var(&interval, "interval", 2, "interval of the harvest cycle (in hours)")
	runCmd.Flags().StringVar(&chains, "chains", "eth,tron", "comma separated chains to harvest (eth, tron)")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a supervised periodic harvest and merge",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := utils.LoadConfig(configPath)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to load config")
			return
		}

		go utils.StartPrometheus(config.PrometheusPort)

		ctx, cancel := shutdownContext()
		defer cancel()

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to create scheduler")
			return
		}

		sleepDuration := time.Duration(interval * float64(time.Hour))
		_, err = scheduler.NewJob(
			gocron.DurationJob(sleepDuration),
			gocron.NewTask(func() {
				harvestCycle(ctx, config)
			}),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to schedule harvest cycle")
			return
		}

		logger.Info().Str("interval", fmt.Sprintf("%v hours", interval)).Str("chains", chains).Msg("starting supervised harvest")
		scheduler.Start()

		<-ctx.Done()
		if err := scheduler.Shutdown(); err != nil {
			logger.Error().Str("err", err.Error()).Msg("scheduler shutdown failed")
		}
	},
}

func harvestCycle(ctx context.Context, config *utils.Config) {
	startTime := time.Now().Unix()

	if utils.Contains(splitChains(), "eth") {
		harvester, err := setupEVMHarvester(config)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to set up harvester")
			return
		}
		if _, err := harvester.Run(ctx); err != nil {
			return
		}

		dir := resolveDataDir(config.Etherscan.DataDir, "data_eth")
		outputFile := config.Merge.OutputFile
		if outputFile == "" {
			outputFile = filepath.Join(dir, "transfers.csv")
		}
		merger := store.Merger{
			Dir:               dir,
			IndexPath:         filepath.Join(dir, "index.json"),
			OutputFile:        outputFile,
			BatchSaveInterval: config.Merge.BatchSaveInterval,
		}
		if _, err := merger.Merge(); err != nil {
			logger.Error().Str("err", err.Error()).Msg("merge failed")
		}
	}

	if utils.Contains(splitChains(), "tron") {
		harvester, err := setupTronHarvester(config)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to set up harvester")
			return
		}
		if _, err := harvester.Run(ctx); err != nil {
			return
		}
	}

	logger.Info().Msg(fmt.Sprintf("Finished harvest cycle! Took %d seconds", time.Now().Unix()-startTime))
}

func splitChains() []string {
	var out []string
	for _, c := range strings.Split(chains, ",") {
		out = append(out, strings.TrimSpace(c))
	}
	return out
}
