package commands

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tokenflow/harvester/destinations"
	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/store"
	"github.com/tokenflow/harvester/utils"
)

var loadBatchSize int

func init() {
	mergeCmd.Flags().StringVar(&configPath, "config", utils.DefaultHomePath, "set custom config path")
	mergeCmd.Flags().StringVar(&dataDir, "data-dir", "", "chunk directory, overrides config")
	mergeCmd.Flags().StringVarP(&destinationName, "destination", "d", "", "name of the destination to load the merged dataset into")
	mergeCmd.Flags().IntVar(&loadBatchSize, "batch-size", 5000, "rows per destination batch")
	mergeCmd.Flags().BoolVarP(&y, "yes", "y", false, "automatically answer yes for all questions")

	rootCmd.AddCommand(mergeCmd)
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge harvested chunks into the deduplicated dataset",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := utils.LoadConfig(configPath)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to load config")
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

		startTime := time.Now().Unix()

		rows, err := merger.Merge()
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("merge failed")
			return
		}
		logger.Info().Int("rows", rows).Str("output", outputFile).Msg("merge finished")

		if destinationName == "" {
			logger.Info().Msg(fmt.Sprintf("Finished merge! Took %d seconds", time.Now().Unix()-startTime))
			return
		}

		if !y && !utils.PromptConfirm(fmt.Sprintf("\nLoad merged dataset into %s? [y/N]: ", destinationName)) {
			return
		}

		if err := loadDestination(config, outputFile); err != nil {
			logger.Error().Str("err", err.Error()).Msg("destination load failed")
			return
		}

		logger.Info().Msg(fmt.Sprintf("Finished merge and load! Took %d seconds", time.Now().Unix()-startTime))
	},
}

func loadDestination(config *utils.Config, outputFile string) error {
	destination, err := utils.GetDestination(config, destinationName)
	if err != nil {
		return err
	}

	dest, err := setupDestination(destination)
	if err != nil {
		return err
	}

	logger.Info().Msg(destinationSummary(dest))

	recordChannel := make(chan []schema.TransferRecord, 4)

	var destinationWaitGroup sync.WaitGroup
	dest.Initialize(schema.Transfers{}, recordChannel)
	dest.StartProcess(&destinationWaitGroup)
	defer dest.Close()

	loaded := 0
	err = store.StreamMerged(outputFile, loadBatchSize, func(batch []schema.TransferRecord) error {
		recordChannel <- batch
		loaded += len(batch)
		return nil
	})
	close(recordChannel)
	destinationWaitGroup.Wait()

	if err != nil {
		return err
	}
	logger.Info().Int("rows", loaded).Str("destination", destinationName).Msg("destination load finished")
	return nil
}

// destinationSummary reports the destination's high-water block before a load,
// so loading into a non-empty destination is visible up front.
func destinationSummary(dest destinations.Destination) string {
	max := dest.GetMaxBlock()
	if max <= 0 {
		return "destination is empty"
	}
	return fmt.Sprintf("destination already loaded up to block %d", max)
}
