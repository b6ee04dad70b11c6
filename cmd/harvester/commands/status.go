package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tokenflow/harvester/harvest"
	"github.com/tokenflow/harvester/store"
	"github.com/tokenflow/harvester/utils"
)

func init() {
	statusCmd.Flags().StringVar(&configPath, "config", utils.DefaultHomePath, "set custom config path")

	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show harvest coverage and local dataset state",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := utils.LoadConfig(configPath)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("failed to load config")
			return
		}

		ethDir := resolveDataDir(config.Etherscan.DataDir, "data_eth")
		idx := store.LoadIndex(filepath.Join(ethDir, "index.json"))

		fmt.Println("EVM harvest")
		fmt.Printf("  data dir:       %s\n", ethDir)
		fmt.Printf("  chunks:         %d (%d merged)\n", len(idx.Files), len(idx.Merged.Files))
		min, max := idx.Extremes()
		if min != nil && max != nil {
			fmt.Printf("  block coverage: %d - %d\n", *min, *max)
		} else {
			fmt.Println("  block coverage: none")
		}
		outputFile := config.Merge.OutputFile
		if outputFile == "" {
			outputFile = filepath.Join(ethDir, "transfers.csv")
		}
		if info, err := os.Stat(outputFile); err == nil {
			fmt.Printf("  merged dataset: %s (%d bytes)\n", outputFile, info.Size())
		} else {
			fmt.Println("  merged dataset: not created")
		}

		tronDir := resolveDataDir(config.Tronscan.DataDir, "data_tron")
		buckets := countBlockBuckets(filepath.Join(tronDir, "blocks"))

		fmt.Println("TRON harvest")
		fmt.Printf("  data dir:       %s\n", tronDir)
		fmt.Printf("  block buckets:  %d\n", buckets)

		resume := harvest.LoadResume(filepath.Join(tronDir, "resume.json"))
		if resume.Updated != "" {
			fmt.Printf("  resume state:   window %d, offset %d, %d records saved (updated %s)\n",
				resume.WinIndex, resume.PageOffset, resume.TotalSaved, resume.Updated)
		} else {
			fmt.Println("  resume state:   none")
		}
	},
}

func countBlockBuckets(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	return count
}
