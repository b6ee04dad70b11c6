package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tokenflow/harvester/utils"
)

var (
	configPath string
	logger     = utils.HarvestLogger("cmd")
)

var rootCmd = &cobra.Command{
	Use:           "harvester",
	Short:         "harvester",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		panic(fmt.Errorf("failed to execute root command: %w", err))
	}
}
