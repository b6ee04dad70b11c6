package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tokenflow/harvester/utils"
)

func init() {
	initCmd.Flags().StringVar(&configPath, "config", utils.DefaultHomePath, "set custom config path")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the harvester config",
	Run: func(cmd *cobra.Command, args []string) {
		if err := utils.InitConfig(configPath); err != nil {
			logger.Error().Msg(err.Error())
			return
		}

		fmt.Println("\nSuccessfully initialized config at \033[36m" + configPath + "\033[0m!")

		fmt.Println("\nTo start harvesting, run one of the following commands: \n" +
			"\033[32m" +
			"harvester fetch-eth\n" +
			"harvester fetch-tron\n" +
			"harvester merge --destination big_query_example\n" +
			"\033[0m")
	},
}
