package commands

import (
	"fmt"

	"github.com/mvalvano/telegrab/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample telegrab configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/telegrab/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  telegrab init

  # Initialize with custom path
  telegrab init --config /etc/telegrab/config.yaml

  # Force overwrite existing config
  telegrab init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Fill in the telegram api_id, api_hash, and bot_token")
	fmt.Println("  2. Start the bot with: telegrab start")
	fmt.Printf("  3. Or specify custom config: telegrab start --config %s\n", configPath)
	return nil
}
