package cmd

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robinclaw/robinclaw/pkg/config"
	"github.com/robinclaw/robinclaw/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "robinctl",
	Short: "Operator console for the Robinclaw trading gateway",
	Long: `robinctl inspects markets and manages the Robinclaw ledger and custody secrets.

It reads the same environment (.env, ROBINCLAW_*) and config file as the server.

Examples:
  robinctl prices
  robinctl agents list
  robinctl agents activate my_agent --tx 0xabc...
  robinctl keys gen
  robinctl secrets init-mnemonic`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		if verbose {
			_ = logger.Init(logger.Config{Level: "debug"})
			return
		}
		_ = logger.Init(logger.Config{Level: logrus.WarnLevel.String()})
	},
}

var (
	configPath string
	verbose    bool
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML/JSON config file (default: env only)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}
