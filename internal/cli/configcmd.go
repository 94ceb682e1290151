package cli

import (
	"errors"
	"fmt"

	"github.com/harun/backlogpilot/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report every problem",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.NewLoader(cfgFile).GetConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	problems := config.NewValidator().ValidateConfig(cfg)
	if err := cfg.Validate(); err != nil {
		problems = append([]error{err}, problems...)
	}

	out := cmd.OutOrStdout()
	if len(problems) == 0 {
		fmt.Fprintf(out, "Configuration OK: %d provider(s)\n", len(cfg.Providers))
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(out, "- %v\n", p)
	}
	return errors.New("configuration is invalid")
}
