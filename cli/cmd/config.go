package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oceanlab/specimen-stack/cli/pkg/output"
	"github.com/oceanlab/specimen-stack/common/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage specimenctl settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput() {
			return output.JSON(map[string]string{
				"gateway_url":    cfg.GatewayURL,
				"output":         cfg.Output,
				"service_config": cfg.ServiceConfig,
				"path":           cfg.Path(),
			})
		}
		output.KeyValues([][2]string{
			{"gateway_url", cfg.GatewayURL},
			{"output", cfg.Output},
			{"service_config", cfg.ServiceConfig},
			{"file", cfg.Path()},
		})
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Persist a setting",
	Example:   `  specimenctl config set gateway_url https://specimens.example.org`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"gateway_url", "output", "service_config"},
	RunE: func(cmd *cobra.Command, args []string) error {
		// start from the file, not from flag overrides
		stored, err := config.LoadCLI()
		if err != nil {
			return err
		}

		key, value := args[0], args[1]
		switch key {
		case "gateway_url":
			stored.GatewayURL = value
		case "output":
			if value != "table" && value != "json" {
				return fmt.Errorf("unsupported output format %q (supported: table, json)", value)
			}
			stored.Output = value
		case "service_config":
			stored.ServiceConfig = value
		default:
			return fmt.Errorf("unknown setting %q", key)
		}

		if err := stored.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		output.Success("Saved %s to %s", key, stored.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
