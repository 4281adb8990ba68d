package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oceanlab/specimen-stack/cli/internal/client"
	"github.com/oceanlab/specimen-stack/cli/pkg/output"
	"github.com/oceanlab/specimen-stack/common/config"
)

var cfg *config.CLIConfig

var rootCmd = &cobra.Command{
	Use:   "specimenctl",
	Short: "Specimen pipeline CLI",
	Long: `specimenctl is the operator CLI for the specimen enrichment pipeline.

Submit specimen images to the ingestion gateway, inspect enriched records,
generate synthetic survey data, manage the dead-letter stream and run
record store migrations.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		output.Error("%v", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().String("gateway", "", "ingestion gateway URL (default from config: http://localhost:8088)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output format: table, json")
	rootCmd.PersistentFlags().String("service-config", "", "pipeline service config file used by dlq and migrate")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.LoadCLI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		loaded = config.DefaultCLI()
	}
	cfg = loaded

	if v, _ := cmd.Flags().GetString("gateway"); v != "" {
		cfg.GatewayURL = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		cfg.Output = v
	}
	if v, _ := cmd.Flags().GetString("service-config"); v != "" {
		cfg.ServiceConfig = v
	}

	switch cfg.Output {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (supported: table, json)", cfg.Output)
	}
}

func gateway() *client.GatewayClient {
	return client.NewGatewayClient(cfg.GatewayURL)
}

func jsonOutput() bool {
	return cfg.Output == "json"
}

// serviceConfig loads the pipeline service config the CLI was pointed at.
func serviceConfig() (*config.Config, error) {
	svc, err := config.Load(cfg.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("load service config: %w", err)
	}
	return svc, nil
}
