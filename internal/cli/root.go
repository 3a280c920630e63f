// Package cli implements the pharmaudit command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pharmaudit/internal/platform/config"
	"pharmaudit/internal/platform/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "pharmaudit",
	Short:         "Pharmacy compliance audit trail and reporting service",
	Long:          "Records tamper-evident audit events, generates HIPAA, DEA and PCI compliance reports\nand enforces record retention.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("PHARMAUDIT_CONFIG"), "Path to YAML config file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Log), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
