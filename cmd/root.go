package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"SpoofDetServer/config"
	"SpoofDetServer/logger"

	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.3.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "spoofdet",
	Short:         "Face detection and liveness scoring server",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// loadConfig reads --config and installs the configured logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return cfg, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
}
