// Package main provides the replicawatch entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/devrev/replicawatch/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "replicawatch",
		Short: "replicawatch - replica set consistency observer",
		Long: `replicawatch writes to the primary of a replica set and reads every
member directly so that replication lag can be watched as it happens.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(configCmd())

	// status --watch and load stop on interrupt; serve installs its own handler
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration and wires the service layer. Logs go to out.
func setup(out string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := initLogger(cfg.Logging, out)
	logger.Info("configuration loaded",
		zap.Strings("nodes", cfg.Nodes),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("jobs_driver", cfg.Jobs.Driver),
	)

	return newApp(cfg, logger)
}
