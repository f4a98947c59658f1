// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meridian-health/chartgate/pkg/logging"
	"github.com/meridian-health/chartgate/services/analysis/config"
)

var (
	configPath string

	cfg       *config.Config
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "chartgate",
		Short: "A quality-gated clinical chart analysis pipeline",
		Long: `Chartgate extracts clinical documents, summarizes and correlates
them against a literature index, and refuses to persist any report
that fails its quality gate.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file path (default ~/.chartgate/chartgate.yaml)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		appLogger = logging.New(logging.Config{
			Level:   parseLogLevel(cfg.Logging.Level),
			LogDir:  cfg.Logging.Dir,
			Service: "chartgate",
			JSON:    cfg.Logging.JSON,
		})
		slog.SetDefault(appLogger.Slog())
		return nil
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			appLogger.Close()
		}
	}
}

func parseLogLevel(level string) logging.Level {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
