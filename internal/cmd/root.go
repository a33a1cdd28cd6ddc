// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cmd implements the tagsense command line: catalog scans,
// model install and lifecycle management, tagging, and the API server.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deanable/tagsense/internal/config"
	"github.com/deanable/tagsense/internal/engine"
	"github.com/deanable/tagsense/internal/logging"
)

var (
	configFlag string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "tagsense",
	Short: "Discover, convert and serve image classification models",
	Long: `tagsense manages a local collection of image classification models:
it scans a remote catalog for candidates, downloads and (when needed)
converts them to ONNX, and tags images with the result, either from the
command line or through a local HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to the YAML config file (default ~/.tagsense/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(defaultCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the config file, applies CLI overrides, and points
// the shared logger at the configured destination.
func loadConfig() (*config.Config, error) {
	path := configFlag
	optional := path == ""
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".tagsense", "config.yaml")
		} else {
			path = "config.yaml"
		}
	}

	cfg, err := config.LoadConfigOptional(path, optional)
	if err != nil {
		return nil, err
	}
	if debugFlag {
		cfg.Debug = true
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogsDir(), cfg.LogsMaxTotalSizeMB); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildEngine loads the configuration and assembles the production
// engine. The caller owns Close.
func buildEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(cfg, engine.Dependencies{})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing engine: %w", err)
	}
	return eng, cfg, nil
}
