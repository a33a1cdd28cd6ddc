// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deanable/tagsense/internal/api"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP tagging server",
	Long: `Serve exposes the registry, scanner, and tagger over HTTP. The API is
protected by the configured serve secret; /healthz stays open for probes.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	f.IntVarP(&servePort, "port", "p", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	eng, cfg, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if cmd.Flags().Changed("host") {
		cfg.Serve.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Serve.Port = servePort
	}

	server := api.NewServer(cfg, eng)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logrus.Infof("Serving on http://%s", server.Addr())
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logrus.Info("Server stopped")
	return nil
}
