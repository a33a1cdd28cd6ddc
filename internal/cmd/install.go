// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deanable/tagsense/internal/catalog"
	"github.com/deanable/tagsense/internal/registry"
)

var (
	installMaxSizeMB int
	installFormats   []string
)

var installCmd = &cobra.Command{
	Use:   "install <catalog-id>",
	Short: "Install a model from the remote catalog",
	Long: `Install fetches the model's artifacts, registers it, and converts it to
the native format if necessary. The catalog ID is the repository path as
printed by 'tagsense scan', e.g. microsoft/resnet-50.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	f := installCmd.Flags()
	f.IntVar(&installMaxSizeMB, "max-size-mb", 0, "Reject model files larger than this (0 disables)")
	f.StringSliceVar(&installFormats, "format", nil, "Acceptable model file extensions (repeatable)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	opts := catalog.DefaultFilterOptions()
	opts.MaxModelSizeMB = installMaxSizeMB
	if cmd.Flags().Changed("format") {
		opts.SupportedFormats = installFormats
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalogID := args[0]
	fmt.Fprintf(os.Stderr, "Installing %s...\n", catalogID)
	if err := eng.InstallByID(ctx, catalogID, opts); err != nil {
		return err
	}

	name := registry.NormalizeName(catalogID)
	m, err := eng.Model(name)
	if err != nil {
		return err
	}
	fmt.Printf("Installed %s (%s, %s)\n", m.Name, m.ModelFormat, modelStatus(m))
	if eng.DefaultModelName() == m.Name {
		fmt.Println("Set as default model.")
	}
	return nil
}
