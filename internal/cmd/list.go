// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/deanable/tagsense/internal/registry"
)

var listOutputJSON bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed models",
	RunE:    runList,
}

func init() {
	listCmd.Flags().BoolVar(&listOutputJSON, "json", false, "Print the registry as JSON")
}

func runList(_ *cobra.Command, _ []string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	models := eng.Models()
	if listOutputJSON {
		payload, err := json.MarshalIndent(models, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	}

	if len(models) == 0 {
		fmt.Println("No models installed. Run 'tagsense scan' to find candidates.")
		return nil
	}

	defaultName := eng.DefaultModelName()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFORMAT\tSTATUS\tENABLED\tPRIORITY")
	for _, m := range models {
		name := m.Name
		if m.Name == defaultName {
			name += " (default)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\n", name, m.ModelFormat, modelStatus(m), m.IsEnabled, m.Priority)
	}
	return w.Flush()
}

// modelStatus renders registry state as a single word for the table.
func modelStatus(m *registry.ModelDescriptor) string {
	if !m.ModelFormat.NeedsConversion() {
		return "ready"
	}
	switch m.ConversionStatus {
	case registry.ConversionDone:
		return "ready"
	case registry.ConversionRunning:
		return "converting"
	case registry.ConversionFailed:
		return "failed"
	default:
		return "pending"
	}
}
