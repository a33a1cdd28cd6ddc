// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/deanable/tagsense/internal/catalog"
)

var (
	scanTerms         []string
	scanMinDownloads  int64
	scanMinLikes      int64
	scanMaxSizeMB     int
	scanMaxModels     int
	scanOnlyVerified  bool
	scanPreferNative  bool
	scanWithArchived  bool
	scanWithPrivate   bool
	scanLicenses      []string
	scanFormats       []string
	scanExpression    string
	scanSortBy        string
	scanSortDirection string
	scanPresetName    string
	scanSavePresetAs  string
	scanOutputJSON    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the remote catalog for candidate models",
	Long: `Scan walks the remote catalog page by page, filters entries against
the configured criteria, and prints the surviving candidates ranked by
priority. Candidates are not installed; pass one to 'tagsense install'.`,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringSliceVarP(&scanTerms, "term", "t", nil, "Search terms (repeatable; default covers common classifier families)")
	f.Int64Var(&scanMinDownloads, "min-downloads", 0, "Exclude entries below this download count")
	f.Int64Var(&scanMinLikes, "min-likes", 0, "Exclude entries below this like count")
	f.IntVar(&scanMaxSizeMB, "max-size-mb", 0, "Exclude model files larger than this (0 disables)")
	f.IntVar(&scanMaxModels, "max-models", 0, "Cap the number of results (0 means unlimited)")
	f.BoolVar(&scanOnlyVerified, "only-verified", false, "Keep only verified publishers")
	f.BoolVar(&scanPreferNative, "prefer-native-labels", false, "Boost entries shipping ONNX plus a real label file")
	f.BoolVar(&scanWithArchived, "include-archived", false, "Keep archived entries")
	f.BoolVar(&scanWithPrivate, "include-private", false, "Keep private entries")
	f.StringSliceVar(&scanLicenses, "license", nil, "License allow-list substrings (repeatable)")
	f.StringSliceVar(&scanFormats, "format", nil, "Acceptable model file extensions (repeatable)")
	f.StringVar(&scanExpression, "expression", "", `Filter expression, e.g. 'Downloads > 5000 && HasTag("resnet")'`)
	f.StringVar(&scanSortBy, "sort", "", "Catalog sort key (downloads, likes, lastModified)")
	f.StringVar(&scanSortDirection, "direction", "", "Catalog sort direction (asc, desc)")
	f.StringVar(&scanPresetName, "preset", "", "Start from a saved scan preset")
	f.StringVar(&scanSavePresetAs, "save-preset", "", "Save the effective filter under this preset name")
	f.BoolVar(&scanOutputJSON, "json", false, "Print results as JSON")
}

func runScan(cmd *cobra.Command, _ []string) error {
	eng, cfg, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	opts := catalog.DefaultFilterOptions()
	if scanPresetName != "" {
		preset, err := catalog.LoadPreset(cfg.PresetsDir(), scanPresetName)
		if err != nil {
			return err
		}
		opts = preset.Filter
	}
	applyScanFlags(cmd, &opts)

	if scanSavePresetAs != "" {
		preset := catalog.Preset{Name: scanSavePresetAs, Filter: opts}
		if err := catalog.SavePreset(cfg.PresetsDir(), preset); err != nil {
			return fmt.Errorf("saving preset: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Saved scan preset %q\n", scanSavePresetAs)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := eng.Scan(ctx, opts, func(p catalog.ScanProgress) {
		switch {
		case p.Done:
		case p.LastMatch != "":
			fmt.Fprintf(os.Stderr, "  + %s\n", p.LastMatch)
		default:
			fmt.Fprintf(os.Stderr, "scanning %q: page %d, %d seen, %d matched\n", p.Term, p.Page, p.Scanned, p.Matched)
		}
	})
	if err != nil {
		return err
	}

	if scanOutputJSON {
		payload, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No candidates matched. Loosen the filter or try different search terms.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFORMAT\tPRIORITY\tDOWNLOADS\tLIKES\tLICENSE")
	for _, d := range results {
		license := d.License
		if license == "" {
			license = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			d.DisplayName, d.ModelFormat, d.Priority,
			orDash(d.ExtraMetadata["downloads"]), orDash(d.ExtraMetadata["likes"]), license)
	}
	return w.Flush()
}

// applyScanFlags overrides only the options whose flags were set, so a
// preset keeps its values unless explicitly overridden.
func applyScanFlags(cmd *cobra.Command, opts *catalog.FilterOptions) {
	f := cmd.Flags()
	if f.Changed("term") {
		opts.SearchTerms = scanTerms
	}
	if f.Changed("min-downloads") {
		opts.MinDownloads = scanMinDownloads
	}
	if f.Changed("min-likes") {
		opts.MinLikes = scanMinLikes
	}
	if f.Changed("max-size-mb") {
		opts.MaxModelSizeMB = scanMaxSizeMB
	}
	if f.Changed("max-models") {
		opts.MaxModels = scanMaxModels
	}
	if f.Changed("only-verified") {
		opts.OnlyVerified = scanOnlyVerified
	}
	if f.Changed("prefer-native-labels") {
		opts.PreferNativeLabels = scanPreferNative
	}
	if f.Changed("include-archived") {
		opts.ExcludeArchived = !scanWithArchived
	}
	if f.Changed("include-private") {
		opts.ExcludePrivate = !scanWithPrivate
	}
	if f.Changed("license") {
		opts.Licenses = scanLicenses
	}
	if f.Changed("format") {
		opts.SupportedFormats = scanFormats
	}
	if f.Changed("expression") {
		opts.Expression = scanExpression
	}
	if f.Changed("sort") {
		opts.SortBy = scanSortBy
	}
	if f.Changed("direction") {
		opts.SortDirection = scanSortDirection
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List saved scan presets",
	RunE:  runPresets,
}

func runPresets(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	presets, err := catalog.LoadPresets(cfg.PresetsDir())
	if err != nil {
		return err
	}
	if len(presets) == 0 {
		fmt.Println("No scan presets saved. Use 'tagsense scan --save-preset <name>' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTERMS\tMIN DOWNLOADS\tDESCRIPTION")
	for _, p := range presets {
		desc := p.Description
		if desc == "" {
			desc = "-"
		}
		terms := "-"
		if len(p.Filter.SearchTerms) > 0 {
			terms = fmt.Sprintf("%v", p.Filter.SearchTerms)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Name, terms, p.Filter.MinDownloads, desc)
	}
	return w.Flush()
}
