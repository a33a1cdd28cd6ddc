// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/deanable/tagsense/internal/inference"
)

var (
	tagModelName  string
	tagThreshold  float64
	tagMaxTags    int
	tagOutputJSON bool
)

var tagCmd = &cobra.Command{
	Use:   "tag <image> [image...]",
	Short: "Classify images with an installed model",
	Long: `Tag runs each image through the named model (or the default model) and
prints the labels that clear the confidence threshold, best first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTag,
}

func init() {
	f := tagCmd.Flags()
	f.StringVarP(&tagModelName, "model", "m", "", "Model to use (default: the configured default model)")
	f.Float64Var(&tagThreshold, "threshold", -1, "Confidence threshold override (0..1; negative keeps the model's own)")
	f.IntVar(&tagMaxTags, "max-tags", 0, "Cap the number of tags per image (0 keeps the model's own)")
	f.BoolVar(&tagOutputJSON, "json", false, "Print results as JSON keyed by image path")
}

func runTag(cmd *cobra.Command, args []string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := inference.InferOptions{Threshold: tagThreshold, MaxTags: tagMaxTags}

	if tagOutputJSON {
		out := make(map[string]any, len(args))
		for _, path := range args {
			res, err := eng.Tag(ctx, path, tagModelName, opts)
			if err != nil {
				return fmt.Errorf("tagging %s: %w", path, err)
			}
			out[path] = res
		}
		payload, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	}

	for _, path := range args {
		res, err := eng.Tag(ctx, path, tagModelName, opts)
		if err != nil {
			return fmt.Errorf("tagging %s: %w", path, err)
		}
		fmt.Printf("%s (%s)\n", path, res.Model)
		if len(res.Tags) == 0 {
			fmt.Println("  no tags above threshold")
			continue
		}
		for _, tag := range res.Tags {
			fmt.Printf("  %-30s %.3f\n", tag.Label, tag.Score)
		}
	}
	return nil
}
