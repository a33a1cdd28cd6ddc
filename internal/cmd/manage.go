// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable an installed model",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnable,
}

var disableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable an installed model",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisable,
}

var defaultCmd = &cobra.Command{
	Use:   "default <name>",
	Short: "Set the default model used when a request names none",
	Args:  cobra.ExactArgs(1),
	RunE:  runDefault,
}

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm", "uninstall"},
	Short:   "Uninstall a model and delete its files",
	Args:    cobra.ExactArgs(1),
	RunE:    runRemove,
}

var convertCmd = &cobra.Command{
	Use:   "convert <name>",
	Short: "Convert a foreign-format model to the native runtime format",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func runEnable(_ *cobra.Command, args []string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if err := eng.SetEnabled(args[0], true); err != nil {
		return err
	}
	fmt.Printf("Enabled %s\n", args[0])
	return nil
}

func runDisable(_ *cobra.Command, args []string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if err := eng.SetEnabled(args[0], false); err != nil {
		return err
	}
	fmt.Printf("Disabled %s\n", args[0])
	return nil
}

func runDefault(_ *cobra.Command, args []string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if err := eng.SetDefault(args[0]); err != nil {
		return err
	}
	fmt.Printf("Default model is now %s\n", args[0])
	return nil
}

func runRemove(_ *cobra.Command, args []string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if err := eng.Uninstall(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.EnsureConverted(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Model %s is ready\n", args[0])
	return nil
}
