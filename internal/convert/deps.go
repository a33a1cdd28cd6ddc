// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package convert

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// conversionPackages are the Python packages the conversion script
// imports. Order matters only for log readability.
var conversionPackages = []string{"torch", "onnx"}

// EnsureDependencies checks that the conversion packages import cleanly
// in the given interpreter and, when install is true, attempts a pip
// install for each missing one. Installation is best effort: failures
// are logged and reported back, never fatal, because the conversion run
// itself surfaces a missing import with a precise error.
func EnsureDependencies(ctx context.Context, py *Interpreter, install bool) []string {
	var missing []string
	for _, pkg := range conversionPackages {
		if err := checkImport(ctx, py, pkg); err == nil {
			log.Debugf("Python package %q present", pkg)
			continue
		}

		if !install {
			log.WithField("package", pkg).Warn("Conversion package missing and auto-install is disabled")
			missing = append(missing, pkg)
			continue
		}

		log.WithField("package", pkg).Info("Installing conversion package")
		if err := pipInstall(ctx, py, pkg); err != nil {
			log.WithField("package", pkg).WithError(err).Warn("Package install failed; conversion may not succeed")
			missing = append(missing, pkg)
			continue
		}
		if err := checkImport(ctx, py, pkg); err != nil {
			log.WithField("package", pkg).WithError(err).Warn("Package still not importable after install")
			missing = append(missing, pkg)
		}
	}
	return missing
}

func checkImport(ctx context.Context, py *Interpreter, pkg string) error {
	cmd := exec.CommandContext(ctx, py.Path, "-c", fmt.Sprintf("import %s", pkg))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("import %s: %s", pkg, lastLine(msg))
		}
		return fmt.Errorf("import %s: %w", pkg, err)
	}
	return nil
}

func pipInstall(ctx context.Context, py *Interpreter, pkg string) error {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, py.Path, "-m", "pip", "install", "--quiet", pkg)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("Executing: %s -m pip install --quiet %s", py.Path, pkg)
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("pip install %s: %s", pkg, lastLine(msg))
		}
		return fmt.Errorf("pip install %s: %w", pkg, err)
	}
	return nil
}

// lastLine keeps error logs a single line; pip and Python tracebacks end
// with the interesting part.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
