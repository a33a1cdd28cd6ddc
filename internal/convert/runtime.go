// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package convert turns foreign model checkpoints into the native ONNX
// format by driving an external Python interpreter. The orchestrator
// resolves an interpreter, makes sure the export packages are present,
// runs the embedded conversion script and validates what it produced.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/errdefs"
)

// Interpreter is a resolved Python installation.
type Interpreter struct {
	// Path is the absolute executable path reported by the system.
	Path string
	// Version is the trimmed output of `<path> --version`.
	Version string
}

// ResolvePython probes the candidate interpreter names in order and
// returns the first one that both resolves on PATH and answers a
// version query within probeTimeout. Candidates may also be absolute
// paths, in which case the PATH lookup is skipped.
func ResolvePython(ctx context.Context, candidates []string, probeTimeout time.Duration) (*Interpreter, error) {
	if len(candidates) == 0 {
		candidates = []string{"python3", "python"}
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	for _, candidate := range candidates {
		resolved := candidate
		if !strings.ContainsAny(candidate, "/\\") {
			path, err := exec.LookPath(candidate)
			if err != nil {
				log.Debugf("Python candidate %q not on PATH: %v", candidate, err)
				continue
			}
			resolved = path
		}

		version, err := probeVersion(ctx, resolved, probeTimeout)
		if err != nil {
			log.Debugf("Python candidate %q failed version probe: %v", resolved, err)
			continue
		}

		log.WithField("python", resolved).Debugf("Resolved interpreter: %s", version)
		return &Interpreter{Path: resolved, Version: version}, nil
	}

	return nil, fmt.Errorf("no working python interpreter among %v: %w", candidates, errdefs.ErrNotFound)
}

// probeVersion runs `<path> --version` and returns its trimmed output.
// Interpreters that hang past the timeout are treated as unusable.
func probeVersion(ctx context.Context, path string, timeout time.Duration) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(probeCtx, path, "--version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("version probe: %w", err)
	}

	// Python 2 printed the version on stderr; accept either stream.
	version := strings.TrimSpace(stdout.String())
	if version == "" {
		version = strings.TrimSpace(stderr.String())
	}
	if version == "" {
		return "", fmt.Errorf("interpreter produced no version output")
	}
	return version, nil
}
