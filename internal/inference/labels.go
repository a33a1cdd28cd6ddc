// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/deanable/tagsense/internal/errdefs"
)

// LoadLabels reads a label file: one class name per line, index aligned
// with the model's output vector. Blank lines are skipped so trailing
// newlines do not shift the pairing. An empty result is an error
// because scores would have nothing to pair with.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening label file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading label file: %w", err)
	}
	if len(labels) == 0 {
		return nil, errdefs.InvalidState(path, "label file has no non-empty lines")
	}
	return labels, nil
}

// syntheticLabel names the class at index when the label file is
// shorter than the score vector.
func syntheticLabel(index int) string {
	return fmt.Sprintf("Unknown_%d", index)
}
