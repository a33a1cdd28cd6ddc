// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// HardenPermissions walks the data directory and corrects loose modes.
// Directories are set to 0700 and registry state files (.json) to 0600.
// SecureWrite already creates files with these modes; hardening catches
// anything created before tagsense ran or altered from outside.
// Individual chmod failures are logged and skipped.
func HardenPermissions(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	corrected := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("permission hardening: failed to access %s: %v", path, err)
			return nil
		}

		var required os.FileMode
		switch {
		case info.IsDir():
			required = 0700
		case isStateFile(path):
			required = 0600
		default:
			return nil
		}

		current := info.Mode().Perm()
		if current == required {
			return nil
		}
		if chmodErr := os.Chmod(path, required); chmodErr != nil {
			log.Warnf("permission hardening: failed to chmod %s from %04o to %04o: %v",
				path, current, required, chmodErr)
			return nil
		}
		corrected++
		return nil
	})
	if err != nil {
		return err
	}

	if corrected > 0 {
		log.Infof("Corrected permissions on %d files under %s", corrected, root)
	}
	return nil
}

// isStateFile reports whether the file carries registry or scan state
// and should be owner-readable only.
func isStateFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".json"
}
