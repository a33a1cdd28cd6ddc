// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"os"
	"path/filepath"
	"runtime"
)

// LocateRuntimeLibrary resolves the onnxruntime shared library path.
// An explicitly configured path wins unconditionally so a typo fails
// loudly instead of silently using another installation. Otherwise the
// ONNXRUNTIME_LIB_PATH environment variable and the common install
// locations for the platform are checked. An empty result leaves the
// lookup to the runtime's own platform default.
func LocateRuntimeLibrary(configured string) string {
	if configured != "" {
		return configured
	}

	if envPath := os.Getenv("ONNXRUNTIME_LIB_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range wellKnownLibraryPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func wellKnownLibraryPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
	case "linux":
		return []string{
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	case "windows":
		return []string{
			filepath.Join("C:\\", "Program Files", "onnxruntime", "lib", "onnxruntime.dll"),
		}
	default:
		return nil
	}
}
