// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for tagsense.
// It handles loading and parsing the YAML configuration file, and provides
// structured access to application settings including the data directory,
// catalog endpoint, scan tuning, conversion settings, and the management API.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// DefaultCatalogBaseURL is the catalog endpoint used when none is configured.
const DefaultCatalogBaseURL = "https://huggingface.co"

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// DataDir is the root directory for all persistent state: the model
	// registry file, downloaded model payloads, conversion scratch space,
	// scan presets, and log files. Supports a leading "~".
	DataDir string `yaml:"data-dir"`

	// Catalog nests remote catalog client options under 'catalog'.
	Catalog CatalogConfig `yaml:"catalog"`

	// Scan nests catalog scan tuning under 'scan'.
	Scan ScanConfig `yaml:"scan"`

	// Convert nests model conversion options under 'convert'.
	Convert ConvertConfig `yaml:"convert"`

	// Inference nests tagging session options under 'inference'.
	Inference InferenceConfig `yaml:"inference"`

	// Serve nests management API server options under 'serve'.
	Serve ServeConfig `yaml:"serve"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under the logs directory.
	// When exceeded, the oldest log files are deleted until within the limit. Set to 0 to disable.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb"`
}

// CatalogConfig holds options for the remote model catalog client.
type CatalogConfig struct {
	// BaseURL is the root URL of the catalog API. Defaults to the public
	// Hugging Face endpoint.
	BaseURL string `yaml:"base-url"`

	// RequestTimeoutSeconds bounds each catalog HTTP request. Defaults to 30.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds"`

	// UserAgent overrides the User-Agent header sent with catalog requests.
	UserAgent string `yaml:"user-agent"`
}

// ScanConfig holds tuning knobs for paged catalog scans.
type ScanConfig struct {
	// PageSize is the number of catalog entries requested per page. Defaults to 100.
	PageSize int `yaml:"page-size"`

	// MaxPages is the hard ceiling on pages fetched during one scan. Defaults to 100.
	MaxPages int `yaml:"max-pages"`

	// OverlapThreshold is the fraction of already-seen entry IDs on a page above
	// which the scan stops (pagination loop detection). Defaults to 0.8.
	OverlapThreshold float64 `yaml:"overlap-threshold"`

	// PageDelayMs is the politeness delay between page requests, in milliseconds.
	// Defaults to 250.
	PageDelayMs int `yaml:"page-delay-ms"`

	// PresetsDir is the directory holding scan preset YAML files.
	// Defaults to <data-dir>/presets.
	PresetsDir string `yaml:"presets-dir"`
}

// ConvertConfig holds options for the external model conversion pipeline.
type ConvertConfig struct {
	// PythonCandidates are interpreter names probed in order when locating a
	// working Python. Defaults to ["python3", "python"].
	PythonCandidates []string `yaml:"python-candidates"`

	// ProbeTimeoutSeconds bounds each interpreter --version probe. Defaults to 5.
	ProbeTimeoutSeconds int `yaml:"probe-timeout-seconds"`

	// TimeoutMinutes bounds a single conversion run. Defaults to 30.
	TimeoutMinutes int `yaml:"timeout-minutes"`

	// InstallDependencies enables best-effort pip installation of missing
	// conversion packages. Defaults to true.
	InstallDependencies bool `yaml:"install-dependencies"`

	// ScratchDir is the working directory for conversion scripts and
	// intermediate artifacts. Defaults to <data-dir>/scratch.
	ScratchDir string `yaml:"scratch-dir"`
}

// InferenceConfig holds options for tagging sessions.
type InferenceConfig struct {
	// RuntimeLibraryPath points at the ONNX Runtime shared library when it is
	// not discoverable on the default search path.
	RuntimeLibraryPath string `yaml:"runtime-library-path"`
}

// ServeConfig holds options for the local management API server.
type ServeConfig struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces. Use "127.0.0.1" for local-only access.
	Host string `yaml:"host"`

	// Port is the network port on which the API server will listen. Defaults to 8199.
	Port int `yaml:"port"`

	// SecretKey is the management key (plaintext or bcrypt hashed). A plaintext
	// value is hashed on load and the hash is persisted back to the config file.
	// When empty, mutating endpoints are open; read endpoints never require it.
	SecretKey string `yaml:"secret-key"`
}

// LoadConfig reads the YAML file at configFile and returns the parsed Config.
// Missing keys keep their documented defaults; a plaintext serve secret is
// bcrypt-hashed and written back so it is never reloaded in the clear.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional behaves like LoadConfig, but when optional is true a
// missing or empty file yields the default configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && os.IsNotExist(err) {
			cfg.applyFallbacks()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if optional && len(bytes.TrimSpace(data)) == 0 {
		cfg.applyFallbacks()
		return cfg, nil
	}

	// Unmarshal over the defaults so that absent keys keep them.
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyFallbacks()

	// Hash the serve secret if plaintext is detected. A value is considered
	// already hashed if it carries a bcrypt prefix ($2a$, $2b$, or $2y$).
	if cfg.Serve.SecretKey != "" && !looksLikeBcrypt(cfg.Serve.SecretKey) {
		hashed, errHash := hashSecret(cfg.Serve.SecretKey)
		if errHash != nil {
			return nil, fmt.Errorf("failed to hash serve secret key: %w", errHash)
		}
		cfg.Serve.SecretKey = hashed

		// Persist the hashed value back to the config file to avoid re-hashing
		// on next startup. Preserve YAML comments and ordering.
		_ = SaveConfigPreserveCommentsUpdateNestedScalar(configFile, []string{"serve", "secret-key"}, hashed)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DataDir: "~/.tagsense",
		Catalog: CatalogConfig{
			BaseURL:               DefaultCatalogBaseURL,
			RequestTimeoutSeconds: 30,
		},
		Scan: ScanConfig{
			PageSize:         100,
			MaxPages:         100,
			OverlapThreshold: 0.8,
			PageDelayMs:      250,
		},
		Convert: ConvertConfig{
			PythonCandidates:    []string{"python3", "python"},
			ProbeTimeoutSeconds: 5,
			TimeoutMinutes:      30,
			InstallDependencies: true,
		},
		Serve: ServeConfig{
			Port: 8199,
		},
	}
}

// applyFallbacks normalizes out-of-range values back to their defaults.
func (c *Config) applyFallbacks() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = "~/.tagsense"
	}
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = DefaultCatalogBaseURL
	}
	if c.Catalog.RequestTimeoutSeconds <= 0 {
		c.Catalog.RequestTimeoutSeconds = 30
	}
	if c.Scan.PageSize <= 0 {
		c.Scan.PageSize = 100
	}
	if c.Scan.MaxPages <= 0 {
		c.Scan.MaxPages = 100
	}
	if c.Scan.OverlapThreshold <= 0 || c.Scan.OverlapThreshold > 1 {
		c.Scan.OverlapThreshold = 0.8
	}
	if c.Scan.PageDelayMs < 0 {
		c.Scan.PageDelayMs = 0
	}
	if len(c.Convert.PythonCandidates) == 0 {
		c.Convert.PythonCandidates = []string{"python3", "python"}
	}
	if c.Convert.ProbeTimeoutSeconds <= 0 {
		c.Convert.ProbeTimeoutSeconds = 5
	}
	if c.Convert.TimeoutMinutes <= 0 {
		c.Convert.TimeoutMinutes = 30
	}
	if c.Serve.Port <= 0 {
		c.Serve.Port = 8199
	}
	if c.LogsMaxTotalSizeMB < 0 {
		c.LogsMaxTotalSizeMB = 0
	}
}

// ResolvedDataDir expands a leading "~" in DataDir against the user's home
// directory and returns a cleaned absolute-ish path.
func (c *Config) ResolvedDataDir() string {
	return expandHome(c.DataDir)
}

// RegistryPath returns the location of the model registry JSON document.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.ResolvedDataDir(), "registry.json")
}

// ModelsDir returns the directory holding downloaded model payloads.
func (c *Config) ModelsDir() string {
	return filepath.Join(c.ResolvedDataDir(), "models")
}

// LogsDir returns the directory receiving rotated log files.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ResolvedDataDir(), "logs")
}

// ScratchDir returns the conversion working directory, honoring an override.
func (c *Config) ScratchDir() string {
	if dir := strings.TrimSpace(c.Convert.ScratchDir); dir != "" {
		return expandHome(dir)
	}
	return filepath.Join(c.ResolvedDataDir(), "scratch")
}

// PresetsDir returns the scan presets directory, honoring an override.
func (c *Config) PresetsDir() string {
	if dir := strings.TrimSpace(c.Scan.PresetsDir); dir != "" {
		return expandHome(dir)
	}
	return filepath.Join(c.ResolvedDataDir(), "presets")
}

// CatalogTimeout returns the per-request catalog timeout as a duration.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.RequestTimeoutSeconds) * time.Second
}

// PageDelay returns the inter-page politeness delay as a duration.
func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.Scan.PageDelayMs) * time.Millisecond
}

// ConvertTimeout returns the per-conversion run timeout as a duration.
func (c *Config) ConvertTimeout() time.Duration {
	return time.Duration(c.Convert.TimeoutMinutes) * time.Minute
}

// ProbeTimeout returns the interpreter probe timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Convert.ProbeTimeoutSeconds) * time.Second
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{
		c.ResolvedDataDir(),
		c.ModelsDir(),
		c.LogsDir(),
		c.ScratchDir(),
		c.PresetsDir(),
	} {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("path exists but is not a directory: %s", dir)
			}
			continue
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat directory %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// CheckServeSecret reports whether the provided plaintext secret matches the
// configured bcrypt hash. An empty configured secret accepts everything.
func (c *Config) CheckServeSecret(secret string) bool {
	if c.Serve.SecretKey == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(c.Serve.SecretKey), []byte(secret)) == nil
}

// expandHome expands a leading "~" or "~/" against the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Clean(filepath.Join(home, strings.TrimPrefix(path, "~")))
		}
	}
	return filepath.Clean(path)
}

// looksLikeBcrypt returns true if the provided string appears to be a bcrypt hash.
func looksLikeBcrypt(s string) bool {
	return len(s) > 4 && (s[:4] == "$2a$" || s[:4] == "$2b$" || s[:4] == "$2y$")
}

// hashSecret hashes the given secret using bcrypt.
func hashSecret(secret string) (string, error) {
	// Use default cost for simplicity.
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// SaveConfigPreserveCommentsUpdateNestedScalar updates a single nested scalar
// value in the YAML config file while preserving comments and key ordering.
// The path is a sequence of mapping keys from the document root.
func SaveConfigPreserveCommentsUpdateNestedScalar(configFile string, path []string, value string) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}
	var root yaml.Node
	if err = yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid yaml document structure")
	}
	node := root.Content[0]
	// descend mapping nodes following path
	for i, key := range path {
		if i == len(path)-1 {
			// set final scalar
			v := getOrCreateMapValue(node, key)
			v.Kind = yaml.ScalarNode
			v.Tag = "!!str"
			v.Value = value
		} else {
			next := getOrCreateMapValue(node, key)
			if next.Kind != yaml.MappingNode {
				next.Kind = yaml.MappingNode
				next.Tag = "!!map"
			}
			node = next
		}
	}
	f, err := os.Create(configFile)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err = enc.Encode(&root); err != nil {
		_ = enc.Close()
		return err
	}
	if err = enc.Close(); err != nil {
		return err
	}
	_, err = f.Write(buf.Bytes())
	return err
}

func getOrCreateMapValue(mapNode *yaml.Node, key string) *yaml.Node {
	if mapNode.Kind != yaml.MappingNode {
		mapNode.Kind = yaml.MappingNode
		mapNode.Tag = "!!map"
		mapNode.Content = nil
	}
	for i := 0; i+1 < len(mapNode.Content); i += 2 {
		k := mapNode.Content[i]
		if k.Value == key {
			return mapNode.Content[i+1]
		}
	}
	// append new key/value
	mapNode.Content = append(mapNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key})
	val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: ""}
	mapNode.Content = append(mapNode.Content, val)
	return val
}
