/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration kept as YAML in the user config directory.
// Environment variables (optionally seeded from a .env file) override it at runtime and
// are never written back. The generation-service token is held in the OS keyring.
type AppConfig struct {
	ConfigVersion int              `yaml:"config_version"`
	General       GeneralConfig    `yaml:"general"`
	Generation    GenerationConfig `yaml:"generation"`
	Triage        TriageConfig     `yaml:"triage"`
	Logging       LoggingConfig    `yaml:"logging"`
}

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	DraftsDir      string `yaml:"drafts_dir"`  // empty: <config dir>/drafts
	HistoryDSN     string `yaml:"history_dsn"` // empty: sqlite file in DraftsDir; postgres://... for a shared index
}

// GenerationConfig points at the thumbnail generation service.
type GenerationConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

// TriageConfig points at the mailbox triage service.
type TriageConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Generation:    GenerationConfig{BaseURL: "http://localhost:8000", TimeoutMs: 120000},
		Triage:        TriageConfig{BaseURL: "http://localhost:5000", TimeoutMs: 15000},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile        = "THUMBDRAFT_CONFIG"
	EnvGenerationURL     = "THUMBDRAFT_API_URL"
	EnvGenerationTimeout = "THUMBDRAFT_API_TIMEOUT_MS"
	EnvTLSInsecure       = "THUMBDRAFT_TLS_INSECURE"
	EnvToken             = "THUMBDRAFT_TOKEN"
	EnvTriageURL         = "THUMBDRAFT_MAIL_URL"
	EnvTelemetryOptIn    = "THUMBDRAFT_TELEMETRY_OPT_IN"
	EnvDraftsDir         = "THUMBDRAFT_DRAFTS_DIR"
	EnvHistoryDSN        = "THUMBDRAFT_HISTORY_DSN"
	EnvLogLevel          = "THUMBDRAFT_LOG_LEVEL"
	EnvLogFormat         = "THUMBDRAFT_LOG_FORMAT"
	EnvLogSource         = "THUMBDRAFT_LOG_SOURCE"
	EnvLogFile           = "THUMBDRAFT_LOG_FILE"
)

// ConfigPath returns the per-user config file path. THUMBDRAFT_CONFIG wins when set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "Thumbdraft")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Thumbdraft")
	default:
		if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
			base = filepath.Join(x, "thumbdraft")
		} else if h := os.Getenv("HOME"); h != "" {
			base = filepath.Join(h, ".config", "thumbdraft")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// LoadDotEnv seeds the environment from files (default ./.env). Variables already set are kept.
// Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the config file (if present) over the defaults, applies env overrides and
// resolves the token (THUMBDRAFT_TOKEN, else keyring). A malformed file is reported
// together with the usable defaults.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	var fileErr error
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			fileErr = fmt.Errorf("parse %s: %w", path, err)
		} else {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	if cfg.General.DraftsDir == "" {
		cfg.General.DraftsDir = filepath.Join(filepath.Dir(path), "drafts")
	}
	tok := strings.TrimSpace(os.Getenv(EnvToken))
	if tok == "" {
		tok, _ = tokenStore.Get(keyringService, keyringToken)
	}
	return cfg, tok, fileErr
}

// Save writes the YAML file and stores a non-empty token in the keyring.
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		return tokenStore.Set(keyringService, keyringToken, token)
	}
	return nil
}

// ClearToken removes the stored token from the keyring.
func ClearToken() error { return tokenStore.Delete(keyringService, keyringToken) }

func mergeInto(dst, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	setIf(&dst.General.DraftsDir, src.General.DraftsDir)
	setIf(&dst.General.HistoryDSN, src.General.HistoryDSN)

	setIf(&dst.Generation.BaseURL, src.Generation.BaseURL)
	if src.Generation.TimeoutMs > 0 {
		dst.Generation.TimeoutMs = src.Generation.TimeoutMs
	}
	dst.Generation.TLSInsecure = src.Generation.TLSInsecure

	setIf(&dst.Triage.BaseURL, src.Triage.BaseURL)
	if src.Triage.TimeoutMs > 0 {
		dst.Triage.TimeoutMs = src.Triage.TimeoutMs
	}

	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	dst.Logging.Source = src.Logging.Source
	setIf(&dst.Logging.File, src.Logging.File)
}

func setIf(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v, ok := lookup(EnvGenerationURL); ok {
		cfg.Generation.BaseURL = v
	}
	if v, ok := lookup(EnvGenerationTimeout); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Generation.TimeoutMs = n
		}
	}
	if v, ok := lookup(EnvTLSInsecure); ok {
		cfg.Generation.TLSInsecure = truthy(v)
	}
	if v, ok := lookup(EnvTriageURL); ok {
		cfg.Triage.BaseURL = v
	}
	if v, ok := lookup(EnvTelemetryOptIn); ok {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	if v, ok := lookup(EnvDraftsDir); ok {
		cfg.General.DraftsDir = v
	}
	if v, ok := lookup(EnvHistoryDSN); ok {
		cfg.General.HistoryDSN = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvLogFormat); ok {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v, ok := lookup(EnvLogSource); ok {
		cfg.Logging.Source = truthy(v)
	}
	if v, ok := lookup(EnvLogFile); ok {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"generation.base_url":      EnvGenerationURL,
	"generation.timeout_ms":    EnvGenerationTimeout,
	"generation.tls_insecure":  EnvTLSInsecure,
	"triage.base_url":          EnvTriageURL,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"general.drafts_dir":       EnvDraftsDir,
	"general.history_dsn":      EnvHistoryDSN,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor reports the env var currently overriding the dotted config key.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok {
		return "", false
	}
	if _, set := lookup(name); !set {
		return "", false
	}
	return name, true
}

func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// Timeout returns the configured request timeout, falling back to the default.
func (g GenerationConfig) Timeout() time.Duration {
	if g.TimeoutMs <= 0 {
		return time.Duration(Defaults().Generation.TimeoutMs) * time.Millisecond
	}
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

// Timeout returns the configured request timeout, falling back to the default.
func (t TriageConfig) Timeout() time.Duration {
	if t.TimeoutMs <= 0 {
		return time.Duration(Defaults().Triage.TimeoutMs) * time.Millisecond
	}
	return time.Duration(t.TimeoutMs) * time.Millisecond
}
