// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/shayne/helmtls/internal/archive"
)

const (
	DefaultHelm           = "helm"
	DefaultServiceAccount = "tiller"
)

type Config struct {
	RegistryRoot   string `json:"registry_root,omitempty" toml:"registry_root,omitempty"`
	ArchiveFormat  string `json:"archive_format,omitempty" toml:"archive_format,omitempty"`
	HelmBinary     string `json:"helm_binary,omitempty" toml:"helm_binary,omitempty"`
	CertgenScript  string `json:"certgen_script,omitempty" toml:"certgen_script,omitempty"`
	ScratchDir     string `json:"scratch_dir,omitempty" toml:"scratch_dir,omitempty"`
	ServiceAccount string `json:"service_account,omitempty" toml:"service_account,omitempty"`
}

// Load reads the config file. A missing file yields the zero Config and the
// path it would be saved to.
func Load() (Config, string, error) {
	path, err := Path()
	if err != nil {
		return Config{}, "", err
	}
	cfg, err := loadToml(path)
	if err == nil {
		return cfg, path, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, path, nil
	}
	return Config{}, path, err
}

func Save(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func Path() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		var err error
		configHome, err = os.UserConfigDir()
		if err != nil {
			return "", err
		}
	}

	return filepath.Join(configHome, "helmtls", "config.toml"), nil
}

func loadToml(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func RemoveConfigFile() error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// DefaultRegistryRoot is $HELM_HOME/tls, or ~/.helm/tls without HELM_HOME.
func DefaultRegistryRoot() (string, error) {
	if helmHome := strings.TrimSpace(os.Getenv("HELM_HOME")); helmHome != "" {
		return filepath.Join(expandHome(helmHome), "tls"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".helm", "tls"), nil
}

// Registry returns the environment registry root.
func (c Config) Registry() (string, error) {
	if root := strings.TrimSpace(c.RegistryRoot); root != "" {
		return expandHome(root), nil
	}
	return DefaultRegistryRoot()
}

func (c Config) Format() (archive.Format, error) {
	return archive.FormatFromName(c.ArchiveFormat)
}

func (c Config) Helm() string {
	if helm := strings.TrimSpace(c.HelmBinary); helm != "" {
		return expandHome(helm)
	}
	return DefaultHelm
}

func (c Config) Script() string {
	return expandHome(strings.TrimSpace(c.CertgenScript))
}

// Scratch returns the configured scratch dir; empty means a temp dir per run.
func (c Config) Scratch() string {
	return expandHome(strings.TrimSpace(c.ScratchDir))
}

func (c Config) ServiceAccountOrDefault() string {
	if sa := strings.TrimSpace(c.ServiceAccount); sa != "" {
		return sa
	}
	return DefaultServiceAccount
}

var fields = map[string]func(*Config) *string{
	"registry_root":   func(c *Config) *string { return &c.RegistryRoot },
	"archive_format":  func(c *Config) *string { return &c.ArchiveFormat },
	"helm_binary":     func(c *Config) *string { return &c.HelmBinary },
	"certgen_script":  func(c *Config) *string { return &c.CertgenScript },
	"scratch_dir":     func(c *Config) *string { return &c.ScratchDir },
	"service_account": func(c *Config) *string { return &c.ServiceAccount },
}

// Keys lists the settable config keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (c Config) Get(key string) (string, error) {
	field, ok := fields[strings.TrimSpace(key)]
	if !ok {
		return "", unknownKeyError(key)
	}
	return *field(&c), nil
}

// Set updates key. An empty value restores the default.
func (c *Config) Set(key, value string) error {
	key = strings.TrimSpace(key)
	field, ok := fields[key]
	if !ok {
		return unknownKeyError(key)
	}
	value = strings.TrimSpace(value)
	if key == "archive_format" && value != "" {
		format, err := archive.FormatFromName(value)
		if err != nil {
			return err
		}
		value = format.String()
	}
	*field(c) = value
	return nil
}

func unknownKeyError(key string) error {
	return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(Keys(), ", "))
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
