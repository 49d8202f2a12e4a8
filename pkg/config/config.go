// Package config loads project settings from .sasspipe/config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gnana997/sasspipe/pkg/invocation"
)

// Dir and File locate the config file below a project root.
const (
	Dir  = ".sasspipe"
	File = "config.yaml"
)

// ProjectConfig holds the contents of .sasspipe/config.yaml.
//
//	source: src
//	out: dist
//	sourcemap: file
//	bundler: false
//	container: gulp-ruby-sass
//	workers: 4
//	maps_dir: ../maps
//	run_log: .sasspipe/runs.jsonl
//	flags:
//	  style: compressed
//	  load-path: [vendor, lib]
type ProjectConfig struct {
	Source     string                   `yaml:"source"`
	Out        string                   `yaml:"out"`
	Sourcemap  invocation.SourcemapMode `yaml:"sourcemap"`
	Bundler    bool                     `yaml:"bundler"`
	Container  string                   `yaml:"container"`
	Workers    int                      `yaml:"workers"`
	MapsDir    string                   `yaml:"maps_dir"`
	InlineMaps bool                     `yaml:"inline_maps"`
	RunLog     string                   `yaml:"run_log"`
	Include    []string                 `yaml:"include"`
	Exclude    []string                 `yaml:"exclude"`
	Flags      invocation.Flags         `yaml:"flags"`
}

// Path returns the config file location under root.
func Path(root string) string {
	return filepath.Join(root, Dir, File)
}

// Load reads the config under root. Returns nil (no error) if the file does
// not exist.
func Load(root string) (*ProjectConfig, error) {
	p := Path(root)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return cfg, nil
}

// Parse decodes and validates config data.
func Parse(data []byte) (*ProjectConfig, error) {
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if !cfg.Sourcemap.Valid() {
		return nil, fmt.Errorf("invalid sourcemap mode %q (want inline, file or none)", cfg.Sourcemap)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	return &cfg, nil
}

// Invocation returns the compiler options the config describes. A nil config
// yields the zero Options.
func (c *ProjectConfig) Invocation() invocation.Options {
	if c == nil {
		return invocation.Options{}
	}
	return invocation.Options{
		Bundler:   c.Bundler,
		Sourcemap: c.Sourcemap,
		Container: c.Container,
		Flags:     append(invocation.Flags(nil), c.Flags...),
	}
}

// String returns the first non-empty value, applying the fallback chain:
//  1. Explicit flag value
//  2. Config file value
//  3. Default
func String(flagValue, configValue, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if configValue != "" {
		return configValue
	}
	return def
}

// Int is String for counts; zero means unset.
func Int(flagValue, configValue, def int) int {
	if flagValue != 0 {
		return flagValue
	}
	if configValue != 0 {
		return configValue
	}
	return def
}
