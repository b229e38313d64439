// Package config loads CLI defaults for beebasm from an optional
// beebasmrc.toml file, so a build pipeline that always assembles with
// the same CPU level, OPT, disc title and verbosity doesn't need to
// repeat those flags on every invocation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the subset of CLI flags (§6) that make sense as
// project-wide defaults rather than per-invocation arguments.
type Config struct {
	Assemble struct {
		CPU     int    `toml:"cpu"`
		OPT     int    `toml:"opt"`
		Verbose bool   `toml:"verbose"`
		Title   string `toml:"title"`
		Boot    string `toml:"boot"`
	} `toml:"assemble"`
}

// Default returns a Config with every field at its zero value (CPU 0,
// OPT 0, not verbose, no title, no boot file).
func Default() *Config {
	cfg := &Config{}
	cfg.Assemble.CPU = 0
	cfg.Assemble.OPT = 0
	cfg.Assemble.Verbose = false
	return cfg
}

// Load reads beebasmrc.toml from the current directory, falling back
// to Default if the file doesn't exist.
func Load() (*Config, error) {
	return LoadFrom("beebasmrc.toml")
}

// LoadFrom reads a config file from the given path, falling back to
// Default if the file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to beebasmrc.toml in the current directory.
func (c *Config) Save() error {
	return c.SaveTo("beebasmrc.toml")
}

// SaveTo writes the config to the given path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}

	f, err := os.Create(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
