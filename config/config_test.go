package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Assemble.CPU != 0 {
		t.Errorf("expected CPU=0, got %d", cfg.Assemble.CPU)
	}
	if cfg.Assemble.Verbose {
		t.Error("expected Verbose=false")
	}
}

func TestLoadFromMissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Assemble.CPU != 0 {
		t.Errorf("expected default CPU=0, got %d", cfg.Assemble.CPU)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beebasmrc.toml")

	cfg := Default()
	cfg.Assemble.CPU = 1
	cfg.Assemble.OPT = 3
	cfg.Assemble.Title = "MYDISC"
	cfg.Assemble.Verbose = true

	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Assemble.CPU != 1 || got.Assemble.OPT != 3 || got.Assemble.Title != "MYDISC" || !got.Assemble.Verbose {
		t.Errorf("round trip mismatch: %+v", got.Assemble)
	}
}
