package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Conversion.Compression != "balanced-lossless" {
		t.Errorf("Compression = %s", cfg.Conversion.Compression)
	}
	if cfg.Conversion.CompressionLevel != 4 {
		t.Errorf("CompressionLevel = %d", cfg.Conversion.CompressionLevel)
	}
	if cfg.Conversion.Workers != 0 {
		t.Errorf("Workers = %d, want 0 (auto)", cfg.Conversion.Workers)
	}
	if cfg.Watch.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v", cfg.Watch.Debounce)
	}
}

func TestMergePartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
conversion:
  compression: fast-lossless
  workers: 3
output:
  name: run42
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.loadFile(path); err != nil {
		t.Fatalf("loadFile: %v", err)
	}

	cfg := m.Get()
	if cfg.Conversion.Compression != "fast-lossless" {
		t.Errorf("Compression = %s", cfg.Conversion.Compression)
	}
	if cfg.Conversion.Workers != 3 {
		t.Errorf("Workers = %d", cfg.Conversion.Workers)
	}
	if cfg.Output.Name != "run42" {
		t.Errorf("Output.Name = %s", cfg.Output.Name)
	}
	// Unset keys keep their defaults.
	if cfg.Conversion.CompressionLevel != 4 {
		t.Errorf("CompressionLevel = %d, want default 4", cfg.Conversion.CompressionLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRIDFLOW_COMPRESSION", "none")
	t.Setenv("GRIDFLOW_WORKERS", "7")
	t.Setenv("GRIDFLOW_STEP_PATTERN", `step([0-9]+)`)

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Conversion.Compression != "none" {
		t.Errorf("Compression = %s", cfg.Conversion.Compression)
	}
	if cfg.Conversion.Workers != 7 {
		t.Errorf("Workers = %d", cfg.Conversion.Workers)
	}
	if cfg.Conversion.StepPattern != `step([0-9]+)` {
		t.Errorf("StepPattern = %s", cfg.Conversion.StepPattern)
	}
}

func TestEnvIgnoresUnparsable(t *testing.T) {
	t.Setenv("GRIDFLOW_WORKERS", "many")

	m := NewManager()
	m.loadEnv()

	if got := m.Get().Conversion.Workers; got != 0 {
		t.Errorf("Workers = %d, want default 0", got)
	}
}
