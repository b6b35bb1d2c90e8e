package config

import (
	"os"
	"path/filepath"
	"testing"
)

func loadString(t *testing.T, yaml string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return cfg
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := loadString(t, "server:\n  host: \"0.0.0.0\"\n  port: 8080\n")
	if cfg.Server.TickRate != 20 {
		t.Fatalf("default tick rate is %d, want 20", cfg.Server.TickRate)
	}
	if cfg.World.ChunksPerGroup != 32 {
		t.Fatalf("default chunks per group is %d, want 32", cfg.World.ChunksPerGroup)
	}
	if cfg.World.SeedDensity != 10000 {
		t.Fatalf("default seed density is %d, want 10000", cfg.World.SeedDensity)
	}
	if cfg.Simulation.Iterations != 1 {
		t.Fatalf("default iterations is %d, want 1", cfg.Simulation.Iterations)
	}
}

func TestLoadReplacesInvalidValues(t *testing.T) {
	cfg := loadString(t, "world:\n  seed_density: -5\nserver:\n  tick_rate: -1\nsimulation:\n  iterations: -3\n")
	if cfg.World.SeedDensity != 10000 {
		t.Fatalf("negative seed density kept as %d", cfg.World.SeedDensity)
	}
	if cfg.Server.TickRate != 20 {
		t.Fatalf("negative tick rate kept as %d", cfg.Server.TickRate)
	}
	if cfg.Simulation.Iterations != 1 {
		t.Fatalf("negative iterations kept as %d", cfg.Simulation.Iterations)
	}
}
