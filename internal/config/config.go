package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	JWT        JWTConfig        `yaml:"jwt"`
	Redis      RedisConfig      `yaml:"redis"`
	World      WorldConfig      `yaml:"world"`
	Simulation SimulationConfig `yaml:"simulation"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TickRate int    `yaml:"tick_rate"` // Hz
}

// JWTConfig holds JWT authentication settings. An empty public key URL
// disables authentication (development mode).
type JWTConfig struct {
	Issuer              string `yaml:"issuer"`
	PublicKeyURL        string `yaml:"public_key_url"`
	PublicKeyRefreshHrs int    `yaml:"public_key_refresh_hours"`
	BlacklistPrefix     string `yaml:"blacklist_prefix"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorldConfig holds chunk storage settings
type WorldConfig struct {
	ChunksPerGroup uint32 `yaml:"chunks_per_group"` // power of two
	InitialCube    int    `yaml:"initial_cube"`     // seed an n^3 block of chunks at startup
	SeedDensity    int    `yaml:"seed_density"`     // one live cell per this many cells
}

// SimulationConfig holds simulation stage settings
type SimulationConfig struct {
	Iterations  int  `yaml:"iterations"` // per frame
	StartPaused bool `yaml:"start_paused"`
}

// SnapshotConfig holds world persistence settings
type SnapshotConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults for values that are unset or nonsense
	if cfg.Server.TickRate <= 0 {
		cfg.Server.TickRate = 20
	}
	if cfg.JWT.PublicKeyRefreshHrs <= 0 {
		cfg.JWT.PublicKeyRefreshHrs = 24
	}
	if cfg.JWT.BlacklistPrefix == "" {
		cfg.JWT.BlacklistPrefix = "ca3d:blacklist:"
	}
	if cfg.World.ChunksPerGroup == 0 {
		cfg.World.ChunksPerGroup = 32
	}
	if cfg.World.SeedDensity <= 0 {
		cfg.World.SeedDensity = 10000
	}
	if cfg.Simulation.Iterations <= 0 {
		cfg.Simulation.Iterations = 1
	}
	if cfg.Snapshot.KeyPrefix == "" {
		cfg.Snapshot.KeyPrefix = "ca3d:chunk:"
	}

	return &cfg, nil
}
