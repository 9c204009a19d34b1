package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the engine configuration
type Config struct {
	Engine EngineConfig
	Cache  CacheConfig
}

// EngineConfig represents evaluation and validation configuration
type EngineConfig struct {
	MaxEvalDepth   int    // Expression recursion limit during evaluation
	ValidationMode string // strict or permissive
}

// CacheConfig represents decision cache configuration
type CacheConfig struct {
	Enabled    bool
	MaxEntries int // Maximum number of cached decisions
	Metrics    bool
	TTLMinutes int // Time-to-live for cached decisions in minutes
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root directory
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	// Find project root
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}

	// Set config file name based on environment
	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	viper.AddConfigPath(projectRoot) // Project root

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("ENGINE_MAX_EVAL_DEPTH", 100)
	viper.SetDefault("ENGINE_VALIDATION_MODE", "strict")

	// Cache defaults
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_MAX_ENTRIES", 10000)
	viper.SetDefault("CACHE_METRICS", true)
	viper.SetDefault("CACHE_TTL_MINUTES", 5)

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	config := &Config{
		Engine: EngineConfig{
			MaxEvalDepth:   viper.GetInt("ENGINE_MAX_EVAL_DEPTH"),
			ValidationMode: viper.GetString("ENGINE_VALIDATION_MODE"),
		},
		Cache: CacheConfig{
			Enabled:    viper.GetBool("CACHE_ENABLED"),
			MaxEntries: viper.GetInt("CACHE_MAX_ENTRIES"),
			Metrics:    viper.GetBool("CACHE_METRICS"),
			TTLMinutes: viper.GetInt("CACHE_TTL_MINUTES"),
		},
	}

	if config.Engine.MaxEvalDepth <= 0 {
		return nil, fmt.Errorf("ENGINE_MAX_EVAL_DEPTH must be positive, got %d", config.Engine.MaxEvalDepth)
	}
	switch config.Engine.ValidationMode {
	case "strict", "permissive":
	default:
		return nil, fmt.Errorf("ENGINE_VALIDATION_MODE must be strict or permissive, got %q", config.Engine.ValidationMode)
	}

	return config, nil
}
