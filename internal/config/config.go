// Package config provides configuration management for Engram.
// It loads settings from environment variables with the ENGRAM_ prefix
// and provides sensible defaults for all configuration options.
//
// An optional YAML file can overlay the environment-derived values: set
// ENGRAM_CONFIG to the file path and any field present in the file takes
// precedence. Invalid overrides are logged and the defaults kept.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Engram engine.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Features   FeaturesConfig   `yaml:"features"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Attention  AttentionConfig  `yaml:"attention"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Path is the SQLite database path (default: ./data/engram.db).
	Path string `yaml:"path"`
}

// FeaturesConfig contains feature flags.
type FeaturesConfig struct {
	// Corrections enables the correction ledger and causal edges (default: true).
	Corrections bool `yaml:"corrections"`
	// CoActivation enables spreading activation on memory touch (default: true).
	CoActivation bool `yaml:"co_activation"`
	// SessionCapacity caps concurrently tracked working-memory entries
	// per session (default: 7).
	SessionCapacity int `yaml:"session_capacity"`
}

// ScoringConfig contains ranking weights and fusion parameters.
type ScoringConfig struct {
	// Weights are the composite scorer factor weights. Zero value means
	// "use defaults"; invalid weights also fall back to defaults.
	Weights WeightsConfig `yaml:"weights"`
	// RRFK is the reciprocal rank fusion constant (default: 60).
	RRFK int `yaml:"rrf_k"`
	// RRFLimit caps fused result lists (default: 10).
	RRFLimit int `yaml:"rrf_limit"`
}

// WeightsConfig mirrors the scorer factor weights for YAML overlay.
type WeightsConfig struct {
	Similarity float64 `yaml:"similarity"`
	Importance float64 `yaml:"importance"`
	Recency    float64 `yaml:"recency"`
	Popularity float64 `yaml:"popularity"`
	TierBoost  float64 `yaml:"tier_boost"`
}

// IsZero reports whether no weight field was set at all.
func (w WeightsConfig) IsZero() bool {
	return w.Similarity == 0 && w.Importance == 0 && w.Recency == 0 &&
		w.Popularity == 0 && w.TierBoost == 0
}

// AttentionConfig contains working-memory decay and spreading parameters.
type AttentionConfig struct {
	// DefaultDecayRate is the per-turn attention decay for tiers without
	// an explicit rate (default: 0.80).
	DefaultDecayRate float64 `yaml:"default_decay_rate"`
	// BoostIncrement is the attention boost applied to co-activated
	// related memories (default: 0.35).
	BoostIncrement float64 `yaml:"boost_increment"`
	// MaxRelated caps how many related memories one activation can
	// spread to (default: 5).
	MaxRelated int `yaml:"max_related"`
}

// ClassifierConfig contains attention tier thresholds.
type ClassifierConfig struct {
	// HotThreshold is the minimum score for the HOT tier (default: 0.8).
	HotThreshold float64 `yaml:"hot_threshold"`
	// WarmThreshold is the minimum score for the WARM tier (default: 0.25).
	WarmThreshold float64 `yaml:"warm_threshold"`
}

// LoadConfig loads configuration from environment variables with sensible
// defaults, then overlays the YAML file named by ENGRAM_CONFIG when set.
// All environment variables use the ENGRAM_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()

	if path := os.Getenv("ENGRAM_CONFIG"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.validate()
	return cfg, nil
}

func buildBaseConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path: getEnv("ENGRAM_DB_PATH", "./data/engram.db"),
		},
		Features: FeaturesConfig{
			Corrections:     getEnvBool("ENGRAM_ENABLE_CORRECTIONS", true),
			CoActivation:    getEnvBool("ENGRAM_ENABLE_COACTIVATION", true),
			SessionCapacity: getEnvInt("ENGRAM_SESSION_CAPACITY", 7),
		},
		Scoring: ScoringConfig{
			RRFK:     getEnvInt("ENGRAM_RRF_K", 60),
			RRFLimit: getEnvInt("ENGRAM_RRF_LIMIT", 10),
		},
		Attention: AttentionConfig{
			DefaultDecayRate: getEnvFloat("ENGRAM_DEFAULT_DECAY_RATE", 0.80),
			BoostIncrement:   getEnvFloat("ENGRAM_BOOST_INCREMENT", 0.35),
			MaxRelated:       getEnvInt("ENGRAM_MAX_RELATED", 5),
		},
		Classifier: ClassifierConfig{
			HotThreshold:  getEnvFloat("ENGRAM_HOT_THRESHOLD", 0.8),
			WarmThreshold: getEnvFloat("ENGRAM_WARM_THRESHOLD", 0.25),
		},
	}
}

// overlayFile merges settings from a YAML file into cfg. Fields absent from
// the file keep their current values.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// validate repairs out-of-range values in place, logging each fallback.
func (c *Config) validate() {
	if c.Features.SessionCapacity < 1 {
		log.Printf("config: invalid session_capacity %d, using 7", c.Features.SessionCapacity)
		c.Features.SessionCapacity = 7
	}
	if c.Scoring.RRFK < 1 {
		log.Printf("config: invalid rrf_k %d, using 60", c.Scoring.RRFK)
		c.Scoring.RRFK = 60
	}
	if c.Scoring.RRFLimit < 1 {
		log.Printf("config: invalid rrf_limit %d, using 10", c.Scoring.RRFLimit)
		c.Scoring.RRFLimit = 10
	}
	if c.Attention.DefaultDecayRate <= 0 || c.Attention.DefaultDecayRate > 1 {
		log.Printf("config: invalid default_decay_rate %v, using 0.80", c.Attention.DefaultDecayRate)
		c.Attention.DefaultDecayRate = 0.80
	}
	if c.Attention.BoostIncrement <= 0 || c.Attention.BoostIncrement > 1 {
		log.Printf("config: invalid boost_increment %v, using 0.35", c.Attention.BoostIncrement)
		c.Attention.BoostIncrement = 0.35
	}
	if c.Attention.MaxRelated < 0 {
		log.Printf("config: invalid max_related %d, using 5", c.Attention.MaxRelated)
		c.Attention.MaxRelated = 5
	}
	if c.Classifier.HotThreshold <= 0 || c.Classifier.HotThreshold > 1 ||
		c.Classifier.WarmThreshold <= 0 || c.Classifier.WarmThreshold >= c.Classifier.HotThreshold {
		log.Printf("config: invalid classifier thresholds hot=%v warm=%v, using 0.8/0.25",
			c.Classifier.HotThreshold, c.Classifier.WarmThreshold)
		c.Classifier.HotThreshold = 0.8
		c.Classifier.WarmThreshold = 0.25
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
