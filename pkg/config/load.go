package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TXGUARD_THRESHOLD.
const EnvPrefix = "TXGUARD_"

// Load reads a JSON or YAML file on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := FromEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// FromEnv loads .env files (if present) and applies TXGUARD_* variables to cfg.
// Variables already set in the process environment win over .env entries.
func FromEnv(cfg *Config, files ...string) error {
	_ = godotenv.Load(files...)

	ints := map[string]*int{
		"TX_PER_SECOND":   &cfg.TxPerSecond,
		"NUM_SENDERS":     &cfg.NumSenders,
		"NUM_RECEIVERS":   &cfg.NumReceivers,
		"BURST_FACTOR":    &cfg.BurstFactor,
		"WINDOW_SIZE":     &cfg.WindowSize,
		"NUM_BINS":        &cfg.NumBins,
		"RETRAIN_EVERY_N": &cfg.RetrainEveryN,
		"NUM_TREES":       &cfg.NumTrees,
	}
	for key, dst := range ints {
		if err := envInt(key, dst); err != nil {
			return err
		}
	}

	floats := map[string]*float64{
		"BURST_PROB":     &cfg.BurstProb,
		"ANOMALY_PROB":   &cfg.AnomalyProb,
		"WINDOW_SECONDS": &cfg.WindowSeconds,
		"THRESHOLD":      &cfg.Threshold,
		"SCORE_GAIN":     &cfg.ScoreGain,
	}
	for key, dst := range floats {
		if err := envFloat(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("SEED"); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return invalid("seed", v, "not an integer")
		}
		cfg.Seed = seed
	}
	for key, dst := range map[string]*bool{
		"RETAIN_ALERTS_AFTER_EVICTION": &cfg.RetainAlertsAfterEviction,
		"SYNCHRONOUS_HANDOFF":          &cfg.SynchronousHandoff,
	} {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return invalid(strings.ToLower(key), v, "not a boolean")
			}
			*dst = b
		}
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return invalid(strings.ToLower(key), v, "not an integer")
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return invalid(strings.ToLower(key), v, "not a number")
	}
	*dst = f
	return nil
}
