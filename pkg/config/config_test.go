package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.NumBins)
	assert.Equal(t, 0.75, cfg.Threshold)
	assert.Equal(t, int64(42), cfg.Seed)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"zero rate", func(c *Config) { c.TxPerSecond = 0 }, "tx_per_second"},
		{"no senders", func(c *Config) { c.NumSenders = 0 }, "num_senders"},
		{"no receivers", func(c *Config) { c.NumReceivers = 0 }, "num_receivers"},
		{"burst prob above one", func(c *Config) { c.BurstProb = 1.2 }, "burst_prob"},
		{"negative anomaly prob", func(c *Config) { c.AnomalyProb = -0.1 }, "anomaly_prob"},
		{"nan anomaly prob", func(c *Config) { c.AnomalyProb = math.NaN() }, "anomaly_prob"},
		{"unbounded window", func(c *Config) { c.WindowSize, c.WindowSeconds = 0, 0 }, "window_size"},
		{"zero bins", func(c *Config) { c.NumBins = 0 }, "num_bins"},
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }, "threshold"},
		{"zero cadence", func(c *Config) { c.RetrainEveryN = 0 }, "retrain_every_n"},
		{"single training sample", func(c *Config) { c.MinTrainSamples = 1 }, "min_train_samples"},
		{"zero gain", func(c *Config) { c.ScoreGain = 0 }, "score_gain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantField, cerr.Field)
		})
	}
}

func TestEffectiveMinTrainSamples(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   int
	}{
		{"defaults", func(c *Config) {}, 32},
		{"short cadence", func(c *Config) { c.RetrainEveryN = 10 }, 10},
		{"small count bound", func(c *Config) { c.WindowSize = 20 }, 20},
		{"age bound only", func(c *Config) { c.WindowSize = 0 }, 32},
		{"single-slot window", func(c *Config) { c.WindowSize = 1 }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Equal(t, tt.want, cfg.EffectiveMinTrainSamples())
		})
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	cfg := Default()
	cfg.BurstProb = 2
	cfg.AnomalyProb = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "burst_prob")
	assert.Contains(t, err.Error(), "anomaly_prob")
}

func TestValidateGenerationIgnoresDetectionFields(t *testing.T) {
	cfg := Default()
	cfg.NumBins = 0
	assert.NoError(t, cfg.ValidateGeneration())
	assert.Error(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "sample_config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"seed": 7, "tx_per_second": 25, "anomaly_prob": 0.1}`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, int64(7), cfg.Seed)
		assert.Equal(t, 25, cfg.TxPerSecond)
		assert.Equal(t, 0.1, cfg.AnomalyProb)
		assert.Equal(t, 50, cfg.NumSenders, "unset fields keep defaults")
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("window_size: 100\nwindow_seconds: 0\nnum_bins: 10\n"), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.WindowSize)
		assert.Zero(t, cfg.WindowSeconds)
		assert.Equal(t, 10, cfg.NumBins)
	})

	t.Run("invalid values fail fast", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"burst_prob": 3}`), 0o600))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("unknown extension", func(t *testing.T) {
		path := filepath.Join(dir, "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("seed = 1"), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TXGUARD_THRESHOLD", "0.9")
	t.Setenv("TXGUARD_SEED", "99")
	t.Setenv("TXGUARD_WINDOW_SIZE", "500")
	t.Setenv("TXGUARD_RETAIN_ALERTS_AFTER_EVICTION", "true")

	cfg := Default()
	require.NoError(t, FromEnv(&cfg))
	assert.Equal(t, 0.9, cfg.Threshold)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 500, cfg.WindowSize)
	assert.True(t, cfg.RetainAlertsAfterEviction)

	t.Setenv("TXGUARD_NUM_BINS", "many")
	err := FromEnv(&cfg)
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "num_bins", cerr.Field)
}
