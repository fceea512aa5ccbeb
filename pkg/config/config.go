// Package config defines the validated parameter set of the txguard pipeline.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is matched by every ConfigError via errors.Is.
var ErrInvalidConfig = errors.New("invalid config")

// ConfigError reports a single parameter outside its accepted range.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) hold for any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Config holds simulation and detection parameters.
type Config struct {
	// Seed drives every random draw of the generator and the model.
	Seed int64 `json:"seed" yaml:"seed"`

	// Generation
	TxPerSecond             int       `json:"tx_per_second" yaml:"tx_per_second"`
	NumSenders              int       `json:"num_senders" yaml:"num_senders"`
	NumReceivers            int       `json:"num_receivers" yaml:"num_receivers"`
	BurstProb               float64   `json:"burst_prob" yaml:"burst_prob"`
	BurstFactor             int       `json:"burst_factor" yaml:"burst_factor"`
	AnomalyProb             float64   `json:"anomaly_prob" yaml:"anomaly_prob"`
	CounterpartyAffinity    float64   `json:"counterparty_affinity" yaml:"counterparty_affinity"`
	CounterpartiesPerSender int       `json:"counterparties_per_sender" yaml:"counterparties_per_sender"`
	StartTime               time.Time `json:"start_time" yaml:"start_time"`

	// Window. Zero disables a bound; at least one must be set.
	WindowSize    int     `json:"window_size" yaml:"window_size"`
	WindowSeconds float64 `json:"window_seconds" yaml:"window_seconds"`

	// Aggregation and alerting
	NumBins                   int     `json:"num_bins" yaml:"num_bins"`
	Threshold                 float64 `json:"threshold" yaml:"threshold"`
	RetainAlertsAfterEviction bool    `json:"retain_alerts_after_eviction" yaml:"retain_alerts_after_eviction"`

	// Model
	RetrainEveryN      int     `json:"retrain_every_n" yaml:"retrain_every_n"`
	MinTrainSamples    int     `json:"min_train_samples" yaml:"min_train_samples"`
	NumTrees           int     `json:"num_trees" yaml:"num_trees"`
	SampleSize         int     `json:"sample_size" yaml:"sample_size"`
	ScoreGain          float64 `json:"score_gain" yaml:"score_gain"`
	SynchronousHandoff bool    `json:"synchronous_handoff" yaml:"synchronous_handoff"`
}

// Default returns the parameters the dashboard starts with.
func Default() Config {
	return Config{
		Seed:                    42,
		TxPerSecond:             10,
		NumSenders:              50,
		NumReceivers:            50,
		BurstProb:               0.05,
		BurstFactor:             5,
		AnomalyProb:             0.02,
		CounterpartyAffinity:    0.9,
		CounterpartiesPerSender: 3,
		StartTime:               time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC),
		WindowSeconds:           60,
		NumBins:                 50,
		Threshold:               0.75,
		RetrainEveryN:           200,
		MinTrainSamples:         32,
		NumTrees:                100,
		SampleSize:              256,
		ScoreGain:               1.5,
		SynchronousHandoff:      true,
	}
}

// WindowAge returns the time bound of the sliding window, zero when unbounded.
func (c Config) WindowAge() time.Duration {
	return time.Duration(c.WindowSeconds * float64(time.Second))
}

// EffectiveMinTrainSamples is the sample count a retrain needs. It never
// exceeds retrain_every_n or the window's count bound, so the first cadence
// trigger always finds enough vectors in a count-bounded window.
func (c Config) EffectiveMinTrainSamples() int {
	n := min(c.MinTrainSamples, c.RetrainEveryN)
	if c.WindowSize > 0 {
		n = min(n, c.WindowSize)
	}
	return max(n, 1)
}

// Validate checks every parameter and returns all violations joined.
func (c Config) Validate() error {
	return errors.Join(
		c.ValidateGeneration(),
		c.validateWindow(),
		c.validateDetection(),
	)
}

// ValidateGeneration checks only the parameters the transaction generator reads.
func (c Config) ValidateGeneration() error {
	var errs []error
	if c.TxPerSecond <= 0 {
		errs = append(errs, invalid("tx_per_second", c.TxPerSecond, "must be > 0"))
	}
	if c.NumSenders < 1 {
		errs = append(errs, invalid("num_senders", c.NumSenders, "must be >= 1"))
	}
	if c.NumReceivers < 1 {
		errs = append(errs, invalid("num_receivers", c.NumReceivers, "must be >= 1"))
	}
	errs = append(errs,
		probability("burst_prob", c.BurstProb),
		probability("anomaly_prob", c.AnomalyProb),
		probability("counterparty_affinity", c.CounterpartyAffinity),
	)
	if c.BurstFactor < 1 {
		errs = append(errs, invalid("burst_factor", c.BurstFactor, "must be >= 1"))
	}
	if c.CounterpartiesPerSender < 1 {
		errs = append(errs, invalid("counterparties_per_sender", c.CounterpartiesPerSender, "must be >= 1"))
	}
	return errors.Join(errs...)
}

func (c Config) validateWindow() error {
	var errs []error
	if c.WindowSize < 0 {
		errs = append(errs, invalid("window_size", c.WindowSize, "must be >= 0"))
	}
	if c.WindowSeconds < 0 || math.IsNaN(c.WindowSeconds) || math.IsInf(c.WindowSeconds, 0) {
		errs = append(errs, invalid("window_seconds", c.WindowSeconds, "must be a finite value >= 0"))
	}
	if c.WindowSize == 0 && c.WindowSeconds == 0 {
		errs = append(errs, invalid("window_size", c.WindowSize, "window_size or window_seconds must bound the window"))
	}
	if c.NumBins < 1 {
		errs = append(errs, invalid("num_bins", c.NumBins, "must be >= 1"))
	}
	return errors.Join(errs...)
}

func (c Config) validateDetection() error {
	var errs []error
	if err := ValidateThreshold(c.Threshold); err != nil {
		errs = append(errs, err)
	}
	if c.RetrainEveryN < 1 {
		errs = append(errs, invalid("retrain_every_n", c.RetrainEveryN, "must be >= 1"))
	}
	if c.MinTrainSamples < 2 {
		errs = append(errs, invalid("min_train_samples", c.MinTrainSamples, "must be >= 2"))
	}
	if c.NumTrees < 1 {
		errs = append(errs, invalid("num_trees", c.NumTrees, "must be >= 1"))
	}
	if c.SampleSize < 2 {
		errs = append(errs, invalid("sample_size", c.SampleSize, "must be >= 2"))
	}
	if !(c.ScoreGain > 0) || math.IsInf(c.ScoreGain, 0) {
		errs = append(errs, invalid("score_gain", c.ScoreGain, "must be a finite value > 0"))
	}
	return errors.Join(errs...)
}

// ValidateThreshold checks an alert threshold, which may change at runtime.
func ValidateThreshold(v float64) error {
	return probability("threshold", v)
}

func probability(field string, v float64) error {
	if v >= 0 && v <= 1 {
		return nil
	}
	return invalid(field, v, "must be within [0, 1]")
}

func invalid(field string, value any, reason string) error {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}
