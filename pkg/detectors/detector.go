// Package detectors provides unsupervised outlier models behind a common interface.
package detectors

import "errors"

var (
	// ErrNotTrained is returned when scoring with a model that was never fit.
	ErrNotTrained = errors.New("model not trained")

	// ErrNoData is returned when fitting on an empty sample set.
	ErrNoData = errors.New("empty training data")

	// ErrDimension is returned when a sample does not match the training width.
	ErrDimension = errors.New("sample dimension mismatch")
)

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Predict returns raw anomaly scores for the given samples.
	// Higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the raw anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)
}

// Exporter is implemented by detectors whose fitted state can be serialized.
type Exporter interface {
	Save() ([]byte, error)
	Load(data []byte) error
}

// Factory builds an untrained detector. seed is unique per training run so
// repeated retrains stay reproducible.
type Factory func(seed int64) Detector

// PredictAll scores samples one by one through PredictOne.
func PredictAll(d Detector, data [][]float64) ([]float64, error) {
	scores := make([]float64, len(data))
	for i, sample := range data {
		s, err := d.PredictOne(sample)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}
	return scores, nil
}
