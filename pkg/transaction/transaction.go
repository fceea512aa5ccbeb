// Package transaction defines the scored transaction record shared by the pipeline.
package transaction

import (
	"fmt"
	"time"
)

// Transaction is a synthetic payment. Values are treated as immutable once
// created: pipeline stages derive new copies instead of mutating in place.
type Transaction struct {
	ID         uint64    `json:"id"`
	Reference  string    `json:"reference"`
	Timestamp  time.Time `json:"timestamp"`
	SenderID   int       `json:"sender_id"`
	ReceiverID int       `json:"receiver_id"`
	Amount     float64   `json:"amount"`

	// IsSyntheticAnomaly is the generator's ground truth. It feeds generation
	// statistics only and is never read by feature extraction or scoring.
	IsSyntheticAnomaly bool `json:"is_synthetic_anomaly"`

	Features []float64 `json:"feature_vector,omitempty"`
	Score    float64   `json:"score"`

	// IsAlert is derived from Score and the threshold in effect when the
	// snapshot holding this copy was built.
	IsAlert bool `json:"is_alert"`
}

// Sender returns the display label of the sending account.
func (t Transaction) Sender() string {
	return fmt.Sprintf("S%04d", t.SenderID)
}

// Receiver returns the display label of the receiving account.
func (t Transaction) Receiver() string {
	return fmt.Sprintf("R%04d", t.ReceiverID)
}

// Scored returns a copy carrying the feature vector and score.
func (t Transaction) Scored(features []float64, score float64) Transaction {
	out := t
	out.Features = append([]float64(nil), features...)
	out.Score = score
	return out
}

// Clone returns a deep copy.
func (t Transaction) Clone() Transaction {
	out := t
	if t.Features != nil {
		out.Features = append([]float64(nil), t.Features...)
	}
	return out
}

// CloneAll deep-copies a sequence of transactions.
func CloneAll(txs []Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		out[i] = tx.Clone()
	}
	return out
}

// Batch is the output of one generation tick.
type Batch struct {
	Tick         uint64        `json:"tick"`
	Burst        bool          `json:"burst"`
	Transactions []Transaction `json:"transactions"`
}
