// Package features maps transactions to fixed-length numeric vectors.
package features

import (
	"math"
	"time"

	"github.com/hed1ad/txguard/pkg/transaction"
)

// Feature indices into the extracted vector.
const (
	AmountZ = iota
	SenderFreq
	ReceiverFreq
	PairShare
	HourSin
	HourCos
	SenderRecency

	// Dim is the length of every feature vector.
	Dim
)

var names = [Dim]string{
	AmountZ:       "amount_z",
	SenderFreq:    "sender_freq",
	ReceiverFreq:  "receiver_freq",
	PairShare:     "pair_share",
	HourSin:       "hour_sin",
	HourCos:       "hour_cos",
	SenderRecency: "sender_recency",
}

// recencyCap saturates the recency feature; unseen senders sit at the cap.
const recencyCap = 24 * time.Hour

// History is the committed window state a feature may read.
type History interface {
	Len() int
	SenderCount(sender int) int
	ReceiverCount(receiver int) int
	PairCount(sender, receiver int) int
	LastSeen(sender int) (time.Time, bool)
	// AmountMoments returns mean and standard deviation of log1p(amount).
	AmountMoments() (mean, std float64)
}

// Extractor is stateless; the zero value is ready to use.
type Extractor struct{}

// FeatureNames returns the names of extracted features in vector order.
func (Extractor) FeatureNames() []string {
	return append([]string(nil), names[:]...)
}

// Extract builds the feature vector of tx against committed history h.
// The synthetic anomaly label is never read.
func (Extractor) Extract(tx transaction.Transaction, h History) []float64 {
	vec := make([]float64, Dim)

	n := h.Len()
	if n > 0 {
		total := float64(n)
		vec[SenderFreq] = float64(h.SenderCount(tx.SenderID)) / total
		vec[ReceiverFreq] = float64(h.ReceiverCount(tx.ReceiverID)) / total
		if sent := h.SenderCount(tx.SenderID); sent > 0 {
			vec[PairShare] = float64(h.PairCount(tx.SenderID, tx.ReceiverID)) / float64(sent)
		}
		if mean, std := h.AmountMoments(); std > 0 {
			vec[AmountZ] = (math.Log1p(tx.Amount) - mean) / std
		}
	}

	ts := tx.Timestamp.UTC()
	hour := float64(ts.Hour()) + float64(ts.Minute())/60 + float64(ts.Second())/3600
	angle := 2 * math.Pi * hour / 24
	vec[HourSin] = math.Sin(angle)
	vec[HourCos] = math.Cos(angle)

	vec[SenderRecency] = 1
	if last, ok := h.LastSeen(tx.SenderID); ok {
		gap := min(max(tx.Timestamp.Sub(last), 0), recencyCap)
		vec[SenderRecency] = math.Log1p(gap.Seconds()) / math.Log1p(recencyCap.Seconds())
	}

	return vec
}
