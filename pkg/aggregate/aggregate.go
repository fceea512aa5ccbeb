// Package aggregate reduces a window of scored transactions into a fixed
// resolution score histogram and a handful of dashboard metrics.
package aggregate

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/txguard/pkg/transaction"
)

// Bin is one equal-width slice [Lower, Upper) of the score range. The last
// bin also holds scores equal to 1.
type Bin struct {
	Index      int     `json:"index"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Midpoint   float64 `json:"midpoint"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Alert      bool    `json:"alert"`
}

// Index returns the bin a score falls into.
func Index(score float64, numBins int) int {
	if numBins <= 1 || !(score > 0) {
		return 0
	}
	return min(int(math.Floor(score*float64(numBins))), numBins-1)
}

// Aggregate counts window scores into numBins bins. It is linear in the
// window size and does not modify the window. numBins below 1 is treated as 1.
func Aggregate(window []transaction.Transaction, numBins int) []Bin {
	numBins = max(numBins, 1)
	width := 1 / float64(numBins)

	bins := make([]Bin, numBins)
	for i := range bins {
		lower := float64(i) * width
		bins[i] = Bin{
			Index:    i,
			Lower:    lower,
			Upper:    lower + width,
			Midpoint: lower + width/2,
		}
	}
	bins[numBins-1].Upper = 1

	for _, tx := range window {
		bins[Index(tx.Score, numBins)].Count++
	}

	if total := len(window); total > 0 {
		for i := range bins {
			bins[i].Percentage = float64(bins[i].Count) / float64(total) * 100
		}
	}
	return bins
}

// MarkAlertBins flags the bins whose midpoint reaches threshold.
func MarkAlertBins(bins []Bin, threshold float64) {
	for i := range bins {
		bins[i].Alert = bins[i].Midpoint >= threshold
	}
}

// Status buckets the mean window score for display.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusElevated Status = "elevated"
	StatusHighRisk Status = "high_risk"
)

// StatusOf returns the risk bucket for a mean score.
func StatusOf(mean float64) Status {
	switch {
	case mean < 0.3:
		return StatusNormal
	case mean < 0.7:
		return StatusElevated
	default:
		return StatusHighRisk
	}
}

// Summary holds the dashboard metrics of a window.
type Summary struct {
	Count     int     `json:"count"`
	Alerts    int     `json:"alerts"`
	MeanScore float64 `json:"mean_score"`
	StdScore  float64 `json:"std_score"`
	Status    Status  `json:"status"`
}

// Summarize computes the dashboard metrics of a window at threshold.
func Summarize(window []transaction.Transaction, threshold float64) Summary {
	s := Summary{Count: len(window), Status: StatusNormal}
	if len(window) == 0 {
		return s
	}

	scores := make([]float64, len(window))
	for i, tx := range window {
		scores[i] = tx.Score
		if tx.Score >= threshold {
			s.Alerts++
		}
	}

	mean, std := stat.PopMeanStdDev(scores, nil)
	s.MeanScore = math.Round(mean*1000) / 1000
	s.StdScore = std
	s.Status = StatusOf(s.MeanScore)
	return s
}
