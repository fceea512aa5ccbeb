package engine

import (
	"slices"

	"github.com/hed1ad/txguard/pkg/aggregate"
	"github.com/hed1ad/txguard/pkg/alerts"
	"github.com/hed1ad/txguard/pkg/generator"
	"github.com/hed1ad/txguard/pkg/scorer"
	"github.com/hed1ad/txguard/pkg/transaction"
)

// Snapshot is the state of the pipeline after a completed tick. Values
// returned by Engine.Snapshot are copies and may be modified freely.
type Snapshot struct {
	Tick      uint64  `json:"tick"`
	Burst     bool    `json:"burst"`
	Arrived   int     `json:"arrived"`
	Threshold float64 `json:"threshold"`

	Window         []transaction.Transaction `json:"window"`
	Bins           []aggregate.Bin           `json:"bins"`
	Alerts         []alerts.Alert            `json:"alerts"`
	RetainedAlerts []alerts.Alert            `json:"retained_alerts,omitempty"`

	TotalProcessed   uint64 `json:"total_processed_count"`
	CumulativeAlerts int    `json:"cumulative_alert_count"`
	Evicted          uint64 `json:"evicted"`

	ModelState scorer.State      `json:"model_state"`
	Model      scorer.Stats      `json:"model"`
	Summary    aggregate.Summary `json:"summary"`
	Generated  generator.Stats   `json:"generated"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Window = transaction.CloneAll(s.Window)
	out.Bins = slices.Clone(s.Bins)
	out.Alerts = cloneAlerts(s.Alerts)
	out.RetainedAlerts = cloneAlerts(s.RetainedAlerts)
	return out
}

func cloneAlerts(in []alerts.Alert) []alerts.Alert {
	if in == nil {
		return nil
	}
	out := make([]alerts.Alert, len(in))
	for i, a := range in {
		out[i] = alerts.Alert{Transaction: a.Transaction.Clone(), Threshold: a.Threshold}
	}
	return out
}
