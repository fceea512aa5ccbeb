// Package alerts classifies scored transactions against the alert threshold
// and keeps the audit trail of flagged transactions that left the window.
package alerts

import (
	"cmp"
	"slices"

	"github.com/hed1ad/txguard/pkg/transaction"
)

// Alert is a flagged transaction together with the threshold it was
// flagged at.
type Alert struct {
	Transaction transaction.Transaction `json:"transaction"`
	Threshold   float64                 `json:"threshold"`
}

// Evaluate returns, in window order, an alert for every transaction whose
// score meets threshold. It is pure: the result depends only on its inputs.
func Evaluate(window []transaction.Transaction, threshold float64) []Alert {
	out := make([]Alert, 0)
	for _, tx := range window {
		if tx.Score >= threshold {
			c := tx.Clone()
			c.IsAlert = true
			out = append(out, Alert{Transaction: c, Threshold: threshold})
		}
	}
	return out
}

// SortByScore orders alerts by descending score, ties by ascending id.
func SortByScore(a []Alert) {
	slices.SortStableFunc(a, func(x, y Alert) int {
		if c := cmp.Compare(y.Transaction.Score, x.Transaction.Score); c != 0 {
			return c
		}
		return cmp.Compare(x.Transaction.ID, y.Transaction.ID)
	})
}

// Tracker follows every transaction that has met the threshold in force at
// the time, whether at scoring time or after a threshold change. It counts
// them and, when retention is enabled, keeps their alerts after the window
// evicts them. Only Reset removes retained alerts. Not safe for concurrent use.
type Tracker struct {
	retain     bool
	live       map[uint64]Alert
	retained   []Alert
	cumulative int
}

// NewTracker creates an empty tracker.
func NewTracker(retain bool) *Tracker {
	return &Tracker{retain: retain, live: make(map[uint64]Alert)}
}

// Flag records tx if its score meets threshold and reports whether it did.
// A transaction already tracked keeps the threshold it was first flagged at.
func (t *Tracker) Flag(tx transaction.Transaction, threshold float64) bool {
	if tx.Score < threshold {
		return false
	}
	if _, seen := t.live[tx.ID]; seen {
		return true
	}
	t.cumulative++
	c := tx.Clone()
	c.IsAlert = true
	t.live[tx.ID] = Alert{Transaction: c, Threshold: threshold}
	return true
}

// Reconcile drops flagged transactions that are no longer in window,
// moving them to the retained list when retention is on.
func (t *Tracker) Reconcile(window []transaction.Transaction) {
	present := make(map[uint64]struct{}, len(window))
	for _, tx := range window {
		present[tx.ID] = struct{}{}
	}

	var gone []Alert
	for id, a := range t.live {
		if _, ok := present[id]; !ok {
			gone = append(gone, a)
			delete(t.live, id)
		}
	}
	if !t.retain || len(gone) == 0 {
		return
	}
	slices.SortFunc(gone, func(x, y Alert) int {
		return cmp.Compare(x.Transaction.ID, y.Transaction.ID)
	})
	t.retained = append(t.retained, gone...)
}

// Retained returns a copy of the alerts kept after eviction, oldest first.
func (t *Tracker) Retained() []Alert {
	out := make([]Alert, len(t.retained))
	for i, a := range t.retained {
		out[i] = Alert{Transaction: a.Transaction.Clone(), Threshold: a.Threshold}
	}
	return out
}

// Cumulative returns the number of distinct transactions flagged since the
// last reset.
func (t *Tracker) Cumulative() int {
	return t.cumulative
}

// Reset forgets every alert.
func (t *Tracker) Reset() {
	clear(t.live)
	t.retained = nil
	t.cumulative = 0
}
