package scorer

import (
	"errors"
	"fmt"
)

// ErrNoModel is returned by Export when no fitted model is installed.
var ErrNoModel = errors.New("no fitted model")

// InsufficientDataError reports that too few samples were available to fit
// or to compute a fallback score. It never leaves the scorer: the caller
// gets the cold-start score instead.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d samples, need %d", e.Have, e.Need)
}

// StaleModelWarning reports a retrain request that was coalesced because an
// earlier retrain was still in flight. It is informational only.
type StaleModelWarning struct {
	InFlight uint64
}

func (w *StaleModelWarning) Error() string {
	return fmt.Sprintf("retrain #%d still in flight, request skipped", w.InFlight)
}
