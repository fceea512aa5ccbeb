// Package window implements the bounded sliding window of scored transactions.
package window

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hed1ad/txguard/pkg/transaction"
)

// compactAfter is the minimum number of dead slots before the backing slice is compacted.
const compactAfter = 1024

// ErrDuplicateID is returned when a transaction id is already in the window.
var ErrDuplicateID = errors.New("transaction id already in window")

// ErrUnbounded is returned by New when the policy sets no bound.
var ErrUnbounded = errors.New("window policy needs a count or age bound")

// Policy bounds the window. A zero field disables that bound.
type Policy struct {
	MaxCount int
	MaxAge   time.Duration
}

type pair struct{ sender, receiver int }

type seen struct {
	id uint64
	at time.Time
}

// Store holds transactions in arrival order and evicts from the front. It
// also keeps counters over the committed window that feature extraction
// reads. Store is not safe for concurrent use.
type Store struct {
	policy Policy

	items  []transaction.Transaction
	head   int
	newest time.Time

	ids       map[uint64]struct{}
	senders   map[int]int
	receivers map[int]int
	pairs     map[pair]int
	lastSeen  map[int]seen

	// sums of log1p(amount) over the window
	sum, sumSq float64

	evicted uint64
}

// New creates an empty store.
func New(policy Policy) (*Store, error) {
	if policy.MaxCount < 0 || policy.MaxAge < 0 {
		return nil, fmt.Errorf("window policy bounds must be >= 0: %+v", policy)
	}
	if policy.MaxCount == 0 && policy.MaxAge == 0 {
		return nil, ErrUnbounded
	}
	s := &Store{policy: policy}
	s.Reset()
	return s, nil
}

// Reset empties the window.
func (s *Store) Reset() {
	s.items = nil
	s.head = 0
	s.newest = time.Time{}
	s.ids = make(map[uint64]struct{})
	s.senders = make(map[int]int)
	s.receivers = make(map[int]int)
	s.pairs = make(map[pair]int)
	s.lastSeen = make(map[int]seen)
	s.sum, s.sumSq = 0, 0
	s.evicted = 0
}

// Insert appends tx and enforces the bound.
func (s *Store) Insert(tx transaction.Transaction) error {
	if _, dup := s.ids[tx.ID]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicateID, tx.ID)
	}

	tx = tx.Clone()
	s.items = append(s.items, tx)
	s.ids[tx.ID] = struct{}{}
	s.senders[tx.SenderID]++
	s.receivers[tx.ReceiverID]++
	s.pairs[pair{tx.SenderID, tx.ReceiverID}]++
	s.lastSeen[tx.SenderID] = seen{id: tx.ID, at: tx.Timestamp}

	x := math.Log1p(tx.Amount)
	s.sum += x
	s.sumSq += x * x

	if tx.Timestamp.After(s.newest) {
		s.newest = tx.Timestamp
	}

	s.EvictExpired()
	return nil
}

// EvictExpired removes entries from the front while the bound is violated
// and returns how many were removed. Age is measured against the newest
// timestamp in the window, so out-of-order arrivals behind the front wait
// until they reach it.
func (s *Store) EvictExpired() int {
	removed := 0
	for s.Len() > 0 && s.violated() {
		s.removeFront()
		removed++
	}
	if removed > 0 {
		s.compact()
	}
	return removed
}

func (s *Store) violated() bool {
	if s.policy.MaxCount > 0 && s.Len() > s.policy.MaxCount {
		return true
	}
	if s.policy.MaxAge > 0 {
		horizon := s.newest.Add(-s.policy.MaxAge)
		return s.items[s.head].Timestamp.Before(horizon)
	}
	return false
}

func (s *Store) removeFront() {
	tx := s.items[s.head]
	s.items[s.head] = transaction.Transaction{}
	s.head++
	s.evicted++

	delete(s.ids, tx.ID)
	decrement(s.senders, tx.SenderID)
	decrement(s.receivers, tx.ReceiverID)
	decrement(s.pairs, pair{tx.SenderID, tx.ReceiverID})
	if last, ok := s.lastSeen[tx.SenderID]; ok && last.id == tx.ID {
		delete(s.lastSeen, tx.SenderID)
	}

	x := math.Log1p(tx.Amount)
	s.sum -= x
	s.sumSq -= x * x
	if s.Len() == 0 {
		s.sum, s.sumSq = 0, 0
	}
}

func decrement[K comparable](m map[K]int, k K) {
	if m[k] <= 1 {
		delete(m, k)
		return
	}
	m[k]--
}

// compact drops dead slots and recomputes the amount sums to shed drift.
func (s *Store) compact() {
	if s.head < compactAfter || s.head*2 < len(s.items) {
		return
	}
	live := make([]transaction.Transaction, len(s.items)-s.head, cap(s.items)-s.head)
	copy(live, s.items[s.head:])
	s.items = live
	s.head = 0

	s.sum, s.sumSq = 0, 0
	for _, tx := range s.items {
		x := math.Log1p(tx.Amount)
		s.sum += x
		s.sumSq += x * x
	}
}

// Len returns the number of transactions in the window.
func (s *Store) Len() int {
	return len(s.items) - s.head
}

// Evicted returns how many transactions left the window since Reset.
func (s *Store) Evicted() uint64 {
	return s.evicted
}

// Contains reports whether a transaction id is in the window.
func (s *Store) Contains(id uint64) bool {
	_, ok := s.ids[id]
	return ok
}

// Snapshot returns a deep copy of the window in arrival order.
func (s *Store) Snapshot() []transaction.Transaction {
	return transaction.CloneAll(s.items[s.head:])
}

// Vectors returns copies of the window's feature vectors, skipping unscored entries.
func (s *Store) Vectors() [][]float64 {
	out := make([][]float64, 0, s.Len())
	for _, tx := range s.items[s.head:] {
		if len(tx.Features) == 0 {
			continue
		}
		out = append(out, append([]float64(nil), tx.Features...))
	}
	return out
}

// SenderCount returns how many window transactions the sender issued.
func (s *Store) SenderCount(id int) int { return s.senders[id] }

// ReceiverCount returns how many window transactions the receiver got.
func (s *Store) ReceiverCount(id int) int { return s.receivers[id] }

// PairCount returns how many window transactions went from sender to receiver.
func (s *Store) PairCount(sender, receiver int) int {
	return s.pairs[pair{sender, receiver}]
}

// LastSeen returns the timestamp of the sender's latest window transaction.
func (s *Store) LastSeen(sender int) (time.Time, bool) {
	last, ok := s.lastSeen[sender]
	return last.at, ok
}

// AmountMoments returns mean and population standard deviation of
// log1p(amount) across the window.
func (s *Store) AmountMoments() (mean, std float64) {
	n := float64(s.Len())
	if n == 0 {
		return 0, 0
	}
	mean = s.sum / n
	variance := s.sumSq/n - mean*mean
	if variance <= 0 {
		return mean, 0
	}
	return mean, math.Sqrt(variance)
}
