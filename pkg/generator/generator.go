// Package generator synthesizes a reproducible stream of payment transactions.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hed1ad/txguard/pkg/config"
	"github.com/hed1ad/txguard/pkg/transaction"
)

const (
	// baselineAmount is the median amount of a normal transaction.
	baselineAmount = 50.0
	baselineSigma  = 0.6

	// Anomalous amounts sit roughly e^2.5 (about 12x) above the baseline median.
	anomalyShift = 2.5
	anomalySigma = 0.5

	// counterpartyStride spreads habitual receiver sets across the population.
	counterpartyStride = 7

	tickLength = time.Second

	// pcgStream is the fixed second word of the PCG state.
	pcgStream = 0x7478677561726400
)

// MaxCount bounds the transactions a single tick may produce, bursts included.
const MaxCount = 100_000

var (
	// ErrNegativeCount is returned when a tick asks for fewer than zero transactions.
	ErrNegativeCount = errors.New("transaction count must be >= 0")

	// ErrCountTooLarge is returned when a tick asks for more than MaxCount transactions.
	ErrCountTooLarge = errors.New("transaction count exceeds per-tick limit")
)

// CheckCount reports whether count is an acceptable tick size.
func CheckCount(count int) error {
	switch {
	case count < 0:
		return fmt.Errorf("%w: got %d", ErrNegativeCount, count)
	case count > MaxCount:
		return fmt.Errorf("%w: got %d, limit %d", ErrCountTooLarge, count, MaxCount)
	}
	return nil
}

// Stats summarizes what the generator produced since construction or Reset.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Generated uint64 `json:"generated"`
	Anomalies uint64 `json:"synthetic_anomalies"`
	Bursts    uint64 `json:"bursts"`
}

// Generator produces transactions tick by tick. Output is a pure function of
// the config and the sequence of Generate calls.
type Generator struct {
	cfg config.Config

	src    *rand.PCG
	rng    *rand.Rand
	normal distuv.LogNormal
	shaped distuv.LogNormal

	nextID uint64
	stats  Stats
}

// New validates the generation parameters and returns a seeded generator.
func New(cfg config.Config) (*Generator, error) {
	if err := cfg.ValidateGeneration(); err != nil {
		return nil, err
	}
	g := &Generator{cfg: cfg}
	g.Reset()
	return g, nil
}

// Reset reseeds the generator and restarts ids and the simulated clock.
func (g *Generator) Reset() {
	g.src = rand.NewPCG(uint64(g.cfg.Seed), pcgStream)
	g.rng = rand.New(g.src)
	g.normal = distuv.LogNormal{Mu: math.Log(baselineAmount), Sigma: baselineSigma, Src: g.src}
	g.shaped = distuv.LogNormal{Mu: math.Log(baselineAmount) + anomalyShift, Sigma: anomalySigma, Src: g.src}
	g.nextID = 1
	g.stats = Stats{}
}

// Stats returns generation counters.
func (g *Generator) Stats() Stats {
	return g.stats
}

// Generate produces one tick worth of transactions. With probability
// burst_prob the tick's volume is multiplied by burst_factor, capped at
// MaxCount. A rejected count leaves the generator untouched.
func (g *Generator) Generate(count int) (transaction.Batch, error) {
	if err := CheckCount(count); err != nil {
		return transaction.Batch{}, err
	}

	tick := g.stats.Ticks
	g.stats.Ticks++

	batch := transaction.Batch{Tick: tick}
	if g.rng.Float64() < g.cfg.BurstProb {
		batch.Burst = true
		g.stats.Bursts++
		if count > MaxCount/g.cfg.BurstFactor {
			count = MaxCount
		} else {
			count *= g.cfg.BurstFactor
		}
	}
	if count == 0 {
		return batch, nil
	}

	start := g.cfg.StartTime.Add(time.Duration(tick) * tickLength)
	offsets := make([]time.Duration, count)
	batch.Transactions = make([]transaction.Transaction, count)

	for i := range batch.Transactions {
		batch.Transactions[i] = g.draw()
		offsets[i] = time.Duration(g.rng.Int64N(int64(tickLength)))
	}
	slices.Sort(offsets)

	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		tx.ID = g.nextID
		tx.Reference = reference(g.cfg.Seed, tx.ID)
		tx.Timestamp = start.Add(offsets[i])
		g.nextID++
	}

	g.stats.Generated += uint64(count)
	return batch, nil
}

// draw fills every attribute except identity and timestamp.
func (g *Generator) draw() transaction.Transaction {
	sender := g.rng.IntN(g.cfg.NumSenders)

	if g.rng.Float64() < g.cfg.AnomalyProb {
		g.stats.Anomalies++
		return transaction.Transaction{
			SenderID:           sender,
			ReceiverID:         g.atypicalReceiver(sender),
			Amount:             roundAmount(g.shaped.Rand()),
			IsSyntheticAnomaly: true,
		}
	}

	return transaction.Transaction{
		SenderID:   sender,
		ReceiverID: g.usualReceiver(sender),
		Amount:     roundAmount(g.normal.Rand()),
	}
}

// habitual returns the first receiver and the size of a sender's habitual set.
func (g *Generator) habitual(sender int) (base, size int) {
	size = min(g.cfg.CounterpartiesPerSender, g.cfg.NumReceivers)
	return (sender * counterpartyStride) % g.cfg.NumReceivers, size
}

func (g *Generator) usualReceiver(sender int) int {
	if g.rng.Float64() >= g.cfg.CounterpartyAffinity {
		return g.rng.IntN(g.cfg.NumReceivers)
	}
	base, size := g.habitual(sender)
	return (base + g.rng.IntN(size)) % g.cfg.NumReceivers
}

// atypicalReceiver picks uniformly outside the habitual set when one exists.
func (g *Generator) atypicalReceiver(sender int) int {
	base, size := g.habitual(sender)
	rest := g.cfg.NumReceivers - size
	if rest <= 0 {
		return g.rng.IntN(g.cfg.NumReceivers)
	}
	return (base + size + g.rng.IntN(rest)) % g.cfg.NumReceivers
}

// Habitual reports whether receiver belongs to the sender's usual counterparties.
func (g *Generator) Habitual(sender, receiver int) bool {
	base, size := g.habitual(sender)
	d := (receiver - base + g.cfg.NumReceivers) % g.cfg.NumReceivers
	return d < size
}

func roundAmount(v float64) float64 {
	return max(math.Round(v*100)/100, 0.01)
}

func reference(seed int64, id uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "txguard://%d/%d", seed, id)).String()
}
