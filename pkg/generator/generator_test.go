package generator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/txguard/pkg/config"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"anomaly prob above one", func(c *config.Config) { c.AnomalyProb = 1.01 }},
		{"negative burst prob", func(c *config.Config) { c.BurstProb = -0.5 }},
		{"no senders", func(c *config.Config) { c.NumSenders = 0 }},
		{"no receivers", func(c *config.Config) { c.NumReceivers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestGenerate(t *testing.T) {
	cfg := config.Default()
	cfg.BurstProb = 0
	g, err := New(cfg)
	require.NoError(t, err)

	t.Run("ids are monotonic across ticks", func(t *testing.T) {
		var last uint64
		for tick := 0; tick < 5; tick++ {
			batch, err := g.Generate(10)
			require.NoError(t, err)
			require.Len(t, batch.Transactions, 10)
			for _, tx := range batch.Transactions {
				assert.Greater(t, tx.ID, last)
				last = tx.ID
			}
		}
	})

	t.Run("attributes are within the population", func(t *testing.T) {
		batch, err := g.Generate(200)
		require.NoError(t, err)
		for _, tx := range batch.Transactions {
			assert.GreaterOrEqual(t, tx.SenderID, 0)
			assert.Less(t, tx.SenderID, cfg.NumSenders)
			assert.GreaterOrEqual(t, tx.ReceiverID, 0)
			assert.Less(t, tx.ReceiverID, cfg.NumReceivers)
			assert.Positive(t, tx.Amount)
			assert.NotEmpty(t, tx.Reference)
		}
	})

	t.Run("timestamps stay inside the tick and follow ids", func(t *testing.T) {
		batch, err := g.Generate(50)
		require.NoError(t, err)
		start := cfg.StartTime.Add(tickOffset(batch.Tick))
		for i, tx := range batch.Transactions {
			assert.False(t, tx.Timestamp.Before(start))
			assert.True(t, tx.Timestamp.Before(start.Add(tickLength)))
			if i > 0 {
				assert.False(t, tx.Timestamp.Before(batch.Transactions[i-1].Timestamp))
			}
		}
	})

	t.Run("zero count", func(t *testing.T) {
		batch, err := g.Generate(0)
		require.NoError(t, err)
		assert.Empty(t, batch.Transactions)
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := g.Generate(-1)
		assert.ErrorIs(t, err, ErrNegativeCount)
	})

	t.Run("count above limit", func(t *testing.T) {
		before := g.Stats()
		_, err := g.Generate(math.MaxInt / 2)
		assert.ErrorIs(t, err, ErrCountTooLarge)
		assert.Equal(t, before, g.Stats(), "rejected tick does not advance the generator")
	})
}

func TestBurstVolumeIsCapped(t *testing.T) {
	tests := []struct {
		name   string
		factor int
		count  int
		want   int
	}{
		{"product overflows int", math.MaxInt, 2, MaxCount},
		{"product above limit", 10, MaxCount/10 + 1, MaxCount},
		{"product at limit", 10, MaxCount / 10, MaxCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.BurstProb = 1
			cfg.BurstFactor = tt.factor
			g, err := New(cfg)
			require.NoError(t, err)

			batch, err := g.Generate(tt.count)
			require.NoError(t, err)
			assert.True(t, batch.Burst)
			assert.Len(t, batch.Transactions, tt.want)
		})
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := config.Default()
	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		ba, err := a.Generate(cfg.TxPerSecond)
		require.NoError(t, err)
		bb, err := b.Generate(cfg.TxPerSecond)
		require.NoError(t, err)
		assert.Equal(t, ba, bb)
	}

	a.Reset()
	fresh, err := New(cfg)
	require.NoError(t, err)
	ba, _ := a.Generate(10)
	bf, _ := fresh.Generate(10)
	assert.Equal(t, bf, ba, "reset replays the stream")
}

func TestBurst(t *testing.T) {
	cfg := config.Default()
	cfg.BurstProb = 1
	cfg.BurstFactor = 4
	g, err := New(cfg)
	require.NoError(t, err)

	batch, err := g.Generate(10)
	require.NoError(t, err)
	assert.True(t, batch.Burst)
	assert.Len(t, batch.Transactions, 40)
	assert.Equal(t, uint64(1), g.Stats().Bursts)
}

func TestAnomalies(t *testing.T) {
	t.Run("none when probability is zero", func(t *testing.T) {
		cfg := config.Default()
		cfg.AnomalyProb = 0
		g, err := New(cfg)
		require.NoError(t, err)

		batch, err := g.Generate(1000)
		require.NoError(t, err)
		for _, tx := range batch.Transactions {
			assert.False(t, tx.IsSyntheticAnomaly)
		}
		assert.Zero(t, g.Stats().Anomalies)
	})

	t.Run("shifted distribution and atypical counterparty", func(t *testing.T) {
		cfg := config.Default()
		cfg.AnomalyProb = 1
		cfg.BurstProb = 0
		g, err := New(cfg)
		require.NoError(t, err)

		batch, err := g.Generate(500)
		require.NoError(t, err)
		var total float64
		for _, tx := range batch.Transactions {
			assert.True(t, tx.IsSyntheticAnomaly)
			assert.False(t, g.Habitual(tx.SenderID, tx.ReceiverID))
			total += tx.Amount
		}
		assert.Greater(t, total/500, 4*baselineAmount)
		assert.Equal(t, uint64(500), g.Stats().Anomalies)
	})

	t.Run("normal traffic favours habitual receivers", func(t *testing.T) {
		cfg := config.Default()
		cfg.AnomalyProb = 0
		cfg.CounterpartyAffinity = 1
		g, err := New(cfg)
		require.NoError(t, err)

		batch, err := g.Generate(300)
		require.NoError(t, err)
		for _, tx := range batch.Transactions {
			assert.True(t, g.Habitual(tx.SenderID, tx.ReceiverID))
		}
	})
}

func BenchmarkGenerate(b *testing.B) {
	g, _ := New(config.Default())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Generate(100)
	}
}

func tickOffset(tick uint64) time.Duration {
	return time.Duration(tick) * tickLength
}
