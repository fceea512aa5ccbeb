package io

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/txguard/pkg/alerts"
	"github.com/hed1ad/txguard/pkg/transaction"
)

func TestFromTransaction(t *testing.T) {
	ts := time.Date(2024, 1, 1, 9, 0, 1, 0, time.UTC)
	tx := transaction.Transaction{
		ID: 7, Reference: "ref", Timestamp: ts,
		SenderID: 3, ReceiverID: 12, Amount: 42.5,
		Score: 0.8, Features: []float64{1, 2},
	}

	rec := FromTransaction(tx, 0.75)
	assert.Equal(t, Record{
		ID: 7, Reference: "ref", Timestamp: ts,
		Sender: "S0003", Receiver: "R0012", Amount: 42.5,
		Score: 0.8, IsAlert: true, Threshold: 0.75,
		Features: []float64{1, 2},
	}, rec)

	rec.Features[0] = -1
	assert.Equal(t, 1.0, tx.Features[0])

	assert.False(t, FromTransaction(tx, 0.9).IsAlert)
}

func TestFromAlerts(t *testing.T) {
	window := []transaction.Transaction{{ID: 1, Score: 0.2}, {ID: 2, Score: 0.9}}
	recs := FromAlerts(alerts.Evaluate(window, 0.5))
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(2), recs[0].ID)
	assert.True(t, recs[0].IsAlert)
	assert.Equal(t, 0.5, recs[0].Threshold)
}
