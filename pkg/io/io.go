// Package io defines the sinks scored transactions and alerts are exported to.
package io

import (
	"time"

	"github.com/hed1ad/txguard/pkg/alerts"
	"github.com/hed1ad/txguard/pkg/transaction"
)

// Writer is the interface for writing scored transactions.
type Writer interface {
	// Write outputs a single record.
	Write(rec Record) error

	// WriteAll outputs multiple records.
	WriteAll(recs []Record) error

	// Close flushes and releases resources.
	Close() error
}

// Record is the exported form of a scored transaction.
type Record struct {
	ID        uint64    `json:"id"`
	Reference string    `json:"reference"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Amount    float64   `json:"amount"`
	Score     float64   `json:"score"`
	IsAlert   bool      `json:"is_alert"`
	Threshold float64   `json:"threshold"`
	Features  []float64 `json:"features,omitempty"`
}

// FromTransaction builds a record classified against threshold.
func FromTransaction(tx transaction.Transaction, threshold float64) Record {
	return Record{
		ID:        tx.ID,
		Reference: tx.Reference,
		Timestamp: tx.Timestamp,
		Sender:    tx.Sender(),
		Receiver:  tx.Receiver(),
		Amount:    tx.Amount,
		Score:     tx.Score,
		IsAlert:   tx.Score >= threshold,
		Threshold: threshold,
		Features:  append([]float64(nil), tx.Features...),
	}
}

// FromAlerts converts alerts to records.
func FromAlerts(a []alerts.Alert) []Record {
	out := make([]Record, len(a))
	for i, al := range a {
		out[i] = FromTransaction(al.Transaction, al.Threshold)
	}
	return out
}
