// Package sqlite stores scored transactions in a SQLite database.
// It uses modernc.org/sqlite, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	txio "github.com/hed1ad/txguard/pkg/io"
)

const schema = `
CREATE TABLE IF NOT EXISTS scored_transactions (
	id         INTEGER PRIMARY KEY,
	reference  TEXT    NOT NULL,
	ts         TEXT    NOT NULL,
	sender     TEXT    NOT NULL,
	receiver   TEXT    NOT NULL,
	amount     REAL    NOT NULL,
	score      REAL    NOT NULL,
	is_alert   INTEGER NOT NULL,
	threshold  REAL    NOT NULL,
	features   TEXT
);
CREATE INDEX IF NOT EXISTS idx_scored_transactions_score ON scored_transactions(score);
`

const upsert = `
INSERT INTO scored_transactions (id, reference, ts, sender, receiver, amount, score, is_alert, threshold, features)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	is_alert  = excluded.is_alert,
	threshold = excluded.threshold
`

// Writer upserts records keyed by transaction id. A record written again
// only updates its alert classification; the score is immutable.
type Writer struct {
	db *sql.DB
}

var _ txio.Writer = (*Writer)(nil)

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Writer{db: db}, nil
}

// Write upserts a single record.
func (w *Writer) Write(rec txio.Record) error {
	return w.WriteAll([]txio.Record{rec})
}

// WriteAll upserts records in one transaction.
func (w *Writer) WriteAll(recs []txio.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		features, err := json.Marshal(rec.Features)
		if err != nil {
			return fmt.Errorf("encode features of %d: %w", rec.ID, err)
		}
		if _, err := stmt.Exec(
			int64(rec.ID),
			rec.Reference,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.Sender,
			rec.Receiver,
			rec.Amount,
			rec.Score,
			rec.IsAlert,
			rec.Threshold,
			string(features),
		); err != nil {
			return fmt.Errorf("upsert %d: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored records, alerts only when alertsOnly.
func (w *Writer) Count(ctx context.Context, alertsOnly bool) (int, error) {
	q := "SELECT COUNT(*) FROM scored_transactions"
	if alertsOnly {
		q += " WHERE is_alert = 1"
	}
	var n int
	if err := w.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Get loads one record by transaction id.
func (w *Writer) Get(ctx context.Context, id uint64) (txio.Record, error) {
	var (
		rec      txio.Record
		ts       string
		features sql.NullString
	)
	err := w.db.QueryRowContext(ctx,
		`SELECT id, reference, ts, sender, receiver, amount, score, is_alert, threshold, features
		 FROM scored_transactions WHERE id = ?`, int64(id),
	).Scan(&rec.ID, &rec.Reference, &ts, &rec.Sender, &rec.Receiver,
		&rec.Amount, &rec.Score, &rec.IsAlert, &rec.Threshold, &features)
	if err != nil {
		return txio.Record{}, err
	}

	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return txio.Record{}, fmt.Errorf("parse timestamp of %d: %w", id, err)
	}
	if features.Valid && features.String != "null" {
		if err := json.Unmarshal([]byte(features.String), &rec.Features); err != nil {
			return txio.Record{}, fmt.Errorf("decode features of %d: %w", id, err)
		}
	}
	return rec, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
