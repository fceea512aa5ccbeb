// Package csv writes scored transactions as CSV rows.
package csv

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	txio "github.com/hed1ad/txguard/pkg/io"
)

var baseColumns = []string{
	"id", "reference", "timestamp", "sender", "receiver",
	"amount", "score", "is_alert", "threshold",
}

// Writer writes records to a CSV stream.
type Writer struct {
	w         *csv.Writer
	closer    io.Closer
	hasHeader bool
	features  []string
	wroteHead bool
}

var _ txio.Writer = (*Writer)(nil)

// Option configures a CSV writer.
type Option func(*Writer)

// WithHeader controls whether a header row is written before the first record.
func WithHeader(has bool) Option {
	return func(w *Writer) {
		w.hasHeader = has
	}
}

// WithFeatureNames appends one column per feature, in vector order.
func WithFeatureNames(names []string) Option {
	return func(w *Writer) {
		w.features = append([]string(nil), names...)
	}
}

// NewWriter writes to out. Close flushes but does not close out.
func NewWriter(out io.Writer, opts ...Option) *Writer {
	w := &Writer{
		w:         csv.NewWriter(out),
		hasHeader: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create truncates or creates filename and writes to it.
func Create(filename string, opts ...Option) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := NewWriter(file, opts...)
	w.closer = file
	return w, nil
}

// Write outputs a single record.
func (w *Writer) Write(rec txio.Record) error {
	if w.hasHeader && !w.wroteHead {
		if err := w.w.Write(w.header()); err != nil {
			return err
		}
		w.wroteHead = true
	}
	return w.w.Write(w.row(rec))
}

// WriteAll outputs multiple records and flushes.
func (w *Writer) WriteAll(recs []txio.Record) error {
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.w.Flush()
	return w.w.Error()
}

// Close flushes buffered rows and closes the file opened by Create.
func (w *Writer) Close() error {
	w.w.Flush()
	err := w.w.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *Writer) header() []string {
	return append(append([]string(nil), baseColumns...), w.features...)
}

func (w *Writer) row(rec txio.Record) []string {
	row := make([]string, 0, len(baseColumns)+len(w.features))
	row = append(row,
		strconv.FormatUint(rec.ID, 10),
		rec.Reference,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Sender,
		rec.Receiver,
		strconv.FormatFloat(rec.Amount, 'f', 2, 64),
		strconv.FormatFloat(rec.Score, 'f', 6, 64),
		strconv.FormatBool(rec.IsAlert),
		strconv.FormatFloat(rec.Threshold, 'f', -1, 64),
	)
	for i := range w.features {
		v := ""
		if i < len(rec.Features) {
			v = strconv.FormatFloat(rec.Features[i], 'g', -1, 64)
		}
		row = append(row, v)
	}
	return row
}
