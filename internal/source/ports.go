// Package source defines the ports through which the statistics pipeline
// reads raw data, and the error taxonomy shared by every adapter.
package source

import (
	"context"
	"time"

	"finstats/internal/core"
)

// Queries for outbound adapters. Adapters may return more records than a
// query strictly needs; the aggregator filters again.
type (
	CategoricalQuery struct {
		Window core.Window
		Now    time.Time
	}

	SeriesQuery struct {
		Direction core.Direction
		Year      int
	}

	VarianceQuery struct {
		Year int
	}
)

// Ports for outbound adapters.
type (
	CategoricalReader interface {
		ReadCategorical(ctx context.Context, q CategoricalQuery) ([]core.TransactionRecord, error)
	}

	SeriesReader interface {
		ReadSeries(ctx context.Context, q SeriesQuery) ([]core.TransactionRecord, error)
	}

	VarianceReader interface {
		ReadVariance(ctx context.Context, q VarianceQuery) ([]core.TransactionRecord, error)
	}

	// AuditLogReader returns the audit trail in the order the source keeps it.
	AuditLogReader interface {
		ListAuditLog(ctx context.Context) ([]core.AuditLogEntry, error)
	}

	// SessionChecker reports whether the current session is valid. A transport
	// failure is returned as an error, never as false.
	SessionChecker interface {
		CheckSession(ctx context.Context) (bool, error)
	}

	// Source is everything the statistics page reads.
	Source interface {
		CategoricalReader
		SeriesReader
		VarianceReader
		AuditLogReader
		SessionChecker
	}
)

// Key returns the cache/log key of the query.
func (q CategoricalQuery) Key() string {
	return "categorical:" + string(q.Window)
}

func (q SeriesQuery) Key() string {
	return "series:" + string(q.Direction)
}

func (q VarianceQuery) Key() string {
	return "variance"
}

// Match reports whether a raw record belongs to the query's window.
func (q CategoricalQuery) Match(r core.TransactionRecord) bool {
	start, end := q.Window.Bounds(q.Now)
	at := r.OccurredAt.In(q.Now.Location())
	return !at.Before(start) && at.Before(end)
}

func (q SeriesQuery) Match(r core.TransactionRecord) bool {
	return r.Direction == q.Direction && r.OccurredAt.Year() == q.Year
}

func (q VarianceQuery) Match(r core.TransactionRecord) bool {
	return r.OccurredAt.Year() == q.Year
}

// Select returns the records matching pred, preserving order.
func Select(records []core.TransactionRecord, pred func(core.TransactionRecord) bool) []core.TransactionRecord {
	out := make([]core.TransactionRecord, 0, len(records))
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
