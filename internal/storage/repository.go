// Package storage keeps a local SQLite copy of the transactions and audit
// trail so the statistics page can run without the remote API.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"finstats/internal/core"
	"finstats/internal/log"
	"finstats/internal/source"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed statistics source.
type Store struct {
	db     *sql.DB
	loc    *time.Location
	logger *log.Logger
}

var _ source.Source = (*Store)(nil)

// SyncState describes the last successful ReplaceAll.
type SyncState struct {
	SyncedAt     time.Time
	Transactions int
	AuditLog     int
}

// Open creates the database directory when needed, applies migrations and
// returns a ready store. Calendar arithmetic uses UTC until SetLocation.
func Open(dbPath string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		db:     db,
		loc:    time.UTC,
		logger: logger.WithComponent(log.ComponentStorage),
	}
	s.logger.Debug("SQLite store ready", "path", dbPath, "schema_version", version)
	return s, nil
}

// SetLocation sets the zone used to compute year boundaries.
func (s *Store) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ReplaceAll swaps the stored transactions and audit trail for the given
// snapshot in a single transaction. Audit entries keep their slice order.
func (s *Store) ReplaceAll(ctx context.Context, records []core.TransactionRecord, entries []core.AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return fmt.Errorf("clear transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_log`); err != nil {
		return fmt.Errorf("clear audit log: %w", err)
	}

	insertTx, err := tx.PrepareContext(ctx, `INSERT INTO transactions
		(id, name, direction, amount_cents, occurred_at, category_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			direction = excluded.direction,
			amount_cents = excluded.amount_cents,
			occurred_at = excluded.occurred_at,
			category_key = excluded.category_key`)
	if err != nil {
		return fmt.Errorf("prepare transaction insert: %w", err)
	}
	defer insertTx.Close()

	for _, r := range records {
		if !r.Direction.IsValid() {
			return fmt.Errorf("transaction %q: %w", r.ID, core.ErrInvalidDirection)
		}
		if r.Amount.Cents < 0 {
			return fmt.Errorf("transaction %q: %w", r.ID, core.ErrInvalidAmount)
		}
		if _, err := insertTx.ExecContext(ctx, r.ID, r.Name, string(r.Direction), r.Amount.Cents,
			r.OccurredAt.UnixMilli(), r.CategoryKey); err != nil {
			return fmt.Errorf("insert transaction %q: %w", r.ID, err)
		}
	}

	insertLog, err := tx.PrepareContext(ctx, `INSERT INTO audit_log
		(position, id, transaction_name, direction, amount_cents, action, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer insertLog.Close()

	for i, e := range entries {
		raw := e.RawAction
		if raw == "" {
			raw = string(e.Action)
		}
		if _, err := insertLog.ExecContext(ctx, i, e.ID, e.TransactionName, string(e.Direction),
			e.Amount.Cents, raw, e.OccurredAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert audit entry %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO sync_state (id, synced_at, transactions, audit_log)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			synced_at = excluded.synced_at,
			transactions = excluded.transactions,
			audit_log = excluded.audit_log`,
		time.Now().UnixMilli(), len(records), len(entries)); err != nil {
		return fmt.Errorf("record sync state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.InfoContext(ctx, "Local store replaced",
		log.FieldOperation, log.OpSync,
		log.FieldRecords, len(records),
		"audit_entries", len(entries))
	return nil
}

// LastSync returns the state recorded by the last ReplaceAll; ok is false
// when the store has never been filled.
func (s *Store) LastSync(ctx context.Context) (SyncState, bool, error) {
	var (
		state    SyncState
		syncedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT synced_at, transactions, audit_log FROM sync_state WHERE id = 1`).
		Scan(&syncedAt, &state.Transactions, &state.AuditLog)
	if err == sql.ErrNoRows {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, fmt.Errorf("read sync state: %w", err)
	}
	state.SyncedAt = time.UnixMilli(syncedAt).In(s.loc)
	return state, true, nil
}

// ReadCategorical returns the transactions inside the query window.
func (s *Store) ReadCategorical(ctx context.Context, q source.CategoricalQuery) ([]core.TransactionRecord, error) {
	start, end := q.Window.Bounds(q.Now)
	return s.queryTransactions(ctx,
		`WHERE occurred_at >= ? AND occurred_at < ?`,
		start.UnixMilli(), end.UnixMilli())
}

// ReadSeries returns the transactions of one direction within the year.
func (s *Store) ReadSeries(ctx context.Context, q source.SeriesQuery) ([]core.TransactionRecord, error) {
	start, end := s.yearBounds(q.Year)
	return s.queryTransactions(ctx,
		`WHERE direction = ? AND occurred_at >= ? AND occurred_at < ?`,
		string(q.Direction), start.UnixMilli(), end.UnixMilli())
}

// ReadVariance returns every transaction within the year.
func (s *Store) ReadVariance(ctx context.Context, q source.VarianceQuery) ([]core.TransactionRecord, error) {
	start, end := s.yearBounds(q.Year)
	return s.queryTransactions(ctx,
		`WHERE occurred_at >= ? AND occurred_at < ?`,
		start.UnixMilli(), end.UnixMilli())
}

// ListAuditLog returns the audit trail in stored order.
func (s *Store) ListAuditLog(ctx context.Context) ([]core.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, transaction_name, direction, amount_cents, action, occurred_at
		FROM audit_log ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	entries := []core.AuditLogEntry{}
	for rows.Next() {
		var (
			e          core.AuditLogEntry
			direction  string
			occurredAt int64
		)
		if err := rows.Scan(&e.ID, &e.TransactionName, &direction, &e.Amount.Cents, &e.RawAction, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Direction = core.Direction(direction)
		e.Action = core.ParseAction(e.RawAction)
		e.OccurredAt = time.UnixMilli(occurredAt).In(s.loc)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}

// CheckSession always succeeds: a local database has no session.
func (s *Store) CheckSession(ctx context.Context) (bool, error) {
	return true, nil
}

func (s *Store) yearBounds(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc)
	return start, start.AddDate(1, 0, 0)
}

func (s *Store) queryTransactions(ctx context.Context, where string, args ...any) ([]core.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, direction, amount_cents, occurred_at, category_key
		FROM transactions `+where+` ORDER BY occurred_at, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	records := []core.TransactionRecord{}
	for rows.Next() {
		var (
			r          core.TransactionRecord
			direction  string
			occurredAt int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &direction, &r.Amount.Cents, &occurredAt, &r.CategoryKey); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		r.Direction = core.Direction(direction)
		r.OccurredAt = time.UnixMilli(occurredAt).In(s.loc)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return records, nil
}
