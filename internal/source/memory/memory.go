// Package memory is an in-process statistics source seeded from plain text
// files, used for demos and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"finstats/internal/core"
	"finstats/internal/source"
)

const (
	TransactionsFile = "seed_transactions.txt"
	AuditLogFile     = "seed_audit_log.txt"
)

type Store struct {
	mu      sync.RWMutex
	records []core.TransactionRecord
	logs    []core.AuditLogEntry
	session bool
}

var _ source.Source = (*Store)(nil)

func New(records []core.TransactionRecord, logs []core.AuditLogEntry) *Store {
	return &Store{
		records: append([]core.TransactionRecord(nil), records...),
		logs:    append([]core.AuditLogEntry(nil), logs...),
		session: true,
	}
}

// NewFromFiles seeds a store from the files in base. Missing files yield an
// empty store; malformed lines are an error naming file and line.
//
// Transactions, one per line:  2026-03-15;DEBIT;Food;12.50[;Category]
// Audit log, one per line:     2026-03-15T10:00:00Z;Food;DEBIT;12.50;Created a new transaction
func NewFromFiles(base string, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.UTC
	}
	var records []core.TransactionRecord
	for i, line := range readLines(filepath.Join(base, TransactionsFile)) {
		r, err := parseTransactionLine(line, loc)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", TransactionsFile, i+1, err)
		}
		r.ID = fmt.Sprintf("mem:%d", i+1)
		records = append(records, r)
	}

	var logs []core.AuditLogEntry
	for i, line := range readLines(filepath.Join(base, AuditLogFile)) {
		e, err := parseAuditLine(line, loc)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", AuditLogFile, i+1, err)
		}
		e.ID = fmt.Sprintf("log:%d", i+1)
		logs = append(logs, e)
	}
	return New(records, logs), nil
}

// Add appends a transaction.
func (s *Store) Add(r core.TransactionRecord) error {
	if !r.Direction.IsValid() {
		return core.ErrInvalidDirection
	}
	if r.Amount.Cents < 0 {
		return core.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = fmt.Sprintf("mem:%d", len(s.records)+1)
	}
	s.records = append(s.records, r)
	return nil
}

// AppendLog appends an audit entry at the end of the trail.
func (s *Store) AppendLog(e core.AuditLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
}

// ReplaceAll swaps the whole snapshot.
func (s *Store) ReplaceAll(_ context.Context, records []core.TransactionRecord, logs []core.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]core.TransactionRecord(nil), records...)
	s.logs = append([]core.AuditLogEntry(nil), logs...)
	return nil
}

// SetSession makes CheckSession report valid or invalid.
func (s *Store) SetSession(valid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = valid
}

func (s *Store) ReadCategorical(ctx context.Context, q source.CategoricalQuery) ([]core.TransactionRecord, error) {
	return s.selectRecords(ctx, q.Match)
}

func (s *Store) ReadSeries(ctx context.Context, q source.SeriesQuery) ([]core.TransactionRecord, error) {
	return s.selectRecords(ctx, q.Match)
}

func (s *Store) ReadVariance(ctx context.Context, q source.VarianceQuery) ([]core.TransactionRecord, error) {
	return s.selectRecords(ctx, q.Match)
}

func (s *Store) ListAuditLog(ctx context.Context) ([]core.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.AuditLogEntry{}, s.logs...), nil
}

func (s *Store) CheckSession(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, nil
}

func (s *Store) selectRecords(ctx context.Context, pred func(core.TransactionRecord) bool) ([]core.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return source.Select(s.records, pred), nil
}

func parseTransactionLine(line string, loc *time.Location) (core.TransactionRecord, error) {
	parts := splitFields(line)
	if len(parts) < 4 {
		return core.TransactionRecord{}, fmt.Errorf("expected at least 4 fields, got %d", len(parts))
	}
	at, err := parseWhen(parts[0], loc)
	if err != nil {
		return core.TransactionRecord{}, err
	}
	dir, err := core.ParseDirection(parts[1])
	if err != nil {
		return core.TransactionRecord{}, err
	}
	amount, err := core.ParseAmountString(parts[3])
	if err != nil {
		return core.TransactionRecord{}, err
	}
	category := ""
	if len(parts) > 4 {
		category = parts[4]
	}
	return core.TransactionRecord{
		Name:        parts[2],
		Direction:   dir,
		Amount:      amount,
		OccurredAt:  at,
		CategoryKey: core.CategoryKeyFor(parts[2], category),
	}, nil
}

func parseAuditLine(line string, loc *time.Location) (core.AuditLogEntry, error) {
	parts := splitFields(line)
	if len(parts) != 5 {
		return core.AuditLogEntry{}, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}
	at, err := parseWhen(parts[0], loc)
	if err != nil {
		return core.AuditLogEntry{}, err
	}
	dir, err := core.ParseDirection(parts[2])
	if err != nil {
		return core.AuditLogEntry{}, err
	}
	amount, err := core.ParseAmountString(parts[3])
	if err != nil {
		return core.AuditLogEntry{}, err
	}
	return core.AuditLogEntry{
		TransactionName: parts[1],
		Direction:       dir,
		Amount:          amount,
		Action:          core.ParseAction(parts[4]),
		RawAction:       parts[4],
		OccurredAt:      at,
	}, nil
}

func parseWhen(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

func splitFields(line string) []string {
	parts := strings.Split(line, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// readLines returns the non-blank, non-comment lines of path, or nil when
// the file cannot be opened. Order is preserved and duplicates are kept,
// since two identical transactions are still two transactions.
func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
