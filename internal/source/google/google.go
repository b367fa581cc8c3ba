// Package google reads transactions and the audit trail from a Google
// Spreadsheet. It serves as a statistics source and as the upstream of the
// mirror worker.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finstats/internal/core"
	"finstats/internal/log"
	"finstats/internal/source"
)

// Config describes where the data lives.
type Config struct {
	SpreadsheetID     string
	TransactionsSheet string
	// LogsSheet may be empty; the audit trail is then empty.
	LogsSheet       string
	CredentialsJSON []byte
	Location        *time.Location
	// CacheTTL keeps a read snapshot for this long; zero disables caching.
	CacheTTL time.Duration
	// Options replace the credential options, for tests and emulators.
	Options []goption.ClientOption
}

// Snapshot is everything read from the spreadsheet at one point in time.
type Snapshot struct {
	Transactions []core.TransactionRecord
	AuditLog     []core.AuditLogEntry
}

type Client struct {
	svc               *gsheet.Service
	spreadsheetID     string
	transactionsSheet string
	logsSheet         string
	loc               *time.Location
	logger            *log.Logger

	mu                 sync.Mutex
	cached             *Snapshot
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

var _ source.Source = (*Client)(nil)

// New creates a read-only Sheets client.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	if strings.TrimSpace(cfg.TransactionsSheet) == "" {
		return nil, errors.New("missing transactions sheet name")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	opts := cfg.Options
	if len(opts) == 0 {
		if len(cfg.CredentialsJSON) == 0 {
			return nil, errors.New("missing service account credentials")
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(cfg.CredentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsReadonlyScope),
		}
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{
		svc:                svc,
		spreadsheetID:      cfg.SpreadsheetID,
		transactionsSheet:  cfg.TransactionsSheet,
		logsSheet:          cfg.LogsSheet,
		loc:                loc,
		logger:             logger.WithComponent(log.ComponentSheets),
		cacheValidDuration: cfg.CacheTTL,
	}, nil
}

// LoadCredentials returns the inline JSON when set, otherwise the content of
// file. GOOGLE_APPLICATION_CREDENTIALS is the last resort.
func LoadCredentials(inlineJSON, file string) ([]byte, error) {
	inlineJSON = strings.TrimSpace(inlineJSON)
	file = strings.TrimSpace(file)
	if inlineJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case inlineJSON != "":
		return []byte(inlineJSON), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// ReadAll reads both sheets, serving a cached snapshot while it is fresh.
func (c *Client) ReadAll(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.cached != nil && time.Now().Before(c.cacheExpiresAt) {
		snap := *c.cached
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	records, err := c.readTransactions(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	entries, err := c.readAuditLog(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Transactions: records, AuditLog: entries}

	if c.cacheValidDuration > 0 {
		c.mu.Lock()
		c.cached = &snap
		c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
		c.mu.Unlock()
	}
	c.logger.DebugContext(ctx, "Spreadsheet read",
		log.FieldOperation, log.OpRead,
		log.FieldRecords, len(records),
		"audit_entries", len(entries))
	return snap, nil
}

// Invalidate drops the cached snapshot.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.cacheExpiresAt = time.Time{}
}

func (c *Client) ReadCategorical(ctx context.Context, q source.CategoricalQuery) ([]core.TransactionRecord, error) {
	return c.selectRecords(ctx, q.Match)
}

func (c *Client) ReadSeries(ctx context.Context, q source.SeriesQuery) ([]core.TransactionRecord, error) {
	return c.selectRecords(ctx, q.Match)
}

func (c *Client) ReadVariance(ctx context.Context, q source.VarianceQuery) ([]core.TransactionRecord, error) {
	return c.selectRecords(ctx, q.Match)
}

func (c *Client) ListAuditLog(ctx context.Context) ([]core.AuditLogEntry, error) {
	snap, err := c.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return append([]core.AuditLogEntry{}, snap.AuditLog...), nil
}

// CheckSession reports true: service account credentials do not expire
// from the viewer's point of view.
func (c *Client) CheckSession(ctx context.Context) (bool, error) {
	return true, nil
}

func (c *Client) selectRecords(ctx context.Context, pred func(core.TransactionRecord) bool) ([]core.TransactionRecord, error) {
	snap, err := c.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return source.Select(snap.Transactions, pred), nil
}

func (c *Client) readTransactions(ctx context.Context) ([]core.TransactionRecord, error) {
	values, err := c.readRange(ctx, c.transactionsSheet)
	if err != nil {
		return nil, err
	}
	records, err := parseTransactions(values, c.loc)
	if err != nil {
		return nil, source.MalformedError(c.transactionsSheet, err)
	}
	return records, nil
}

func (c *Client) readAuditLog(ctx context.Context) ([]core.AuditLogEntry, error) {
	if c.logsSheet == "" {
		return []core.AuditLogEntry{}, nil
	}
	values, err := c.readRange(ctx, c.logsSheet)
	if err != nil {
		return nil, err
	}
	entries, err := parseAuditLog(values, c.loc)
	if err != nil {
		return nil, source.MalformedError(c.logsSheet, err)
	}
	return entries, nil
}

func (c *Client) readRange(ctx context.Context, sheet string) ([][]interface{}, error) {
	rng := fmt.Sprintf("%s!A:Z", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("read %s", rng), err)
	}
	return resp.Values, nil
}

// classify maps Sheets API failures onto the shared source error classes.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, &source.StatusError{Status: apiErr.Code, Body: apiErr.Message})
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return source.NetworkError(op, err)
}
