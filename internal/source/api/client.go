// Package api reads statistics from the remote finance REST API.
//
// The API returns pre-aggregated sums; the client turns them back into
// synthetic transaction records anchored at the start of their period so the
// statistics pipeline treats every backend the same way.
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finstats/internal/cache"
	"finstats/internal/core"
	"finstats/internal/log"
	"finstats/internal/source"
)

const maxErrorBody = 512

type tokenKey struct{}

// WithToken attaches a bearer token to ctx; it takes precedence over the
// client's configured token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey{}).(string)
	return tok, ok && tok != ""
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Location interprets zone-less timestamps and anchors monthly records.
	Location *time.Location
	// Cache holds raw aggregate responses; audit log and session checks
	// are never cached.
	Cache      cache.Cache[[]byte]
	HTTPClient *http.Client
}

type Client struct {
	base   *url.URL
	token  string
	loc    *time.Location
	cache  cache.Cache[[]byte]
	http   *http.Client
	logger *log.Logger
}

var _ source.Source = (*Client)(nil)

func New(cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		loc:    loc,
		cache:  cfg.Cache,
		http:   hc,
		logger: logger.WithComponent(log.ComponentSource),
	}, nil
}

// Purge drops every cached response.
func (c *Client) Purge() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// ReadCategorical reads /api/transactions/pie for the query window.
func (c *Client) ReadCategorical(ctx context.Context, q source.CategoricalQuery) ([]core.TransactionRecord, error) {
	params := url.Values{"type": {string(q.Window)}}
	switch q.Window {
	case core.WindowMonth:
		params.Set("year", strconv.Itoa(q.Now.Year()))
		params.Set("month", strconv.Itoa(int(q.Now.Month())))
	case core.WindowYear:
		params.Set("year", strconv.Itoa(q.Now.Year()))
	}

	var rows []namedAmountDTO
	if err := c.getJSON(ctx, "/api/transactions/pie", params, true, &rows); err != nil {
		return nil, err
	}
	if err := validateAll(rows); err != nil {
		return nil, source.MalformedError("pie", err)
	}

	start, _ := q.Window.Bounds(q.Now)
	out := make([]core.TransactionRecord, 0, len(rows))
	for i, r := range rows {
		amount, err := amountOf(r.Amount)
		if err != nil {
			return nil, source.MalformedError("pie", fmt.Errorf("item %d: %w", i, err))
		}
		out = append(out, core.TransactionRecord{
			ID:          fmt.Sprintf("pie:%s:%d", q.Window, i),
			Name:        r.TransactionName,
			Amount:      amount,
			OccurredAt:  start,
			CategoryKey: r.TransactionName,
		})
	}
	return out, nil
}

// ReadSeries reads /api/transactions/yearly-summary.
func (c *Client) ReadSeries(ctx context.Context, q source.SeriesQuery) ([]core.TransactionRecord, error) {
	params := url.Values{
		"year":            {strconv.Itoa(q.Year)},
		"transactionType": {string(q.Direction)},
	}
	var months []monthSummaryDTO
	if err := c.getJSON(ctx, "/api/transactions/yearly-summary", params, true, &months); err != nil {
		return nil, err
	}
	if err := validateAll(months); err != nil {
		return nil, source.MalformedError("yearly summary", err)
	}

	var out []core.TransactionRecord
	for _, m := range months {
		at := time.Date(q.Year, time.Month(m.Month), 1, 0, 0, 0, 0, c.loc)
		for i, t := range m.Transactions {
			amount, err := amountOf(t.Amount)
			if err != nil {
				return nil, source.MalformedError("yearly summary", fmt.Errorf("month %d item %d: %w", m.Month, i, err))
			}
			out = append(out, core.TransactionRecord{
				ID:          fmt.Sprintf("series:%s:%d-%02d:%d", q.Direction, q.Year, m.Month, i),
				Name:        t.TransactionName,
				Direction:   q.Direction,
				Amount:      amount,
				OccurredAt:  at,
				CategoryKey: t.TransactionName,
			})
		}
	}
	if out == nil {
		out = []core.TransactionRecord{}
	}
	return out, nil
}

// ReadVariance reads /api/transactions/yearly-credit-debit-amount. Each month
// becomes one Credit and one Debit record; zero amounts are omitted.
func (c *Client) ReadVariance(ctx context.Context, q source.VarianceQuery) ([]core.TransactionRecord, error) {
	params := url.Values{"year": {strconv.Itoa(q.Year)}}
	var months []creditDebitDTO
	if err := c.getJSON(ctx, "/api/transactions/yearly-credit-debit-amount", params, true, &months); err != nil {
		return nil, err
	}
	if err := validateAll(months); err != nil {
		return nil, source.MalformedError("credit/debit", err)
	}

	out := []core.TransactionRecord{}
	for _, m := range months {
		at := time.Date(q.Year, time.Month(m.Month), 1, 0, 0, 0, 0, c.loc)
		for _, side := range []struct {
			dir core.Direction
			raw json.Number
		}{{core.Credit, m.CreditAmount}, {core.Debit, m.DebitAmount}} {
			amount, err := amountOf(side.raw)
			if err != nil {
				return nil, source.MalformedError("credit/debit", fmt.Errorf("month %d: %w", m.Month, err))
			}
			if amount.IsZero() {
				continue
			}
			out = append(out, core.TransactionRecord{
				ID:          fmt.Sprintf("variance:%d-%02d:%s", q.Year, m.Month, side.dir),
				Name:        side.dir.Label(),
				Direction:   side.dir,
				Amount:      amount,
				OccurredAt:  at,
				CategoryKey: side.dir.Label(),
			})
		}
	}
	return out, nil
}

// ListAuditLog reads /api/transactions/logs, preserving server order.
func (c *Client) ListAuditLog(ctx context.Context) ([]core.AuditLogEntry, error) {
	var rows []auditLogDTO
	if err := c.getJSON(ctx, "/api/transactions/logs", nil, false, &rows); err != nil {
		return nil, err
	}
	if err := validateAll(rows); err != nil {
		return nil, source.MalformedError("logs", err)
	}
	out := make([]core.AuditLogEntry, 0, len(rows))
	for i, r := range rows {
		entry, err := r.toEntry(c.loc)
		if err != nil {
			return nil, source.MalformedError("logs", fmt.Errorf("item %d: %w", i, err))
		}
		out = append(out, entry)
	}
	return out, nil
}

// CheckSession calls /api/session-check. A 401 is reported as an invalid
// session rather than an error.
func (c *Client) CheckSession(ctx context.Context) (bool, error) {
	var body sessionDTO
	err := c.getJSON(ctx, "/api/session-check", nil, false, &body)
	if err != nil {
		var se *source.StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			return false, nil
		}
		return false, err
	}
	if err := validate.Struct(body); err != nil {
		return false, source.MalformedError("session check", err)
	}
	return *body.Valid, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, cacheable bool, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = params.Encode()
	target := u.String()

	token := c.token
	if tok, ok := tokenFrom(ctx); ok {
		token = tok
	}

	key := ""
	if cacheable && c.cache != nil {
		key = cacheKey(token, path, u.RawQuery)
		if raw, ok := c.cache.Get(key); ok {
			c.logger.DebugContext(ctx, "API cache hit", log.FieldPath, path)
			return decode(raw, path, out)
		}
	}

	raw, err := c.do(ctx, target, token)
	if err != nil {
		return err
	}
	if err := decode(raw, path, out); err != nil {
		return err
	}
	if key != "" {
		c.cache.Set(key, raw)
	}
	return nil
}

func (c *Client) do(ctx context.Context, target, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, "GET "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "API response",
		log.FieldPath, req.URL.Path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &source.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, "read "+req.URL.Path, err)
	}
	return raw, nil
}

// transportError keeps a cancellation as is; anything else, a deadline
// included, means no response arrived.
func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return source.NetworkError(op, err)
}

func decode(raw []byte, path string, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return source.MalformedError(path, err)
	}
	return nil
}

// cacheKey separates sessions without keeping the token itself in the cache.
func cacheKey(token, path, query string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6]) + ":" + path + "?" + query
}
