package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"finstats/internal/amqp"
	"finstats/internal/core"
	"finstats/internal/log"
	"finstats/internal/source/google"
)

// SnapshotReader reads the full spreadsheet contents.
type SnapshotReader interface {
	ReadAll(ctx context.Context) (google.Snapshot, error)
}

// Replacer swaps the mirrored data in one step.
type Replacer interface {
	ReplaceAll(ctx context.Context, records []core.TransactionRecord, entries []core.AuditLogEntry) error
}

// Publisher announces that mirrored data changed.
type Publisher interface {
	PublishChange(ctx context.Context, msg *amqp.ChangeMessage) error
}

// MirrorResult describes one mirror pass.
type MirrorResult struct {
	Transactions int
	AuditLog     int
	Changed      bool
	SyncedAt     time.Time
}

// MirrorWorker copies the spreadsheet into the local store and publishes a
// change notification whenever the copied data differs from the last pass.
type MirrorWorker struct {
	reader    SnapshotReader
	store     Replacer
	publisher Publisher
	source    string
	logger    *log.Logger

	lastDigest string
}

// NewMirrorWorker creates a mirror worker. publisher may be nil, in which
// case changes are mirrored silently.
func NewMirrorWorker(reader SnapshotReader, store Replacer, publisher Publisher, source string, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MirrorWorker{
		reader:    reader,
		store:     store,
		publisher: publisher,
		source:    source,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// SyncOnce runs one mirror pass. A failed publish is logged but does not
// fail the pass: the data is already mirrored and the next change will be
// announced again.
func (w *MirrorWorker) SyncOnce(ctx context.Context) (MirrorResult, error) {
	start := time.Now()
	snap, err := w.reader.ReadAll(ctx)
	if err != nil {
		return MirrorResult{}, fmt.Errorf("read spreadsheet: %w", err)
	}

	res := MirrorResult{
		Transactions: len(snap.Transactions),
		AuditLog:     len(snap.AuditLog),
		SyncedAt:     time.Now(),
	}

	digest, err := digestOf(snap)
	if err != nil {
		return MirrorResult{}, fmt.Errorf("digest snapshot: %w", err)
	}
	if digest == w.lastDigest {
		w.logger.DebugContext(ctx, "Spreadsheet unchanged, skipping mirror", log.FieldRecords, res.Transactions)
		return res, nil
	}

	if err := w.store.ReplaceAll(ctx, snap.Transactions, snap.AuditLog); err != nil {
		return MirrorResult{}, fmt.Errorf("replace mirrored data: %w", err)
	}
	w.lastDigest = digest
	res.Changed = true

	w.logger.InfoContext(ctx, "Spreadsheet mirrored",
		log.FieldOperation, log.OpSync,
		log.FieldRecords, res.Transactions,
		"audit_log", res.AuditLog,
		log.FieldDuration, time.Since(start).Milliseconds())

	if w.publisher != nil {
		msg := amqp.NewChangeMessage(w.source, res.Transactions, res.AuditLog, res.SyncedAt)
		if err := w.publisher.PublishChange(ctx, msg); err != nil {
			w.logger.WarnContext(ctx, "Failed to publish change notification", log.FieldError, err.Error())
		}
	}
	return res, nil
}

// Run mirrors immediately and then every interval until ctx is done. Pass
// failures are logged and retried on the next tick.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) error {
	w.logger.InfoContext(ctx, "Mirror worker started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.ErrorContext(ctx, "Mirror pass failed", log.FieldError, err.Error())
		}
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Mirror worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func digestOf(snap google.Snapshot) (string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
