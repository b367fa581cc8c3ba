package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstats/internal/amqp"
	"finstats/internal/core"
	"finstats/internal/log"
	"finstats/internal/source"
	"finstats/internal/source/google"
	"finstats/internal/source/memory"
)

type fakeReader struct {
	mu   sync.Mutex
	snap google.Snapshot
	err  error
}

func (f *fakeReader) ReadAll(context.Context) (google.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeReader) set(snap google.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.ChangeMessage
	err  error
}

func (f *fakePublisher) PublishChange(_ context.Context, msg *amqp.ChangeMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func snapshot(amounts ...int64) google.Snapshot {
	var snap google.Snapshot
	for i, a := range amounts {
		snap.Transactions = append(snap.Transactions, core.TransactionRecord{
			ID:          "row:" + string(rune('a'+i)),
			Name:        "Food",
			Direction:   core.Debit,
			Amount:      core.Money{Cents: a},
			OccurredAt:  time.Date(2026, 3, 1+i, 0, 0, 0, 0, time.UTC),
			CategoryKey: "Food",
		})
	}
	snap.AuditLog = []core.AuditLogEntry{{ID: "1", TransactionName: "Food", Action: core.ActionCreated}}
	return snap
}

func TestSyncOnceMirrorsAndPublishes(t *testing.T) {
	reader := &fakeReader{snap: snapshot(100, 250)}
	store := memory.New(nil, nil)
	pub := &fakePublisher{}
	w := NewMirrorWorker(reader, store, pub, "sheets", log.Nop())
	ctx := context.Background()

	res, err := w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Transactions)
	assert.Equal(t, 1, res.AuditLog)

	recs, err := store.ReadVariance(ctx, source.VarianceQuery{Year: 2026})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, "sheets", pub.msgs[0].Source)
	assert.Equal(t, 2, pub.msgs[0].Transactions)
}

func TestSyncOnceSkipsUnchanged(t *testing.T) {
	reader := &fakeReader{snap: snapshot(100)}
	pub := &fakePublisher{}
	w := NewMirrorWorker(reader, memory.New(nil, nil), pub, "sheets", log.Nop())
	ctx := context.Background()

	_, err := w.SyncOnce(ctx)
	require.NoError(t, err)
	res, err := w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 1, pub.count())

	reader.set(snapshot(100, 1), nil)
	res, err = w.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, pub.count())
}

func TestSyncOnceReadFailureKeepsData(t *testing.T) {
	reader := &fakeReader{snap: snapshot(100)}
	store := memory.New(nil, nil)
	w := NewMirrorWorker(reader, store, nil, "sheets", log.Nop())
	ctx := context.Background()

	_, err := w.SyncOnce(ctx)
	require.NoError(t, err)

	reader.set(google.Snapshot{}, source.NetworkError("values.get", errors.New("timeout")))
	_, err = w.SyncOnce(ctx)
	assert.ErrorIs(t, err, source.ErrNetwork)

	logs, err := store.ListAuditLog(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestSyncOncePublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("circuit breaker is open")}
	w := NewMirrorWorker(&fakeReader{snap: snapshot(5)}, memory.New(nil, nil), pub, "sheets", log.Nop())

	res, err := w.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Changed)
}

func TestRunStopsWithContext(t *testing.T) {
	pub := &fakePublisher{}
	w := NewMirrorWorker(&fakeReader{snap: snapshot(5)}, memory.New(nil, nil), pub, "sheets", log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, time.Hour) }()

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

type countingPurger struct{ n int }

func (p *countingPurger) Purge() { p.n++ }

func TestRefreshHandler(t *testing.T) {
	p1, p2 := &countingPurger{}, &countingPurger{}
	refreshed := 0
	h := NewRefreshHandler(func(context.Context) int {
		refreshed++
		return 3
	}, log.Nop(), p1, nil, p2)

	err := h.HandleChange(context.Background(), amqp.NewChangeMessage("sheets", 1, 1, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, p1.n)
	assert.Equal(t, 1, p2.n)
	assert.Equal(t, 1, refreshed)
}
