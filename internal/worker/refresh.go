package worker

import (
	"context"

	"finstats/internal/amqp"
	"finstats/internal/log"
)

// Purger drops cached responses.
type Purger interface {
	Purge()
}

// RefreshHandler reacts to change notifications on the serving side: it
// purges response caches and asks every open view to reload. Each reload is
// a new request generation, so it races safely with user filter changes.
type RefreshHandler struct {
	purgers []Purger
	refresh func(ctx context.Context) int
	logger  *log.Logger
}

func NewRefreshHandler(refresh func(ctx context.Context) int, logger *log.Logger, purgers ...Purger) *RefreshHandler {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &RefreshHandler{
		purgers: purgers,
		refresh: refresh,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// HandleChange is an amqp consumer handler.
func (h *RefreshHandler) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	for _, p := range h.purgers {
		if p != nil {
			p.Purge()
		}
	}
	views := 0
	if h.refresh != nil {
		views = h.refresh(ctx)
	}
	h.logger.InfoContext(ctx, "Data changed, views refreshed",
		"source", msg.Source,
		log.FieldRecords, msg.Transactions,
		"views", views)
	return nil
}
