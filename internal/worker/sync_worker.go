package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ganancias/internal/amqp"
	"ganancias/internal/services"
)

// Syncer is the part of the sync service the worker drives.
type Syncer interface {
	SyncEntity(ctx context.Context, kind string) (services.Result, error)
	SyncBoxControls(ctx context.Context, boxID int64) (services.Result, error)
}

// SyncWorker reacts to change messages by reconciling the collection that
// changed. Bursts for the same target within the debounce window collapse
// into one pass.
type SyncWorker struct {
	syncer   Syncer
	debounce time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

func NewSyncWorker(syncer Syncer, debounce time.Duration) *SyncWorker {
	return &SyncWorker{
		syncer:   syncer,
		debounce: debounce,
		now:      time.Now,
		logger:   slog.Default(),
		last:     make(map[string]time.Time),
	}
}

// WithLogger sets the logger for message handling. A nil logger is ignored.
func (w *SyncWorker) WithLogger(logger *slog.Logger) *SyncWorker {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// HandleChangeMessage processes a single change message from AMQP.
func (w *SyncWorker) HandleChangeMessage(ctx context.Context, msg *amqp.ChangeMessage) error {
	target := msg.Entity
	if msg.Entity == "boxcontrol" {
		if msg.Parent == 0 {
			w.logger.WarnContext(ctx, "Control change without box, skipping", "id", msg.ID)
			return nil
		}
		target = fmt.Sprintf("boxcontrol:%d", msg.Parent)
	}
	if w.recent(target) {
		w.logger.DebugContext(ctx, "Change within debounce window, skipping", "target", target)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing change message",
		"entity", msg.Entity,
		"op", msg.Op,
		"id", msg.ID)

	var (
		res services.Result
		err error
	)
	if msg.Entity == "boxcontrol" {
		res, err = w.syncer.SyncBoxControls(ctx, msg.Parent)
	} else {
		res, err = w.syncer.SyncEntity(ctx, msg.Entity)
	}
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrUnknownEntity):
		// nothing to reconcile; requeueing would loop forever
		w.logger.WarnContext(ctx, "Change message has no sync target", "entity", msg.Entity, "error", err)
		return nil
	case err != nil:
		w.forget(target)
		return fmt.Errorf("sync %s: %w", target, err)
	}

	w.logger.InfoContext(ctx, "Change synced",
		"target", target,
		"pushed", res.Pushed,
		"pulled", res.Pulled,
		"skipped", res.Skipped)
	return nil
}

func (w *SyncWorker) recent(target string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if t, ok := w.last[target]; ok && now.Sub(t) < w.debounce {
		return true
	}
	w.last[target] = now
	return false
}

func (w *SyncWorker) forget(target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.last, target)
}
