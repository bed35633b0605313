package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Syncer runs one full reconciliation pass.
type Syncer interface {
	SyncAll(ctx context.Context) ([]Result, error)
}

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// Interval between passes (default: 5m)
	Interval time.Duration
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{Interval: 5 * time.Minute}
}

// SyncProcessor runs SyncAll on startup and then on every tick.
type SyncProcessor struct {
	syncer Syncer
	config SyncProcessorConfig

	mu      sync.Mutex
	running bool
	passes  int
	stop    func()
	doneCh  chan struct{}
}

func NewSyncProcessor(syncer Syncer, config SyncProcessorConfig) *SyncProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultSyncProcessorConfig().Interval
	}
	return &SyncProcessor{syncer: syncer, config: config}
}

// Start begins the loop. Returns an error if already running. The loop ends
// on Stop or when ctx is done, after which Start may be called again.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	p.running = true
	p.stop = sync.OnceFunc(func() { close(stopCh) })
	p.doneCh = doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Sync processor started", "interval", p.config.Interval)
	return nil
}

// Stop signals the loop and waits for the current pass to finish. When ctx
// expires first the loop keeps winding down and Stop may be called again.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stop, doneCh := p.stop, p.doneCh
	p.mu.Unlock()

	stop()

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Passes reports how many passes have completed.
func (p *SyncProcessor) Passes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passes
}

func (p *SyncProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.stop = nil
		p.doneCh = nil
		p.mu.Unlock()
		close(doneCh)
	}()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.runPass(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runPass(ctx)
		}
	}
}

func (p *SyncProcessor) runPass(ctx context.Context) {
	start := time.Now()
	results, err := p.syncer.SyncAll(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Sync pass finished with errors", "error", err)
	}

	pushed, pulled, failed := 0, 0, 0
	for _, r := range results {
		pushed += r.Pushed
		pulled += r.Pulled
		failed += r.Failed
	}
	slog.DebugContext(ctx, "Periodic sync done",
		"duration", time.Since(start),
		"pushed", pushed,
		"pulled", pulled,
		"failed", failed)

	p.mu.Lock()
	p.passes++
	p.mu.Unlock()
}
