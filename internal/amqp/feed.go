package amqp

import (
	"context"
	"fmt"

	"ganancias/internal/store"
	"ganancias/internal/tasks"
)

// Publisher sends change messages. *Client implements it.
type Publisher interface {
	PublishChange(ctx context.Context, msg *ChangeMessage) error
}

// Feed turns store events into published change messages. Publishing runs
// on the task runner so a slow broker never holds up a mutation.
type Feed struct {
	pub    Publisher
	runner *tasks.Runner
}

func NewFeed(pub Publisher, runner *tasks.Runner) *Feed {
	if runner == nil {
		runner = tasks.NewRunner(nil, nil)
	}
	return &Feed{pub: pub, runner: runner}
}

// Handler returns a store subscriber bound to ctx.
func (f *Feed) Handler(ctx context.Context) func(store.Event) {
	return func(ev store.Event) {
		msg := NewChangeMessage(ev.Kind, string(ev.Op), ev.ID, ev.Parent)
		f.runner.Go(ctx, "feed."+ev.Kind, func(ctx context.Context) error {
			if err := f.pub.PublishChange(ctx, msg); err != nil {
				return fmt.Errorf("publish %s %s %d: %w", msg.Entity, msg.Op, msg.ID, err)
			}
			return nil
		})
	}
}
