package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"ganancias/internal/core"
	"ganancias/internal/log"
	"ganancias/internal/remote"
	"ganancias/internal/store"
)

var (
	// ErrNotFound is returned when an operation references a missing record.
	ErrNotFound = store.ErrNotFound
	// ErrUnknownEntity is returned for a collection kind no pass handles.
	ErrUnknownEntity = errors.New("unknown entity")
)

// Result counts what one reconciliation pass did.
type Result struct {
	Entity  string `json:"entity"`
	Pushed  int    `json:"pushed"`
	Pulled  int    `json:"pulled"`
	Failed  int    `json:"failed"`
	Skipped bool   `json:"skipped"`
}

// Collection is the local side of a pass. Creating reports records whose
// own remote create is still running; a pass never pushes those.
type Collection[E any] interface {
	All() []E
	Creating(id int64) bool
	Merge(ctx context.Context, items []E) int
}

// Source is the remote side of a pass.
type Source[E any] interface {
	List(ctx context.Context, params url.Values) ([]E, error)
	Create(ctx context.Context, e E) error
}

// Reconcile diffs local and remote by id only. Local-only records are
// pushed, each independently; remote-only records are merged locally.
// Records present on both sides are never compared.
//
// The local snapshot is taken before the remote list, so a record that is
// not in flight at snapshot time has either reached the remote already or
// failed to.
func Reconcile[E remote.Identified](ctx context.Context, kind string, probe store.Prober, local Collection[E], src Source[E], params url.Values) (Result, error) {
	res := Result{Entity: kind}
	if !probe.Available(ctx) {
		res.Skipped = true
		slog.InfoContext(ctx, "Remote unreachable, skipping sync", passFields(res)...)
		return res, nil
	}

	localItems := local.All()
	inFlight := make(map[int64]struct{})
	for _, e := range localItems {
		if local.Creating(e.GetID()) {
			inFlight[e.GetID()] = struct{}{}
		}
	}

	remoteItems, err := src.List(ctx, params)
	if err != nil {
		return res, fmt.Errorf("list remote %s: %w", kind, err)
	}

	remoteIDs := make(map[int64]struct{}, len(remoteItems))
	for _, e := range remoteItems {
		remoteIDs[e.GetID()] = struct{}{}
	}
	localIDs := make(map[int64]struct{}, len(localItems))
	for _, e := range localItems {
		localIDs[e.GetID()] = struct{}{}
	}

	var toPush []E
	for _, e := range localItems {
		_, onRemote := remoteIDs[e.GetID()]
		_, creating := inFlight[e.GetID()]
		if !onRemote && !creating {
			toPush = append(toPush, e)
		}
	}
	var toPull []E
	for _, e := range remoteItems {
		if _, ok := localIDs[e.GetID()]; !ok {
			toPull = append(toPull, e)
		}
	}

	var (
		mu     sync.Mutex
		pushes errgroup.Group
	)
	for _, e := range toPush {
		pushes.Go(func() error {
			err := src.Create(ctx, e)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				slog.WarnContext(ctx, "Failed to push record", "entity", kind, "id", e.GetID(), "error", err)
				return nil
			}
			res.Pushed++
			return nil
		})
	}

	res.Pulled = local.Merge(ctx, toPull)
	_ = pushes.Wait()

	slog.InfoContext(ctx, "Sync pass complete", append(passFields(res), "in_flight", len(inFlight))...)
	return res, nil
}

func passFields(res Result) []any {
	return log.NewFields().
		WithRecord(res.Entity, 0).
		WithSyncCounts(res.Pushed, res.Pulled, res.Failed, res.Skipped).
		ToSlice()
}

// SyncService runs reconciliation passes for every collection.
type SyncService struct {
	gateway       *remote.Gateway
	probe         store.Prober
	boxes         *store.BoxStore
	history       *store.Store[core.Submission, *core.Submission]
	expenses      *store.Store[core.Expense, *core.Expense]
	expenseBoxes  *store.Store[core.ExpenseBox, *core.ExpenseBox]
	weeklyBalance *store.Store[core.WeeklyBalance, *core.WeeklyBalance]
}

func NewSyncService(gateway *remote.Gateway, probe store.Prober, st *Stores) *SyncService {
	if probe == nil {
		probe = gateway
	}
	return &SyncService{
		gateway:       gateway,
		probe:         probe,
		boxes:         st.Boxes,
		history:       st.History,
		expenses:      st.Expenses,
		expenseBoxes:  st.ExpenseBoxes,
		weeklyBalance: st.WeeklyBalances,
	}
}

type pass struct {
	name string
	run  func(context.Context) (Result, error)
}

func (s *SyncService) passes() []pass {
	return []pass{
		{"box", func(ctx context.Context) (Result, error) {
			return Reconcile[core.Box](ctx, "box", s.probe, s.boxes, s.gateway.Boxes, nil)
		}},
		{"history", func(ctx context.Context) (Result, error) {
			return Reconcile[core.Submission](ctx, "history", s.probe, s.history, s.gateway.History, nil)
		}},
		{"expense", func(ctx context.Context) (Result, error) {
			return Reconcile[core.Expense](ctx, "expense", s.probe, s.expenses, s.gateway.Expenses, nil)
		}},
		{"expensebox", func(ctx context.Context) (Result, error) {
			return Reconcile[core.ExpenseBox](ctx, "expensebox", s.probe, s.expenseBoxes, s.gateway.ExpenseBoxes, nil)
		}},
		{"weeklybalance", func(ctx context.Context) (Result, error) {
			return Reconcile[core.WeeklyBalance](ctx, "weeklybalance", s.probe, s.weeklyBalance, s.gateway.WeeklyBalances, nil)
		}},
	}
}

// SyncAll reconciles boxes, history, expenses, expense links and weekly
// balances in turn. A failing pass is logged and the rest still run; the
// returned error joins every failure.
func (s *SyncService) SyncAll(ctx context.Context) ([]Result, error) {
	passes := s.passes()
	results := make([]Result, 0, len(passes))
	var errs []error
	for _, p := range passes {
		res, err := p.run(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "Sync pass failed", "entity", p.name, "error", err)
			errs = append(errs, err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// SyncEntity runs the single pass for one collection kind.
func (s *SyncService) SyncEntity(ctx context.Context, kind string) (Result, error) {
	for _, p := range s.passes() {
		if p.name == kind {
			return p.run(ctx)
		}
	}
	return Result{Entity: kind}, fmt.Errorf("sync %q: %w", kind, ErrUnknownEntity)
}

// controlsOf adapts one box's controls to a Collection.
type controlsOf struct {
	boxes *store.BoxStore
	boxID int64
}

func (c controlsOf) All() []core.BoxControl { return c.boxes.Controls(c.boxID) }

func (c controlsOf) Creating(id int64) bool { return c.boxes.CreatingControl(id) }

func (c controlsOf) Merge(ctx context.Context, items []core.BoxControl) int {
	return c.boxes.MergeControls(ctx, c.boxID, items)
}

// SyncBoxControls reconciles the controls of one box, listing remote
// controls filtered by box_id.
func (s *SyncService) SyncBoxControls(ctx context.Context, boxID int64) (Result, error) {
	if _, ok := s.boxes.Get(boxID); !ok {
		return Result{Entity: "boxcontrol"}, fmt.Errorf("sync box %d controls: %w", boxID, ErrNotFound)
	}
	params := url.Values{"box_id": {fmt.Sprint(boxID)}}
	return Reconcile[core.BoxControl](ctx, "boxcontrol", s.probe, controlsOf{s.boxes, boxID}, s.gateway.Controls, params)
}
