package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ganancias/internal/core"
	"ganancias/internal/remote"
	"ganancias/internal/storage"
	"ganancias/internal/store"
	"ganancias/internal/tasks"
)

func resultFor(t *testing.T, results []Result, entity string) Result {
	t.Helper()
	for _, r := range results {
		if r.Entity == entity {
			return r
		}
	}
	t.Fatalf("no result for %s in %+v", entity, results)
	return Result{}
}

func TestSyncAllPushesAndPulls(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	api := newRestAPI()
	svc := NewSyncService(newTestGateway(t, api), nil, st)

	local := st.Expenses.Add(ctx, core.NewExpense("2025-09-10", 100, 40))
	api.seed("expenses/", map[string]any{
		"id": 4242, "date": "2025-09-09", "earnings": "50.5", "totalExpenses": "10", "netProfit": "40.5",
	})

	results, err := svc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 passes, got %d", len(results))
	}
	res := resultFor(t, results, "expense")
	if res.Pushed != 1 || res.Pulled != 1 || res.Failed != 0 {
		t.Fatalf("unexpected expense result %+v", res)
	}

	pulled, ok := st.Expenses.Get(4242)
	if !ok {
		t.Fatalf("expected remote expense merged locally")
	}
	if pulled.Earnings != 50.5 || pulled.NetProfit != 40.5 {
		t.Fatalf("expected decimal strings decoded, got %+v", pulled)
	}

	pushed := api.list("expenses/")
	found := false
	for _, item := range pushed {
		if int64(asFloat(item["id"])) == local.ID {
			found = true
			if _, ok := item["deletedAt"]; ok {
				t.Errorf("tombstone field sent to remote: %v", item)
			}
		}
	}
	if !found {
		t.Fatalf("expected local expense %d pushed, remote has %v", local.ID, pushed)
	}
}

func TestSyncAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	api := newRestAPI()
	svc := NewSyncService(newTestGateway(t, api), nil, st)

	st.Boxes.Add(ctx, core.Box{Name: "Maíz", Category: core.CategoryCorn})
	st.History.Add(ctx, core.Submission{Date: "2025-09-10", Earnings: 10})
	api.seed("weeklybalances/", map[string]any{"id": 9, "weekStart": "2025-09-01", "weekEnd": "2025-09-07"})

	if _, err := svc.SyncAll(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	results, err := svc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	for _, r := range results {
		if r.Pushed != 0 || r.Pulled != 0 || r.Failed != 0 {
			t.Errorf("second pass should be a no-op, got %+v", r)
		}
	}
}

func TestSyncOfflineSkips(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	api := newRestAPI()
	svc := NewSyncService(newTestGateway(t, api), offline{}, st)

	st.Expenses.Add(ctx, core.NewExpense("2025-09-10", 1, 0))

	results, err := svc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("offline sync should not fail: %v", err)
	}
	for _, r := range results {
		if !r.Skipped {
			t.Errorf("expected %s skipped, got %+v", r.Entity, r)
		}
	}
	if n := api.requestCount(); n != 0 {
		t.Fatalf("expected no requests while offline, got %d", n)
	}
}

func TestSyncPushFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	api := newRestAPI()
	svc := NewSyncService(newTestGateway(t, api), nil, st)

	bad := st.Expenses.Add(ctx, core.NewExpense("2025-09-10", 1, 0))
	st.Expenses.Add(ctx, core.NewExpense("2025-09-11", 2, 0))
	api.rejectCreate(bad.ID)

	results, err := svc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("a rejected push is not a pass failure: %v", err)
	}
	res := resultFor(t, results, "expense")
	if res.Pushed != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 pushed and 1 failed, got %+v", res)
	}
	if _, ok := st.Expenses.Get(bad.ID); !ok {
		t.Fatalf("failed push must keep the local record")
	}
}

func TestSyncListFailureDoesNotStopOtherPasses(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	api := newRestAPI()
	api.failList["history/"] = true
	svc := NewSyncService(newTestGateway(t, api), nil, st)

	st.Expenses.Add(ctx, core.NewExpense("2025-09-10", 1, 0))

	results, err := svc.SyncAll(ctx)
	if err == nil {
		t.Fatalf("expected joined error from the history pass")
	}
	if len(results) != 5 {
		t.Fatalf("expected every pass reported, got %d", len(results))
	}
	if res := resultFor(t, results, "expense"); res.Pushed != 1 {
		t.Fatalf("expense pass should still run, got %+v", res)
	}
}

func TestSyncNeverReconcilesUpdates(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	api := newRestAPI()
	svc := NewSyncService(newTestGateway(t, api), nil, st)

	local := st.Expenses.Add(ctx, core.NewExpense("2025-09-10", 10, 0))
	api.seed("expenses/", map[string]any{
		"id": local.ID, "date": "2025-09-10", "earnings": 99, "totalExpenses": 0, "netProfit": 99,
	})

	results, err := svc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	res := resultFor(t, results, "expense")
	if res.Pushed != 0 || res.Pulled != 0 {
		t.Fatalf("records on both sides must be left alone, got %+v", res)
	}
	got, _ := st.Expenses.Get(local.ID)
	if got.Earnings != 10 {
		t.Fatalf("local copy overwritten: %+v", got)
	}
	if remote := api.list("expenses/"); asFloat(remote[0]["earnings"]) != 99 {
		t.Fatalf("remote copy overwritten: %v", remote[0])
	}
}

func TestSyncBoxControls(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	api := newRestAPI()
	svc := NewSyncService(newTestGateway(t, api), nil, st)

	box := st.Boxes.Add(ctx, core.Box{Name: "Motos", Total: 100})
	other := st.Boxes.Add(ctx, core.Box{Name: "Carbón"})
	local, err := st.Boxes.AddControl(ctx, other.ID, core.BoxControl{Total: 5})
	if err != nil {
		t.Fatalf("add control: %v", err)
	}
	api.seed("boxcontrols/",
		map[string]any{"id": 55, "box": box.ID, "date": "2025-09-10", "origin": "manual", "total": "40"},
		map[string]any{"id": 56, "box": other.ID, "date": "2025-09-10", "origin": "manual", "total": "1"},
	)

	res, err := svc.SyncBoxControls(ctx, box.ID)
	if err != nil {
		t.Fatalf("sync controls: %v", err)
	}
	if res.Pulled != 1 || res.Pushed != 0 {
		t.Fatalf("expected only the box's remote control pulled, got %+v", res)
	}

	got, _ := st.Boxes.Get(box.ID)
	if got.Total != 100 {
		t.Fatalf("pulled controls must not recompute the total, got %v", got.Total)
	}
	controls := st.Boxes.Controls(box.ID)
	if len(controls) != 1 || controls[0].ID != 55 || controls[0].BoxID != box.ID {
		t.Fatalf("unexpected controls %+v", controls)
	}

	res, err = svc.SyncBoxControls(ctx, other.ID)
	if err != nil {
		t.Fatalf("sync other controls: %v", err)
	}
	if res.Pushed != 1 || res.Pulled != 1 {
		t.Fatalf("expected one push and one pull for the second box, got %+v", res)
	}
	if _, ok := st.Boxes.Control(other.ID, local.ID); !ok {
		t.Fatalf("local control lost")
	}
}

func TestSyncBoxControlsUnknownBox(t *testing.T) {
	st := newStores(t)
	svc := NewSyncService(newTestGateway(t, newRestAPI()), nil, st)

	_, err := svc.SyncBoxControls(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncEntity(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	api := newRestAPI()
	svc := NewSyncService(newTestGateway(t, api), nil, st)

	st.Expenses.Add(ctx, core.NewExpense("2025-09-10", 1, 0))
	st.History.Add(ctx, core.Submission{Earnings: 1})

	res, err := svc.SyncEntity(ctx, "expense")
	if err != nil {
		t.Fatalf("sync expense: %v", err)
	}
	if res.Entity != "expense" || res.Pushed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := len(api.list("history/")); n != 0 {
		t.Fatalf("other collections must not sync, history has %d", n)
	}

	if _, err := svc.SyncEntity(ctx, "boxcontrol"); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

// onlineExpenses mirrors expense mutations to gw through runner.
func onlineExpenses(gw *remote.Gateway, runner *tasks.Runner, ids store.IDSource) *store.Store[core.Expense, *core.Expense] {
	return store.New[core.Expense](context.Background(), store.Config[core.Expense]{
		Kind:   "expense",
		Key:    "registro-ganancias-expenses",
		KV:     storage.NewMemoryRepository(),
		Remote: gw.Expenses,
		Probe:  gw,
		Runner: runner,
		Now:    func() time.Time { return fixedNow },
		IDs:    ids,
	})
}

func TestSyncSkipsCreatesInFlight(t *testing.T) {
	ctx := context.Background()
	api := newRestAPI()
	api.createDelay = 100 * time.Millisecond
	gw := newTestGateway(t, api)

	st := newStores(t)
	runner := tasks.NewRunner(nil, nil)
	st.Expenses = onlineExpenses(gw, runner, nil)
	svc := NewSyncService(gw, nil, st)

	e := st.Expenses.Add(ctx, core.NewExpense("2025-09-10", 100, 30))
	res, err := svc.SyncEntity(ctx, "expense")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Pushed != 0 {
		t.Fatalf("expected the in-flight expense not to be pushed, got %+v", res)
	}
	runner.Wait()

	created := 0
	for _, item := range api.list("expenses/") {
		if int64(asFloat(item["id"])) == e.ID {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expense %d created %d times on the remote", e.ID, created)
	}

	res, err = svc.SyncEntity(ctx, "expense")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Pushed != 0 || res.Pulled != 0 {
		t.Fatalf("expected nothing left to reconcile, got %+v", res)
	}
}

func TestSyncPushesAfterFailedCreate(t *testing.T) {
	ctx := context.Background()
	api := newRestAPI()
	gw := newTestGateway(t, api)

	st := newStores(t)
	runner := tasks.NewRunner(nil, nil)
	st.Expenses = onlineExpenses(gw, runner, func() int64 { return 77 })
	svc := NewSyncService(gw, nil, st)

	api.rejectCreate(77)
	st.Expenses.Add(ctx, core.NewExpense("2025-09-10", 10, 1))
	runner.Wait()

	api.mu.Lock()
	delete(api.failCreate, 77)
	api.mu.Unlock()

	res, err := svc.SyncEntity(ctx, "expense")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Pushed != 1 || len(api.list("expenses/")) != 1 {
		t.Fatalf("expected the rejected expense to be pushed once, got %+v", res)
	}
}
