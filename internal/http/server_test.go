package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"ganancias/internal/core"
	"ganancias/internal/middleware/trace"
	"ganancias/internal/services"
	"ganancias/internal/storage"
	"ganancias/internal/store"
)

type fakeSyncer struct {
	results []services.Result
	err     error
	boxErr  error
}

func (f *fakeSyncer) SyncAll(context.Context) ([]services.Result, error) {
	return f.results, f.err
}

func (f *fakeSyncer) SyncBoxControls(_ context.Context, boxID int64) (services.Result, error) {
	return services.Result{Entity: "boxcontrol", Pulled: 1}, f.boxErr
}

func newTestServer(t *testing.T, syncer Syncer, opts ...Option) (*Server, *services.Ledger) {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemoryRepository()
	now := func() time.Time { return time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC) }

	st := &services.Stores{
		Boxes: store.NewBoxStore(ctx, store.Config[core.Box]{Kind: "box", Key: "boxes", KV: kv, Now: now}, nil),
		History: store.New[core.Submission](ctx, store.Config[core.Submission]{
			Kind: "history", Key: "history", KV: kv, Now: now,
		}),
		Expenses: store.New[core.Expense](ctx, store.Config[core.Expense]{
			Kind: "expense", Key: "expenses", KV: kv, Now: now,
		}),
		ExpenseBoxes: store.New[core.ExpenseBox](ctx, store.Config[core.ExpenseBox]{
			Kind: "expensebox", Key: "expensesboxes", KV: kv, Now: now,
		}),
		WeeklyBalances: store.New[core.WeeklyBalance](ctx, store.Config[core.WeeklyBalance]{
			Kind: "weeklybalance", Key: "weeklybalances", KV: kv, Now: now,
		}),
	}
	if syncer == nil {
		syncer = &fakeSyncer{}
	}
	ledger := services.NewLedger(st)
	return NewServer(":0", ledger, syncer, nil, opts...), ledger
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		if strings.HasPrefix(body, "{") {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndRequestID(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	id := rr.Header().Get(trace.RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected UUID request id, got %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	incoming := uuid.NewString()
	req.Header.Set(trace.RequestIDHeader, incoming)
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get(trace.RequestIDHeader); got != incoming {
		t.Fatalf("expected incoming request id kept, got %q", got)
	}
}

func TestBoxLifecycle(t *testing.T) {
	srv, ledger := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/boxes", `{"name":"Maíz","category":"Maíz","cantPriceFields":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create box status=%d body=%s", rr.Code, rr.Body.String())
	}
	box := decode[core.Box](t, rr)
	if box.Category != core.CategoryCorn || box.Icon != core.DefaultBoxIcon || !box.CantPriceFields {
		t.Fatalf("unexpected box %+v", box)
	}

	path := fmt.Sprintf("/boxes/%d/controls", box.ID)
	rr = do(t, srv, http.MethodPost, path, "quantity=4&price=2.5&date=10%2F09%2F2025")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create control status=%d body=%s", rr.Code, rr.Body.String())
	}
	c := decode[core.BoxControl](t, rr)
	if c.Total != 10 || c.Date != "2025-09-10" || c.Origin != core.OriginManual {
		t.Fatalf("unexpected control %+v", c)
	}

	if got := decode[[]core.BoxControl](t, do(t, srv, http.MethodGet, path, "")); len(got) != 1 {
		t.Fatalf("expected one control, got %d", len(got))
	}
	if b, _ := ledger.Stores().Boxes.Get(box.ID); b.Total != 10 {
		t.Fatalf("expected box total 10, got %v", b.Total)
	}

	rr = do(t, srv, http.MethodDelete, fmt.Sprintf("%s/%d", path, c.ID), "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete control status=%d", rr.Code)
	}
	rr = do(t, srv, http.MethodDelete, fmt.Sprintf("/boxes/%d", box.ID), "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete box status=%d", rr.Code)
	}
	if got := decode[[]core.Box](t, do(t, srv, http.MethodGet, "/boxes", "")); len(got) != 0 {
		t.Fatalf("expected no visible boxes, got %d", len(got))
	}
}

func TestValidationAndNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown category", http.MethodPost, "/boxes", `{"category":"arroz"}`, http.StatusUnprocessableEntity},
		{"name too long", http.MethodPost, "/boxes", `{"name":"` + strings.Repeat("x", 101) + `"}`, http.StatusUnprocessableEntity},
		{"bad json", http.MethodPost, "/boxes", `{"name":`, http.StatusBadRequest},
		{"negative earnings", http.MethodPost, "/expenses", "earnings=-5", http.StatusUnprocessableEntity},
		{"bad amount", http.MethodPost, "/history", "earnings=abc", http.StatusUnprocessableEntity},
		{"bad date", http.MethodPost, "/expenses", "date=someday&earnings=1", http.StatusUnprocessableEntity},
		{"week order", http.MethodPost, "/weekly-balances", "weekStart=2025-09-07&weekEnd=2025-09-01", http.StatusUnprocessableEntity},
		{"control on missing box", http.MethodPost, "/boxes/99/controls", "total=1", http.StatusNotFound},
		{"controls of missing box", http.MethodGet, "/boxes/99/controls", "", http.StatusNotFound},
		{"series of missing box", http.MethodGet, "/boxes/99/series", "", http.StatusNotFound},
		{"delete missing box", http.MethodDelete, "/boxes/99", "", http.StatusNotFound},
		{"delete missing expense", http.MethodDelete, "/expenses/99", "", http.StatusNotFound},
		{"assign missing expense", http.MethodPost, "/expenses/99/boxes/1", "", http.StatusNotFound},
		{"delete missing submission", http.MethodDelete, "/history/99", "", http.StatusNotFound},
		{"malformed id", http.MethodDelete, "/boxes/abc", "", http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/boxes", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestExpenseAssignAndCascade(t *testing.T) {
	srv, ledger := newTestServer(t, nil)

	box := decode[core.Box](t, do(t, srv, http.MethodPost, "/boxes", "name=Ganancias"))
	rr := do(t, srv, http.MethodPost, "/expenses", `{"date":"10 de septiembre de 2025","earnings":100,"totalExpenses":"30"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create expense status=%d body=%s", rr.Code, rr.Body.String())
	}
	e := decode[core.Expense](t, rr)
	if e.Date != "2025-09-10" || e.NetProfit != 70 {
		t.Fatalf("unexpected expense %+v", e)
	}

	rr = do(t, srv, http.MethodPost, fmt.Sprintf("/expenses/%d/boxes/%d", e.ID, box.ID), "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("assign status=%d body=%s", rr.Code, rr.Body.String())
	}
	link := decode[core.ExpenseBox](t, rr)
	if link.Expense != e.ID || link.Box != box.ID || link.BoxControl == 0 {
		t.Fatalf("unexpected link %+v", link)
	}

	if rr := do(t, srv, http.MethodDelete, fmt.Sprintf("/expenses/%d", e.ID), ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete expense status=%d", rr.Code)
	}
	if b, _ := ledger.Stores().Boxes.Get(box.ID); b.Total != 0 || len(b.VisibleControls()) != 0 {
		t.Fatalf("expected cascade to clear the box, got %+v", b)
	}
}

func TestHistoryAndSeries(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	box := decode[core.Box](t, do(t, srv, http.MethodPost, "/boxes", `{"name":"Carbón","category":"carbon"}`))
	rr := do(t, srv, http.MethodPost, "/history",
		"date=2025-09-10&earnings=1%2C000&cornBags=2&cornPrice=50&charcoalBags=1&charcoalPrice=30&generalExpenses=20")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create submission status=%d body=%s", rr.Code, rr.Body.String())
	}
	sub := decode[core.Submission](t, rr)
	if sub.TotalExpenses != 150 || sub.NetProfit != 850 {
		t.Fatalf("unexpected totals %v/%v", sub.TotalExpenses, sub.NetProfit)
	}

	points := decode[[]core.SeriesPoint](t, do(t, srv, http.MethodGet, fmt.Sprintf("/boxes/%d/series", box.ID), ""))
	if len(points) != 1 || points[0].Value != 30 || points[0].Label != "2025-09-10" {
		t.Fatalf("unexpected series %+v", points)
	}

	if rr := do(t, srv, http.MethodDelete, fmt.Sprintf("/history/%d", sub.ID), ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete submission status=%d", rr.Code)
	}
}

func TestWeeklyBalances(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/weekly-balances", `{"weekStart":"2025-09-01","weekEnd":"2025-09-07","earnings":500,"totalExpenses":120}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	wb := decode[core.WeeklyBalance](t, rr)
	if wb.NetProfit != 380 {
		t.Fatalf("unexpected balance %+v", wb)
	}
	if got := decode[[]core.WeeklyBalance](t, do(t, srv, http.MethodGet, "/weekly-balances", "")); len(got) != 1 {
		t.Fatalf("expected one balance, got %d", len(got))
	}
	if rr := do(t, srv, http.MethodDelete, fmt.Sprintf("/weekly-balances/%d", wb.ID), ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
}

func TestSyncEndpoints(t *testing.T) {
	syncer := &fakeSyncer{
		results: []services.Result{{Entity: "box", Pushed: 1}, {Entity: "history", Skipped: true}},
		err:     errors.New("list remote history: boom"),
	}
	srv, _ := newTestServer(t, syncer)

	rr := do(t, srv, http.MethodPost, "/sync", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("sync status=%d", rr.Code)
	}
	resp := decode[syncResponse](t, rr)
	if len(resp.Results) != 2 || resp.Error == "" {
		t.Fatalf("unexpected sync response %+v", resp)
	}

	box := decode[core.Box](t, do(t, srv, http.MethodPost, "/boxes", "name=Motos"))
	rr = do(t, srv, http.MethodPost, fmt.Sprintf("/boxes/%d/sync", box.ID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("box sync status=%d", rr.Code)
	}
	if res := decode[services.Result](t, rr); res.Pulled != 1 {
		t.Fatalf("unexpected box sync result %+v", res)
	}

	syncer.boxErr = fmt.Errorf("sync box 5 controls: %w", services.ErrNotFound)
	if rr := do(t, srv, http.MethodPost, "/boxes/5/sync", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown box, got %d", rr.Code)
	}
	syncer.boxErr = errors.New("list remote boxcontrol: timeout")
	if rr := do(t, srv, http.MethodPost, "/boxes/5/sync", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for remote failure, got %d", rr.Code)
	}
}

func TestCleanDatesEndpoint(t *testing.T) {
	srv, ledger := newTestServer(t, nil)
	ledger.Stores().History.Merge(context.Background(), []core.Submission{{ID: 1, Date: "10/09/2025"}})

	rr := do(t, srv, http.MethodPost, "/maintenance/clean-dates", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if report := decode[services.CleanupReport](t, rr); report.History != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRateLimitAndHeaders(t *testing.T) {
	srv, _ := newTestServer(t, nil, WithRateLimit(2))
	defer srv.Shutdown(context.Background())

	codes := make([]int, 3)
	var last *httptest.ResponseRecorder
	for i := range codes {
		last = do(t, srv, http.MethodGet, "/boxes", "")
		codes[i] = last.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
	if last.Header().Get("Retry-After") == "" || last.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("unexpected headers %v", last.Header())
	}
	if body := decode[errorBody](t, last); body.Error != "rate limit exceeded" {
		t.Fatalf("unexpected body %+v", body)
	}
}
