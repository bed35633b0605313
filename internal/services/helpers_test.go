package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"ganancias/internal/core"
	"ganancias/internal/remote"
	"ganancias/internal/storage"
	"ganancias/internal/store"
	"ganancias/internal/tasks"
)

var fixedNow = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

// newStores builds local-only stores over one memory repository.
func newStores(t *testing.T) *Stores {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemoryRepository()
	runner := tasks.NewRunner(nil, nil)
	now := func() time.Time { return fixedNow }

	return &Stores{
		Boxes: store.NewBoxStore(ctx, store.Config[core.Box]{
			Kind: "box", Key: "registro-ganancias-boxes", KV: kv, Runner: runner, Now: now,
		}, nil),
		History: store.New[core.Submission](ctx, store.Config[core.Submission]{
			Kind: "history", Key: "registro-ganancias-history", KV: kv, Runner: runner, Now: now,
		}),
		Expenses: store.New[core.Expense](ctx, store.Config[core.Expense]{
			Kind: "expense", Key: "registro-ganancias-expenses", KV: kv, Runner: runner, Now: now,
		}),
		ExpenseBoxes: store.New[core.ExpenseBox](ctx, store.Config[core.ExpenseBox]{
			Kind: "expensebox", Key: "registro-ganancias-expensesboxes", KV: kv, Runner: runner, Now: now,
		}),
		WeeklyBalances: store.New[core.WeeklyBalance](ctx, store.Config[core.WeeklyBalance]{
			Kind: "weeklybalance", Key: "registro-ganancias-weeklybalances", KV: kv, Runner: runner, Now: now,
		}),
	}
}

// restAPI is an in-memory REST backend keyed by collection path.
type restAPI struct {
	mu         sync.Mutex
	items      map[string][]map[string]any
	failCreate map[int64]bool
	failList   map[string]bool
	requests   int

	// createDelay holds every POST before it is recorded.
	createDelay time.Duration
}

func newRestAPI() *restAPI {
	return &restAPI{
		items:      make(map[string][]map[string]any),
		failCreate: make(map[int64]bool),
		failList:   make(map[string]bool),
	}
}

// seed stores items as they would arrive over the wire.
func (a *restAPI) seed(collection string, items ...map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, item := range items {
		data, _ := json.Marshal(item)
		var decoded map[string]any
		_ = json.Unmarshal(data, &decoded)
		a.items[collection] = append(a.items[collection], decoded)
	}
}

func (a *restAPI) rejectCreate(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failCreate[id] = true
}

func (a *restAPI) list(collection string) []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]any(nil), a.items[collection]...)
}

func (a *restAPI) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests
}

func (a *restAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		a.mu.Lock()
		delay := a.createDelay
		a.mu.Unlock()
		time.Sleep(delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests++

	path := strings.TrimPrefix(r.URL.Path, "/api/")
	if path == "" {
		_, _ = w.Write([]byte("ok"))
		return
	}
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	collection := parts[0] + "/"

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		if a.failList[collection] {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		out := []map[string]any{}
		boxID := r.URL.Query().Get("box_id")
		for _, item := range a.items[collection] {
			if boxID != "" && strconv.FormatFloat(asFloat(item["box"]), 'f', -1, 64) != boxID {
				continue
			}
			out = append(out, item)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)

	case r.Method == http.MethodPost && len(parts) == 1:
		body, _ := io.ReadAll(r.Body)
		var item map[string]any
		if err := json.Unmarshal(body, &item); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if a.failCreate[int64(asFloat(item["id"]))] {
			http.Error(w, "rejected", http.StatusInternalServerError)
			return
		}
		a.items[collection] = append(a.items[collection], item)
		w.WriteHeader(http.StatusCreated)

	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

func newTestGateway(t *testing.T, api *restAPI) *remote.Gateway {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := remote.NewClient(srv.URL+"/api/", remote.Options{
		Network: remote.StaticStatus(true),
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return remote.NewGateway(c, "")
}

type offline struct{}

func (offline) Available(context.Context) bool { return false }
