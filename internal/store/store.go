// Package store keeps each entity collection in memory, persists it as a
// whole under one storage key, and mirrors mutations to the remote API when
// it is reachable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"ganancias/internal/storage"
	"ganancias/internal/tasks"
)

// Entity is satisfied by pointers to storable records.
type Entity[E any] interface {
	*E
	GetID() int64
	SetID(int64)
}

// SoftDeleter marks records that are tombstoned instead of spliced out.
type SoftDeleter interface {
	IsDeleted() bool
	MarkDeleted(t time.Time)
}

// Defaulter fills creation defaults on Add.
type Defaulter interface {
	ApplyDefaults(now time.Time)
}

// Remote is the slice of the gateway a store mirrors its mutations to.
type Remote[E any] interface {
	Create(ctx context.Context, e E) error
	Update(ctx context.Context, e E) error
	Delete(ctx context.Context, id int64) error
}

// Prober reports whether the remote can be reached right now.
type Prober interface {
	Available(ctx context.Context) bool
}

type Op string

const (
	OpAdd     Op = "add"
	OpUpdate  Op = "update"
	OpRemove  Op = "remove"
	OpMerge   Op = "merge"
	OpReplace Op = "replace"
)

// Event is delivered to subscribers after a mutation has been persisted.
// Parent is set for records nested inside another entity.
type Event struct {
	Kind   string
	Op     Op
	ID     int64
	Parent int64
}

type Config[E any] struct {
	Kind   string
	Key    string
	KV     storage.KV
	Remote Remote[E]
	Probe  Prober
	Runner *tasks.Runner
	Logger *slog.Logger
	Now    func() time.Time
	IDs    IDSource
}

type Store[E any, PE Entity[E]] struct {
	kind   string
	key    string
	kv     storage.KV
	remote Remote[E]
	probe  Prober
	runner *tasks.Runner
	logger *slog.Logger
	now    func() time.Time
	ids    IDSource

	mu       sync.Mutex
	items    []E
	creating inflight

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New builds a store and loads its collection. A missing key yields an empty
// collection, and so does an unreadable one, after logging it.
func New[E any, PE Entity[E]](ctx context.Context, cfg Config[E]) *Store[E, PE] {
	s := &Store[E, PE]{
		kind:   cfg.Kind,
		key:    cfg.Key,
		kv:     cfg.KV,
		remote: cfg.Remote,
		probe:  cfg.Probe,
		runner: cfg.Runner,
		logger: cfg.Logger,
		now:    cfg.Now,
		ids:    cfg.IDs,
		items:  []E{},
		subs:   make(map[int]func(Event)),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.runner == nil {
		s.runner = tasks.NewRunner(s.logger, nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.ids == nil {
		s.ids = RandomIDs()
	}
	if s.kv == nil {
		s.kv = storage.NewMemoryRepository()
	}
	s.load(ctx)
	return s
}

func (s *Store[E, PE]) Kind() string { return s.kind }

func (s *Store[E, PE]) load(ctx context.Context) {
	data, err := s.kv.Load(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load collection, starting empty",
			"entity", s.kind, "key", s.key, "error", err)
		return
	}

	var items []E
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.WarnContext(ctx, "Discarding corrupt collection",
			"entity", s.kind, "key", s.key, "error", err)
		return
	}
	if items != nil {
		s.items = items
	}
	s.logger.DebugContext(ctx, "Collection loaded", "entity", s.kind, "count", len(s.items))
}

// All returns the visible records in stored order.
func (s *Store[E, PE]) All() []E {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]E, 0, len(s.items))
	for i := range s.items {
		if !s.deletedLocked(i) {
			out = append(out, s.copyOf(s.items[i]))
		}
	}
	return out
}

func (s *Store[E, PE]) Get(id int64) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.visibleIndexLocked(id); i >= 0 {
		return s.copyOf(s.items[i]), true
	}
	var zero E
	return zero, false
}

// Add assigns a fresh id, applies defaults and prepends e.
func (s *Store[E, PE]) Add(ctx context.Context, e E) E {
	e = s.copyOf(e)
	p := PE(&e)

	s.mu.Lock()
	if d, ok := any(p).(Defaulter); ok {
		d.ApplyDefaults(s.now())
	}
	p.SetID(nextID(s.ids, s.hasIDLocked))
	id := p.GetID()
	var release func()
	if s.remote != nil {
		release = s.creating.start(id)
	}
	s.items = append([]E{e}, s.items...)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(Event{Kind: s.kind, Op: OpAdd, ID: id})
	if s.remote != nil {
		sent := s.copyOf(e)
		s.background(ctx, s.kind, "create", id, release, func(ctx context.Context) error {
			return s.remote.Create(ctx, sent)
		})
	}
	return s.copyOf(e)
}

// Creating reports whether the remote create of id is still running.
func (s *Store[E, PE]) Creating(id int64) bool {
	return s.creating.has(id)
}

// Update replaces the visible record with e's id. Unknown ids are ignored.
func (s *Store[E, PE]) Update(ctx context.Context, e E) bool {
	e = s.copyOf(e)
	id := PE(&e).GetID()

	s.mu.Lock()
	i := s.visibleIndexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.items[i] = e
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(Event{Kind: s.kind, Op: OpUpdate, ID: id})
	if s.remote != nil {
		sent := s.copyOf(e)
		s.background(ctx, s.kind, "update", id, nil, func(ctx context.Context) error {
			return s.remote.Update(ctx, sent)
		})
	}
	return true
}

// Remove tombstones soft-deletable records and splices out the rest.
func (s *Store[E, PE]) Remove(ctx context.Context, id int64) bool {
	s.mu.Lock()
	i := s.visibleIndexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	if sd, ok := any(PE(&s.items[i])).(SoftDeleter); ok {
		sd.MarkDeleted(s.now())
	} else {
		s.items = slices.Delete(s.items, i, i+1)
	}
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(Event{Kind: s.kind, Op: OpRemove, ID: id})
	if s.remote != nil {
		s.background(ctx, s.kind, "delete", id, nil, func(ctx context.Context) error {
			return s.remote.Delete(ctx, id)
		})
	}
	return true
}

// Merge appends pulled records, keeping their ids. Records whose id is
// already visible are left untouched; a local tombstone is replaced. The
// remote is never called. It returns the number of records merged.
func (s *Store[E, PE]) Merge(ctx context.Context, items []E) int {
	var merged []int64

	s.mu.Lock()
	for _, e := range items {
		e = s.copyOf(e)
		id := PE(&e).GetID()
		if i := s.indexLocked(id); i >= 0 {
			if !s.deletedLocked(i) {
				continue
			}
			s.items[i] = e
		} else {
			s.items = append(s.items, e)
		}
		merged = append(merged, id)
	}
	if len(merged) > 0 {
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	for _, id := range merged {
		s.notify(Event{Kind: s.kind, Op: OpMerge, ID: id})
	}
	return len(merged)
}

// Replace runs fn over every stored record, tombstones included, and
// persists when fn reports a change. It returns how many records changed.
func (s *Store[E, PE]) Replace(ctx context.Context, fn func(PE) bool) int {
	s.mu.Lock()
	changed := 0
	for i := range s.items {
		if fn(PE(&s.items[i])) {
			changed++
		}
	}
	if changed > 0 {
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	if changed > 0 {
		s.notify(Event{Kind: s.kind, Op: OpReplace})
	}
	return changed
}

// Subscribe registers fn for every future Event until cancel is called.
func (s *Store[E, PE]) Subscribe(fn func(Event)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store[E, PE]) notify(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// persistLocked writes the whole collection. Failures are logged and the
// in-memory state stays authoritative.
func (s *Store[E, PE]) persistLocked(ctx context.Context) {
	data, err := json.Marshal(s.items)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode collection",
			"entity", s.kind, "key", s.key, "error", err)
		return
	}
	if err := s.kv.Save(context.WithoutCancel(ctx), s.key, data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist collection",
			"entity", s.kind, "key", s.key, "error", err)
	}
}

// background mirrors one mutation remotely when the remote is reachable.
// release, when set, runs once the task is over whatever its outcome.
func (s *Store[E, PE]) background(ctx context.Context, kind, op string, id int64, release func(), call func(context.Context) error) {
	s.runner.Go(ctx, kind+"."+op, func(ctx context.Context) error {
		if release != nil {
			defer release()
		}
		if s.probe == nil || !s.probe.Available(ctx) {
			s.logger.DebugContext(ctx, "Remote unreachable, change kept local",
				"entity", kind, "op", op, "id", id)
			return nil
		}
		if err := call(ctx); err != nil {
			return fmt.Errorf("%s %s %d: %w", op, kind, id, err)
		}
		return nil
	})
}

func (s *Store[E, PE]) copyOf(e E) E {
	if c, ok := any(e).(interface{ Clone() E }); ok {
		return c.Clone()
	}
	return e
}

func (s *Store[E, PE]) deletedLocked(i int) bool {
	if sd, ok := any(PE(&s.items[i])).(SoftDeleter); ok {
		return sd.IsDeleted()
	}
	return false
}

func (s *Store[E, PE]) indexLocked(id int64) int {
	for i := range s.items {
		if PE(&s.items[i]).GetID() == id {
			return i
		}
	}
	return -1
}

func (s *Store[E, PE]) visibleIndexLocked(id int64) int {
	i := s.indexLocked(id)
	if i >= 0 && s.deletedLocked(i) {
		return -1
	}
	return i
}

func (s *Store[E, PE]) hasIDLocked(id int64) bool {
	return s.indexLocked(id) >= 0
}
