package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ganancias/internal/core"
)

func newBoxes(h *harness, boxes Remote[core.Box], controls Remote[core.BoxControl], p Prober, ids IDSource) *BoxStore {
	return NewBoxStore(context.Background(), Config[core.Box]{
		Kind:   "box",
		Key:    "registro-ganancias-boxes",
		KV:     h.kv,
		Remote: boxes,
		Probe:  p,
		Runner: h.runner,
		Now:    func() time.Time { return fixedNow },
		IDs:    ids,
	}, controls)
}

func TestBoxDefaults(t *testing.T) {
	h := newHarness()
	s := newBoxes(h, nil, nil, probe(false), nil)
	b := s.Add(context.Background(), core.Box{})
	if b.Name != core.DefaultBoxName || b.Icon != core.DefaultBoxIcon || b.Total != 0 {
		t.Fatalf("unexpected defaults %+v", b)
	}
}

func TestControlAggregates(t *testing.T) {
	h := newHarness()
	s := newBoxes(h, nil, nil, probe(false), nil)
	ctx := context.Background()
	box := s.Add(ctx, core.Box{Name: "Maíz", Category: core.CategoryCorn, CantPriceFields: true})

	a, err := s.AddControl(ctx, box.ID, core.BoxControl{Quantity: core.Amount(2), Price: core.Amount(50)})
	if err != nil {
		t.Fatalf("add control: %v", err)
	}
	b, err := s.AddControl(ctx, box.ID, core.BoxControl{Total: -30})
	if err != nil {
		t.Fatalf("add control: %v", err)
	}
	if a.Total != 100 || a.Origin != core.OriginManual || a.Date != "2025-09-10" {
		t.Fatalf("unexpected control defaults %+v", a)
	}

	assertTotal := func(want float64) {
		t.Helper()
		got, _ := s.Get(box.ID)
		if got.Total != want {
			t.Fatalf("expected total %v, got %v", want, got.Total)
		}
		if got.Total != got.ComputeTotal() {
			t.Fatalf("total %v disagrees with controls %v", got.Total, got.ComputeTotal())
		}
	}
	assertTotal(70)

	controls := s.Controls(box.ID)
	if len(controls) != 2 || controls[0].ID != b.ID {
		t.Fatalf("expected newest control first, got %+v", controls)
	}

	a.Quantity = core.Amount(3)
	if err := s.UpdateControl(ctx, a); err != nil {
		t.Fatalf("update control: %v", err)
	}
	assertTotal(120)
	updated, ok := s.Control(box.ID, a.ID)
	if !ok || updated.Total != 150 || !updated.CreatedAt.Equal(a.CreatedAt) {
		t.Fatalf("unexpected updated control %+v", updated)
	}

	if !s.RemoveControl(ctx, box.ID, b.ID) {
		t.Fatalf("expected remove to succeed")
	}
	assertTotal(150)
	if _, ok := s.Control(box.ID, b.ID); ok {
		t.Fatalf("removed control still visible")
	}
	if s.RemoveControl(ctx, box.ID, b.ID) {
		t.Fatalf("second remove must report false")
	}

	raw := rawRecords(t, h.kv, "registro-ganancias-boxes")
	stored := raw[0]["controls"].([]any)
	if len(stored) != 2 {
		t.Fatalf("expected tombstoned control kept in storage, got %v", stored)
	}
}

func TestAddControlErrors(t *testing.T) {
	h := newHarness()
	s := newBoxes(h, nil, nil, probe(false), nil)
	ctx := context.Background()

	if _, err := s.AddControl(ctx, 12345, core.BoxControl{Total: 1}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	box := s.Add(ctx, core.Box{})
	if _, err := s.AddControl(ctx, box.ID, core.BoxControl{Quantity: core.Amount(-1)}); err == nil {
		t.Fatalf("expected validation error")
	}
	s.Remove(ctx, box.ID)
	if _, err := s.AddControl(ctx, box.ID, core.BoxControl{Total: 1}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for deleted box, got %v", err)
	}
}

func TestControlIDsUniqueAcrossBoxes(t *testing.T) {
	h := newHarness()
	s := newBoxes(h, nil, nil, probe(false), sequence(1, 2, 10, 10, 11))
	ctx := context.Background()

	b1 := s.Add(ctx, core.Box{})
	b2 := s.Add(ctx, core.Box{})
	c1, _ := s.AddControl(ctx, b1.ID, core.BoxControl{Total: 1})
	c2, _ := s.AddControl(ctx, b2.ID, core.BoxControl{Total: 1})

	if c1.ID != 10 || c2.ID != 11 {
		t.Fatalf("expected control ids 10 and 11, got %d and %d", c1.ID, c2.ID)
	}
	if found, ok := s.FindControl(c2.ID); !ok || found.BoxID != b2.ID {
		t.Fatalf("expected to find control in second box, got %+v", found)
	}
}

func TestMergeControlsLeavesTotal(t *testing.T) {
	h := newHarness()
	controls := &fakeRemote[core.BoxControl]{}
	s := newBoxes(h, nil, controls, probe(true), nil)
	ctx := context.Background()

	box := s.Add(ctx, core.Box{})
	local, _ := s.AddControl(ctx, box.ID, core.BoxControl{Total: 10})
	h.runner.Wait()
	before := controls.calls()

	n := s.MergeControls(ctx, box.ID, []core.BoxControl{
		{ID: local.ID, Total: 999},
		{ID: 555, Total: 40},
	})
	h.runner.Wait()
	if n != 1 {
		t.Fatalf("expected 1 merged control, got %d", n)
	}

	got, _ := s.Get(box.ID)
	if got.Total != 10 {
		t.Fatalf("merge must not recompute the total, got %v", got.Total)
	}
	if len(got.VisibleControls()) != 2 {
		t.Fatalf("expected pulled control visible, got %+v", got.Controls)
	}
	if got.ComputeTotal() != 50 {
		t.Fatalf("expected controls to sum to 50, got %v", got.ComputeTotal())
	}
	if controls.calls() != before {
		t.Fatalf("merge must not call the remote")
	}

	if !s.Update(ctx, got) {
		t.Fatalf("expected box update")
	}
	if got, _ := s.Get(box.ID); got.Total != 50 {
		t.Fatalf("box update must resum controls, got %v", got.Total)
	}
}

func TestControlRemoteMirroring(t *testing.T) {
	h := newHarness()
	controls := &fakeRemote[core.BoxControl]{}
	s := newBoxes(h, nil, controls, probe(true), nil)
	ctx := context.Background()

	box := s.Add(ctx, core.Box{})
	c, _ := s.AddControl(ctx, box.ID, core.BoxControl{Total: 5})
	c.Total = 6
	if err := s.UpdateControl(ctx, c); err != nil {
		t.Fatalf("update control: %v", err)
	}
	s.RemoveControl(ctx, box.ID, c.ID)
	h.runner.Wait()

	if len(controls.created) != 1 || len(controls.updated) != 1 || len(controls.deleted) != 1 {
		t.Fatalf("expected create/update/delete, got %d/%d/%d",
			len(controls.created), len(controls.updated), len(controls.deleted))
	}
	if controls.created[0].BoxID != box.ID {
		t.Fatalf("expected control payload to carry box id")
	}
}

func TestReturnedBoxesDoNotAlias(t *testing.T) {
	h := newHarness()
	s := newBoxes(h, nil, nil, probe(false), nil)
	ctx := context.Background()

	box := s.Add(ctx, core.Box{})
	s.AddControl(ctx, box.ID, core.BoxControl{Total: 5})

	got, _ := s.Get(box.ID)
	got.Controls[0].Total = 1000
	again, _ := s.Get(box.ID)
	if again.Controls[0].Total != 5 {
		t.Fatalf("mutating a returned box changed the store")
	}
}

func TestUpdateControlValidates(t *testing.T) {
	h := newHarness()
	s := newBoxes(h, nil, nil, probe(false), nil)
	ctx := context.Background()
	box := s.Add(ctx, core.Box{})
	c, err := s.AddControl(ctx, box.ID, core.BoxControl{Quantity: core.Amount(2), Price: core.Amount(5)})
	if err != nil {
		t.Fatalf("add control: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*core.BoxControl)
		wantErr error
	}{
		{"negative quantity", func(c *core.BoxControl) { c.Quantity = core.Amount(-1) }, core.ErrInvalidAmount},
		{"negative price", func(c *core.BoxControl) { c.Price = core.Amount(-3) }, core.ErrInvalidAmount},
		{"note too long", func(c *core.BoxControl) { c.Note = strings.Repeat("x", 201) }, core.ErrFieldTooLong},
		{"unknown control", func(c *core.BoxControl) { c.ID = c.ID + 1 }, ErrNotFound},
		{"unknown box", func(c *core.BoxControl) { c.BoxID = box.ID + 1 }, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := c
			tt.mutate(&changed)
			if err := s.UpdateControl(ctx, changed); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			got, ok := s.Control(box.ID, c.ID)
			if !ok || got.Total != 10 || core.ValueOf(got.Quantity) != 2 || core.ValueOf(got.Price) != 5 {
				t.Fatalf("rejected update changed the control: %+v", got)
			}
		})
	}
}

func TestAddStartsBoxEmpty(t *testing.T) {
	h := newHarness()
	s := newBoxes(h, nil, nil, probe(false), nil)
	ctx := context.Background()

	box := s.Add(ctx, core.Box{
		Name:     "Carbón",
		Total:    99,
		Controls: []core.BoxControl{{Total: 40}, {Total: 2}},
	})
	if box.Total != 0 || len(box.Controls) != 0 {
		t.Fatalf("expected an empty box, got total %v and %d controls", box.Total, len(box.Controls))
	}

	c, err := s.AddControl(ctx, box.ID, core.BoxControl{Total: 40})
	if err != nil {
		t.Fatalf("add control: %v", err)
	}
	got, _ := s.Get(box.ID)
	if c.ID == 0 || got.Total != 40 || got.Total != got.ComputeTotal() {
		t.Fatalf("unexpected box after first control %+v", got)
	}
}

func TestCreatingControlUntilRemoteReturns(t *testing.T) {
	h := newHarness()
	controls := &fakeRemote[core.BoxControl]{block: make(chan struct{})}
	s := newBoxes(h, nil, controls, probe(true), nil)
	ctx := context.Background()

	box := s.Add(ctx, core.Box{})
	c, err := s.AddControl(ctx, box.ID, core.BoxControl{Total: 5})
	if err != nil {
		t.Fatalf("add control: %v", err)
	}
	if !s.CreatingControl(c.ID) {
		t.Fatalf("expected control %d to be in flight", c.ID)
	}
	if s.Creating(box.ID) {
		t.Fatalf("box without a box remote must not be in flight")
	}

	close(controls.block)
	h.runner.Wait()
	if s.CreatingControl(c.ID) {
		t.Fatalf("control %d still in flight after the create returned", c.ID)
	}
}
