package store

import (
	"context"
	"errors"

	"ganancias/internal/core"
)

const controlKind = "boxcontrol"

// ErrNotFound is returned when a referenced record is missing or deleted.
var ErrNotFound = errors.New("not found")

// BoxStore keeps boxes with their embedded controls and maintains each
// box total.
type BoxStore struct {
	*Store[core.Box, *core.Box]
	controls         Remote[core.BoxControl]
	creatingControls inflight
}

// NewBoxStore wraps a box store; controls mirrors control mutations remotely.
func NewBoxStore(ctx context.Context, cfg Config[core.Box], controls Remote[core.BoxControl]) *BoxStore {
	return &BoxStore{
		Store:    New[core.Box](ctx, cfg),
		controls: controls,
	}
}

// Update replaces the box and recomputes its total from its controls.
func (b *BoxStore) Update(ctx context.Context, box core.Box) bool {
	box = box.Clone()
	box.Total = box.ComputeTotal()
	return b.Store.Update(ctx, box)
}

// Controls returns the visible controls of a box, or nil for unknown boxes.
func (b *BoxStore) Controls(boxID int64) []core.BoxControl {
	box, ok := b.Get(boxID)
	if !ok {
		return nil
	}
	return box.VisibleControls()
}

func (b *BoxStore) Control(boxID, id int64) (core.BoxControl, bool) {
	for _, c := range b.Controls(boxID) {
		if c.ID == id {
			return c, true
		}
	}
	return core.BoxControl{}, false
}

// FindControl locates a visible control in any visible box.
func (b *BoxStore) FindControl(id int64) (core.BoxControl, bool) {
	for _, box := range b.All() {
		for _, c := range box.VisibleControls() {
			if c.ID == id {
				return c, true
			}
		}
	}
	return core.BoxControl{}, false
}

// AddControl prepends c to the box and adds its total to the box total.
func (b *BoxStore) AddControl(ctx context.Context, boxID int64, c core.BoxControl) (core.BoxControl, error) {
	c.BoxID = boxID
	c.ApplyDefaults(b.now())
	if err := c.Validate(); err != nil {
		return core.BoxControl{}, err
	}

	b.mu.Lock()
	i := b.visibleIndexLocked(boxID)
	if i < 0 {
		b.mu.Unlock()
		return core.BoxControl{}, ErrNotFound
	}
	c.ID = nextID(b.ids, b.controlIDTakenLocked)
	var release func()
	if b.controls != nil {
		release = b.creatingControls.start(c.ID)
	}
	box := &b.items[i]
	box.Controls = append([]core.BoxControl{c}, box.Controls...)
	box.Total += c.Total
	b.persistLocked(ctx)
	b.mu.Unlock()

	b.notify(Event{Kind: controlKind, Op: OpAdd, ID: c.ID, Parent: boxID})
	if b.controls != nil {
		sent := c
		b.background(ctx, controlKind, "create", c.ID, release, func(ctx context.Context) error {
			return b.controls.Create(ctx, sent)
		})
	}
	return c, nil
}

// UpdateControl replaces a visible control and recomputes the box total.
// It is validated like a new control; unknown boxes or controls yield
// ErrNotFound.
func (b *BoxStore) UpdateControl(ctx context.Context, c core.BoxControl) error {
	if err := c.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	i := b.visibleIndexLocked(c.BoxID)
	if i < 0 {
		b.mu.Unlock()
		return ErrNotFound
	}
	box := &b.items[i]
	j := visibleControl(box, c.ID)
	if j < 0 {
		b.mu.Unlock()
		return ErrNotFound
	}
	prev := box.Controls[j]
	c.CreatedAt = prev.CreatedAt
	c.UpdatedAt = b.now()
	c.DeletedAt = nil
	c.Total = core.ControlTotal(c.Quantity, c.Price, c.Total)
	box.Controls[j] = c
	box.Total = box.ComputeTotal()
	b.persistLocked(ctx)
	b.mu.Unlock()

	b.notify(Event{Kind: controlKind, Op: OpUpdate, ID: c.ID, Parent: c.BoxID})
	if b.controls != nil {
		sent := c
		b.background(ctx, controlKind, "update", c.ID, nil, func(ctx context.Context) error {
			return b.controls.Update(ctx, sent)
		})
	}
	return nil
}

// RemoveControl tombstones a control and subtracts its total from the box.
func (b *BoxStore) RemoveControl(ctx context.Context, boxID, id int64) bool {
	b.mu.Lock()
	i := b.visibleIndexLocked(boxID)
	if i < 0 {
		b.mu.Unlock()
		return false
	}
	box := &b.items[i]
	j := visibleControl(box, id)
	if j < 0 {
		b.mu.Unlock()
		return false
	}
	now := b.now()
	box.Controls[j].DeletedAt = &now
	box.Total -= box.Controls[j].Total
	b.persistLocked(ctx)
	b.mu.Unlock()

	b.notify(Event{Kind: controlKind, Op: OpRemove, ID: id, Parent: boxID})
	if b.controls != nil {
		b.background(ctx, controlKind, "delete", id, nil, func(ctx context.Context) error {
			return b.controls.Delete(ctx, id)
		})
	}
	return true
}

// MergeControls appends pulled controls to a box. The box total is left as
// it was; callers that need it consistent must Update the box.
func (b *BoxStore) MergeControls(ctx context.Context, boxID int64, items []core.BoxControl) int {
	var merged []int64

	b.mu.Lock()
	i := b.visibleIndexLocked(boxID)
	if i < 0 {
		b.mu.Unlock()
		return 0
	}
	box := &b.items[i]
	for _, c := range items {
		c.BoxID = boxID
		j := controlIndex(box, c.ID)
		switch {
		case j < 0:
			box.Controls = append(box.Controls, c)
		case box.Controls[j].DeletedAt != nil:
			box.Controls[j] = c
		default:
			continue
		}
		merged = append(merged, c.ID)
	}
	if len(merged) > 0 {
		b.persistLocked(ctx)
	}
	b.mu.Unlock()

	for _, id := range merged {
		b.notify(Event{Kind: controlKind, Op: OpMerge, ID: id, Parent: boxID})
	}
	return len(merged)
}

// CreatingControl reports whether the remote create of control id is still running.
func (b *BoxStore) CreatingControl(id int64) bool {
	return b.creatingControls.has(id)
}

func (b *BoxStore) controlIDTakenLocked(id int64) bool {
	for i := range b.items {
		if controlIndex(&b.items[i], id) >= 0 {
			return true
		}
	}
	return false
}

func controlIndex(box *core.Box, id int64) int {
	for j := range box.Controls {
		if box.Controls[j].ID == id {
			return j
		}
	}
	return -1
}

func visibleControl(box *core.Box, id int64) int {
	j := controlIndex(box, id)
	if j >= 0 && box.Controls[j].DeletedAt != nil {
		return -1
	}
	return j
}
