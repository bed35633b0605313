package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ganancias/internal/cache"
	"ganancias/internal/core"
	"ganancias/internal/store"
)

// Stores groups the persisted collections.
type Stores struct {
	Boxes          *store.BoxStore
	History        *store.Store[core.Submission, *core.Submission]
	Expenses       *store.Store[core.Expense, *core.Expense]
	ExpenseBoxes   *store.Store[core.ExpenseBox, *core.ExpenseBox]
	WeeklyBalances *store.Store[core.WeeklyBalance, *core.WeeklyBalance]
}

// Ledger orchestrates the operations that span several stores, including
// the cascades the stores leave to their callers.
type Ledger struct {
	st     *Stores
	series *cache.LRUCache[int64, []core.SeriesPoint]
	logger *slog.Logger
}

const (
	seriesCacheSize = 64
	seriesCacheTTL  = 10 * time.Minute
)

// NewLedger subscribes to history and box changes so cached series never
// outlive the records they were computed from.
func NewLedger(st *Stores) *Ledger {
	l := &Ledger{
		st:     st,
		series: cache.NewLRUCache[int64, []core.SeriesPoint](seriesCacheSize, seriesCacheTTL),
		logger: slog.Default(),
	}
	invalidate := func(store.Event) { l.series.Clear() }
	st.History.Subscribe(invalidate)
	st.Boxes.Subscribe(invalidate)
	return l
}

// WithLogger sets the logger used for ledger events. A nil logger is ignored.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *Ledger) Stores() *Stores { return l.st }

func (l *Ledger) AddBox(ctx context.Context, b core.Box) (core.Box, error) {
	if err := b.Validate(); err != nil {
		return core.Box{}, fmt.Errorf("validate box: %w", err)
	}
	b = l.st.Boxes.Add(ctx, b)
	l.logger.InfoContext(ctx, "Box created", "id", b.ID, "name", b.Name, "category", b.Category)
	return b, nil
}

// RemoveBox deletes the box and every expense link that points into it.
func (l *Ledger) RemoveBox(ctx context.Context, id int64) error {
	if !l.st.Boxes.Remove(ctx, id) {
		return fmt.Errorf("remove box %d: %w", id, ErrNotFound)
	}
	n := l.removeLinks(ctx, func(link core.ExpenseBox) bool { return link.Box == id })
	l.logger.InfoContext(ctx, "Box removed", "id", id, "links_removed", n)
	return nil
}

func (l *Ledger) AddControl(ctx context.Context, boxID int64, c core.BoxControl) (core.BoxControl, error) {
	c, err := l.st.Boxes.AddControl(ctx, boxID, c)
	if err != nil {
		return core.BoxControl{}, fmt.Errorf("add control to box %d: %w", boxID, err)
	}
	l.logger.InfoContext(ctx, "Control added", "box", boxID, "id", c.ID, "total", c.Total, "origin", c.Origin)
	return c, nil
}

// RemoveControl deletes the control and every expense link pinned to it.
func (l *Ledger) RemoveControl(ctx context.Context, boxID, controlID int64) error {
	if !l.st.Boxes.RemoveControl(ctx, boxID, controlID) {
		return fmt.Errorf("remove control %d from box %d: %w", controlID, boxID, ErrNotFound)
	}
	n := l.removeLinks(ctx, func(link core.ExpenseBox) bool { return link.BoxControl == controlID })
	l.logger.InfoContext(ctx, "Control removed", "box", boxID, "id", controlID, "links_removed", n)
	return nil
}

// AddExpense builds the expense with its net profit and stores it.
func (l *Ledger) AddExpense(ctx context.Context, date string, earnings, totalExpenses float64) (core.Expense, error) {
	e := core.NewExpense(date, earnings, totalExpenses)
	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("validate expense: %w", err)
	}
	e = l.st.Expenses.Add(ctx, e)
	l.logger.InfoContext(ctx, "Expense created", "id", e.ID, "date", e.Date, "net_profit", e.NetProfit)
	return e, nil
}

// AssignExpenseToBox records the expense as a control of the box and links
// the two.
func (l *Ledger) AssignExpenseToBox(ctx context.Context, expenseID, boxID int64) (core.ExpenseBox, error) {
	e, ok := l.st.Expenses.Get(expenseID)
	if !ok {
		return core.ExpenseBox{}, fmt.Errorf("assign expense %d: %w", expenseID, ErrNotFound)
	}

	c, err := l.st.Boxes.AddControl(ctx, boxID, core.BoxControl{
		Date:   e.Date,
		Origin: core.OriginExpense,
		Total:  e.NetProfit,
	})
	if err != nil {
		return core.ExpenseBox{}, fmt.Errorf("assign expense %d to box %d: %w", expenseID, boxID, err)
	}

	link := l.st.ExpenseBoxes.Add(ctx, core.ExpenseBox{Expense: e.ID, Box: boxID, BoxControl: c.ID})
	l.logger.InfoContext(ctx, "Expense assigned to box",
		"expense", e.ID, "box", boxID, "control", c.ID, "link", link.ID)
	return link, nil
}

// ExpenseLinks lists the visible links of one expense.
func (l *Ledger) ExpenseLinks(expenseID int64) []core.ExpenseBox {
	var out []core.ExpenseBox
	for _, link := range l.st.ExpenseBoxes.All() {
		if link.Expense == expenseID {
			out = append(out, link)
		}
	}
	return out
}

// DeleteExpense removes, for each link of the expense, the pinned control
// and the link itself, then the expense.
func (l *Ledger) DeleteExpense(ctx context.Context, id int64) error {
	if _, ok := l.st.Expenses.Get(id); !ok {
		return fmt.Errorf("delete expense %d: %w", id, ErrNotFound)
	}

	links := l.ExpenseLinks(id)
	for _, link := range links {
		if !l.st.Boxes.RemoveControl(ctx, link.Box, link.BoxControl) {
			l.logger.WarnContext(ctx, "Linked control already gone",
				"expense", id, "box", link.Box, "control", link.BoxControl)
		}
		l.st.ExpenseBoxes.Remove(ctx, link.ID)
	}
	l.st.Expenses.Remove(ctx, id)

	l.logger.InfoContext(ctx, "Expense deleted", "id", id, "links_removed", len(links))
	return nil
}

// RecordSubmission makes the totals consistent with the breakdown and adds
// the entry to history.
func (l *Ledger) RecordSubmission(ctx context.Context, s core.Submission) (core.Submission, error) {
	s.Recalculate()
	if err := s.Validate(); err != nil {
		return core.Submission{}, fmt.Errorf("validate submission: %w", err)
	}
	s = l.st.History.Add(ctx, s)
	l.logger.InfoContext(ctx, "Submission recorded",
		"id", s.ID, "date", s.Date, "total_expenses", s.TotalExpenses, "net_profit", s.NetProfit)
	return s, nil
}

func (l *Ledger) RemoveSubmission(ctx context.Context, id int64) error {
	if !l.st.History.Remove(ctx, id) {
		return fmt.Errorf("remove submission %d: %w", id, ErrNotFound)
	}
	return nil
}

func (l *Ledger) AddWeeklyBalance(ctx context.Context, w core.WeeklyBalance) (core.WeeklyBalance, error) {
	if w.Earnings < 0 {
		return core.WeeklyBalance{}, fmt.Errorf("validate weekly balance: %w", core.ErrNegativeEarnings)
	}
	w.NetProfit = core.NetProfit(w.Earnings, w.TotalExpenses)
	return l.st.WeeklyBalances.Add(ctx, w), nil
}

func (l *Ledger) RemoveWeeklyBalance(ctx context.Context, id int64) error {
	if !l.st.WeeklyBalances.Remove(ctx, id) {
		return fmt.Errorf("remove weekly balance %d: %w", id, ErrNotFound)
	}
	return nil
}

// BoxSeries returns the history amounts of the box's category.
func (l *Ledger) BoxSeries(boxID int64) ([]core.SeriesPoint, error) {
	if points, ok := l.series.Get(boxID); ok {
		return clonePoints(points), nil
	}
	b, ok := l.st.Boxes.Get(boxID)
	if !ok {
		return nil, fmt.Errorf("box %d series: %w", boxID, ErrNotFound)
	}
	points := []core.SeriesPoint{}
	if b.Category != core.CategoryNone {
		points = core.CategorySeries(l.st.History.All(), b.Category)
	}
	l.series.Set(boxID, points)
	return clonePoints(points), nil
}

func clonePoints(points []core.SeriesPoint) []core.SeriesPoint {
	out := make([]core.SeriesPoint, len(points))
	copy(out, points)
	return out
}

// SeriesCacheStats reports how often BoxSeries was answered from cache.
func (l *Ledger) SeriesCacheStats() cache.Stats { return l.series.Stats() }

func (l *Ledger) removeLinks(ctx context.Context, match func(core.ExpenseBox) bool) int {
	n := 0
	for _, link := range l.st.ExpenseBoxes.All() {
		if match(link) && l.st.ExpenseBoxes.Remove(ctx, link.ID) {
			n++
		}
	}
	return n
}
