package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	OriginManual   = "manual"
	OriginHistory  = "historial"
	OriginExpense  = "expense"
	DefaultBoxName = "Caja"
	DefaultBoxIcon = "cube-outline"
)

type (
	Box struct {
		ID              int64        `json:"id"`
		Name            string       `json:"name"`
		Icon            string       `json:"icon"`
		Category        Category     `json:"category,omitempty"`
		CantPriceFields bool         `json:"cantPriceFields"`
		Total           float64      `json:"total"`
		CreatedAt       time.Time    `json:"createdAt"`
		Controls        []BoxControl `json:"controls"`
		DeletedAt       *time.Time   `json:"deletedAt,omitempty"`
	}

	// BoxControl is one dated movement inside a Box.
	BoxControl struct {
		ID        int64      `json:"id"`
		BoxID     int64      `json:"boxId"`
		Date      string     `json:"date"`
		Origin    string     `json:"origin"`
		Quantity  *float64   `json:"quantity,omitempty"`
		Price     *float64   `json:"price,omitempty"`
		Total     float64    `json:"total"`
		Note      string     `json:"note,omitempty"`
		CreatedAt time.Time  `json:"createdAt"`
		UpdatedAt time.Time  `json:"updatedAt"`
		DeletedAt *time.Time `json:"deletedAt,omitempty"`
	}

	Expense struct {
		ID            int64      `json:"id"`
		WeeklyBalance *int64     `json:"weeklyBalance"`
		Date          string     `json:"date"`
		Earnings      float64    `json:"earnings"`
		TotalExpenses float64    `json:"totalExpenses"`
		NetProfit     float64    `json:"netProfit"`
		CreatedAt     time.Time  `json:"createdAt"`
		DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	}

	// ExpenseBox links an Expense to the Box and BoxControl that absorbed it.
	ExpenseBox struct {
		ID         int64      `json:"id"`
		Expense    int64      `json:"expense"`
		Box        int64      `json:"box"`
		BoxControl int64      `json:"boxControl"`
		DeletedAt  *time.Time `json:"deletedAt,omitempty"`
	}

	WeeklyBalance struct {
		ID            int64     `json:"id"`
		WeekStart     string    `json:"weekStart"`
		WeekEnd       string    `json:"weekEnd"`
		Earnings      float64   `json:"earnings"`
		TotalExpenses float64   `json:"totalExpenses"`
		NetProfit     float64   `json:"netProfit"`
		CreatedAt     time.Time `json:"createdAt"`
	}

	// Submission is a daily history entry with its expense breakdown.
	Submission struct {
		ID                 int64     `json:"id"`
		CreatedAt          time.Time `json:"createdAt"`
		Date               string    `json:"date"`
		Earnings           float64   `json:"earnings"`
		TotalExpenses      float64   `json:"totalExpenses"`
		NetProfit          float64   `json:"netProfit"`
		GeneralExpenses    *float64  `json:"generalExpenses,omitempty"`
		OperatingExpenses  *float64  `json:"operatingExpenses,omitempty"`
		WorkerExpenses     *float64  `json:"workerExpenses,omitempty"`
		RentExpenses       *float64  `json:"rentExpenses,omitempty"`
		MotorcycleExpenses *float64  `json:"motorcycleExpenses,omitempty"`
		CornBags           *float64  `json:"cornBags,omitempty"`
		CornPrice          *float64  `json:"cornPrice,omitempty"`
		CharcoalBags       *float64  `json:"charcoalBags,omitempty"`
		CharcoalPrice      *float64  `json:"charcoalPrice,omitempty"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrNegativeEarnings = errors.New("earnings cannot be negative")
	ErrMissingBox       = errors.New("missing box reference")
	ErrMissingExpense   = errors.New("missing expense reference")
	ErrFieldTooLong     = errors.New("field too long")
)

func (b Box) GetID() int64             { return b.ID }
func (b *Box) SetID(id int64)          { b.ID = id }
func (b *Box) IsDeleted() bool         { return b.DeletedAt != nil }
func (b *Box) MarkDeleted(t time.Time) { b.DeletedAt = &t }

// ApplyDefaults fills the fields a freshly added box must carry. A new box
// starts empty; controls are added one by one afterwards.
func (b *Box) ApplyDefaults(now time.Time) {
	if strings.TrimSpace(b.Name) == "" {
		b.Name = DefaultBoxName
	}
	if b.Icon == "" {
		b.Icon = DefaultBoxIcon
	}
	b.Controls = []BoxControl{}
	b.Total = 0
	b.CreatedAt = now
	b.DeletedAt = nil
}

// Clone returns a copy that shares no controls with b.
func (b Box) Clone() Box {
	if b.Controls != nil {
		b.Controls = append([]BoxControl(nil), b.Controls...)
	}
	return b
}

// VisibleControls returns the controls that are not soft-deleted, in stored order.
func (b Box) VisibleControls() []BoxControl {
	out := make([]BoxControl, 0, len(b.Controls))
	for _, c := range b.Controls {
		if c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	return out
}

func (b Box) Validate() error {
	if len(b.Name) > 100 {
		return fmt.Errorf("name: %w (max 100 characters)", ErrFieldTooLong)
	}
	if b.Category != CategoryNone && !b.Category.IsValid() {
		return ErrUnknownCategory
	}
	return nil
}

func (c BoxControl) GetID() int64 { return c.ID }

// ApplyDefaults fills date, origin, timestamps and the derived total.
func (c *BoxControl) ApplyDefaults(now time.Time) {
	if strings.TrimSpace(c.Date) == "" {
		c.Date = now.Format(time.DateOnly)
	}
	if strings.TrimSpace(c.Origin) == "" {
		c.Origin = OriginManual
	}
	c.Total = ControlTotal(c.Quantity, c.Price, c.Total)
	c.CreatedAt = now
	c.UpdatedAt = now
	c.DeletedAt = nil
}

func (c BoxControl) Validate() error {
	if c.BoxID == 0 {
		return ErrMissingBox
	}
	if c.Quantity != nil && *c.Quantity < 0 {
		return fmt.Errorf("quantity: %w", ErrInvalidAmount)
	}
	if c.Price != nil && *c.Price < 0 {
		return fmt.Errorf("price: %w", ErrInvalidAmount)
	}
	if len(c.Note) > 200 {
		return fmt.Errorf("note: %w (max 200 characters)", ErrFieldTooLong)
	}
	return nil
}

func (e Expense) GetID() int64             { return e.ID }
func (e *Expense) SetID(id int64)          { e.ID = id }
func (e *Expense) IsDeleted() bool         { return e.DeletedAt != nil }
func (e *Expense) MarkDeleted(t time.Time) { e.DeletedAt = &t }

func (e *Expense) ApplyDefaults(now time.Time) {
	e.CreatedAt = now
	if strings.TrimSpace(e.Date) == "" {
		e.Date = now.Format(time.DateOnly)
	}
	e.DeletedAt = nil
}

// NewExpense builds an expense whose net profit is derived from its inputs.
func NewExpense(date string, earnings, totalExpenses float64) Expense {
	return Expense{
		Date:          date,
		Earnings:      earnings,
		TotalExpenses: totalExpenses,
		NetProfit:     NetProfit(earnings, totalExpenses),
	}
}

func (e Expense) Validate() error {
	if e.Earnings < 0 {
		return ErrNegativeEarnings
	}
	if e.TotalExpenses < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (l ExpenseBox) GetID() int64             { return l.ID }
func (l *ExpenseBox) SetID(id int64)          { l.ID = id }
func (l *ExpenseBox) IsDeleted() bool         { return l.DeletedAt != nil }
func (l *ExpenseBox) MarkDeleted(t time.Time) { l.DeletedAt = &t }

func (l ExpenseBox) Validate() error {
	if l.Expense == 0 {
		return ErrMissingExpense
	}
	if l.Box == 0 || l.BoxControl == 0 {
		return ErrMissingBox
	}
	return nil
}

func (w WeeklyBalance) GetID() int64    { return w.ID }
func (w *WeeklyBalance) SetID(id int64) { w.ID = id }

func (w *WeeklyBalance) ApplyDefaults(now time.Time) {
	w.CreatedAt = now
}

func (s Submission) GetID() int64    { return s.ID }
func (s *Submission) SetID(id int64) { s.ID = id }

func (s *Submission) ApplyDefaults(now time.Time) {
	s.CreatedAt = now
	if strings.TrimSpace(s.Date) == "" {
		s.Date = now.Format(time.DateOnly)
	}
}

func (s Submission) Validate() error {
	if s.Earnings < 0 {
		return ErrNegativeEarnings
	}
	for _, v := range []*float64{
		s.GeneralExpenses, s.OperatingExpenses, s.WorkerExpenses, s.RentExpenses,
		s.MotorcycleExpenses, s.CornBags, s.CornPrice, s.CharcoalBags, s.CharcoalPrice,
	} {
		if v != nil && *v < 0 {
			return ErrInvalidAmount
		}
	}
	return nil
}
