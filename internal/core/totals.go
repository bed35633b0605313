package core

import (
	"sort"
)

// SeriesPoint is one non-zero history amount for a box category.
type SeriesPoint struct {
	CreatedAt string  `json:"createdAt"`
	Label     string  `json:"label"`
	Value     float64 `json:"value"`
}

// ControlTotal is quantity*price when both are present, otherwise fallback.
func ControlTotal(quantity, price *float64, fallback float64) float64 {
	if quantity != nil && price != nil {
		return *quantity * *price
	}
	return fallback
}

// NetProfit is earnings minus total expenses.
func NetProfit(earnings, totalExpenses float64) float64 {
	return earnings - totalExpenses
}

// ComputeTotal sums the totals of the controls that are not soft-deleted.
func (b Box) ComputeTotal() float64 {
	var total float64
	for _, c := range b.Controls {
		if c.DeletedAt == nil {
			total += c.Total
		}
	}
	return total
}

func (s Submission) CornTotal() float64 {
	return ValueOf(s.CornBags) * ValueOf(s.CornPrice)
}

func (s Submission) CharcoalTotal() float64 {
	return ValueOf(s.CharcoalBags) * ValueOf(s.CharcoalPrice)
}

// ComputeTotalExpenses sums every category, expanding corn and charcoal as bags*price.
func (s Submission) ComputeTotalExpenses() float64 {
	return s.CornTotal() +
		s.CharcoalTotal() +
		ValueOf(s.GeneralExpenses) +
		ValueOf(s.OperatingExpenses) +
		ValueOf(s.WorkerExpenses) +
		ValueOf(s.RentExpenses) +
		ValueOf(s.MotorcycleExpenses)
}

func (s Submission) ComputeNetProfit() float64 {
	return NetProfit(s.Earnings, s.ComputeTotalExpenses())
}

// Recalculate makes TotalExpenses and NetProfit consistent with the breakdown.
func (s *Submission) Recalculate() {
	s.TotalExpenses = s.ComputeTotalExpenses()
	s.NetProfit = NetProfit(s.Earnings, s.TotalExpenses)
}

// AmountFor returns the breakdown amount that a box of the given category tracks.
func (s Submission) AmountFor(c Category) float64 {
	switch c {
	case CategoryGeneral:
		return ValueOf(s.GeneralExpenses)
	case CategoryOperating:
		return ValueOf(s.OperatingExpenses)
	case CategoryWorkers:
		return ValueOf(s.WorkerExpenses)
	case CategoryRent:
		return ValueOf(s.RentExpenses)
	case CategoryMotorcycle:
		return ValueOf(s.MotorcycleExpenses)
	case CategoryCorn:
		return s.CornTotal()
	case CategoryCharcoal:
		return s.CharcoalTotal()
	default:
		return 0
	}
}

// CategorySeries lists the non-zero amounts of a category across history, oldest first.
func CategorySeries(history []Submission, c Category) []SeriesPoint {
	sorted := append([]Submission(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	points := make([]SeriesPoint, 0, len(sorted))
	for _, s := range sorted {
		v := s.AmountFor(c)
		if v == 0 {
			continue
		}
		label := s.Date
		if label == "" {
			label = s.CreatedAt.Format("2006-01-02")
		}
		points = append(points, SeriesPoint{
			CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Label:     label,
			Value:     v,
		})
	}
	return points
}
