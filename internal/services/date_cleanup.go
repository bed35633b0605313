package services

import (
	"context"

	"ganancias/internal/core"
	"ganancias/internal/dates"
)

type CleanupReport struct {
	History  int `json:"history"`
	Controls int `json:"controls"`
}

// CleanDates rewrites every stored history and control date to YYYY-MM-DD.
func (l *Ledger) CleanDates(ctx context.Context) CleanupReport {
	l.logger.InfoContext(ctx, "Starting date cleanup")
	var report CleanupReport

	report.History = l.st.History.Replace(ctx, func(s *core.Submission) bool {
		cleaned := dates.Normalize(s.Date)
		if cleaned == s.Date {
			return false
		}
		l.logger.InfoContext(ctx, "Cleaned history date", "id", s.ID, "from", s.Date, "to", cleaned)
		s.Date = cleaned
		return true
	})

	l.st.Boxes.Replace(ctx, func(b *core.Box) bool {
		changed := false
		for i := range b.Controls {
			c := &b.Controls[i]
			cleaned := dates.Normalize(c.Date)
			if cleaned == c.Date {
				continue
			}
			l.logger.InfoContext(ctx, "Cleaned control date",
				"box", b.Name, "id", c.ID, "from", c.Date, "to", cleaned)
			c.Date = cleaned
			changed = true
			report.Controls++
		}
		return changed
	})

	l.logger.InfoContext(ctx, "Date cleanup complete", "history", report.History, "controls", report.Controls)
	return report
}
