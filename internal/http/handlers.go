package http

import (
	"errors"
	"net/http"

	"ganancias/internal/core"
	"ganancias/internal/dates"
	"ganancias/internal/log"
	"ganancias/internal/services"
)

// parseBody reads the request body or writes a 400.
func parseBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return nil, false
	}
	return p, true
}

// pathIDs reads every named path id or writes the error.
func pathIDs(w http.ResponseWriter, r *http.Request, names ...string) ([]int64, bool) {
	ids := make([]int64, len(names))
	for i, name := range names {
		id, err := PathID(r, name)
		if err != nil {
			ErrorFor(err).Write(w)
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}

// optionalDate accepts any date the normalizer understands; empty stays
// empty so the store applies today.
func optionalDate(p *RequestBodyParser, key string) (string, error) {
	raw := p.Get(key)
	if raw == "" {
		return "", nil
	}
	d, ok := dates.Parse(raw)
	if !ok {
		return "", &FieldError{Field: key, Err: errors.New("unrecognised date")}
	}
	return d, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error, fields log.LogFields) {
	resp := ErrorFor(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.LogError(r.Context(), "Request failed", err, op, fields)
	}
	resp.Write(w)
}

func (s *Server) handleListBoxes(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.ledger.Stores().Boxes.All()).Write(w)
}

func (s *Server) handleCreateBox(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	category, err := core.ParseCategory(p.Get("category"))
	if err != nil {
		ErrorFor(&FieldError{Field: "category", Err: err}).Write(w)
		return
	}
	box, err := s.ledger.AddBox(r.Context(), core.Box{
		Name:            p.Get("name"),
		Icon:            p.Get("icon"),
		Category:        category,
		CantPriceFields: p.Bool("cantPriceFields"),
	})
	if err != nil {
		s.fail(w, r, log.OpCreate, err, log.NewFields().WithRecord("box", 0))
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(box).Write(w)
}

func (s *Server) handleDeleteBox(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	if err := s.ledger.RemoveBox(r.Context(), ids[0]); err != nil {
		s.fail(w, r, log.OpDelete, err, log.NewFields().WithRecord("box", ids[0]))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListControls(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	if _, found := s.ledger.Stores().Boxes.Get(ids[0]); !found {
		NotFoundError("box not found").Write(w)
		return
	}
	NewJSONResponse().Body(s.ledger.Stores().Boxes.Controls(ids[0])).Write(w)
}

func (s *Server) handleCreateControl(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	p, ok := parseBody(w, r)
	if !ok {
		return
	}

	c := core.BoxControl{Origin: p.Get("origin"), Note: p.Get("note")}
	var err error
	if c.Date, err = optionalDate(p, "date"); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	if c.Quantity, err = p.Amount("quantity"); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	if c.Price, err = p.Amount("price"); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	total, err := core.ParseAmount(p.Get("total"))
	if err != nil {
		ErrorFor(&FieldError{Field: "total", Err: err}).Write(w)
		return
	}
	c.Total = core.ValueOf(total)

	c, err = s.ledger.AddControl(r.Context(), ids[0], c)
	if err != nil {
		s.fail(w, r, log.OpCreate, err, log.NewFields().WithRecord("boxcontrol", 0))
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(c).Write(w)
}

func (s *Server) handleDeleteControl(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id", "controlID")
	if !ok {
		return
	}
	if err := s.ledger.RemoveControl(r.Context(), ids[0], ids[1]); err != nil {
		s.fail(w, r, log.OpDelete, err, log.NewFields().WithRecord("boxcontrol", ids[1]))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncBox(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	res, err := s.syncer.SyncBoxControls(r.Context(), ids[0])
	switch {
	case errors.Is(err, services.ErrNotFound):
		NotFoundError(err.Error()).Write(w)
	case err != nil:
		log.LogError(r.Context(), "Box sync failed", err, log.OpSync, log.NewFields().WithRecord("box", ids[0]))
		ErrorResponse(http.StatusBadGateway, err.Error()).Write(w)
	default:
		NewJSONResponse().Body(res).Write(w)
	}
}

func (s *Server) handleBoxSeries(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	points, err := s.ledger.BoxSeries(ids[0])
	if err != nil {
		s.fail(w, r, log.OpList, err, log.NewFields().WithRecord("box", ids[0]))
		return
	}
	NewJSONResponse().Body(points).Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.ledger.Stores().Expenses.All()).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	date, err := optionalDate(p, "date")
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	earnings, err := p.Float("earnings")
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	totalExpenses, err := p.Float("totalExpenses")
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	e, err := s.ledger.AddExpense(r.Context(), date, earnings, totalExpenses)
	if err != nil {
		s.fail(w, r, log.OpCreate, err, log.NewFields().WithRecord("expense", 0))
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(e).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	if err := s.ledger.DeleteExpense(r.Context(), ids[0]); err != nil {
		s.fail(w, r, log.OpDelete, err, log.NewFields().WithRecord("expense", ids[0]))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignExpense(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id", "boxID")
	if !ok {
		return
	}
	link, err := s.ledger.AssignExpenseToBox(r.Context(), ids[0], ids[1])
	if err != nil {
		s.fail(w, r, log.OpAssign, err, log.NewFields().WithRecord("expense", ids[0]))
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(link).Write(w)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.ledger.Stores().History.All()).Write(w)
}

var submissionAmounts = []struct {
	key string
	set func(*core.Submission, *float64)
}{
	{"generalExpenses", func(s *core.Submission, v *float64) { s.GeneralExpenses = v }},
	{"operatingExpenses", func(s *core.Submission, v *float64) { s.OperatingExpenses = v }},
	{"workerExpenses", func(s *core.Submission, v *float64) { s.WorkerExpenses = v }},
	{"rentExpenses", func(s *core.Submission, v *float64) { s.RentExpenses = v }},
	{"motorcycleExpenses", func(s *core.Submission, v *float64) { s.MotorcycleExpenses = v }},
	{"cornBags", func(s *core.Submission, v *float64) { s.CornBags = v }},
	{"cornPrice", func(s *core.Submission, v *float64) { s.CornPrice = v }},
	{"charcoalBags", func(s *core.Submission, v *float64) { s.CharcoalBags = v }},
	{"charcoalPrice", func(s *core.Submission, v *float64) { s.CharcoalPrice = v }},
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}

	var sub core.Submission
	var err error
	if sub.Date, err = optionalDate(p, "date"); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	if sub.Earnings, err = p.Float("earnings"); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	for _, field := range submissionAmounts {
		v, err := p.Amount(field.key)
		if err != nil {
			ErrorFor(err).Write(w)
			return
		}
		field.set(&sub, v)
	}

	sub, err = s.ledger.RecordSubmission(r.Context(), sub)
	if err != nil {
		s.fail(w, r, log.OpCreate, err, log.NewFields().WithRecord("history", 0))
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(sub).Write(w)
}

func (s *Server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	if err := s.ledger.RemoveSubmission(r.Context(), ids[0]); err != nil {
		s.fail(w, r, log.OpDelete, err, log.NewFields().WithRecord("history", ids[0]))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWeeklyBalances(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.ledger.Stores().WeeklyBalances.All()).Write(w)
}

func (s *Server) handleCreateWeeklyBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}

	var wb core.WeeklyBalance
	var err error
	if wb.WeekStart, err = optionalDate(p, "weekStart"); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	if wb.WeekEnd, err = optionalDate(p, "weekEnd"); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	if wb.WeekStart != "" && wb.WeekEnd != "" && wb.WeekEnd < wb.WeekStart {
		ErrorFor(invalid("weekEnd is before weekStart")).Write(w)
		return
	}
	if wb.Earnings, err = p.Float("earnings"); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	if wb.TotalExpenses, err = p.Float("totalExpenses"); err != nil {
		ErrorFor(err).Write(w)
		return
	}

	wb, err = s.ledger.AddWeeklyBalance(r.Context(), wb)
	if err != nil {
		s.fail(w, r, log.OpCreate, err, log.NewFields().WithRecord("weeklybalance", 0))
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(wb).Write(w)
}

func (s *Server) handleDeleteWeeklyBalance(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "id")
	if !ok {
		return
	}
	if err := s.ledger.RemoveWeeklyBalance(r.Context(), ids[0]); err != nil {
		s.fail(w, r, log.OpDelete, err, log.NewFields().WithRecord("weeklybalance", ids[0]))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncResponse struct {
	Results []services.Result `json:"results"`
	Error   string            `json:"error,omitempty"`
}

// handleSyncAll always answers 200; per-pass failures are reported in the body.
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.syncer.SyncAll(r.Context())
	resp := syncResponse{Results: results}
	if err != nil {
		resp.Error = err.Error()
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handleCleanDates(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.ledger.CleanDates(r.Context())).Write(w)
}
