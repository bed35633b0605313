package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"ganancias/internal/core"
	"ganancias/internal/dates"
)

// Identified records can be addressed by id on the API.
type Identified interface {
	GetID() int64
}

// mapping describes how one entity's local JSON differs from the API's.
type mapping struct {
	// outbound renames local field -> remote field; inbound is the reverse
	renames map[string]string
	dates   []string
	drop    []string
	// numbers may arrive as decimal strings
	numbers []string
}

func (m mapping) encode(v any) (map[string]any, error) {
	fields, err := toFields(v)
	if err != nil {
		return nil, err
	}
	for _, k := range m.drop {
		delete(fields, k)
	}
	for _, k := range m.dates {
		if s, ok := fields[k].(string); ok {
			fields[k] = dates.Normalize(s)
		}
	}
	for local, remote := range m.renames {
		if v, ok := fields[local]; ok {
			delete(fields, local)
			fields[remote] = v
		}
	}
	return fields, nil
}

func (m mapping) decode(raw json.RawMessage, out any) error {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	for local, remote := range m.renames {
		if v, ok := fields[remote]; ok {
			delete(fields, remote)
			fields[local] = v
		}
	}
	for _, k := range m.numbers {
		if s, ok := fields[k].(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				fields[k] = f
			}
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func toFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Resource is one REST collection, addressed as {path} and {path}{id}/.
type Resource[E Identified] struct {
	client  *Client
	path    string
	mapping mapping
}

func (r *Resource[E]) Path() string { return r.path }

func (r *Resource[E]) List(ctx context.Context, params url.Values) ([]E, error) {
	var raw []json.RawMessage
	if err := r.client.do(ctx, http.MethodGet, r.path, params, nil, &raw); err != nil {
		return nil, fmt.Errorf("list %s: %w", r.path, err)
	}
	out := make([]E, 0, len(raw))
	for i, item := range raw {
		var e E
		if err := r.mapping.decode(item, &e); err != nil {
			return nil, fmt.Errorf("decode %s item %d: %w", r.path, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Resource[E]) Create(ctx context.Context, e E) error {
	payload, err := r.mapping.encode(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.path, err)
	}
	if err := r.client.do(ctx, http.MethodPost, r.path, nil, payload, nil); err != nil {
		return fmt.Errorf("create %s: %w", r.path, err)
	}
	return nil
}

func (r *Resource[E]) Update(ctx context.Context, e E) error {
	payload, err := r.mapping.encode(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.path, err)
	}
	if err := r.client.do(ctx, http.MethodPut, r.itemPath(e.GetID()), nil, payload, nil); err != nil {
		return fmt.Errorf("update %s: %w", r.path, err)
	}
	return nil
}

func (r *Resource[E]) Delete(ctx context.Context, id int64) error {
	if err := r.client.do(ctx, http.MethodDelete, r.itemPath(id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", r.path, err)
	}
	return nil
}

func (r *Resource[E]) itemPath(id int64) string {
	return r.path + strconv.FormatInt(id, 10) + "/"
}

const (
	ControlsPath       = "boxcontrols/"
	LegacyControlsPath = "records/"
)

// Gateway groups the API collections the stores and the synchronizer use.
type Gateway struct {
	*Client
	Boxes          *Resource[core.Box]
	Controls       *Resource[core.BoxControl]
	Expenses       *Resource[core.Expense]
	History        *Resource[core.Submission]
	WeeklyBalances *Resource[core.WeeklyBalance]
	ExpenseBoxes   *Resource[core.ExpenseBox]
}

// NewGateway wires every collection. controlsResource selects the controls
// collection name: "boxcontrols" or the legacy "records".
func NewGateway(c *Client, controlsResource string) *Gateway {
	controlsPath := ControlsPath
	if controlsResource == "records" {
		controlsPath = LegacyControlsPath
	}
	common := []string{"deletedAt"}

	return &Gateway{
		Client: c,
		Boxes: &Resource[core.Box]{client: c, path: "boxes/", mapping: mapping{
			drop:    []string{"deletedAt", "controls"},
			numbers: []string{"total"},
		}},
		Controls: &Resource[core.BoxControl]{client: c, path: controlsPath, mapping: mapping{
			renames: map[string]string{"boxId": "box"},
			dates:   []string{"date"},
			drop:    common,
			numbers: []string{"quantity", "price", "total"},
		}},
		Expenses: &Resource[core.Expense]{client: c, path: "expenses/", mapping: mapping{
			dates:   []string{"date"},
			drop:    common,
			numbers: []string{"earnings", "totalExpenses", "netProfit"},
		}},
		History: &Resource[core.Submission]{client: c, path: "history/", mapping: mapping{
			dates: []string{"date"},
			numbers: []string{
				"earnings", "totalExpenses", "netProfit",
				"generalExpenses", "operatingExpenses", "workerExpenses", "rentExpenses",
				"motorcycleExpenses", "cornBags", "cornPrice", "charcoalBags", "charcoalPrice",
			},
		}},
		WeeklyBalances: &Resource[core.WeeklyBalance]{client: c, path: "weeklybalances/", mapping: mapping{
			dates:   []string{"weekStart", "weekEnd"},
			numbers: []string{"earnings", "totalExpenses", "netProfit"},
		}},
		ExpenseBoxes: &Resource[core.ExpenseBox]{client: c, path: "expensesboxes/", mapping: mapping{
			drop: common,
		}},
	}
}

// ControlsFor lists the controls of one box.
func (g *Gateway) ControlsFor(ctx context.Context, boxID int64) ([]core.BoxControl, error) {
	return g.Controls.List(ctx, url.Values{"box_id": {strconv.FormatInt(boxID, 10)}})
}
