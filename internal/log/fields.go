package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldEntity     = "entity"
	FieldID         = "id"
	FieldPushed     = "pushed"
	FieldPulled     = "pulled"
	FieldFailed     = "failed"
	FieldSkipped    = "skipped"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentStore   = "store"
	ComponentBackend = "backend"
	ComponentRemote  = "remote"
	ComponentSync    = "sync"
	ComponentLedger  = "ledger"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentCLI     = "cli"
)

// Operations defines standard operation names
const (
	OpCreate = "create"
	OpList   = "list"
	OpDelete = "delete"
	OpAssign = "assign"
	OpSync   = "sync"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRecord names the entity kind and id a log line is about.
func (f LogFields) WithRecord(entity string, id int64) LogFields {
	f[FieldEntity] = entity
	if id != 0 {
		f[FieldID] = id
	}
	return f
}

// WithSyncCounts adds the counters of one reconciliation pass.
func (f LogFields) WithSyncCounts(pushed, pulled, failed int, skipped bool) LogFields {
	f[FieldPushed] = pushed
	f[FieldPulled] = pulled
	f[FieldFailed] = failed
	f[FieldSkipped] = skipped
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
