package http

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"ganancias/internal/log"
	"ganancias/internal/middleware/ratelimit"
	"ganancias/internal/middleware/security"
	"ganancias/internal/middleware/trace"
	"ganancias/internal/services"
)

// Syncer is the part of the synchronizer the API exposes.
type Syncer interface {
	SyncAll(ctx context.Context) ([]services.Result, error)
	SyncBoxControls(ctx context.Context, boxID int64) (services.Result, error)
}

type Server struct {
	http.Server
	ledger *services.Ledger
	syncer Syncer
	logger *log.Logger
	trace  *trace.Middleware
	limit  *ratelimit.Limiter

	shutdownOnce sync.Once
}

type Option func(*options)

type options struct {
	requestsPerMinute int
}

// WithRateLimit caps requests per client per minute; zero disables it.
func WithRateLimit(requestsPerMinute int) Option {
	return func(o *options) { o.requestsPerMinute = requestsPerMinute }
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, ledger *services.Ledger, syncer Syncer, logger *log.Logger, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		ledger: ledger,
		syncer: syncer,
		logger: logger,
		trace:  trace.NewMiddleware(clientIP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)

	mux.HandleFunc("GET /boxes", s.handleListBoxes)
	mux.HandleFunc("POST /boxes", s.handleCreateBox)
	mux.HandleFunc("DELETE /boxes/{id}", s.handleDeleteBox)
	mux.HandleFunc("GET /boxes/{id}/controls", s.handleListControls)
	mux.HandleFunc("POST /boxes/{id}/controls", s.handleCreateControl)
	mux.HandleFunc("DELETE /boxes/{id}/controls/{controlID}", s.handleDeleteControl)
	mux.HandleFunc("POST /boxes/{id}/sync", s.handleSyncBox)
	mux.HandleFunc("GET /boxes/{id}/series", s.handleBoxSeries)

	mux.HandleFunc("GET /expenses", s.handleListExpenses)
	mux.HandleFunc("POST /expenses", s.handleCreateExpense)
	mux.HandleFunc("DELETE /expenses/{id}", s.handleDeleteExpense)
	mux.HandleFunc("POST /expenses/{id}/boxes/{boxID}", s.handleAssignExpense)

	mux.HandleFunc("GET /history", s.handleListHistory)
	mux.HandleFunc("POST /history", s.handleCreateSubmission)
	mux.HandleFunc("DELETE /history/{id}", s.handleDeleteSubmission)

	mux.HandleFunc("GET /weekly-balances", s.handleListWeeklyBalances)
	mux.HandleFunc("POST /weekly-balances", s.handleCreateWeeklyBalance)
	mux.HandleFunc("DELETE /weekly-balances/{id}", s.handleDeleteWeeklyBalance)

	mux.HandleFunc("POST /sync", s.handleSyncAll)
	mux.HandleFunc("POST /maintenance/clean-dates", s.handleCleanDates)

	// outermost first: logger, trace id, id-tagged logger, headers, limiter
	var handler http.Handler = mux
	if o.requestsPerMinute > 0 {
		s.limit = ratelimit.NewLimiter(ratelimit.Config{RequestsPerWindow: o.requestsPerMinute, Window: time.Minute})
		handler = s.limit.Middleware(clientIP, func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
		})(handler)
	}
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = log.RequestIDMiddleware(trace.GetRequestID)(handler)
	handler = s.trace.Middleware(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		args := []any{"requests_served", s.trace.GetMetrics().TotalRequests}
		if s.limit != nil {
			args = append(args, "rate_limited", s.limit.GetMetrics().Rejected)
			s.limit.Stop()
		}
		s.logger.InfoContext(ctx, "HTTP server shutting down", args...)
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}
