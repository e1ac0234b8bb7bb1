package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/timeflow/timeflow-backend/internal/overtime/service"
	"github.com/timeflow/timeflow-backend/pkg/actor"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/httputil"
	"github.com/timeflow/timeflow-backend/pkg/logger"
)

// Consolidator runs the consolidation job for a day.
type Consolidator interface {
	Run(ctx context.Context, day time.Time) service.ConsolidationSummary
}

// Sweeper runs the recovery sweep.
type Sweeper interface {
	Run(ctx context.Context) service.SweepSummary
}

// Detector re-runs detection for one clock-out.
type Detector interface {
	DetectClockOut(ctx context.Context, attendanceID uuid.UUID) (service.DetectionOutcome, error)
}

// HealthCheck reports the status of one dependency.
type HealthCheck func(ctx context.Context) map[string]string

// OpsHandler exposes health and manual job triggers
type OpsHandler struct {
	consolidation Consolidator
	sweep         Sweeper
	detector      Detector
	checks        map[string]HealthCheck
	loc           *time.Location
	now           func() time.Time
	logger        *logger.Logger
}

// NewOpsHandler creates a new ops handler. loc is the zone the scheduled jobs
// run in; nil means UTC.
func NewOpsHandler(consolidation Consolidator, sweep Sweeper, detector Detector, checks map[string]HealthCheck, loc *time.Location, log *logger.Logger) *OpsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &OpsHandler{
		consolidation: consolidation,
		sweep:         sweep,
		detector:      detector,
		checks:        checks,
		loc:           loc,
		now:           time.Now,
		logger:        log,
	}
}

// WithClock replaces the wall clock used to pick the default consolidation day.
func (h *OpsHandler) WithClock(now func() time.Time) *OpsHandler {
	h.now = now
	return h
}

// Routes mounts the ops endpoints. guard wraps everything except /health.
func (h *OpsHandler) Routes(r chi.Router, guard ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(guard...)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/consolidation", h.RunConsolidation)
			r.Post("/recovery-sweep", h.RunRecoverySweep)
		})
		r.With(httputil.TenantMiddleware).Post("/attendance/{id}/detect", h.Detect)
	})
}

// Health reports every dependency; any "down" turns the response into a 503.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := map[string]map[string]string{}
	for name, check := range h.checks {
		res := check(r.Context())
		if res["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		report[name] = res
	}
	httputil.JSON(w, status, report)
}

// RunConsolidation consolidates ?date=YYYY-MM-DD. When omitted it picks
// yesterday in the jobs location, the same day the nightly run covers.
func (h *OpsHandler) RunConsolidation(w http.ResponseWriter, r *http.Request) {
	y, m, d := h.now().In(h.loc).AddDate(0, 0, -1).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			httputil.Error(w, errors.Validation(map[string]string{"date": "expected YYYY-MM-DD"}))
			return
		}
		day = parsed
	}

	h.logger.Info().Str("day", day.Format("2006-01-02")).Str("request_id", httputil.GetRequestID(r.Context())).Msg("manual consolidation triggered")
	httputil.JSON(w, http.StatusOK, h.consolidation.Run(r.Context(), day))
}

// RunRecoverySweep runs the recovery sweep now.
func (h *OpsHandler) RunRecoverySweep(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Str("request_id", httputil.GetRequestID(r.Context())).Msg("manual recovery sweep triggered")
	httputil.JSON(w, http.StatusOK, h.sweep.Run(r.Context()))
}

// Detect re-runs real-time detection for a clock-out of the request tenant.
func (h *OpsHandler) Detect(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, errors.BadRequest("invalid attendance ID"))
		return
	}

	ctx := r.Context()
	if actor.FromContext(ctx) == nil {
		ctx = actor.WithActor(ctx, actor.SystemActor())
	}
	out, err := h.detector.DetectClockOut(ctx, id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, out)
}
