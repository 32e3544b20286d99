package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"memberdir/internal/repair"
	dErrors "memberdir/pkg/domain-errors"
	"memberdir/pkg/platform/httputil"
	"memberdir/pkg/requestcontext"
)

// Service defines the repair sweeps the HTTP layer exposes.
type Service interface {
	RekeyLegacyMembers(ctx context.Context, dryRun bool) (*repair.Report, error)
	RebuildInstructorProfiles(ctx context.Context, dryRun bool) (*repair.Report, error)
	ReconcileRosters(ctx context.Context, dryRun bool) (*repair.Report, error)
	QuarantineDuplicateMembers(ctx context.Context, dryRun bool) (*repair.Report, error)
}

// Handler wires repair sweeps to HTTP. Every endpoint accepts ?dry_run=1 to
// report what a sweep would fix without writing.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a repair handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts repair endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/repair", func(r chi.Router) {
		r.Post("/rekey", h.sweep("rekey", h.service.RekeyLegacyMembers))
		r.Post("/profiles", h.sweep("profiles", h.service.RebuildInstructorProfiles))
		r.Post("/rosters", h.sweep("rosters", h.service.ReconcileRosters))
		r.Post("/quarantine", h.sweep("quarantine", h.service.QuarantineDuplicateMembers))
		r.Post("/all", h.handleAll)
	})
}

type sweepFunc func(ctx context.Context, dryRun bool) (*repair.Report, error)

func (h *Handler) sweep(name string, run sweepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		report, err := run(ctx, dryRun(r))
		if err != nil {
			h.writeError(w, r, name, err)
			return
		}
		h.logSweep(ctx, report)
		httputil.WriteJSON(w, http.StatusOK, report)
	}
}

// handleAll runs every sweep in dependency order: rekey first so the later
// sweeps see canonical keys, quarantine last so it judges repaired documents.
func (h *Handler) handleAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dry := dryRun(r)

	var reports []*repair.Report
	for _, run := range []sweepFunc{
		h.service.RekeyLegacyMembers,
		h.service.RebuildInstructorProfiles,
		h.service.ReconcileRosters,
		h.service.QuarantineDuplicateMembers,
	} {
		report, err := run(ctx, dry)
		if err != nil {
			h.writeError(w, r, "repair all", err)
			return
		}
		h.logSweep(ctx, report)
		reports = append(reports, report)
	}
	httputil.WriteJSON(w, http.StatusOK, reports)
}

func dryRun(r *http.Request) bool {
	switch r.URL.Query().Get("dry_run") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (h *Handler) logSweep(ctx context.Context, report *repair.Report) {
	h.logger.InfoContext(ctx, "repair sweep finished",
		"request_id", requestcontext.RequestID(ctx),
		"sweep", report.Sweep,
		"dry_run", report.DryRun,
		"examined", report.Examined,
		"fixed", report.Fixed,
	)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	if dErrors.ToHTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
