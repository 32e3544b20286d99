package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"memberdir/internal/directory/models"
	"memberdir/internal/importer"
	dErrors "memberdir/pkg/domain-errors"
	"memberdir/pkg/platform/httputil"
	"memberdir/pkg/requestcontext"
)

// Service defines the import operations the HTTP layer exposes.
type Service interface {
	AnalyzeMembers(ctx context.Context, rows []map[string]string, mapping importer.Mapping) (*importer.Delta[models.Member], error)
	AnalyzeSchools(ctx context.Context, rows []map[string]string, mapping importer.Mapping) (*importer.Delta[models.School], error)
	AnalyzeOrders(ctx context.Context, rows []map[string]string, mapping importer.Mapping) (*importer.Delta[models.Order], *importer.SideEffects, error)
	CommitMembers(ctx context.Context, rows []map[string]string, mapping importer.Mapping, progress importer.Progress) (importer.Counts, *importer.Result, error)
	CommitSchools(ctx context.Context, rows []map[string]string, mapping importer.Mapping, progress importer.Progress) (importer.Counts, *importer.Result, error)
	CommitOrders(ctx context.Context, rows []map[string]string, mapping importer.Mapping, progress importer.Progress) (importer.Counts, *importer.Result, error)
}

// batchRequest is one parsed spreadsheet plus its column mapping. Rows are
// header-keyed cell maps; parsing the source file happens client-side.
type batchRequest struct {
	Mapping importer.Mapping    `json:"mapping"`
	Rows    []map[string]string `json:"rows"`
}

// analyzeResponse previews a classified batch. No write has happened yet.
type analyzeResponse[T any] struct {
	Counts  importer.Counts               `json:"counts"`
	New     []*importer.ProposedChange[T] `json:"new,omitempty"`
	Updates []*importer.ProposedChange[T] `json:"updates,omitempty"`
	Issues  []*importer.ProposedChange[T] `json:"issues,omitempty"`
}

// commitResponse reports what a commit run wrote.
type commitResponse struct {
	Counts  importer.Counts `json:"counts"`
	Written int             `json:"written"`
	Failed  []string        `json:"failed,omitempty"`
}

// Handler wires import endpoints to the import service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an import handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts import endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/import", func(r chi.Router) {
		r.Post("/members/analyze", h.handleAnalyzeMembers)
		r.Post("/members/commit", h.handleCommitMembers)
		r.Post("/schools/analyze", h.handleAnalyzeSchools)
		r.Post("/schools/commit", h.handleCommitSchools)
		r.Post("/orders/analyze", h.handleAnalyzeOrders)
		r.Post("/orders/commit", h.handleCommitOrders)
	})
}

func (h *Handler) handleAnalyzeMembers(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[batchRequest](w, r)
	if !ok {
		return
	}
	delta, err := h.service.AnalyzeMembers(r.Context(), req.Rows, req.Mapping)
	if err != nil {
		h.writeError(w, r, "analyze members", err)
		return
	}
	writeAnalyze(w, delta)
}

func (h *Handler) handleAnalyzeSchools(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[batchRequest](w, r)
	if !ok {
		return
	}
	delta, err := h.service.AnalyzeSchools(r.Context(), req.Rows, req.Mapping)
	if err != nil {
		h.writeError(w, r, "analyze schools", err)
		return
	}
	writeAnalyze(w, delta)
}

func (h *Handler) handleAnalyzeOrders(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[batchRequest](w, r)
	if !ok {
		return
	}
	delta, _, err := h.service.AnalyzeOrders(r.Context(), req.Rows, req.Mapping)
	if err != nil {
		h.writeError(w, r, "analyze orders", err)
		return
	}
	writeAnalyze(w, delta)
}

func (h *Handler) handleCommitMembers(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, "commit members", h.service.CommitMembers)
}

func (h *Handler) handleCommitSchools(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, "commit schools", h.service.CommitSchools)
}

func (h *Handler) handleCommitOrders(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, "commit orders", h.service.CommitOrders)
}

type commitFunc func(ctx context.Context, rows []map[string]string, mapping importer.Mapping, progress importer.Progress) (importer.Counts, *importer.Result, error)

func (h *Handler) commit(w http.ResponseWriter, r *http.Request, op string, run commitFunc) {
	req, ok := httputil.Decode[batchRequest](w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	counts, result, err := run(ctx, req.Rows, req.Mapping, nil)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	h.logger.InfoContext(ctx, op+" finished",
		"request_id", requestcontext.RequestID(ctx),
		"rows", len(req.Rows),
		"written", result.Written,
		"failed", len(result.Failed),
	)
	httputil.WriteJSON(w, http.StatusOK, commitResponse{
		Counts:  counts,
		Written: result.Written,
		Failed:  result.Failed,
	})
}

// writeAnalyze is a free function because Go methods cannot carry type
// parameters.
func writeAnalyze[T any](w http.ResponseWriter, delta *importer.Delta[T]) {
	resp := analyzeResponse[T]{
		Counts:  delta.Counts(),
		Updates: delta.Updates,
		Issues:  delta.Issues,
	}
	for _, key := range delta.NewKeys() {
		resp.New = append(resp.New, delta.New[key])
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
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
