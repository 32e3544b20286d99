package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"memberdir/internal/directory/models"
	dErrors "memberdir/pkg/domain-errors"
	"memberdir/pkg/platform/httputil"
	"memberdir/pkg/requestcontext"
)

// Service defines the directory operations the HTTP layer exposes.
type Service interface {
	GetMember(ctx context.Context, key string) (*models.Member, error)
	FindMemberByMemberID(ctx context.Context, memberID string) (*models.Member, error)
	ListMembers(ctx context.Context) ([]*models.Member, error)
	CreateMember(ctx context.Context, m *models.Member) (*models.Member, error)
	UpdateMember(ctx context.Context, m *models.Member) (*models.Member, error)
	DeleteMember(ctx context.Context, key string) error

	GetSchool(ctx context.Context, key string) (*models.School, error)
	FindSchoolBySchoolID(ctx context.Context, schoolID string) (*models.School, error)
	ListSchools(ctx context.Context) ([]*models.School, error)
	CreateSchool(ctx context.Context, sc *models.School) (*models.School, error)
	UpdateSchool(ctx context.Context, sc *models.School) (*models.School, error)
	DeleteSchool(ctx context.Context, key string) error

	GetGrading(ctx context.Context, key string) (*models.Grading, error)
	SubmitGrading(ctx context.Context, g *models.Grading) (*models.Grading, error)
	UpdateGrading(ctx context.Context, g *models.Grading) (*models.Grading, error)
	DeleteGrading(ctx context.Context, key string) error

	SaveOrder(ctx context.Context, o *models.Order) error
}

// Handler wires directory endpoints to the directory service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a directory handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts directory endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/members", func(r chi.Router) {
		r.Get("/", h.handleListMembers)
		r.Post("/", h.handleCreateMember)
		r.Get("/by-member-id/{memberID}", h.handleFindMember)
		r.Get("/{key}", h.handleGetMember)
		r.Put("/{key}", h.handleUpdateMember)
		r.Delete("/{key}", h.handleDeleteMember)
	})
	r.Route("/schools", func(r chi.Router) {
		r.Get("/", h.handleListSchools)
		r.Post("/", h.handleCreateSchool)
		r.Get("/by-school-id/{schoolID}", h.handleFindSchool)
		r.Get("/{key}", h.handleGetSchool)
		r.Put("/{key}", h.handleUpdateSchool)
		r.Delete("/{key}", h.handleDeleteSchool)
	})
	r.Route("/gradings", func(r chi.Router) {
		r.Post("/", h.handleSubmitGrading)
		r.Get("/{key}", h.handleGetGrading)
		r.Put("/{key}", h.handleUpdateGrading)
		r.Delete("/{key}", h.handleDeleteGrading)
	})
	r.Put("/orders", h.handleSaveOrder)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context())
	if err != nil {
		h.writeError(w, r, "list members", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, members)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetMember(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, r, "get member", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) handleFindMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.FindMemberByMemberID(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeError(w, r, "find member", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	m, ok := httputil.Decode[models.Member](w, r)
	if !ok {
		return
	}
	created, err := h.service.CreateMember(r.Context(), &m)
	if err != nil {
		h.writeError(w, r, "create member", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	m, ok := httputil.Decode[models.Member](w, r)
	if !ok {
		return
	}
	m.ID = chi.URLParam(r, "key")
	updated, err := h.service.UpdateMember(r.Context(), &m)
	if err != nil {
		h.writeError(w, r, "update member", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMember(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.writeError(w, r, "delete member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := h.service.ListSchools(r.Context())
	if err != nil {
		h.writeError(w, r, "list schools", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, schools)
}

func (h *Handler) handleGetSchool(w http.ResponseWriter, r *http.Request) {
	sc, err := h.service.GetSchool(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, r, "get school", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sc)
}

func (h *Handler) handleFindSchool(w http.ResponseWriter, r *http.Request) {
	sc, err := h.service.FindSchoolBySchoolID(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.writeError(w, r, "find school", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sc)
}

func (h *Handler) handleCreateSchool(w http.ResponseWriter, r *http.Request) {
	sc, ok := httputil.Decode[models.School](w, r)
	if !ok {
		return
	}
	created, err := h.service.CreateSchool(r.Context(), &sc)
	if err != nil {
		h.writeError(w, r, "create school", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateSchool(w http.ResponseWriter, r *http.Request) {
	sc, ok := httputil.Decode[models.School](w, r)
	if !ok {
		return
	}
	sc.ID = chi.URLParam(r, "key")
	updated, err := h.service.UpdateSchool(r.Context(), &sc)
	if err != nil {
		h.writeError(w, r, "update school", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteSchool(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSchool(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.writeError(w, r, "delete school", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetGrading(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.GetGrading(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, r, "get grading", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) handleSubmitGrading(w http.ResponseWriter, r *http.Request) {
	g, ok := httputil.Decode[models.Grading](w, r)
	if !ok {
		return
	}
	created, err := h.service.SubmitGrading(r.Context(), &g)
	if err != nil {
		h.writeError(w, r, "submit grading", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateGrading(w http.ResponseWriter, r *http.Request) {
	g, ok := httputil.Decode[models.Grading](w, r)
	if !ok {
		return
	}
	g.ID = chi.URLParam(r, "key")
	updated, err := h.service.UpdateGrading(r.Context(), &g)
	if err != nil {
		h.writeError(w, r, "update grading", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteGrading(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteGrading(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.writeError(w, r, "delete grading", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveOrder upserts a payment record by its reference number.
func (h *Handler) handleSaveOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := httputil.Decode[models.Order](w, r)
	if !ok {
		return
	}
	if err := h.service.SaveOrder(r.Context(), &o); err != nil {
		h.writeError(w, r, "save order", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &o)
}

// writeError logs server-side failures and translates the error for the
// client. Not-found and validation outcomes are normal traffic and stay out
// of the error log.
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
