package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"memberdir/internal/directory/models"
	dErrors "memberdir/pkg/domain-errors"
	"memberdir/pkg/platform/sentinel"
)

// GetGrading loads a grading by storage key.
func (s *Service) GetGrading(ctx context.Context, key string) (*models.Grading, error) {
	g, err := s.gradings.Get(ctx, key)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "grading %s not found", key)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load grading")
	}
	return g, nil
}

// SubmitGrading records a new grading and fans it out to the referenced
// instructors' and school's mirrors.
func (s *Service) SubmitGrading(ctx context.Context, g *models.Grading) (*models.Grading, error) {
	if g.MemberKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "memberKey required")
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.GradingPending
	}
	if _, err := s.GetMember(ctx, g.MemberKey); err != nil {
		return nil, err
	}

	if err := s.gradings.Upsert(ctx, g); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write grading")
	}
	s.afterGradingWrite(ctx, nil, g)
	s.recordAudit(ctx, "create", "grading", g.ID, map[string]string{"memberKey": g.MemberKey})
	return g, nil
}

// UpdateGrading overwrites an existing grading; a transition into Passed
// advances the student's level through the mirror engine.
func (s *Service) UpdateGrading(ctx context.Context, g *models.Grading) (*models.Grading, error) {
	previous, err := s.GetGrading(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if err := s.gradings.Upsert(ctx, g); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write grading")
	}
	s.afterGradingWrite(ctx, previous, g)
	s.recordAudit(ctx, "update", "grading", g.ID, map[string]string{"status": string(g.Status)})
	return g, nil
}

// DeleteGrading removes a grading and its mirror copies.
func (s *Service) DeleteGrading(ctx context.Context, key string) error {
	previous, err := s.GetGrading(ctx, key)
	if err != nil {
		return err
	}
	if err := s.gradings.Delete(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete grading")
	}
	s.afterGradingWrite(ctx, previous, nil)
	s.recordAudit(ctx, "delete", "grading", key, nil)
	return nil
}

func (s *Service) afterGradingWrite(ctx context.Context, previous, current *models.Grading) {
	key := ""
	if current != nil {
		key = current.ID
	} else if previous != nil {
		key = previous.ID
	}
	if err := s.engine.OnGradingChanged(ctx, key, previous, current); err != nil {
		s.logError(ctx, "mirror update failed", "key", key, err)
	}
}

// SaveOrder upserts an order by its reference number. Orders have no
// mirrors; their directory influence runs through import side effects.
func (s *Service) SaveOrder(ctx context.Context, o *models.Order) error {
	o.ReferenceNumber = strings.TrimSpace(o.ReferenceNumber)
	if o.ReferenceNumber == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "referenceNumber required")
	}
	existing, err := s.orders.FindByReference(ctx, o.ReferenceNumber)
	switch {
	case err == nil:
		o.ID = existing.ID
	case dErrors.Is(err, sentinel.ErrNotFound):
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "find order")
	}
	if err := s.orders.Upsert(ctx, o); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "write order")
	}
	s.recordAudit(ctx, "save", "order", o.ID, map[string]string{"reference": o.ReferenceNumber})
	return nil
}
