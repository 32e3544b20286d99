package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"memberdir/internal/directory/models"
	dErrors "memberdir/pkg/domain-errors"
	"memberdir/pkg/platform/sentinel"
)

// GetSchool loads a school by storage key.
func (s *Service) GetSchool(ctx context.Context, key string) (*models.School, error) {
	sc, err := s.schools.Get(ctx, key)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "school %s not found", key)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load school")
	}
	return sc, nil
}

// FindSchoolBySchoolID loads a school by business key.
func (s *Service) FindSchoolBySchoolID(ctx context.Context, schoolID string) (*models.School, error) {
	sc, err := s.schools.FindBySchoolID(ctx, strings.TrimSpace(schoolID))
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "school %s not found", schoolID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load school")
	}
	return sc, nil
}

// ListSchools returns every school document.
func (s *Service) ListSchools(ctx context.Context) ([]*models.School, error) {
	schools, err := s.schools.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list schools")
	}
	return schools, nil
}

// CreateSchool writes a new school. The schoolId business key is free-form
// but required and must be unused.
func (s *Service) CreateSchool(ctx context.Context, sc *models.School) (*models.School, error) {
	normalizeSchool(sc)
	if sc.SchoolID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "schoolId required")
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if _, err := s.schools.FindBySchoolID(ctx, sc.SchoolID); err == nil {
		return nil, dErrors.Newf(dErrors.CodeConflict, "schoolId %s already exists", sc.SchoolID)
	} else if !dErrors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check schoolId")
	}

	if err := s.schools.Upsert(ctx, sc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write school")
	}
	s.afterSchoolWrite(ctx, nil, sc)
	s.recordAudit(ctx, "create", "school", sc.ID, map[string]string{"schoolId": sc.SchoolID})
	return sc, nil
}

// UpdateSchool overwrites an existing school document.
func (s *Service) UpdateSchool(ctx context.Context, sc *models.School) (*models.School, error) {
	normalizeSchool(sc)
	previous, err := s.GetSchool(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	if err := s.schools.Upsert(ctx, sc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write school")
	}
	s.afterSchoolWrite(ctx, previous, sc)
	s.recordAudit(ctx, "update", "school", sc.ID, map[string]string{"schoolId": sc.SchoolID})
	return sc, nil
}

// SaveSchool upserts by business key for the import commit phase.
func (s *Service) SaveSchool(ctx context.Context, sc *models.School) error {
	normalizeSchool(sc)
	if sc.SchoolID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "schoolId required")
	}
	existing, err := s.schools.FindBySchoolID(ctx, sc.SchoolID)
	switch {
	case err == nil:
		sc.ID = existing.ID
		_, err = s.UpdateSchool(ctx, sc)
		return err
	case dErrors.Is(err, sentinel.ErrNotFound):
		_, err = s.CreateSchool(ctx, sc)
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "find school")
	}
}

// DeleteSchool removes a school and clears its member sub-list.
func (s *Service) DeleteSchool(ctx context.Context, key string) error {
	previous, err := s.GetSchool(ctx, key)
	if err != nil {
		return err
	}
	if err := s.schools.Delete(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete school")
	}
	s.afterSchoolWrite(ctx, previous, nil)
	s.recordAudit(ctx, "delete", "school", key, map[string]string{"schoolId": previous.SchoolID})
	return nil
}

func (s *Service) afterSchoolWrite(ctx context.Context, previous, current *models.School) {
	key := ""
	if current != nil {
		key = current.ID
	} else if previous != nil {
		key = previous.ID
	}
	if err := s.engine.OnSchoolChanged(ctx, key, previous, current); err != nil {
		s.logError(ctx, "mirror update failed", "key", key, err)
	}
	if s.metrics != nil {
		s.metrics.SchoolsWritten.Inc()
	}
}

func normalizeSchool(sc *models.School) {
	sc.SchoolID = strings.TrimSpace(sc.SchoolID)
	sc.Owner = strings.ToUpper(strings.TrimSpace(sc.Owner))
	managers := make([]string, 0, len(sc.Managers))
	for _, m := range sc.Managers {
		if trimmed := strings.ToUpper(strings.TrimSpace(m)); trimmed != "" {
			managers = append(managers, trimmed)
		}
	}
	sc.Managers = managers
}
