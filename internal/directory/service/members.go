package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"memberdir/internal/audit"
	"memberdir/internal/counter"
	"memberdir/internal/directory/models"
	"memberdir/internal/directory/store"
	dErrors "memberdir/pkg/domain-errors"
	pkgstrings "memberdir/pkg/platform/strings"
	"memberdir/pkg/platform/sentinel"
)

// GetMember loads a member by storage key.
func (s *Service) GetMember(ctx context.Context, key string) (*models.Member, error) {
	m, err := s.members.Get(ctx, key)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "member %s not found", key)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load member")
	}
	return m, nil
}

// FindMemberByMemberID loads a member by business key.
func (s *Service) FindMemberByMemberID(ctx context.Context, memberID string) (*models.Member, error) {
	m, err := s.members.FindByMemberID(ctx, strings.ToUpper(strings.TrimSpace(memberID)))
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "member %s not found", memberID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load member")
	}
	return m, nil
}

// ListMembers returns every member document.
func (s *Service) ListMembers(ctx context.Context) ([]*models.Member, error) {
	members, err := s.members.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list members")
	}
	return members, nil
}

// CreateMember writes a new member. A blank memberId is assigned from the
// country's counter; a caller-supplied one must be unused and ratchets the
// counters so allocation never reissues it.
func (s *Service) CreateMember(ctx context.Context, m *models.Member) (*models.Member, error) {
	normalizeMember(m)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.MemberID == "" {
		memberID, err := s.counters.NextMemberID(ctx, m.Country)
		if err != nil {
			return nil, err
		}
		m.MemberID = memberID
	} else {
		if _, err := s.members.FindByMemberID(ctx, m.MemberID); err == nil {
			return nil, dErrors.Newf(dErrors.CodeConflict, "memberId %s already exists", m.MemberID)
		} else if !dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check memberId")
		}
	}

	if err := s.members.Upsert(ctx, m); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write member")
	}
	s.afterMemberWrite(ctx, nil, m)
	s.recordAudit(ctx, "create", "member", m.ID, map[string]string{"memberId": m.MemberID})
	return m, nil
}

// UpdateMember overwrites an existing member document.
func (s *Service) UpdateMember(ctx context.Context, m *models.Member) (*models.Member, error) {
	normalizeMember(m)
	previous, err := s.GetMember(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if m.MemberID != previous.MemberID {
		if other, err := s.members.FindByMemberID(ctx, m.MemberID); err == nil {
			if other.ID != m.ID {
				return nil, dErrors.Newf(dErrors.CodeConflict, "memberId %s already exists", m.MemberID)
			}
		} else if !dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check memberId")
		}
	}

	if err := s.members.Upsert(ctx, m); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "write member")
	}
	s.afterMemberWrite(ctx, previous, m)
	s.recordAudit(ctx, "update", "member", m.ID, map[string]string{"memberId": m.MemberID})
	return m, nil
}

// SaveMember upserts by business key: update when the memberId exists,
// create otherwise. The import commit phase writes through this.
func (s *Service) SaveMember(ctx context.Context, m *models.Member) error {
	normalizeMember(m)
	if m.MemberID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "memberId required")
	}
	existing, err := s.members.FindByMemberID(ctx, m.MemberID)
	switch {
	case err == nil:
		m.ID = existing.ID
		_, err = s.UpdateMember(ctx, m)
		return err
	case dErrors.Is(err, sentinel.ErrNotFound):
		_, err = s.CreateMember(ctx, m)
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "find member")
	}
}

// DeleteMember removes a member and cascades into its mirrors and the email
// index.
func (s *Service) DeleteMember(ctx context.Context, key string) error {
	previous, err := s.GetMember(ctx, key)
	if err != nil {
		return err
	}
	if err := s.members.Delete(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete member")
	}
	s.afterMemberWrite(ctx, previous, nil)
	s.recordAudit(ctx, "delete", "member", key, map[string]string{"memberId": previous.MemberID})
	return nil
}

// afterMemberWrite runs the post-write obligations: email index, counter
// ratchet, mirrors, metrics. All best-effort; the authoritative write
// already happened and a re-run heals derived state.
func (s *Service) afterMemberWrite(ctx context.Context, previous, current *models.Member) {
	s.syncEmailIndex(ctx, previous, current)
	if current != nil {
		obs := counter.ExtractFromMember(current.MemberID, current.InstructorID)
		if err := s.counters.EnsureAtLeast(ctx, obs); err != nil {
			s.logError(ctx, "counter ratchet failed", "key", current.ID, err)
		}
	}
	key := ""
	if current != nil {
		key = current.ID
	} else if previous != nil {
		key = previous.ID
	}
	if err := s.engine.OnMemberChanged(ctx, key, previous, current); err != nil {
		s.logError(ctx, "mirror update failed", "key", key, err)
	}
	if s.metrics != nil {
		s.metrics.MembersWritten.Inc()
	}
}

// syncEmailIndex makes the reverse index reflect exactly the member's
// current email set.
func (s *Service) syncEmailIndex(ctx context.Context, previous, current *models.Member) {
	var stale []string
	if previous != nil {
		for _, email := range previous.Emails {
			if current == nil || !containsEmail(current.Emails, email) {
				stale = append(stale, email)
			}
		}
	}
	for _, email := range stale {
		if err := s.emails.Remove(ctx, email); err != nil {
			s.logError(ctx, "email index remove failed", "email", email, err)
		}
	}
	if current == nil {
		return
	}
	ref := store.EmailRef{MemberID: current.MemberID, InstructorID: current.InstructorID}
	for _, email := range current.Emails {
		if err := s.emails.Put(ctx, email, ref); err != nil {
			s.logError(ctx, "email index put failed", "email", email, err)
		}
	}
}

func containsEmail(emails []string, email string) bool {
	for _, e := range emails {
		if e == email {
			return true
		}
	}
	return false
}

func normalizeMember(m *models.Member) {
	m.MemberID = strings.ToUpper(strings.TrimSpace(m.MemberID))
	m.Country = strings.ToUpper(strings.TrimSpace(m.Country))
	m.InstructorID = strings.TrimSpace(m.InstructorID)
	m.SifuInstructorID = strings.TrimSpace(m.SifuInstructorID)
	m.Emails = pkgstrings.DedupeAndTrimLower(m.Emails)
}

func (s *Service) recordAudit(ctx context.Context, action, entity, key string, detail map[string]string) {
	if err := audit.Record(ctx, s.audit, action, entity, key, detail); err != nil {
		s.logError(ctx, "audit publish failed", "entity", entity, err)
	}
}

func (s *Service) logError(ctx context.Context, msg, attrKey, attrValue string, err error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, msg, attrKey, attrValue, "error", err)
	}
}
