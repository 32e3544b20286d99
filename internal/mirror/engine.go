// Package mirror keeps the directory's denormalized read-views in step with
// the authoritative member, school, and grading documents.
//
// The engine is invoked synchronously from the authoritative write path with
// the (previous, current) pair of each change. Every mirror write is an
// idempotent single-document upsert or delete, so a failed invocation heals
// on the next event for the same document; no cross-document transaction is
// used and none may be introduced.
package mirror

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"memberdir/internal/directory/models"
	"memberdir/internal/directory/store"
	"memberdir/internal/platform/metrics"
	"memberdir/pkg/dates"
	"memberdir/pkg/platform/sentinel"
	"memberdir/pkg/requestcontext"
)

// Engine reacts to directory changes by reconciling the derived views.
type Engine struct {
	members        store.MemberStore
	schools        store.SchoolStore
	profiles       store.ProfileStore
	schoolMembers  store.SchoolMemberMirrorStore
	rosters        store.RosterMirrorStore
	gradingMirrors store.GradingMirrorStore
	emails         store.EmailIndex

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(e *Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs a mirror Engine over the directory ports.
func New(
	members store.MemberStore,
	schools store.SchoolStore,
	profiles store.ProfileStore,
	schoolMembers store.SchoolMemberMirrorStore,
	rosters store.RosterMirrorStore,
	gradingMirrors store.GradingMirrorStore,
	emails store.EmailIndex,
	opts ...Option,
) *Engine {
	e := &Engine{
		members:        members,
		schools:        schools,
		profiles:       profiles,
		schoolMembers:  schoolMembers,
		rosters:        rosters,
		gradingMirrors: gradingMirrors,
		emails:         emails,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnMemberChanged reconciles every mirror derived from one member document.
// previous is nil on create, current is nil on delete. Mirror writes are
// attempted independently; failures are joined so a partial run still makes
// progress and the next event heals the remainder.
func (e *Engine) OnMemberChanged(ctx context.Context, key string, previous, current *models.Member) error {
	// Events can arrive stale under concurrency. Re-read the authoritative
	// document so a delayed event never overwrites a fresher mirror.
	if current != nil {
		if fresh, err := e.members.Get(ctx, key); err == nil {
			current = fresh
		} else if errors.Is(err, sentinel.ErrNotFound) {
			current = nil
		}
	}

	var errs []error
	errs = append(errs, e.syncSchoolMembership(ctx, key, previous, current))
	errs = append(errs, e.syncInstructorProfile(ctx, key, current))
	errs = append(errs, e.syncRoster(ctx, key, previous, current))
	errs = append(errs, e.refreshSchoolsReferencing(ctx, previous, current))
	return errors.Join(errs...)
}

func (e *Engine) syncSchoolMembership(ctx context.Context, key string, previous, current *models.Member) error {
	prevOrg := ""
	if previous != nil {
		prevOrg = previous.ManagingOrgID
	}
	curOrg := ""
	if current != nil {
		curOrg = current.ManagingOrgID
	}

	if prevOrg != "" && prevOrg != curOrg {
		if err := e.schoolMembers.Delete(ctx, prevOrg, key); err != nil {
			return err
		}
		e.countMirror("school_members")
	}
	if current != nil && curOrg != "" {
		if err := e.schoolMembers.Upsert(ctx, curOrg, current); err != nil {
			return err
		}
		e.countMirror("school_members")
	}
	return nil
}

func (e *Engine) syncInstructorProfile(ctx context.Context, key string, current *models.Member) error {
	today := requestcontext.Now(ctx).Format(dates.Canonical)
	if current != nil && current.IsQualifiedInstructor(today) {
		if err := e.profiles.Upsert(ctx, models.ProfileFor(current)); err != nil {
			return err
		}
		e.countMirror("instructor_profile")
		return nil
	}
	if err := e.profiles.Delete(ctx, key); err != nil {
		return err
	}
	e.countMirror("instructor_profile")
	return nil
}

func (e *Engine) syncRoster(ctx context.Context, key string, previous, current *models.Member) error {
	prevSifu := ""
	if previous != nil {
		prevSifu = previous.SifuInstructorID
	}
	curSifu := ""
	if current != nil {
		curSifu = current.SifuInstructorID
	}

	if prevSifu != "" && (current == nil || prevSifu != curSifu) {
		if oldKey, ok := e.resolveInstructorKey(ctx, prevSifu); ok {
			if err := e.rosters.Delete(ctx, oldKey, key); err != nil {
				return err
			}
			e.countMirror("roster")
		}
	}
	if current != nil && curSifu != "" {
		instructorKey, ok := e.resolveInstructorKey(ctx, curSifu)
		if !ok {
			// The referenced sifu may legitimately not exist yet, or may
			// have been removed. Skip; the next event retries.
			e.logSkip(ctx, "unresolved_sifu", "sifu_instructor_id", curSifu, "member_key", key)
			return nil
		}
		if err := e.rosters.Upsert(ctx, models.RosterEntryFor(instructorKey, current)); err != nil {
			return err
		}
		e.countMirror("roster")
	}
	return nil
}

// resolveInstructorKey maps an instructor business key to the instructor's
// storage key. Rosters are filed under storage keys only.
func (e *Engine) resolveInstructorKey(ctx context.Context, instructorID string) (string, bool) {
	m, err := e.members.FindByInstructorID(ctx, instructorID)
	if err != nil {
		return "", false
	}
	return m.ID, true
}

// refreshSchoolsReferencing recomputes email projections for every school
// whose acl references the changed member. Only email or identity changes
// can invalidate a projection.
func (e *Engine) refreshSchoolsReferencing(ctx context.Context, previous, current *models.Member) error {
	if !emailProjectionInputChanged(previous, current) {
		return nil
	}
	ids := make(map[string]struct{}, 2)
	if previous != nil && previous.MemberID != "" {
		ids[previous.MemberID] = struct{}{}
	}
	if current != nil && current.MemberID != "" {
		ids[current.MemberID] = struct{}{}
	}
	if len(ids) == 0 {
		return nil
	}

	schools, err := e.schools.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, sc := range schools {
		if !schoolReferencesAny(sc, ids) {
			continue
		}
		errs = append(errs, e.refreshSchoolEmails(ctx, sc))
	}
	return errors.Join(errs...)
}

func emailProjectionInputChanged(previous, current *models.Member) bool {
	if previous == nil || current == nil {
		return true
	}
	if previous.MemberID != current.MemberID {
		return true
	}
	prevEmails := append([]string(nil), previous.Emails...)
	curEmails := append([]string(nil), current.Emails...)
	slices.Sort(prevEmails)
	slices.Sort(curEmails)
	return !slices.Equal(prevEmails, curEmails)
}

func schoolReferencesAny(sc *models.School, memberIDs map[string]struct{}) bool {
	if _, ok := memberIDs[sc.Owner]; ok {
		return true
	}
	for _, m := range sc.Managers {
		if _, ok := memberIDs[m]; ok {
			return true
		}
	}
	return false
}

// OnSchoolChanged reconciles the school's email projection and, on delete,
// clears the school's member sub-list.
func (e *Engine) OnSchoolChanged(ctx context.Context, key string, previous, current *models.School) error {
	if current == nil {
		if previous == nil || previous.SchoolID == "" {
			return nil
		}
		mirrored, err := e.schoolMembers.List(ctx, previous.SchoolID)
		if err != nil {
			return err
		}
		var errs []error
		for _, m := range mirrored {
			if err := e.schoolMembers.Delete(ctx, previous.SchoolID, m.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			e.countMirror("school_members")
		}
		return errors.Join(errs...)
	}

	// Same stale-event guard as members: trust the store, not the payload.
	if fresh, err := e.schools.Get(ctx, key); err == nil {
		current = fresh
	}
	return e.refreshSchoolEmails(ctx, current)
}

// refreshSchoolEmails recomputes OwnerEmail/ManagerEmails from the email
// reverse index and writes the school only when the projection actually
// changed, so projection writes cannot storm the change feed.
func (e *Engine) refreshSchoolEmails(ctx context.Context, sc *models.School) error {
	ownerEmail := e.primaryEmail(ctx, sc.Owner)
	managerEmails := make([]string, 0, len(sc.Managers))
	for _, managerID := range sc.Managers {
		if email := e.primaryEmail(ctx, managerID); email != "" {
			managerEmails = append(managerEmails, email)
		}
	}

	if sc.OwnerEmail == ownerEmail && slices.Equal(sc.ManagerEmails, managerEmails) {
		return nil
	}
	updated := *sc
	updated.OwnerEmail = ownerEmail
	updated.ManagerEmails = managerEmails
	if err := e.schools.Upsert(ctx, &updated); err != nil {
		return err
	}
	e.countMirror("school_emails")
	return nil
}

func (e *Engine) primaryEmail(ctx context.Context, memberID string) string {
	if memberID == "" {
		return ""
	}
	emails, err := e.emails.EmailsForMember(ctx, memberID)
	if err != nil || len(emails) == 0 {
		return ""
	}
	return emails[0]
}

// OnGradingChanged fans the grading out to every referenced instructor's and
// school's mirror sub-collection, removing stale owners on update. A
// transition into Passed sets the student's level directly; a passed
// grading is authoritative, not a HigherOf merge.
func (e *Engine) OnGradingChanged(ctx context.Context, key string, previous, current *models.Grading) error {
	prevOwners := e.resolveGradingOwners(ctx, previous)
	curOwners := e.resolveGradingOwners(ctx, current)

	var errs []error
	for ownerKey := range prevOwners {
		if _, still := curOwners[ownerKey]; still {
			continue
		}
		if err := e.gradingMirrors.Delete(ctx, ownerKey, key); err != nil {
			errs = append(errs, err)
			continue
		}
		e.countMirror("grading")
	}
	for ownerKey := range curOwners {
		if err := e.gradingMirrors.Upsert(ctx, ownerKey, current); err != nil {
			errs = append(errs, err)
			continue
		}
		e.countMirror("grading")
	}

	if passedTransition(previous, current) {
		errs = append(errs, e.applyPassedGrading(ctx, current))
	}
	return errors.Join(errs...)
}

func passedTransition(previous, current *models.Grading) bool {
	if current == nil || current.Status != models.GradingPassed {
		return false
	}
	return previous == nil || previous.Status != models.GradingPassed
}

func (e *Engine) applyPassedGrading(ctx context.Context, g *models.Grading) error {
	if g.MemberKey == "" || g.Level == "" {
		return nil
	}
	student, err := e.members.Get(ctx, g.MemberKey)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			e.logSkip(ctx, "missing_student", "member_key", g.MemberKey, "grading", g.ID)
			return nil
		}
		return err
	}
	if student.StudentLevel == g.Level {
		return nil
	}
	before := *student
	student.StudentLevel = g.Level
	if err := e.members.Upsert(ctx, student); err != nil {
		return err
	}
	// The level change must flow into the member's own mirrors.
	return e.OnMemberChanged(ctx, student.ID, &before, student)
}

// resolveGradingOwners maps a grading's instructor and school business keys
// to the storage keys its mirrors are filed under. Unresolvable references
// are logged and skipped; the grading may reference an instructor who no
// longer exists.
func (e *Engine) resolveGradingOwners(ctx context.Context, g *models.Grading) map[string]struct{} {
	owners := make(map[string]struct{})
	if g == nil {
		return owners
	}
	for _, instructorID := range g.InstructorIDSet() {
		if key, ok := e.resolveInstructorKey(ctx, instructorID); ok {
			owners[key] = struct{}{}
		} else {
			e.logSkip(ctx, "unresolved_instructor", "instructor_id", instructorID, "grading", g.ID)
		}
	}
	if g.SchoolID != "" {
		sc, err := e.schools.FindBySchoolID(ctx, g.SchoolID)
		if err != nil {
			e.logSkip(ctx, "missing_school", "school_id", g.SchoolID, "grading", g.ID)
		} else {
			owners[sc.ID] = struct{}{}
		}
	}
	return owners
}

func (e *Engine) countMirror(kind string) {
	if e.metrics != nil {
		e.metrics.MirrorWrites.WithLabelValues(kind).Inc()
	}
}

func (e *Engine) logSkip(ctx context.Context, reason string, attributes ...any) {
	if e.metrics != nil {
		e.metrics.MirrorSkips.WithLabelValues(reason).Inc()
	}
	if e.logger != nil {
		args := append([]any{"reason", reason}, attributes...)
		e.logger.WarnContext(ctx, "mirror update skipped", args...)
	}
}
