// Package repair holds the batch consistency sweeps that move the directory
// off legacy layouts and undo drift between authoritative documents and
// their mirrors.
//
// Every sweep is idempotent and re-runnable; a second run over a healthy
// directory fixes nothing. Each supports dry-run, reporting what it would
// fix without mutating.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"memberdir/internal/directory/models"
	"memberdir/internal/directory/store"
	"memberdir/internal/mirror"
	"memberdir/internal/platform/metrics"
	"memberdir/pkg/dates"
	"memberdir/pkg/requestcontext"
)

// rebuildConcurrency bounds the profile rebuild fan-out; profile writes are
// independent documents.
const rebuildConcurrency = 8

// Report is what one sweep did, or would do under dry-run.
type Report struct {
	Sweep    string   `json:"sweep"`
	DryRun   bool     `json:"dryRun"`
	Examined int      `json:"examined"`
	Fixed    int      `json:"fixed"`
	Details  []string `json:"details,omitempty"`
}

func (r *Report) fix(detail string) {
	r.Fixed++
	r.Details = append(r.Details, detail)
}

// Service runs the sweeps. Authoritative writes go through the stores and
// are followed by mirror engine events, so repaired documents re-derive
// their mirrors the same way live writes do.
type Service struct {
	members    store.MemberStore
	profiles   store.ProfileStore
	rosters    store.RosterMirrorStore
	quarantine store.QuarantineStore
	engine     *mirror.Engine

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the repair service.
func New(
	members store.MemberStore,
	profiles store.ProfileStore,
	rosters store.RosterMirrorStore,
	quarantine store.QuarantineStore,
	engine *mirror.Engine,
	opts ...Option,
) *Service {
	s := &Service{
		members:    members,
		profiles:   profiles,
		rosters:    rosters,
		quarantine: quarantine,
		engine:     engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RekeyLegacyMembers moves every member whose storage key equals its
// memberId onto a fresh surrogate key, preserving the document. The old
// document is removed after the new one exists, so a crash mid-sweep leaves
// at worst a duplicate the quarantine sweep surfaces, never a loss.
func (s *Service) RekeyLegacyMembers(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Sweep: "rekey", DryRun: dryRun}
	members, err := s.members.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		report.Examined++
		if m.MemberID == "" || m.ID != m.MemberID {
			continue
		}
		oldKey := m.ID
		newKey := uuid.NewString()
		report.fix(fmt.Sprintf("member %s: rekey %s -> %s", m.MemberID, oldKey, newKey))
		if dryRun {
			continue
		}

		legacy := *m
		m.ID = newKey
		if err := s.members.Upsert(ctx, m); err != nil {
			return nil, err
		}
		if err := s.engine.OnMemberChanged(ctx, newKey, nil, m); err != nil {
			s.logSweepError(ctx, "rekey", oldKey, err)
		}
		if err := s.members.Delete(ctx, oldKey); err != nil {
			return nil, err
		}
		if err := s.engine.OnMemberChanged(ctx, oldKey, &legacy, nil); err != nil {
			s.logSweepError(ctx, "rekey", oldKey, err)
		}
		s.countFix("rekey")
	}
	return report, nil
}

// RebuildInstructorProfiles recomputes every instructor profile from its
// member source of truth and deletes profile documents keyed by anything
// that is not a live member storage key entitled to one. Handles both
// orphans and the legacy instructorId-keyed layout.
func (s *Service) RebuildInstructorProfiles(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Sweep: "profiles", DryRun: dryRun}
	today := requestcontext.Now(ctx).Format(dates.Canonical)

	members, err := s.members.List(ctx)
	if err != nil {
		return nil, err
	}
	desired := make(map[string]*models.InstructorProfile)
	for _, m := range members {
		if m.IsQualifiedInstructor(today) {
			desired[m.ID] = models.ProfileFor(m)
		}
	}

	existing, err := s.profiles.List(ctx)
	if err != nil {
		return nil, err
	}
	current := make(map[string]*models.InstructorProfile, len(existing))
	for _, p := range existing {
		current[p.MemberKey] = p
	}
	report.Examined = len(existing)

	var stale []string
	for key := range current {
		if _, ok := desired[key]; !ok {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)
	for _, key := range stale {
		report.fix(fmt.Sprintf("profile %s: delete (no entitled member)", key))
	}

	var toWrite []*models.InstructorProfile
	for _, key := range sortedProfileKeys(desired) {
		p := desired[key]
		if have, ok := current[key]; ok && *have == *p {
			continue
		}
		toWrite = append(toWrite, p)
		report.fix(fmt.Sprintf("profile %s: rebuild for instructor %s", key, p.InstructorID))
	}
	if dryRun {
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rebuildConcurrency)
	for _, key := range stale {
		g.Go(func() error { return s.profiles.Delete(gctx, key) })
	}
	for _, p := range toWrite {
		g.Go(func() error { return s.profiles.Upsert(gctx, p) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for range report.Details {
		s.countFix("profiles")
	}
	return report, nil
}

// ReconcileRosters ensures every member with a sifu has exactly one roster
// entry at the correct instructor and student storage keys, and removes
// entries that are stale in any way: student gone, sifu changed, filed
// under the wrong instructor, or carrying outdated projection fields.
func (s *Service) ReconcileRosters(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Sweep: "rosters", DryRun: dryRun}

	members, err := s.members.List(ctx)
	if err != nil {
		return nil, err
	}
	instructorKeys := make(map[string]string) // instructorId -> storage key
	for _, m := range members {
		if m.InstructorID != "" {
			instructorKeys[m.InstructorID] = m.ID
		}
	}

	type slot struct{ instructorKey, studentKey string }
	desired := make(map[slot]*models.RosterEntry)
	for _, m := range members {
		if m.SifuInstructorID == "" {
			continue
		}
		instructorKey, ok := instructorKeys[m.SifuInstructorID]
		if !ok {
			// Dangling sifu reference; nothing to file, nothing to fix here.
			continue
		}
		desired[slot{instructorKey, m.ID}] = models.RosterEntryFor(instructorKey, m)
	}

	existing, err := s.rosters.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	report.Examined = len(existing)
	seen := make(map[slot]bool)
	var errs []error
	for _, e := range existing {
		at := slot{e.InstructorKey, e.StudentKey}
		want, ok := desired[at]
		if ok && *want == *e {
			seen[at] = true
			continue
		}
		if !ok {
			report.fix(fmt.Sprintf("roster %s/%s: remove stale entry", e.InstructorKey, e.StudentKey))
			if !dryRun {
				if err := s.rosters.Delete(ctx, e.InstructorKey, e.StudentKey); err != nil {
					errs = append(errs, err)
					continue
				}
				s.countFix("rosters")
			}
			continue
		}
		// Right slot, outdated content.
		report.fix(fmt.Sprintf("roster %s/%s: refresh entry", e.InstructorKey, e.StudentKey))
		seen[at] = true
		if !dryRun {
			if err := s.rosters.Upsert(ctx, want); err != nil {
				errs = append(errs, err)
				continue
			}
			s.countFix("rosters")
		}
	}
	for at, want := range desired {
		if seen[at] {
			continue
		}
		report.fix(fmt.Sprintf("roster %s/%s: create missing entry", at.instructorKey, at.studentKey))
		if !dryRun {
			if err := s.rosters.Upsert(ctx, want); err != nil {
				errs = append(errs, err)
				continue
			}
			s.countFix("rosters")
		}
	}
	sort.Strings(report.Details)
	return report, errors.Join(errs...)
}

// QuarantineDuplicateMembers relocates members with an empty memberId, and
// all but one of each duplicated memberId, into the quarantine collection.
// Quarantined documents are preserved verbatim for manual recovery, tagged
// with a reason code. Among duplicates the survivor is the most recently
// renewed document, key order breaking ties.
func (s *Service) QuarantineDuplicateMembers(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Sweep: "quarantine", DryRun: dryRun}
	members, err := s.members.List(ctx)
	if err != nil {
		return nil, err
	}
	report.Examined = len(members)

	byMemberID := make(map[string][]*models.Member)
	for _, m := range members {
		if m.MemberID == "" {
			report.fix(fmt.Sprintf("member key %s: quarantine (%s)", m.ID, models.QuarantineEmptyMemberID))
			if !dryRun {
				if err := s.quarantineMember(ctx, m, models.QuarantineEmptyMemberID); err != nil {
					return report, err
				}
			}
			continue
		}
		byMemberID[m.MemberID] = append(byMemberID[m.MemberID], m)
	}

	for _, memberID := range sortedGroupKeys(byMemberID) {
		group := byMemberID[memberID]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			// Canonical dates compare lexicographically.
			if group[i].LastRenewalDate != group[j].LastRenewalDate {
				return group[i].LastRenewalDate > group[j].LastRenewalDate
			}
			return group[i].ID < group[j].ID
		})
		for _, m := range group[1:] {
			report.fix(fmt.Sprintf("member %s key %s: quarantine (%s)", memberID, m.ID, models.QuarantineDuplicateMemberID))
			if !dryRun {
				if err := s.quarantineMember(ctx, m, models.QuarantineDuplicateMemberID); err != nil {
					return report, err
				}
			}
		}
	}
	return report, nil
}

func (s *Service) quarantineMember(ctx context.Context, m *models.Member, reason string) error {
	if err := s.quarantine.Add(ctx, &models.QuarantinedMember{Key: m.ID, Reason: reason, Member: m}); err != nil {
		return err
	}
	if err := s.members.Delete(ctx, m.ID); err != nil {
		return err
	}
	if err := s.engine.OnMemberChanged(ctx, m.ID, m, nil); err != nil {
		s.logSweepError(ctx, "quarantine", m.ID, err)
	}
	s.countFix("quarantine")
	return nil
}

func (s *Service) countFix(sweep string) {
	if s.metrics != nil {
		s.metrics.RepairFixes.WithLabelValues(sweep).Inc()
	}
}

func (s *Service) logSweepError(ctx context.Context, sweep, key string, err error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "repair mirror update failed", "sweep", sweep, "key", key, "error", err)
	}
}

func sortedProfileKeys(m map[string]*models.InstructorProfile) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedGroupKeys(m map[string][]*models.Member) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
