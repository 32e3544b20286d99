package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"memberdir/internal/directory/models"
	"memberdir/pkg/platform/sentinel"
)

type DirectoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *DirectoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestDirectoryStoreSuite(t *testing.T) {
	suite.Run(t, new(DirectoryStoreSuite))
}

func (s *DirectoryStoreSuite) newMember(memberID string, emails ...string) *models.Member {
	m := models.NewMember()
	m.ID = uuid.NewString()
	m.MemberID = memberID
	m.Emails = emails
	return m
}

// TestMemberLookups verifies member storage and the business-key lookups.
func (s *DirectoryStoreSuite) TestMemberLookups() {
	s.Run("get by storage key", func() {
		m := s.newMember("US100")
		s.Require().NoError(s.store.Upsert(s.ctx, m))

		found, err := s.store.Get(s.ctx, m.ID)
		s.Require().NoError(err)
		s.Equal("US100", found.MemberID)
	})

	s.Run("returns ErrNotFound for unknown key", func() {
		_, err := s.store.Get(s.ctx, uuid.NewString())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("finds by member ID case-insensitively", func() {
		m := s.newMember("UK50")
		s.Require().NoError(s.store.Upsert(s.ctx, m))

		found, err := s.store.FindByMemberID(s.ctx, "uk50")
		s.Require().NoError(err)
		s.Equal(m.ID, found.ID)
	})

	s.Run("finds by instructor ID", func() {
		m := s.newMember("US101")
		m.InstructorID = "200"
		s.Require().NoError(s.store.Upsert(s.ctx, m))

		found, err := s.store.FindByInstructorID(s.ctx, "200")
		s.Require().NoError(err)
		s.Equal(m.ID, found.ID)

		_, err = s.store.FindByInstructorID(s.ctx, "")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("finds all members sharing an email", func() {
		m1 := s.newMember("US102", "shared@x.com")
		m2 := s.newMember("US103", "shared@x.com", "own@x.com")
		s.Require().NoError(s.store.Upsert(s.ctx, m1))
		s.Require().NoError(s.store.Upsert(s.ctx, m2))

		found, err := s.store.FindByEmail(s.ctx, "Shared@X.com")
		s.Require().NoError(err)
		s.Len(found, 2)
	})
}

// TestCopySemantics verifies the store never aliases caller state.
func (s *DirectoryStoreSuite) TestCopySemantics() {
	m := s.newMember("US100", "a@x.com")
	s.Require().NoError(s.store.Upsert(s.ctx, m))

	m.Emails[0] = "mutated@x.com"

	found, err := s.store.Get(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal([]string{"a@x.com"}, found.Emails)

	found.Emails[0] = "again@x.com"
	again, err := s.store.Get(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal([]string{"a@x.com"}, again.Emails)
}

// TestSchoolMemberMirror verifies the per-school sub-list keying.
func (s *DirectoryStoreSuite) TestSchoolMemberMirror() {
	mirror := s.store.SchoolMembers()
	m := s.newMember("US100")

	s.Require().NoError(mirror.Upsert(s.ctx, "S1", m))

	listed, err := mirror.List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Len(listed, 1)

	s.Require().NoError(mirror.Delete(s.ctx, "S1", m.ID))
	listed, err = mirror.List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Empty(listed)

	// Deleting from an absent school is a no-op, not an error.
	s.Require().NoError(mirror.Delete(s.ctx, "S2", m.ID))
}

// TestRosterMirror verifies roster keying and the repair-sweep scan.
func (s *DirectoryStoreSuite) TestRosterMirror() {
	rosters := s.store.Rosters()
	e := &models.RosterEntry{InstructorKey: "sifu-1", StudentKey: "stu-1", MemberID: "US100"}

	s.Require().NoError(rosters.Upsert(s.ctx, e))
	s.Require().NoError(rosters.Upsert(s.ctx, e)) // idempotent

	listed, err := rosters.List(s.ctx, "sifu-1")
	s.Require().NoError(err)
	s.Len(listed, 1)

	all, err := rosters.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
	s.Equal("sifu-1", all[0].InstructorKey)
}

// TestEmailIndex verifies the reverse index round trip.
func (s *DirectoryStoreSuite) TestEmailIndex() {
	idx := s.store.Emails()

	s.Require().NoError(idx.Put(s.ctx, "Owner@X.com", EmailRef{MemberID: "US100", InstructorID: "200"}))
	s.Require().NoError(idx.Put(s.ctx, "second@x.com", EmailRef{MemberID: "US100"}))

	ref, err := idx.Lookup(s.ctx, "owner@x.com")
	s.Require().NoError(err)
	s.Equal("US100", ref.MemberID)
	s.Equal("200", ref.InstructorID)

	emails, err := idx.EmailsForMember(s.ctx, "us100")
	s.Require().NoError(err)
	s.Equal([]string{"owner@x.com", "second@x.com"}, emails)

	s.Require().NoError(idx.Remove(s.ctx, "owner@x.com"))
	_, err = idx.Lookup(s.ctx, "owner@x.com")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestEmailIndexRemoveCompactsOrder verifies a removed email gives up its
// listing position instead of leaving a hole behind.
func (s *DirectoryStoreSuite) TestEmailIndexRemoveCompactsOrder() {
	idx := s.store.Emails()

	s.Require().NoError(idx.Put(s.ctx, "a@x.com", EmailRef{MemberID: "US100"}))
	s.Require().NoError(idx.Put(s.ctx, "b@x.com", EmailRef{MemberID: "US100"}))

	s.Require().NoError(idx.Remove(s.ctx, "a@x.com"))
	s.Require().NoError(idx.Remove(s.ctx, "a@x.com"))

	// A re-added email files at the end, once.
	s.Require().NoError(idx.Put(s.ctx, "a@x.com", EmailRef{MemberID: "US100"}))
	emails, err := idx.EmailsForMember(s.ctx, "US100")
	s.Require().NoError(err)
	s.Equal([]string{"b@x.com", "a@x.com"}, emails)
}

// TestQuarantine verifies quarantined documents are preserved with reasons.
func (s *DirectoryStoreSuite) TestQuarantine() {
	q := s.store.Quarantine()
	m := s.newMember("")

	s.Require().NoError(q.Add(s.ctx, &models.QuarantinedMember{
		Key:    m.ID,
		Reason: models.QuarantineEmptyMemberID,
		Member: m,
	}))

	listed, err := q.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(models.QuarantineEmptyMemberID, listed[0].Reason)
}
