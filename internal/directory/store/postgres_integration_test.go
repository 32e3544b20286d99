//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"memberdir/internal/directory/models"
	"memberdir/internal/directory/store"
	"memberdir/pkg/platform/sentinel"
	"memberdir/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.Require().NoError(store.EnsureSchema(context.Background(), s.postgres.DB))
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"members", "schools", "gradings", "orders",
		"instructor_profiles", "school_members", "rosters",
		"grading_mirrors", "member_quarantine", "email_index",
	)
	s.Require().NoError(err)
}

func newTestMember(memberID string) *models.Member {
	m := models.NewMember()
	m.ID = uuid.NewString()
	m.MemberID = memberID
	m.FirstName = "Ada"
	m.LastName = "Lovelace"
	m.Country = "US"
	m.Emails = []string{"ada@example.com"}
	return m
}

func (s *PostgresStoreSuite) TestMemberRoundTrip() {
	ctx := context.Background()
	m := newTestMember("US100")

	s.Require().NoError(s.store.Upsert(ctx, m))

	got, err := s.store.Get(ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(m.MemberID, got.MemberID)
	s.Equal(m.Emails, got.Emails)

	m.StudentLevel = "3rd Student Grade"
	s.Require().NoError(s.store.Upsert(ctx, m))
	got, err = s.store.Get(ctx, m.ID)
	s.Require().NoError(err)
	s.Equal("3rd Student Grade", got.StudentLevel)
}

func (s *PostgresStoreSuite) TestGetMissingReturnsSentinel() {
	_, err := s.store.Get(context.Background(), "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestFindByMemberIDIsCaseInsensitive() {
	ctx := context.Background()
	m := newTestMember("US100")
	s.Require().NoError(s.store.Upsert(ctx, m))

	got, err := s.store.FindByMemberID(ctx, "us100")
	s.Require().NoError(err)
	s.Equal(m.ID, got.ID)
}

func (s *PostgresStoreSuite) TestFindByEmail() {
	ctx := context.Background()
	a := newTestMember("US100")
	b := newTestMember("US200")
	b.Emails = []string{"ada@example.com", "other@example.com"}
	s.Require().NoError(s.store.Upsert(ctx, a))
	s.Require().NoError(s.store.Upsert(ctx, b))

	matches, err := s.store.FindByEmail(ctx, "ada@example.com")
	s.Require().NoError(err)
	s.Len(matches, 2)

	matches, err = s.store.FindByEmail(ctx, "other@example.com")
	s.Require().NoError(err)
	s.Len(matches, 1)
	s.Equal(b.ID, matches[0].ID)
}

func (s *PostgresStoreSuite) TestDeleteIsIdempotent() {
	ctx := context.Background()
	m := newTestMember("US100")
	s.Require().NoError(s.store.Upsert(ctx, m))
	s.Require().NoError(s.store.Delete(ctx, m.ID))
	s.Require().NoError(s.store.Delete(ctx, m.ID))

	_, err := s.store.Get(ctx, m.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSchoolBusinessKeyLookup() {
	ctx := context.Background()
	sc := models.NewSchool()
	sc.ID = uuid.NewString()
	sc.SchoolID = "berlin-1"
	sc.SchoolName = "Berlin"
	s.Require().NoError(s.store.Schools().Upsert(ctx, sc))

	got, err := s.store.Schools().FindBySchoolID(ctx, "BERLIN-1")
	s.Require().NoError(err)
	s.Equal(sc.ID, got.ID)
}

func (s *PostgresStoreSuite) TestSchoolMemberMirror() {
	ctx := context.Background()
	m := newTestMember("US100")
	s.Require().NoError(s.store.SchoolMembers().Upsert(ctx, "berlin-1", m))

	members, err := s.store.SchoolMembers().List(ctx, "berlin-1")
	s.Require().NoError(err)
	s.Require().Len(members, 1)
	s.Equal(m.ID, members[0].ID)

	s.Require().NoError(s.store.SchoolMembers().Delete(ctx, "berlin-1", m.ID))
	members, err = s.store.SchoolMembers().List(ctx, "berlin-1")
	s.Require().NoError(err)
	s.Empty(members)
}

func (s *PostgresStoreSuite) TestRosterMirror() {
	ctx := context.Background()
	m := newTestMember("US100")
	entry := models.RosterEntryFor("sifu-key", m)
	s.Require().NoError(s.store.Rosters().Upsert(ctx, entry))

	entries, err := s.store.Rosters().List(ctx, "sifu-key")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(m.ID, entries[0].StudentKey)

	all, err := s.store.Rosters().ListAll(ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *PostgresStoreSuite) TestQuarantinePreservesDocument() {
	ctx := context.Background()
	m := newTestMember("US100")
	q := &models.QuarantinedMember{Key: m.ID, Reason: models.QuarantineDuplicateMemberID, Member: m}
	s.Require().NoError(s.store.Quarantine().Add(ctx, q))

	list, err := s.store.Quarantine().List(ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(models.QuarantineDuplicateMemberID, list[0].Reason)
	s.Equal("US100", list[0].Member.MemberID)
}

func (s *PostgresStoreSuite) TestEmailIndex() {
	ctx := context.Background()
	emails := s.store.Emails()

	s.Require().NoError(emails.Put(ctx, "ada@example.com", store.EmailRef{MemberID: "US100", InstructorID: "I-7"}))
	s.Require().NoError(emails.Put(ctx, "countess@example.com", store.EmailRef{MemberID: "US100"}))

	ref, err := emails.Lookup(ctx, "ada@example.com")
	s.Require().NoError(err)
	s.Equal("US100", ref.MemberID)
	s.Equal("I-7", ref.InstructorID)

	list, err := emails.EmailsForMember(ctx, "US100")
	s.Require().NoError(err)
	s.Equal([]string{"ada@example.com", "countess@example.com"}, list)

	s.Require().NoError(emails.Remove(ctx, "ada@example.com"))
	_, err = emails.Lookup(ctx, "ada@example.com")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
