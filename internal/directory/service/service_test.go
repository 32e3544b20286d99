package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"memberdir/internal/audit"
	"memberdir/internal/counter"
	"memberdir/internal/directory/models"
	"memberdir/internal/directory/store"
	"memberdir/internal/mirror"
	dErrors "memberdir/pkg/domain-errors"
	"memberdir/pkg/requestcontext"
)

type DirectoryServiceSuite struct {
	suite.Suite
	ctx     context.Context
	db      *store.InMemory
	audits  *audit.MemoryPublisher
	service *Service
}

func TestDirectoryServiceSuite(t *testing.T) {
	suite.Run(t, new(DirectoryServiceSuite))
}

func (s *DirectoryServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.db = store.NewInMemory()
	counters := counter.New(counter.NewInMemoryStore())
	engine := mirror.New(
		s.db,
		s.db.Schools(),
		s.db.Profiles(),
		s.db.SchoolMembers(),
		s.db.Rosters(),
		s.db.GradingMirrors(),
		s.db.Emails(),
	)
	s.audits = audit.NewMemoryPublisher()
	s.service = New(
		s.db,
		s.db.Schools(),
		s.db.Gradings(),
		s.db.Orders(),
		s.db.Emails(),
		counters,
		engine,
		WithAudit(s.audits),
	)
}

func (s *DirectoryServiceSuite) TestCreateMemberAssignsIDFromCounter() {
	m := models.NewMember()
	m.Country = "us"
	m.Emails = []string{"Ada@X.com"}

	created, err := s.service.CreateMember(s.ctx, m)
	s.Require().NoError(err)
	s.Equal("US100", created.MemberID)
	s.NotEmpty(created.ID)
	s.NotEqual(created.MemberID, created.ID)

	// Emails are normalized and indexed.
	s.Equal([]string{"ada@x.com"}, created.Emails)
	ref, err := s.db.Emails().Lookup(s.ctx, "ada@x.com")
	s.Require().NoError(err)
	s.Equal("US100", ref.MemberID)

	next := models.NewMember()
	next.Country = "US"
	created2, err := s.service.CreateMember(s.ctx, next)
	s.Require().NoError(err)
	s.Equal("US101", created2.MemberID)
}

func (s *DirectoryServiceSuite) TestCreateMemberWithoutCountryFails() {
	m := models.NewMember()
	_, err := s.service.CreateMember(s.ctx, m)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *DirectoryServiceSuite) TestCreateMemberSuppliedIDRatchetsCounter() {
	m := models.NewMember()
	m.MemberID = "us150"
	m.Country = "US"
	created, err := s.service.CreateMember(s.ctx, m)
	s.Require().NoError(err)
	s.Equal("US150", created.MemberID)

	next := models.NewMember()
	next.Country = "US"
	created2, err := s.service.CreateMember(s.ctx, next)
	s.Require().NoError(err)
	s.Equal("US151", created2.MemberID)
}

func (s *DirectoryServiceSuite) TestCreateMemberDuplicateBusinessKey() {
	m := models.NewMember()
	m.MemberID = "US100"
	m.Country = "US"
	_, err := s.service.CreateMember(s.ctx, m)
	s.Require().NoError(err)

	dup := models.NewMember()
	dup.MemberID = "US100"
	dup.Country = "US"
	_, err = s.service.CreateMember(s.ctx, dup)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *DirectoryServiceSuite) TestWriteFiresMirrors() {
	m := models.NewMember()
	m.Country = "US"
	m.ManagingOrgID = "S1"
	created, err := s.service.CreateMember(s.ctx, m)
	s.Require().NoError(err)

	mirrored, err := s.db.SchoolMembers().List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Require().Len(mirrored, 1)
	s.Equal(created.ID, mirrored[0].ID)
}

func (s *DirectoryServiceSuite) TestUpdateMemberPrunesEmailIndex() {
	m := models.NewMember()
	m.Country = "US"
	m.Emails = []string{"old@x.com"}
	created, err := s.service.CreateMember(s.ctx, m)
	s.Require().NoError(err)

	created.Emails = []string{"new@x.com"}
	_, err = s.service.UpdateMember(s.ctx, created)
	s.Require().NoError(err)

	_, err = s.db.Emails().Lookup(s.ctx, "old@x.com")
	s.Error(err)
	ref, err := s.db.Emails().Lookup(s.ctx, "new@x.com")
	s.Require().NoError(err)
	s.Equal(created.MemberID, ref.MemberID)
}

func (s *DirectoryServiceSuite) TestDeleteMemberCascades() {
	m := models.NewMember()
	m.Country = "US"
	m.ManagingOrgID = "S1"
	m.Emails = []string{"gone@x.com"}
	created, err := s.service.CreateMember(s.ctx, m)
	s.Require().NoError(err)

	s.Require().NoError(s.service.DeleteMember(s.ctx, created.ID))

	_, err = s.service.GetMember(s.ctx, created.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	mirrored, err := s.db.SchoolMembers().List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Empty(mirrored)
	_, err = s.db.Emails().Lookup(s.ctx, "gone@x.com")
	s.Error(err)
}

// flakyMemberStore fails business-key lookups on demand.
type flakyMemberStore struct {
	store.MemberStore
	findErr error
}

func (f *flakyMemberStore) FindByMemberID(ctx context.Context, memberID string) (*models.Member, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.MemberStore.FindByMemberID(ctx, memberID)
}

func (s *DirectoryServiceSuite) TestUpdateMemberRenameCheckSurfacesStoreError() {
	members := &flakyMemberStore{MemberStore: s.db}
	counters := counter.New(counter.NewInMemoryStore())
	engine := mirror.New(
		members,
		s.db.Schools(),
		s.db.Profiles(),
		s.db.SchoolMembers(),
		s.db.Rosters(),
		s.db.GradingMirrors(),
		s.db.Emails(),
	)
	svc := New(members, s.db.Schools(), s.db.Gradings(), s.db.Orders(), s.db.Emails(), counters, engine)

	m := models.NewMember()
	m.Country = "US"
	created, err := svc.CreateMember(s.ctx, m)
	s.Require().NoError(err)

	members.findErr = errors.New("store down")
	created.MemberID = "US999"
	_, err = svc.UpdateMember(s.ctx, created)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	// The rename must not have been written.
	members.findErr = nil
	stored, err := s.db.Get(s.ctx, created.ID)
	s.Require().NoError(err)
	s.NotEqual("US999", stored.MemberID)
}

func (s *DirectoryServiceSuite) TestSaveMemberUpsertsByBusinessKey() {
	m := models.NewMember()
	m.MemberID = "US100"
	m.Country = "US"
	m.FirstName = "Ada"
	s.Require().NoError(s.service.SaveMember(s.ctx, m))

	again := models.NewMember()
	again.MemberID = "US100"
	again.Country = "US"
	again.FirstName = "Adah"
	s.Require().NoError(s.service.SaveMember(s.ctx, again))

	members, err := s.service.ListMembers(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(members, 1)
	s.Equal("Adah", members[0].FirstName)
	s.Equal(m.ID, members[0].ID)
}

func (s *DirectoryServiceSuite) TestCreateSchoolRequiresUnusedID() {
	sc := models.NewSchool()
	sc.SchoolID = "S1"
	_, err := s.service.CreateSchool(s.ctx, sc)
	s.Require().NoError(err)

	dup := models.NewSchool()
	dup.SchoolID = "S1"
	_, err = s.service.CreateSchool(s.ctx, dup)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	blank := models.NewSchool()
	_, err = s.service.CreateSchool(s.ctx, blank)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *DirectoryServiceSuite) TestSubmitGradingFansOut() {
	instructor := models.NewMember()
	instructor.Country = "US"
	instructor.InstructorID = "500"
	createdInstructor, err := s.service.CreateMember(s.ctx, instructor)
	s.Require().NoError(err)

	student := models.NewMember()
	student.Country = "US"
	createdStudent, err := s.service.CreateMember(s.ctx, student)
	s.Require().NoError(err)

	g := models.NewGrading()
	g.MemberKey = createdStudent.ID
	g.InstructorID = "500"
	created, err := s.service.SubmitGrading(s.ctx, g)
	s.Require().NoError(err)
	s.NotEmpty(created.ID)

	mirrored, err := s.db.GradingMirrors().List(s.ctx, createdInstructor.ID)
	s.Require().NoError(err)
	s.Require().Len(mirrored, 1)
	s.Equal(created.ID, mirrored[0].ID)
}

func (s *DirectoryServiceSuite) TestSubmitGradingUnknownStudent() {
	g := models.NewGrading()
	g.MemberKey = "nope"
	_, err := s.service.SubmitGrading(s.ctx, g)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *DirectoryServiceSuite) TestSaveOrderUpsertsByReference() {
	o := models.NewOrder()
	o.ReferenceNumber = "R1"
	o.Amount = "50.00"
	s.Require().NoError(s.service.SaveOrder(s.ctx, o))

	update := models.NewOrder()
	update.ReferenceNumber = "R1"
	update.Amount = "75.00"
	s.Require().NoError(s.service.SaveOrder(s.ctx, update))
	s.Equal(o.ID, update.ID)

	stored, err := s.db.Orders().FindByReference(s.ctx, "R1")
	s.Require().NoError(err)
	s.Equal("75.00", stored.Amount)
}

func (s *DirectoryServiceSuite) TestAuditTrail() {
	m := models.NewMember()
	m.Country = "US"
	created, err := s.service.CreateMember(s.ctx, m)
	s.Require().NoError(err)
	s.Require().NoError(s.service.DeleteMember(s.ctx, created.ID))

	events := s.audits.Events()
	s.Require().Len(events, 2)
	s.Equal("create", events[0].Action)
	s.Equal("delete", events[1].Action)
	s.Equal("member", events[0].Entity)
}
