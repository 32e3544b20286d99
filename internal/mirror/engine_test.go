package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"memberdir/internal/directory/models"
	"memberdir/internal/directory/store"
	"memberdir/pkg/requestcontext"
)

type MirrorEngineSuite struct {
	suite.Suite
	ctx    context.Context
	db     *store.InMemory
	engine *Engine
}

func TestMirrorEngineSuite(t *testing.T) {
	suite.Run(t, new(MirrorEngineSuite))
}

func (s *MirrorEngineSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.db = store.NewInMemory()
	s.engine = New(
		s.db,
		s.db.Schools(),
		s.db.Profiles(),
		s.db.SchoolMembers(),
		s.db.Rosters(),
		s.db.GradingMirrors(),
		s.db.Emails(),
	)
}

// upsertMember writes the member and runs the change through the engine,
// mimicking the directory service's write path.
func (s *MirrorEngineSuite) upsertMember(previous, current *models.Member) {
	s.Require().NoError(s.db.Upsert(s.ctx, current))
	s.Require().NoError(s.engine.OnMemberChanged(s.ctx, current.ID, previous, current))
}

func (s *MirrorEngineSuite) deleteMember(m *models.Member) {
	s.Require().NoError(s.db.Delete(s.ctx, m.ID))
	s.Require().NoError(s.engine.OnMemberChanged(s.ctx, m.ID, m, nil))
}

func member(key, memberID string) *models.Member {
	m := models.NewMember()
	m.ID = key
	m.MemberID = memberID
	return m
}

func (s *MirrorEngineSuite) TestSchoolMembershipFollowsMove() {
	m := member("k1", "US100")
	m.ManagingOrgID = "S1"
	s.upsertMember(nil, m)

	listed, err := s.db.SchoolMembers().List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal("US100", listed[0].MemberID)

	previous := *m
	m.ManagingOrgID = "S2"
	s.upsertMember(&previous, m)

	oldList, err := s.db.SchoolMembers().List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Empty(oldList)
	newList, err := s.db.SchoolMembers().List(s.ctx, "S2")
	s.Require().NoError(err)
	s.Require().Len(newList, 1)
	s.Equal("k1", newList[0].ID)
}

func (s *MirrorEngineSuite) TestDeleteClearsMirrors() {
	m := member("k1", "US100")
	m.ManagingOrgID = "S1"
	m.InstructorID = "500"
	m.InstructorLicenseType = models.LicenseLife
	s.upsertMember(nil, m)

	s.deleteMember(m)

	listed, err := s.db.SchoolMembers().List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Empty(listed)
	_, err = s.db.Profiles().Get(s.ctx, "k1")
	s.Error(err)
}

func (s *MirrorEngineSuite) TestInstructorProfileLifecycle() {
	m := member("k1", "US100")
	m.FirstName = "Ada"
	m.LastName = "Wong"
	m.InstructorID = "500"
	m.InstructorLicenseType = models.LicenseAnnual
	m.InstructorLicenseExpires = "2026-12-31"
	s.upsertMember(nil, m)

	p, err := s.db.Profiles().Get(s.ctx, "k1")
	s.Require().NoError(err)
	s.Equal("500", p.InstructorID)
	s.Equal("Ada Wong", p.Name)
	s.Equal("2026-12-31", p.LicenseExpires)

	// License lapses; the next event removes the profile.
	previous := *m
	m.InstructorLicenseExpires = "2026-01-31"
	s.upsertMember(&previous, m)

	_, err = s.db.Profiles().Get(s.ctx, "k1")
	s.Error(err)
}

func (s *MirrorEngineSuite) TestLifeLicenseUsesSentinelExpiry() {
	m := member("k1", "US100")
	m.InstructorID = "500"
	m.InstructorLicenseType = models.LicenseLife
	m.InstructorLicenseExpires = "2020-01-01" // stale stored value, irrelevant for life
	s.upsertMember(nil, m)

	p, err := s.db.Profiles().Get(s.ctx, "k1")
	s.Require().NoError(err)
	s.Equal(models.LifeLicenseExpiry, p.LicenseExpires)
}

func (s *MirrorEngineSuite) TestRosterResolvesSifuToStorageKey() {
	sifu := member("sifu-key", "US1")
	sifu.InstructorID = "500"
	s.upsertMember(nil, sifu)

	student := member("stu-key", "US2")
	student.SifuInstructorID = "500"
	student.StudentLevel = "3rd Student Grade"
	s.upsertMember(nil, student)

	roster, err := s.db.Rosters().List(s.ctx, "sifu-key")
	s.Require().NoError(err)
	s.Require().Len(roster, 1)
	s.Equal("stu-key", roster[0].StudentKey)
	s.Equal("US2", roster[0].MemberID)
	s.Equal("3rd Student Grade", roster[0].StudentLevel)
}

func (s *MirrorEngineSuite) TestUnresolvableSifuIsSkippedNotFatal() {
	student := member("stu-key", "US2")
	student.SifuInstructorID = "999"
	s.upsertMember(nil, student)

	all, err := s.db.Rosters().ListAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *MirrorEngineSuite) TestRosterFollowsSifuChange() {
	sifuA := member("sifu-a", "US1")
	sifuA.InstructorID = "500"
	s.upsertMember(nil, sifuA)
	sifuB := member("sifu-b", "US2")
	sifuB.InstructorID = "501"
	s.upsertMember(nil, sifuB)

	student := member("stu-key", "US3")
	student.SifuInstructorID = "500"
	s.upsertMember(nil, student)

	previous := *student
	student.SifuInstructorID = "501"
	s.upsertMember(&previous, student)

	oldRoster, err := s.db.Rosters().List(s.ctx, "sifu-a")
	s.Require().NoError(err)
	s.Empty(oldRoster)
	newRoster, err := s.db.Rosters().List(s.ctx, "sifu-b")
	s.Require().NoError(err)
	s.Require().Len(newRoster, 1)
	s.Equal("stu-key", newRoster[0].StudentKey)
}

func (s *MirrorEngineSuite) TestStaleEventReReadsStore() {
	m := member("k1", "US100")
	m.ManagingOrgID = "S2"
	s.Require().NoError(s.db.Upsert(s.ctx, m))

	// A delayed event still carrying the S1 payload must not resurrect S1.
	stale := *m
	stale.ManagingOrgID = "S1"
	s.Require().NoError(s.engine.OnMemberChanged(s.ctx, "k1", nil, &stale))

	s1, err := s.db.SchoolMembers().List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Empty(s1)
	s2, err := s.db.SchoolMembers().List(s.ctx, "S2")
	s.Require().NoError(err)
	s.Len(s2, 1)
}

func (s *MirrorEngineSuite) TestSchoolEmailProjection() {
	owner := member("own-key", "US1")
	owner.Emails = []string{"owner@example.com"}
	s.Require().NoError(s.db.Upsert(s.ctx, owner))
	s.Require().NoError(s.db.Emails().Put(s.ctx, "owner@example.com", store.EmailRef{MemberID: "US1"}))

	manager := member("mgr-key", "US2")
	manager.Emails = []string{"mgr@example.com"}
	s.Require().NoError(s.db.Upsert(s.ctx, manager))
	s.Require().NoError(s.db.Emails().Put(s.ctx, "mgr@example.com", store.EmailRef{MemberID: "US2"}))

	sc := models.NewSchool()
	sc.ID = "sch-key"
	sc.SchoolID = "S1"
	sc.Owner = "US1"
	sc.Managers = []string{"US2"}
	s.Require().NoError(s.db.Schools().Upsert(s.ctx, sc))
	s.Require().NoError(s.engine.OnSchoolChanged(s.ctx, "sch-key", nil, sc))

	got, err := s.db.Schools().Get(s.ctx, "sch-key")
	s.Require().NoError(err)
	s.Equal("owner@example.com", got.OwnerEmail)
	s.Equal([]string{"mgr@example.com"}, got.ManagerEmails)
}

func (s *MirrorEngineSuite) TestOwnerEmailChangeRefreshesSchool() {
	owner := member("own-key", "US1")
	owner.Emails = []string{"old@example.com"}
	s.Require().NoError(s.db.Upsert(s.ctx, owner))
	s.Require().NoError(s.db.Emails().Put(s.ctx, "old@example.com", store.EmailRef{MemberID: "US1"}))

	sc := models.NewSchool()
	sc.ID = "sch-key"
	sc.SchoolID = "S1"
	sc.Owner = "US1"
	s.Require().NoError(s.db.Schools().Upsert(s.ctx, sc))
	s.Require().NoError(s.engine.OnSchoolChanged(s.ctx, "sch-key", nil, sc))

	// Owner switches address; the member event must carry the projection.
	previous := *owner
	previous.Emails = []string{"old@example.com"}
	owner.Emails = []string{"new@example.com"}
	s.Require().NoError(s.db.Upsert(s.ctx, owner))
	s.Require().NoError(s.db.Emails().Remove(s.ctx, "old@example.com"))
	s.Require().NoError(s.db.Emails().Put(s.ctx, "new@example.com", store.EmailRef{MemberID: "US1"}))
	s.Require().NoError(s.engine.OnMemberChanged(s.ctx, "own-key", &previous, owner))

	got, err := s.db.Schools().Get(s.ctx, "sch-key")
	s.Require().NoError(err)
	s.Equal("new@example.com", got.OwnerEmail)
}

func (s *MirrorEngineSuite) TestSchoolDeleteClearsSubList() {
	m := member("k1", "US100")
	m.ManagingOrgID = "S1"
	s.upsertMember(nil, m)

	sc := models.NewSchool()
	sc.ID = "sch-key"
	sc.SchoolID = "S1"
	s.Require().NoError(s.engine.OnSchoolChanged(s.ctx, "sch-key", sc, nil))

	listed, err := s.db.SchoolMembers().List(s.ctx, "S1")
	s.Require().NoError(err)
	s.Empty(listed)
}

func (s *MirrorEngineSuite) TestGradingFanOutAndStaleRemoval() {
	primary := member("prim-key", "US1")
	primary.InstructorID = "500"
	s.upsertMember(nil, primary)
	assistant := member("asst-key", "US2")
	assistant.InstructorID = "501"
	s.upsertMember(nil, assistant)

	sc := models.NewSchool()
	sc.ID = "sch-key"
	sc.SchoolID = "S1"
	s.Require().NoError(s.db.Schools().Upsert(s.ctx, sc))

	g := models.NewGrading()
	g.ID = "g1"
	g.InstructorID = "500"
	g.AssistantInstructorIDs = []string{"501"}
	g.SchoolID = "S1"
	s.Require().NoError(s.db.Gradings().Upsert(s.ctx, g))
	s.Require().NoError(s.engine.OnGradingChanged(s.ctx, "g1", nil, g))

	for _, ownerKey := range []string{"prim-key", "asst-key", "sch-key"} {
		mirrored, err := s.db.GradingMirrors().List(s.ctx, ownerKey)
		s.Require().NoError(err)
		s.Require().Len(mirrored, 1, ownerKey)
		s.Equal("g1", mirrored[0].ID)
	}

	// Assistant is corrected away; their mirror copy must go.
	previous := *g
	g.AssistantInstructorIDs = []string{}
	s.Require().NoError(s.db.Gradings().Upsert(s.ctx, g))
	s.Require().NoError(s.engine.OnGradingChanged(s.ctx, "g1", &previous, g))

	mirrored, err := s.db.GradingMirrors().List(s.ctx, "asst-key")
	s.Require().NoError(err)
	s.Empty(mirrored)
	mirrored, err = s.db.GradingMirrors().List(s.ctx, "prim-key")
	s.Require().NoError(err)
	s.Len(mirrored, 1)
}

func (s *MirrorEngineSuite) TestPassedGradingSetsStudentLevel() {
	sifu := member("sifu-key", "US1")
	sifu.InstructorID = "500"
	s.upsertMember(nil, sifu)

	student := member("stu-key", "US2")
	student.SifuInstructorID = "500"
	student.StudentLevel = "2nd Student Grade"
	s.upsertMember(nil, student)

	g := models.NewGrading()
	g.ID = "g1"
	g.MemberKey = "stu-key"
	g.InstructorID = "500"
	g.Level = "3rd Student Grade"
	g.Status = models.GradingPending
	s.Require().NoError(s.db.Gradings().Upsert(s.ctx, g))
	s.Require().NoError(s.engine.OnGradingChanged(s.ctx, "g1", nil, g))

	unchanged, err := s.db.Get(s.ctx, "stu-key")
	s.Require().NoError(err)
	s.Equal("2nd Student Grade", unchanged.StudentLevel)

	previous := *g
	g.Status = models.GradingPassed
	s.Require().NoError(s.db.Gradings().Upsert(s.ctx, g))
	s.Require().NoError(s.engine.OnGradingChanged(s.ctx, "g1", &previous, g))

	updated, err := s.db.Get(s.ctx, "stu-key")
	s.Require().NoError(err)
	s.Equal("3rd Student Grade", updated.StudentLevel)

	// The level flows into the sifu's roster mirror too.
	roster, err := s.db.Rosters().List(s.ctx, "sifu-key")
	s.Require().NoError(err)
	s.Require().Len(roster, 1)
	s.Equal("3rd Student Grade", roster[0].StudentLevel)
}

func TestPassedTransition(t *testing.T) {
	passed := &models.Grading{Status: models.GradingPassed}
	pending := &models.Grading{Status: models.GradingPending}
	require.True(t, passedTransition(nil, passed))
	require.True(t, passedTransition(pending, passed))
	require.False(t, passedTransition(passed, passed))
	require.False(t, passedTransition(passed, pending))
	require.False(t, passedTransition(nil, nil))
}
