package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"memberdir/internal/directory/models"
	"memberdir/pkg/platform/sentinel"
)

// InMemory implements every directory port over mutex-guarded maps. It backs
// unit tests and local development; documents are deep-copied on the way in
// and out so callers can never alias store state.
type InMemory struct {
	mu sync.RWMutex

	members       map[string]*models.Member
	schools       map[string]*models.School
	gradings      map[string]*models.Grading
	orders        map[string]*models.Order
	profiles      map[string]*models.InstructorProfile
	schoolMembers map[string]map[string]*models.Member     // schoolID -> memberKey -> copy
	rosters       map[string]map[string]*models.RosterEntry // instructorKey -> studentKey -> entry
	gradingMirror map[string]map[string]*models.Grading    // ownerKey -> gradingKey -> copy
	quarantine    []*models.QuarantinedMember
	emailRefs     map[string]EmailRef // email -> ref
	emailOrder    []string            // insertion order for deterministic listings
}

// NewInMemory constructs an empty in-memory directory store.
func NewInMemory() *InMemory {
	return &InMemory{
		members:       make(map[string]*models.Member),
		schools:       make(map[string]*models.School),
		gradings:      make(map[string]*models.Grading),
		orders:        make(map[string]*models.Order),
		profiles:      make(map[string]*models.InstructorProfile),
		schoolMembers: make(map[string]map[string]*models.Member),
		rosters:       make(map[string]map[string]*models.RosterEntry),
		gradingMirror: make(map[string]map[string]*models.Grading),
		emailRefs:     make(map[string]EmailRef),
	}
}

func copyMember(m *models.Member) *models.Member {
	if m == nil {
		return nil
	}
	c := *m
	c.Emails = append([]string(nil), m.Emails...)
	return &c
}

func copySchool(s *models.School) *models.School {
	if s == nil {
		return nil
	}
	c := *s
	c.Managers = append([]string(nil), s.Managers...)
	c.ManagerEmails = append([]string(nil), s.ManagerEmails...)
	return &c
}

func copyGrading(g *models.Grading) *models.Grading {
	if g == nil {
		return nil
	}
	c := *g
	c.AssistantInstructorIDs = append([]string(nil), g.AssistantInstructorIDs...)
	return &c
}

// --- MemberStore ---

func (s *InMemory) Get(ctx context.Context, key string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyMember(m), nil
}

func (s *InMemory) FindByMemberID(ctx context.Context, memberID string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.MemberID != "" && strings.EqualFold(m.MemberID, memberID) {
			return copyMember(m), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByInstructorID(ctx context.Context, instructorID string) (*models.Member, error) {
	if instructorID == "" {
		return nil, sentinel.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.InstructorID == instructorID {
			return copyMember(m), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) ([]*models.Member, error) {
	lowered := strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Member
	for _, m := range s.members {
		for _, e := range m.Emails {
			if e == lowered {
				out = append(out, copyMember(m))
				break
			}
		}
	}
	sortMembers(out)
	return out, nil
}

func (s *InMemory) Upsert(ctx context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = copyMember(m)
	return nil
}

func (s *InMemory) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, key)
	return nil
}

func (s *InMemory) List(ctx context.Context) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, copyMember(m))
	}
	sortMembers(out)
	return out, nil
}

func sortMembers(members []*models.Member) {
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
}

// --- SchoolStore ---

// Schools returns a view implementing SchoolStore. All views share one lock.
func (s *InMemory) Schools() SchoolStore                   { return (*memorySchools)(s) }
func (s *InMemory) Gradings() GradingStore                 { return (*memoryGradings)(s) }
func (s *InMemory) Orders() OrderStore                     { return (*memoryOrders)(s) }
func (s *InMemory) Profiles() ProfileStore                 { return (*memoryProfiles)(s) }
func (s *InMemory) SchoolMembers() SchoolMemberMirrorStore { return (*memorySchoolMembers)(s) }
func (s *InMemory) Rosters() RosterMirrorStore             { return (*memoryRosters)(s) }
func (s *InMemory) GradingMirrors() GradingMirrorStore     { return (*memoryGradingMirrors)(s) }
func (s *InMemory) Quarantine() QuarantineStore            { return (*memoryQuarantine)(s) }
func (s *InMemory) Emails() EmailIndex                     { return (*memoryEmails)(s) }

type memorySchools InMemory

func (s *memorySchools) Get(ctx context.Context, key string) (*models.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schools[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copySchool(sc), nil
}

func (s *memorySchools) FindBySchoolID(ctx context.Context, schoolID string) (*models.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.schools {
		if sc.SchoolID != "" && strings.EqualFold(sc.SchoolID, schoolID) {
			return copySchool(sc), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *memorySchools) Upsert(ctx context.Context, sc *models.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools[sc.ID] = copySchool(sc)
	return nil
}

func (s *memorySchools) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schools, key)
	return nil
}

func (s *memorySchools) List(ctx context.Context) ([]*models.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.School, 0, len(s.schools))
	for _, sc := range s.schools {
		out = append(out, copySchool(sc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- GradingStore ---

type memoryGradings InMemory

func (s *memoryGradings) Get(ctx context.Context, key string) (*models.Grading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gradings[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyGrading(g), nil
}

func (s *memoryGradings) Upsert(ctx context.Context, g *models.Grading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gradings[g.ID] = copyGrading(g)
	return nil
}

func (s *memoryGradings) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gradings, key)
	return nil
}

func (s *memoryGradings) List(ctx context.Context) ([]*models.Grading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Grading, 0, len(s.gradings))
	for _, g := range s.gradings {
		out = append(out, copyGrading(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- OrderStore ---

type memoryOrders InMemory

func (s *memoryOrders) Get(ctx context.Context, key string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (s *memoryOrders) FindByReference(ctx context.Context, referenceNumber string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ReferenceNumber == referenceNumber {
			c := *o
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *memoryOrders) Upsert(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *o
	s.orders[o.ID] = &c
	return nil
}

func (s *memoryOrders) List(ctx context.Context) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		c := *o
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- ProfileStore ---

type memoryProfiles InMemory

func (s *memoryProfiles) Get(ctx context.Context, memberKey string) (*models.InstructorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[memberKey]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *memoryProfiles) Upsert(ctx context.Context, p *models.InstructorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.profiles[p.MemberKey] = &c
	return nil
}

func (s *memoryProfiles) Delete(ctx context.Context, memberKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, memberKey)
	return nil
}

func (s *memoryProfiles) List(ctx context.Context) ([]*models.InstructorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.InstructorProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberKey < out[j].MemberKey })
	return out, nil
}

// --- SchoolMemberMirrorStore ---

type memorySchoolMembers InMemory

func (s *memorySchoolMembers) Upsert(ctx context.Context, schoolID string, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.schoolMembers[schoolID]
	if bucket == nil {
		bucket = make(map[string]*models.Member)
		s.schoolMembers[schoolID] = bucket
	}
	bucket[m.ID] = copyMember(m)
	return nil
}

func (s *memorySchoolMembers) Delete(ctx context.Context, schoolID, memberKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket := s.schoolMembers[schoolID]; bucket != nil {
		delete(bucket, memberKey)
	}
	return nil
}

func (s *memorySchoolMembers) List(ctx context.Context, schoolID string) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.schoolMembers[schoolID]
	out := make([]*models.Member, 0, len(bucket))
	for _, m := range bucket {
		out = append(out, copyMember(m))
	}
	sortMembers(out)
	return out, nil
}

// --- RosterMirrorStore ---

type memoryRosters InMemory

func (s *memoryRosters) Upsert(ctx context.Context, e *models.RosterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.rosters[e.InstructorKey]
	if bucket == nil {
		bucket = make(map[string]*models.RosterEntry)
		s.rosters[e.InstructorKey] = bucket
	}
	c := *e
	bucket[e.StudentKey] = &c
	return nil
}

func (s *memoryRosters) Delete(ctx context.Context, instructorKey, studentKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket := s.rosters[instructorKey]; bucket != nil {
		delete(bucket, studentKey)
	}
	return nil
}

func (s *memoryRosters) List(ctx context.Context, instructorKey string) ([]*models.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.rosters[instructorKey]
	out := make([]*models.RosterEntry, 0, len(bucket))
	for _, e := range bucket {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentKey < out[j].StudentKey })
	return out, nil
}

func (s *memoryRosters) ListAll(ctx context.Context) ([]*models.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RosterEntry
	for _, bucket := range s.rosters {
		for _, e := range bucket {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstructorKey != out[j].InstructorKey {
			return out[i].InstructorKey < out[j].InstructorKey
		}
		return out[i].StudentKey < out[j].StudentKey
	})
	return out, nil
}

// --- GradingMirrorStore ---

type memoryGradingMirrors InMemory

func (s *memoryGradingMirrors) Upsert(ctx context.Context, ownerKey string, g *models.Grading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.gradingMirror[ownerKey]
	if bucket == nil {
		bucket = make(map[string]*models.Grading)
		s.gradingMirror[ownerKey] = bucket
	}
	bucket[g.ID] = copyGrading(g)
	return nil
}

func (s *memoryGradingMirrors) Delete(ctx context.Context, ownerKey, gradingKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket := s.gradingMirror[ownerKey]; bucket != nil {
		delete(bucket, gradingKey)
	}
	return nil
}

func (s *memoryGradingMirrors) List(ctx context.Context, ownerKey string) ([]*models.Grading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.gradingMirror[ownerKey]
	out := make([]*models.Grading, 0, len(bucket))
	for _, g := range bucket {
		out = append(out, copyGrading(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- QuarantineStore ---

type memoryQuarantine InMemory

func (s *memoryQuarantine) Add(ctx context.Context, q *models.QuarantinedMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *q
	c.Member = copyMember(q.Member)
	s.quarantine = append(s.quarantine, &c)
	return nil
}

func (s *memoryQuarantine) List(ctx context.Context) ([]*models.QuarantinedMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.QuarantinedMember, 0, len(s.quarantine))
	for _, q := range s.quarantine {
		c := *q
		c.Member = copyMember(q.Member)
		out = append(out, &c)
	}
	return out, nil
}

// --- EmailIndex ---

type memoryEmails InMemory

func (s *memoryEmails) Put(ctx context.Context, email string, ref EmailRef) error {
	lowered := strings.ToLower(strings.TrimSpace(email))
	if lowered == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emailRefs[lowered]; !exists {
		s.emailOrder = append(s.emailOrder, lowered)
	}
	s.emailRefs[lowered] = ref
	return nil
}

func (s *memoryEmails) Lookup(ctx context.Context, email string) (*EmailRef, error) {
	lowered := strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.emailRefs[lowered]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := ref
	return &c, nil
}

func (s *memoryEmails) Remove(ctx context.Context, email string) error {
	lowered := strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emailRefs[lowered]; !ok {
		return nil
	}
	delete(s.emailRefs, lowered)
	for i, e := range s.emailOrder {
		if e == lowered {
			s.emailOrder = append(s.emailOrder[:i], s.emailOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memoryEmails) EmailsForMember(ctx context.Context, memberID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, email := range s.emailOrder {
		ref, ok := s.emailRefs[email]
		if ok && strings.EqualFold(ref.MemberID, memberID) {
			out = append(out, email)
		}
	}
	return out, nil
}
