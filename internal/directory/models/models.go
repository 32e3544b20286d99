// Package models defines the directory's document types.
//
// Every type has an init-defaults constructor so no field ever relies on
// absence: a zero date is "", a zero set is an empty slice. Storage keys are
// generated surrogate keys (uuid strings) and are never derived from a
// business field such as MemberID; an earlier layout that keyed documents by
// business fields is exactly what the repair sweeps exist to migrate off.
package models

import (
	"strings"
)

// LicenseType classifies an instructor license.
type LicenseType string

const (
	LicenseNone   LicenseType = ""
	LicenseAnnual LicenseType = "annual"
	LicenseLife   LicenseType = "life"
)

// LifeLicenseExpiry is the sentinel expiry mirrored for Life licenses so
// downstream "is expired" checks never trip.
const LifeLicenseExpiry = "9999-12-31"

// MembershipType classifies a membership.
type MembershipType string

const (
	MembershipAnnual      MembershipType = "annual"
	MembershipLife        MembershipType = "life"
	MembershipLifePartner MembershipType = "life_partner"
	MembershipSenior      MembershipType = "senior"
	MembershipStudent     MembershipType = "student"
	MembershipMinor       MembershipType = "minor"
	MembershipDeceased    MembershipType = "deceased"
	MembershipInactive    MembershipType = "inactive"
)

// ParseMembershipType resolves free-form import text ("Life Partner",
// "ANNUAL membership") to a MembershipType by case-insensitive substring.
// Longer labels are tried first so "life partner" does not land on Life.
// Returns false for text matching nothing.
func ParseMembershipType(raw string) (MembershipType, bool) {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return "", false
	}
	ordered := []struct {
		needle string
		t      MembershipType
	}{
		{"life partner", MembershipLifePartner},
		{"lifepartner", MembershipLifePartner},
		{"life", MembershipLife},
		{"annual", MembershipAnnual},
		{"senior", MembershipSenior},
		{"student", MembershipStudent},
		{"minor", MembershipMinor},
		{"deceased", MembershipDeceased},
		{"inactive", MembershipInactive},
	}
	for _, c := range ordered {
		if strings.Contains(lowered, c.needle) {
			return c.t, true
		}
	}
	return "", false
}

// GradingStatus tracks a grading through its lifecycle.
type GradingStatus string

const (
	GradingPending   GradingStatus = "pending"
	GradingPassed    GradingStatus = "passed"
	GradingFailed    GradingStatus = "failed"
	GradingWithdrawn GradingStatus = "withdrawn"
)

// StudentLevelOrder ranks student grades lowest to highest. HigherOf merges
// rely on this ordering; anything not listed ranks below everything.
var StudentLevelOrder = []string{
	"1st Student Grade", "2nd Student Grade", "3rd Student Grade",
	"4th Student Grade", "5th Student Grade", "6th Student Grade",
	"7th Student Grade", "8th Student Grade", "9th Student Grade",
	"10th Student Grade", "11th Student Grade", "12th Student Grade",
	"1st Technician Grade", "2nd Technician Grade", "3rd Technician Grade",
	"4th Technician Grade",
}

// ApplicationLevelOrder ranks application (teaching qualification) levels.
var ApplicationLevelOrder = []string{
	"Assistant Instructor", "Instructor", "Senior Instructor", "Master Instructor",
}

// Member is the authoritative member document.
//
// ID is the storage key. MemberID is the human-readable business key
// ("<2-letter country><number>"); it is unique across non-deleted members
// and is never used as a storage key.
type Member struct {
	ID       string `json:"id"`
	MemberID string `json:"memberId"`

	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Country   string   `json:"country"` // 2-letter code, feeds member ID allocation
	Emails    []string `json:"emails"`  // lowercased set

	// Affiliation. ManagingOrgID references a School's SchoolID;
	// SifuInstructorID references another member's InstructorID.
	ManagingOrgID    string `json:"managingOrgId"`
	SifuInstructorID string `json:"sifuInstructorId"`

	// Instructor attributes.
	InstructorID             string      `json:"instructorId"`
	InstructorLicenseType    LicenseType `json:"instructorLicenseType"`
	InstructorLicenseExpires string      `json:"instructorLicenseExpires"`

	// Level attributes.
	StudentLevel     string `json:"studentLevel"`
	ApplicationLevel string `json:"applicationLevel"`

	// Membership attributes.
	MembershipType           MembershipType `json:"membershipType"`
	LastRenewalDate          string         `json:"lastRenewalDate"`
	CurrentMembershipExpires string         `json:"currentMembershipExpires"`

	Admin bool `json:"admin"`
}

// NewMember returns a member with every field at its defined default.
func NewMember() *Member {
	return &Member{
		Emails:                []string{},
		InstructorLicenseType: LicenseNone,
	}
}

// FullName joins first and last name for mirror projections.
func (m *Member) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(m.FirstName) + " " + strings.TrimSpace(m.LastName))
}

// IsQualifiedInstructor reports whether the member currently earns a public
// instructor profile: a non-empty instructor ID and an unexpired license.
// today is a canonical date.
func (m *Member) IsQualifiedInstructor(today string) bool {
	if m.InstructorID == "" {
		return false
	}
	if m.InstructorLicenseType == LicenseLife {
		return true
	}
	return m.InstructorLicenseExpires != "" && m.InstructorLicenseExpires >= today
}

// HasActiveMembership reports whether the membership is active on the given
// day. Life and LifePartner are always active, Deceased and Inactive never
// are; every other type falls through to the expiry date check. The
// branching is preserved as observed in production data; do not collapse the
// date-checked types even though they currently share semantics.
func (m *Member) HasActiveMembership(today string) bool {
	switch m.MembershipType {
	case MembershipLife, MembershipLifePartner:
		return true
	case MembershipDeceased, MembershipInactive:
		return false
	default:
		return m.CurrentMembershipExpires != "" && m.CurrentMembershipExpires >= today
	}
}

// School is the authoritative school document. SchoolID is the free-form
// business key; OwnerEmail/ManagerEmails are projections the mirror engine
// keeps in step with the owner/manager members' account emails. Downstream
// access control reads them, so staleness is a correctness bug.
type School struct {
	ID         string `json:"id"`
	SchoolID   string `json:"schoolId"`
	SchoolName string `json:"schoolName"`

	Owner    string   `json:"owner"`    // member business key
	Managers []string `json:"managers"` // member business keys

	OwnerEmail    string   `json:"ownerEmail"`
	ManagerEmails []string `json:"managerEmails"`

	LicenseExpires  string `json:"licenseExpires"`
	LastRenewalDate string `json:"lastRenewalDate"`
}

// NewSchool returns a school with every field at its defined default.
func NewSchool() *School {
	return &School{
		Managers:      []string{},
		ManagerEmails: []string{},
	}
}

// Grading records an examination event. InstructorID and
// AssistantInstructorIDs are instructor business keys; SchoolID is a school
// business key; MemberKey is the student's storage key.
type Grading struct {
	ID        string `json:"id"`
	MemberKey string `json:"memberKey"`

	InstructorID           string   `json:"instructorId"`
	AssistantInstructorIDs []string `json:"assistantInstructorIds"`
	SchoolID               string   `json:"schoolId"`

	Level  string        `json:"level"`
	Date   string        `json:"date"`
	Status GradingStatus `json:"status"`
}

// NewGrading returns a grading with every field at its defined default.
func NewGrading() *Grading {
	return &Grading{
		AssistantInstructorIDs: []string{},
		Status:                 GradingPending,
	}
}

// InstructorIDSet returns primary + assistant instructor business keys,
// deduplicated, for mirror fan-out.
func (g *Grading) InstructorIDSet() []string {
	seen := make(map[string]struct{}, len(g.AssistantInstructorIDs)+1)
	out := make([]string, 0, len(g.AssistantInstructorIDs)+1)
	for _, id := range append([]string{g.InstructorID}, g.AssistantInstructorIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// PaymentKind classifies what an order paid for.
type PaymentKind string

const (
	PaymentMembershipDues    PaymentKind = "membership_dues"
	PaymentInstructorLicense PaymentKind = "instructor_license"
	PaymentSchoolLicense     PaymentKind = "school_license"
	PaymentOther             PaymentKind = "other"
)

// ClassifyPayment resolves an order's free-text "paid for" field to a
// PaymentKind by case-insensitive substring.
func ClassifyPayment(paidFor string) PaymentKind {
	lowered := strings.ToLower(paidFor)
	switch {
	case strings.Contains(lowered, "school"):
		return PaymentSchoolLicense
	case strings.Contains(lowered, "instructor"):
		return PaymentInstructorLicense
	case strings.Contains(lowered, "membership"), strings.Contains(lowered, "dues"):
		return PaymentMembershipDues
	default:
		return PaymentOther
	}
}

// Order is a payment record. ReferenceNumber is the business key.
// ExternalID carries the payer's business key (memberId or schoolId) when
// the payment platform knew it; Email is the fallback resolution path.
type Order struct {
	ID              string `json:"id"`
	ReferenceNumber string `json:"referenceNumber"`

	PaidFor    string `json:"paidFor"`
	DatePaid   string `json:"datePaid"`
	StartDate  string `json:"startDate"`
	Amount     string `json:"amount"`
	ExternalID string `json:"externalId"`
	Email      string `json:"email"`
}

// NewOrder returns an order with every field at its defined default.
func NewOrder() *Order {
	return &Order{}
}

// InstructorProfile is the public projection mirrored for each member who
// currently qualifies as an instructor. MemberKey (the member's storage key)
// is the mirror's key; an older generation keyed these documents by
// InstructorID and the repair sweeps exist to undo that.
type InstructorProfile struct {
	MemberKey      string      `json:"memberKey"`
	InstructorID   string      `json:"instructorId"`
	Name           string      `json:"name"`
	SchoolID       string      `json:"schoolId"`
	LicenseType    LicenseType `json:"licenseType"`
	LicenseExpires string      `json:"licenseExpires"`
}

// ProfileFor projects a member into its public instructor profile. Life
// licenses get the sentinel expiry so consumers' date checks never trip.
func ProfileFor(m *Member) *InstructorProfile {
	expires := m.InstructorLicenseExpires
	if m.InstructorLicenseType == LicenseLife {
		expires = LifeLicenseExpiry
	}
	return &InstructorProfile{
		MemberKey:      m.ID,
		InstructorID:   m.InstructorID,
		Name:           m.FullName(),
		SchoolID:       m.ManagingOrgID,
		LicenseType:    m.InstructorLicenseType,
		LicenseExpires: expires,
	}
}

// RosterEntry mirrors one student under their sifu's roster.
type RosterEntry struct {
	InstructorKey string `json:"instructorKey"` // sifu's storage key
	StudentKey    string `json:"studentKey"`    // student's storage key
	MemberID      string `json:"memberId"`
	Name          string `json:"name"`
	StudentLevel  string `json:"studentLevel"`
}

// RosterEntryFor projects a member into the roster entry filed under the
// resolved sifu storage key.
func RosterEntryFor(instructorKey string, m *Member) *RosterEntry {
	return &RosterEntry{
		InstructorKey: instructorKey,
		StudentKey:    m.ID,
		MemberID:      m.MemberID,
		Name:          m.FullName(),
		StudentLevel:  m.StudentLevel,
	}
}

// Quarantine reason codes.
const (
	QuarantineEmptyMemberID     = "empty_member_id"
	QuarantineDuplicateMemberID = "duplicate_member_id"
)

// QuarantinedMember preserves a removed member document for manual recovery.
type QuarantinedMember struct {
	Key    string  `json:"key"` // original storage key
	Reason string  `json:"reason"`
	Member *Member `json:"member"`
}
