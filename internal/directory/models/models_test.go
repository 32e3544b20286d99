package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const today = "2024-05-01"

func TestIsQualifiedInstructor(t *testing.T) {
	tests := []struct {
		name string
		m    Member
		want bool
	}{
		{
			name: "no instructor id never qualifies",
			m:    Member{InstructorLicenseType: LicenseLife},
			want: false,
		},
		{
			name: "life license qualifies regardless of expiry",
			m:    Member{InstructorID: "200", InstructorLicenseType: LicenseLife, InstructorLicenseExpires: "1999-01-01"},
			want: true,
		},
		{
			name: "annual license before expiry",
			m:    Member{InstructorID: "200", InstructorLicenseType: LicenseAnnual, InstructorLicenseExpires: "2024-12-31"},
			want: true,
		},
		{
			name: "annual license expires today still qualifies",
			m:    Member{InstructorID: "200", InstructorLicenseType: LicenseAnnual, InstructorLicenseExpires: today},
			want: true,
		},
		{
			name: "annual license past expiry",
			m:    Member{InstructorID: "200", InstructorLicenseType: LicenseAnnual, InstructorLicenseExpires: "2024-04-30"},
			want: false,
		},
		{
			name: "annual license with blank expiry",
			m:    Member{InstructorID: "200", InstructorLicenseType: LicenseAnnual},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.IsQualifiedInstructor(today))
		})
	}
}

func TestHasActiveMembership(t *testing.T) {
	tests := []struct {
		name string
		m    Member
		want bool
	}{
		{"life always active", Member{MembershipType: MembershipLife}, true},
		{"life partner always active", Member{MembershipType: MembershipLifePartner, CurrentMembershipExpires: "2000-01-01"}, true},
		{"deceased never active", Member{MembershipType: MembershipDeceased, CurrentMembershipExpires: "2099-01-01"}, false},
		{"inactive never active", Member{MembershipType: MembershipInactive, CurrentMembershipExpires: "2099-01-01"}, false},
		{"annual checks expiry", Member{MembershipType: MembershipAnnual, CurrentMembershipExpires: "2024-06-01"}, true},
		{"annual lapsed", Member{MembershipType: MembershipAnnual, CurrentMembershipExpires: "2024-04-01"}, false},
		{"senior checks expiry", Member{MembershipType: MembershipSenior, CurrentMembershipExpires: "2024-06-01"}, true},
		{"student lapsed", Member{MembershipType: MembershipStudent, CurrentMembershipExpires: "2023-01-01"}, false},
		{"minor blank expiry inactive", Member{MembershipType: MembershipMinor}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.HasActiveMembership(today))
		})
	}
}

func TestParseMembershipType(t *testing.T) {
	tests := []struct {
		raw  string
		want MembershipType
		ok   bool
	}{
		{"Life Partner", MembershipLifePartner, true},
		{"LIFEPARTNER", MembershipLifePartner, true},
		{"Life member", MembershipLife, true},
		{"Annual Membership", MembershipAnnual, true},
		{"senior", MembershipSenior, true},
		{"  Student ", MembershipStudent, true},
		{"deceased 2019", MembershipDeceased, true},
		{"", "", false},
		{"sponsor", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseMembershipType(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestClassifyPayment(t *testing.T) {
	assert.Equal(t, PaymentMembershipDues, ClassifyPayment("Annual Membership Dues"))
	assert.Equal(t, PaymentInstructorLicense, ClassifyPayment("Instructor licence renewal"))
	assert.Equal(t, PaymentSchoolLicense, ClassifyPayment("School license 2024"))
	// "school" wins over "instructor" when both appear; a school license paid
	// by an instructor is still a school license.
	assert.Equal(t, PaymentSchoolLicense, ClassifyPayment("Instructor paying school license"))
	assert.Equal(t, PaymentOther, ClassifyPayment("Seminar ticket"))
}

func TestProfileFor_LifeSentinel(t *testing.T) {
	m := NewMember()
	m.ID = "k1"
	m.FirstName = "Ada"
	m.LastName = "Lovelace"
	m.InstructorID = "200"
	m.InstructorLicenseType = LicenseLife
	m.InstructorLicenseExpires = "2001-01-01"

	p := ProfileFor(m)
	assert.Equal(t, "k1", p.MemberKey)
	assert.Equal(t, LifeLicenseExpiry, p.LicenseExpires)
	assert.Equal(t, "Ada Lovelace", p.Name)
}

func TestGradingInstructorIDSet(t *testing.T) {
	g := NewGrading()
	g.InstructorID = "200"
	g.AssistantInstructorIDs = []string{"201", "200", "", "202"}
	assert.Equal(t, []string{"200", "201", "202"}, g.InstructorIDSet())
}

func TestNewMemberDefaults(t *testing.T) {
	m := NewMember()
	assert.NotNil(t, m.Emails)
	assert.Empty(t, m.Emails)
	assert.Equal(t, LicenseNone, m.InstructorLicenseType)
}
