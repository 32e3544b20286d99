package importer

import (
	"fmt"
	"strings"

	"memberdir/internal/directory/models"
	"memberdir/pkg/dates"
	pkgstrings "memberdir/pkg/platform/strings"
)

// Canonical field names the mappings target. These double as the field names
// in diffs and side-effect patches.
const (
	FieldMemberID                 = "memberId"
	FieldFirstName                = "firstName"
	FieldLastName                 = "lastName"
	FieldCountry                  = "country"
	FieldEmails                   = "emails"
	FieldManagingOrgID            = "managingOrgId"
	FieldSifuInstructorID         = "sifuInstructorId"
	FieldInstructorID             = "instructorId"
	FieldInstructorLicenseType    = "instructorLicenseType"
	FieldInstructorLicenseExpires = "instructorLicenseExpires"
	FieldStudentLevel             = "studentLevel"
	FieldApplicationLevel         = "applicationLevel"
	FieldMembershipType           = "membershipType"
	FieldLastRenewalDate          = "lastRenewalDate"
	FieldMembershipExpires        = "currentMembershipExpires"
	FieldAdmin                    = "admin"

	FieldSchoolID       = "schoolId"
	FieldSchoolName     = "schoolName"
	FieldOwner          = "owner"
	FieldManagers       = "managers"
	FieldLicenseExpires = "licenseExpires"

	FieldReferenceNumber = "referenceNumber"
	FieldPaidFor         = "paidFor"
	FieldDatePaid        = "datePaid"
	FieldStartDate       = "startDate"
	FieldAmount          = "amount"
	FieldExternalID      = "externalId"
	FieldEmail           = "email"
)

// FieldMapping binds one canonical field to the source columns that feed it.
// Multiple columns are joined with Separator (" " when unset), skipping blank
// cells, e.g. first + last name columns joined into one name field.
type FieldMapping struct {
	Field     string   `json:"field"`
	Columns   []string `json:"columns"`
	Separator string   `json:"separator,omitempty"`
}

// Mapping is the full column mapping for one import batch.
type Mapping []FieldMapping

// Value extracts the raw value of a canonical field from a row.
func (m Mapping) Value(field string, row map[string]string) string {
	for _, fm := range m {
		if fm.Field != field {
			continue
		}
		sep := fm.Separator
		if sep == "" {
			sep = " "
		}
		parts := make([]string, 0, len(fm.Columns))
		for _, col := range fm.Columns {
			if v := strings.TrimSpace(row[col]); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, sep)
	}
	return ""
}

// RowBlank reports whether every mapped source column is blank. A blank row
// is skipped outright; a row whose values all sit in unmapped columns is not
// blank and still fails the business-key requirement visibly.
func (m Mapping) RowBlank(row map[string]string) bool {
	for _, fm := range m {
		for _, col := range fm.Columns {
			if strings.TrimSpace(row[col]) != "" {
				return false
			}
		}
	}
	return true
}

// coerceDate canonicalizes a raw date cell. Unparseable input keeps the raw
// value in the candidate and contributes an issue; the operator sees the bad
// cell instead of losing it.
func coerceDate(field, raw string, issues *[]string) string {
	canonical, err := dates.Parse(raw)
	if err != nil {
		*issues = append(*issues, fmt.Sprintf("%s: unparseable date %q", field, raw))
		return strings.TrimSpace(raw)
	}
	return canonical
}

func coerceBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func coerceEmails(raw string) []string {
	return pkgstrings.DedupeAndTrimLower(pkgstrings.SplitMulti(raw))
}

func parseLicenseType(raw string) (models.LicenseType, bool) {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case lowered == "":
		return models.LicenseNone, true
	case strings.Contains(lowered, "life"):
		return models.LicenseLife, true
	case strings.Contains(lowered, "annual"):
		return models.LicenseAnnual, true
	}
	return models.LicenseNone, false
}

// rowMember is a coerced member candidate plus the row facts the merge needs
// that the record itself cannot carry.
type rowMember struct {
	member      *models.Member
	adminSet    bool // admin cell was non-blank; false cells must not be dropped
	expiryBlank bool // expiry cell was blank; merge may derive it from renewal
	issues      []string
}

func memberFromRow(m Mapping, row map[string]string) rowMember {
	var issues []string
	cand := models.NewMember()
	cand.MemberID = strings.ToUpper(strings.TrimSpace(m.Value(FieldMemberID, row)))
	cand.FirstName = m.Value(FieldFirstName, row)
	cand.LastName = m.Value(FieldLastName, row)
	cand.Country = strings.ToUpper(strings.TrimSpace(m.Value(FieldCountry, row)))
	cand.Emails = coerceEmails(m.Value(FieldEmails, row))
	cand.ManagingOrgID = strings.TrimSpace(m.Value(FieldManagingOrgID, row))
	cand.SifuInstructorID = strings.TrimSpace(m.Value(FieldSifuInstructorID, row))
	cand.InstructorID = strings.TrimSpace(m.Value(FieldInstructorID, row))

	if raw := m.Value(FieldInstructorLicenseType, row); strings.TrimSpace(raw) != "" {
		lt, ok := parseLicenseType(raw)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: unknown license type %q", FieldInstructorLicenseType, raw))
			lt = models.LicenseType(strings.TrimSpace(raw))
		}
		cand.InstructorLicenseType = lt
	}
	cand.InstructorLicenseExpires = coerceOptionalDate(FieldInstructorLicenseExpires, m.Value(FieldInstructorLicenseExpires, row), &issues)

	cand.StudentLevel = strings.TrimSpace(m.Value(FieldStudentLevel, row))
	cand.ApplicationLevel = strings.TrimSpace(m.Value(FieldApplicationLevel, row))

	if raw := m.Value(FieldMembershipType, row); strings.TrimSpace(raw) != "" {
		mt, ok := models.ParseMembershipType(raw)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: unknown membership type %q", FieldMembershipType, raw))
			mt = models.MembershipType(strings.TrimSpace(raw))
		}
		cand.MembershipType = mt
	}

	cand.LastRenewalDate = coerceOptionalDate(FieldLastRenewalDate, m.Value(FieldLastRenewalDate, row), &issues)
	rawExpiry := m.Value(FieldMembershipExpires, row)
	cand.CurrentMembershipExpires = coerceOptionalDate(FieldMembershipExpires, rawExpiry, &issues)

	adminRaw := m.Value(FieldAdmin, row)
	cand.Admin = coerceBool(adminRaw)

	return rowMember{
		member:      cand,
		adminSet:    strings.TrimSpace(adminRaw) != "",
		expiryBlank: strings.TrimSpace(rawExpiry) == "",
		issues:      issues,
	}
}

func coerceOptionalDate(field, raw string, issues *[]string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return coerceDate(field, raw, issues)
}

type rowSchool struct {
	school *models.School
	issues []string
}

func schoolFromRow(m Mapping, row map[string]string) rowSchool {
	var issues []string
	cand := models.NewSchool()
	cand.SchoolID = strings.TrimSpace(m.Value(FieldSchoolID, row))
	cand.SchoolName = strings.TrimSpace(m.Value(FieldSchoolName, row))
	cand.Owner = strings.ToUpper(strings.TrimSpace(m.Value(FieldOwner, row)))
	for _, manager := range pkgstrings.DedupeAndTrim(pkgstrings.SplitMulti(m.Value(FieldManagers, row))) {
		cand.Managers = append(cand.Managers, strings.ToUpper(manager))
	}
	cand.LicenseExpires = coerceOptionalDate(FieldLicenseExpires, m.Value(FieldLicenseExpires, row), &issues)
	cand.LastRenewalDate = coerceOptionalDate(FieldLastRenewalDate, m.Value(FieldLastRenewalDate, row), &issues)
	return rowSchool{school: cand, issues: issues}
}

type rowOrder struct {
	order  *models.Order
	issues []string
}

func orderFromRow(m Mapping, row map[string]string) rowOrder {
	var issues []string
	cand := models.NewOrder()
	cand.ReferenceNumber = strings.TrimSpace(m.Value(FieldReferenceNumber, row))
	cand.PaidFor = strings.TrimSpace(m.Value(FieldPaidFor, row))
	cand.DatePaid = coerceOptionalDate(FieldDatePaid, m.Value(FieldDatePaid, row), &issues)
	cand.StartDate = coerceOptionalDate(FieldStartDate, m.Value(FieldStartDate, row), &issues)
	cand.Amount = strings.TrimSpace(m.Value(FieldAmount, row))
	cand.ExternalID = strings.TrimSpace(m.Value(FieldExternalID, row))
	cand.Email = strings.ToLower(strings.TrimSpace(m.Value(FieldEmail, row)))
	return rowOrder{order: cand, issues: issues}
}
