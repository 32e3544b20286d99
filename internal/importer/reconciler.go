package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"memberdir/internal/directory/models"
	"memberdir/internal/directory/store"
	"memberdir/internal/platform/metrics"
	"memberdir/pkg/dates"
	pkgstrings "memberdir/pkg/platform/strings"
)

// Issue strings reused across entity types.
const (
	issueMissingKey     = "missing business key"
	issueDuplicateInRow = "duplicate business key in batch"
	issueAmbiguousEmail = "ambiguous email"
)

// Snapshot is the directory state an analysis runs against, keyed by business
// key. Analysis never reads the stores directly so it stays pure and
// re-runnable.
type Snapshot struct {
	Members map[string]*models.Member
	Schools map[string]*models.School
	Orders  map[string]*models.Order
}

// BuildSnapshot loads the directory into an analysis snapshot. Members with
// a blank memberId cannot be matched and are left out; the repair sweeps own
// those.
func BuildSnapshot(ctx context.Context, members store.MemberStore, schools store.SchoolStore, orders store.OrderStore) (*Snapshot, error) {
	snap := &Snapshot{
		Members: make(map[string]*models.Member),
		Schools: make(map[string]*models.School),
		Orders:  make(map[string]*models.Order),
	}
	allMembers, err := members.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range allMembers {
		if m.MemberID != "" {
			snap.Members[strings.ToUpper(m.MemberID)] = m
		}
	}
	allSchools, err := schools.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range allSchools {
		if s.SchoolID != "" {
			snap.Schools[s.SchoolID] = s
		}
	}
	allOrders, err := orders.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range allOrders {
		if o.ReferenceNumber != "" {
			snap.Orders[o.ReferenceNumber] = o
		}
	}
	return snap, nil
}

// Reconciler classifies import batches against a snapshot.
type Reconciler struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Reconciler.
type Option func(r *Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler constructs a Reconciler.
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AnalyzeMembers classifies member rows against the snapshot. The result is
// in-memory only; nothing is written.
func (r *Reconciler) AnalyzeMembers(ctx context.Context, rows []map[string]string, mapping Mapping, snap *Snapshot) (*Delta[models.Member], error) {
	delta := NewDelta[models.Member]()
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if mapping.RowBlank(row) {
			delta.Skipped++
			continue
		}
		coerced := memberFromRow(mapping, row)
		change := &ProposedChange[models.Member]{
			Key:       coerced.member.MemberID,
			Row:       i,
			Candidate: coerced.member,
			Issues:    coerced.issues,
		}
		if !admit(r, delta, change) {
			continue
		}

		existing := snap.Members[change.Key]
		if existing == nil {
			classifyNew(r, delta, change)
			continue
		}
		change.Existing = existing
		merged := mergeMember(existing, coerced)
		change.Candidate = merged
		change.Diff = diffMembers(existing, merged)
		classifyMatched(r, delta, change)
	}
	return delta, nil
}

// AnalyzeSchools classifies school rows against the snapshot.
func (r *Reconciler) AnalyzeSchools(ctx context.Context, rows []map[string]string, mapping Mapping, snap *Snapshot) (*Delta[models.School], error) {
	delta := NewDelta[models.School]()
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if mapping.RowBlank(row) {
			delta.Skipped++
			continue
		}
		coerced := schoolFromRow(mapping, row)
		change := &ProposedChange[models.School]{
			Key:       coerced.school.SchoolID,
			Row:       i,
			Candidate: coerced.school,
			Issues:    coerced.issues,
		}
		if !admit(r, delta, change) {
			continue
		}

		existing := snap.Schools[change.Key]
		if existing == nil {
			classifyNew(r, delta, change)
			continue
		}
		change.Existing = existing
		merged := mergeSchool(existing, coerced.school)
		change.Candidate = merged
		change.Diff = diffSchools(existing, merged)
		classifyMatched(r, delta, change)
	}
	return delta, nil
}

// SideEffects are the Member/School field patches accumulated from order
// analysis, keyed by business key. Patches on the same key merge,
// last-applied-field-wins.
type SideEffects struct {
	Members map[string]map[string]string
	Schools map[string]map[string]string
}

func newSideEffects() *SideEffects {
	return &SideEffects{
		Members: make(map[string]map[string]string),
		Schools: make(map[string]map[string]string),
	}
}

func (se *SideEffects) patchMember(memberID, field, value string) {
	if se.Members[memberID] == nil {
		se.Members[memberID] = make(map[string]string)
	}
	se.Members[memberID][field] = value
}

func (se *SideEffects) patchSchool(schoolID, field, value string) {
	if se.Schools[schoolID] == nil {
		se.Schools[schoolID] = make(map[string]string)
	}
	se.Schools[schoolID][field] = value
}

// AnalyzeOrders classifies order rows and accumulates the Member/School side
// effects of newly seen payments. Side effects of orders already in the
// directory are not recomputed; their renewal math already ran when they
// first arrived and is not idempotent.
func (r *Reconciler) AnalyzeOrders(ctx context.Context, rows []map[string]string, mapping Mapping, snap *Snapshot) (*Delta[models.Order], *SideEffects, error) {
	delta := NewDelta[models.Order]()
	effects := newSideEffects()
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if mapping.RowBlank(row) {
			delta.Skipped++
			continue
		}
		coerced := orderFromRow(mapping, row)
		change := &ProposedChange[models.Order]{
			Key:       coerced.order.ReferenceNumber,
			Row:       i,
			Candidate: coerced.order,
			Issues:    coerced.issues,
		}
		if !admit(r, delta, change) {
			continue
		}

		existing := snap.Orders[change.Key]
		if existing != nil {
			change.Existing = existing
			merged := mergeOrder(existing, coerced.order)
			change.Candidate = merged
			change.Diff = diffOrders(existing, merged)
			classifyMatched(r, delta, change)
			continue
		}

		change.Issues = append(change.Issues, r.orderSideEffects(snap, effects, coerced.order)...)
		classifyNew(r, delta, change)
	}
	return delta, effects, nil
}

// admit runs the shared row gates: business key present, not a duplicate of
// an earlier row, no field-level issues. A failed gate files the row under
// issues and returns false. Duplicate keys retract the earlier row too; a
// key that appears twice in one file cannot be trusted on either row.
// Free functions because Go methods cannot carry type parameters.
func admit[T any](r *Reconciler, delta *Delta[T], change *ProposedChange[T]) bool {
	if change.Key == "" {
		change.Issues = append(change.Issues, issueMissingKey)
		classifyIssue(r, delta, change)
		return false
	}
	if _, dup := delta.markSeen(change.Key, change.Row); dup {
		delta.retract(change.Key, issueDuplicateInRow)
		change.Issues = append(change.Issues, issueDuplicateInRow)
		classifyIssue(r, delta, change)
		return false
	}
	if len(change.Issues) > 0 {
		classifyIssue(r, delta, change)
		return false
	}
	return true
}

func classifyNew[T any](r *Reconciler, delta *Delta[T], change *ProposedChange[T]) {
	if len(change.Issues) > 0 {
		classifyIssue(r, delta, change)
		return
	}
	delta.New[change.Key] = change
	r.countRow("new")
}

func classifyMatched[T any](r *Reconciler, delta *Delta[T], change *ProposedChange[T]) {
	if len(change.Diff) == 0 {
		delta.Unchanged = append(delta.Unchanged, change)
		r.countRow("unchanged")
		return
	}
	delta.Updates = append(delta.Updates, change)
	r.countRow("update")
}

func classifyIssue[T any](r *Reconciler, delta *Delta[T], change *ProposedChange[T]) {
	delta.Issues = append(delta.Issues, change)
	r.countRow("issue")
	if r.logger != nil {
		r.logger.Debug("import row issue", "key", change.Key, "row", change.Row, "issues", change.Issues)
	}
}

func (r *Reconciler) countRow(result string) {
	if r.metrics != nil {
		r.metrics.ImportRows.WithLabelValues(result).Inc()
	}
}

// orderSideEffects resolves the payer and accumulates the field patches one
// order implies. Returned issue strings void the row.
func (r *Reconciler) orderSideEffects(snap *Snapshot, effects *SideEffects, o *models.Order) []string {
	switch models.ClassifyPayment(o.PaidFor) {
	case models.PaymentMembershipDues:
		payer, issue := resolvePayer(snap, o)
		if issue != "" {
			return []string{issue}
		}
		expiry, err := dates.AddOneYear(dates.MaxOf(o.DatePaid, o.StartDate, payer.CurrentMembershipExpires))
		if err != nil {
			return []string{fmt.Sprintf("no usable date on order %s", o.ReferenceNumber)}
		}
		effects.patchMember(payer.MemberID, FieldMembershipExpires, expiry)
		effects.patchMember(payer.MemberID, FieldLastRenewalDate, dates.LaterOf(payer.LastRenewalDate, o.DatePaid))
		return nil

	case models.PaymentInstructorLicense:
		payer, issue := resolvePayer(snap, o)
		if issue != "" {
			return []string{issue}
		}
		expiry, err := dates.AddOneYear(dates.MaxOf(o.DatePaid, o.StartDate, payer.InstructorLicenseExpires))
		if err != nil {
			return []string{fmt.Sprintf("no usable date on order %s", o.ReferenceNumber)}
		}
		effects.patchMember(payer.MemberID, FieldInstructorLicenseExpires, expiry)
		return nil

	case models.PaymentSchoolLicense:
		if o.ExternalID == "" {
			return []string{"school license order without external id"}
		}
		school := snap.Schools[o.ExternalID]
		if school == nil {
			return []string{fmt.Sprintf("unknown school %q", o.ExternalID)}
		}
		expiry, err := dates.AddOneYear(dates.MaxOf(o.DatePaid, o.StartDate, school.LicenseExpires))
		if err != nil {
			return []string{fmt.Sprintf("no usable date on order %s", o.ReferenceNumber)}
		}
		effects.patchSchool(school.SchoolID, FieldLicenseExpires, expiry)
		effects.patchSchool(school.SchoolID, FieldLastRenewalDate, dates.LaterOf(school.LastRenewalDate, o.DatePaid))
		return nil
	}
	return nil
}

// resolvePayer finds the paying member: external ID first, then an email
// that resolves to exactly one member. Zero or several email matches is the
// ambiguous-email issue; a payment must never land on a guessed member.
func resolvePayer(snap *Snapshot, o *models.Order) (*models.Member, string) {
	if o.ExternalID != "" {
		if m := snap.Members[strings.ToUpper(o.ExternalID)]; m != nil {
			return m, ""
		}
	}
	if o.Email == "" {
		return nil, issueAmbiguousEmail
	}
	var matches []*models.Member
	for _, m := range snap.Members {
		for _, e := range m.Emails {
			if e == o.Email {
				matches = append(matches, m)
				break
			}
		}
	}
	if len(matches) != 1 {
		return nil, issueAmbiguousEmail
	}
	return matches[0], ""
}

// mergeMember applies the non-regressive merge policy: dates only move later,
// levels only move higher, emails union; plain fields overwrite when the row
// carried a value. A blank expiry cell with a renewal date derives the expiry
// for date-checked membership types.
func mergeMember(existing *models.Member, coerced rowMember) *models.Member {
	cand := coerced.member
	merged := *existing
	merged.Emails = pkgstrings.UnionLower(existing.Emails, cand.Emails)

	overwrite(&merged.FirstName, cand.FirstName)
	overwrite(&merged.LastName, cand.LastName)
	overwrite(&merged.Country, cand.Country)
	overwrite(&merged.ManagingOrgID, cand.ManagingOrgID)
	overwrite(&merged.SifuInstructorID, cand.SifuInstructorID)
	overwrite(&merged.InstructorID, cand.InstructorID)
	if cand.InstructorLicenseType != models.LicenseNone {
		merged.InstructorLicenseType = cand.InstructorLicenseType
	}
	if cand.MembershipType != "" {
		merged.MembershipType = cand.MembershipType
	}
	if coerced.adminSet {
		merged.Admin = cand.Admin
	}

	merged.StudentLevel = dates.HigherOf(existing.StudentLevel, cand.StudentLevel, models.StudentLevelOrder)
	merged.ApplicationLevel = dates.HigherOf(existing.ApplicationLevel, cand.ApplicationLevel, models.ApplicationLevelOrder)

	merged.LastRenewalDate = dates.LaterOf(existing.LastRenewalDate, cand.LastRenewalDate)
	merged.InstructorLicenseExpires = dates.LaterOf(existing.InstructorLicenseExpires, cand.InstructorLicenseExpires)
	merged.CurrentMembershipExpires = dates.LaterOf(existing.CurrentMembershipExpires, cand.CurrentMembershipExpires)

	if coerced.expiryBlank && merged.LastRenewalDate != "" && membershipIsDateChecked(merged.MembershipType) {
		if derived, err := dates.AddOneYear(merged.LastRenewalDate); err == nil {
			merged.CurrentMembershipExpires = dates.LaterOf(merged.CurrentMembershipExpires, derived)
		}
	}
	return &merged
}

func membershipIsDateChecked(t models.MembershipType) bool {
	switch t {
	case models.MembershipLife, models.MembershipLifePartner,
		models.MembershipDeceased, models.MembershipInactive:
		return false
	}
	return true
}

func mergeSchool(existing *models.School, cand *models.School) *models.School {
	merged := *existing
	merged.Managers = append([]string(nil), existing.Managers...)
	merged.ManagerEmails = append([]string(nil), existing.ManagerEmails...)

	overwrite(&merged.SchoolName, cand.SchoolName)
	overwrite(&merged.Owner, cand.Owner)
	if len(cand.Managers) > 0 {
		merged.Managers = append([]string(nil), cand.Managers...)
	}
	merged.LicenseExpires = dates.LaterOf(existing.LicenseExpires, cand.LicenseExpires)
	merged.LastRenewalDate = dates.LaterOf(existing.LastRenewalDate, cand.LastRenewalDate)
	return &merged
}

func mergeOrder(existing *models.Order, cand *models.Order) *models.Order {
	merged := *existing
	overwrite(&merged.PaidFor, cand.PaidFor)
	overwrite(&merged.DatePaid, cand.DatePaid)
	overwrite(&merged.StartDate, cand.StartDate)
	overwrite(&merged.Amount, cand.Amount)
	overwrite(&merged.ExternalID, cand.ExternalID)
	overwrite(&merged.Email, cand.Email)
	return &merged
}

func overwrite(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func diffMembers(existing, merged *models.Member) []FieldDiff {
	var diff []FieldDiff
	appendDiff(&diff, FieldFirstName, existing.FirstName, merged.FirstName)
	appendDiff(&diff, FieldLastName, existing.LastName, merged.LastName)
	appendDiff(&diff, FieldCountry, existing.Country, merged.Country)
	appendDiff(&diff, FieldEmails, joinSorted(existing.Emails), joinSorted(merged.Emails))
	appendDiff(&diff, FieldManagingOrgID, existing.ManagingOrgID, merged.ManagingOrgID)
	appendDiff(&diff, FieldSifuInstructorID, existing.SifuInstructorID, merged.SifuInstructorID)
	appendDiff(&diff, FieldInstructorID, existing.InstructorID, merged.InstructorID)
	appendDiff(&diff, FieldInstructorLicenseType, string(existing.InstructorLicenseType), string(merged.InstructorLicenseType))
	appendDiff(&diff, FieldInstructorLicenseExpires, existing.InstructorLicenseExpires, merged.InstructorLicenseExpires)
	appendDiff(&diff, FieldStudentLevel, existing.StudentLevel, merged.StudentLevel)
	appendDiff(&diff, FieldApplicationLevel, existing.ApplicationLevel, merged.ApplicationLevel)
	appendDiff(&diff, FieldMembershipType, string(existing.MembershipType), string(merged.MembershipType))
	appendDiff(&diff, FieldLastRenewalDate, existing.LastRenewalDate, merged.LastRenewalDate)
	appendDiff(&diff, FieldMembershipExpires, existing.CurrentMembershipExpires, merged.CurrentMembershipExpires)
	appendDiff(&diff, FieldAdmin, strconv.FormatBool(existing.Admin), strconv.FormatBool(merged.Admin))
	return diff
}

func diffSchools(existing, merged *models.School) []FieldDiff {
	var diff []FieldDiff
	appendDiff(&diff, FieldSchoolName, existing.SchoolName, merged.SchoolName)
	appendDiff(&diff, FieldOwner, existing.Owner, merged.Owner)
	appendDiff(&diff, FieldManagers, joinSorted(existing.Managers), joinSorted(merged.Managers))
	appendDiff(&diff, FieldLicenseExpires, existing.LicenseExpires, merged.LicenseExpires)
	appendDiff(&diff, FieldLastRenewalDate, existing.LastRenewalDate, merged.LastRenewalDate)
	return diff
}

func diffOrders(existing, merged *models.Order) []FieldDiff {
	var diff []FieldDiff
	appendDiff(&diff, FieldPaidFor, existing.PaidFor, merged.PaidFor)
	appendDiff(&diff, FieldDatePaid, existing.DatePaid, merged.DatePaid)
	appendDiff(&diff, FieldStartDate, existing.StartDate, merged.StartDate)
	appendDiff(&diff, FieldAmount, existing.Amount, merged.Amount)
	appendDiff(&diff, FieldExternalID, existing.ExternalID, merged.ExternalID)
	appendDiff(&diff, FieldEmail, existing.Email, merged.Email)
	return diff
}

func appendDiff(diff *[]FieldDiff, field, oldValue, newValue string) {
	if oldValue == newValue {
		return
	}
	*diff = append(*diff, FieldDiff{Field: field, Old: oldValue, New: newValue})
}

func joinSorted(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
