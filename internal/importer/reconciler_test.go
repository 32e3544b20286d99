package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberdir/internal/directory/models"
)

func memberMapping() Mapping {
	return Mapping{
		{Field: FieldMemberID, Columns: []string{"ID"}},
		{Field: FieldFirstName, Columns: []string{"First"}},
		{Field: FieldLastName, Columns: []string{"Last"}},
		{Field: FieldEmails, Columns: []string{"Email"}},
		{Field: FieldMembershipType, Columns: []string{"Type"}},
		{Field: FieldLastRenewalDate, Columns: []string{"Renewed"}},
		{Field: FieldMembershipExpires, Columns: []string{"Expires"}},
	}
}

func snapshotWith(members ...*models.Member) *Snapshot {
	snap := &Snapshot{
		Members: make(map[string]*models.Member),
		Schools: make(map[string]*models.School),
		Orders:  make(map[string]*models.Order),
	}
	for _, m := range members {
		snap.Members[m.MemberID] = m
	}
	return snap
}

func TestAnalyzeMembersClassification(t *testing.T) {
	existing := models.NewMember()
	existing.ID = "k1"
	existing.MemberID = "US100"
	existing.FirstName = "Ada"
	existing.LastName = "Wong"
	existing.Emails = []string{"a@x.com"}

	rows := []map[string]string{
		{"ID": "US100", "First": "Ada", "Last": "Wong", "Email": "a@x.com"}, // unchanged
		{"ID": "US200", "First": "Bo", "Last": "Chen"},                      // new
		{"ID": "", "First": "Nameless"},                                     // missing key
		{},                                                                  // blank, skipped
	}

	r := NewReconciler()
	delta, err := r.AnalyzeMembers(context.Background(), rows, memberMapping(), snapshotWith(existing))
	require.NoError(t, err)

	counts := delta.Counts()
	assert.Equal(t, 1, counts.New)
	assert.Equal(t, 1, counts.Unchanged)
	assert.Equal(t, 0, counts.Updates)
	assert.Equal(t, 1, counts.Issues)
	assert.Equal(t, 1, counts.Skipped)
	require.Contains(t, delta.New, "US200")
	assert.Equal(t, "Bo", delta.New["US200"].Candidate.FirstName)
	assert.Contains(t, delta.Issues[0].Issues, issueMissingKey)
}

func TestAnalyzeMembersDuplicateInBatch(t *testing.T) {
	rows := []map[string]string{
		{"ID": "US100", "First": "Ada"},
		{"ID": "US100", "First": "Adah"},
	}

	r := NewReconciler()
	delta, err := r.AnalyzeMembers(context.Background(), rows, memberMapping(), snapshotWith())
	require.NoError(t, err)

	assert.Empty(t, delta.New)
	assert.Empty(t, delta.Updates)
	require.Len(t, delta.Issues, 2)
	for _, c := range delta.Issues {
		assert.Equal(t, "US100", c.Key)
		assert.Contains(t, c.Issues, issueDuplicateInRow)
	}
}

func TestAnalyzeMembersEmailUnion(t *testing.T) {
	existing := models.NewMember()
	existing.MemberID = "US100"
	existing.Emails = []string{"a@x.com"}

	rows := []map[string]string{{"ID": "US100", "Email": "b@x.com"}}

	r := NewReconciler()
	delta, err := r.AnalyzeMembers(context.Background(), rows, memberMapping(), snapshotWith(existing))
	require.NoError(t, err)

	require.Len(t, delta.Updates, 1)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, delta.Updates[0].Candidate.Emails)
}

func TestAnalyzeMembersDerivesExpiryFromRenewal(t *testing.T) {
	existing := models.NewMember()
	existing.MemberID = "US100"
	existing.MembershipType = models.MembershipAnnual
	existing.CurrentMembershipExpires = "2023-01-01"

	rows := []map[string]string{{"ID": "US100", "Type": "Annual", "Renewed": "2023-06-01"}}

	r := NewReconciler()
	delta, err := r.AnalyzeMembers(context.Background(), rows, memberMapping(), snapshotWith(existing))
	require.NoError(t, err)

	require.Len(t, delta.Updates, 1)
	merged := delta.Updates[0].Candidate
	assert.Equal(t, "2023-06-01", merged.LastRenewalDate)
	assert.Equal(t, "2024-06-01", merged.CurrentMembershipExpires)
}

func TestAnalyzeMembersDatesNeverRegress(t *testing.T) {
	existing := models.NewMember()
	existing.MemberID = "US100"
	existing.CurrentMembershipExpires = "2026-01-01"
	existing.StudentLevel = "5th Student Grade"

	rows := []map[string]string{{"ID": "US100", "Expires": "2024-01-01"}}

	r := NewReconciler()
	delta, err := r.AnalyzeMembers(context.Background(), rows, memberMapping(), snapshotWith(existing))
	require.NoError(t, err)

	// The stale expiry loses the merge; nothing else changed, so unchanged.
	assert.Empty(t, delta.Updates)
	require.Len(t, delta.Unchanged, 1)
	assert.Equal(t, "2026-01-01", delta.Unchanged[0].Candidate.CurrentMembershipExpires)
}

func TestAnalyzeMembersUnparseableDateIsIssue(t *testing.T) {
	rows := []map[string]string{{"ID": "US100", "Renewed": "not a date"}}

	r := NewReconciler()
	delta, err := r.AnalyzeMembers(context.Background(), rows, memberMapping(), snapshotWith())
	require.NoError(t, err)

	require.Len(t, delta.Issues, 1)
	// Raw value stays on the candidate for the operator to see.
	assert.Equal(t, "not a date", delta.Issues[0].Candidate.LastRenewalDate)
}

func TestAnalyzeMembersCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReconciler()
	_, err := r.AnalyzeMembers(ctx, []map[string]string{{"ID": "US100"}}, memberMapping(), snapshotWith())
	require.ErrorIs(t, err, context.Canceled)
}

func TestMappingJoinsColumns(t *testing.T) {
	m := Mapping{{Field: FieldFirstName, Columns: []string{"Given", "Middle"}}}
	row := map[string]string{"Given": "Ada", "Middle": "M."}
	assert.Equal(t, "Ada M.", m.Value(FieldFirstName, row))

	row = map[string]string{"Given": "Ada", "Middle": " "}
	assert.Equal(t, "Ada", m.Value(FieldFirstName, row))
}

func orderMapping() Mapping {
	return Mapping{
		{Field: FieldReferenceNumber, Columns: []string{"Ref"}},
		{Field: FieldPaidFor, Columns: []string{"Item"}},
		{Field: FieldDatePaid, Columns: []string{"Paid"}},
		{Field: FieldStartDate, Columns: []string{"Start"}},
		{Field: FieldExternalID, Columns: []string{"Ext"}},
		{Field: FieldEmail, Columns: []string{"Email"}},
	}
}

func TestAnalyzeOrdersDuesSideEffects(t *testing.T) {
	payer := models.NewMember()
	payer.MemberID = "US100"
	payer.CurrentMembershipExpires = "2023-01-01"
	payer.LastRenewalDate = "2022-06-01"
	snap := snapshotWith(payer)

	rows := []map[string]string{
		{"Ref": "R1", "Item": "Membership Dues", "Paid": "2023-06-01", "Ext": "US100"},
	}

	r := NewReconciler()
	delta, effects, err := r.AnalyzeOrders(context.Background(), rows, orderMapping(), snap)
	require.NoError(t, err)

	require.Contains(t, delta.New, "R1")
	patch := effects.Members["US100"]
	require.NotNil(t, patch)
	assert.Equal(t, "2024-06-01", patch[FieldMembershipExpires])
	assert.Equal(t, "2023-06-01", patch[FieldLastRenewalDate])
}

func TestAnalyzeOrdersResolvesPayerByEmail(t *testing.T) {
	payer := models.NewMember()
	payer.MemberID = "US100"
	payer.Emails = []string{"pay@x.com"}
	payer.InstructorLicenseExpires = "2023-01-01"
	snap := snapshotWith(payer)

	rows := []map[string]string{
		{"Ref": "R1", "Item": "Instructor License", "Paid": "2023-02-01", "Email": "pay@x.com"},
	}

	r := NewReconciler()
	delta, effects, err := r.AnalyzeOrders(context.Background(), rows, orderMapping(), snap)
	require.NoError(t, err)

	require.Contains(t, delta.New, "R1")
	assert.Equal(t, "2024-02-01", effects.Members["US100"][FieldInstructorLicenseExpires])
}

func TestAnalyzeOrdersAmbiguousEmail(t *testing.T) {
	a := models.NewMember()
	a.MemberID = "US100"
	a.Emails = []string{"shared@x.com"}
	b := models.NewMember()
	b.MemberID = "US200"
	b.Emails = []string{"shared@x.com"}
	snap := snapshotWith(a, b)

	rows := []map[string]string{
		{"Ref": "R1", "Item": "Membership Dues", "Paid": "2023-02-01", "Email": "shared@x.com"},
		{"Ref": "R2", "Item": "Membership Dues", "Paid": "2023-02-01", "Email": "nobody@x.com"},
	}

	r := NewReconciler()
	delta, effects, err := r.AnalyzeOrders(context.Background(), rows, orderMapping(), snap)
	require.NoError(t, err)

	assert.Empty(t, delta.New)
	require.Len(t, delta.Issues, 2)
	for _, c := range delta.Issues {
		assert.Contains(t, c.Issues, issueAmbiguousEmail)
	}
	assert.Empty(t, effects.Members)
}

func TestAnalyzeOrdersSchoolLicenseNeedsExternalID(t *testing.T) {
	snap := snapshotWith()
	sc := models.NewSchool()
	sc.SchoolID = "S1"
	sc.LicenseExpires = "2023-01-01"
	snap.Schools["S1"] = sc

	rows := []map[string]string{
		{"Ref": "R1", "Item": "School License", "Paid": "2023-03-01"},
		{"Ref": "R2", "Item": "School License", "Paid": "2023-03-01", "Ext": "S1"},
	}

	r := NewReconciler()
	delta, effects, err := r.AnalyzeOrders(context.Background(), rows, orderMapping(), snap)
	require.NoError(t, err)

	require.Len(t, delta.Issues, 1)
	assert.Equal(t, "R1", delta.Issues[0].Key)
	require.Contains(t, delta.New, "R2")
	assert.Equal(t, "2024-03-01", effects.Schools["S1"][FieldLicenseExpires])
}

func TestAnalyzeOrdersExistingOrderNoSideEffects(t *testing.T) {
	payer := models.NewMember()
	payer.MemberID = "US100"
	snap := snapshotWith(payer)
	o := models.NewOrder()
	o.ReferenceNumber = "R1"
	o.PaidFor = "Membership Dues"
	o.DatePaid = "2023-06-01"
	o.ExternalID = "US100"
	snap.Orders["R1"] = o

	rows := []map[string]string{
		{"Ref": "R1", "Item": "Membership Dues", "Paid": "2023-06-01", "Ext": "US100"},
	}

	r := NewReconciler()
	delta, effects, err := r.AnalyzeOrders(context.Background(), rows, orderMapping(), snap)
	require.NoError(t, err)

	// Renewal math is not idempotent; a re-imported order must not bump
	// the expiry again.
	require.Len(t, delta.Unchanged, 1)
	assert.Empty(t, effects.Members)
}
