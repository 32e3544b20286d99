package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"memberdir/internal/directory/models"
	"memberdir/pkg/platform/sentinel"
)

// Schema creates the document tables. Each collection is a key plus a JSONB
// document; business-key lookups go through JSONB expressions and the
// indexes below.
const Schema = `
CREATE TABLE IF NOT EXISTS members (
	key TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS members_member_id ON members ((lower(doc->>'memberId')));
CREATE INDEX IF NOT EXISTS members_instructor_id ON members ((doc->>'instructorId'));
CREATE INDEX IF NOT EXISTS members_emails ON members USING GIN ((doc->'emails'));

CREATE TABLE IF NOT EXISTS schools (
	key TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS schools_school_id ON schools ((lower(doc->>'schoolId')));

CREATE TABLE IF NOT EXISTS gradings (
	key TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	key TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_reference ON orders ((doc->>'referenceNumber'));

CREATE TABLE IF NOT EXISTS instructor_profiles (
	member_key TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS school_members (
	school_id TEXT NOT NULL,
	member_key TEXT NOT NULL,
	doc JSONB NOT NULL,
	PRIMARY KEY (school_id, member_key)
);

CREATE TABLE IF NOT EXISTS rosters (
	instructor_key TEXT NOT NULL,
	student_key TEXT NOT NULL,
	doc JSONB NOT NULL,
	PRIMARY KEY (instructor_key, student_key)
);

CREATE TABLE IF NOT EXISTS grading_mirrors (
	owner_key TEXT NOT NULL,
	grading_key TEXT NOT NULL,
	doc JSONB NOT NULL,
	PRIMARY KEY (owner_key, grading_key)
);

CREATE TABLE IF NOT EXISTS member_quarantine (
	id BIGSERIAL PRIMARY KEY,
	original_key TEXT NOT NULL,
	reason TEXT NOT NULL,
	doc JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS email_index (
	email TEXT PRIMARY KEY,
	member_id TEXT NOT NULL,
	instructor_id TEXT NOT NULL DEFAULT '',
	position BIGSERIAL
);
`

// EnsureSchema applies the schema; safe to run repeatedly.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply directory schema: %w", err)
	}
	return nil
}

// Postgres implements the directory ports over Postgres JSONB documents.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs the Postgres-backed directory store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func upsertDoc(ctx context.Context, db *sql.DB, table, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s doc: %w", table, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (key, doc) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc
	`, table)
	if _, err := db.ExecContext(ctx, query, key, payload); err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, key, err)
	}
	return nil
}

func getDoc(ctx context.Context, db *sql.DB, table, key string, out any) error {
	var payload []byte
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE key = $1`, table)
	err := db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("get %s %s: %w", table, key, err)
	}
	return json.Unmarshal(payload, out)
}

func deleteDoc(ctx context.Context, db *sql.DB, table, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table)
	if _, err := db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, key, err)
	}
	return nil
}

func queryMembers(ctx context.Context, db *sql.DB, query string, args ...any) ([]*models.Member, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []*models.Member
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m := models.NewMember()
		if err := json.Unmarshal(payload, m); err != nil {
			return nil, fmt.Errorf("decode member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- MemberStore ---

func (p *Postgres) Get(ctx context.Context, key string) (*models.Member, error) {
	m := models.NewMember()
	if err := getDoc(ctx, p.db, "members", key, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Postgres) FindByMemberID(ctx context.Context, memberID string) (*models.Member, error) {
	found, err := queryMembers(ctx, p.db,
		`SELECT doc FROM members WHERE lower(doc->>'memberId') = lower($1) AND doc->>'memberId' <> '' LIMIT 1`,
		memberID)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return found[0], nil
}

func (p *Postgres) FindByInstructorID(ctx context.Context, instructorID string) (*models.Member, error) {
	if instructorID == "" {
		return nil, sentinel.ErrNotFound
	}
	found, err := queryMembers(ctx, p.db,
		`SELECT doc FROM members WHERE doc->>'instructorId' = $1 LIMIT 1`, instructorID)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return found[0], nil
}

func (p *Postgres) FindByEmail(ctx context.Context, email string) ([]*models.Member, error) {
	lowered := strings.ToLower(strings.TrimSpace(email))
	return queryMembers(ctx, p.db,
		`SELECT doc FROM members WHERE doc->'emails' ? $1 ORDER BY key`, lowered)
}

func (p *Postgres) Upsert(ctx context.Context, m *models.Member) error {
	return upsertDoc(ctx, p.db, "members", m.ID, m)
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	return deleteDoc(ctx, p.db, "members", key)
}

func (p *Postgres) List(ctx context.Context) ([]*models.Member, error) {
	return queryMembers(ctx, p.db, `SELECT doc FROM members ORDER BY key`)
}

// --- views, mirroring the InMemory accessor shape ---

func (p *Postgres) Schools() SchoolStore                   { return &pgSchools{db: p.db} }
func (p *Postgres) Gradings() GradingStore                 { return &pgGradings{db: p.db} }
func (p *Postgres) Orders() OrderStore                     { return &pgOrders{db: p.db} }
func (p *Postgres) Profiles() ProfileStore                 { return &pgProfiles{db: p.db} }
func (p *Postgres) SchoolMembers() SchoolMemberMirrorStore { return &pgSchoolMembers{db: p.db} }
func (p *Postgres) Rosters() RosterMirrorStore             { return &pgRosters{db: p.db} }
func (p *Postgres) GradingMirrors() GradingMirrorStore     { return &pgGradingMirrors{db: p.db} }
func (p *Postgres) Quarantine() QuarantineStore            { return &pgQuarantine{db: p.db} }
func (p *Postgres) Emails() EmailIndex                     { return &pgEmails{db: p.db} }

type pgSchools struct{ db *sql.DB }

func (s *pgSchools) Get(ctx context.Context, key string) (*models.School, error) {
	sc := models.NewSchool()
	if err := getDoc(ctx, s.db, "schools", key, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *pgSchools) FindBySchoolID(ctx context.Context, schoolID string) (*models.School, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM schools WHERE lower(doc->>'schoolId') = lower($1) AND doc->>'schoolId' <> '' LIMIT 1`,
		schoolID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find school %s: %w", schoolID, err)
	}
	sc := models.NewSchool()
	if err := json.Unmarshal(payload, sc); err != nil {
		return nil, fmt.Errorf("decode school: %w", err)
	}
	return sc, nil
}

func (s *pgSchools) Upsert(ctx context.Context, sc *models.School) error {
	return upsertDoc(ctx, s.db, "schools", sc.ID, sc)
}

func (s *pgSchools) Delete(ctx context.Context, key string) error {
	return deleteDoc(ctx, s.db, "schools", key)
}

func (s *pgSchools) List(ctx context.Context) ([]*models.School, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM schools ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	defer rows.Close()
	var out []*models.School
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		sc := models.NewSchool()
		if err := json.Unmarshal(payload, sc); err != nil {
			return nil, fmt.Errorf("decode school: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

type pgGradings struct{ db *sql.DB }

func (s *pgGradings) Get(ctx context.Context, key string) (*models.Grading, error) {
	g := models.NewGrading()
	if err := getDoc(ctx, s.db, "gradings", key, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *pgGradings) Upsert(ctx context.Context, g *models.Grading) error {
	return upsertDoc(ctx, s.db, "gradings", g.ID, g)
}

func (s *pgGradings) Delete(ctx context.Context, key string) error {
	return deleteDoc(ctx, s.db, "gradings", key)
}

func (s *pgGradings) List(ctx context.Context) ([]*models.Grading, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM gradings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list gradings: %w", err)
	}
	defer rows.Close()
	var out []*models.Grading
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		g := models.NewGrading()
		if err := json.Unmarshal(payload, g); err != nil {
			return nil, fmt.Errorf("decode grading: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type pgOrders struct{ db *sql.DB }

func (s *pgOrders) Get(ctx context.Context, key string) (*models.Order, error) {
	o := models.NewOrder()
	if err := getDoc(ctx, s.db, "orders", key, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *pgOrders) FindByReference(ctx context.Context, referenceNumber string) (*models.Order, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM orders WHERE doc->>'referenceNumber' = $1 LIMIT 1`,
		referenceNumber).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find order %s: %w", referenceNumber, err)
	}
	o := models.NewOrder()
	if err := json.Unmarshal(payload, o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return o, nil
}

func (s *pgOrders) Upsert(ctx context.Context, o *models.Order) error {
	return upsertDoc(ctx, s.db, "orders", o.ID, o)
}

func (s *pgOrders) List(ctx context.Context) ([]*models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM orders ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	var out []*models.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		o := models.NewOrder()
		if err := json.Unmarshal(payload, o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type pgProfiles struct{ db *sql.DB }

func (s *pgProfiles) Get(ctx context.Context, memberKey string) (*models.InstructorProfile, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM instructor_profiles WHERE member_key = $1`, memberKey).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get profile %s: %w", memberKey, err)
	}
	var p models.InstructorProfile
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (s *pgProfiles) Upsert(ctx context.Context, p *models.InstructorProfile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instructor_profiles (member_key, doc) VALUES ($1, $2)
		ON CONFLICT (member_key) DO UPDATE SET doc = EXCLUDED.doc
	`, p.MemberKey, payload)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.MemberKey, err)
	}
	return nil
}

func (s *pgProfiles) Delete(ctx context.Context, memberKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM instructor_profiles WHERE member_key = $1`, memberKey); err != nil {
		return fmt.Errorf("delete profile %s: %w", memberKey, err)
	}
	return nil
}

func (s *pgProfiles) List(ctx context.Context) ([]*models.InstructorProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM instructor_profiles ORDER BY member_key`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()
	var out []*models.InstructorProfile
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p models.InstructorProfile
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

type pgSchoolMembers struct{ db *sql.DB }

func (s *pgSchoolMembers) Upsert(ctx context.Context, schoolID string, m *models.Member) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal school member: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO school_members (school_id, member_key, doc) VALUES ($1, $2, $3)
		ON CONFLICT (school_id, member_key) DO UPDATE SET doc = EXCLUDED.doc
	`, schoolID, m.ID, payload)
	if err != nil {
		return fmt.Errorf("upsert school member %s/%s: %w", schoolID, m.ID, err)
	}
	return nil
}

func (s *pgSchoolMembers) Delete(ctx context.Context, schoolID, memberKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM school_members WHERE school_id = $1 AND member_key = $2`,
		schoolID, memberKey); err != nil {
		return fmt.Errorf("delete school member %s/%s: %w", schoolID, memberKey, err)
	}
	return nil
}

func (s *pgSchoolMembers) List(ctx context.Context, schoolID string) ([]*models.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM school_members WHERE school_id = $1 ORDER BY member_key`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("list school members %s: %w", schoolID, err)
	}
	defer rows.Close()
	var out []*models.Member
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		m := models.NewMember()
		if err := json.Unmarshal(payload, m); err != nil {
			return nil, fmt.Errorf("decode school member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type pgRosters struct{ db *sql.DB }

func (s *pgRosters) Upsert(ctx context.Context, e *models.RosterEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal roster entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rosters (instructor_key, student_key, doc) VALUES ($1, $2, $3)
		ON CONFLICT (instructor_key, student_key) DO UPDATE SET doc = EXCLUDED.doc
	`, e.InstructorKey, e.StudentKey, payload)
	if err != nil {
		return fmt.Errorf("upsert roster %s/%s: %w", e.InstructorKey, e.StudentKey, err)
	}
	return nil
}

func (s *pgRosters) Delete(ctx context.Context, instructorKey, studentKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rosters WHERE instructor_key = $1 AND student_key = $2`,
		instructorKey, studentKey); err != nil {
		return fmt.Errorf("delete roster %s/%s: %w", instructorKey, studentKey, err)
	}
	return nil
}

func (s *pgRosters) List(ctx context.Context, instructorKey string) ([]*models.RosterEntry, error) {
	return s.scan(ctx,
		`SELECT doc FROM rosters WHERE instructor_key = $1 ORDER BY student_key`, instructorKey)
}

func (s *pgRosters) ListAll(ctx context.Context) ([]*models.RosterEntry, error) {
	return s.scan(ctx, `SELECT doc FROM rosters ORDER BY instructor_key, student_key`)
}

func (s *pgRosters) scan(ctx context.Context, query string, args ...any) ([]*models.RosterEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rosters: %w", err)
	}
	defer rows.Close()
	var out []*models.RosterEntry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e models.RosterEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode roster entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

type pgGradingMirrors struct{ db *sql.DB }

func (s *pgGradingMirrors) Upsert(ctx context.Context, ownerKey string, g *models.Grading) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal grading mirror: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grading_mirrors (owner_key, grading_key, doc) VALUES ($1, $2, $3)
		ON CONFLICT (owner_key, grading_key) DO UPDATE SET doc = EXCLUDED.doc
	`, ownerKey, g.ID, payload)
	if err != nil {
		return fmt.Errorf("upsert grading mirror %s/%s: %w", ownerKey, g.ID, err)
	}
	return nil
}

func (s *pgGradingMirrors) Delete(ctx context.Context, ownerKey, gradingKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM grading_mirrors WHERE owner_key = $1 AND grading_key = $2`,
		ownerKey, gradingKey); err != nil {
		return fmt.Errorf("delete grading mirror %s/%s: %w", ownerKey, gradingKey, err)
	}
	return nil
}

func (s *pgGradingMirrors) List(ctx context.Context, ownerKey string) ([]*models.Grading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM grading_mirrors WHERE owner_key = $1 ORDER BY grading_key`, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("list grading mirrors %s: %w", ownerKey, err)
	}
	defer rows.Close()
	var out []*models.Grading
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		g := models.NewGrading()
		if err := json.Unmarshal(payload, g); err != nil {
			return nil, fmt.Errorf("decode grading mirror: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type pgQuarantine struct{ db *sql.DB }

func (s *pgQuarantine) Add(ctx context.Context, q *models.QuarantinedMember) error {
	payload, err := json.Marshal(q.Member)
	if err != nil {
		return fmt.Errorf("marshal quarantined member: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO member_quarantine (original_key, reason, doc) VALUES ($1, $2, $3)
	`, q.Key, q.Reason, payload)
	if err != nil {
		return fmt.Errorf("quarantine member %s: %w", q.Key, err)
	}
	return nil
}

func (s *pgQuarantine) List(ctx context.Context) ([]*models.QuarantinedMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT original_key, reason, doc FROM member_quarantine ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	defer rows.Close()
	var out []*models.QuarantinedMember
	for rows.Next() {
		var (
			key     string
			reason  string
			payload []byte
		)
		if err := rows.Scan(&key, &reason, &payload); err != nil {
			return nil, err
		}
		m := models.NewMember()
		if err := json.Unmarshal(payload, m); err != nil {
			return nil, fmt.Errorf("decode quarantined member: %w", err)
		}
		out = append(out, &models.QuarantinedMember{Key: key, Reason: reason, Member: m})
	}
	return out, rows.Err()
}

type pgEmails struct{ db *sql.DB }

func (s *pgEmails) Put(ctx context.Context, email string, ref EmailRef) error {
	lowered := strings.ToLower(strings.TrimSpace(email))
	if lowered == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_index (email, member_id, instructor_id) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			member_id = EXCLUDED.member_id,
			instructor_id = EXCLUDED.instructor_id
	`, lowered, ref.MemberID, ref.InstructorID)
	if err != nil {
		return fmt.Errorf("index email %s: %w", lowered, err)
	}
	return nil
}

func (s *pgEmails) Lookup(ctx context.Context, email string) (*EmailRef, error) {
	lowered := strings.ToLower(strings.TrimSpace(email))
	var ref EmailRef
	err := s.db.QueryRowContext(ctx,
		`SELECT member_id, instructor_id FROM email_index WHERE email = $1`,
		lowered).Scan(&ref.MemberID, &ref.InstructorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lookup email %s: %w", lowered, err)
	}
	return &ref, nil
}

func (s *pgEmails) Remove(ctx context.Context, email string) error {
	lowered := strings.ToLower(strings.TrimSpace(email))
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM email_index WHERE email = $1`, lowered); err != nil {
		return fmt.Errorf("remove email %s: %w", lowered, err)
	}
	return nil
}

func (s *pgEmails) EmailsForMember(ctx context.Context, memberID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM email_index WHERE lower(member_id) = lower($1) ORDER BY position`,
		memberID)
	if err != nil {
		return nil, fmt.Errorf("emails for member %s: %w", memberID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}
