// Package store defines the repository ports for the directory and its
// mirrors, plus their in-memory and Postgres implementations.
//
// Every port operates on single documents with idempotent upsert/delete
// semantics; only the counter store (internal/counter) needs transactions.
// Implementations return sentinel.ErrNotFound for missing documents; services
// translate that into coded domain errors.
package store

import (
	"context"

	"memberdir/internal/directory/models"
)

// MemberStore is the port for authoritative member documents, keyed by
// surrogate storage key.
type MemberStore interface {
	Get(ctx context.Context, key string) (*models.Member, error)
	FindByMemberID(ctx context.Context, memberID string) (*models.Member, error)
	FindByInstructorID(ctx context.Context, instructorID string) (*models.Member, error)
	FindByEmail(ctx context.Context, email string) ([]*models.Member, error)
	Upsert(ctx context.Context, m *models.Member) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*models.Member, error)
}

// SchoolStore is the port for authoritative school documents.
type SchoolStore interface {
	Get(ctx context.Context, key string) (*models.School, error)
	FindBySchoolID(ctx context.Context, schoolID string) (*models.School, error)
	Upsert(ctx context.Context, s *models.School) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*models.School, error)
}

// GradingStore is the port for authoritative grading documents.
type GradingStore interface {
	Get(ctx context.Context, key string) (*models.Grading, error)
	Upsert(ctx context.Context, g *models.Grading) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*models.Grading, error)
}

// OrderStore is the port for order documents.
type OrderStore interface {
	Get(ctx context.Context, key string) (*models.Order, error)
	FindByReference(ctx context.Context, referenceNumber string) (*models.Order, error)
	Upsert(ctx context.Context, o *models.Order) error
	List(ctx context.Context) ([]*models.Order, error)
}

// ProfileStore is the port for the instructor public profile mirror, keyed by
// the member's storage key.
type ProfileStore interface {
	Get(ctx context.Context, memberKey string) (*models.InstructorProfile, error)
	Upsert(ctx context.Context, p *models.InstructorProfile) error
	Delete(ctx context.Context, memberKey string) error
	List(ctx context.Context) ([]*models.InstructorProfile, error)
}

// SchoolMemberMirrorStore is the port for each school's member sub-list,
// keyed by (school business key, member storage key).
type SchoolMemberMirrorStore interface {
	Upsert(ctx context.Context, schoolID string, m *models.Member) error
	Delete(ctx context.Context, schoolID, memberKey string) error
	List(ctx context.Context, schoolID string) ([]*models.Member, error)
}

// RosterMirrorStore is the port for instructor rosters, keyed by
// (instructor storage key, student storage key).
type RosterMirrorStore interface {
	Upsert(ctx context.Context, e *models.RosterEntry) error
	Delete(ctx context.Context, instructorKey, studentKey string) error
	List(ctx context.Context, instructorKey string) ([]*models.RosterEntry, error)
	ListAll(ctx context.Context) ([]*models.RosterEntry, error)
}

// GradingMirrorStore is the port for grading mirrors fanned out under
// instructor and school owners, keyed by (owner storage key, grading key).
type GradingMirrorStore interface {
	Upsert(ctx context.Context, ownerKey string, g *models.Grading) error
	Delete(ctx context.Context, ownerKey, gradingKey string) error
	List(ctx context.Context, ownerKey string) ([]*models.Grading, error)
}

// QuarantineStore preserves member documents removed by repair sweeps.
type QuarantineStore interface {
	Add(ctx context.Context, q *models.QuarantinedMember) error
	List(ctx context.Context) ([]*models.QuarantinedMember, error)
}

// EmailRef is what the email reverse index maps an account email to.
type EmailRef struct {
	MemberID     string `json:"memberId"`     // member business key
	InstructorID string `json:"instructorId"` // instructor business key, may be empty
}

// EmailIndex is the ACL-style reverse index from account email to directory
// identities. The school email projection reads it; the directory service
// maintains it on member writes.
type EmailIndex interface {
	Put(ctx context.Context, email string, ref EmailRef) error
	Lookup(ctx context.Context, email string) (*EmailRef, error)
	Remove(ctx context.Context, email string) error
	// EmailsForMember lists the account emails currently mapped to a member
	// business key, in insertion order where the backend preserves it.
	EmailsForMember(ctx context.Context, memberID string) ([]string, error)
}
