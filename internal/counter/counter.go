// Package counter allocates the monotonically increasing numbers behind
// human-readable directory IDs, and ratchets them forward when imports carry
// manually-assigned IDs.
//
// All mutation happens inside serializable transactions against a singleton
// counters document; the storage layer retries optimistic conflicts and the
// operation fails as a whole once retries are exhausted, so counters are
// never left partially updated.
package counter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"memberdir/internal/platform/metrics"
	dErrors "memberdir/pkg/domain-errors"
)

// Floor is the default minimum any counter may issue from.
const Floor = 100

// Counters is the singleton counters document.
type Counters struct {
	MemberIDCounters    map[string]int `json:"memberIdCounters"` // by 2-letter country code
	InstructorIDCounter int            `json:"instructorIdCounter"`
	SchoolIDCounter     int            `json:"schoolIdCounter"`
}

// NewCounters returns an initialized counters document.
func NewCounters() *Counters {
	return &Counters{MemberIDCounters: make(map[string]int)}
}

// Store is the transactional port for the counters singleton. Mutate loads
// the document (creating a fresh one when absent), applies fn, and persists
// the result, all inside one serializable transaction.
type Store interface {
	Mutate(ctx context.Context, fn func(c *Counters) error) error
	Get(ctx context.Context) (*Counters, error)
}

var (
	countryCodeRe = regexp.MustCompile(`^[A-Za-z]{2}$`)
	memberIDRe    = regexp.MustCompile(`^([A-Za-z]{2})(\d+)$`)
	instructorRe  = regexp.MustCompile(`^(\d+)$`)
)

// Observed carries the counter-relevant numbers extracted from a member
// record. Absent observations contribute nothing.
type Observed struct {
	CountryCode         string
	MemberNumber        int
	HasMemberNumber     bool
	InstructorNumber    int
	HasInstructorNumber bool
}

// Empty reports whether the observation carries nothing to ratchet on.
func (o Observed) Empty() bool {
	return !o.HasMemberNumber && !o.HasInstructorNumber
}

// ExtractFromMember parses a member's business IDs into counter
// observations. Legacy or freeform IDs that don't match the canonical
// patterns are not an error; they simply contribute no observation.
func ExtractFromMember(memberID, instructorID string) Observed {
	var obs Observed
	if m := memberIDRe.FindStringSubmatch(strings.TrimSpace(memberID)); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			obs.CountryCode = strings.ToUpper(m[1])
			obs.MemberNumber = n
			obs.HasMemberNumber = true
		}
	}
	if m := instructorRe.FindStringSubmatch(strings.TrimSpace(instructorID)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			obs.InstructorNumber = n
			obs.HasInstructorNumber = true
		}
	}
	return obs
}

// NextValue computes what a counter must hold after seeing lastSeen:
// strictly greater than anything issued or observed, and never below the
// floor.
func NextValue(lastSeen, current, floor int) int {
	next := current
	if lastSeen+1 > next {
		next = lastSeen + 1
	}
	if floor > next {
		next = floor
	}
	return next
}

// Service allocates IDs and ratchets counters.
type Service struct {
	store   Store
	floor   int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithFloor overrides the default counter floor.
func WithFloor(floor int) Option {
	return func(s *Service) {
		if floor > 0 {
			s.floor = floor
		}
	}
}

// New constructs a counter Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, floor: Floor}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextMemberID issues the next member ID for a country, formatted
// "<CC><n>". The country code must be exactly two letters.
func (s *Service) NextMemberID(ctx context.Context, countryCode string) (string, error) {
	cc := strings.ToUpper(strings.TrimSpace(countryCode))
	if !countryCodeRe.MatchString(cc) {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "country code must be exactly 2 letters, got %q", countryCode)
	}

	var issued int
	err := s.store.Mutate(ctx, func(c *Counters) error {
		issued = NextValue(0, c.MemberIDCounters[cc], s.floor)
		c.MemberIDCounters[cc] = issued + 1
		return nil
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate member id")
	}
	s.countAllocation("member")
	return fmt.Sprintf("%s%d", cc, issued), nil
}

// NextInstructorID issues the next instructor number.
func (s *Service) NextInstructorID(ctx context.Context) (int, error) {
	n, err := s.nextScalar(ctx, func(c *Counters) *int { return &c.InstructorIDCounter })
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate instructor id")
	}
	s.countAllocation("instructor")
	return n, nil
}

// NextSchoolID issues the next school number.
func (s *Service) NextSchoolID(ctx context.Context) (int, error) {
	n, err := s.nextScalar(ctx, func(c *Counters) *int { return &c.SchoolIDCounter })
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate school id")
	}
	s.countAllocation("school")
	return n, nil
}

func (s *Service) nextScalar(ctx context.Context, field func(c *Counters) *int) (int, error) {
	var issued int
	err := s.store.Mutate(ctx, func(c *Counters) error {
		f := field(c)
		issued = NextValue(0, *f, s.floor)
		*f = issued + 1
		return nil
	})
	return issued, err
}

// EnsureAtLeast ratchets counters so no subsequent Next* call can reissue a
// number already present in the data. Idempotent: re-applying the same
// observation is a no-op.
func (s *Service) EnsureAtLeast(ctx context.Context, obs Observed) error {
	if obs.Empty() {
		return nil
	}
	advanced := false
	err := s.store.Mutate(ctx, func(c *Counters) error {
		if obs.HasMemberNumber {
			cc := strings.ToUpper(obs.CountryCode)
			if !countryCodeRe.MatchString(cc) {
				return dErrors.Newf(dErrors.CodeInvalidInput, "country code must be exactly 2 letters, got %q", obs.CountryCode)
			}
			next := NextValue(obs.MemberNumber, c.MemberIDCounters[cc], s.floor)
			if next != c.MemberIDCounters[cc] {
				c.MemberIDCounters[cc] = next
				advanced = true
			}
		}
		if obs.HasInstructorNumber {
			next := NextValue(obs.InstructorNumber, c.InstructorIDCounter, s.floor)
			if next != c.InstructorIDCounter {
				c.InstructorIDCounter = next
				advanced = true
			}
		}
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to ratchet counters")
	}
	if advanced {
		if s.metrics != nil {
			s.metrics.CounterRatchets.Inc()
		}
		if s.logger != nil {
			s.logger.DebugContext(ctx, "counters ratcheted",
				"country", obs.CountryCode,
				"member_number", obs.MemberNumber,
				"instructor_number", obs.InstructorNumber)
		}
	}
	return nil
}

func (s *Service) countAllocation(kind string) {
	if s.metrics != nil {
		s.metrics.CounterAllocations.WithLabelValues(kind).Inc()
	}
}
