package importer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"memberdir/internal/counter"
	"memberdir/internal/directory/models"
	"memberdir/internal/platform/metrics"
)

// commitConcurrency bounds in-flight writes within one commit phase. Writes
// are independent idempotent upserts so they may run in parallel, but the
// phases themselves stay ordered.
const commitConcurrency = 4

// Directory is the authoritative write path the commit phase replays a delta
// through. Writing through the service keeps the mirrors in step with every
// imported document.
type Directory interface {
	SaveMember(ctx context.Context, m *models.Member) error
	SaveSchool(ctx context.Context, s *models.School) error
	SaveOrder(ctx context.Context, o *models.Order) error
	FindMemberByMemberID(ctx context.Context, memberID string) (*models.Member, error)
	FindSchoolBySchoolID(ctx context.Context, schoolID string) (*models.School, error)
}

// Ratchet keeps the ID counters ahead of imported data.
type Ratchet interface {
	EnsureAtLeast(ctx context.Context, obs counter.Observed) error
}

// Progress reports incremental commit liveness as current/total.
type Progress func(current, total int)

// Result summarizes one commit run. Failed carries the business keys whose
// writes errored; the run continues past them and a re-run of the same
// import retries exactly those.
type Result struct {
	Written int      `json:"written"`
	Failed  []string `json:"failed,omitempty"`
}

// Committer writes approved deltas into the directory.
type Committer struct {
	directory Directory
	counters  Ratchet
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// CommitterOption configures a Committer.
type CommitterOption func(c *Committer)

func WithCommitLogger(logger *slog.Logger) CommitterOption {
	return func(c *Committer) { c.logger = logger }
}

func WithCommitMetrics(m *metrics.Metrics) CommitterOption {
	return func(c *Committer) { c.metrics = m }
}

// NewCommitter constructs a Committer over the directory write path.
func NewCommitter(directory Directory, counters Ratchet, opts ...CommitterOption) *Committer {
	c := &Committer{directory: directory, counters: counters}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CommitMembers writes a member delta: new entries first, then updates. Each
// write is attempted independently; failures are recorded and the batch
// continues. Counters are ratcheted over every written ID afterwards so a
// later NextMemberID can never reissue an imported number.
func (c *Committer) CommitMembers(ctx context.Context, delta *Delta[models.Member], progress Progress) *Result {
	run := newCommitRun(len(delta.New)+len(delta.Updates), progress, c.logger, c.metrics)

	phase := newPhase(ctx)
	for _, key := range delta.NewKeys() {
		change := delta.New[key]
		phase.Go(func() error {
			run.attempt(ctx, change.Key, func() error {
				return c.directory.SaveMember(ctx, change.Candidate)
			})
			return nil
		})
	}
	_ = phase.Wait()

	phase = newPhase(ctx)
	for _, change := range delta.Updates {
		phase.Go(func() error {
			run.attempt(ctx, change.Key, func() error {
				return c.directory.SaveMember(ctx, change.Candidate)
			})
			return nil
		})
	}
	_ = phase.Wait()

	c.ratchetMembers(ctx, delta, run)
	return run.result()
}

// CommitSchools writes a school delta, new then updates.
func (c *Committer) CommitSchools(ctx context.Context, delta *Delta[models.School], progress Progress) *Result {
	run := newCommitRun(len(delta.New)+len(delta.Updates), progress, c.logger, c.metrics)

	phase := newPhase(ctx)
	for _, key := range delta.NewKeys() {
		change := delta.New[key]
		phase.Go(func() error {
			run.attempt(ctx, change.Key, func() error {
				return c.directory.SaveSchool(ctx, change.Candidate)
			})
			return nil
		})
	}
	_ = phase.Wait()

	phase = newPhase(ctx)
	for _, change := range delta.Updates {
		phase.Go(func() error {
			run.attempt(ctx, change.Key, func() error {
				return c.directory.SaveSchool(ctx, change.Candidate)
			})
			return nil
		})
	}
	_ = phase.Wait()

	return run.result()
}

// CommitOrders writes an order delta and then applies the accumulated
// Member/School side-effect patches, in that order. Patches read the current
// document through the directory so concurrent edits since analysis are not
// clobbered wholesale.
func (c *Committer) CommitOrders(ctx context.Context, delta *Delta[models.Order], effects *SideEffects, progress Progress) *Result {
	total := len(delta.New) + len(delta.Updates)
	if effects != nil {
		total += len(effects.Members) + len(effects.Schools)
	}
	run := newCommitRun(total, progress, c.logger, c.metrics)

	phase := newPhase(ctx)
	for _, key := range delta.NewKeys() {
		change := delta.New[key]
		phase.Go(func() error {
			run.attempt(ctx, change.Key, func() error {
				return c.directory.SaveOrder(ctx, change.Candidate)
			})
			return nil
		})
	}
	_ = phase.Wait()

	phase = newPhase(ctx)
	for _, change := range delta.Updates {
		phase.Go(func() error {
			run.attempt(ctx, change.Key, func() error {
				return c.directory.SaveOrder(ctx, change.Candidate)
			})
			return nil
		})
	}
	_ = phase.Wait()

	if effects != nil {
		c.applyMemberPatches(ctx, effects, run)
		c.applySchoolPatches(ctx, effects, run)
	}
	return run.result()
}

func (c *Committer) applyMemberPatches(ctx context.Context, effects *SideEffects, run *commitRun) {
	for _, memberID := range sortedKeys(effects.Members) {
		fields := effects.Members[memberID]
		run.attempt(ctx, memberID, func() error {
			m, err := c.directory.FindMemberByMemberID(ctx, memberID)
			if err != nil {
				return err
			}
			applyMemberFields(m, fields)
			return c.directory.SaveMember(ctx, m)
		})
	}
}

func (c *Committer) applySchoolPatches(ctx context.Context, effects *SideEffects, run *commitRun) {
	for _, schoolID := range sortedKeys(effects.Schools) {
		fields := effects.Schools[schoolID]
		run.attempt(ctx, schoolID, func() error {
			s, err := c.directory.FindSchoolBySchoolID(ctx, schoolID)
			if err != nil {
				return err
			}
			applySchoolFields(s, fields)
			return c.directory.SaveSchool(ctx, s)
		})
	}
}

func applyMemberFields(m *models.Member, fields map[string]string) {
	for field, value := range fields {
		switch field {
		case FieldMembershipExpires:
			m.CurrentMembershipExpires = value
		case FieldLastRenewalDate:
			m.LastRenewalDate = value
		case FieldInstructorLicenseExpires:
			m.InstructorLicenseExpires = value
		}
	}
}

func applySchoolFields(s *models.School, fields map[string]string) {
	for field, value := range fields {
		switch field {
		case FieldLicenseExpires:
			s.LicenseExpires = value
		case FieldLastRenewalDate:
			s.LastRenewalDate = value
		}
	}
}

// ratchetMembers folds every successfully written ID into one observation
// per country plus one instructor observation, then ratchets the counters.
// Folding first keeps the number of serializable transactions independent of
// batch size.
func (c *Committer) ratchetMembers(ctx context.Context, delta *Delta[models.Member], run *commitRun) {
	maxByCountry := make(map[string]int)
	maxInstructor := 0
	collect := func(m *models.Member) {
		obs := counter.ExtractFromMember(m.MemberID, m.InstructorID)
		if obs.HasMemberNumber && obs.MemberNumber > maxByCountry[obs.CountryCode] {
			maxByCountry[obs.CountryCode] = obs.MemberNumber
		}
		if obs.HasInstructorNumber && obs.InstructorNumber > maxInstructor {
			maxInstructor = obs.InstructorNumber
		}
	}
	for _, key := range delta.NewKeys() {
		if !run.failed(key) {
			collect(delta.New[key].Candidate)
		}
	}
	for _, change := range delta.Updates {
		if !run.failed(change.Key) {
			collect(change.Candidate)
		}
	}

	for _, cc := range sortedKeys(maxByCountry) {
		obs := counter.Observed{CountryCode: cc, MemberNumber: maxByCountry[cc], HasMemberNumber: true}
		if err := c.counters.EnsureAtLeast(ctx, obs); err != nil && c.logger != nil {
			c.logger.ErrorContext(ctx, "counter ratchet failed", "country", cc, "error", err)
		}
	}
	if maxInstructor > 0 {
		obs := counter.Observed{InstructorNumber: maxInstructor, HasInstructorNumber: true}
		if err := c.counters.EnsureAtLeast(ctx, obs); err != nil && c.logger != nil {
			c.logger.ErrorContext(ctx, "counter ratchet failed", "kind", "instructor", "error", err)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newPhase(ctx context.Context) *errgroup.Group {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(commitConcurrency)
	return g
}

// commitRun tracks progress and per-item failures across the phases of one
// commit.
type commitRun struct {
	total    int
	done     atomic.Int64
	progress Progress
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex
	written    int
	failedKeys []string
	failedSet  map[string]struct{}
}

func newCommitRun(total int, progress Progress, logger *slog.Logger, m *metrics.Metrics) *commitRun {
	return &commitRun{
		total:     total,
		progress:  progress,
		logger:    logger,
		metrics:   m,
		failedSet: make(map[string]struct{}),
	}
}

func (r *commitRun) attempt(ctx context.Context, key string, write func() error) {
	err := write()
	r.mu.Lock()
	if err != nil {
		r.failedKeys = append(r.failedKeys, key)
		r.failedSet[key] = struct{}{}
	} else {
		r.written++
	}
	r.mu.Unlock()
	if err != nil {
		if r.metrics != nil {
			r.metrics.ImportWriteErrors.Inc()
		}
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "import write failed", "key", key, "error", err)
		}
	}
	if r.progress != nil {
		r.progress(int(r.done.Add(1)), r.total)
	}
}

func (r *commitRun) failed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.failedSet[key]
	return ok
}

func (r *commitRun) result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	failed := append([]string(nil), r.failedKeys...)
	sort.Strings(failed)
	return &Result{Written: r.written, Failed: failed}
}
