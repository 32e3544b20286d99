package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the directory engine.
type Metrics struct {
	MembersWritten     prometheus.Counter
	SchoolsWritten     prometheus.Counter
	MirrorWrites       *prometheus.CounterVec // kind: school_members|instructor_profile|roster|grading|school_emails
	MirrorSkips        *prometheus.CounterVec // reason: unresolved_sifu|missing_school
	CounterAllocations *prometheus.CounterVec // kind: member|instructor|school
	CounterRatchets    prometheus.Counter
	ImportRows         *prometheus.CounterVec // result: new|update|unchanged|issue
	ImportWriteErrors  prometheus.Counter
	RepairFixes        *prometheus.CounterVec // sweep: rekey|profiles|rosters|quarantine
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		MembersWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "memberdir_members_written_total",
			Help: "Total member documents written through the directory service",
		}),
		SchoolsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "memberdir_schools_written_total",
			Help: "Total school documents written through the directory service",
		}),
		MirrorWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "memberdir_mirror_writes_total",
			Help: "Mirror upserts and deletes by mirror kind",
		}, []string{"kind"}),
		MirrorSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "memberdir_mirror_skips_total",
			Help: "Mirror updates skipped because a reference did not resolve",
		}, []string{"reason"}),
		CounterAllocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "memberdir_counter_allocations_total",
			Help: "IDs issued by the counter store by counter kind",
		}, []string{"kind"}),
		CounterRatchets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "memberdir_counter_ratchets_total",
			Help: "EnsureAtLeast invocations that advanced at least one counter",
		}),
		ImportRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "memberdir_import_rows_total",
			Help: "Import rows analyzed by classification result",
		}, []string{"result"}),
		ImportWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "memberdir_import_write_errors_total",
			Help: "Per-item failures during import commit (batch continues)",
		}),
		RepairFixes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "memberdir_repair_fixes_total",
			Help: "Documents fixed by directory repair sweeps",
		}, []string{"sweep"}),
	}
}
