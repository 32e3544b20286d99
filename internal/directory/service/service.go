// Package service is the authoritative write path of the directory.
//
// Every mutation runs the same sequence: validate, write the document, keep
// the email index in step, ratchet the ID counters, then hand the
// (previous, current) pair to the mirror engine. The import commit phase
// writes through this service so imported documents derive their mirrors
// exactly like live edits do.
package service

import (
	"log/slog"

	"memberdir/internal/audit"
	"memberdir/internal/counter"
	"memberdir/internal/directory/store"
	"memberdir/internal/mirror"
	"memberdir/internal/platform/metrics"
)

// Service orchestrates directory writes.
type Service struct {
	members  store.MemberStore
	schools  store.SchoolStore
	gradings store.GradingStore
	orders   store.OrderStore
	emails   store.EmailIndex
	counters *counter.Service
	engine   *mirror.Engine

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.Publisher
}

// Option configures a Service.
type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAudit(p audit.Publisher) Option {
	return func(s *Service) { s.audit = p }
}

// New constructs the directory service.
func New(
	members store.MemberStore,
	schools store.SchoolStore,
	gradings store.GradingStore,
	orders store.OrderStore,
	emails store.EmailIndex,
	counters *counter.Service,
	engine *mirror.Engine,
	opts ...Option,
) *Service {
	s := &Service{
		members:  members,
		schools:  schools,
		gradings: gradings,
		orders:   orders,
		emails:   emails,
		counters: counters,
		engine:   engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
