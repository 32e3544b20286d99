package importer

import (
	"context"

	"memberdir/internal/directory/models"
	"memberdir/internal/directory/store"
)

// Service bundles analysis and commit over the live directory. Analyze reads
// a fresh snapshot and classifies; Commit re-analyzes and replays the delta
// through the directory write path, so the two calls can arrive in separate
// requests without any server-side delta state.
type Service struct {
	members store.MemberStore
	schools store.SchoolStore
	orders  store.OrderStore

	reconciler *Reconciler
	committer  *Committer
}

// NewService constructs an import service over the directory stores.
func NewService(
	members store.MemberStore,
	schools store.SchoolStore,
	orders store.OrderStore,
	reconciler *Reconciler,
	committer *Committer,
) *Service {
	return &Service{
		members:    members,
		schools:    schools,
		orders:     orders,
		reconciler: reconciler,
		committer:  committer,
	}
}

func (s *Service) snapshot(ctx context.Context) (*Snapshot, error) {
	return BuildSnapshot(ctx, s.members, s.schools, s.orders)
}

// AnalyzeMembers classifies member rows against the current directory.
func (s *Service) AnalyzeMembers(ctx context.Context, rows []map[string]string, mapping Mapping) (*Delta[models.Member], error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.reconciler.AnalyzeMembers(ctx, rows, mapping, snap)
}

// AnalyzeSchools classifies school rows against the current directory.
func (s *Service) AnalyzeSchools(ctx context.Context, rows []map[string]string, mapping Mapping) (*Delta[models.School], error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.reconciler.AnalyzeSchools(ctx, rows, mapping, snap)
}

// AnalyzeOrders classifies order rows and derives member/school side effects.
func (s *Service) AnalyzeOrders(ctx context.Context, rows []map[string]string, mapping Mapping) (*Delta[models.Order], *SideEffects, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s.reconciler.AnalyzeOrders(ctx, rows, mapping, snap)
}

// CommitMembers re-analyzes the batch and writes the resulting delta.
func (s *Service) CommitMembers(ctx context.Context, rows []map[string]string, mapping Mapping, progress Progress) (Counts, *Result, error) {
	delta, err := s.AnalyzeMembers(ctx, rows, mapping)
	if err != nil {
		return Counts{}, nil, err
	}
	return delta.Counts(), s.committer.CommitMembers(ctx, delta, progress), nil
}

// CommitSchools re-analyzes the batch and writes the resulting delta.
func (s *Service) CommitSchools(ctx context.Context, rows []map[string]string, mapping Mapping, progress Progress) (Counts, *Result, error) {
	delta, err := s.AnalyzeSchools(ctx, rows, mapping)
	if err != nil {
		return Counts{}, nil, err
	}
	return delta.Counts(), s.committer.CommitSchools(ctx, delta, progress), nil
}

// CommitOrders re-analyzes the batch, writes the order delta, and applies the
// accumulated member/school side effects.
func (s *Service) CommitOrders(ctx context.Context, rows []map[string]string, mapping Mapping, progress Progress) (Counts, *Result, error) {
	delta, effects, err := s.AnalyzeOrders(ctx, rows, mapping)
	if err != nil {
		return Counts{}, nil, err
	}
	return delta.Counts(), s.committer.CommitOrders(ctx, delta, effects, progress), nil
}
