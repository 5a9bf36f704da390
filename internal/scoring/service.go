package scoring

import (
	"context"
	"log/slog"
)

type Repository interface {
	Get(ctx context.Context) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Active returns the stored profile, falling back to the default when
// the store is unreachable so retrieval keeps working.
func (s *Service) Active(ctx context.Context) Profile {
	p, err := s.repo.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "falling back to default scoring profile", "error", err)
		return Default()
	}
	return *p
}

func (s *Service) Get(ctx context.Context) (*Profile, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, p *Profile) error {
	return s.repo.Update(ctx, p)
}
