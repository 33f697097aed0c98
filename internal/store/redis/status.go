package redis

import (
	"context"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
)

// SaveStatus records the last reported workload status.
func (s *Store) SaveStatus(ctx context.Context, st domain.Status) error {
	return s.SetJSON(ctx, KeyStatus, st)
}

// GetStatus returns the last recorded status, or the zero Status if none was saved.
func (s *Store) GetStatus(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	if _, err := s.GetJSON(ctx, KeyStatus, &st); err != nil {
		return domain.Status{}, err
	}
	return st, nil
}
