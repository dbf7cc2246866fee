package cache

import (
	"context"
	"time"

	"pharmacy/backend/internal/domain"
)

// StatsCache holds dashboard aggregates per owner. A miss is (nil, false, nil).
type StatsCache interface {
	Get(ctx context.Context, owner domain.OwnerID) (*domain.DashboardStats, bool, error)
	Set(ctx context.Context, owner domain.OwnerID, value *domain.DashboardStats, ttl time.Duration) error
	Invalidate(ctx context.Context, owner domain.OwnerID) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ domain.OwnerID) (*domain.DashboardStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ domain.OwnerID, _ *domain.DashboardStats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context, _ domain.OwnerID) error {
	return nil
}

func statsKey(owner domain.OwnerID) string {
	return "pharmacy:dashboard:" + string(owner)
}
