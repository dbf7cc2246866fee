package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pharmacy/backend/internal/cache"
	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/xid"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	StatsTTL            time.Duration
	ExpiryWarning       time.Duration
	DefaultReorderLevel int
	Now                 func() time.Time
}

type Service struct {
	repo                store.Repository
	stats               cache.StatsCache
	statsTTL            time.Duration
	expiryWarning       time.Duration
	defaultReorderLevel int
	now                 func() time.Time
}

func New(repo store.Repository, stats cache.StatsCache, opts Options) *Service {
	if stats == nil {
		stats = cache.NoopStatsCache{}
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 30 * time.Second
	}
	if opts.ExpiryWarning <= 0 {
		opts.ExpiryWarning = 30 * 24 * time.Hour
	}
	if opts.DefaultReorderLevel < 0 {
		opts.DefaultReorderLevel = 0
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:                repo,
		stats:               stats,
		statsTTL:            opts.StatsTTL,
		expiryWarning:       opts.ExpiryWarning,
		defaultReorderLevel: opts.DefaultReorderLevel,
		now:                 opts.Now,
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return actor, err
	}
	if actor.Role != domain.RoleAdmin {
		return actor, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, actor.ID, limit)
}

func (s *Service) auditEntry(actor domain.Actor, action string, entityType string, entityID string, detail string) domain.AuditLog {
	return domain.AuditLog{
		ID:            xid.NewID(),
		OwnerID:       actor.ID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	if err := s.repo.CreateAuditLog(ctx, s.auditEntry(actor, action, entityType, entityID, detail)); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) invalidateStats(ctx context.Context, owner domain.OwnerID) {
	if err := s.stats.Invalidate(ctx, owner); err != nil {
		log.Printf("[service] WARN: failed to invalidate dashboard cache owner=%s: %v", owner, err)
	}
}

func normalizePage(page int, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func totalPages(total int, limit int) int {
	if total == 0 || limit < 1 {
		return 0
	}
	return (total + limit - 1) / limit
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidInput, fmt.Sprintf(format, args...))
}
