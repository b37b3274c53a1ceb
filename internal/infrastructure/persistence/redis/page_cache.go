package redis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/internal/application/pull"
	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/pkg/logger"
)

// Store is the subset of Cache used by PageCache.
type Store interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

// PageCache serves pages from Store and falls through to the wrapped
// fetcher on a miss. Cache failures are logged and never fail a fetch.
//
// The terminal page is not cached: new past events land on it.
type PageCache struct {
	next   pull.Fetcher
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

var _ pull.Fetcher = (*PageCache)(nil)

// NewPageCache wraps next. A non-positive ttl uses TTLPage.
func NewPageCache(next pull.Fetcher, store Store, ttl time.Duration, log *zap.Logger) *PageCache {
	if ttl <= 0 {
		ttl = TTLPage
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PageCache{next: next, store: store, ttl: ttl, logger: log.Named("page_cache")}
}

// FetchPage implements pull.Fetcher.
func (c *PageCache) FetchPage(ctx context.Context, group, cursor string) (attendance.Page, error) {
	key := PageKey(group, cursor)
	log := logger.WithContext(ctx, c.logger).With(zap.String("key", key))

	var page attendance.Page
	err := c.store.Get(ctx, key, &page)
	switch {
	case err == nil:
		log.Debug("page cache hit", zap.Int("events", len(page.Events)))
		return page, nil
	case errors.Is(err, ErrCacheMiss):
		log.Debug("page cache miss")
	default:
		log.Warn("page cache read failed", zap.Error(err))
	}

	page, err = c.next.FetchPage(ctx, group, cursor)
	if err != nil {
		return page, err
	}

	if page.HasNext() {
		if err := c.store.Set(ctx, key, page, c.ttl); err != nil {
			log.Warn("page cache write failed", zap.Error(err))
		}
	}
	return page, nil
}

// Invalidate drops every cached page of group.
func (c *PageCache) Invalidate(ctx context.Context, group string) (int, error) {
	n, err := c.store.DeleteByPattern(ctx, GroupPattern(group))
	if err != nil {
		return n, err
	}
	c.logger.Info("page cache invalidated", zap.String("group", group), zap.Int("keys", n))
	return n, nil
}
