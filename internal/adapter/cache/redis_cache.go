package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/redis/go-redis/v9"
)

// CachedCatalog is a cache-aside decorator over the content service.
// Redis failures fall through to the origin.
type CachedCatalog struct {
	origin usecase.ContentCatalog
	rdb    *redis.Client
	ttl    time.Duration
}

func NewCachedCatalog(origin usecase.ContentCatalog, rdb *redis.Client, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedCatalog{origin: origin, rdb: rdb, ttl: ttl}
}

func attachmentsKey(courseID string) string { return "content:attachments:" + courseID }

func (c *CachedCatalog) ListAttachments(ctx context.Context, courseID string) ([]domain.Attachment, error) {
	log := logging.FromCtx(ctx)
	raw, err := c.rdb.Get(ctx, attachmentsKey(courseID)).Bytes()
	switch {
	case err == nil:
		var atts []domain.Attachment
		if jerr := json.Unmarshal(raw, &atts); jerr == nil {
			return atts, nil
		}
		log.Warn("attachment cache entry unreadable", "course_id", courseID)
	case !errors.Is(err, redis.Nil):
		log.Warn("attachment cache read failed", "course_id", courseID, "err", err)
	}

	atts, err := c.origin.ListAttachments(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(atts); err == nil {
		if err := c.rdb.Set(ctx, attachmentsKey(courseID), b, c.ttl).Err(); err != nil {
			log.Warn("attachment cache write failed", "course_id", courseID, "err", err)
		}
	}
	return atts, nil
}

// Invalidate drops the cached attachments of a course.
func (c *CachedCatalog) Invalidate(ctx context.Context, courseID string) error {
	return c.rdb.Del(ctx, attachmentsKey(courseID)).Err()
}

var _ usecase.ContentCatalog = (*CachedCatalog)(nil)
