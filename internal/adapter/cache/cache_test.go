package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestIdempotencyStore_LockRememberRecall(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	s := NewRedisIdempotencyStore(rdb, time.Hour, 5*time.Second)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "order", "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, "order", "k1")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must wait")

	require.NoError(t, s.Release(ctx, "order", "k1"))
	ok, err = s.TryLock(ctx, "order", "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := s.Recall(ctx, "order", "k1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Remember(ctx, "order", "k1", "order-123"))
	v, found, err := s.Recall(ctx, "order", "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "order-123", v)

	mr.FastForward(2 * time.Hour)
	_, found, err = s.Recall(ctx, "order", "k1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotencyStore_LockExpires(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	s := NewRedisIdempotencyStore(rdb, time.Hour, 5*time.Second)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "webhook", "paylink:evt-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)
	ok, err = s.TryLock(ctx, "webhook", "paylink:evt-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyStore_RedisDown(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	s := NewRedisIdempotencyStore(rdb, time.Hour, 0)
	mr.Close()

	_, err := s.TryLock(context.Background(), "order", "k1")
	assert.Error(t, err)
	_, _, err = s.Recall(context.Background(), "order", "k1")
	assert.Error(t, err)
}

type countingCatalog struct {
	calls int
	atts  []domain.Attachment
}

func (c *countingCatalog) ListAttachments(_ context.Context, courseID string) ([]domain.Attachment, error) {
	c.calls++
	return c.atts, nil
}

func TestCachedCatalog_CacheAside(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	origin := &countingCatalog{atts: []domain.Attachment{
		{ID: "a-1", CourseID: "c-1", FileRef: "files/a-1.pdf", Kind: domain.AttachmentPDF},
	}}
	c := NewCachedCatalog(origin, rdb, time.Minute)
	ctx := context.Background()

	got, err := c.ListAttachments(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = c.ListAttachments(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "files/a-1.pdf", got[0].FileRef)
	assert.Equal(t, 1, origin.calls)
	assert.True(t, mr.Exists(attachmentsKey("c-1")))

	require.NoError(t, c.Invalidate(ctx, "c-1"))
	_, err = c.ListAttachments(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, origin.calls)
}

func TestCachedCatalog_FallsThroughWhenRedisDown(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	origin := &countingCatalog{atts: []domain.Attachment{{ID: "a-1", CourseID: "c-1", FileRef: "f", Kind: domain.AttachmentPDF}}}
	c := NewCachedCatalog(origin, rdb, time.Minute)
	mr.Close()

	got, err := c.ListAttachments(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
