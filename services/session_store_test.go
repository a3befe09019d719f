package services

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/krshsl/mockmate/cache"
	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*SessionStore, *repository.GORMRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	repo := repository.NewGORMRepository(newTestDB(t))
	return NewSessionStore(repo, cache.NewFallback(rc), time.Hour), repo, mr
}

func TestSessionStoreCachesReads(t *testing.T) {
	store, repo, mr := newRedisStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &models.InterviewSession{
		UserID:        "user-1",
		Position:      "SRE",
		ResumeContent: "resume",
		Status:        models.StatusConfiguring,
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(sessionKey(id)))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "SRE", got.Position)
	assert.True(t, mr.Exists(sessionKey(id)))
	assert.Greater(t, mr.TTL(sessionKey(id)), time.Duration(0))

	// A write that bypasses the store is invisible until the entry is dropped
	require.NoError(t, repo.UpdateInterviewSession(ctx, id, map[string]interface{}{"position": "Platform"}))
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "SRE", got.Position)
}

func TestSessionStoreWritesInvalidate(t *testing.T) {
	store, _, mr := newRedisStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &models.InterviewSession{
		UserID:        "user-1",
		Position:      "SRE",
		ResumeContent: "resume",
		Status:        models.StatusConfiguring,
	})
	require.NoError(t, err)
	_, err = store.Get(ctx, id)
	require.NoError(t, err)

	err = store.UpdateIf(ctx, id, repository.SessionExpectation{Status: models.StatusConfiguring},
		map[string]interface{}{"confirmed": true})
	require.NoError(t, err)
	assert.False(t, mr.Exists(sessionKey(id)))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Confirmed)

	// Stale expectations still drop the cached copy
	err = store.UpdateIf(ctx, id, repository.SessionExpectation{Status: models.StatusInProgress},
		map[string]interface{}{"confirmed": false})
	assert.ErrorIs(t, err, repository.ErrStaleSession)
	assert.False(t, mr.Exists(sessionKey(id)))

	require.NoError(t, store.Delete(ctx, id))
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStoreSurvivesRedisOutage(t *testing.T) {
	store, _, mr := newRedisStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &models.InterviewSession{
		UserID:        "user-1",
		Position:      "SRE",
		ResumeContent: "resume",
		Status:        models.StatusConfiguring,
	})
	require.NoError(t, err)

	mr.Close()
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	require.NoError(t, store.UpdateIf(ctx, id, repository.SessionExpectation{Status: models.StatusConfiguring},
		map[string]interface{}{"confirmed": true}))
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Confirmed)
}

// racingCache commits a transition inside the first Set, after the store has
// read the database but before its snapshot reaches the cache
type racingCache struct {
	cache.Cache
	race func()
}

func (c *racingCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if race := c.race; race != nil {
		c.race = nil
		race()
	}
	return c.Cache.Set(ctx, key, value, ttl)
}

func TestSessionStoreFillDoesNotHideConcurrentTransition(t *testing.T) {
	repo := repository.NewGORMRepository(newTestDB(t))
	rc := &racingCache{Cache: cache.NewFallback(nil)}
	store := NewSessionStore(repo, rc, time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, &models.InterviewSession{
		UserID:        "user-1",
		Position:      "SRE",
		ResumeContent: "resume",
		Status:        models.StatusConfiguring,
	})
	require.NoError(t, err)

	rc.race = func() {
		require.NoError(t, store.UpdateIf(ctx, id, repository.SessionExpectation{Status: models.StatusConfiguring},
			map[string]interface{}{"status": models.StatusInProgress}))
	}
	first, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfiguring, first.Status)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

// deleteFailingRedis is a redis cache whose deletes fail while fail is set
type deleteFailingRedis struct {
	*cache.RedisCache
	fail bool
}

func (d *deleteFailingRedis) Delete(ctx context.Context, keys ...string) error {
	if d.fail {
		return cache.ErrUnavailable
	}
	return d.RedisCache.Delete(ctx, keys...)
}

func TestSessionStoreFailedInvalidationIsNotServed(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	primary := &deleteFailingRedis{RedisCache: rc}

	repo := repository.NewGORMRepository(newTestDB(t))
	store := NewSessionStore(repo, cache.NewFallback(primary), time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, &models.InterviewSession{
		UserID:        "user-1",
		Position:      "SRE",
		ResumeContent: "resume",
		Status:        models.StatusConfiguring,
	})
	require.NoError(t, err)
	_, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, mr.Exists(sessionKey(id)))

	primary.fail = true
	require.NoError(t, store.UpdateIf(ctx, id, repository.SessionExpectation{Status: models.StatusConfiguring},
		map[string]interface{}{"status": models.StatusInProgress}))
	assert.True(t, mr.Exists(sessionKey(id)))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}
