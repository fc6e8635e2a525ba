package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibecards-backend/internal/models"
	"vibecards-backend/internal/study"
)

const testSessionTTL = time.Hour

func newSessionRepo(t *testing.T) (*StudySessionRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStudySessionRepo(rdb, testSessionTTL), mr
}

func newSession(total int) *models.StudySession {
	return &models.StudySession{
		DeckID:  uuid.New(),
		OwnerID: uuid.New(),
		Cards:   make([]models.Card, total),
		State:   study.State{Total: total},
	}
}

func TestStudySessionRepo_CreateGet(t *testing.T) {
	repo, mr := newSessionRepo(t)
	ctx := context.Background()

	s := newSession(5)
	require.NoError(t, repo.Create(ctx, s))
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, testSessionTTL, mr.TTL(studySessionKey(s.ID)))

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.OwnerID, got.OwnerID)
	assert.Equal(t, 5, got.State.Total)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStudySessionRepo_Update(t *testing.T) {
	repo, mr := newSessionRepo(t)
	ctx := context.Background()

	s := newSession(5)
	require.NoError(t, repo.Create(ctx, s))

	mr.FastForward(30 * time.Minute)
	updated, err := repo.Update(ctx, s.ID, func(cur *models.StudySession) error {
		cur.State.Index = 2
		cur.State.Flipped = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.State.Index)
	assert.Equal(t, testSessionTTL, mr.TTL(studySessionKey(s.ID)), "update slides the TTL")

	// a failing fn leaves the stored session untouched
	rejected := errors.New("rejected")
	_, err = repo.Update(ctx, s.ID, func(cur *models.StudySession) error {
		cur.State.Index = 4
		return rejected
	})
	assert.ErrorIs(t, err, rejected)

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.State.Index)
	assert.True(t, got.State.Flipped)

	_, err = repo.Update(ctx, uuid.New(), func(*models.StudySession) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStudySessionRepo_ConcurrentUpdates(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	s := newSession(1000)
	require.NoError(t, repo.Create(ctx, s))

	const writers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, s.ID, func(cur *models.StudySession) error {
				cur.State.Index++
				return nil
			})
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// updates that gave up after retries are reported, never lost silently
	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, applied, got.State.Index)
	assert.Positive(t, applied)
}

func TestStudySessionRepo_DeleteAndExpiry(t *testing.T) {
	repo, mr := newSessionRepo(t)
	ctx := context.Background()

	s := newSession(3)
	require.NoError(t, repo.Create(ctx, s))
	require.NoError(t, repo.Delete(ctx, s.ID))
	assert.ErrorIs(t, repo.Delete(ctx, s.ID), ErrNotFound)

	_, err := repo.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	expiring := newSession(3)
	require.NoError(t, repo.Create(ctx, expiring))
	mr.FastForward(testSessionTTL + time.Second)

	_, err = repo.Get(ctx, expiring.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Update(ctx, expiring.ID, func(*models.StudySession) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}
