package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vibecards-backend/internal/models"
)

const (
	studySessionPrefix = "study:"
	maxUpdateRetries   = 3
)

// StudySessionRepo keeps study sessions in Redis with a sliding TTL.
type StudySessionRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStudySessionRepo(rdb *redis.Client, ttl time.Duration) *StudySessionRepo {
	return &StudySessionRepo{rdb: rdb, ttl: ttl}
}

func studySessionKey(id uuid.UUID) string {
	return studySessionPrefix + id.String()
}

func (r *StudySessionRepo) Create(ctx context.Context, s *models.StudySession) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, studySessionKey(s.ID), data, r.ttl).Err()
}

func (r *StudySessionRepo) Get(ctx context.Context, id uuid.UUID) (*models.StudySession, error) {
	data, err := r.rdb.Get(ctx, studySessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeStudySession(data)
}

// Update applies fn to the stored session under WATCH so concurrent
// updates of the same session do not overwrite each other.
func (r *StudySessionRepo) Update(ctx context.Context, id uuid.UUID, fn func(*models.StudySession) error) (*models.StudySession, error) {
	key := studySessionKey(id)
	var updated *models.StudySession

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		s, err := decodeStudySession(data)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.ttl)
			return nil
		})
		if err == nil {
			updated = s
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("study session %s: too many concurrent updates", id)
}

func (r *StudySessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := r.rdb.Del(ctx, studySessionKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeStudySession(data []byte) (*models.StudySession, error) {
	var s models.StudySession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode study session: %w", err)
	}
	return &s, nil
}
