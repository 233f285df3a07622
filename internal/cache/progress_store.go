package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ProgressStore keeps each learner's encoded progress under progress:{id}.
// Keys never expire.
type ProgressStore struct {
	client redis.Cmdable
}

func NewProgressStore(client redis.Cmdable) *ProgressStore {
	return &ProgressStore{client: client}
}

// Load returns nil data when the key does not exist.
func (s *ProgressStore) Load(ctx context.Context, userID int64) ([]byte, error) {
	data, err := s.client.Get(ctx, progressKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress for user %d: %w", userID, err)
	}
	return data, nil
}

func (s *ProgressStore) Save(ctx context.Context, userID int64, data []byte) error {
	if err := s.client.Set(ctx, progressKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("save progress for user %d: %w", userID, err)
	}
	return nil
}
