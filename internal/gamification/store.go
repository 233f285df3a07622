package gamification

import (
	"context"

	"github.com/pharm-prep/backend/internal/models"
)

// Store is the durable holder of one encoded UserProgress per learner.
// Load returns nil data when the learner has no record yet.
type Store interface {
	Load(ctx context.Context, userID int64) ([]byte, error)
	Save(ctx context.Context, userID int64, data []byte) error
}

// StreakStatusFetcher fetches the server-authoritative streak row.
type StreakStatusFetcher interface {
	FetchStreakStatus(ctx context.Context, userID int64) (models.ServerStreakStatus, error)
}
