package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldOnline   = "online"
	fieldLastSeen = "last_seen"

	// Presence entries expire on their own so crashed instances do not leave
	// devices online forever.
	presenceTTL = 24 * time.Hour
)

// PresenceStore keeps per-device connectivity state in a redis hash.
type PresenceStore struct {
	rdb *goredis.Client
}

func NewPresenceStore(rdb *goredis.Client) *PresenceStore {
	return &PresenceStore{rdb: rdb}
}

func (s *PresenceStore) SetOnline(ctx context.Context, deviceID uuid.UUID, at time.Time) error {
	return s.write(ctx, deviceID, "1", at)
}

func (s *PresenceStore) SetOffline(ctx context.Context, deviceID uuid.UUID, lastSeen time.Time) error {
	return s.write(ctx, deviceID, "0", lastSeen)
}

func (s *PresenceStore) write(ctx context.Context, deviceID uuid.UUID, online string, at time.Time) error {
	key := presenceKey(deviceID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldOnline:   online,
		fieldLastSeen: strconv.FormatInt(at.UnixMilli(), 10),
	})
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

// IsOnline reports the stored presence flag. Missing keys read as offline.
func (s *PresenceStore) IsOnline(ctx context.Context, deviceID uuid.UUID) (bool, error) {
	val, err := s.rdb.HGet(ctx, presenceKey(deviceID), fieldOnline).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read presence: %w", err)
	}
	return val == "1", nil
}

func presenceKey(deviceID uuid.UUID) string {
	return fmt.Sprintf("presence:device:%s", deviceID)
}
