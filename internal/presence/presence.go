// Package presence tracks which users currently hold an open
// real-time connection, backed by Redis so presence is visible across
// all server processes, not just the one holding the socket.
package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "presence:"
	defaultTTL = 60 * time.Second
)

// Service wraps a Redis client with the presence key scheme. A Redis
// outage degrades presence to "offline, no error" rather than failing
// the caller — presence is advisory, never load-bearing for message
// delivery.
type Service struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

func New(client *redis.Client, logger *zap.Logger) *Service {
	return &Service{client: client, logger: logger, ttl: defaultTTL}
}

func key(userID string) string {
	return keyPrefix + userID
}

// MarkOnline sets the presence key with its TTL. Call on connect;
// heartbeats keep the key alive through Refresh.
func (s *Service) MarkOnline(ctx context.Context, userID string) {
	if err := s.client.Set(ctx, key(userID), "1", s.ttl).Err(); err != nil {
		s.logger.Warn("presence mark online failed", zap.String("userId", userID), zap.Error(err))
	}
}

// Refresh re-sets the presence key with a fresh TTL on a heartbeat,
// recreating it if it had already expired.
func (s *Service) Refresh(ctx context.Context, userID string) {
	if err := s.client.Set(ctx, key(userID), "1", s.ttl).Err(); err != nil {
		s.logger.Warn("presence refresh failed", zap.String("userId", userID), zap.Error(err))
	}
}

// MarkOffline deletes the presence key immediately, used when a user's
// last connection closes cleanly (as opposed to expiring via TTL).
func (s *Service) MarkOffline(ctx context.Context, userID string) {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		s.logger.Warn("presence mark offline failed", zap.String("userId", userID), zap.Error(err))
	}
}

// IsOnline reports whether a user currently has a live presence key.
// Redis errors are treated as "offline" rather than propagated.
func (s *Service) IsOnline(ctx context.Context, userID string) bool {
	n, err := s.client.Exists(ctx, key(userID)).Result()
	if err != nil {
		s.logger.Warn("presence lookup failed", zap.String("userId", userID), zap.Error(err))
		return false
	}
	return n > 0
}

// BulkIsOnline resolves online state for many users in one MGET round
// trip. The result is a map keyed by
// user id, so it carries no order.
func (s *Service) BulkIsOnline(ctx context.Context, userIDs []string) map[string]bool {
	result := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.Warn("presence bulk lookup failed", zap.Error(err))
		for _, id := range userIDs {
			result[id] = false
		}
		return result
	}
	for i, id := range userIDs {
		result[id] = vals[i] != nil
	}
	return result
}
