package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maneesh/cloudchest/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedisSessionStore implements SessionStore on Redis with tracing. Each
// session is one JSON value under "upload:<sessionId>" with a fixed TTL;
// expiry is the system's cleanup safety net for abandoned uploads.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore initializes a new Redis-backed session store
func NewRedisSessionStore(addr, password string, db int) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisSessionStore{client: client}, nil
}

// Close closes the Redis connection
func (rs *RedisSessionStore) Close() error {
	return rs.client.Close()
}

// sessionKey builds the ephemeral-store key for an upload session
func sessionKey(sessionID string) string {
	return fmt.Sprintf("upload:%s", sessionID)
}

// PutSession stores a session descriptor with the given TTL and tracing
func (rs *RedisSessionStore) PutSession(ctx context.Context, session *models.UploadSession, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.put_session",
		trace.WithAttributes(
			attribute.String("session_id", session.SessionID),
			attribute.String("file_id", session.FileID),
			attribute.Int64("ttl_seconds", int64(ttl.Seconds())),
		),
	)
	defer span.End()

	data, err := json.Marshal(session)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	err = rs.client.Set(ctx, sessionKey(session.SessionID), data, ttl).Err()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store session: %w", err)
	}

	span.SetAttributes(attribute.Bool("put_success", true))
	return nil
}

// GetSession retrieves a session descriptor with tracing. A missing or
// expired key returns ErrSessionNotFound.
func (rs *RedisSessionStore) GetSession(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	ctx, span := tracer.Start(ctx, "redis.get_session",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
		),
	)
	defer span.End()

	data, err := rs.client.Get(ctx, sessionKey(sessionID)).Result()

	if err == redis.Nil {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, ErrSessionNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.UploadSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &session, nil
}

// DeleteSession removes a session key with tracing. Deleting an absent key
// is not an error.
func (rs *RedisSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "redis.delete_session",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
		),
	)
	defer span.End()

	err := rs.client.Del(ctx, sessionKey(sessionID)).Err()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}

	span.SetAttributes(attribute.Bool("delete_success", true))
	return nil
}
