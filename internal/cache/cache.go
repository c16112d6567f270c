package cache

import (
	"context"
	"time"

	"session-service/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionCache — минимальный контракт кэша сессий по значению refresh-токена.
// Кэш ускоряет горячий путь Refresh; источником истины остаётся БД,
// поэтому любая ошибка кэша трактуется вызывающей стороной как промах.
type SessionCache interface {
	// Get возвращает сессию и признак её наличия в кэше.
	Get(ctx context.Context, refreshToken string) (*models.Session, bool, error)
	// Set сохраняет сессию с TTL (обычно остаток срока жизни refresh-токена).
	Set(ctx context.Context, refreshToken string, sess *models.Session, ttl time.Duration) error
	// Delete удаляет запись (logout/ротация).
	Delete(ctx context.Context, refreshToken string) error
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "sessions:rt:".
func NewRedisCache(redisURL, prefix string) (SessionCache, error) {
	if prefix == "" {
		prefix = "sessions:rt:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) key(refreshToken string) string { return c.prefix + refreshToken }

// Храним как Redis Hash с полями: id, uid, dev, created (unix), used (unix).
func (c *redisCache) Get(ctx context.Context, refreshToken string) (*models.Session, bool, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(refreshToken)).Result()
	if err != nil {
		return nil, false, err
	}

	if len(m) == 0 {
		return nil, false, nil
	}

	id, err := uuid.Parse(m["id"])
	if err != nil {
		return nil, false, err
	}

	uid, err := uuid.Parse(m["uid"])
	if err != nil {
		return nil, false, err
	}

	created, err := parseUnix(m["created"])
	if err != nil {
		return nil, false, err
	}

	used, err := parseUnix(m["used"])
	if err != nil {
		return nil, false, err
	}

	return &models.Session{
		ID:           id,
		UserID:       uid,
		DeviceID:     m["dev"],
		RefreshToken: refreshToken,
		CreatedAt:    created,
		LastUsedAt:   used,
	}, true, nil
}

func (c *redisCache) Set(ctx context.Context, refreshToken string, sess *models.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	kv := map[string]string{
		"id":      sess.ID.String(),
		"uid":     sess.UserID.String(),
		"dev":     sess.DeviceID,
		"created": formatUnix(sess.CreatedAt),
		"used":    formatUnix(sess.LastUsedAt),
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(refreshToken), kv)
	pipe.Expire(ctx, c.key(refreshToken), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) Delete(ctx context.Context, refreshToken string) error {
	return c.rdb.Del(ctx, c.key(refreshToken)).Err()
}

func (c *redisCache) Close() error { return c.rdb.Close() }
