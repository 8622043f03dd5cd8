package entitystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pipeforge/runcore/pkg/models"
)

// artifactCacheTTL bounds how long a dispatched task's result stays
// available for idempotent replay before the cache entry expires.
const artifactCacheTTL = 24 * time.Hour

// wireTaskResult is models.TaskResult with Err flattened to a string so it
// survives a JSON round trip through Redis.
type wireTaskResult struct {
	OK          bool                      `json:"ok"`
	Output      map[string]any            `json:"output"`
	Artifacts   []models.Artifact         `json:"artifacts"`
	Metrics     models.TaskResultMetrics  `json:"metrics"`
	ErrMessage  string                    `json:"err_message,omitempty"`
	ExecutionID string                    `json:"execution_id"`
}

// RedisArtifactCache is the Task Dispatcher's content-addressed idempotence
// cache (dispatcher.ArtifactCache), backed by Redis the same way the Quota
// Enforcer keeps its hot-path usage windows there rather than in Postgres.
type RedisArtifactCache struct {
	rdb *redis.Client
}

// NewRedisArtifactCache creates a RedisArtifactCache backed by rdb.
func NewRedisArtifactCache(rdb *redis.Client) *RedisArtifactCache {
	return &RedisArtifactCache{rdb: rdb}
}

func cacheKey(key string) string { return "dispatcher:cache:" + key }

// Get returns the cached result for key, if present and unexpired.
func (c *RedisArtifactCache) Get(ctx context.Context, key string) (*models.TaskResult, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("entitystore.RedisArtifactCache.Get: %w", err)
	}

	var wire wireTaskResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false, fmt.Errorf("entitystore.RedisArtifactCache.Get: unmarshal: %w", err)
	}
	result := &models.TaskResult{
		OK: wire.OK, Output: wire.Output, Artifacts: wire.Artifacts,
		Metrics: wire.Metrics, ExecutionID: wire.ExecutionID,
	}
	if wire.ErrMessage != "" {
		result.Err = errors.New(wire.ErrMessage)
	}
	return result, true, nil
}

// Put caches result under key until artifactCacheTTL elapses.
func (c *RedisArtifactCache) Put(ctx context.Context, key string, result *models.TaskResult) error {
	wire := wireTaskResult{
		OK: result.OK, Output: result.Output, Artifacts: result.Artifacts,
		Metrics: result.Metrics, ExecutionID: result.ExecutionID,
	}
	if result.Err != nil {
		wire.ErrMessage = result.Err.Error()
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("entitystore.RedisArtifactCache.Put: marshal: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(key), raw, artifactCacheTTL).Err(); err != nil {
		return fmt.Errorf("entitystore.RedisArtifactCache.Put: %w", err)
	}
	return nil
}
