package graphcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"positionScope/internal/model"
)

// DefaultTTL is how long a saved graph is considered fresh.
const DefaultTTL = time.Hour

// Cache stores the token graph. Load returns nil for a missing, unreadable or
// expired graph; it never fails.
type Cache interface {
	Load(ctx context.Context) *model.Graph
	Save(ctx context.Context, g *model.Graph) error
}

// Nop is a cache that never holds anything.
type Nop struct{}

func (Nop) Load(context.Context) *model.Graph        { return nil }
func (Nop) Save(context.Context, *model.Graph) error { return nil }

// FileCache keeps the graph in a local JSON file.
type FileCache struct {
	Path   string
	TTL    time.Duration
	Logger *zap.Logger
	Now    func() time.Time
}

func NewFileCache(path string, ttl time.Duration, logger *zap.Logger) *FileCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FileCache{Path: path, TTL: ttl, Logger: logger, Now: time.Now}
}

func (c *FileCache) Load(ctx context.Context) *model.Graph {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.Logger.Warn("read graph cache", zap.String("path", c.Path), zap.Error(err))
		}
		return nil
	}
	return decode(data, c.TTL, c.Now(), c.Logger)
}

func (c *FileCache) Save(ctx context.Context, g *model.Graph) error {
	if g == nil {
		return errors.New("nil graph")
	}
	dir := filepath.Dir(c.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create graph cache dir: %w", err)
		}
	}

	stamped := *g
	stamped.BuiltAt = c.Now().UTC()
	data, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write graph cache tmp: %w", err)
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		return fmt.Errorf("rename graph cache: %w", err)
	}
	return nil
}

// RedisCache keeps the graph under a single key. The key carries the TTL as
// its expiry, and BuiltAt is checked again on load.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisCache(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if key == "" {
		key = "lpscope:graph"
	}
	return &RedisCache{client: client, key: key, ttl: ttl, logger: logger, now: time.Now}
}

func (c *RedisCache) Load(ctx context.Context) *model.Graph {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("read graph cache", zap.String("key", c.key), zap.Error(err))
		}
		return nil
	}
	return decode(data, c.ttl, c.now(), c.logger)
}

func (c *RedisCache) Save(ctx context.Context, g *model.Graph) error {
	if g == nil {
		return errors.New("nil graph")
	}
	stamped := *g
	stamped.BuiltAt = c.now().UTC()
	data, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}

func decode(data []byte, ttl time.Duration, now time.Time, logger *zap.Logger) *model.Graph {
	var g model.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		logger.Warn("corrupt graph cache", zap.Error(err))
		return nil
	}
	if g.BuiltAt.IsZero() || g.Adjacency == nil {
		logger.Warn("corrupt graph cache", zap.String("reason", "missing fields"))
		return nil
	}
	if now.Sub(g.BuiltAt) > ttl {
		logger.Debug("graph cache expired", zap.Time("built_at", g.BuiltAt))
		return nil
	}
	return &g
}
