package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"tasksync-api/domain"
)

const taskListCacheKey = "tasks:firstpage"

// cacheablePage is the only listing shape served from the cache: the default
// first page that the UI polls. Everything else goes straight to SQLite.
const cacheablePageSize = 50

// Cache wraps a Store with Redis-backed caching for the hot task listing.
// Mutations pass through and evict. A nil Redis client disables caching
// without changing behavior.
type Cache struct {
	*Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper around base using the provided Redis
// client and TTL.
func NewCache(base *Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, limit, offset int) ([]domain.Task, error) {
	cacheable := c.redis != nil && offset == 0 && (limit == 0 || limit == cacheablePageSize)
	if cacheable {
		if tasks, ok := c.loadFromCache(ctx); ok {
			return tasks, nil
		}
	}
	tasks, err := c.Store.ListTasks(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.store(ctx, tasks)
	}
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, title, description string) (*domain.Task, error) {
	task, err := c.Store.CreateTask(ctx, title, description)
	if err != nil {
		return nil, err
	}
	c.evict(ctx)
	return task, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (*domain.Task, error) {
	task, err := c.Store.UpdateTask(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	c.evict(ctx)
	return task, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.Store.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) MarkTaskSynced(ctx context.Context, id string, at time.Time) error {
	if err := c.Store.MarkTaskSynced(ctx, id, at); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) MarkTaskSyncError(ctx context.Context, id string) error {
	if err := c.Store.MarkTaskSyncError(ctx, id); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, taskListCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, taskListCacheKey).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, taskListCacheKey).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, taskListCacheKey, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, taskListCacheKey).Result()
}
