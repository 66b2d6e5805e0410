package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type backend interface {
	Get(ctx context.Context, id string) (domain.Task, error)
	Put(ctx context.Context, task domain.Task) error
	FindByTitle(ctx context.Context, title string) (domain.Task, bool, error)
	ListAll(ctx context.Context) ([]domain.Task, error)
	BulkUpdatePositions(ctx context.Context, positions []domain.TaskPosition) error
	Delete(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListActivity(ctx context.Context, limit int) ([]domain.ActivityRecord, error)
}

// Cache wraps a Storage instance with Redis-backed caching for the two hot
// reads, the board snapshot and the user directory. Every task mutation
// evicts the board snapshot so connected clients never re-fetch stale state
// after a broadcast.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) Get(ctx context.Context, id string) (domain.Task, error) {
	return c.base.Get(ctx, id)
}

func (c *Cache) FindByTitle(ctx context.Context, title string) (domain.Task, bool, error) {
	return c.base.FindByTitle(ctx, title)
}

func (c *Cache) ListAll(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, tasks)
	return tasks, nil
}

func (c *Cache) ListUsers(ctx context.Context) ([]domain.User, error) {
	if users, ok := c.loadUsersFromCache(ctx); ok {
		return users, nil
	}

	users, err := c.base.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	c.storeUsers(ctx, users)
	return users, nil
}

func (c *Cache) ListActivity(ctx context.Context, limit int) ([]domain.ActivityRecord, error) {
	return c.base.ListActivity(ctx, limit)
}

func (c *Cache) Put(ctx context.Context, task domain.Task) error {
	if err := c.base.Put(ctx, task); err != nil {
		return err
	}

	c.evictTasks(ctx)
	return nil
}

func (c *Cache) BulkUpdatePositions(ctx context.Context, positions []domain.TaskPosition) error {
	if err := c.base.BulkUpdatePositions(ctx, positions); err != nil {
		return err
	}

	c.evictTasks(ctx)
	return nil
}

func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.base.Delete(ctx, id); err != nil {
		return err
	}

	c.evictTasks(ctx)
	return nil
}

func (c *Cache) loadTasksFromCache(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey()).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey()).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey()).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) loadUsersFromCache(ctx context.Context) ([]domain.User, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, usersCacheKey()).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, usersCacheKey()).Err()
		}
		return nil, false
	}
	var users []domain.User
	if err := json.Unmarshal(data, &users); err != nil {
		_ = c.redis.Del(ctx, usersCacheKey()).Err()
		return nil, false
	}
	return users, true
}

func (c *Cache) storeTasks(ctx context.Context, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(), data, c.ttl).Err()
}

func (c *Cache) storeUsers(ctx context.Context, users []domain.User) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(users)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, usersCacheKey(), data, c.ttl).Err()
}

func (c *Cache) evictTasks(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey()).Result()
}

func tasksCacheKey() string {
	return "board:tasks"
}

func usersCacheKey() string {
	return "board:users"
}
