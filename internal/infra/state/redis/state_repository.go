package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	// 历史列表保留条数
	historyLength = 200
	// 操作计数器的过期时间
	opCountTTL = time.Hour
)

// RedisStateRepository 是 StateRepository 接口的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "wb:" // whiteboard
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

var _ repository.StateRepository = (*RedisStateRepository)(nil)

// --- Key Generation Helpers ---
func (r *RedisStateRepository) roomHistoryKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:history", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) roomOpCountKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:op_count", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) roomSnapshotCacheKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:snapshot", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) roomLastSnapshotKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:last_snapshot_at", r.keyPrefix, roomID)
}

// PushOperation 追加操作到历史列表，并裁剪到固定长度
func (r *RedisStateRepository) PushOperation(ctx context.Context, roomID string, op domain.Operation) error {
	key := r.roomHistoryKey(roomID)
	b, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal operation for history (room %s): %w", roomID, err)
	}
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, string(b))
	pipe.LTrim(ctx, key, -historyLength, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to push operation to history for room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

// GetRecentOperations 获取最近的操作，损坏的条目会被跳过
func (r *RedisStateRepository) GetRecentOperations(ctx context.Context, roomID string, limit int) ([]domain.Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	key := r.roomHistoryKey(roomID)
	items, err := r.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get recent operations for room %s from %s: %w", roomID, key, err)
	}
	ops := make([]domain.Operation, 0, len(items))
	for _, item := range items {
		var op domain.Operation
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			logrus.Warnf("redis: failed to unmarshal operation from history for room %s: %v", roomID, err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// IncrementOpCount 原子地增加计数并刷新过期时间
func (r *RedisStateRepository) IncrementOpCount(ctx context.Context, roomID string) error {
	key := r.roomOpCountKey(roomID)
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, opCountTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to increment op count for room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

// GetOpCount 读取计数，key 不存在视为 0
func (r *RedisStateRepository) GetOpCount(ctx context.Context, roomID string) (int64, error) {
	key := r.roomOpCountKey(roomID)
	s, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: failed to get op count for room %s: %w", roomID, err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: failed to parse op count '%s' for room %s: %w", s, roomID, err)
	}
	return n, nil
}

// ResetOpCount 重置为 0 并保持过期
func (r *RedisStateRepository) ResetOpCount(ctx context.Context, roomID string) error {
	key := r.roomOpCountKey(roomID)
	if err := r.client.Set(ctx, key, "0", opCountTTL).Err(); err != nil {
		return fmt.Errorf("redis: failed to reset op count for room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

// GetSnapshotCache 尝试从 Redis 缓存中获取归档快照
func (r *RedisStateRepository) GetSnapshotCache(ctx context.Context, roomID string) (*domain.SnapshotRecord, error) {
	key := r.roomSnapshotCacheKey(roomID)
	s, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis: failed to get snapshot cache for room %s from %s: %w", roomID, key, err)
	}
	var rec domain.SnapshotRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal snapshot cache for room %s: %w", roomID, err)
	}
	return &rec, nil
}

// SetSnapshotCache 缓存归档快照
func (r *RedisStateRepository) SetSnapshotCache(ctx context.Context, roomID string, record *domain.SnapshotRecord, ttl time.Duration) error {
	key := r.roomSnapshotCacheKey(roomID)
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal snapshot for cache (room %s): %w", roomID, err)
	}
	if err := r.client.Set(ctx, key, string(b), ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set snapshot cache for room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

// GetLastSnapshotTime 获取上次归档时间 (Unix 毫秒)
func (r *RedisStateRepository) GetLastSnapshotTime(ctx context.Context, roomID string) (time.Time, error) {
	key := r.roomLastSnapshotKey(roomID)
	s, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("redis: failed to get last snapshot time for room %s: %w", roomID, err)
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: failed to parse last snapshot time '%s' for room %s: %w", s, roomID, err)
	}
	return time.UnixMilli(ms), nil
}

// SetLastSnapshotTime 记录归档时间
func (r *RedisStateRepository) SetLastSnapshotTime(ctx context.Context, roomID string, at time.Time, ttl time.Duration) error {
	key := r.roomLastSnapshotKey(roomID)
	if err := r.client.Set(ctx, key, strconv.FormatInt(at.UnixMilli(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set last snapshot time for room %s: %w", roomID, err)
	}
	return nil
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}

// CleanupRoomState 删除房间的历史和计数器。快照缓存保留，房间关闭后仍可导出
func (r *RedisStateRepository) CleanupRoomState(ctx context.Context, roomID string) error {
	keys := []string{r.roomHistoryKey(roomID), r.roomOpCountKey(roomID)}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: failed to cleanup state for room %s: %w", roomID, err)
	}
	return nil
}
