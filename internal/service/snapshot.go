package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/metrics"
	"classroom-whiteboard/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
)

const (
	snapshotCacheTTL     = 24 * time.Hour
	lastSnapshotStateTTL = 7 * 24 * time.Hour
)

// Clock 只用到 Now
type Clock interface {
	Now() time.Time
}

// SnapshotService 负责快照归档：实时快照在 RoomStore 中，这里把它周期性地写入数据库，
// 并为 HTTP 读取提供 "缓存优先，数据库备用，回填缓存" 的查询。
type SnapshotService struct {
	snapshotRepo repository.SnapshotRepository
	stateRepo    repository.StateRepository
	actionRepo   repository.ActionRepository
	metrics      *metrics.Metrics
	clock        Clock
}

// NewSnapshotService 创建 SnapshotService 实例。
func NewSnapshotService(
	snapshotRepo repository.SnapshotRepository,
	stateRepo repository.StateRepository,
	actionRepo repository.ActionRepository,
	m *metrics.Metrics,
) *SnapshotService {
	if snapshotRepo == nil || stateRepo == nil || actionRepo == nil {
		panic("All repositories must be non-nil for SnapshotService")
	}
	return &SnapshotService{
		snapshotRepo: snapshotRepo,
		stateRepo:    stateRepo,
		actionRepo:   actionRepo,
		metrics:      m,
		clock:        clockz.RealClock,
	}
}

// SetClock 替换时间源
func (s *SnapshotService) SetClock(c Clock) {
	s.clock = c
}

// Latest 获取房间最新的归档快照
func (s *SnapshotService) Latest(ctx context.Context, roomID string) (*domain.SnapshotRecord, domain.Snapshot, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "LatestSnapshot"})

	cached, err := s.stateRepo.GetSnapshotCache(ctx, roomID)
	if err == nil && cached != nil {
		state, parseErr := cached.ParseState()
		if parseErr == nil {
			logCtx.Debug("Snapshot cache hit")
			return cached, state, nil
		}
		logCtx.WithError(parseErr).Warn("Cached snapshot is corrupt, falling back to database")
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logCtx.WithError(err).Warn("Failed to get snapshot from cache")
	}

	rec, err := s.snapshotRepo.GetLatestSnapshot(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil, domain.EmptySnapshot(), ErrSnapshotNotFound
		}
		logCtx.WithError(err).Error("Failed to get latest snapshot from database")
		return nil, domain.Snapshot{}, ErrInternalServer
	}
	state, err := rec.ParseState()
	if err != nil {
		logCtx.WithError(err).Error("Failed to parse snapshot state from database")
		return nil, domain.Snapshot{}, ErrInternalServer
	}

	if err := s.stateRepo.SetSnapshotCache(ctx, roomID, rec, snapshotCacheTTL); err != nil {
		logCtx.WithError(err).Warn("Failed to warm snapshot cache after DB load")
	}
	return rec, state, nil
}

// CheckAndArchive 判断房间是否到了归档时间，到了就把 live 写入数据库。
// 返回新的归档时间；未归档时原样返回 lastArchived。
func (s *SnapshotService) CheckAndArchive(ctx context.Context, roomID string, live domain.Snapshot, lastArchived time.Time) (time.Time, error) {
	logCtx := logrus.WithField("room_id", roomID)

	opCount, err := s.opsSince(ctx, roomID, lastArchived)
	if err != nil {
		logCtx.WithError(err).Error("Failed to get operation count since last snapshot")
		return lastArchived, ErrInternalServer
	}
	if opCount == 0 {
		logCtx.Debug("No changes since last snapshot, skipping")
		return lastArchived, nil
	}

	now := s.clock.Now()
	interval := calculateSnapshotInterval(int(opCount))
	if !shouldGenerateSnapshot(now, lastArchived, interval) {
		logCtx.Debugf("Snapshot condition not met (Last: %s, Interval: %s, OpsSince: %d)",
			lastArchived.Format(time.RFC3339), interval, opCount)
		return lastArchived, nil
	}

	if err := s.archive(ctx, roomID, live, now); err != nil {
		logCtx.WithError(err).Error("Snapshot archive failed")
		return lastArchived, err
	}
	return now, nil
}

// opsSince 优先读 Redis 计数器，失败时回退到数据库中的审计记录
func (s *SnapshotService) opsSince(ctx context.Context, roomID string, since time.Time) (int64, error) {
	n, err := s.stateRepo.GetOpCount(ctx, roomID)
	if err == nil {
		return n, nil
	}
	logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to read op count from Redis, falling back to database")
	return s.actionRepo.GetCountSince(ctx, roomID, since)
}

func (s *SnapshotService) archive(ctx context.Context, roomID string, live domain.Snapshot, at time.Time) error {
	logCtx := logrus.WithField("room_id", roomID)

	rec := &domain.SnapshotRecord{RoomID: roomID, CreatedAt: at.UTC()}
	if err := rec.SetState(live); err != nil {
		return fmt.Errorf("failed to set snapshot state: %w", err)
	}
	if err := s.snapshotRepo.SaveSnapshot(ctx, rec); err != nil {
		return err
	}
	s.metrics.SnapshotArchived()

	if err := s.stateRepo.SetSnapshotCache(ctx, roomID, rec, snapshotCacheTTL); err != nil {
		logCtx.WithError(err).Warn("Failed to update snapshot cache after archive")
	}
	if err := s.stateRepo.ResetOpCount(ctx, roomID); err != nil {
		logCtx.WithError(err).Warn("Failed to reset op_count after archive")
	}
	if err := s.stateRepo.SetLastSnapshotTime(ctx, roomID, at, lastSnapshotStateTTL); err != nil {
		logCtx.WithError(err).Warn("Failed to record last snapshot time")
	}

	logCtx.WithField("objects", rec.ObjectCount).Info("Snapshot archived")
	return nil
}

func calculateSnapshotInterval(opCountSinceLast int) time.Duration {
	if opCountSinceLast > 100 {
		return 30 * time.Second
	} else if opCountSinceLast > 20 {
		return 2 * time.Minute
	}
	return 10 * time.Minute
}

func shouldGenerateSnapshot(now, lastSnapshotTime time.Time, interval time.Duration) bool {
	return lastSnapshotTime.IsZero() || now.Sub(lastSnapshotTime) >= interval
}
