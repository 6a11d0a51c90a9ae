// Package mocks 提供 repository 接口的 testify mock 实现，供 service 与 worker 测试使用。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"
)

// RoomRepository mock
type RoomRepository struct {
	mock.Mock
}

var _ repository.RoomRepository = (*RoomRepository)(nil)

func (m *RoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	args := m.Called(ctx, id)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}

func (m *RoomRepository) Exists(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepository) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

// ActionRepository mock
type ActionRepository struct {
	mock.Mock
}

var _ repository.ActionRepository = (*ActionRepository)(nil)

func (m *ActionRepository) SaveBatch(ctx context.Context, records []domain.ActionRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *ActionRepository) GetCountSince(ctx context.Context, roomID string, since time.Time) (int64, error) {
	args := m.Called(ctx, roomID, since)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// SnapshotRepository mock
type SnapshotRepository struct {
	mock.Mock
}

var _ repository.SnapshotRepository = (*SnapshotRepository)(nil)

func (m *SnapshotRepository) GetLatestSnapshot(ctx context.Context, roomID string) (*domain.SnapshotRecord, error) {
	args := m.Called(ctx, roomID)
	rec, _ := args.Get(0).(*domain.SnapshotRecord)
	return rec, args.Error(1)
}

func (m *SnapshotRepository) SaveSnapshot(ctx context.Context, record *domain.SnapshotRecord) error {
	return m.Called(ctx, record).Error(0)
}

// StateRepository mock
type StateRepository struct {
	mock.Mock
}

var _ repository.StateRepository = (*StateRepository)(nil)

func (m *StateRepository) PushOperation(ctx context.Context, roomID string, op domain.Operation) error {
	return m.Called(ctx, roomID, op).Error(0)
}

func (m *StateRepository) GetRecentOperations(ctx context.Context, roomID string, limit int) ([]domain.Operation, error) {
	args := m.Called(ctx, roomID, limit)
	ops, _ := args.Get(0).([]domain.Operation)
	return ops, args.Error(1)
}

func (m *StateRepository) IncrementOpCount(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *StateRepository) GetOpCount(ctx context.Context, roomID string) (int64, error) {
	args := m.Called(ctx, roomID)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *StateRepository) ResetOpCount(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *StateRepository) GetSnapshotCache(ctx context.Context, roomID string) (*domain.SnapshotRecord, error) {
	args := m.Called(ctx, roomID)
	rec, _ := args.Get(0).(*domain.SnapshotRecord)
	return rec, args.Error(1)
}

func (m *StateRepository) SetSnapshotCache(ctx context.Context, roomID string, record *domain.SnapshotRecord, ttl time.Duration) error {
	return m.Called(ctx, roomID, record, ttl).Error(0)
}

func (m *StateRepository) GetLastSnapshotTime(ctx context.Context, roomID string) (time.Time, error) {
	args := m.Called(ctx, roomID)
	t, _ := args.Get(0).(time.Time)
	return t, args.Error(1)
}

func (m *StateRepository) SetLastSnapshotTime(ctx context.Context, roomID string, at time.Time, ttl time.Duration) error {
	return m.Called(ctx, roomID, at, ttl).Error(0)
}

func (m *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *StateRepository) CleanupRoomState(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}
