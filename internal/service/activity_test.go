package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"
	"classroom-whiteboard/internal/repository/mocks"
	"classroom-whiteboard/internal/service"
	"classroom-whiteboard/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func TestActivity_OperationRecorded(t *testing.T) {
	// Arrange
	state := new(mocks.StateRepository)
	rooms := new(mocks.RoomRepository)
	enq := &fakeEnqueuer{}
	svc := service.NewActivityService(state, rooms, enq)
	ctx := context.Background()
	at := time.Now()
	op := domain.Operation{Kind: domain.OpRemove, ObjectID: "x", AuthorID: "a", Timestamp: 7}

	state.On("PushOperation", ctx, "r1", op).Return(nil).Once()
	state.On("IncrementOpCount", ctx, "r1").Return(nil).Once()
	rooms.On("TouchLastActive", ctx, "r1", at).Return(nil).Once()

	// Act
	err := svc.OnOperationRecorded(ctx, service.RoomEvent{RoomID: "r1", UserID: "a", Operation: op, At: at})

	// Assert
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, tasks.TypeActionPersistence, enq.tasks[0].Type())
	payload, err := tasks.ParseActionPersistencePayload(enq.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "r1", payload.RoomID)
	assert.Equal(t, op, payload.Operation)
	state.AssertExpectations(t)
	rooms.AssertExpectations(t)
}

func TestActivity_OperationRecorded_RedisFailureStillEnqueues(t *testing.T) {
	state := new(mocks.StateRepository)
	rooms := new(mocks.RoomRepository)
	enq := &fakeEnqueuer{}
	svc := service.NewActivityService(state, rooms, enq)
	state.On("PushOperation", mock.Anything, "r1", mock.Anything).Return(errors.New("redis down"))
	state.On("IncrementOpCount", mock.Anything, "r1").Return(errors.New("redis down"))
	rooms.On("TouchLastActive", mock.Anything, "r1", mock.Anything).Return(repository.ErrRoomNotFound)

	err := svc.OnOperationRecorded(context.Background(), service.RoomEvent{RoomID: "r1", Operation: domain.Operation{Kind: domain.OpClear}})

	assert.NoError(t, err)
	assert.Len(t, enq.tasks, 1)
}

func TestActivity_OperationRecorded_EnqueueFailure(t *testing.T) {
	state := new(mocks.StateRepository)
	svc := service.NewActivityService(state, new(mocks.RoomRepository), &fakeEnqueuer{err: errors.New("queue down")})
	state.On("PushOperation", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	state.On("IncrementOpCount", mock.Anything, mock.Anything).Return(nil)

	err := svc.OnOperationRecorded(context.Background(), service.RoomEvent{RoomID: "r1", Operation: domain.Operation{Kind: domain.OpClear}})

	assert.Error(t, err)
}

func TestActivity_SnapshotReplacedCountsAsChange(t *testing.T) {
	state := new(mocks.StateRepository)
	rooms := new(mocks.RoomRepository)
	svc := service.NewActivityService(state, rooms, nil)
	state.On("IncrementOpCount", mock.Anything, "r1").Return(nil).Once()
	rooms.On("TouchLastActive", mock.Anything, "r1", mock.Anything).Return(nil).Once()

	err := svc.OnSnapshotReplaced(context.Background(), service.RoomEvent{RoomID: "r1", Snapshot: domain.EmptySnapshot()})

	assert.NoError(t, err)
	state.AssertExpectations(t)
	rooms.AssertExpectations(t)
}

func TestActivity_RoomDestroyedCleansUp(t *testing.T) {
	state := new(mocks.StateRepository)
	svc := service.NewActivityService(state, new(mocks.RoomRepository), nil)
	state.On("CleanupRoomState", mock.Anything, "r1").Return(nil).Once()

	assert.NoError(t, svc.OnRoomDestroyed(context.Background(), service.RoomEvent{RoomID: "r1"}))
	state.AssertExpectations(t)
}

func TestActivity_TouchFailureIsReported(t *testing.T) {
	rooms := new(mocks.RoomRepository)
	svc := service.NewActivityService(new(mocks.StateRepository), rooms, nil)
	rooms.On("TouchLastActive", mock.Anything, "r1", mock.Anything).Return(errors.New("db down"))

	assert.Error(t, svc.OnMemberJoined(context.Background(), service.RoomEvent{RoomID: "r1"}))
}

func TestRoomEventHooks_RunInEmitOrder(t *testing.T) {
	// Arrange
	state := new(mocks.StateRepository)
	rooms := new(mocks.RoomRepository)
	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(s string) {
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
	}
	state.On("PushOperation", mock.Anything, "r1", mock.Anything).Run(func(args mock.Arguments) {
		record(args.Get(2).(domain.Operation).ObjectID)
	}).Return(nil)
	state.On("IncrementOpCount", mock.Anything, "r1").Return(nil)
	state.On("CleanupRoomState", mock.Anything, "r1").Run(func(mock.Arguments) {
		record("cleanup")
	}).Return(nil)
	rooms.On("TouchLastActive", mock.Anything, "r1", mock.Anything).Return(nil)

	hooks := service.NewRoomEventHooks()
	defer hooks.Close()
	require.NoError(t, service.NewActivityService(state, rooms, nil).Register(hooks))
	ctx := context.Background()

	// Act: 中途销毁房间，随后同 id 的房间继续产生操作
	var want []string
	for i := 0; i < 200; i++ {
		if i == 100 {
			require.NoError(t, hooks.Emit(ctx, service.EventRoomDestroyed, service.RoomEvent{RoomID: "r1"}))
			want = append(want, "cleanup")
		}
		id := fmt.Sprintf("obj-%03d", i)
		ev := service.RoomEvent{RoomID: "r1", Operation: domain.Operation{Kind: domain.OpAdd, ObjectID: id}, At: time.Now()}
		require.NoError(t, hooks.Emit(ctx, service.EventOperationRecorded, ev))
		want = append(want, id)
	}

	// Assert
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == len(want)
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, calls)
}
