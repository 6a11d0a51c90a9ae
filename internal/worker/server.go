package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"classroom-whiteboard/internal/repository"
	"classroom-whiteboard/internal/tasks"
)

// 快照检查的调度周期
const snapshotCheckCron = "@every 1m"

// WorkerServer 封装了 Asynq Worker Server 和周期任务调度器的启动与关闭
type WorkerServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	scheduled atomic.Bool
	log       *logrus.Entry

	actionRepo      repository.ActionRepository
	snapshotHandler *SnapshotCheckHandler
}

// NewWorkerServer 创建一个新的 WorkerServer 实例
func NewWorkerServer(
	redisOpt asynq.RedisClientOpt,
	actionRepo repository.ActionRepository,
	snapshotHandler *SnapshotCheckHandler,
	logger *logrus.Logger,
) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
				tasks.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				queue, _ := asynq.GetQueueName(ctx)
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"queue":     queue,
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
			Logger: logger,
		},
	)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: logger})

	return &WorkerServer{
		server:          server,
		scheduler:       scheduler,
		log:             logEntry,
		actionRepo:      actionRepo,
		snapshotHandler: snapshotHandler,
	}
}

// Mux 注册所有任务处理器
func (ws *WorkerServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeActionPersistence, NewActionPersistenceHandler(ws.actionRepo).ProcessTask)
	if ws.snapshotHandler != nil {
		mux.HandleFunc(tasks.TypeSnapshotCheck, ws.snapshotHandler.ProcessTask)
	}
	return mux
}

// Start 运行 Worker Server 和调度器，应该在一个单独的 goroutine 中调用
func (ws *WorkerServer) Start() {
	if ws.snapshotHandler != nil {
		entryID, err := ws.scheduler.Register(snapshotCheckCron, tasks.NewSnapshotCheckTask())
		if err != nil {
			ws.log.WithError(err).Error("Failed to register periodic snapshot check")
		} else {
			ws.log.WithField("entry_id", entryID).Info("Periodic snapshot check registered")
			if err := ws.scheduler.Start(); err != nil {
				ws.log.WithError(err).Error("Failed to start scheduler")
			} else {
				ws.scheduled.Store(true)
			}
		}
	}

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(ws.Mux()); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		}
	}
	ws.log.Info("Worker server stopped.")
}

// Shutdown 优雅地关闭调度器和 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	if ws.scheduled.Load() {
		ws.scheduler.Shutdown()
	}
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
