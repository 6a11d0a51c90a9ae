package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/hookz"
	"gorm.io/gorm"

	httpHandler "classroom-whiteboard/internal/handler/http"
	wsHandler "classroom-whiteboard/internal/handler/websocket"
	"classroom-whiteboard/internal/hub"
	"classroom-whiteboard/internal/infra/discovery"
	gormpersistence "classroom-whiteboard/internal/infra/persistence/gorm"
	"classroom-whiteboard/internal/infra/setup"
	memorystate "classroom-whiteboard/internal/infra/state/memory"
	redisstate "classroom-whiteboard/internal/infra/state/redis"
	"classroom-whiteboard/internal/metrics"
	"classroom-whiteboard/internal/middleware"
	"classroom-whiteboard/internal/service"
	"classroom-whiteboard/internal/worker"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DB              setup.DBConfig
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KeyPrefix       string
	JWTSecret       string
	TicketTTLHours  int
	ServerPort      string
	LogLevel        string
	AppEnv          string // development / production
	CORSOrigin      string
	RateLimitMax    int
	RateLimitWindow time.Duration
	ActionLogCap    int  // 每个房间内存中保留的操作日志条数
	MDNSEnabled     bool // 是否在局域网广播服务
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		DB: setup.DBConfig{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     os.Getenv("DB_HOST"),
			Port:     os.Getenv("DB_PORT"),
			Name:     os.Getenv("DB_NAME"),
		},
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:       os.Getenv("REDIS_KEY_PREFIX"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		ServerPort:      os.Getenv("SERVER_PORT"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		AppEnv:          os.Getenv("APP_ENV"),
		CORSOrigin:      os.Getenv("CORS_ALLOWED_ORIGIN"),
		RedisDB:         envInt("REDIS_DB", 0),
		TicketTTLHours:  envInt("TICKET_TTL_HOURS", 12),
		RateLimitMax:    envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: time.Second,
		ActionLogCap:    envInt("ACTION_LOG_CAP", 500),
		MDNSEnabled:     os.Getenv("MDNS_ENABLED") == "true",
	}

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "wb:"
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "http://localhost:3000"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT %q: %w", cfg.ServerPort, err)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// NewLogger 按环境选择输出格式
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	return log
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	Hooks       *hookz.Hooks[service.RoomEvent]
	HttpServer  *http.Server
	advertiser  *discovery.Advertiser
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger，包级别的 logrus 也使用相同配置
	log := NewLogger(cfg)
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(log.GetLevel())
	log.Infof("Logger initialized (Level: %s)", log.GetLevel())

	// 3. 初始化基础设施
	db, err := setup.InitDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Redis and Asynq client initialized")

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	// 4. 初始化 Repositories
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	actionRepo := gormpersistence.NewGormActionRepository(db)
	snapshotRepo := gormpersistence.NewGormSnapshotRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	roomStore := memorystate.NewRoomStore(cfg.ActionLogCap)

	// 5. 初始化 Services 和房间活动事件
	roomService, err := service.NewRoomService(roomRepo, cfg.JWTSecret, cfg.TicketTTLHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create RoomService: %w", err)
	}
	snapshotService := service.NewSnapshotService(snapshotRepo, stateRepo, actionRepo, m)

	hooks := service.NewRoomEventHooks()
	activity := service.NewActivityService(stateRepo, roomRepo, asynqClient)
	if err := activity.Register(hooks); err != nil {
		return nil, fmt.Errorf("failed to register room activity hooks: %w", err)
	}
	collabService := service.NewCollaborationService(roomStore, hooks, m)
	log.Info("Services initialized")

	// 6. Hub
	hubInstance := hub.NewHub(collabService, m)

	// 7. Worker
	snapshotHandler := worker.NewSnapshotCheckHandler(roomStore, snapshotService, stateRepo)
	workerServer := worker.NewWorkerServer(redisClientOpt, actionRepo, snapshotHandler, log)

	// 8. Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := NewRouter(RouterDeps{
		Log:             log,
		CORSOrigin:      cfg.CORSOrigin,
		RoomHandler:     httpHandler.NewRoomHandler(roomService),
		SnapshotHandler: httpHandler.NewSnapshotHandler(snapshotService, roomStore),
		WSHandler:       wsHandler.NewWebSocketHandler(hubInstance, roomService, cfg.CORSOrigin),
		Tickets:         roomService,
		RateLimiter:     stateRepo,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		Metrics:         m,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Hub:         hubInstance,
		Hooks:       hooks,
		HttpServer:  httpServer,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// RouterDeps 是构建路由所需的组件
type RouterDeps struct {
	Log             *logrus.Logger
	CORSOrigin      string
	RoomHandler     *httpHandler.RoomHandler
	SnapshotHandler *httpHandler.SnapshotHandler
	WSHandler       *wsHandler.WebSocketHandler
	Tickets         middleware.TicketParser
	RateLimiter     middleware.RateLimiter // 为 nil 时不限流
	RateLimitMax    int
	RateLimitWindow time.Duration
	Metrics         *metrics.Metrics
}

// NewRouter 注册所有 HTTP 和 WebSocket 路由
func NewRouter(d RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(d.Log))
	router.Use(corsMiddleware(d.CORSOrigin))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	api := router.Group("/api")
	if d.RateLimiter != nil {
		api.Use(middleware.RateLimit(d.RateLimiter, d.RateLimitMax, d.RateLimitWindow))
	}
	api.GET("/health", httpHandler.Health)
	rooms := api.Group("/rooms")
	{
		rooms.POST("", d.RoomHandler.CreateRoom)
		rooms.GET("/:roomId", d.RoomHandler.GetRoom)
		rooms.POST("/:roomId/tickets", d.RoomHandler.IssueTicket)
		rooms.GET("/:roomId/snapshots/latest", d.SnapshotHandler.LatestSnapshot)
		rooms.GET("/:roomId/export.pdf", d.SnapshotHandler.ExportPDF)
	}

	ws := router.Group("/ws")
	ws.Use(middleware.RoomTicket(d.Tickets))
	{
		ws.GET("/room/:roomId", d.WSHandler.HandleConnection)
	}
	return router
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	go a.Hub.Run()
	go a.AsynqServer.Start()

	if a.Config.MDNSEnabled {
		port, _ := strconv.Atoi(a.Config.ServerPort)
		adv, err := discovery.Advertise(port)
		if err != nil {
			a.Log.WithError(err).Warn("mDNS advertisement disabled")
		} else {
			a.advertiser = adv
		}
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新连接
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}
	if err := a.advertiser.Shutdown(); err != nil {
		a.Log.Errorf("Error stopping mDNS advertisement: %v", err)
	}

	// 2. Hub 关闭所有客户端发送通道
	a.Hub.Stop()

	// 3. 等待已排队的房间活动事件处理完
	if err := a.Hooks.Close(); err != nil {
		a.Log.Errorf("Error closing room activity hooks: %v", err)
	}

	// 4. Worker 和 Asynq Client
	a.AsynqServer.Shutdown()
	if err := a.AsynqClient.Close(); err != nil {
		a.Log.Errorf("Error closing Asynq client: %v", err)
	}

	// 5. Redis 与数据库
	if err := a.RedisClient.Close(); err != nil {
		a.Log.Errorf("Error closing Redis connection: %v", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		// 票据在查询参数里，不记录 RawQuery
		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
