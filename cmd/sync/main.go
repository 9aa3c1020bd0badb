package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"hudhud.im.sync/internal/api"
	"hudhud.im.sync/internal/api/handler"
	"hudhud.im.sync/internal/cache"
	"hudhud.im.sync/internal/config"
	"hudhud.im.sync/internal/firebase"
	"hudhud.im.sync/internal/health"
	cmdHandler "hudhud.im.sync/internal/handler"
	"hudhud.im.sync/internal/jwt"
	"hudhud.im.sync/internal/media"
	"hudhud.im.sync/internal/metrics"
	imNats "hudhud.im.sync/internal/nats"
	"hudhud.im.sync/internal/push"
	"hudhud.im.sync/internal/repository"
	"hudhud.im.sync/internal/service"
	"hudhud.im.sync/internal/snowflake"
	"hudhud.im.sync/internal/task"
)

const (
	upstreamQueue = "sync-group"
	pushQueue     = "push-group"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		logger.Error("Failed to create snowflake node", "nodeId", cfg.App.NodeID, "error", err)
		os.Exit(1)
	}

	// 连接 NATS
	natsClient, err := imNats.NewClient(cfg.NATS, cfg.App.Name)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 连接 Redis
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()
	logger.Info("Connected to Redis", "host", cfg.Redis.Host)

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := repository.EnsureSchema(ctx, db); err != nil {
		logger.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 存储层
	convRepo := repository.NewConversationRepository(redisClient)
	messageRepo := repository.NewMessageRepository(db)
	postRepo := repository.NewPostRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	likeRepo := repository.NewLikeRepository(redisClient)
	presenceRepo := repository.NewPresenceRepository(redisClient, cfg.Presence.TTL)
	settingsRepo := repository.NewSettingsRepository(redisClient)
	tokenRepo := repository.NewPushTokenRepository(redisClient)

	// Firebase：推送与对象存储，未启用时两者都关闭
	var (
		blobs  service.BlobStore
		sender push.Sender
	)
	if cfg.Firebase.Enabled {
		app, err := firebase.NewApp(ctx, cfg.Firebase)
		if err != nil {
			logger.Error("Failed to initialize firebase", "error", err)
			os.Exit(1)
		}
		messagingClient, err := app.Messaging(ctx)
		if err != nil {
			logger.Error("Failed to create messaging client", "error", err)
			os.Exit(1)
		}
		sender = messagingClient
		store, err := media.NewFirebaseStore(ctx, app, cfg.Firebase.StorageBucket)
		if err != nil {
			logger.Error("Failed to open storage bucket", "error", err)
			os.Exit(1)
		}
		blobs = store
		logger.Info("Firebase initialized", "projectId", cfg.Firebase.ProjectID)
	}

	// 本地快照，打开失败时不做降级读取
	var snapshots service.SnapshotCache
	snapshot, err := cache.Open(cfg.Cache.Dir, nil)
	if err != nil {
		logger.Warn("Snapshot cache disabled", "dir", cfg.Cache.Dir, "error", err)
	} else {
		defer snapshot.Close()
		snapshots = snapshot
	}

	// 发送重试调度
	scheduler := task.NewScheduler(cfg.Retry.WorkerCount)
	if err := scheduler.Start(); err != nil {
		logger.Error("Failed to start retry scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	// 初始化服务
	publisher := imNats.NewEventPublisher(natsClient.Conn())
	conversationService := service.NewConversationService(convRepo, messageRepo, publisher, snapshots, node)
	messageService := service.NewMessageService(service.MessageServiceDeps{
		Convs:         convRepo,
		Messages:      messageRepo,
		Conversations: conversationService,
		Publisher:     publisher,
		Blobs:         blobs,
		Cache:         snapshots,
		Retry:         scheduler,
		Presence:      presenceRepo,
		IDs:           node,
		MaxAttempts:   cfg.Retry.MaxAttempts,
	})
	feedService := service.NewFeedService(postRepo, notificationRepo, likeRepo, publisher, blobs, node, cfg.Feed.Moderators)
	presenceService := service.NewPresenceService(presenceRepo, messageService, cfg.Sweep.PurgeOldMessages, cfg.Sweep.MessageRetention)
	settingsService := service.NewSettingsService(settingsRepo, cfg.Settings)
	dispatcher := push.NewDispatcher(sender, tokenRepo, cfg.Push.RatePerSecond, cfg.Push.Burst)

	// 上行命令订阅
	commands := cmdHandler.NewCommandHandler(messageService, feedService, presenceService, publisher)
	upstream := imNats.NewSubscriber(natsClient.Conn(), imNats.SubjectUpstream, upstreamQueue, commands.Handle, cfg.Subscriber)
	if err := upstream.Start(ctx); err != nil {
		logger.Error("Failed to start upstream subscriber", "error", err)
		os.Exit(1)
	}

	// 推送请求订阅
	pushSub := imNats.NewSubscriber(natsClient.Conn(), imNats.SubjectPushNotification, pushQueue, dispatcher.Handle, cfg.Subscriber)
	if err := pushSub.Start(ctx); err != nil {
		logger.Error("Failed to start push subscriber", "error", err)
		os.Exit(1)
	}

	// 过期清理
	sweeper := service.NewSweepService(feedService, cfg.Sweep.Cron)
	if cfg.Sweep.OnStartup {
		if _, err := sweeper.RunOnce(ctx); err != nil {
			logger.Warn("Startup sweep failed", "error", err)
		}
	}
	sweeper.Start(ctx)

	// HTTP API
	jwtService := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)
	router := api.SetupRouter(cfg.HTTP.Mode, cfg.HTTP.CORSOrigins, jwtService, api.Handlers{
		Conversations: handler.NewConversationHandler(conversationService),
		Messages:      handler.NewMessageHandler(messageService),
		Feed:          handler.NewFeedHandler(feedService),
		Account:       handler.NewAccountHandler(settingsService, dispatcher, presenceService),
	})
	apiServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go serve(apiServer, "API", logger)

	// 健康检查与指标
	checker := health.NewChecker(cfg.App.Name, natsClient.Conn(),
		health.PingerFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }), db)
	healthServer := newHealthServer(cfg.HTTP.HealthAddr, checker)
	go serve(healthServer, "Health", logger)

	logger.Info("Sync service started", "name", cfg.App.Name, "api", cfg.HTTP.Addr, "health", cfg.HTTP.HealthAddr)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = healthServer.Shutdown(shutdownCtx)

	_ = upstream.Stop()
	_ = pushSub.Stop()
	sweeper.Stop()
	logger.Info("Retry scheduler stopping", "stats", scheduler.GetStats())
	cancel()
	logger.Info("Sync service stopped")
}

// newHealthServer /health、/ready 与 /metrics
func newHealthServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/health", checker)
	mux.HandleFunc("/ready", checker.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serve(server *http.Server, name string, logger *slog.Logger) {
	logger.Info("HTTP server started", "server", name, "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server failed", "server", name, "error", err)
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}
