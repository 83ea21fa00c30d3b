package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"auditwatch/api/middleware"
	"auditwatch/api/server"
	"auditwatch/internal/config"
	"auditwatch/internal/database"
	"auditwatch/internal/elasticsearch"
	"auditwatch/internal/events"
	"auditwatch/internal/geoip"
	"auditwatch/internal/ingest"
	"auditwatch/internal/logger"
	"auditwatch/internal/metrics"
	"auditwatch/internal/notification"
	"auditwatch/internal/notifier"
	"auditwatch/internal/state"
	"auditwatch/internal/store"
)

var (
	configFile = flag.String("config", "etc/config.yaml", "Path to configuration file")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	// 加载配置
	var cfg *config.Config

	// 优先从配置文件加载，如果失败则从环境变量加载
	if _, err := os.Stat(*configFile); err == nil {
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			fmt.Printf("Failed to load config from file: %v\n", err)
			fmt.Println("Falling back to environment variables...")
			cfg = config.Load()
		}
	} else {
		fmt.Println("Config file not found, loading from environment variables...")
		cfg = config.Load()
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志系统
	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Output,
		zap.String("service", "auditwatch"), zap.String("version", version)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting auditwatch",
		zap.String("version", version),
		zap.String("config_file", *configFile),
	)

	// 初始化数据库
	if err := database.InitDB(database.Config{
		Driver:       cfg.Database.Driver,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		DBName:       cfg.Database.DBName,
		SSLMode:      cfg.Database.SSLMode,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		LogLevel:     cfg.Database.LogLevel,
	}); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	db := database.GetDB()

	logger.Info("Database initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.DBName),
	)

	engineState, redisClient := buildState(cfg, db)

	registry := events.NewRegistry()
	if cfg.Events.File != "" {
		loaded, err := events.LoadFile(cfg.Events.File)
		if err != nil {
			logger.Fatal("Failed to load event kinds", zap.String("file", cfg.Events.File), zap.Error(err))
		}
		registry = loaded
	}

	m := metrics.New(nil)

	// 初始化 Elasticsearch（如果启用）
	esClient, err := elasticsearch.NewClient(cfg.Elasticsearch, logger.Named("elasticsearch"))
	if err != nil {
		logger.Fatal("Failed to initialize Elasticsearch", zap.Error(err))
	}
	if esClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := esClient.CreateIndexTemplate(ctx); err != nil {
			logger.Warn("Failed to create index template", zap.Error(err))
		}
		cancel()
		logger.Info("Elasticsearch initialized")
	} else {
		logger.Info("Elasticsearch is disabled")
	}

	var journal *logger.Journal
	if cfg.Engine.JournalDir != "" {
		journal, err = logger.NewJournal(cfg.Engine.JournalDir)
		if err != nil {
			logger.Fatal("Failed to open delivery journal", zap.Error(err))
		}
	}

	// 通知渠道
	var mailer notifier.Mailer
	if cfg.Notify.SMTP.Enabled {
		mailer = notifier.NewEmailSender(notifier.SMTPConfig{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
			From:     cfg.Notify.SMTP.From,
			Security: cfg.Notify.SMTP.Security,
			Timeout:  time.Duration(cfg.Notify.SMTP.Timeout) * time.Second,
		})
	}
	var texter notifier.Texter
	if cfg.Notify.SMS.Enabled {
		texter = notifier.NewSMSSender(notifier.SMSConfig{
			BaseURL:    cfg.Notify.SMS.BaseURL,
			AccountSID: cfg.Notify.SMS.AccountSID,
			AuthToken:  cfg.Notify.SMS.AuthToken,
			From:       cfg.Notify.SMS.From,
			Timeout:    time.Duration(cfg.Notify.SMS.Timeout) * time.Second,
		})
	}

	gateway := notifier.NewGateway(mailer, texter, journal, m, logger.Named("notifier"))
	queue := notifier.NewQueue(gateway, cfg.Engine.DeliveryWorkers, cfg.Engine.QueueSize, m, logger.Named("queue"))
	queue.Start()

	// Validate 已检查时区
	loc, _ := cfg.Engine.Location()
	layouts := notification.Layouts{
		Date:     cfg.Engine.DateFormat,
		Time:     cfg.Engine.TimeFormat,
		Location: loc,
	}

	matcher := notification.NewMatcher(layouts, notification.WithUserDirectory(store.NewGormUserDirectory(db)))
	renderer := notification.NewTemplateRenderer(cfg.Notify.Site, registry, matcher)
	if cfg.Engine.DefaultSubject != "" {
		renderer.DefaultSubject = cfg.Engine.DefaultSubject
	}
	if cfg.Engine.DefaultBody != "" {
		renderer.DefaultBody = cfg.Engine.DefaultBody
	}

	rules := store.NewGormRuleStore(db, logger.Named("rules"))
	ruleCache := store.NewCachedRuleStore(rules, cfg.Engine.RuleCacheTTLDuration())

	dispatcher := notification.NewDispatcher(ruleCache, queue,
		notification.WithCatalogSource(cfg.Catalog.Source),
		notification.WithLayouts(layouts),
		notification.WithMatcher(matcher),
		notification.WithRenderer(renderer),
		notification.WithSeverity(registry),
		notification.WithState(engineState),
		notification.WithMetrics(m),
		notification.WithLogger(logger.Named("dispatcher")),
	)

	eventStore := store.NewGormEventStore(db)
	pipelineOpts := []ingest.Option{
		ingest.WithMetrics(m),
		ingest.WithLogger(logger.Named("ingest")),
	}
	if esClient != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithIndexer(esClient, cfg.Elasticsearch.BufferSize))
		if cfg.Elasticsearch.GeoIP.Enabled {
			geo := geoip.NewService(db, cfg.Elasticsearch.GeoIP.APIURL,
				time.Duration(cfg.Elasticsearch.GeoIP.Timeout)*time.Second)
			pipelineOpts = append(pipelineOpts, ingest.WithGeoLocator(geo))
		}
	}
	pipeline := ingest.NewPipeline(eventStore, dispatcher, registry, pipelineOpts...)
	pipeline.Start()

	var rateLimiter *middleware.IPRateLimiter
	if cfg.Server.RateLimit.Enabled {
		rateLimiter = middleware.NewIPRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RPS,
			BurstSize:         cfg.Server.RateLimit.Burst,
		})
	}

	apiServer := server.NewServer(server.Deps{
		Ingester:    pipeline,
		Events:      eventStore,
		Rules:       rules,
		Cache:       ruleCache,
		Evaluator:   dispatcher,
		ES:          esClient,
		Journal:     journal,
		Catalog:     cfg.Catalog.Source,
		Registry:    registry,
		Config:      cfg,
		RateLimiter: rateLimiter,
		Logger:      logger.Named("api"),
	})

	// 设置信号处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 启动HTTP服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("auditwatch is running",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("delivery_workers", cfg.Engine.DeliveryWorkers),
		zap.String("login_history", cfg.Engine.LoginHistory),
	)

	// 等待信号
	sig := <-sigChan
	logger.Info("Received signal, shutting down...", zap.String("signal", sig.String()))

	// 优雅关闭：先停止接收请求，再排空发送队列和 ES 缓冲
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	if err := pipeline.Stop(ctx); err != nil {
		logger.Warn("Ingest pipeline shutdown", zap.Error(err))
	}
	if err := queue.Stop(ctx); err != nil {
		logger.Warn("Delivery queue shutdown", zap.Error(err))
	}
	if rateLimiter != nil {
		rateLimiter.Stop()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := database.Close(); err != nil {
		logger.Warn("Database close", zap.Error(err))
	}

	logger.Info("auditwatch stopped")
}

// buildState picks the counter and first-login backends. Redis counters are
// shared between instances; login history follows engine.login_history.
func buildState(cfg *config.Config, db *gorm.DB) (*state.EngineState, *redis.Client) {
	var (
		engineState *state.EngineState
		client      *redis.Client
	)

	if cfg.Redis.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		engineState = state.NewRedis(client, cfg.Engine.CounterTTLDuration())
		logger.Info("Redis state initialized", zap.String("addr", cfg.Redis.Addr))
	} else {
		engineState = state.NewMemory(cfg.Engine.CounterTTLDuration())
	}

	switch cfg.Engine.LoginHistory {
	case "database":
		engineState.Logins = store.NewGormLoginHistory(db)
	case "memory":
		engineState.Logins = state.NewMemoryLoginHistory()
	}

	return engineState, client
}
