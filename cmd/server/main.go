package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hireflow/internal/config"
	"hireflow/internal/handlers"
	"hireflow/internal/middleware"
	"hireflow/internal/models"
	"hireflow/internal/observability"
	"hireflow/internal/services"
	"hireflow/pkg/courier"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	// 根据需要迁移（此处默认迁移，生产可改为条件控制）
	if err := db.AutoMigrate(
		&models.Candidate{}, &models.Job{}, &models.Application{}, &models.CandidateNote{},
		&models.Automation{}, &models.AutomationRun{}, &models.ActionOutcome{},
		&models.ScheduledAction{}, &models.AutomationTemplate{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 消息网关客户端（邮件/WhatsApp）
	var sender courier.Sender
	if cfg.Courier.Enabled {
		sender = courier.NewClient(&courier.Config{
			BaseURL:    cfg.Courier.BaseURL,
			APIKey:     cfg.Courier.APIKey,
			Timeout:    cfg.Courier.Timeout,
			MaxRetries: cfg.Courier.MaxRetries,
		}, appLogger)
	}

	// 动作分发与自动化引擎
	feedHub := services.NewRunFeedHub(appLogger)
	go feedHub.Run()

	dispatcher := services.NewActionDispatcher(db, appLogger)
	dispatcher.SetRunFeed(feedHub)
	if cfg.Engine.RequeueAfter > 0 {
		dispatcher.SetRequeueAfter(cfg.Engine.RequeueAfter)
	}
	services.RegisterDefaultExecutors(dispatcher, db, sender, appLogger)

	automationService := services.NewAutomationService(db, dispatcher, appLogger)
	templateService := services.NewTemplateService(db, appLogger)
	if err := templateService.Seed(context.Background()); err != nil {
		appLogger.Warnf("seed templates: %v", err)
	}

	// 延迟动作调度器
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interval := cfg.Engine.SchedulerInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go dispatcher.StartScheduler(ctx, interval)

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	// 健康检查
	healthHandler := handlers.NewHealthHandler()
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	// 实时执行反馈（WebSocket）与统计
	feedHandler := handlers.NewFeedHandler(feedHub)
	r.GET("/ws/runs", feedHandler.HandleWebSocket)
	r.GET("/stats", feedHandler.GetStats)

	// API 路由组
	api := r.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService, templateService, appLogger))
	handlers.RegisterEventRoutes(api, handlers.NewEventHandler(automationService, appLogger))

	// 启动服务器
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
