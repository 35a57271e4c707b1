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
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hireflow automation engine",
	Long:  `Run the hireflow automation engine`,
	Run:   runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServer(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	if shutdown, err := observability.SetupTracing(context.Background(), cfg); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	} else {
		appLogger.Warnf("init tracing: %v", err)
	}

	// 初始化数据库
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}
	if err := db.AutoMigrate(
		&models.Candidate{}, &models.Job{}, &models.Application{}, &models.CandidateNote{},
		&models.Automation{}, &models.AutomationRun{}, &models.ActionOutcome{},
		&models.ScheduledAction{}, &models.AutomationTemplate{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	var sender courier.Sender
	if cfg.Courier.Enabled {
		sender = courier.NewClient(&courier.Config{
			BaseURL:    cfg.Courier.BaseURL,
			APIKey:     cfg.Courier.APIKey,
			Timeout:    cfg.Courier.Timeout,
			MaxRetries: cfg.Courier.MaxRetries,
		}, appLogger)
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interval := cfg.Engine.SchedulerInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go dispatcher.StartScheduler(ctx, interval)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	healthHandler := handlers.NewHealthHandler()
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	feedHandler := handlers.NewFeedHandler(feedHub)
	router.GET("/ws/runs", feedHandler.HandleWebSocket)
	router.GET("/stats", feedHandler.GetStats)

	api := router.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService, templateService, appLogger))
	handlers.RegisterEventRoutes(api, handlers.NewEventHandler(automationService, appLogger))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		appLogger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

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
