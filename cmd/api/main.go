package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"assistant-guard/internal/config"
	"assistant-guard/internal/domain"
	"assistant-guard/internal/handler"
	"assistant-guard/internal/logger"
	"assistant-guard/internal/notifier"
	"assistant-guard/internal/service"
	"assistant-guard/internal/storage"
)

func main() {
	// Carregar configurações
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	engineConfig := cfg.EngineConfig()

	// Inicializar logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	appLogger.Info("Starting Assistant Guard API", map[string]interface{}{
		"version":   "1.0.0",
		"log_level": cfg.LogLevel,
		"port":      cfg.ServerPort,
		"storage":   cfg.StorageType,
	})

	// Inicializar storage conforme o modo configurado
	storageFactory := storage.NewStorageFactory()
	stores, err := storageFactory.CreateStores(&storage.StorageConfig{
		Type:       storage.StorageType(cfg.StorageType),
		SQLitePath: cfg.SQLitePath,
		RedisConfig: &storage.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			Database: cfg.RedisDB,
		},
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize storage", err, nil)
		os.Exit(1)
	}

	// Notificador de segurança: webhook quando configurado, log caso contrário
	var securityNotifier domain.SecurityNotifier
	if cfg.SecurityWebhookURL != "" {
		securityNotifier = notifier.NewWebhookNotifier(cfg.SecurityWebhookURL, appLogger)
		appLogger.Info("Using webhook security notifier", nil)
	} else {
		securityNotifier = notifier.NewLogNotifier(appLogger)
	}

	// Inicializar services
	reflinkRegistry := service.NewReflinkRegistry(stores.Reflinks, stores.Logs, appLogger)
	blacklistManager := service.NewBlacklistManager(stores.Blacklist, securityNotifier, engineConfig, appLogger)
	rateLimiter := service.NewRateLimiter(
		stores.Windows,
		reflinkRegistry,
		blacklistManager,
		stores.Logs,
		engineConfig,
		appLogger,
	)

	// Job de limpeza periódica
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	cleanupJob := service.NewCleanupJob(stores.Windows, stores.Logs, blacklistManager, engineConfig, appLogger)
	cleanupJob.Start(cleanupCtx)

	// Inicializar handlers
	handlers := handler.NewHandlers(rateLimiter, reflinkRegistry, blacklistManager, stores.Windows, appLogger)

	// Configurar Gin
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Criar router
	router := gin.New()

	// Middlewares globais
	router.Use(gin.Recovery())

	// Middleware de logging customizado
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	// Configurar rotas
	handlers.SetupRoutes(router)

	// Configurar servidor HTTP
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Iniciar servidor em goroutine
	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": cfg.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	// Aguardar sinais de interrupção
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("🚀 Assistant Guard API is running!", map[string]interface{}{
		"port": cfg.ServerPort,
		"endpoints": []string{
			"GET    /health",
			"GET    /metrics",
			"POST   /assistant/chat   (rate limited)",
			"POST   /assistant/voice  (rate limited)",
			"GET    /admin/status",
			"POST   /admin/reflinks",
			"GET    /admin/reflinks",
			"GET    /admin/reflinks/:id/usage",
			"GET    /admin/blacklist",
			"POST   /admin/blacklist",
			"POST   /admin/blacklist/:ip/reinstate",
			"POST   /admin/violations",
		},
		"rate_limits": map[string]interface{}{
			"default_daily_limit": engineConfig.DefaultDailyLimit,
			"window":              engineConfig.WindowSize.String(),
			"cleanup_interval":    engineConfig.CleanupInterval.String(),
			"block_threshold":     engineConfig.MaxViolationsBeforeBlock,
		},
	})

	// Bloquear até receber sinal
	<-quit
	appLogger.Info("Shutting down server...", nil)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
		os.Exit(1)
	}

	// Encerra o job de limpeza e fecha o storage
	cancelCleanup()
	cleanupJob.Stop()

	if err := stores.Windows.Close(); err != nil {
		appLogger.Error("Failed to close window storage", err, nil)
	}

	appLogger.Info("Server stopped gracefully", nil)
}
