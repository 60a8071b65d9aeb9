package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"assistant-guard/internal/domain"

	"github.com/joho/godotenv"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Engine Configuration
	WindowSizeMs             int
	DefaultDailyLimit        int
	CleanupIntervalMs        int
	LogRetentionDays         int
	MaxViolationsBeforeBlock int
	AutoReinstateAfterDays   int

	// Storage Configuration
	StorageType string
	SQLitePath  string

	// Redis Configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Server Configuration
	ServerPort string
	GinMode    string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Security Notifier Configuration
	SecurityWebhookURL string
}

// Load carrega as configurações do .env e das variáveis de ambiente
func Load() (*Config, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	config := &Config{
		// Storage defaults
		StorageType: getEnvWithDefault("STORAGE_TYPE", "memory"),
		SQLitePath:  getEnvWithDefault("SQLITE_PATH", "assistant_guard.db"),

		// Redis defaults
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		// Server defaults
		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		// Logging defaults
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		// Notifier defaults
		SecurityWebhookURL: getEnvWithDefault("SECURITY_WEBHOOK_URL", ""),
	}

	// Parse das configurações numéricas
	intVars := []struct {
		name         string
		defaultValue string
		target       *int
	}{
		{"WINDOW_SIZE_MS", "86400000", &config.WindowSizeMs},
		{"DEFAULT_DAILY_LIMIT", "50", &config.DefaultDailyLimit},
		{"CLEANUP_INTERVAL_MS", "3600000", &config.CleanupIntervalMs},
		{"LOG_RETENTION_DAYS", "30", &config.LogRetentionDays},
		{"MAX_VIOLATIONS_BEFORE_BLOCK", "2", &config.MaxViolationsBeforeBlock},
		{"AUTO_REINSTATE_AFTER_DAYS", "30", &config.AutoReinstateAfterDays},
		{"REDIS_DB", "0", &config.RedisDB},
	}

	for _, v := range intVars {
		value, err := strconv.Atoi(getEnvWithDefault(v.name, v.defaultValue))
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", v.name, err)
		}
		*v.target = value
	}

	// Valida configurações obrigatórias
	if err := validate(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// EngineConfig converte a configuração da aplicação para a configuração do motor
func (c *Config) EngineConfig() *domain.EngineConfig {
	return &domain.EngineConfig{
		WindowSize:               time.Duration(c.WindowSizeMs) * time.Millisecond,
		DefaultDailyLimit:        c.DefaultDailyLimit,
		CleanupInterval:          time.Duration(c.CleanupIntervalMs) * time.Millisecond,
		LogRetentionDays:         c.LogRetentionDays,
		MaxViolationsBeforeBlock: c.MaxViolationsBeforeBlock,
		AutoReinstateAfterDays:   c.AutoReinstateAfterDays,
	}
}

// validate valida se as configurações são válidas
func validate(config *Config) error {
	if config.WindowSizeMs <= 0 {
		return fmt.Errorf("WINDOW_SIZE_MS must be greater than 0")
	}

	if config.DefaultDailyLimit != domain.UnlimitedDailyLimit && config.DefaultDailyLimit <= 0 {
		return fmt.Errorf("DEFAULT_DAILY_LIMIT must be -1 (unlimited) or greater than 0")
	}

	if config.CleanupIntervalMs <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL_MS must be greater than 0")
	}

	if config.LogRetentionDays <= 0 {
		return fmt.Errorf("LOG_RETENTION_DAYS must be greater than 0")
	}

	if config.MaxViolationsBeforeBlock < 1 {
		return fmt.Errorf("MAX_VIOLATIONS_BEFORE_BLOCK must be at least 1")
	}

	if config.AutoReinstateAfterDays <= 0 {
		return fmt.Errorf("AUTO_REINSTATE_AFTER_DAYS must be greater than 0")
	}

	switch config.StorageType {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("STORAGE_TYPE must be 'memory', 'sqlite' or 'redis'")
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	return nil
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
