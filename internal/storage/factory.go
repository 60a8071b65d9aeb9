package storage

import (
	"fmt"
	"strings"

	"assistant-guard/internal/domain"
)

// StorageType define os tipos de storage disponíveis
type StorageType string

const (
	MemoryStorageType StorageType = "memory"
	SQLiteStorageType StorageType = "sqlite"
	RedisStorageType  StorageType = "redis"
)

// StorageConfig contém configurações para criação dos stores
type StorageConfig struct {
	Type        StorageType
	SQLitePath  string
	RedisConfig *RedisConfig
}

// RedisConfig contém configurações específicas do Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Database int
}

// Stores agrupa os quatro stores independentes do motor
// Nenhum componente escreve nos registros de outro
type Stores struct {
	Windows   domain.WindowStore
	Reflinks  domain.ReflinkStore
	Blacklist domain.BlacklistStore
	Logs      domain.RateLimitLogStore
}

// StorageFactory cria os stores conforme a configuração (Strategy Pattern)
type StorageFactory struct{}

// NewStorageFactory cria uma nova instância da factory
func NewStorageFactory() *StorageFactory {
	return &StorageFactory{}
}

// CreateStores cria o conjunto de stores baseado na configuração
//   - memory: todos os stores em memória (desenvolvimento e testes)
//   - sqlite: todos os stores sobre gorm/SQLite
//   - redis: janelas no Redis (hot path) e o restante sobre gorm/SQLite
func (f *StorageFactory) CreateStores(config *StorageConfig, logger domain.Logger) (*Stores, error) {
	if config == nil {
		return nil, fmt.Errorf("storage config cannot be nil")
	}

	switch StorageType(strings.ToLower(string(config.Type))) {
	case MemoryStorageType:
		return f.createMemoryStores(logger)
	case SQLiteStorageType:
		return f.createSQLiteStores(config.SQLitePath, logger)
	case RedisStorageType:
		return f.createRedisStores(config, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// createMemoryStores cria todos os stores em memória
func (f *StorageFactory) createMemoryStores(logger domain.Logger) (*Stores, error) {
	if logger != nil {
		logger.Info("Using memory storage", nil)
	}

	return &Stores{
		Windows:   NewMemoryWindowStore(logger),
		Reflinks:  NewMemoryReflinkStore(),
		Blacklist: NewMemoryBlacklistStore(),
		Logs:      NewMemoryLogStore(),
	}, nil
}

// createSQLiteStores cria todos os stores sobre gorm/SQLite
func (f *StorageFactory) createSQLiteStores(path string, logger domain.Logger) (*Stores, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("Using sqlite storage", map[string]interface{}{
			"path": path,
		})
	}

	return &Stores{
		Windows:   NewGormWindowStore(db),
		Reflinks:  NewGormReflinkStore(db),
		Blacklist: NewGormBlacklistStore(db),
		Logs:      NewGormLogStore(db),
	}, nil
}

// createRedisStores cria o modo híbrido: contadores de janela no Redis
// e reflinks/blacklist/auditoria sobre gorm/SQLite
func (f *StorageFactory) createRedisStores(config *StorageConfig, logger domain.Logger) (*Stores, error) {
	if config.RedisConfig == nil {
		return nil, fmt.Errorf("Redis config cannot be nil")
	}

	windows, err := NewRedisWindowStore(
		config.RedisConfig.Host,
		config.RedisConfig.Port,
		config.RedisConfig.Password,
		config.RedisConfig.Database,
		logger,
	)
	if err != nil {
		return nil, err
	}

	db, err := OpenSQLite(config.SQLitePath)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("Using redis storage for windows", map[string]interface{}{
			"host":        config.RedisConfig.Host,
			"port":        config.RedisConfig.Port,
			"sqlite_path": config.SQLitePath,
		})
	}

	return &Stores{
		Windows:   windows,
		Reflinks:  NewGormReflinkStore(db),
		Blacklist: NewGormBlacklistStore(db),
		Logs:      NewGormLogStore(db),
	}, nil
}
