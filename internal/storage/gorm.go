package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"assistant-guard/internal/domain"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// windowModel é o modelo relacional de uma janela de contagem
type windowModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	Identifier     string `gorm:"size:128;not null;index:idx_windows_identifier"`
	IdentifierType string `gorm:"size:16;not null;index:idx_windows_identifier"`
	RequestsCount  int    `gorm:"not null"`
	WindowStart    time.Time
	WindowEnd      time.Time `gorm:"index"`
	ReflinkID      string    `gorm:"size:36"`
	CreatedAt      time.Time
}

func (windowModel) TableName() string { return "rate_limit_windows" }

// reflinkModel é o modelo relacional de um reflink
// Soft delete: janelas históricas mantêm a referência após remoção
type reflinkModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	Code          string `gorm:"size:64;uniqueIndex;not null"`
	Name          string `gorm:"size:128"`
	Description   string `gorm:"size:512"`
	RateLimitTier string `gorm:"size:16;not null"`
	DailyLimit    int    `gorm:"not null"`
	ExpiresAt     *time.Time
	IsActive      bool `gorm:"not null"`
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

func (reflinkModel) TableName() string { return "reflinks" }

// blacklistModel é o modelo relacional de uma entrada da blacklist
type blacklistModel struct {
	ID               string `gorm:"primaryKey;size:36"`
	IPAddress        string `gorm:"size:45;uniqueIndex;not null"`
	Reason           string `gorm:"type:text"`
	ViolationCount   int    `gorm:"not null"`
	FirstViolationAt time.Time
	LastViolationAt  time.Time
	BlockedAt        *time.Time `gorm:"index"`
	CanReinstate     bool
	ReinstatedAt     *time.Time
	ReinstatedBy     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (blacklistModel) TableName() string { return "blacklist_entries" }

// logModel é o modelo relacional de um registro de auditoria
type logModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	Identifier     string `gorm:"size:128;index"`
	IdentifierType string `gorm:"size:16"`
	Endpoint       string `gorm:"size:128"`
	IPAddress      string `gorm:"size:45"`
	Allowed        bool
	ReflinkID      string    `gorm:"size:36;index"`
	Timestamp      time.Time `gorm:"index"`
}

func (logModel) TableName() string { return "rate_limit_logs" }

// OpenSQLite abre (ou cria) o banco SQLite e aplica as migrações
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&windowModel{}, &reflinkModel{}, &blacklistModel{}, &logModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// GormWindowStore implementa domain.WindowStore sobre gorm
type GormWindowStore struct {
	db *gorm.DB
}

// NewGormWindowStore cria uma nova instância do GormWindowStore
func NewGormWindowStore(db *gorm.DB) *GormWindowStore {
	return &GormWindowStore{db: db}
}

// Get recupera a janela corrente de um identificador
func (g *GormWindowStore) Get(ctx context.Context, identifier string, identifierType domain.IdentifierType) (*domain.RateLimitWindow, error) {
	var model windowModel
	err := g.db.WithContext(ctx).
		Where("identifier = ? AND identifier_type = ? AND window_end > ?", identifier, string(identifierType), time.Now()).
		Order("window_end DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get window: %w", err)
	}

	return windowToDomain(&model), nil
}

// Admit executa a admissão atômica: a criação acontece em transação e o
// incremento é um UPDATE condicional verificado por RowsAffected, de modo
// que duas requisições concorrentes nunca ultrapassam o limite juntas
func (g *GormWindowStore) Admit(ctx context.Context, params domain.AdmitParams) (*domain.RateLimitWindow, bool, error) {
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	var result windowModel
	applied := false

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model windowModel
		err := tx.
			Where("identifier = ? AND identifier_type = ? AND window_end > ?", params.Identifier, string(params.IdentifierType), now).
			Order("window_end DESC").
			First(&model).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			// Janela ausente ou expirada: cria uma nova; a expirada
			// permanece no histórico até a purga de retenção
			model = windowModel{
				ID:             uuid.NewString(),
				Identifier:     params.Identifier,
				IdentifierType: string(params.IdentifierType),
				RequestsCount:  0,
				WindowStart:    now,
				WindowEnd:      now.Add(params.WindowSize),
				ReflinkID:      params.ReflinkID,
				CreatedAt:      now,
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		}

		// Incremento condicional: perde a corrida -> negado
		update := tx.Model(&windowModel{}).Where("id = ?", model.ID)
		if params.DailyLimit != domain.UnlimitedDailyLimit {
			update = update.Where("requests_count < ?", params.DailyLimit)
		}
		res := update.Update("requests_count", gorm.Expr("requests_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected == 1

		return tx.Where("id = ?", model.ID).First(&result).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to admit request: %w", err)
	}

	return windowToDomain(&result), applied, nil
}

// PurgeExpired remove janelas expiradas antes do horizonte de retenção
func (g *GormWindowStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	res := g.db.WithContext(ctx).Where("window_end < ?", before).Delete(&windowModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge windows: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Health verifica se o banco está acessível
func (g *GormWindowStore) Health(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close fecha a conexão com o banco
func (g *GormWindowStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormReflinkStore implementa domain.ReflinkStore sobre gorm
type GormReflinkStore struct {
	db *gorm.DB
}

// NewGormReflinkStore cria uma nova instância do GormReflinkStore
func NewGormReflinkStore(db *gorm.DB) *GormReflinkStore {
	return &GormReflinkStore{db: db}
}

// Create persiste um novo reflink, rejeitando colisão de código
func (g *GormReflinkStore) Create(ctx context.Context, reflink *domain.Reflink) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&reflinkModel{}).Where("code = ?", reflink.Code).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check reflink code: %w", err)
		}
		if count > 0 {
			return domain.NewDuplicateCodeError(reflink.Code)
		}

		if err := tx.Create(reflinkToModel(reflink)).Error; err != nil {
			return fmt.Errorf("failed to create reflink: %w", err)
		}
		return nil
	})
}

// GetByID recupera um reflink pelo ID
func (g *GormReflinkStore) GetByID(ctx context.Context, id string) (*domain.Reflink, error) {
	var model reflinkModel
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reflink: %w", err)
	}
	return reflinkToDomain(&model), nil
}

// GetByCode recupera um reflink pelo código
func (g *GormReflinkStore) GetByCode(ctx context.Context, code string) (*domain.Reflink, error) {
	var model reflinkModel
	err := g.db.WithContext(ctx).Where("code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reflink by code: %w", err)
	}
	return reflinkToDomain(&model), nil
}

// Update persiste as alterações de um reflink existente
func (g *GormReflinkStore) Update(ctx context.Context, reflink *domain.Reflink) error {
	res := g.db.WithContext(ctx).Model(&reflinkModel{}).Where("id = ?", reflink.ID).Updates(map[string]interface{}{
		"name":            reflink.Name,
		"description":     reflink.Description,
		"rate_limit_tier": string(reflink.RateLimitTier),
		"daily_limit":     reflink.DailyLimit,
		"expires_at":      reflink.ExpiresAt,
		"is_active":       reflink.IsActive,
		"updated_at":      reflink.UpdatedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update reflink: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFoundError("reflink", reflink.ID)
	}
	return nil
}

// Delete remove um reflink via soft delete do gorm
func (g *GormReflinkStore) Delete(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).Where("id = ?", id).Delete(&reflinkModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete reflink: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFoundError("reflink", id)
	}
	return nil
}

// List retorna todos os reflinks não removidos
func (g *GormReflinkStore) List(ctx context.Context) ([]*domain.Reflink, error) {
	var models []reflinkModel
	if err := g.db.WithContext(ctx).Order("created_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list reflinks: %w", err)
	}

	result := make([]*domain.Reflink, 0, len(models))
	for i := range models {
		result = append(result, reflinkToDomain(&models[i]))
	}
	return result, nil
}

// GormBlacklistStore implementa domain.BlacklistStore sobre gorm
type GormBlacklistStore struct {
	db *gorm.DB
}

// NewGormBlacklistStore cria uma nova instância do GormBlacklistStore
func NewGormBlacklistStore(db *gorm.DB) *GormBlacklistStore {
	return &GormBlacklistStore{db: db}
}

// GetByIP recupera a entrada de um IP
func (g *GormBlacklistStore) GetByIP(ctx context.Context, ip string) (*domain.BlacklistEntry, error) {
	var model blacklistModel
	err := g.db.WithContext(ctx).Where("ip_address = ?", ip).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get blacklist entry: %w", err)
	}
	return blacklistToDomain(&model), nil
}

// ApplyViolation registra uma violação dentro de uma transação
func (g *GormBlacklistStore) ApplyViolation(ctx context.Context, id, ip, reason string, blockThreshold int, now time.Time) (*domain.BlacklistEntry, error) {
	var entry *domain.BlacklistEntry

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model blacklistModel
		err := tx.Where("ip_address = ?", ip).First(&model).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			entry = domain.NewBlacklistEntry(id, ip, reason, now)
			return tx.Create(blacklistToModel(entry)).Error
		}

		entry = blacklistToDomain(&model)
		entry.RegisterViolation(reason, blockThreshold, now)
		return tx.Save(blacklistToModel(entry)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply violation: %w", err)
	}

	return entry, nil
}

// Upsert cria ou substitui a entrada de um IP
func (g *GormBlacklistStore) Upsert(ctx context.Context, entry *domain.BlacklistEntry) error {
	if err := g.db.WithContext(ctx).Save(blacklistToModel(entry)).Error; err != nil {
		return fmt.Errorf("failed to upsert blacklist entry: %w", err)
	}
	return nil
}

// List retorna todas as entradas da blacklist
func (g *GormBlacklistStore) List(ctx context.Context) ([]*domain.BlacklistEntry, error) {
	var models []blacklistModel
	if err := g.db.WithContext(ctx).Order("first_violation_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list blacklist entries: %w", err)
	}

	result := make([]*domain.BlacklistEntry, 0, len(models))
	for i := range models {
		result = append(result, blacklistToDomain(&models[i]))
	}
	return result, nil
}

// ListAutoReinstatable retorna entradas elegíveis para reintegração automática
func (g *GormBlacklistStore) ListAutoReinstatable(ctx context.Context, blockedBefore time.Time) ([]*domain.BlacklistEntry, error) {
	var models []blacklistModel
	err := g.db.WithContext(ctx).
		Where("blocked_at IS NOT NULL AND blocked_at < ? AND reinstated_at IS NULL AND can_reinstate = ?", blockedBefore, true).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reinstatable entries: %w", err)
	}

	result := make([]*domain.BlacklistEntry, 0, len(models))
	for i := range models {
		result = append(result, blacklistToDomain(&models[i]))
	}
	return result, nil
}

// GormLogStore implementa domain.RateLimitLogStore sobre gorm
type GormLogStore struct {
	db *gorm.DB
}

// NewGormLogStore cria uma nova instância do GormLogStore
func NewGormLogStore(db *gorm.DB) *GormLogStore {
	return &GormLogStore{db: db}
}

// Append registra uma verificação no log de auditoria
func (g *GormLogStore) Append(ctx context.Context, entry *domain.RateLimitLogEntry) error {
	model := &logModel{
		ID:             entry.ID,
		Identifier:     entry.Identifier,
		IdentifierType: string(entry.IdentifierType),
		Endpoint:       entry.Endpoint,
		IPAddress:      entry.IPAddress,
		Allowed:        entry.Allowed,
		ReflinkID:      entry.ReflinkID,
		Timestamp:      entry.Timestamp,
	}
	if err := g.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

// PurgeOlderThan remove registros anteriores ao horizonte de retenção
func (g *GormLogStore) PurgeOlderThan(ctx context.Context, before time.Time) (int, error) {
	res := g.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&logModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge log entries: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// UsageByReflink agrega as estatísticas de uso de um reflink
func (g *GormLogStore) UsageByReflink(ctx context.Context, reflinkID string) (*domain.ReflinkUsage, error) {
	usage := &domain.ReflinkUsage{RequestsByDay: []domain.DayCount{}}

	var total int64
	if err := g.db.WithContext(ctx).Model(&logModel{}).Where("reflink_id = ?", reflinkID).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	usage.TotalRequests = int(total)

	var blocked int64
	if err := g.db.WithContext(ctx).Model(&logModel{}).Where("reflink_id = ? AND allowed = ?", reflinkID, false).Count(&blocked).Error; err != nil {
		return nil, fmt.Errorf("failed to count blocked requests: %w", err)
	}
	usage.BlockedRequests = int(blocked)

	var unique int64
	if err := g.db.WithContext(ctx).Model(&logModel{}).Where("reflink_id = ?", reflinkID).Distinct("identifier").Count(&unique).Error; err != nil {
		return nil, fmt.Errorf("failed to count unique identifiers: %w", err)
	}
	usage.UniqueIdentifiers = int(unique)

	var byDay []domain.DayCount
	err := g.db.WithContext(ctx).Model(&logModel{}).
		Select("date(timestamp) AS day, count(*) AS count").
		Where("reflink_id = ?", reflinkID).
		Group("day").
		Order("day").
		Scan(&byDay).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate requests by day: %w", err)
	}
	if byDay != nil {
		usage.RequestsByDay = byDay
	}

	return usage, nil
}

// windowToDomain converte o modelo relacional para a entidade de domínio
func windowToDomain(model *windowModel) *domain.RateLimitWindow {
	return &domain.RateLimitWindow{
		ID:             model.ID,
		Identifier:     model.Identifier,
		IdentifierType: domain.IdentifierType(model.IdentifierType),
		RequestsCount:  model.RequestsCount,
		WindowStart:    model.WindowStart,
		WindowEnd:      model.WindowEnd,
		ReflinkID:      model.ReflinkID,
		CreatedAt:      model.CreatedAt,
	}
}

// reflinkToModel converte a entidade de domínio para o modelo relacional
func reflinkToModel(reflink *domain.Reflink) *reflinkModel {
	return &reflinkModel{
		ID:            reflink.ID,
		Code:          reflink.Code,
		Name:          reflink.Name,
		Description:   reflink.Description,
		RateLimitTier: string(reflink.RateLimitTier),
		DailyLimit:    reflink.DailyLimit,
		ExpiresAt:     reflink.ExpiresAt,
		IsActive:      reflink.IsActive,
		CreatedBy:     reflink.CreatedBy,
		CreatedAt:     reflink.CreatedAt,
		UpdatedAt:     reflink.UpdatedAt,
	}
}

// reflinkToDomain converte o modelo relacional para a entidade de domínio
func reflinkToDomain(model *reflinkModel) *domain.Reflink {
	return &domain.Reflink{
		ID:            model.ID,
		Code:          model.Code,
		Name:          model.Name,
		Description:   model.Description,
		RateLimitTier: domain.RateLimitTier(model.RateLimitTier),
		DailyLimit:    model.DailyLimit,
		ExpiresAt:     model.ExpiresAt,
		IsActive:      model.IsActive,
		CreatedBy:     model.CreatedBy,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

// blacklistToModel converte a entidade de domínio para o modelo relacional
func blacklistToModel(entry *domain.BlacklistEntry) *blacklistModel {
	return &blacklistModel{
		ID:               entry.ID,
		IPAddress:        entry.IPAddress,
		Reason:           entry.Reason,
		ViolationCount:   entry.ViolationCount,
		FirstViolationAt: entry.FirstViolationAt,
		LastViolationAt:  entry.LastViolationAt,
		BlockedAt:        entry.BlockedAt,
		CanReinstate:     entry.CanReinstate,
		ReinstatedAt:     entry.ReinstatedAt,
		ReinstatedBy:     entry.ReinstatedBy,
		CreatedAt:        entry.CreatedAt,
		UpdatedAt:        entry.UpdatedAt,
	}
}

// blacklistToDomain converte o modelo relacional para a entidade de domínio
func blacklistToDomain(model *blacklistModel) *domain.BlacklistEntry {
	return &domain.BlacklistEntry{
		ID:               model.ID,
		IPAddress:        model.IPAddress,
		Reason:           model.Reason,
		ViolationCount:   model.ViolationCount,
		FirstViolationAt: model.FirstViolationAt,
		LastViolationAt:  model.LastViolationAt,
		BlockedAt:        model.BlockedAt,
		CanReinstate:     model.CanReinstate,
		ReinstatedAt:     model.ReinstatedAt,
		ReinstatedBy:     model.ReinstatedBy,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}
