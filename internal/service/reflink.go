package service

import (
	"context"
	"strings"
	"time"

	"assistant-guard/internal/domain"

	"github.com/google/uuid"
)

// ReflinkRegistry implementa a gestão dos tokens de override nomeados
type ReflinkRegistry struct {
	reflinks domain.ReflinkStore
	logs     domain.RateLimitLogStore
	logger   domain.Logger
}

// NewReflinkRegistry cria uma nova instância do registry
func NewReflinkRegistry(
	reflinks domain.ReflinkStore,
	logs domain.RateLimitLogStore,
	logger domain.Logger,
) domain.ReflinkRegistryService {
	return &ReflinkRegistry{
		reflinks: reflinks,
		logs:     logs,
		logger:   logger,
	}
}

// CreateReflink cria um reflink; DailyLimit omitido usa o padrão do tier
func (r *ReflinkRegistry) CreateReflink(ctx context.Context, input domain.CreateReflinkInput) (*domain.Reflink, error) {
	// Validação antes de qualquer mudança de estado
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, domain.NewValidationError("code must not be empty")
	}

	tier, valid := domain.ParseTier(string(input.Tier))
	if !valid {
		return nil, domain.NewValidationError("rateLimitTier must be one of BASIC, STANDARD, PREMIUM, UNLIMITED")
	}

	dailyLimit := domain.TierDefaultLimit(tier)
	if input.DailyLimit != nil {
		if err := validateDailyLimit(*input.DailyLimit); err != nil {
			return nil, err
		}
		dailyLimit = *input.DailyLimit
	}

	now := time.Now()
	if input.ExpiresAt != nil && input.ExpiresAt.Before(now) {
		return nil, domain.NewValidationError("expiresAt must be in the future")
	}

	reflink := &domain.Reflink{
		ID:            uuid.NewString(),
		Code:          code,
		Name:          input.Name,
		Description:   input.Description,
		RateLimitTier: tier,
		DailyLimit:    dailyLimit,
		ExpiresAt:     input.ExpiresAt,
		IsActive:      true,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.reflinks.Create(ctx, reflink); err != nil {
		if domain.IsDuplicateCodeError(err) {
			return nil, err
		}
		return nil, domain.NewPersistenceError("reflink create", err)
	}

	r.logger.Info("Reflink created", map[string]interface{}{
		"reflink_id":  reflink.ID,
		"code":        reflink.Code,
		"tier":        reflink.RateLimitTier,
		"daily_limit": reflink.DailyLimit,
		"created_by":  reflink.CreatedBy,
	})

	return reflink, nil
}

// ValidateReflink valida um código na ordem estrita existência -> ativo -> expiração
// A primeira checagem que falha vence; um código inválido é resultado, não erro
func (r *ReflinkRegistry) ValidateReflink(ctx context.Context, code string) (*domain.ReflinkValidation, error) {
	reflink, err := r.reflinks.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, domain.NewPersistenceError("reflink lookup", err)
	}

	if reflink == nil {
		return &domain.ReflinkValidation{Valid: false, Reason: domain.ReflinkNotFound}, nil
	}

	if !reflink.IsActive {
		return &domain.ReflinkValidation{Valid: false, Reason: domain.ReflinkInactive}, nil
	}

	if reflink.IsExpired(time.Now()) {
		return &domain.ReflinkValidation{Valid: false, Reason: domain.ReflinkExpired}, nil
	}

	return &domain.ReflinkValidation{Valid: true, Reflink: reflink}, nil
}

// GetReflink recupera um reflink pelo ID
func (r *ReflinkRegistry) GetReflink(ctx context.Context, id string) (*domain.Reflink, error) {
	reflink, err := r.reflinks.GetByID(ctx, id)
	if err != nil {
		return nil, domain.NewPersistenceError("reflink lookup", err)
	}
	if reflink == nil {
		return nil, domain.NewNotFoundError("reflink", id)
	}
	return reflink, nil
}

// UpdateReflink aplica um patch parcial a um reflink existente
func (r *ReflinkRegistry) UpdateReflink(ctx context.Context, id string, patch domain.ReflinkPatch) (*domain.Reflink, error) {
	reflink, err := r.GetReflink(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		reflink.Name = *patch.Name
	}
	if patch.Description != nil {
		reflink.Description = *patch.Description
	}
	if patch.Tier != nil {
		tier, valid := domain.ParseTier(string(*patch.Tier))
		if !valid {
			return nil, domain.NewValidationError("rateLimitTier must be one of BASIC, STANDARD, PREMIUM, UNLIMITED")
		}
		reflink.RateLimitTier = tier
		// Sem limite explícito no patch, o tier novo arrasta seu padrão
		if patch.DailyLimit == nil {
			reflink.DailyLimit = domain.TierDefaultLimit(tier)
		}
	}
	if patch.DailyLimit != nil {
		if err := validateDailyLimit(*patch.DailyLimit); err != nil {
			return nil, err
		}
		reflink.DailyLimit = *patch.DailyLimit
	}
	if patch.ExpiresAt != nil {
		reflink.ExpiresAt = patch.ExpiresAt
	}
	if patch.IsActive != nil {
		reflink.IsActive = *patch.IsActive
	}

	reflink.UpdatedAt = time.Now()

	if err := r.reflinks.Update(ctx, reflink); err != nil {
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, domain.NewPersistenceError("reflink update", err)
	}

	r.logger.Info("Reflink updated", map[string]interface{}{
		"reflink_id":  reflink.ID,
		"tier":        reflink.RateLimitTier,
		"daily_limit": reflink.DailyLimit,
		"is_active":   reflink.IsActive,
	})

	return reflink, nil
}

// DeleteReflink remove um reflink (soft delete; janelas históricas preservam a referência)
func (r *ReflinkRegistry) DeleteReflink(ctx context.Context, id string) error {
	if err := r.reflinks.Delete(ctx, id); err != nil {
		if domain.IsNotFoundError(err) {
			return err
		}
		return domain.NewPersistenceError("reflink delete", err)
	}

	r.logger.Info("Reflink deleted", map[string]interface{}{
		"reflink_id": id,
	})
	return nil
}

// ListReflinks retorna todos os reflinks
func (r *ReflinkRegistry) ListReflinks(ctx context.Context) ([]*domain.Reflink, error) {
	reflinks, err := r.reflinks.List(ctx)
	if err != nil {
		return nil, domain.NewPersistenceError("reflink list", err)
	}
	return reflinks, nil
}

// GetUsage agrega as estatísticas de uso do log de auditoria
// Consulta analítica, fora do hot path
func (r *ReflinkRegistry) GetUsage(ctx context.Context, id string) (*domain.ReflinkUsage, error) {
	if _, err := r.GetReflink(ctx, id); err != nil {
		return nil, err
	}

	usage, err := r.logs.UsageByReflink(ctx, id)
	if err != nil {
		return nil, domain.NewPersistenceError("reflink usage", err)
	}
	return usage, nil
}

// validateDailyLimit valida um limite diário explícito
func validateDailyLimit(limit int) error {
	if limit != domain.UnlimitedDailyLimit && limit <= 0 {
		return domain.NewValidationError("dailyLimit must be -1 (unlimited) or greater than 0")
	}
	return nil
}
