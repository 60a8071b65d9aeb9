package service

import (
	"context"
	"strings"
	"time"

	"assistant-guard/internal/domain"

	"github.com/google/uuid"
)

// BlacklistManager implementa a máquina de estados de violações por IP:
// CLEAN -> WARNED -> BLOCKED -> REINSTATED (reentra em WARNED em nova violação)
type BlacklistManager struct {
	store    domain.BlacklistStore
	notifier domain.SecurityNotifier
	config   *domain.EngineConfig
	logger   domain.Logger
}

// NewBlacklistManager cria uma nova instância do manager
func NewBlacklistManager(
	store domain.BlacklistStore,
	notifier domain.SecurityNotifier,
	config *domain.EngineConfig,
	logger domain.Logger,
) domain.BlacklistManagerService {
	return &BlacklistManager{
		store:    store,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// RecordViolation registra uma violação automática
// A primeira ofensa é um warning e nunca bloqueia silenciosamente
func (b *BlacklistManager) RecordViolation(ctx context.Context, ip, reason string) (*domain.ViolationResult, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, domain.NewValidationError("ip address must not be empty")
	}

	entry, err := b.store.ApplyViolation(ctx, uuid.NewString(), ip, reason, b.config.MaxViolationsBeforeBlock, time.Now())
	if err != nil {
		return nil, domain.NewPersistenceError("violation record", err)
	}

	blacklisted := entry.IsBlocked()

	b.logger.Info("Violation recorded", map[string]interface{}{
		"ip":              ip,
		"violation_count": entry.ViolationCount,
		"blacklisted":     blacklisted,
		"reason":          reason,
	})

	// Toda transição para WARNED ou BLOCKED notifica o colaborador externo
	if blacklisted {
		b.notify(ctx, b.notifier.NotifyBlocked, ip, "IP address blocked after repeated violations", entry)
	} else {
		b.notify(ctx, b.notifier.NotifyWarning, ip, "IP address warned for policy violation", entry)
	}

	return &domain.ViolationResult{
		Blacklisted:    blacklisted,
		ViolationCount: entry.ViolationCount,
	}, nil
}

// BlacklistIP bloqueia um IP diretamente por ação administrativa
// Upsert idempotente que pula o estado de warning
func (b *BlacklistManager) BlacklistIP(ctx context.Context, ip, reason string, violationCount *int) (*domain.BlacklistEntry, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, domain.NewValidationError("ip address must not be empty")
	}
	if violationCount != nil && *violationCount < 0 {
		return nil, domain.NewValidationError("violationCount must not be negative")
	}

	now := time.Now()

	entry, err := b.store.GetByIP(ctx, ip)
	if err != nil {
		return nil, domain.NewPersistenceError("blacklist lookup", err)
	}

	if entry == nil {
		entry = domain.NewBlacklistEntry(uuid.NewString(), ip, reason, now)
	} else if reason != "" && !strings.Contains(entry.Reason, reason) {
		entry.Reason = entry.Reason + "; " + reason
	}

	if violationCount != nil {
		entry.ViolationCount = *violationCount
	}

	blockedAt := now
	entry.BlockedAt = &blockedAt
	entry.CanReinstate = true
	entry.ReinstatedAt = nil
	entry.ReinstatedBy = ""
	entry.LastViolationAt = now
	entry.UpdatedAt = now

	if err := b.store.Upsert(ctx, entry); err != nil {
		return nil, domain.NewPersistenceError("blacklist upsert", err)
	}

	b.logger.Warn("IP blacklisted by administrator", map[string]interface{}{
		"ip":              ip,
		"reason":          entry.Reason,
		"violation_count": entry.ViolationCount,
	})

	b.notify(ctx, b.notifier.NotifyBlocked, ip, "IP address blacklisted by administrator", entry)

	return entry, nil
}

// IsBlacklisted indica se um IP está bloqueado e não reintegrado
// Uma entrada reintegrada nunca bloqueia, mesmo com contador alto
func (b *BlacklistManager) IsBlacklisted(ctx context.Context, ip string) (*domain.BlacklistStatus, error) {
	entry, err := b.store.GetByIP(ctx, ip)
	if err != nil {
		return nil, domain.NewPersistenceError("blacklist lookup", err)
	}

	if entry == nil || !entry.IsBlocked() {
		return &domain.BlacklistStatus{Blacklisted: false}, nil
	}

	return &domain.BlacklistStatus{
		Blacklisted: true,
		Reason:      entry.Reason,
	}, nil
}

// Reinstate reintegra um IP por ação administrativa
// O contador de violações não reseta: nova violação pode rebloquear de imediato
func (b *BlacklistManager) Reinstate(ctx context.Context, ip, reinstatedBy string) error {
	entry, err := b.store.GetByIP(ctx, ip)
	if err != nil {
		return domain.NewPersistenceError("blacklist lookup", err)
	}
	if entry == nil {
		return domain.NewNotFoundError("blacklist entry", ip)
	}

	now := time.Now()
	entry.ReinstatedAt = &now
	entry.ReinstatedBy = reinstatedBy
	entry.UpdatedAt = now

	if err := b.store.Upsert(ctx, entry); err != nil {
		return domain.NewPersistenceError("blacklist upsert", err)
	}

	b.logger.Info("IP reinstated", map[string]interface{}{
		"ip":            ip,
		"reinstated_by": reinstatedBy,
	})
	return nil
}

// GetEntry recupera a entrada de um IP
func (b *BlacklistManager) GetEntry(ctx context.Context, ip string) (*domain.BlacklistEntry, error) {
	entry, err := b.store.GetByIP(ctx, ip)
	if err != nil {
		return nil, domain.NewPersistenceError("blacklist lookup", err)
	}
	if entry == nil {
		return nil, domain.NewNotFoundError("blacklist entry", ip)
	}
	return entry, nil
}

// List retorna todas as entradas da blacklist
func (b *BlacklistManager) List(ctx context.Context) ([]*domain.BlacklistEntry, error) {
	entries, err := b.store.List(ctx)
	if err != nil {
		return nil, domain.NewPersistenceError("blacklist list", err)
	}
	return entries, nil
}

// AutoReinstateSweep reintegra entradas bloqueadas além do prazo configurado
// Efeito idêntico à reintegração manual, atribuído a "auto-reinstate"
func (b *BlacklistManager) AutoReinstateSweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -b.config.AutoReinstateAfterDays)

	entries, err := b.store.ListAutoReinstatable(ctx, cutoff)
	if err != nil {
		return 0, domain.NewPersistenceError("blacklist sweep", err)
	}

	reinstated := 0
	for _, entry := range entries {
		reinstatedAt := now
		entry.ReinstatedAt = &reinstatedAt
		entry.ReinstatedBy = "auto-reinstate"
		entry.UpdatedAt = now

		if err := b.store.Upsert(ctx, entry); err != nil {
			b.logger.Error("Failed to auto-reinstate IP", err, map[string]interface{}{
				"ip": entry.IPAddress,
			})
			continue
		}
		reinstated++
	}

	if reinstated > 0 {
		b.logger.Info("Auto-reinstate sweep completed", map[string]interface{}{
			"reinstated": reinstated,
		})
	}

	return reinstated, nil
}

// notify dispara uma notificação fire-and-forget
// Falha de notificação nunca falha o registro da violação
func (b *BlacklistManager) notify(
	ctx context.Context,
	fn func(context.Context, string, string, map[string]interface{}) error,
	ip, message string,
	entry *domain.BlacklistEntry,
) {
	if b.notifier == nil {
		return
	}

	details := map[string]interface{}{
		"violation_count": entry.ViolationCount,
		"reason":          entry.Reason,
		"first_violation": entry.FirstViolationAt,
		"last_violation":  entry.LastViolationAt,
	}

	if err := fn(ctx, ip, message, details); err != nil {
		b.logger.Warn("Security notification failed", map[string]interface{}{
			"ip":    ip,
			"error": err.Error(),
		})
	}
}
