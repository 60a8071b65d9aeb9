package domain

import (
	"strings"
	"time"
)

// IdentifierType define os tipos de identificador rastreados pelo rate limiter
type IdentifierType string

const (
	IPIdentifier      IdentifierType = "ip"
	SessionIdentifier IdentifierType = "session"
	ReflinkIdentifier IdentifierType = "reflink"
)

// ParseIdentifierType converte uma string em IdentifierType
func ParseIdentifierType(value string) (IdentifierType, bool) {
	switch IdentifierType(strings.ToLower(strings.TrimSpace(value))) {
	case IPIdentifier:
		return IPIdentifier, true
	case SessionIdentifier:
		return SessionIdentifier, true
	case ReflinkIdentifier:
		return ReflinkIdentifier, true
	default:
		return "", false
	}
}

// RateLimitTier define as classes de cota disponíveis
type RateLimitTier string

const (
	TierBasic     RateLimitTier = "BASIC"
	TierStandard  RateLimitTier = "STANDARD"
	TierPremium   RateLimitTier = "PREMIUM"
	TierUnlimited RateLimitTier = "UNLIMITED"
)

// UnlimitedDailyLimit é o valor sentinela para cota ilimitada
const UnlimitedDailyLimit = -1

// tierDefaultLimits mapeia cada tier para seu limite diário padrão
var tierDefaultLimits = map[RateLimitTier]int{
	TierBasic:     10,
	TierStandard:  50,
	TierPremium:   200,
	TierUnlimited: UnlimitedDailyLimit,
}

// TierDefaultLimit retorna o limite diário padrão de um tier
func TierDefaultLimit(tier RateLimitTier) int {
	if limit, exists := tierDefaultLimits[tier]; exists {
		return limit
	}
	return tierDefaultLimits[TierStandard]
}

// ParseTier converte uma string em RateLimitTier
func ParseTier(value string) (RateLimitTier, bool) {
	tier := RateLimitTier(strings.ToUpper(strings.TrimSpace(value)))
	_, exists := tierDefaultLimits[tier]
	return tier, exists
}

// RateLimitWindow representa a janela de contagem ativa de um identificador
type RateLimitWindow struct {
	ID             string         `json:"id"`
	Identifier     string         `json:"identifier"`
	IdentifierType IdentifierType `json:"identifierType"`
	RequestsCount  int            `json:"requestsCount"`
	WindowStart    time.Time      `json:"windowStart"`
	WindowEnd      time.Time      `json:"windowEnd"`
	ReflinkID      string         `json:"reflinkId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// IsStale indica se a janela já expirou e deve ser substituída
func (w *RateLimitWindow) IsStale(now time.Time) bool {
	return now.After(w.WindowEnd)
}

// Reflink representa um token nomeado que concede cota elevada ou customizada
type Reflink struct {
	ID            string        `json:"id"`
	Code          string        `json:"code"`
	Name          string        `json:"name,omitempty"`
	Description   string        `json:"description,omitempty"`
	RateLimitTier RateLimitTier `json:"rateLimitTier"`
	DailyLimit    int           `json:"dailyLimit"`
	ExpiresAt     *time.Time    `json:"expiresAt,omitempty"`
	IsActive      bool          `json:"isActive"`
	CreatedBy     string        `json:"createdBy,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// IsExpired indica se o reflink já passou da data de expiração
func (r *Reflink) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// ReflinkInvalidReason enumera os motivos de rejeição de um reflink
type ReflinkInvalidReason string

const (
	ReflinkNotFound ReflinkInvalidReason = "not_found"
	ReflinkInactive ReflinkInvalidReason = "inactive"
	ReflinkExpired  ReflinkInvalidReason = "expired"
)

// ReflinkValidation representa o resultado da validação de um código de reflink
// Um reflink inválido é um resultado normal de controle de fluxo, não um erro
type ReflinkValidation struct {
	Valid   bool                 `json:"valid"`
	Reflink *Reflink             `json:"reflink,omitempty"`
	Reason  ReflinkInvalidReason `json:"reason,omitempty"`
}

// BlacklistEntry representa o histórico de violações de um endereço IP
type BlacklistEntry struct {
	ID               string     `json:"id"`
	IPAddress        string     `json:"ipAddress"`
	Reason           string     `json:"reason"`
	ViolationCount   int        `json:"violationCount"`
	FirstViolationAt time.Time  `json:"firstViolationAt"`
	LastViolationAt  time.Time  `json:"lastViolationAt"`
	BlockedAt        *time.Time `json:"blockedAt,omitempty"`
	CanReinstate     bool       `json:"canReinstate"`
	ReinstatedAt     *time.Time `json:"reinstatedAt,omitempty"`
	ReinstatedBy     string     `json:"reinstatedBy,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// NewBlacklistEntry cria a entrada de primeira violação de um IP
// A primeira ofensa é sempre um warning, nunca bloqueia
func NewBlacklistEntry(id, ip, reason string, now time.Time) *BlacklistEntry {
	return &BlacklistEntry{
		ID:               id,
		IPAddress:        ip,
		Reason:           reason,
		ViolationCount:   1,
		FirstViolationAt: now,
		LastViolationAt:  now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// RegisterViolation aplica uma nova violação sobre uma entrada existente
// O motivo é acumulado (separado por ponto e vírgula) e o contador nunca reseta;
// ao atingir o threshold a entrada bloqueia e uma eventual reintegração é desfeita
func (e *BlacklistEntry) RegisterViolation(reason string, blockThreshold int, now time.Time) {
	e.ViolationCount++
	if reason != "" {
		if e.Reason == "" {
			e.Reason = reason
		} else {
			e.Reason = e.Reason + "; " + reason
		}
	}
	e.LastViolationAt = now
	e.UpdatedAt = now

	if e.ViolationCount >= blockThreshold {
		blockedAt := now
		e.BlockedAt = &blockedAt
		e.CanReinstate = true
		e.ReinstatedAt = nil
		e.ReinstatedBy = ""
	}
}

// IsBlocked indica se a entrada está efetivamente bloqueada
// Uma entrada reintegrada nunca está bloqueada, mesmo com contador alto
func (e *BlacklistEntry) IsBlocked() bool {
	return e.BlockedAt != nil && e.ReinstatedAt == nil
}

// ViolationResult representa o resultado do registro de uma violação
type ViolationResult struct {
	Blacklisted    bool `json:"blacklisted"`
	ViolationCount int  `json:"violationCount"`
}

// BlacklistStatus representa o resultado da consulta de bloqueio de um IP
type BlacklistStatus struct {
	Blacklisted bool   `json:"blacklisted"`
	Reason      string `json:"reason,omitempty"`
}

// RateLimitLogEntry é o registro de auditoria de cada verificação de rate limit
type RateLimitLogEntry struct {
	ID             string         `json:"id"`
	Identifier     string         `json:"identifier"`
	IdentifierType IdentifierType `json:"identifierType,omitempty"`
	Endpoint       string         `json:"endpoint"`
	IPAddress      string         `json:"ipAddress"`
	Allowed        bool           `json:"allowed"`
	ReflinkID      string         `json:"reflinkId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// CheckParams contém os parâmetros de uma verificação de rate limit
type CheckParams struct {
	Identifier     string         `json:"identifier"`
	IdentifierType IdentifierType `json:"identifierType"`
	Endpoint       string         `json:"endpoint"`
	IPAddress      string         `json:"ipAddress"`
	ReflinkCode    string         `json:"reflinkCode,omitempty"`
}

// RateLimitStatus representa a situação atual da cota de um identificador
// RequestsRemaining usa -1 como sentinela para cota ilimitada
type RateLimitStatus struct {
	Allowed           bool          `json:"allowed"`
	RequestsRemaining int           `json:"requestsRemaining"`
	DailyLimit        int           `json:"dailyLimit"`
	Tier              RateLimitTier `json:"tier"`
	WindowStart       time.Time     `json:"windowStart,omitempty"`
	WindowEnd         time.Time     `json:"windowEnd,omitempty"`
}

// CheckResult representa o resultado completo de uma verificação
type CheckResult struct {
	Success bool            `json:"success"`
	Blocked bool            `json:"blocked"`
	Reason  string          `json:"reason,omitempty"`
	Status  RateLimitStatus `json:"status"`
}

// DayCount representa o total de requisições de um dia na agregação de uso
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// ReflinkUsage representa as estatísticas de uso de um reflink
// Calculado por agregação do log de auditoria, fora do hot path
type ReflinkUsage struct {
	TotalRequests     int        `json:"totalRequests"`
	BlockedRequests   int        `json:"blockedRequests"`
	UniqueIdentifiers int        `json:"uniqueIdentifiers"`
	RequestsByDay     []DayCount `json:"requestsByDay"`
}

// EngineConfig contém a configuração do motor de rate limiting
type EngineConfig struct {
	WindowSize               time.Duration `json:"windowSizeMs"`
	DefaultDailyLimit        int           `json:"defaultDailyLimit"`
	CleanupInterval          time.Duration `json:"cleanupIntervalMs"`
	LogRetentionDays         int           `json:"logRetentionDays"`
	MaxViolationsBeforeBlock int           `json:"maxViolationsBeforeBlock"`
	AutoReinstateAfterDays   int           `json:"autoReinstateAfterDays"`
}

// DefaultEngineConfig retorna a configuração padrão do motor
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		WindowSize:               24 * time.Hour,
		DefaultDailyLimit:        50,
		CleanupInterval:          time.Hour,
		LogRetentionDays:         30,
		MaxViolationsBeforeBlock: 2,
		AutoReinstateAfterDays:   30,
	}
}
