package service

import (
	"context"
	"strings"
	"time"

	"assistant-guard/internal/domain"

	"github.com/google/uuid"
)

// BlacklistedReason é o motivo retornado quando o IP está na blacklist
const BlacklistedReason = "IP address is blacklisted"

// LimitExceededReason é o motivo retornado quando a cota foi esgotada
const LimitExceededReason = "Rate limit exceeded"

// FailClosedReason é o motivo retornado quando o storage falha na verificação
// Por ser um controle de segurança, falha de leitura nega em vez de admitir
const FailClosedReason = "rate limit check failed"

// RateLimiter orquestra a verificação completa: blacklist, resolução de
// tier/limite e admissão atômica, nessa ordem estrita
type RateLimiter struct {
	windows   domain.WindowStore
	reflinks  domain.ReflinkRegistryService
	blacklist domain.BlacklistManagerService
	logs      domain.RateLimitLogStore
	config    *domain.EngineConfig
	logger    domain.Logger
}

// NewRateLimiter cria uma nova instância do orquestrador
func NewRateLimiter(
	windows domain.WindowStore,
	reflinks domain.ReflinkRegistryService,
	blacklist domain.BlacklistManagerService,
	logs domain.RateLimitLogStore,
	config *domain.EngineConfig,
	logger domain.Logger,
) domain.RateLimiterService {
	return &RateLimiter{
		windows:   windows,
		reflinks:  reflinks,
		blacklist: blacklist,
		logs:      logs,
		config:    config,
		logger:    logger,
	}
}

// CheckRateLimit executa a verificação na ordem estrita:
//  1. blacklist: IP bloqueado nunca chega ao contador
//  2. resolução de tier: reflink válido sobrepõe o tier padrão;
//     reflink inválido degrada para o padrão sem erro
//  3. admissão atômica: incremento condicional, nunca incrementa em negação
//  4. auditoria de todo desfecho
func (s *RateLimiter) CheckRateLimit(ctx context.Context, params domain.CheckParams) (*domain.CheckResult, error) {
	if err := validateCheckParams(&params); err != nil {
		return nil, err
	}

	logger := s.logger.WithContext(ctx)

	logger.Debug("Rate limit check initiated", map[string]interface{}{
		"identifier":      params.Identifier,
		"identifier_type": params.IdentifierType,
		"endpoint":        params.Endpoint,
		"ip":              params.IPAddress,
		"has_reflink":     params.ReflinkCode != "",
	})

	// 1. Gate de blacklist
	blStatus, err := s.blacklist.IsBlacklisted(ctx, params.IPAddress)
	if err != nil {
		logger.Error("Blacklist check failed, failing closed", err, map[string]interface{}{
			"ip": params.IPAddress,
		})
		return s.failClosed(), nil
	}

	if blStatus.Blacklisted {
		logger.Info("Request blocked by blacklist", map[string]interface{}{
			"identifier": params.Identifier,
			"ip":         params.IPAddress,
		})

		result := &domain.CheckResult{
			Success: false,
			Blocked: true,
			Reason:  BlacklistedReason,
			Status: domain.RateLimitStatus{
				Allowed:           false,
				RequestsRemaining: 0,
				DailyLimit:        s.config.DefaultDailyLimit,
				Tier:              domain.TierStandard,
			},
		}
		s.audit(ctx, &params, "", false)
		return result, nil
	}

	// 2. Resolução de tier: padrão STANDARD, sobreposto por reflink válido
	tier := domain.TierStandard
	dailyLimit := s.config.DefaultDailyLimit
	reflinkID := ""

	if params.ReflinkCode != "" {
		validation, err := s.reflinks.ValidateReflink(ctx, params.ReflinkCode)
		if err != nil {
			logger.Error("Reflink validation failed, failing closed", err, map[string]interface{}{
				"identifier": params.Identifier,
			})
			return s.failClosed(), nil
		}

		if validation.Valid {
			tier = validation.Reflink.RateLimitTier
			dailyLimit = validation.Reflink.DailyLimit
			reflinkID = validation.Reflink.ID
		} else {
			// Reflink inválido não é erro: degrada para o tier padrão
			logger.Debug("Invalid reflink, falling back to default tier", map[string]interface{}{
				"reason": validation.Reason,
			})
		}
	}

	// 3. Admissão atômica: busca, criação preguiçosa e incremento condicional
	window, applied, err := s.windows.Admit(ctx, domain.AdmitParams{
		Identifier:     params.Identifier,
		IdentifierType: params.IdentifierType,
		DailyLimit:     dailyLimit,
		WindowSize:     s.config.WindowSize,
		ReflinkID:      reflinkID,
		Now:            time.Now(),
	})
	if err != nil {
		logger.Error("Window admission failed, failing closed", err, map[string]interface{}{
			"identifier": params.Identifier,
		})
		return s.failClosed(), nil
	}

	status := domain.RateLimitStatus{
		Allowed:           applied,
		RequestsRemaining: remaining(dailyLimit, window.RequestsCount),
		DailyLimit:        dailyLimit,
		Tier:              tier,
		WindowStart:       window.WindowStart,
		WindowEnd:         window.WindowEnd,
	}

	// 4. Auditoria de todo desfecho, permitido ou negado
	s.audit(ctx, &params, reflinkID, applied)

	if !applied {
		logger.Info("Request rate limited", map[string]interface{}{
			"identifier":  params.Identifier,
			"daily_limit": dailyLimit,
			"tier":        tier,
		})

		return &domain.CheckResult{
			Success: false,
			Blocked: true,
			Reason:  LimitExceededReason,
			Status:  status,
		}, nil
	}

	logger.Debug("Request allowed", map[string]interface{}{
		"identifier": params.Identifier,
		"count":      window.RequestsCount,
		"remaining":  status.RequestsRemaining,
		"tier":       tier,
	})

	return &domain.CheckResult{
		Success: true,
		Blocked: false,
		Status:  status,
	}, nil
}

// GetStatus retorna a projeção somente-leitura da cota de um identificador
// Não muta estado nem consulta a blacklist; usado para exibição
func (s *RateLimiter) GetStatus(ctx context.Context, identifier string, identifierType domain.IdentifierType) (*domain.RateLimitStatus, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, domain.NewValidationError("identifier must not be empty")
	}
	if _, valid := domain.ParseIdentifierType(string(identifierType)); !valid {
		return nil, domain.NewValidationError("identifierType must be one of ip, session, reflink")
	}

	window, err := s.windows.Get(ctx, identifier, identifierType)
	if err != nil {
		return nil, domain.NewPersistenceError("window lookup", err)
	}

	// Sem janela corrente: cota padrão intacta
	if window == nil {
		return &domain.RateLimitStatus{
			Allowed:           true,
			RequestsRemaining: remaining(s.config.DefaultDailyLimit, 0),
			DailyLimit:        s.config.DefaultDailyLimit,
			Tier:              domain.TierStandard,
		}, nil
	}

	tier := domain.TierStandard
	dailyLimit := s.config.DefaultDailyLimit

	// Janela autorizada por reflink reporta o limite e tier do reflink
	if window.ReflinkID != "" {
		reflink, err := s.reflinks.GetReflink(ctx, window.ReflinkID)
		if err == nil {
			tier = reflink.RateLimitTier
			dailyLimit = reflink.DailyLimit
		}
	}

	rem := remaining(dailyLimit, window.RequestsCount)
	return &domain.RateLimitStatus{
		Allowed:           dailyLimit == domain.UnlimitedDailyLimit || window.RequestsCount < dailyLimit,
		RequestsRemaining: rem,
		DailyLimit:        dailyLimit,
		Tier:              tier,
		WindowStart:       window.WindowStart,
		WindowEnd:         window.WindowEnd,
	}, nil
}

// failClosed retorna o resultado de negação usado quando o storage falha
func (s *RateLimiter) failClosed() *domain.CheckResult {
	return &domain.CheckResult{
		Success: false,
		Blocked: true,
		Reason:  FailClosedReason,
		Status: domain.RateLimitStatus{
			Allowed:           false,
			RequestsRemaining: 0,
			DailyLimit:        s.config.DefaultDailyLimit,
			Tier:              domain.TierStandard,
		},
	}
}

// audit registra a verificação no log append-only
// Falha de auditoria não derruba uma decisão já tomada
func (s *RateLimiter) audit(ctx context.Context, params *domain.CheckParams, reflinkID string, allowed bool) {
	entry := &domain.RateLimitLogEntry{
		ID:             uuid.NewString(),
		Identifier:     params.Identifier,
		IdentifierType: params.IdentifierType,
		Endpoint:       params.Endpoint,
		IPAddress:      params.IPAddress,
		Allowed:        allowed,
		ReflinkID:      reflinkID,
		Timestamp:      time.Now(),
	}

	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to append audit log entry", err, map[string]interface{}{
			"identifier": params.Identifier,
			"allowed":    allowed,
		})
	}
}

// remaining calcula a cota restante; -1 sinaliza ilimitado
func remaining(dailyLimit, count int) int {
	if dailyLimit == domain.UnlimitedDailyLimit {
		return domain.UnlimitedDailyLimit
	}
	if rem := dailyLimit - count; rem > 0 {
		return rem
	}
	return 0
}

// validateCheckParams valida os parâmetros antes de qualquer mudança de estado
func validateCheckParams(params *domain.CheckParams) error {
	params.Identifier = strings.TrimSpace(params.Identifier)
	if params.Identifier == "" {
		return domain.NewValidationError("identifier must not be empty")
	}

	if _, valid := domain.ParseIdentifierType(string(params.IdentifierType)); !valid {
		return domain.NewValidationError("identifierType must be one of ip, session, reflink")
	}

	params.IPAddress = strings.TrimSpace(params.IPAddress)
	if params.IPAddress == "" {
		return domain.NewValidationError("ipAddress must not be empty")
	}

	return nil
}
