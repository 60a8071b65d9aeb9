package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"assistant-guard/internal/domain"
	"assistant-guard/internal/logger"
	"assistant-guard/internal/service"
)

// RateLimiterMiddleware protege os endpoints do assistente com o motor
// de rate limiting, injetável no servidor web
type RateLimiterMiddleware struct {
	limiter domain.RateLimiterService
	logger  domain.Logger
}

// NewRateLimiterMiddleware cria uma nova instância do middleware
func NewRateLimiterMiddleware(
	limiter domain.RateLimiterService,
	log domain.Logger,
) gin.HandlerFunc {
	middleware := &RateLimiterMiddleware{
		limiter: limiter,
		logger:  log,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *RateLimiterMiddleware) Handle(c *gin.Context) {
	// Contexto com timeout para as operações de storage
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	requestID := m.getRequestID(c)

	clientIP := GetClientIP(c)
	reflinkCode := GetReflinkCode(c)
	identifier, identifierType := m.resolveIdentifier(c, clientIP, reflinkCode)

	ctx = logger.ContextWithRequestInfo(ctx, requestID, clientIP, reflinkCode, c.Request.URL.Path)
	log := m.logger.WithContext(ctx)

	log.Debug("Rate limiter middleware initiated", map[string]interface{}{
		"client_ip":       clientIP,
		"identifier":      identifier,
		"identifier_type": identifierType,
		"reflink_code":    logger.MaskCode(reflinkCode),
		"method":          c.Request.Method,
		"path":            c.Request.URL.Path,
		"request_id":      requestID,
	})

	result, err := m.limiter.CheckRateLimit(ctx, domain.CheckParams{
		Identifier:     identifier,
		IdentifierType: identifierType,
		Endpoint:       c.Request.URL.Path,
		IPAddress:      clientIP,
		ReflinkCode:    reflinkCode,
	})
	if err != nil {
		log.Error("Rate limiter service error", err, map[string]interface{}{
			"client_ip":  clientIP,
			"request_id": requestID,
		})

		status := http.StatusInternalServerError
		if domain.IsValidationError(err) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":   "rate_limit_check_error",
			"message": "Unable to process rate limit check",
		})
		c.Abort()
		return
	}

	// Headers informativos em toda resposta
	m.setRateLimitHeaders(c, result)

	if result.Blocked {
		log.Info("Request blocked", map[string]interface{}{
			"client_ip":  clientIP,
			"identifier": identifier,
			"reason":     result.Reason,
			"request_id": requestID,
		})

		switch result.Reason {
		case service.BlacklistedReason:
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "ip_blacklisted",
				"message": result.Reason,
			})
		case service.FailClosedReason:
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "rate_limit_unavailable",
				"message": "Unable to verify rate limit, request denied",
			})
		default:
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "you have reached the maximum number of assistant requests allowed for today",
				"details": gin.H{
					"limit":      result.Status.DailyLimit,
					"remaining":  result.Status.RequestsRemaining,
					"reset_time": result.Status.WindowEnd.Unix(),
					"tier":       result.Status.Tier,
				},
			})
		}
		c.Abort()
		return
	}

	log.Debug("Request allowed by rate limiter", map[string]interface{}{
		"identifier": identifier,
		"remaining":  result.Status.RequestsRemaining,
		"tier":       result.Status.Tier,
		"request_id": requestID,
	})

	c.Next()
}

// resolveIdentifier resolve o identificador de cota da requisição
// Prioridade: código de reflink > sessão > IP do cliente
func (m *RateLimiterMiddleware) resolveIdentifier(c *gin.Context, clientIP, reflinkCode string) (string, domain.IdentifierType) {
	if reflinkCode != "" {
		return reflinkCode, domain.ReflinkIdentifier
	}

	if session := strings.TrimSpace(c.GetHeader("X-Session-ID")); session != "" {
		return session, domain.SessionIdentifier
	}

	return clientIP, domain.IPIdentifier
}

// GetClientIP extrai o IP do cliente considerando proxies e load balancers
func GetClientIP(c *gin.Context) string {
	// Prioridade: X-Forwarded-For > X-Real-IP > RemoteAddr

	// X-Forwarded-For pode conter múltiplos IPs separados por vírgula
	// O primeiro é o IP original do cliente
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			clientIP := strings.TrimSpace(ips[0])
			if clientIP != "" {
				return clientIP
			}
		}
	}

	// X-Real-IP é usado por alguns proxies
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback para RemoteAddr (remove porta se presente)
	if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		return host
	}

	return c.Request.RemoteAddr
}

// GetReflinkCode extrai o código de reflink da requisição
func GetReflinkCode(c *gin.Context) string {
	// Prioridade: header X-Reflink-Code > query ref
	if code := c.GetHeader("X-Reflink-Code"); code != "" {
		return strings.TrimSpace(code)
	}

	if code := c.Query("ref"); code != "" {
		return strings.TrimSpace(code)
	}

	return ""
}

// setRateLimitHeaders define headers informativos de rate limiting
func (m *RateLimiterMiddleware) setRateLimitHeaders(c *gin.Context, result *domain.CheckResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Status.DailyLimit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Status.RequestsRemaining))
	c.Header("X-RateLimit-Tier", string(result.Status.Tier))

	if !result.Status.WindowEnd.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Status.WindowEnd.Unix(), 10))

		if result.Blocked {
			retryAfter := int(time.Until(result.Status.WindowEnd).Seconds())
			if retryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(retryAfter))
			}
		}
	}
}

// getRequestID obtém ou gera um Request ID para tracking
func (m *RateLimiterMiddleware) getRequestID(c *gin.Context) string {
	// Verifica se já existe no header
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		return requestID
	}

	requestID := uuid.NewString()
	c.Header("X-Request-ID", requestID)
	return requestID
}
