package handler

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"assistant-guard/internal/domain"
	"assistant-guard/internal/logger"
	"assistant-guard/internal/middleware"
)

// Handlers contém os handlers da API
type Handlers struct {
	limiter   domain.RateLimiterService
	reflinks  domain.ReflinkRegistryService
	blacklist domain.BlacklistManagerService
	windows   domain.WindowStore
	logger    domain.Logger
	startTime time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(
	limiter domain.RateLimiterService,
	reflinks domain.ReflinkRegistryService,
	blacklist domain.BlacklistManagerService,
	windows domain.WindowStore,
	log domain.Logger,
) *Handlers {
	return &Handlers{
		limiter:   limiter,
		reflinks:  reflinks,
		blacklist: blacklist,
		windows:   windows,
		logger:    log,
		startTime: time.Now(),
	}
}

// SetupRoutes configura as rotas da API
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Middleware de rate limiting para os endpoints do assistente
	rateLimiterMiddleware := middleware.NewRateLimiterMiddleware(h.limiter, h.logger)

	// Rotas públicas (sem rate limiting)
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", h.MetricsHandler)

	// Endpoints do assistente protegidos por rate limiting
	assistant := router.Group("/assistant")
	assistant.Use(rateLimiterMiddleware)
	{
		assistant.POST("/chat", h.AssistantChatHandler)
		assistant.POST("/voice", h.AssistantVoiceHandler)
	}

	// Rotas administrativas (sem rate limiting)
	admin := router.Group("/admin")
	{
		admin.GET("/status", h.AdminStatusHandler)

		admin.POST("/reflinks", h.CreateReflinkHandler)
		admin.GET("/reflinks", h.ListReflinksHandler)
		admin.GET("/reflinks/:id", h.GetReflinkHandler)
		admin.PATCH("/reflinks/:id", h.UpdateReflinkHandler)
		admin.DELETE("/reflinks/:id", h.DeleteReflinkHandler)
		admin.GET("/reflinks/:id/usage", h.ReflinkUsageHandler)

		admin.GET("/blacklist", h.ListBlacklistHandler)
		admin.POST("/blacklist", h.BlacklistIPHandler)
		admin.GET("/blacklist/:ip", h.GetBlacklistEntryHandler)
		admin.POST("/blacklist/:ip/reinstate", h.ReinstateHandler)

		admin.POST("/violations", h.RecordViolationHandler)
	}
}

// HealthHandler implementa health check básico
func (h *Handlers) HealthHandler(c *gin.Context) {
	storage := "healthy"
	if err := h.windows.Health(c.Request.Context()); err != nil {
		storage = "unhealthy"
	}

	response := gin.H{
		"status":    "healthy",
		"service":   "Assistant Guard API",
		"storage":   storage,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	status := http.StatusOK
	if storage != "healthy" {
		response["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, response)
}

// AssistantChatHandler implementa o endpoint de chat do assistente
// A proteção de cota acontece no middleware; aqui a requisição já foi admitida
func (h *Handlers) AssistantChatHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	clientIP := middleware.GetClientIP(c)
	reflinkCode := middleware.GetReflinkCode(c)

	log.Debug("Assistant chat endpoint accessed", map[string]interface{}{
		"client_ip":    clientIP,
		"reflink_code": logger.MaskCode(reflinkCode),
	})

	c.JSON(http.StatusOK, gin.H{
		"message":   "Assistant chat request accepted",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// AssistantVoiceHandler implementa o endpoint de voz do assistente
func (h *Handlers) AssistantVoiceHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Assistant voice request accepted",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// MetricsHandler implementa endpoint de métricas do sistema
func (h *Handlers) MetricsHandler(c *gin.Context) {
	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"service":        "Assistant Guard API",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"system": gin.H{
			"go_version":   runtime.Version(),
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": formatBytes(m.Alloc),
			"memory_total": formatBytes(m.TotalAlloc),
			"memory_sys":   formatBytes(m.Sys),
			"gc_runs":      m.NumGC,
		},
	})
}

// AdminStatusHandler retorna a cota corrente de um identificador
// Somente leitura: não consome cota nem cria janela
func (h *Handlers) AdminStatusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	identifier := strings.TrimSpace(c.Query("identifier"))
	typeParam := strings.TrimSpace(strings.ToLower(c.Query("type")))

	if identifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "identifier parameter is required",
		})
		return
	}

	identifierType, valid := domain.ParseIdentifierType(typeParam)
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "type must be one of 'ip', 'session' or 'reflink'",
		})
		return
	}

	status, err := h.limiter.GetStatus(ctx, identifier, identifierType)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve rate limit status")
		return
	}

	response := gin.H{
		"identifier":         identifier,
		"identifier_type":    string(identifierType),
		"allowed":            status.Allowed,
		"requests_remaining": status.RequestsRemaining,
		"daily_limit":        status.DailyLimit,
		"tier":               string(status.Tier),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}

	if !status.WindowEnd.IsZero() {
		response["window_start"] = status.WindowStart.UTC().Format(time.RFC3339)
		response["window_end"] = status.WindowEnd.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, response)
}

// CreateReflinkRequest representa o corpo da criação de reflink
type CreateReflinkRequest struct {
	Code        string     `json:"code" binding:"required"`
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	Tier        string     `json:"rateLimitTier" binding:"required"`
	DailyLimit  *int       `json:"dailyLimit"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	CreatedBy   string     `json:"createdBy"`
}

// CreateReflinkHandler cria um novo reflink
func (h *Handlers) CreateReflinkHandler(c *gin.Context) {
	var req CreateReflinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	tier, valid := domain.ParseTier(req.Tier)
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "rateLimitTier must be one of BASIC, STANDARD, PREMIUM, UNLIMITED",
		})
		return
	}

	reflink, err := h.reflinks.CreateReflink(c.Request.Context(), domain.CreateReflinkInput{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Tier:        tier,
		DailyLimit:  req.DailyLimit,
		ExpiresAt:   req.ExpiresAt,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		h.respondError(c, err, "Failed to create reflink")
		return
	}

	c.JSON(http.StatusCreated, reflink)
}

// ListReflinksHandler lista todos os reflinks
func (h *Handlers) ListReflinksHandler(c *gin.Context) {
	reflinks, err := h.reflinks.ListReflinks(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list reflinks")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reflinks": reflinks,
		"count":    len(reflinks),
	})
}

// GetReflinkHandler recupera um reflink pelo ID
func (h *Handlers) GetReflinkHandler(c *gin.Context) {
	reflink, err := h.reflinks.GetReflink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve reflink")
		return
	}

	c.JSON(http.StatusOK, reflink)
}

// UpdateReflinkRequest representa o corpo do patch parcial de reflink
type UpdateReflinkRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Tier        *string    `json:"rateLimitTier"`
	DailyLimit  *int       `json:"dailyLimit"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	IsActive    *bool      `json:"isActive"`
}

// UpdateReflinkHandler aplica um patch parcial a um reflink
func (h *Handlers) UpdateReflinkHandler(c *gin.Context) {
	var req UpdateReflinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	patch := domain.ReflinkPatch{
		Name:        req.Name,
		Description: req.Description,
		DailyLimit:  req.DailyLimit,
		ExpiresAt:   req.ExpiresAt,
		IsActive:    req.IsActive,
	}

	if req.Tier != nil {
		tier, valid := domain.ParseTier(*req.Tier)
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "rateLimitTier must be one of BASIC, STANDARD, PREMIUM, UNLIMITED",
			})
			return
		}
		patch.Tier = &tier
	}

	reflink, err := h.reflinks.UpdateReflink(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err, "Failed to update reflink")
		return
	}

	c.JSON(http.StatusOK, reflink)
}

// DeleteReflinkHandler remove um reflink (soft delete)
func (h *Handlers) DeleteReflinkHandler(c *gin.Context) {
	if err := h.reflinks.DeleteReflink(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "Failed to delete reflink")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Reflink deleted successfully",
	})
}

// ReflinkUsageHandler retorna as estatísticas de uso de um reflink
func (h *Handlers) ReflinkUsageHandler(c *gin.Context) {
	usage, err := h.reflinks.GetUsage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve reflink usage")
		return
	}

	c.JSON(http.StatusOK, usage)
}

// ListBlacklistHandler lista todas as entradas da blacklist
func (h *Handlers) ListBlacklistHandler(c *gin.Context) {
	entries, err := h.blacklist.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list blacklist entries")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// BlacklistIPRequest representa o corpo do bloqueio administrativo
type BlacklistIPRequest struct {
	IPAddress      string `json:"ipAddress" binding:"required"`
	Reason         string `json:"reason" binding:"required"`
	ViolationCount *int   `json:"violationCount"`
}

// BlacklistIPHandler bloqueia um IP por ação administrativa
func (h *Handlers) BlacklistIPHandler(c *gin.Context) {
	var req BlacklistIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	entry, err := h.blacklist.BlacklistIP(c.Request.Context(), req.IPAddress, req.Reason, req.ViolationCount)
	if err != nil {
		h.respondError(c, err, "Failed to blacklist IP")
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// GetBlacklistEntryHandler recupera a entrada de um IP
func (h *Handlers) GetBlacklistEntryHandler(c *gin.Context) {
	entry, err := h.blacklist.GetEntry(c.Request.Context(), c.Param("ip"))
	if err != nil {
		h.respondError(c, err, "Failed to retrieve blacklist entry")
		return
	}

	c.JSON(http.StatusOK, entry)
}

// ReinstateRequest representa o corpo da reintegração administrativa
type ReinstateRequest struct {
	ReinstatedBy string `json:"reinstatedBy" binding:"required"`
}

// ReinstateHandler reintegra um IP bloqueado
func (h *Handlers) ReinstateHandler(c *gin.Context) {
	var req ReinstateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	ip := c.Param("ip")
	if err := h.blacklist.Reinstate(c.Request.Context(), ip, req.ReinstatedBy); err != nil {
		h.respondError(c, err, "Failed to reinstate IP")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "IP reinstated successfully",
		"ip":      ip,
	})
}

// RecordViolationRequest representa o corpo do registro de violação
type RecordViolationRequest struct {
	IPAddress string `json:"ipAddress" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// RecordViolationHandler registra uma violação de política para um IP
func (h *Handlers) RecordViolationHandler(c *gin.Context) {
	var req RecordViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	result, err := h.blacklist.RecordViolation(c.Request.Context(), req.IPAddress, req.Reason)
	if err != nil {
		h.respondError(c, err, "Failed to record violation")
		return
	}

	c.JSON(http.StatusOK, result)
}

// respondError mapeia erros de domínio para status HTTP
func (h *Handlers) respondError(c *gin.Context, err error, fallback string) {
	log := h.logger.WithContext(c.Request.Context())

	switch {
	case domain.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case domain.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case domain.IsDuplicateCodeError(err):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_code",
			"message": err.Error(),
		})
	default:
		log.Error(fallback, err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": fallback,
		})
	}
}

// formatBytes formata bytes em formato legível
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatUint(bytes, 10) + " B"
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return strconv.FormatFloat(float64(bytes)/float64(div), 'f', 1, 64) + " " + "KMGTPE"[exp:exp+1] + "B"
}
