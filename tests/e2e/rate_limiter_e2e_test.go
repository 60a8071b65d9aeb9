package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistant-guard/internal/domain"
	"assistant-guard/internal/handler"
	"assistant-guard/internal/logger"
	"assistant-guard/internal/notifier"
	"assistant-guard/internal/service"
	"assistant-guard/internal/storage"
)

// E2ETestSuite contém os componentes necessários para os testes E2E
type E2ETestSuite struct {
	router *gin.Engine
	server *httptest.Server
	client *http.Client
}

// setupE2ETest configura um ambiente completo sobre storage em memória
func setupE2ETest(t *testing.T) *E2ETestSuite {
	gin.SetMode(gin.TestMode)

	appLogger := logger.NewLogger("error", "json")

	config := domain.DefaultEngineConfig()
	config.DefaultDailyLimit = 5

	factory := storage.NewStorageFactory()
	stores, err := factory.CreateStores(&storage.StorageConfig{Type: storage.MemoryStorageType}, appLogger)
	require.NoError(t, err)

	securityNotifier := notifier.NewLogNotifier(appLogger)

	reflinks := service.NewReflinkRegistry(stores.Reflinks, stores.Logs, appLogger)
	blacklist := service.NewBlacklistManager(stores.Blacklist, securityNotifier, config, appLogger)
	limiter := service.NewRateLimiter(stores.Windows, reflinks, blacklist, stores.Logs, config, appLogger)

	handlers := handler.NewHandlers(limiter, reflinks, blacklist, stores.Windows, appLogger)

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.SetupRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &E2ETestSuite{
		router: router,
		server: server,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// postJSON envia um POST com corpo JSON e devolve a resposta decodificada
func (suite *E2ETestSuite) postJSON(t *testing.T, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(http.MethodPost, suite.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := suite.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (suite *E2ETestSuite) getJSON(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()

	resp, err := suite.client.Get(suite.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// TestE2E_HealthCheck testa o endpoint de health
func TestE2E_HealthCheck(t *testing.T) {
	suite := setupE2ETest(t)

	resp, body := suite.getJSON(t, "/health")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "healthy", body["storage"])
}

// TestE2E_DefaultQuotaExhaustion testa o esgotamento da cota padrão por IP
func TestE2E_DefaultQuotaExhaustion(t *testing.T) {
	suite := setupE2ETest(t)

	headers := map[string]string{"X-Forwarded-For": "203.0.113.10"}

	// Cota padrão do ambiente de teste: 5 requisições
	for i := 1; i <= 5; i++ {
		resp, _ := suite.postJSON(t, "/assistant/chat", nil, headers)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "request %d should be allowed", i)
		assert.Equal(t, fmt.Sprintf("%d", 5-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	// A sexta excede o limite
	resp, body := suite.postJSON(t, "/assistant/chat", nil, headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Outro IP segue com a cota intacta
	resp, _ = suite.postJSON(t, "/assistant/chat", nil, map[string]string{"X-Forwarded-For": "203.0.113.11"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestE2E_ReflinkLifecycle testa criação, uso e estatísticas de um reflink
func TestE2E_ReflinkLifecycle(t *testing.T) {
	suite := setupE2ETest(t)

	// Cria um reflink BASIC com limite explícito de 2
	resp, created := suite.postJSON(t, "/admin/reflinks", map[string]interface{}{
		"code":          "colleague-invite",
		"name":          "Colleague invite",
		"rateLimitTier": "BASIC",
		"dailyLimit":    2,
		"createdBy":     "admin@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reflinkID := created["id"].(string)

	// Código duplicado é rejeitado com 409
	resp, _ = suite.postJSON(t, "/admin/reflinks", map[string]interface{}{
		"code":          "colleague-invite",
		"name":          "Duplicate",
		"rateLimitTier": "PREMIUM",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// O reflink governa a cota: duas requisições passam, a terceira é negada
	headers := map[string]string{
		"X-Forwarded-For": "203.0.113.20",
		"X-Reflink-Code":  "colleague-invite",
	}
	for i := 0; i < 2; i++ {
		resp, _ = suite.postJSON(t, "/assistant/chat", nil, headers)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
		assert.Equal(t, "BASIC", resp.Header.Get("X-RateLimit-Tier"))
	}
	resp, _ = suite.postJSON(t, "/assistant/chat", nil, headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// A agregação de uso reflete as três verificações
	resp, usage := suite.getJSON(t, "/admin/reflinks/"+reflinkID+"/usage")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), usage["totalRequests"])
	assert.Equal(t, float64(1), usage["blockedRequests"])
	assert.Equal(t, float64(1), usage["uniqueIdentifiers"])
}

// TestE2E_InvalidReflinkFallsBack testa a degradação para a cota padrão
func TestE2E_InvalidReflinkFallsBack(t *testing.T) {
	suite := setupE2ETest(t)

	resp, _ := suite.postJSON(t, "/assistant/chat", nil, map[string]string{
		"X-Forwarded-For": "203.0.113.30",
		"X-Reflink-Code":  "never-created",
	})

	// Código inválido não é erro: a requisição usa o tier padrão
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "STANDARD", resp.Header.Get("X-RateLimit-Tier"))
}

// TestE2E_BlacklistFlow testa o ciclo violação -> bloqueio -> reintegração
func TestE2E_BlacklistFlow(t *testing.T) {
	suite := setupE2ETest(t)

	ip := "203.0.113.40"
	headers := map[string]string{"X-Forwarded-For": ip}

	// Primeira violação: warning, o IP ainda acessa o assistente
	resp, result := suite.postJSON(t, "/admin/violations", map[string]interface{}{
		"ipAddress": ip,
		"reason":    "prompt injection attempt",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, result["blacklisted"])
	assert.Equal(t, float64(1), result["violationCount"])

	resp, _ = suite.postJSON(t, "/assistant/chat", nil, headers)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Segunda violação atinge o threshold e bloqueia
	resp, result = suite.postJSON(t, "/admin/violations", map[string]interface{}{
		"ipAddress": ip,
		"reason":    "repeated abuse",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, result["blacklisted"])

	resp, body := suite.postJSON(t, "/assistant/chat", nil, headers)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ip_blacklisted", body["error"])

	// A entrada aparece na listagem administrativa
	resp, listing := suite.getJSON(t, "/admin/blacklist")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), listing["count"])

	// Reintegração devolve o acesso
	resp, _ = suite.postJSON(t, "/admin/blacklist/"+ip+"/reinstate", map[string]interface{}{
		"reinstatedBy": "admin@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = suite.postJSON(t, "/assistant/chat", nil, headers)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestE2E_AdminStatus testa a consulta somente-leitura de cota
func TestE2E_AdminStatus(t *testing.T) {
	suite := setupE2ETest(t)

	ip := "203.0.113.50"
	headers := map[string]string{"X-Forwarded-For": ip}

	// Consome duas requisições
	for i := 0; i < 2; i++ {
		resp, _ := suite.postJSON(t, "/assistant/chat", nil, headers)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Act
	resp, status := suite.getJSON(t, "/admin/status?identifier="+ip+"&type=ip")

	// Assert
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), status["requests_remaining"])
	assert.Equal(t, float64(5), status["daily_limit"])

	// Leitura não consome cota
	resp, status = suite.getJSON(t, "/admin/status?identifier="+ip+"&type=ip")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), status["requests_remaining"])
}

// TestE2E_AdminValidation testa os erros de validação da API administrativa
func TestE2E_AdminValidation(t *testing.T) {
	suite := setupE2ETest(t)

	t.Run("Should reject status query without identifier", func(t *testing.T) {
		resp, body := suite.getJSON(t, "/admin/status?type=ip")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation_error", body["error"])
	})

	t.Run("Should reject reflink with unknown tier", func(t *testing.T) {
		resp, _ := suite.postJSON(t, "/admin/reflinks", map[string]interface{}{
			"code":          "bad-tier",
			"name":          "Bad",
			"rateLimitTier": "PLATINUM",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Should return 404 for unknown reflink", func(t *testing.T) {
		resp, _ := suite.getJSON(t, "/admin/reflinks/ghost-id")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Should return 404 when reinstating unknown ip", func(t *testing.T) {
		resp, _ := suite.postJSON(t, "/admin/blacklist/203.0.113.99/reinstate", map[string]interface{}{
			"reinstatedBy": "admin",
		}, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
