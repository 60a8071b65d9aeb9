package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"assistant-guard/internal/domain"
)

// LogNotifier implementa domain.SecurityNotifier registrando no log estruturado
// Implementação padrão quando nenhum webhook está configurado
type LogNotifier struct {
	logger domain.Logger
}

// NewLogNotifier cria uma nova instância do LogNotifier
func NewLogNotifier(logger domain.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyWarning registra a transição de um IP para o estado de warning
func (n *LogNotifier) NotifyWarning(ctx context.Context, ip, message string, details map[string]interface{}) error {
	fields := mergeFields(details, map[string]interface{}{
		"ip":    ip,
		"event": "security_warning",
	})
	n.logger.Warn(message, fields)
	return nil
}

// NotifyBlocked registra a transição de um IP para o estado bloqueado
func (n *LogNotifier) NotifyBlocked(ctx context.Context, ip, message string, details map[string]interface{}) error {
	fields := mergeFields(details, map[string]interface{}{
		"ip":    ip,
		"event": "security_block",
	})
	n.logger.Warn(message, fields)
	return nil
}

// webhookPayload é o corpo JSON enviado ao endpoint de notificações
type webhookPayload struct {
	Event     string                 `json:"event"`
	IPAddress string                 `json:"ipAddress"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// WebhookNotifier implementa domain.SecurityNotifier via POST HTTP
// O chamador trata as chamadas como fire-and-forget; erros retornados
// aqui são engolidos e registrados pelo BlacklistManager
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger domain.Logger
}

// NewWebhookNotifier cria uma nova instância do WebhookNotifier
func NewWebhookNotifier(url string, logger domain.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// NotifyWarning envia a notificação de warning ao webhook
func (n *WebhookNotifier) NotifyWarning(ctx context.Context, ip, message string, details map[string]interface{}) error {
	return n.post(ctx, "security_warning", ip, message, details)
}

// NotifyBlocked envia a notificação de bloqueio ao webhook
func (n *WebhookNotifier) NotifyBlocked(ctx context.Context, ip, message string, details map[string]interface{}) error {
	return n.post(ctx, "security_block", ip, message, details)
}

// post envia o payload JSON ao endpoint configurado
func (n *WebhookNotifier) post(ctx context.Context, event, ip, message string, details map[string]interface{}) error {
	payload := webhookPayload{
		Event:     event,
		IPAddress: ip,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug("Security webhook delivered", map[string]interface{}{
		"event": event,
		"ip":    ip,
	})
	return nil
}

// mergeFields mescla os detalhes da notificação com campos fixos
func mergeFields(details, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(details)+len(extra))
	for k, v := range details {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
