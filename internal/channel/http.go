package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPConfig — настройки HTTPGateway.
type HTTPConfig struct {
	// URL — webhook провайдера (обязательно).
	URL string

	// Headers — дополнительные заголовки (например, Authorization).
	Headers map[string]string

	// Timeout — таймаут запроса. Default: 10s
	Timeout time.Duration

	// Client — HTTP-клиент. Default: http.Client с Timeout.
	Client *http.Client
}

// HTTPGateway — шлюз, отправляющий сообщение POST-запросом провайдеру.
//
// Тело запроса:
//
//	{"channel": "email", "to": "...", "subject": "...", "body": "...",
//	 "contact_id": "...", "template_ref": "...", "idempotency_key": "..."}
//
// Ответ 2xx с JSON {"message_id": "...", "cost_units": 1} — успех.
// Ответ >= 400 или сетевая ошибка — неуспешная доставка.
type HTTPGateway struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPGateway создаёт HTTP-шлюз.
func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPGateway{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  client,
	}
}

type sendRequest struct {
	Channel        string `json:"channel"`
	To             string `json:"to"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body"`
	ContactID      string `json:"contact_id"`
	TemplateRef    string `json:"template_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	CostUnits int    `json:"cost_units"`
}

// Send отправляет сообщение.
func (g *HTTPGateway) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.Destination == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrNoDestination, msg.Channel)
	}

	payload := sendRequest{
		Channel:        string(msg.Channel),
		To:             msg.Destination,
		Subject:        msg.Content.Subject,
		Body:           msg.Content.Body,
		TemplateRef:    msg.Content.TemplateRef,
		IdempotencyKey: msg.IdempotencyKey,
	}
	if msg.Contact != nil {
		payload.ContactID = msg.Contact.ID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, val := range g.headers {
		req.Header.Set(key, val)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// сетевая ошибка провайдера — неуспешная доставка
		return Result{Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{Error: fmt.Sprintf("read response: %v", err)}, nil
	}

	if resp.StatusCode >= 400 {
		return Result{
			Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}, nil
	}

	var parsed sendResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return Result{Error: fmt.Sprintf("decode response: %v", err)}, nil
		}
	}

	return Result{
		Success:           true,
		ProviderMessageID: parsed.MessageID,
		CostUnits:         parsed.CostUnits,
	}, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
