// Package janitor — клиент внешнего приёмника сообщений об ошибках.
// Оркестратор шлёт сюда необработанные сбои прогона; приёмник сам решает,
// куда их доставить. Сбой самой доставки только логируется: janitor никогда
// не маскирует исходную ошибку.
package janitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Типы сообщений приёмника.
const (
	MessageTypeInfo    = "info"
	MessageTypeWarning = "warning"
	MessageTypeError   = "error"
)

// Client шлёт сообщения на удалённый janitor-эндпоинт.
type Client struct {
	remoteURL string
	app       string
	hostname  string
	hc        *http.Client
}

// message — тело запроса POST <remote_url>/message.
type message struct {
	Hostname    string `json:"hostname"`
	App         string `json:"app"`
	Summary     string `json:"summary,omitempty"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
}

// New создаёт клиент приёмника. app подписывает сообщения именем бота,
// hostname берётся у операционной системы.
func New(remoteURL, app string) *Client {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Client{
		remoteURL: strings.TrimRight(remoteURL, "/"),
		app:       app,
		hostname:  hostname,
		hc:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Error шлёт сообщение об ошибке.
func (c *Client) Error(ctx context.Context, summary, text string) error {
	return c.send(ctx, summary, text, MessageTypeError)
}

// Warning шлёт предупреждение.
func (c *Client) Warning(ctx context.Context, summary, text string) error {
	return c.send(ctx, summary, text, MessageTypeWarning)
}

// Info шлёт информационное сообщение.
func (c *Client) Info(ctx context.Context, summary, text string) error {
	return c.send(ctx, summary, text, MessageTypeInfo)
}

func (c *Client) send(ctx context.Context, summary, text, messageType string) error {
	body, err := json.Marshal(message{
		Hostname:    c.hostname,
		App:         c.app,
		Summary:     summary,
		Message:     text,
		MessageType: messageType,
	})
	if err != nil {
		return fmt.Errorf("encode janitor message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.remoteURL+"/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("janitor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("deliver janitor message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("janitor rejected the message: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}
