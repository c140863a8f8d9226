// Package push предоставляет клиент для внешнего шлюза push-уведомлений.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/craftmarket-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие со шлюзом push-уведомлений.
// Шлюз необязателен: при пустом адресе отправка сообщает об отсутствии конфигурации.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type pushRequest struct {
	UserID  string         `json:"user_id"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewClient создаёт HTTP-клиент шлюза уведомлений по указанному адресу.
// Сетевые ошибки и 5xx ретраятся автоматически.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// Send доставляет уведомление во внешний шлюз.
func (c *Client) Send(ctx context.Context, n *model.Notification) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("push gateway not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(pushRequest{
		UserID:  n.UserID,
		Type:    n.Type,
		Title:   n.Title,
		Message: n.Message,
		Data:    n.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}

	url := base + "/api/push"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
