package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fedi-tube-bot/internal/domain"
	"fedi-tube-bot/internal/infra/metrics"
)

// Client — клиент Mastodon API: диалоги, личные сообщения, отметка
// о прочтении.
type Client struct {
	base       string
	host       string
	token      string
	httpClient *http.Client
}

var _ domain.Messenger = (*Client)(nil)

// Option настраивает клиент.
type Option func(*Client)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New создаёт клиент для инстанса бота.
func New(host, token string, opts ...Option) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("не задан хост инстанса")
	}
	base := host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("разбор адреса инстанса: %w", err)
	}
	c := &Client{
		base:       strings.TrimSuffix(base, "/"),
		host:       parsed.Host,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type conversation struct {
	ID         string `json:"id"`
	Unread     bool   `json:"unread"`
	LastStatus struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		Account struct {
			Acct string `json:"acct"`
		} `json:"account"`
	} `json:"last_status"`
}

// Conversations возвращает диалоги бота. HTML тела последнего статуса
// приводится к плоскому тексту.
func (c *Client) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/conversations", nil)
	if err != nil {
		return nil, err
	}
	var payload []conversation
	if err := c.do(req, "conversations", &payload); err != nil {
		return nil, err
	}
	conversations := make([]domain.Conversation, 0, len(payload))
	for _, raw := range payload {
		conversations = append(conversations, domain.Conversation{
			ID:           raw.ID,
			Unread:       raw.Unread,
			LastStatusID: raw.LastStatus.ID,
			Sender:       raw.LastStatus.Account.Acct,
			Text:         StripHTML(raw.LastStatus.Content),
		})
	}
	return conversations, nil
}

// SendDirectMessage отправляет личное сообщение. Длинный текст разбивается
// на несколько сообщений с учётом длины упоминания получателя; первый
// фрагмент привязывается к исходному статусу.
func (c *Client) SendDirectMessage(ctx context.Context, recipient, text, inReplyToID string) error {
	for i, part := range SplitMessage(text, messageBudget(recipient)) {
		body := map[string]any{
			"status":     "@" + recipient + " " + part,
			"visibility": "direct",
		}
		if i == 0 && inReplyToID != "" {
			body["in_reply_to_id"] = inReplyToID
		}
		req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/statuses", body)
		if err != nil {
			return err
		}
		if err := c.do(req, "send_status", nil); err != nil {
			return err
		}
	}
	return nil
}

// MarkRead помечает диалог прочитанным.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	endpoint := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, "mark_read", nil)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("кодирование запроса: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, buf)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("mastodon", operation, c.host, start, err)
	if err != nil {
		return fmt.Errorf("запрос к mastodon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &domain.UpstreamStatusError{Status: resp.StatusCode}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа mastodon: %w", err)
	}
	return nil
}
