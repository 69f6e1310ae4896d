package invidious

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fedi-tube-bot/internal/domain"
	"fedi-tube-bot/internal/infra/metrics"
)

const (
	feedEndpoint          = "/api/v1/auth/feed"
	subscriptionsEndpoint = "/api/v1/auth/subscriptions"
	searchEndpoint        = "/api/v1/search"
	channelsEndpoint      = "/api/v1/channels"
)

// Client — клиент API Invidious: лента, подписки, поиск каналов.
type Client struct {
	base       string
	host       string
	token      string
	httpClient *http.Client
}

var _ domain.FeedSource = (*Client)(nil)

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

// New создаёт клиент для указанного хоста инстанса. Хост без схемы
// считается https.
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
		return nil, fmt.Errorf("разбор хоста инстанса: %w", err)
	}
	c := &Client{
		base:       strings.TrimSuffix(base, "/"),
		host:       parsed.Host,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Host возвращает хост источника ленты по умолчанию.
func (c *Client) Host() string {
	return c.host
}

type feedItem struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	AuthorID  string `json:"authorId"`
	Published int64  `json:"published"`
}

type feedResponse struct {
	Notifications []feedItem `json:"notifications"`
	Videos        []feedItem `json:"videos"`
}

// Feed возвращает видео и уведомления одной страницей. Порядок выдачи API
// сохраняется: сначала видео, затем уведомления платформы.
func (c *Client) Feed(ctx context.Context, maxResults int) ([]domain.FeedItem, error) {
	endpoint := feedEndpoint
	if maxResults > 0 {
		endpoint += "?max_results=" + strconv.Itoa(maxResults)
	}
	var payload feedResponse
	if err := c.get(ctx, "feed", endpoint, true, &payload); err != nil {
		return nil, err
	}
	items := make([]domain.FeedItem, 0, len(payload.Videos)+len(payload.Notifications))
	for _, raw := range payload.Videos {
		items = append(items, mapItem(raw))
	}
	for _, raw := range payload.Notifications {
		items = append(items, mapItem(raw))
	}
	return items, nil
}

func mapItem(raw feedItem) domain.FeedItem {
	return domain.FeedItem{
		ID:          raw.VideoID,
		ChannelID:   raw.AuthorID,
		ChannelName: raw.Author,
		Title:       raw.Title,
		Published:   raw.Published,
	}
}

// Subscribe оформляет подписку на канал на стороне видеоплатформы.
func (c *Client) Subscribe(ctx context.Context, channelID string) error {
	endpoint := subscriptionsEndpoint + "/" + url.PathEscape(channelID)
	return c.send(ctx, http.MethodPost, "subscribe", endpoint)
}

// Unsubscribe снимает подписку на канал на стороне видеоплатформы.
func (c *Client) Unsubscribe(ctx context.Context, channelID string) error {
	endpoint := subscriptionsEndpoint + "/" + url.PathEscape(channelID)
	return c.send(ctx, http.MethodDelete, "unsubscribe", endpoint)
}

type searchResult struct {
	Type           string `json:"type"`
	Author         string `json:"author"`
	AuthorID       string `json:"authorId"`
	AuthorVerified bool   `json:"authorVerified"`
}

// SearchChannel ищет каналы по имени.
func (c *Client) SearchChannel(ctx context.Context, query string) ([]domain.ChannelCandidate, error) {
	endpoint := searchEndpoint + "?type=channel&q=" + url.QueryEscape(query)
	var payload []searchResult
	if err := c.get(ctx, "search_channel", endpoint, false, &payload); err != nil {
		return nil, err
	}
	candidates := make([]domain.ChannelCandidate, 0, len(payload))
	for _, raw := range payload {
		if raw.Type != "" && raw.Type != "channel" {
			continue
		}
		candidates = append(candidates, domain.ChannelCandidate{
			ID:       raw.AuthorID,
			Name:     raw.Author,
			Verified: raw.AuthorVerified,
		})
	}
	return candidates, nil
}

// Channel возвращает метаданные канала по идентификатору.
func (c *Client) Channel(ctx context.Context, channelID string) (domain.ChannelCandidate, error) {
	endpoint := channelsEndpoint + "/" + url.PathEscape(channelID)
	var payload searchResult
	if err := c.get(ctx, "channel", endpoint, false, &payload); err != nil {
		return domain.ChannelCandidate{}, err
	}
	return domain.ChannelCandidate{ID: payload.AuthorID, Name: payload.Author, Verified: payload.AuthorVerified}, nil
}

func (c *Client) get(ctx context.Context, operation, endpoint string, auth bool, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, auth)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("invidious", operation, c.host, start, err)
	if err != nil {
		return fmt.Errorf("запрос к invidious: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &domain.UpstreamStatusError{Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа invidious: %w", err)
	}
	return nil
}

// send выполняет запрос без тела; успешным считается только статус 204,
// как отдаёт subscriptions API.
func (c *Client) send(ctx context.Context, method, operation, endpoint string) error {
	req, err := c.newRequest(ctx, method, endpoint, true)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("invidious", operation, c.host, start, err)
	if err != nil {
		return fmt.Errorf("запрос к invidious: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusNoContent {
		return &domain.UpstreamStatusError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, auth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}
