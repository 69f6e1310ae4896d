package invidious

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fedi-tube-bot/internal/domain"
	"fedi-tube-bot/internal/infra/metrics"
)

// DefaultDirectoryURL — публичный каталог инстансов Invidious.
const DefaultDirectoryURL = "https://api.invidious.io/instances.json"

// Directory возвращает список живых зеркал из публичного каталога.
type Directory struct {
	url        string
	httpClient *http.Client
}

var _ domain.InstanceDirectory = (*Directory)(nil)

// NewDirectory создаёт клиент каталога. Пустой url заменяется публичным.
func NewDirectory(url string, opts ...DirectoryOption) *Directory {
	if url == "" {
		url = DefaultDirectoryURL
	}
	d := &Directory{url: url, httpClient: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DirectoryOption настраивает клиент каталога.
type DirectoryOption func(*Directory)

// WithDirectoryHTTPClient подменяет http.Client.
func WithDirectoryHTTPClient(client *http.Client) DirectoryOption {
	return func(d *Directory) {
		if client != nil {
			d.httpClient = client
		}
	}
}

type directoryMeta struct {
	Type string `json:"type"`
}

// Instances возвращает хосты зеркал с типом https.
// Каталог отдаёт массив пар [имя, метаданные].
func (d *Directory) Instances(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	start := time.Now()
	resp, err := d.httpClient.Do(req)
	metrics.ObserveNetworkRequest("invidious", "instances", "directory", start, err)
	if err != nil {
		return nil, fmt.Errorf("запрос каталога инстансов: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &domain.UpstreamStatusError{Status: resp.StatusCode}
	}

	var entries [][2]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("декодирование каталога: %w", err)
	}
	hosts := make([]string, 0, len(entries))
	for _, entry := range entries {
		var name string
		if err := json.Unmarshal(entry[0], &name); err != nil || name == "" {
			continue
		}
		var meta directoryMeta
		if err := json.Unmarshal(entry[1], &meta); err != nil {
			continue
		}
		if meta.Type != "https" {
			continue
		}
		hosts = append(hosts, name)
	}
	return hosts, nil
}
