package invidious

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fedi-tube-bot/internal/domain"
)

func TestFeedMergesVideosAndNotifications(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"notifications": [
				{"videoId": "n1", "title": "Notified", "author": "Ch2", "authorId": "UC2", "published": 950}
			],
			"videos": [
				{"videoId": "v1", "title": "Fresh", "author": "Ch1", "authorId": "UC1", "published": 1100},
				{"videoId": "v2", "title": "Older", "author": "Ch1", "authorId": "UC1", "published": 1000}
			]
		}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "secret")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	items, err := client.Feed(context.Background(), 60)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotPath != "/api/v1/auth/feed" {
		t.Fatalf("неожиданный путь: %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("лента требует авторизацию, получили %q", gotAuth)
	}
	if gotQuery != "max_results=60" {
		t.Fatalf("неожиданный запрос: %q", gotQuery)
	}
	if len(items) != 3 {
		t.Fatalf("ожидали 3 элемента, получили %d", len(items))
	}
	// сначала видео в порядке выдачи API, затем уведомления
	if items[0].ID != "v1" || items[1].ID != "v2" || items[2].ID != "n1" {
		t.Fatalf("порядок выдачи нарушен: %+v", items)
	}
	if items[0].ChannelID != "UC1" || items[0].ChannelName != "Ch1" || items[0].Published != 1100 {
		t.Fatalf("поля элемента отображены неверно: %+v", items[0])
	}
}

func TestSubscribeExpectsNoContent(t *testing.T) {
	var gotMethod, gotPath string
	status := http.StatusNoContent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(status)
	}))
	defer server.Close()

	client, err := New(server.URL, "secret")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if err := client.Subscribe(context.Background(), "UC1"); err != nil {
		t.Fatalf("204 должен считаться успехом: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/auth/subscriptions/UC1" {
		t.Fatalf("неожиданный запрос: %s %s", gotMethod, gotPath)
	}

	// любой другой статус — ошибка с кодом
	status = http.StatusOK
	err = client.Subscribe(context.Background(), "UC1")
	var statusErr *domain.UpstreamStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusOK {
		t.Fatalf("ожидали ошибку статуса 200, получили %v", err)
	}
}

func TestUnsubscribeUsesDelete(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := New(server.URL, "secret")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := client.Unsubscribe(context.Background(), "UC1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("ожидали DELETE, получили %s", gotMethod)
	}
}

func TestSearchChannelFiltersNonChannels(t *testing.T) {
	var gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.URL.Query().Get("type")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"type": "channel", "author": "Demo", "authorId": "UC1", "authorVerified": true},
			{"type": "video", "author": "Noise", "authorId": "UC2"}
		]`))
	}))
	defer server.Close()

	client, err := New(server.URL, "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	candidates, err := client.SearchChannel(context.Background(), "demo")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotType != "channel" {
		t.Fatalf("ожидали type=channel, получили %q", gotType)
	}
	if len(candidates) != 1 {
		t.Fatalf("видео должны отфильтровываться: %+v", candidates)
	}
	if candidates[0].ID != "UC1" || candidates[0].Name != "Demo" || !candidates[0].Verified {
		t.Fatalf("поля кандидата отображены неверно: %+v", candidates[0])
	}
}

func TestFeedUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, err := New(server.URL, "bad-token")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_, err = client.Feed(context.Background(), 0)
	var statusErr *domain.UpstreamStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusForbidden {
		t.Fatalf("ожидали ошибку статуса 403, получили %v", err)
	}
}

func TestHostStripsScheme(t *testing.T) {
	client, err := New("invidious.example", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if client.Host() != "invidious.example" {
		t.Fatalf("неожиданный хост: %q", client.Host())
	}

	client, err = New("https://invidious.example/", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if client.Host() != "invidious.example" {
		t.Fatalf("схема должна отрезаться: %q", client.Host())
	}
}

func TestDirectoryInstances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			["yewtu.be", {"type": "https", "uri": "https://yewtu.be"}],
			["abc.onion", {"type": "onion", "uri": "http://abc.onion"}],
			["inv.nadeko.net", {"type": "https", "uri": "https://inv.nadeko.net"}]
		]`))
	}))
	defer server.Close()

	directory := NewDirectory(server.URL)
	hosts, err := directory.Instances(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("onion-зеркала должны отфильтровываться: %v", hosts)
	}
	if hosts[0] != "yewtu.be" || hosts[1] != "inv.nadeko.net" {
		t.Fatalf("неожиданный список зеркал: %v", hosts)
	}
}

func TestDirectoryUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	directory := NewDirectory(server.URL)
	_, err := directory.Instances(context.Background())
	var statusErr *domain.UpstreamStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Fatalf("ожидали ошибку статуса 502, получили %v", err)
	}
}
