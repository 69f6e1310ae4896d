package mastodon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConversationsStripHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"id": "c1",
				"unread": true,
				"last_status": {
					"id": "st1",
					"content": "<p><span class=\"h-card\">@<span>bot</span></span> ping</p>",
					"account": {"acct": "user@home.example"}
				}
			}
		]`))
	}))
	defer server.Close()

	client, err := New(server.URL, "token")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	conversations, err := client.Conversations(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(conversations) != 1 {
		t.Fatalf("ожидали один диалог, получили %d", len(conversations))
	}
	conv := conversations[0]
	if conv.ID != "c1" || !conv.Unread || conv.LastStatusID != "st1" || conv.Sender != "user@home.example" {
		t.Fatalf("поля диалога отображены неверно: %+v", conv)
	}
	if conv.Text != "@bot ping" {
		t.Fatalf("HTML должен быть приведён к тексту: %q", conv.Text)
	}
}

type postedStatus struct {
	Status      string `json:"status"`
	Visibility  string `json:"visibility"`
	InReplyToID string `json:"in_reply_to_id"`
}

func TestSendDirectMessageSplitsAndThreads(t *testing.T) {
	var posted []postedStatus
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var status postedStatus
		json.NewDecoder(r.Body).Decode(&status)
		posted = append(posted, status)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "new"}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "token")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	long := strings.Repeat("a", 400) + "\n" + strings.Repeat("b", 400)
	if err := client.SendDirectMessage(context.Background(), "user@home.example", long, "st1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if len(posted) != 2 {
		t.Fatalf("длинный текст должен уйти двумя статусами, получили %d", len(posted))
	}
	for i, status := range posted {
		if status.Visibility != "direct" {
			t.Fatalf("статус %d должен быть direct: %+v", i, status)
		}
		if !strings.HasPrefix(status.Status, "@user@home.example ") {
			t.Fatalf("статус %d должен начинаться с упоминания: %q", i, status.Status)
		}
	}
	if posted[0].InReplyToID != "st1" {
		t.Fatalf("первый фрагмент должен отвечать на исходный статус: %+v", posted[0])
	}
	if posted[1].InReplyToID != "" {
		t.Fatalf("последующие фрагменты не привязываются к статусу: %+v", posted[1])
	}
}

func TestMarkRead(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "c1"}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "token")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := client.MarkRead(context.Background(), "c1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/conversations/c1/read" {
		t.Fatalf("неожиданный запрос: %s %s", gotMethod, gotPath)
	}
}
