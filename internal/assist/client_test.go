package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientChat(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Your brakes need attention soon."}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", "gpt-4o-mini", 5*time.Second)
	reply, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "You are a helpful service advisor."},
		{Role: "user", Content: "How urgent is my brake warning?"},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "Your brakes need attention soon." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" || len(gotReq.Messages) != 2 {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
}

func TestClientChatErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "gpt-4o-mini", 5*time.Second)
	if _, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatalf("expected error on 503 response")
	}
}

func TestClientChatEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "gpt-4o-mini", 5*time.Second)
	if _, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatalf("expected error on empty choices")
	}
}

func TestClientUnconfigured(t *testing.T) {
	client := NewClient("", "", "gpt-4o-mini", time.Second)
	if client.Configured() {
		t.Fatalf("empty base URL should not be configured")
	}
	if _, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatalf("expected error from unconfigured client")
	}

	var nilClient *Client
	if nilClient.Configured() {
		t.Fatalf("nil client should not be configured")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8090":     "http://localhost:8090/v1",
		"http://localhost:8090/":    "http://localhost:8090/v1",
		"http://localhost:8090/v1":  "http://localhost:8090/v1",
		"localhost:8090":            "http://localhost:8090/v1",
		"https://api.openai.com/v1": "https://api.openai.com/v1",
		"":                          "",
	}
	for in, want := range cases {
		if got := normalizeBaseURL(in); got != want {
			t.Fatalf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
