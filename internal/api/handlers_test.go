package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/zoravur/realtime-chat/internal/chat"
)

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestRESTMessageLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, testOptions())
	base := srv.URL + "/api/channels/general"

	for _, text := range []string{"one", "two"} {
		resp, body := doJSON(t, http.MethodPost, base+"/messages", `{"senderId":"alice","message":"`+text+`"}`)
		if resp.StatusCode != http.StatusCreated || body["id"] == "" {
			t.Fatalf("post = %d %v", resp.StatusCode, body)
		}
	}

	resp, err := http.Get(base + "/messages?limit=1")
	if err != nil {
		t.Fatal(err)
	}
	var msgs []chat.Message
	json.NewDecoder(resp.Body).Decode(&msgs)
	resp.Body.Close()
	if len(msgs) != 1 || msgs[0].Content != "two" {
		t.Fatalf("history = %+v", msgs)
	}

	_, body := doJSON(t, http.MethodGet, base+"/unread?userId=bob", "")
	if body["unread"] != float64(2) {
		t.Fatalf("unread = %v", body)
	}
	_, body = doJSON(t, http.MethodPost, base+"/read", `{"userId":"bob"}`)
	if body["updated"] != float64(2) {
		t.Fatalf("read = %v", body)
	}
	_, body = doJSON(t, http.MethodGet, base+"/unread?userId=bob", "")
	if body["unread"] != float64(0) {
		t.Fatalf("unread after read = %v", body)
	}
}

func TestRESTValidation(t *testing.T) {
	srv, _ := newTestServer(t, testOptions())
	base := srv.URL + "/api/channels/general"

	tests := []struct {
		name, method, url, body string
	}{
		{"empty message", http.MethodPost, base + "/messages", `{"senderId":"alice","message":""}`},
		{"bad json", http.MethodPost, base + "/messages", `{`},
		{"bad limit", http.MethodGet, base + "/messages?limit=-3", ""},
		{"missing user", http.MethodGet, base + "/unread", ""},
		{"read without user", http.MethodPost, base + "/read", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, tt.method, tt.url, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d %v", resp.StatusCode, body)
			}
		})
	}
}

func TestHealthAndStats(t *testing.T) {
	srv, _ := newTestServer(t, testOptions())

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}

	dial(t, srv)
	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/stats", "")
	if _, ok := body["connections"]; !ok {
		t.Fatalf("stats = %v", body)
	}
}
