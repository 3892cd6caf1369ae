package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaClient_Chat(t *testing.T) {
	var sent ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&sent)
		io.WriteString(w, `{"model":"qwen","done":true,"prompt_eval_count":12,"eval_count":4,
			"message":{"role":"assistant","content":"",
			"tool_calls":[{"function":{"name":"get_current_users","arguments":{}}}]}}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, time.Second, nil)
	resp, err := c.Chat(context.Background(), &Request{
		Model:       "qwen",
		Messages:    []Message{{Role: RoleUser, Content: "who is here?"}},
		Tools:       []ToolDef{{Name: "get_current_users", Parameters: map[string]any{"type": "object"}}},
		Temperature: 0.8,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	if sent.Stream {
		t.Error("request asked for streaming")
	}
	if sent.Options == nil || sent.Options.NumPredict != 256 {
		t.Errorf("options = %+v, want num_predict 256", sent.Options)
	}
	if len(sent.Tools) != 1 || sent.Tools[0].Type != "function" {
		t.Errorf("tools = %+v", sent.Tools)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID == "" || tc.Name != "get_current_users" || tc.Arguments == nil {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 4 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, time.Second, nil).Chat(context.Background(), &Request{Model: "nope"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
	if se.Retriable() {
		t.Error("404 should not be retriable")
	}
}

func TestOllamaClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"models":[]}`)
	}))
	defer srv.Close()

	if err := NewOllamaClient(srv.URL, time.Second, nil).Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}
