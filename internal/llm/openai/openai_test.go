package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efebarandurmaz/sage/internal/llm"
)

func TestNew_SetsDefaults(t *testing.T) {
	client := New("test-key", "test-model", "", "")

	if client.apiKey != "test-key" {
		t.Errorf("expected apiKey 'test-key', got %q", client.apiKey)
	}
	if client.model != "test-model" {
		t.Errorf("expected model 'test-model', got %q", client.model)
	}
	if client.baseURL != defaultBaseURL {
		t.Errorf("expected default baseURL %q, got %q", defaultBaseURL, client.baseURL)
	}
	if client.embedModel != "text-embedding-3-small" {
		t.Errorf("expected default embed model, got %q", client.embedModel)
	}
	if client.http == nil {
		t.Error("expected http client to be initialized")
	}
}

func TestNew_CustomBaseURL(t *testing.T) {
	customURL := "http://localhost:11434/v1"
	client := New("key", "model", customURL, "nomic-embed-text")

	if client.baseURL != customURL {
		t.Errorf("expected baseURL %q, got %q", customURL, client.baseURL)
	}
	if client.embedModel != "nomic-embed-text" {
		t.Errorf("expected embed model 'nomic-embed-text', got %q", client.embedModel)
	}
}

func TestComplete_CorrectRequest(t *testing.T) {
	var capturedBody map[string]any
	var capturedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		capturedAuth = r.Header.Get("Authorization")
		bodyBytes, _ := io.ReadAll(r.Body)
		json.Unmarshal(bodyBytes, &capturedBody)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "answer"}, "finish_reason": "stop"},
			},
			"model": "test-model",
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7},
		})
	}))
	defer server.Close()

	client := New("test-api-key", "test-model", server.URL, "")
	maxTokens := 2048
	temp := 0.2

	resp, err := client.Complete(context.Background(), &llm.Prompt{
		SystemPrompt: "You are a careful study assistant.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "What is basalt?"}},
	}, &llm.RequestOptions{
		MaxTokens:   &maxTokens,
		Temperature: &temp,
		StopSeqs:    []string{"END"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if capturedAuth != "Bearer test-api-key" {
		t.Errorf("Authorization = %q", capturedAuth)
	}
	if capturedBody["model"] != "test-model" {
		t.Errorf("model = %v", capturedBody["model"])
	}
	if capturedBody["max_tokens"] != float64(2048) {
		t.Errorf("max_tokens = %v", capturedBody["max_tokens"])
	}
	if capturedBody["temperature"] != 0.2 {
		t.Errorf("temperature = %v", capturedBody["temperature"])
	}
	msgs := capturedBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user message, got %d", len(msgs))
	}
	if first := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v", first["role"])
	}

	if resp.Content != "answer" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 7 {
		t.Errorf("token usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.StopReason != "stop" {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
}

func TestComplete_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New("bad-key", "model", server.URL, "")
	_, err := client.Complete(context.Background(), &llm.Prompt{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should carry status: %v", err)
	}
}

func TestEmbed_PreservesInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		// Deliberately out of order: clients must reassemble by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.3, 0.4}},
				{"index": 0, "embedding": []float32{0.1, 0.2}},
			},
		})
	}))
	defer server.Close()

	client := New("key", "model", server.URL, "embed-model")
	vecs, err := client.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.3 {
		t.Errorf("embeddings not reordered by index: %v", vecs)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))
	defer server.Close()

	client := New("key", "model", server.URL, "embed-model")
	if _, err := client.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error on embedding count mismatch")
	}
}
