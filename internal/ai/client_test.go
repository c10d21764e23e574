package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"blog-content-engine/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := config.Config{
		ProviderBaseURL: server.URL,
		ProviderAPIKey:  "test-key",
		TextModel:       "test-model",
		ImageModel:      "test-image-model",
		ImageSize:       "1024x1024",
		ProviderTimeout: 5 * time.Second,
	}
	return NewClient(cfg, zap.NewNop().Sugar()), server
}

func structuredReply(text string, tokens int) map[string]any {
	return map[string]any{
		"output": []map[string]any{
			{
				"type": "message",
				"role": "assistant",
				"content": []map[string]any{
					{"type": "output_text", "text": text},
				},
			},
		},
		"usage": map[string]any{"total_tokens": tokens},
	}
}

var testSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{"ok": map[string]any{"type": "boolean"}},
	"required":   []string{"ok"},
}

func TestGenerateJSON(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer credential, got %q", got)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "test-model" {
			t.Errorf("model not sent: %v", req["model"])
		}
		_ = json.NewEncoder(w).Encode(structuredReply(`{"ok":true}`, 42))
	})

	obj, tokens, err := client.GenerateJSON(context.Background(), "sys", "user", "probe", testSchema)
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if ok, _ := obj["ok"].(bool); !ok {
		t.Fatalf("unexpected object: %v", obj)
	}
	if tokens != 42 {
		t.Fatalf("tokens = %d, want 42", tokens)
	}
}

func TestGenerateJSONMalformedOutput(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(structuredReply("definitely not json", 1))
	})
	if _, _, err := client.GenerateJSON(context.Background(), "sys", "user", "probe", testSchema); err == nil {
		t.Fatal("expected parse error for malformed output")
	}
}

func TestRateLimitSurfacesImmediately(t *testing.T) {
	var calls int32
	client, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit"}}`))
	})

	_, _, err := client.GenerateJSON(context.Background(), "sys", "user", "probe", testSchema)
	if err == nil {
		t.Fatal("expected rate-limit error")
	}
	if !IsRateLimited(err) {
		t.Fatalf("error should classify as rate limited: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("rate-limit errors must not be retried by the client, got %d calls", n)
	}
}

func TestPaymentRequiredClassification(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"insufficient_quota"}}`))
	})

	_, _, err := client.GenerateJSON(context.Background(), "sys", "user", "probe", testSchema)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPaymentRequired(err) {
		t.Fatalf("insufficient_quota should classify as payment required: %v", err)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls int32
	client, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(structuredReply(`{"ok":true}`, 1))
	})

	_, _, err := client.GenerateJSON(context.Background(), "sys", "user", "probe", testSchema)
	if err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}

func TestGenerateImageBase64(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(raw)}},
		})
	})

	got, err := client.GenerateImage(context.Background(), "an illustration")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("image bytes mismatch: %v", got)
	}
}
