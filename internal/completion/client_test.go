package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, upstream *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: upstream.URL + "/v1", APIKey: "key", Timeout: timeout})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func testRequest() Request {
	return Request{
		Messages:    []Message{{Role: "user", Content: "Hello"}},
		Model:       "deepseek/deepseek-r1",
		Temperature: 0.7,
		MaxTokens:   2048,
	}
}

func TestCompleteSuccess(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if auth := r.Header.Get("Authorization"); auth != "Bearer key" {
			t.Errorf("Authorization = %q", auth)
		}
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Errorf("stream must be false")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "deepseek/deepseek-r1",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Hi there"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
		})
	}))
	defer upstream.Close()

	res, err := newTestClient(t, upstream, 0).Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if res.Text != "Hi there" || res.Usage.Total != 20 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "model overloaded"}})
	}))
	defer upstream.Close()

	_, err := newTestClient(t, upstream, 0).Complete(context.Background(), testRequest())
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("upstream error must not look like a timeout")
	}
}

func TestCompleteMalformedBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer upstream.Close()

	if _, err := newTestClient(t, upstream, 0).Complete(context.Background(), testRequest()); !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer upstream.Close()

	if _, err := newTestClient(t, upstream, 0).Complete(context.Background(), testRequest()); !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}

func TestCompleteTimeoutIsDistinct(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestClient(t, upstream, 50*time.Millisecond).Complete(context.Background(), testRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if errors.Is(err, ErrUpstream) {
		t.Fatalf("timeout must not look like a transport failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout took too long")
	}
}
