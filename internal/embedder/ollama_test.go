package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestOllamaProvider_PerTextRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/embeddings" {
			http.Error(w, "unexpected route", http.StatusNotFound)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "nomic-embed-text" {
			http.Error(w, "wrong model", http.StatusBadRequest)
			return
		}
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float64{float64(len(req.Prompt)), 0.5},
		})
	}))
	t.Cleanup(srv.Close)

	p := NewOllamaProvider(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text"})
	vecs, err := p.Embed(context.Background(), []string{"a", "bbb"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("want one request per text, got %d", calls.Load())
	}
	if vecs[0][0] != 1 || vecs[1][0] != 3 || vecs[1][1] != 0.5 {
		t.Errorf("unexpected vectors %v", vecs)
	}
}

func TestOllamaProvider_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "non-2xx with error field", status: http.StatusNotFound, body: `{"error":"model not found"}`, wantErr: "model not found"},
		{name: "non-2xx plain body", status: http.StatusBadGateway, body: "bad gateway", wantErr: "HTTP 502"},
		{name: "missing embedding field", status: http.StatusOK, body: `{"other":[1,2]}`, wantErr: "no embedding"},
		{name: "empty embedding", status: http.StatusOK, body: `{"embedding":[]}`, wantErr: "no embedding"},
		{name: "malformed json", status: http.StatusOK, body: `{"embedding":`, wantErr: "decode response"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			p := NewOllamaProvider(&OllamaConfig{Host: srv.URL})
			_, err := p.Embed(context.Background(), []string{"x"})
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestOllamaProvider_TimeoutFloor(t *testing.T) {
	t.Parallel()

	p := NewOllamaProvider(&OllamaConfig{Host: "http://localhost:1", Timeout: time.Second})
	if p.client.Timeout != minOllamaTimeout {
		t.Errorf("timeout = %v, want %v", p.client.Timeout, minOllamaTimeout)
	}
	if p.Model() != defaultOllamaModel {
		t.Errorf("Model() = %q, want default", p.Model())
	}
}

func TestOllamaProvider_Ping(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Ollama is running"))
	}))
	t.Cleanup(srv.Close)

	if err := NewOllamaProvider(&OllamaConfig{Host: srv.URL}).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
