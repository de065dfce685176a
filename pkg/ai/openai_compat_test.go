package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestOpenAICompat(t *testing.T, handler http.HandlerFunc) *OpenAICompatGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gen, err := NewOpenAICompatGenerator(srv.URL, "", "local-model")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return gen
}

func TestOpenAICompatStreamGenerate(t *testing.T) {
	gen := newTestOpenAICompat(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req oaiChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Errorf("expected stream=true")
		}
		if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
			t.Errorf("expected leading system message, got %+v", req.Messages)
		}
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hi"}}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"delta":{"content":" there"}}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	})

	var got strings.Builder
	err := gen.StreamGenerate(context.Background(), GenerateRequest{
		SystemPrompt: "be brief",
		Turns:        []Turn{{Role: "user", Content: "hi"}},
	}, func(text string) error {
		got.WriteString(text)
		return nil
	})
	if err != nil {
		t.Fatalf("stream generate: %v", err)
	}
	if got.String() != "Hi there" {
		t.Fatalf("unexpected content: %q", got.String())
	}
}

func TestOpenAICompatContentFilter(t *testing.T) {
	gen := newTestOpenAICompat(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`data: {"choices":[{"delta":{},"finish_reason":"content_filter"}]}` + "\n\n"))
	})

	err := gen.StreamGenerate(context.Background(), GenerateRequest{
		Turns: []Turn{{Role: "user", Content: "blocked"}},
	}, func(string) error { return nil })
	if !errors.Is(err, ErrSafetyBlocked) {
		t.Fatalf("expected ErrSafetyBlocked, got %v", err)
	}
}

func TestOpenAICompatChunkCallbackError(t *testing.T) {
	gen := newTestOpenAICompat(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n\n"))
	})

	wantErr := errors.New("sink closed")
	err := gen.StreamGenerate(context.Background(), GenerateRequest{
		Turns: []Turn{{Role: "user", Content: "hi"}},
	}, func(string) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
}
