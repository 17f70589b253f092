package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sakaibot/internal/backends/llm"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	c := New(server.Client())
	c.baseURL = server.URL
	return c
}

func TestGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	resp, err := client.Generate(context.Background(), llm.Request{Model: "gemini-2.0-flash", UserPrompt: "hi", APIKey: "k"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("Text = %q", resp.Text)
	}
}

func TestGenerateEmptyCandidatesIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Generate(context.Background(), llm.Request{Model: "m", UserPrompt: "hi", APIKey: "k"})
	if !errors.Is(err, llm.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded, try again shortly"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Generate(context.Background(), llm.Request{Model: "m", UserPrompt: "hi", APIKey: "k"})
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestGenerateQuotaExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Quota exceeded for quota metric per day"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Generate(context.Background(), llm.Request{Model: "m", UserPrompt: "hi", APIKey: "k"})
	if !errors.Is(err, llm.ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
}

func TestGeneratePermanentOnAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid API key"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Generate(context.Background(), llm.Request{Model: "m", UserPrompt: "hi", APIKey: "bad"})
	if !errors.Is(err, llm.ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
}

func TestGenerateTransientOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Generate(context.Background(), llm.Request{Model: "m", UserPrompt: "hi", APIKey: "k"})
	if !errors.Is(err, llm.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestIsQuotaExhausted(t *testing.T) {
	if !isQuotaExhausted([]byte(`{"error":{"message":"Daily quota exceeded"}}`)) {
		t.Fatal("expected quota message to be recognized")
	}
	if isQuotaExhausted([]byte(`{"error":{"message":"rate limit"}}`)) {
		t.Fatal("expected a plain rate-limit message to not be classified as quota exhaustion")
	}
	if isQuotaExhausted([]byte("not json")) {
		t.Fatal("expected unparsable body to default to false")
	}
}

func TestName(t *testing.T) {
	if (New(nil)).Name() != "gemini" {
		t.Fatal("Name() should always report gemini")
	}
}
