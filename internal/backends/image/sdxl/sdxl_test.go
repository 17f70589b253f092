package sdxl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"sakaibot/internal/backends/image"
)

func TestGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var req requestBody
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		if req.Prompt != "a blue whale" {
			t.Fatalf("prompt = %q", req.Prompt)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fake-jpeg-bytes"))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", server.Client())
	data, contentType, err := client.Generate(context.Background(), "a blue whale")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(data) != "fake-jpeg-bytes" {
		t.Fatalf("data = %q", data)
	}
	if contentType != "image/jpeg" {
		t.Fatalf("contentType = %q", contentType)
	}
}

func TestGenerateBadRequestDescribesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad prompt","details":"too long"}`))
	}))
	defer server.Close()

	client := New(server.URL, "k", server.Client())
	_, _, err := client.Generate(context.Background(), "x")
	if !errors.Is(err, image.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if err.Error() == "" {
		t.Fatal("expected a descriptive error message")
	}
}

func TestGenerateBadRequestWithUnparsableBodyFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := New(server.URL, "k", server.Client())
	_, _, err := client.Generate(context.Background(), "x")
	if !errors.Is(err, image.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestGenerateUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(server.URL, "bad-key", server.Client())
	if _, _, err := client.Generate(context.Background(), "x"); !errors.Is(err, image.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, "k", server.Client())
	if _, _, err := client.Generate(context.Background(), "x"); !errors.Is(err, image.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestGenerateServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "k", server.Client())
	if _, _, err := client.Generate(context.Background(), "x"); !errors.Is(err, image.ErrServiceError) {
		t.Fatalf("expected ErrServiceError, got %v", err)
	}
}

func TestDescribeError(t *testing.T) {
	if got := describeError([]byte(`{"error":"bad"}`)); got != "bad" {
		t.Fatalf("describeError = %q", got)
	}
	if got := describeError([]byte(`{"error":"bad","details":"why"}`)); got != "bad: why" {
		t.Fatalf("describeError = %q", got)
	}
	if got := describeError([]byte("garbage")); got != "invalid request" {
		t.Fatalf("describeError fallback = %q", got)
	}
}

func TestName(t *testing.T) {
	if (New("", "", nil)).Name() != "sdxl" {
		t.Fatal("Name() should always report sdxl")
	}
}
