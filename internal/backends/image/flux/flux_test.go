package flux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sakaibot/internal/backends/image"
)

func TestGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("prompt"); got != "a red fox" {
			t.Fatalf("prompt query = %q, want %q", got, "a red fox")
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fake-png-bytes"))
	}))
	defer server.Close()

	client := New(server.URL, server.Client())
	data, contentType, err := client.Generate(context.Background(), "a red fox")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(data) != "fake-png-bytes" {
		t.Fatalf("data = %q", data)
	}
	if contentType != "image/png" {
		t.Fatalf("contentType = %q", contentType)
	}
}

func TestGenerateBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, server.Client())
	if _, _, err := client.Generate(context.Background(), "x"); !errors.Is(err, image.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, server.Client())
	if _, _, err := client.Generate(context.Background(), "x"); !errors.Is(err, image.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestGenerateServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, server.Client())
	if _, _, err := client.Generate(context.Background(), "x"); !errors.Is(err, image.ErrServiceError) {
		t.Fatalf("expected ErrServiceError, got %v", err)
	}
}

func TestGenerateUnexpectedStatusMapsToServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	client := New(server.URL, server.Client())
	if _, _, err := client.Generate(context.Background(), "x"); !errors.Is(err, image.ErrServiceError) {
		t.Fatalf("expected ErrServiceError for an unrecognized status, got %v", err)
	}
}

func TestName(t *testing.T) {
	if (New("", nil)).Name() != "flux" {
		t.Fatal("Name() should always report flux")
	}
}
