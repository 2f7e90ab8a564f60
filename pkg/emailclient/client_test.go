package emailclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendReturnsMessageID(t *testing.T) {
	var gotAuth string
	var gotBody sendEmailRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "msg-42"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	id, err := client.Send(context.Background(), "claims@fareguard.app", "rider@example.com", "Your claim is in", "<p>hi</p>", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg-42" {
		t.Fatalf("expected message id msg-42, got %q", id)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if len(gotBody.To) != 1 || gotBody.To[0] != "rider@example.com" {
		t.Fatalf("unexpected recipients %v", gotBody.To)
	}
	if gotBody.From != "claims@fareguard.app" {
		t.Fatalf("unexpected sender %q", gotBody.From)
	}
}

func TestSendSurfacesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"message": "rate limit exceeded"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.Send(context.Background(), "claims@fareguard.app", "rider@example.com", "s", "", "t")
	if err == nil {
		t.Fatal("expected an error from a 429 response")
	}
	if !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestSendRejectsMissingMessageID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.Send(context.Background(), "claims@fareguard.app", "rider@example.com", "s", "", "t")
	if err == nil {
		t.Fatal("expected an error when the provider returns no id")
	}
}
