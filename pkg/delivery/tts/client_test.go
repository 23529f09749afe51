package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carenest/reminderd/pkg/retry"
)

func TestClient_Synthesize_Success(t *testing.T) {
	wantAudio := []byte("fake-wav-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("xi-api-key"); got != "secret" {
			t.Errorf("Expected API key header 'secret', got %q", got)
		}

		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Text != "Time to take Lisinopril, 10mg." {
			t.Errorf("Unexpected text: %q", req.Text)
		}
		if req.VoiceID != "voice-1" {
			t.Errorf("Unexpected voice id: %q", req.VoiceID)
		}

		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wantAudio)
	}))
	defer server.Close()

	client := NewClient(&Config{
		URL:     server.URL,
		VoiceID: "voice-1",
		APIKey:  "secret",
	}, nil)

	audio, err := client.Synthesize(context.Background(), "Time to take Lisinopril, 10mg.")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(audio) != string(wantAudio) {
		t.Errorf("Expected audio %q, got %q", wantAudio, audio)
	}
}

func TestClient_Synthesize_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"synthesis failed"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL}, nil)

	_, err := client.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}

	var httpErr *retry.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected *retry.HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", httpErr.StatusCode)
	}
}

func TestClient_Synthesize_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL}, nil)

	if _, err := client.Synthesize(context.Background(), "hello"); err == nil {
		t.Error("Expected error for empty audio payload")
	}
}

func TestClient_Synthesize_Unconfigured(t *testing.T) {
	client := NewClient(&Config{}, nil)

	if client.Configured() {
		t.Error("Expected client without URL to report unconfigured")
	}
	if _, err := client.Synthesize(context.Background(), "hello"); err == nil {
		t.Error("Expected error for unconfigured client")
	}
}

func TestClient_Synthesize_EmptyText(t *testing.T) {
	client := NewClient(&Config{URL: "http://localhost:1"}, nil)

	if _, err := client.Synthesize(context.Background(), ""); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestClient_Synthesize_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	client := NewClient(&Config{URL: server.URL}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.Synthesize(ctx, "hello"); err == nil {
		t.Error("Expected error when context times out")
	}
}
