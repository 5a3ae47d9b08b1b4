package resilience

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPSynthesizerPostsAndReturnsAudio(t *testing.T) {
	var gotAuth string
	var gotReq synthRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte{0x01, 0x02, 0x03})
	}))
	defer srv.Close()

	s, err := NewHTTPSynthesizer(srv.URL, "key-123")
	if err != nil {
		t.Fatalf("NewHTTPSynthesizer: %v", err)
	}

	audio, err := s.Synthesize(context.Background(), "Hello there.", "aria")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio) != 3 {
		t.Errorf("audio length = %d, want 3", len(audio))
	}
	if gotAuth != "Bearer key-123" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotReq.Text != "Hello there." || gotReq.VoiceID != "aria" {
		t.Errorf("request = %+v, want text and voice id", gotReq)
	}
}

func TestHTTPSynthesizerRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	s, err := NewHTTPSynthesizer(srv.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPSynthesizer: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "Hi.", "aria"); err == nil {
		t.Error("non-200 response returned nil error")
	}
}

func TestHTTPSynthesizerRejectsEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	s, err := NewHTTPSynthesizer(srv.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPSynthesizer: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "Hi.", "aria"); err == nil {
		t.Error("empty body returned nil error")
	}
}

func TestHTTPSynthesizerRequiresURL(t *testing.T) {
	if _, err := NewHTTPSynthesizer("", "key"); err == nil {
		t.Error("empty url accepted")
	}
}
