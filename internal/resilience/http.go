package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultSynthTimeout = 30 * time.Second

// HTTPSynthesizer is a [Synthesizer] backed by a synchronous text-to-speech
// HTTP endpoint: POST a JSON body, receive the complete encoded audio.
type HTTPSynthesizer struct {
	url    string
	apiKey string
	client *http.Client
}

var _ Synthesizer = (*HTTPSynthesizer)(nil)

// HTTPOption configures an [HTTPSynthesizer].
type HTTPOption func(*HTTPSynthesizer)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSynthesizer) { s.client = c }
}

// NewHTTPSynthesizer creates an HTTPSynthesizer posting to url. apiKey is sent
// as a Bearer token when non-empty.
func NewHTTPSynthesizer(url, apiKey string, opts ...HTTPOption) (*HTTPSynthesizer, error) {
	if url == "" {
		return nil, errors.New("resilience: synthesis url must not be empty")
	}
	s := &HTTPSynthesizer{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: defaultSynthTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// synthRequest is the JSON body of a one-shot synthesis call.
type synthRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// Synthesize posts text and returns the response body, the complete encoded
// audio for the utterance.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	body, err := json.Marshal(synthRequest{Text: text, VoiceID: voiceID})
	if err != nil {
		return nil, fmt.Errorf("resilience: marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("resilience: build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resilience: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("resilience: synthesis returned %d: %s", resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("resilience: read synthesis response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("resilience: synthesis returned no audio")
	}
	return audio, nil
}
