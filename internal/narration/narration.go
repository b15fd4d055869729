// Package narration synthesizes spoken audio for captions with the
// ElevenLabs text-to-speech API, and registers uploaded voice samples as
// cloned voices so narration can use the student's own voice.
//
// Like the caption generator, the synthesizer has a degraded mode: with no
// API key configured Synthesize returns no audio and no error, and the
// pipeline persists the caption without a narration link.
package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"

	// DefaultVoiceID is the stock ElevenLabs voice used when the profile
	// has no cloned voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	// modelID is the ElevenLabs synthesis model.
	modelID = "eleven_multilingual_v2"

	// defaultTimeout covers synthesis of digest-length captions.
	defaultTimeout = 60 * time.Second
)

// Synthesizer calls the ElevenLabs API. An empty API key puts it in
// degraded mode.
type Synthesizer struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewSynthesizer creates an ElevenLabs client. An empty apiKey is allowed
// and produces a synthesizer that skips narration.
func NewSynthesizer(apiKey string) *Synthesizer {
	if apiKey == "" {
		log.Warn().Msg("ELEVENLABS_API_KEY not configured; narration disabled")
	}
	return &Synthesizer{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
	}
}

// Enabled reports whether narration is configured.
func (s *Synthesizer) Enabled() bool {
	return s.apiKey != ""
}

// Synthesize converts text to speech with the given voice (DefaultVoiceID
// when voiceID is empty). In degraded mode it returns (nil, "", nil) and the
// caller proceeds without audio.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, string, error) {
	if !s.Enabled() {
		return nil, "", nil
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	payload, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": modelID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal synthesis payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/text-to-speech/"+voiceID, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read synthesis response: %w", err)
	}

	log.Debug().
		Str("voiceId", voiceID).
		Int("statusCode", resp.StatusCode).
		Int("audioBytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("ElevenLabs synthesis response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("ElevenLabs returned status %d (body: %s)",
			resp.StatusCode, truncate(string(body), 200))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return body, contentType, nil
}

// AddVoice registers a voice sample as a cloned voice and returns its voice
// ID. In degraded mode it returns ("", nil). Callers treat errors as
// best-effort: a failed registration leaves the profile on the stock voice.
func (s *Synthesizer) AddVoice(ctx context.Context, name string, sample []byte, filename, contentType string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	if filename == "" {
		filename = "voice-sample"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("name", name); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(sample); err != nil {
		return "", fmt.Errorf("write sample: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/voices/add", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice add request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read voice add response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("ElevenLabs voice add returned status %d (body: %s)",
			resp.StatusCode, truncate(string(body), 200))
	}

	var parsed struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse voice add response: %w", err)
	}
	if parsed.VoiceID == "" {
		return "", fmt.Errorf("ElevenLabs voice add returned no voice_id")
	}

	log.Info().Str("voiceId", parsed.VoiceID).Msg("Voice sample registered with ElevenLabs")
	return parsed.VoiceID, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
