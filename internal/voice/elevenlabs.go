package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNotConfigured means no ElevenLabs key or voice is set.
var ErrNotConfigured = errors.New("elevenlabs not configured")

type Voice struct {
	VoiceID    string `json:"voice_id"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// ElevenLabs is a small text-to-speech client.
type ElevenLabs struct {
	httpClient *http.Client
	baseAPI    string
	apiKey     string
	voiceID    string
	modelID    string
}

func NewElevenLabs(apiKey, voiceID, modelID, baseURL string, timeout time.Duration) *ElevenLabs {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ElevenLabs{
		httpClient: &http.Client{Timeout: timeout},
		baseAPI:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		voiceID:    voiceID,
		modelID:    modelID,
	}
}

func (e *ElevenLabs) Configured() bool {
	return e != nil && e.apiKey != "" && e.voiceID != ""
}

// Synthesize streams mp3 audio for text. An empty voiceID uses the default
// voice. The caller closes the returned body.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) (io.ReadCloser, error) {
	if e == nil || e.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = e.voiceID
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, ErrNotConfigured
	}
	payload := map[string]any{
		"text":     text,
		"model_id": e.modelID,
		"voice_settings": map[string]any{
			"stability":         0.5,
			"similarity_boost":  0.7,
			"style":             0.2,
			"use_speaker_boost": true,
		},
	}
	b, _ := json.Marshal(payload)
	u := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?optimize_streaming_latency=4&output_format=mp3_44100_128", e.baseAPI, url.PathEscape(voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "tts request build failed")
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "tts request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Warn().Str("component", "elevenlabs").Int("status", resp.StatusCode).Str("body", string(bb)).Msg("elevenlabs error")
		return nil, errors.Errorf("tts error: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Voices lists the voices available to the account.
func (e *ElevenLabs) Voices(ctx context.Context) ([]Voice, error) {
	if e == nil || e.apiKey == "" {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseAPI+"/v1/voices", nil)
	if err != nil {
		return nil, errors.Wrap(err, "voices request build failed")
	}
	req.Header.Set("xi-api-key", e.apiKey)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "voices request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Warn().Str("component", "elevenlabs").Int("status", resp.StatusCode).Str("body", string(bb)).Msg("elevenlabs voices error")
		return nil, errors.Errorf("voices error: status %d", resp.StatusCode)
	}
	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode voices")
	}
	return out.Voices, nil
}

// ElevenLabsSpeaker synthesizes speech and plays it through a sink.
type ElevenLabsSpeaker struct {
	tts  *ElevenLabs
	sink AudioSink
}

func NewElevenLabsSpeaker(tts *ElevenLabs, sink AudioSink) *ElevenLabsSpeaker {
	return &ElevenLabsSpeaker{tts: tts, sink: sink}
}

func (s *ElevenLabsSpeaker) Speak(ctx context.Context, text string) error {
	body, err := s.tts.Synthesize(ctx, text, "")
	if err != nil {
		return err
	}
	defer body.Close()
	audio, err := io.ReadAll(body)
	if err != nil {
		return errors.Wrap(err, "read tts audio")
	}
	return s.sink.PlayAudio(ctx, "audio/mpeg", audio)
}

// BrowserSpeaker leaves synthesis to the client's own speech engine.
type BrowserSpeaker struct {
	sink AudioSink
}

func NewBrowserSpeaker(sink AudioSink) *BrowserSpeaker {
	return &BrowserSpeaker{sink: sink}
}

func (s *BrowserSpeaker) Speak(ctx context.Context, text string) error {
	return s.sink.SpeakText(ctx, text)
}

// FallbackSpeaker tries primary and falls back to secondary on error.
type FallbackSpeaker struct {
	Primary   Speaker
	Secondary Speaker
}

func (s FallbackSpeaker) Speak(ctx context.Context, text string) error {
	err := s.Primary.Speak(ctx, text)
	if err == nil || ctx.Err() != nil {
		return err
	}
	log.Warn().Err(err).Str("component", "voice").Msg("primary speaker failed, falling back")
	return s.Secondary.Speak(ctx, text)
}
