package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"voyager-backend/internal/types"
	"voyager-backend/internal/voice"
)

const maxTTSChars = 2000

// POST /api/tts streams mp3 audio for the given text.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if !s.tts.Configured() {
		s.writeError(w, http.StatusServiceUnavailable, "speech synthesis not configured")
		return
	}
	var req types.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "text is required", Field: "text"})
		return
	}
	text = truncateRunes(text, maxTTSChars)

	ctx, cancel := context.WithTimeout(r.Context(), turnTimeout)
	defer cancel()
	body, err := s.tts.Synthesize(ctx, text, req.VoiceID)
	if err != nil {
		if errors.Is(err, voice.ErrNotConfigured) {
			s.writeError(w, http.StatusServiceUnavailable, "speech synthesis not configured")
			return
		}
		s.writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.Debug().Err(err).Str("component", "http").Msg("tts stream interrupted")
	}
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// GET /api/tts/voices
func (s *Server) handleTTSVoices(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		s.writeError(w, http.StatusServiceUnavailable, "speech synthesis not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	voices, err := s.tts.Voices(ctx)
	if err != nil {
		if errors.Is(err, voice.ErrNotConfigured) {
			s.writeError(w, http.StatusServiceUnavailable, "speech synthesis not configured")
			return
		}
		s.writeError(w, http.StatusBadGateway, "failed to list voices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}
