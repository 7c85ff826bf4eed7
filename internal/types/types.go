package types

import (
	"voyager-backend/internal/history"
	"voyager-backend/internal/providers"
	"voyager-backend/internal/session"
)

type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type ChatResponse struct {
	SessionID  string            `json:"sessionId"`
	Reply      string            `json:"reply"`
	Transcript string            `json:"transcript,omitempty"`
	Intent     *IntentResponse   `json:"intent,omitempty"`
	Session    *session.Snapshot `json:"session,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// IntentResponse tells the frontend which intent ran and what to render.
type IntentResponse struct {
	Type       string             `json:"type"`
	Parameters map[string]any     `json:"parameters,omitempty"`
	Results    []providers.Result `json:"results"`
	Notices    []string           `json:"notices,omitempty"`
}

type VoiceModeRequest struct {
	On bool `json:"on"`
}

type CartAddRequest struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

type CartResponse struct {
	Items []session.CartItem `json:"items"`
	Total float64            `json:"total"`
	Stage session.Stage      `json:"checkoutStage"`
	Added *session.CartItem  `json:"added,omitempty"`
}

type RecommendationsResponse struct {
	UserID          string   `json:"userId"`
	Interests       []string `json:"interests"`
	Recommendations []string `json:"recommendations"`
}

type HistoryResponse struct {
	UserID  string           `json:"userId"`
	Kind    history.Kind     `json:"kind"`
	Records []history.Record `json:"records"`
}

type ResultsResponse struct {
	Results []providers.Result `json:"results"`
	Notices []string           `json:"notices,omitempty"`
}

type TTSRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

// WSMessage is a control frame on the voice websocket. Audio travels in
// binary frames; an "audio" frame announces the binary frame that follows.
type WSMessage struct {
	Type        string            `json:"type"`
	ID          string            `json:"id,omitempty"`
	Text        string            `json:"text,omitempty"`
	On          *bool             `json:"on,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	DurationMS  int64             `json:"durationMs,omitempty"`
	MaxPhraseMS int64             `json:"maxPhraseMs,omitempty"`
	Turn        *session.Turn     `json:"turn,omitempty"`
	Session     *session.Snapshot `json:"session,omitempty"`
	Error       string            `json:"error,omitempty"`
}
