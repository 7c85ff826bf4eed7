package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"voyager-backend/internal/config"
	"voyager-backend/internal/controller"
	"voyager-backend/internal/history"
	"voyager-backend/internal/providers"
	"voyager-backend/internal/router"
	"voyager-backend/internal/session"
	"voyager-backend/internal/types"
	"voyager-backend/internal/voice"
)

const turnTimeout = 60 * time.Second

type RestaurantSearcher interface {
	SearchRestaurants(ctx context.Context, location, cuisine string) ([]providers.Result, error)
}

type RecipeDetailer interface {
	RecipeDetails(ctx context.Context, id string) (providers.RecipeDetails, error)
}

type CurrencyConverter interface {
	Convert(ctx context.Context, amount float64, from, to string) (providers.Conversion, error)
}

type Recommender interface {
	Recommend(ctx context.Context, userID string) ([]string, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP surface. Everything except
// Sessions is optional; a missing collaborator answers 503.
type Deps struct {
	Sessions    *controller.Manager
	History     history.Store
	Recorder    controller.Recorder
	Recommender Recommender
	Restaurants RestaurantSearcher
	Recipes     RecipeDetailer
	Currency    CurrencyConverter
	// STT transcribes uploaded clips and voice websocket audio.
	STT    voice.Transcriber
	TTS    *voice.ElevenLabs
	Health HealthChecker
}

type Server struct {
	router      *chi.Mux
	cfg         config.Config
	sessions    *controller.Manager
	history     history.Store
	recorder    controller.Recorder
	recommender Recommender
	restaurants RestaurantSearcher
	recipes     RecipeDetailer
	currency    CurrencyConverter
	stt         voice.Transcriber
	whisper     *voice.WhisperRecognizer
	tts         *voice.ElevenLabs
	health      HealthChecker
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("server: session manager is required")
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Session-Id", "X-User-Id"},
		ExposedHeaders:   []string{"X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:      r,
		cfg:         cfg,
		sessions:    deps.Sessions,
		history:     deps.History,
		recorder:    deps.Recorder,
		recommender: deps.Recommender,
		restaurants: deps.Restaurants,
		recipes:     deps.Recipes,
		currency:    deps.Currency,
		stt:         deps.STT,
		tts:         deps.TTS,
		health:      deps.Health,
	}
	if deps.STT != nil {
		s.whisper = voice.NewWhisperRecognizer(nil, deps.STT, cfg.STTModel, cfg.ListenTimeout, cfg.PhraseLimit)
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Group(func(r chi.Router) {
		r.Use(hlog.NewHandler(log.Logger))
		r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("component", "http").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}))

		r.Get("/api/health", s.handleHealth)
		r.Post("/api/chat", s.handleChat)
		r.Post("/api/voice", s.handleVoice)
		r.Post("/api/voice/mode", s.handleVoiceMode)
		r.Get("/api/session", s.handleSession)
		r.Delete("/api/conversation", s.handleClearConversation)
		// Searches and lookups
		r.Post("/api/search/{kind}", s.handleSearch)
		r.Get("/api/restaurants", s.handleRestaurants)
		r.Get("/api/recipes/{id}", s.handleRecipeDetails)
		r.Get("/api/currency", s.handleCurrency)
		r.Get("/api/recommendations", s.handleRecommendations)
		r.Get("/api/history", s.handleHistory)
		// Cart
		r.Get("/api/cart", s.handleCart)
		r.Post("/api/cart", s.handleCartAdd)
		r.Delete("/api/cart", s.handleCartClear)
		r.Delete("/api/cart/{id}", s.handleCartRemove)
		r.Post("/api/cart/open", s.handleCartOpen)
		r.Delete("/api/cart/open", s.handleCartClose)
		r.Post("/api/cart/checkout", s.handleCheckoutBegin)
		r.Delete("/api/cart/checkout", s.handleCheckoutCancel)
		// Speech
		r.Post("/api/tts", s.handleTTS)
		r.Get("/api/tts/voices", s.handleTTSVoices)
	})
	// The websocket needs the raw ResponseWriter to hijack the connection.
	s.router.Get("/ws/voice", s.handleVoiceWS)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Str("component", "http").Msg("health check failed")
			status = map[string]string{"status": "degraded", "database": "unavailable"}
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	ctrl := s.session(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), turnTimeout)
	defer cancel()
	reply, err := ctrl.Submit(ctx, controller.UtteranceReceived{Text: req.Message, Source: session.SourceTyped})
	if err != nil {
		s.writeEventError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(ctrl.ID(), "", reply))
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.whisper == nil {
		s.writeError(w, http.StatusServiceUnavailable, "speech recognition not configured")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "audio file is required (field 'file')")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "could not read audio file")
		return
	}
	ctrl := s.session(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*turnTimeout)
	defer cancel()
	transcript, err := s.whisper.Transcribe(ctx, voice.Clip{Data: data, Filename: header.Filename})
	if err != nil {
		var ce *voice.CaptureError
		if errors.As(err, &ce) && ce.Reason == voice.ReasonUnintelligible {
			s.writeError(w, http.StatusUnprocessableEntity, "could not understand the audio")
			return
		}
		log.Warn().Err(err).Str("component", "http").Msg("transcription failed")
		s.writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	reply, err := ctrl.Submit(ctx, controller.UtteranceReceived{Text: transcript, Source: session.SourceVoice})
	if err != nil {
		s.writeEventError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(ctrl.ID(), transcript, reply))
}

func (s *Server) handleVoiceMode(w http.ResponseWriter, r *http.Request) {
	var req types.VoiceModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.submitSnapshot(w, r, controller.VoiceToggled{On: req.On})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.submitSnapshot(w, r, controller.SnapshotRequested{})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	s.submitSnapshot(w, r, controller.ConversationCleared{})
}

func (s *Server) submitSnapshot(w http.ResponseWriter, r *http.Request, ev controller.Event) {
	ctrl := s.session(w, r)
	reply, err := ctrl.Submit(r.Context(), ev)
	if err != nil {
		s.writeEventError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply.Snapshot)
}

// ---- Helpers ----

func chatResponse(sessionID, transcript string, reply controller.Reply) types.ChatResponse {
	resp := types.ChatResponse{SessionID: sessionID, Transcript: transcript, Session: &reply.Snapshot}
	if t := reply.Turn; t != nil {
		resp.Reply = t.Assistant
		resp.Intent = &types.IntentResponse{
			Type:       string(t.Intent),
			Parameters: t.Params,
			Results:    nonNil(t.Results),
			Notices:    t.Notices,
		}
	}
	return resp
}

func nonNil(rs []providers.Result) []providers.Result {
	if rs == nil {
		return []providers.Result{}
	}
	return rs
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, types.ErrorResponse{Error: msg})
}

// writeEventError maps a controller error onto a status code.
func (s *Server) writeEventError(w http.ResponseWriter, err error) {
	var ve *router.ValidationError
	var te *session.TransitionError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, controller.ErrItemNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &te), errors.Is(err, controller.ErrSpeaking):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, controller.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "session expired, please retry")
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		log.Error().Err(err).Str("component", "http").Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}

// writeProviderError reports a failed direct lookup with the same wording
// the assistant uses for failed searches.
func (s *Server) writeProviderError(w http.ResponseWriter, label string, err error) {
	var ue *providers.UpstreamError
	code := http.StatusBadGateway
	if errors.As(err, &ue) && ue.Status == http.StatusNotFound {
		code = http.StatusNotFound
	}
	s.writeError(w, code, router.Notice(label, err))
}

func newSessionID() string {
	return "s_" + uuid.NewString()
}

// getSessionID retrieves the session ID from cookie or query parameter/header
func getSessionID(r *http.Request) string {
	if cookie, err := GetSessionCookie(r); err == nil && cookie != "" {
		return cookie
	}
	if sid := r.Header.Get("X-Session-Id"); sid != "" {
		return sid
	}
	if sid := r.URL.Query().Get("sessionId"); sid != "" {
		return sid
	}
	return ""
}

// getOrCreateSessionID gets existing session ID or creates a new one, setting the cookie
func getOrCreateSessionID(r *http.Request, w http.ResponseWriter) string {
	sid := getSessionID(r)
	if sid == "" {
		sid = newSessionID()
		log.Debug().Str("component", "session").Str("session_id", sid).Str("path", r.URL.Path).Msg("creating new session")
		SetSessionCookie(w, r, sid)
	}
	w.Header().Set("X-Session-Id", sid)
	return sid
}

func requestUserID(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get("X-User-Id")); uid != "" {
		return uid
	}
	return strings.TrimSpace(r.URL.Query().Get("userId"))
}

// session returns the controller for the request, starting one if needed.
// A session without a known user gets a generated user id.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *controller.Controller {
	sid := getOrCreateSessionID(r, w)
	if c, ok := s.sessions.Lookup(sid); ok {
		return c
	}
	uid := requestUserID(r)
	if uid == "" {
		uid = "u_" + uuid.NewString()
	}
	return s.sessions.Get(sid, uid)
}

// userID resolves the user for history lookups: the explicit id if given,
// otherwise the session's user.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) string {
	if uid := requestUserID(r); uid != "" {
		return uid
	}
	return s.session(w, r).UserID()
}

// originPatterns turns the CORS origin into websocket host patterns.
func (s *Server) originPatterns() []string {
	origin := strings.TrimSpace(s.cfg.AllowedOrigin)
	if origin == "" || origin == "*" {
		return []string{"*"}
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{origin}
}
