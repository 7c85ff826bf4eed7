package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"voyager-backend/internal/controller"
	"voyager-backend/internal/history"
	"voyager-backend/internal/intent"
	"voyager-backend/internal/router"
	"voyager-backend/internal/types"
)

const lookupTimeout = 20 * time.Second

// POST /api/search/{kind}
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	kind := intent.Kind(chi.URLParam(r, "kind"))
	if intent.ParseKind(string(kind)) != kind || !kind.IsSearch() {
		s.writeError(w, http.StatusNotFound, "unknown search type")
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctrl := s.session(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), turnTimeout)
	defer cancel()
	reply, err := ctrl.Submit(ctx, controller.SearchRequested{Kind: kind, Params: intent.NormalizeParams(body)})
	if err != nil {
		s.writeEventError(w, err)
		return
	}
	out := reply.Outcome
	writeJSON(w, http.StatusOK, types.IntentResponse{
		Type:       string(out.Kind),
		Parameters: out.Params,
		Results:    nonNil(out.Results),
		Notices:    out.Notices,
	})
}

// GET /api/restaurants?location=&cuisine=
func (s *Server) handleRestaurants(w http.ResponseWriter, r *http.Request) {
	if s.restaurants == nil {
		s.writeError(w, http.StatusServiceUnavailable, "restaurant search not configured")
		return
	}
	location := strings.TrimSpace(r.URL.Query().Get("location"))
	if location == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "location is required", Field: "location"})
		return
	}
	cuisine := strings.TrimSpace(r.URL.Query().Get("cuisine"))

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()
	results, err := s.restaurants.SearchRestaurants(ctx, location, cuisine)
	if err != nil {
		writeJSON(w, http.StatusOK, types.ResultsResponse{Results: nonNil(nil), Notices: []string{router.Notice("restaurant search", err)}})
		return
	}
	params := map[string]any{"location": location}
	if cuisine != "" {
		params["cuisine"] = cuisine
	}
	s.record(r, w, history.KindSearch, "restaurant_search", params)
	writeJSON(w, http.StatusOK, types.ResultsResponse{Results: nonNil(results)})
}

// GET /api/recipes/{id}
func (s *Server) handleRecipeDetails(w http.ResponseWriter, r *http.Request) {
	if s.recipes == nil {
		s.writeError(w, http.StatusServiceUnavailable, "recipe search not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := strconv.Atoi(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid recipe id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()
	details, err := s.recipes.RecipeDetails(ctx, id)
	if err != nil {
		s.writeProviderError(w, "recipe search", err)
		return
	}
	s.record(r, w, history.KindView, "recipe", map[string]any{"id": details.ID, "title": details.Title})
	writeJSON(w, http.StatusOK, details)
}

// GET /api/currency?amount=&from=&to=
func (s *Server) handleCurrency(w http.ResponseWriter, r *http.Request) {
	if s.currency == nil {
		s.writeError(w, http.StatusServiceUnavailable, "currency conversion not configured")
		return
	}
	q := r.URL.Query()
	from := strings.ToUpper(strings.TrimSpace(q.Get("from")))
	to := strings.ToUpper(strings.TrimSpace(q.Get("to")))
	if len(from) != 3 {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "from must be a 3-letter currency code", Field: "from"})
		return
	}
	if len(to) != 3 {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "to must be a 3-letter currency code", Field: "to"})
		return
	}
	amount := 1.0
	if a := strings.TrimSpace(q.Get("amount")); a != "" {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "amount must be a non-negative number", Field: "amount"})
			return
		}
		amount = v
	}
	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()
	conv, err := s.currency.Convert(ctx, amount, from, to)
	if err != nil {
		s.writeProviderError(w, "currency conversion", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// GET /api/recommendations?userId=
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	uid := s.userID(w, r)
	resp := types.RecommendationsResponse{UserID: uid, Interests: []string{}, Recommendations: []string{}}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()
	if s.history != nil {
		recs, err := s.history.Recent(ctx, uid, history.KindSearch, history.MaxRecent)
		if err != nil {
			log.Warn().Err(err).Str("component", "http").Str("user_id", uid).Msg("load interests failed")
		} else if in := history.Interests(recs); len(in) > 0 {
			resp.Interests = in
		}
	}
	if s.recommender != nil {
		recs, err := s.recommender.Recommend(ctx, uid)
		if err != nil {
			log.Warn().Err(err).Str("component", "http").Str("user_id", uid).Msg("recommendations failed")
		} else if len(recs) > 0 {
			resp.Recommendations = recs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/history?userId=&kind=&limit=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	q := r.URL.Query()
	kind := history.KindSearch
	if k := strings.TrimSpace(q.Get("kind")); k != "" {
		kind = history.Kind(k)
	}
	if !kind.Valid() {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "kind must be search, message or view", Field: "kind"})
		return
	}
	limit := history.MaxRecent
	if l := strings.TrimSpace(q.Get("limit")); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "limit must be a positive integer", Field: "limit"})
			return
		}
		limit = n
	}
	uid := s.userID(w, r)
	recs, err := s.history.Recent(r.Context(), uid, kind, limit)
	if err != nil {
		log.Error().Err(err).Str("component", "http").Str("user_id", uid).Msg("load history failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, types.HistoryResponse{UserID: uid, Kind: kind, Records: recs})
}

// record queues a history entry for the request's user.
func (s *Server) record(r *http.Request, w http.ResponseWriter, kind history.Kind, typ string, params map[string]any) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(history.Record{
		UserID:     s.userID(w, r),
		Kind:       kind,
		Type:       typ,
		Parameters: params,
		Timestamp:  time.Now().UTC(),
	})
}
