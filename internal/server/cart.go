package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"voyager-backend/internal/controller"
	"voyager-backend/internal/session"
	"voyager-backend/internal/types"
)

// GET /api/cart
func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	s.submitCart(w, r, controller.SnapshotRequested{})
}

// POST /api/cart
func (s *Server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	var req types.CartAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "title is required", Field: "title"})
		return
	}
	s.submitCart(w, r, controller.CartAdd{Item: session.CartItem{
		Title:    strings.TrimSpace(req.Title),
		Price:    strings.TrimSpace(req.Price),
		Platform: strings.TrimSpace(req.Platform),
		URL:      strings.TrimSpace(req.URL),
	}})
}

// DELETE /api/cart/{id}
func (s *Server) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	s.submitCart(w, r, controller.CartRemove{ID: chi.URLParam(r, "id")})
}

// DELETE /api/cart
func (s *Server) handleCartClear(w http.ResponseWriter, r *http.Request) {
	s.submitCart(w, r, controller.CartClear{})
}

// POST /api/cart/open
func (s *Server) handleCartOpen(w http.ResponseWriter, r *http.Request) {
	s.submitCart(w, r, controller.CartOpen{})
}

// DELETE /api/cart/open
func (s *Server) handleCartClose(w http.ResponseWriter, r *http.Request) {
	s.submitCart(w, r, controller.CartClose{})
}

// POST /api/cart/checkout
func (s *Server) handleCheckoutBegin(w http.ResponseWriter, r *http.Request) {
	s.submitCart(w, r, controller.CheckoutBegin{})
}

// DELETE /api/cart/checkout
func (s *Server) handleCheckoutCancel(w http.ResponseWriter, r *http.Request) {
	s.submitCart(w, r, controller.CheckoutCancel{})
}

func (s *Server) submitCart(w http.ResponseWriter, r *http.Request, ev controller.Event) {
	ctrl := s.session(w, r)
	reply, err := ctrl.Submit(r.Context(), ev)
	if err != nil {
		s.writeEventError(w, err)
		return
	}
	snap := reply.Snapshot
	items := snap.Cart
	if items == nil {
		items = []session.CartItem{}
	}
	writeJSON(w, http.StatusOK, types.CartResponse{
		Items: items,
		Total: snap.CartTotal,
		Stage: snap.CheckoutStage,
		Added: reply.Item,
	})
}
