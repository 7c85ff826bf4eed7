// Package router maps a classified intent onto the matching search client.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"voyager-backend/internal/history"
	"voyager-backend/internal/intent"
	"voyager-backend/internal/providers"
)

type FlightSearcher interface {
	SearchFlights(ctx context.Context, q providers.FlightQuery) ([]providers.Result, error)
}

type HotelSearcher interface {
	SearchHotels(ctx context.Context, q providers.HotelQuery) ([]providers.Result, error)
}

type ProductSearcher interface {
	SearchProducts(ctx context.Context, query string) ([]providers.Result, error)
}

type RecipeSearcher interface {
	SearchRecipes(ctx context.Context, query string) ([]providers.Result, error)
}

// Recorder accepts history records without blocking the caller.
type Recorder interface {
	Record(rec history.Record)
}

type Clients struct {
	Flights    FlightSearcher
	Hotels     HotelSearcher
	Ebay       ProductSearcher
	AliExpress ProductSearcher
	Recipes    RecipeSearcher
}

// Outcome is what one routed intent produced. Params are the resolved
// values actually used for the lookup.
type Outcome struct {
	Kind    intent.Kind        `json:"intent"`
	Params  intent.Params      `json:"parameters"`
	Results []providers.Result `json:"results"`
	Notices []string           `json:"notices,omitempty"`
	// Searched is set when at least one provider answered.
	Searched bool `json:"-"`
}

type Router struct {
	clients  Clients
	recorder Recorder
	now      func() time.Time
}

func New(clients Clients, recorder Recorder) *Router {
	return &Router{clients: clients, recorder: recorder, now: time.Now}
}

// Route runs Search and records the search when a provider answered. Nothing
// is recorded once ctx is cancelled.
func (r *Router) Route(ctx context.Context, userID string, kind intent.Kind, params intent.Params) (Outcome, error) {
	out, err := r.Search(ctx, kind, params)
	if err == nil && ctx.Err() == nil {
		r.RecordSearch(userID, out)
	}
	return out, err
}

// RecordSearch saves out as a search record if a provider answered it.
func (r *Router) RecordSearch(userID string, out Outcome) {
	if !out.Searched || r.recorder == nil {
		return
	}
	r.recorder.Record(history.Record{
		UserID:     userID,
		Kind:       history.KindSearch,
		Type:       string(out.Kind),
		Parameters: map[string]any(out.Params.Clone()),
		Timestamp:  r.now(),
	})
}

// Search resolves params and calls the provider without recording anything.
// The only error returned is *ValidationError; provider failures become
// notices on an empty result.
func (r *Router) Search(ctx context.Context, kind intent.Kind, params intent.Params) (Outcome, error) {
	resolved, err := Resolve(kind, params, r.now())
	out := Outcome{Kind: kind, Params: resolved, Results: []providers.Result{}}
	if err != nil {
		return out, err
	}
	if !kind.IsSearch() {
		return out, nil
	}

	var ok bool
	switch kind {
	case intent.FlightSearch:
		n, _, _ := resolved.Number("passengers")
		ok = r.collect(&out, "flight search", func() ([]providers.Result, error) {
			return r.clients.Flights.SearchFlights(ctx, providers.FlightQuery{
				Origin:      mustString(resolved, "origin"),
				Destination: mustString(resolved, "destination"),
				Date:        mustString(resolved, "date"),
				Passengers:  int(n),
			})
		})
	case intent.HotelSearch:
		n, _, _ := resolved.Number("guests")
		ok = r.collect(&out, "hotel search", func() ([]providers.Result, error) {
			return r.clients.Hotels.SearchHotels(ctx, providers.HotelQuery{
				Destination: mustString(resolved, "destination"),
				CheckIn:     mustString(resolved, "checkin"),
				CheckOut:    mustString(resolved, "checkout"),
				Guests:      int(n),
			})
		})
	case intent.Shopping:
		ok = r.shop(ctx, &out, mustString(resolved, "query"), mustString(resolved, "platform"))
	case intent.Recipe:
		ok = r.collect(&out, "recipe search", func() ([]providers.Result, error) {
			return r.clients.Recipes.SearchRecipes(ctx, mustString(resolved, "query"))
		})
	}

	out.Searched = ok
	return out, nil
}

func (r *Router) collect(out *Outcome, label string, call func() ([]providers.Result, error)) bool {
	rs, err := call()
	if err != nil {
		out.Notices = append(out.Notices, Notice(label, err))
		return false
	}
	out.Results = append(out.Results, firstN(rs, providers.MaxResults)...)
	return true
}

func (r *Router) shop(ctx context.Context, out *Outcome, query, platform string) bool {
	type lookup struct {
		label    string
		searcher ProductSearcher
		results  []providers.Result
		err      error
	}
	var lookups []*lookup
	if platform == PlatformEbay || platform == PlatformBoth {
		lookups = append(lookups, &lookup{label: "eBay", searcher: r.clients.Ebay})
	}
	if platform == PlatformAliExpress || platform == PlatformBoth {
		lookups = append(lookups, &lookup{label: "AliExpress", searcher: r.clients.AliExpress})
	}

	// Each lookup keeps its own error so one platform failing does not
	// cancel the other.
	var g errgroup.Group
	for _, l := range lookups {
		g.Go(func() error {
			l.results, l.err = l.searcher.SearchProducts(ctx, query)
			return nil
		})
	}
	_ = g.Wait()

	ok := false
	for _, l := range lookups {
		if l.err != nil {
			out.Notices = append(out.Notices, Notice(l.label+" search", l.err))
			continue
		}
		ok = true
		out.Results = append(out.Results, firstN(l.results, providers.MaxResults)...)
	}
	return ok
}

// Notice turns a provider error into a short user-facing warning and logs
// the detail.
func Notice(label string, err error) string {
	log.Warn().Err(err).Str("component", "router").Msg(label + " failed")

	var te *providers.TransportError
	var ue *providers.UpstreamError
	switch {
	case errors.As(err, &te):
		return fmt.Sprintf("The %s service could not be reached. Please try again shortly.", label)
	case errors.As(err, &ue):
		return fmt.Sprintf("The %s service returned an unexpected response.", label)
	}
	return fmt.Sprintf("The %s is unavailable right now.", label)
}

func firstN(rs []providers.Result, n int) []providers.Result {
	if len(rs) > n {
		return rs[:n]
	}
	return rs
}

func mustString(p intent.Params, key string) string {
	s, _ := p.String(key)
	return s
}
