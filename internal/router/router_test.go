package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voyager-backend/internal/history"
	"voyager-backend/internal/intent"
	"voyager-backend/internal/providers"
)

var fixedNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

type fakeSearch struct {
	mu      sync.Mutex
	calls   int
	flights []providers.FlightQuery
	hotels  []providers.HotelQuery
	queries []string
	results []providers.Result
	err     error
}

func (f *fakeSearch) hit() ([]providers.Result, error) {
	f.calls++
	return f.results, f.err
}

func (f *fakeSearch) SearchFlights(_ context.Context, q providers.FlightQuery) ([]providers.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flights = append(f.flights, q)
	return f.hit()
}

func (f *fakeSearch) SearchHotels(_ context.Context, q providers.HotelQuery) ([]providers.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hotels = append(f.hotels, q)
	return f.hit()
}

func (f *fakeSearch) SearchProducts(_ context.Context, q string) ([]providers.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.hit()
}

func (f *fakeSearch) SearchRecipes(_ context.Context, q string) ([]providers.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.hit()
}

type memRecorder struct{ recs []history.Record }

func (m *memRecorder) Record(rec history.Record) { m.recs = append(m.recs, rec) }

func results(platform string, n int) []providers.Result {
	out := make([]providers.Result, n)
	for i := range out {
		out[i] = providers.Result{ID: fmt.Sprintf("%s-%d", platform, i), Kind: providers.KindProduct, Title: "item", Platform: platform}
	}
	return out
}

func newTestRouter(c Clients, rec Recorder) *Router {
	r := New(c, rec)
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestResolveDefaults(t *testing.T) {
	tests := []struct {
		kind intent.Kind
		want intent.Params
	}{
		{intent.FlightSearch, intent.Params{"origin": "New York", "destination": "London", "date": "2025-03-17", "passengers": float64(1)}},
		{intent.HotelSearch, intent.Params{"destination": "Paris", "checkin": "2025-03-17", "checkout": "2025-03-24", "guests": float64(2)}},
		{intent.Shopping, intent.Params{"query": "electronics", "platform": "both"}},
		{intent.Recipe, intent.Params{"query": "pasta"}},
		{intent.GeneralQuestion, intent.Params{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := Resolve(tt.kind, intent.Params{}, fixedNow)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveRelativeDatesAndNumbers(t *testing.T) {
	got, err := Resolve(intent.FlightSearch, intent.Params{"date": "Tomorrow", "passengers": "3", "origin": " Karachi "}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", got["date"])
	assert.Equal(t, float64(3), got["passengers"])
	assert.Equal(t, "Karachi", got["origin"])

	got, err = Resolve(intent.Shopping, intent.Params{"platform": "EBAY", "query": "headphones"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "ebay", got["platform"])
}

func TestResolveRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		kind  intent.Kind
		in    intent.Params
		field string
	}{
		{"zero passengers", intent.FlightSearch, intent.Params{"passengers": float64(0)}, "passengers"},
		{"too many guests", intent.HotelSearch, intent.Params{"guests": float64(11)}, "guests"},
		{"fractional", intent.FlightSearch, intent.Params{"passengers": 1.5}, "passengers"},
		{"non numeric", intent.HotelSearch, intent.Params{"guests": "many"}, "guests"},
		{"bad date", intent.FlightSearch, intent.Params{"date": "next tuesday-ish"}, "date"},
		{"checkout before checkin", intent.HotelSearch, intent.Params{"checkin": "2025-04-10", "checkout": "2025-04-10"}, "checkout"},
		{"unknown platform", intent.Shopping, intent.Params{"platform": "amazon"}, "platform"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.kind, tt.in, fixedNow)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRouteValidationMakesNoCall(t *testing.T) {
	hotels := &fakeSearch{}
	rec := &memRecorder{}
	r := newTestRouter(Clients{Hotels: hotels}, rec)

	_, err := r.Route(context.Background(), "u1", intent.HotelSearch, intent.Params{"destination": "Rome", "checkin": "2025-05-02", "checkout": "2025-05-01"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 0, hotels.calls)
	assert.Empty(t, rec.recs)
}

func TestRouteFlightRecordsSearch(t *testing.T) {
	flights := &fakeSearch{results: []providers.Result{{ID: "f1", Kind: providers.KindFlight, Title: "Emirates EK601"}}}
	rec := &memRecorder{}
	r := newTestRouter(Clients{Flights: flights}, rec)

	out, err := r.Route(context.Background(), "u1", intent.FlightSearch, intent.Params{"origin": "Karachi", "destination": "Dubai", "date": "2025-04-01"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Empty(t, out.Notices)
	assert.Equal(t, []providers.FlightQuery{{Origin: "Karachi", Destination: "Dubai", Date: "2025-04-01", Passengers: 1}}, flights.flights)

	require.Len(t, rec.recs, 1)
	got := rec.recs[0]
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, history.KindSearch, got.Kind)
	assert.Equal(t, "flight_search", got.Type)
	assert.Equal(t, "Dubai", got.Parameters["destination"])
	assert.Equal(t, fixedNow, got.Timestamp)
}

// cancellingFlights answers, but only after the caller has given up.
type cancellingFlights struct{ cancel context.CancelFunc }

func (c cancellingFlights) SearchFlights(context.Context, providers.FlightQuery) ([]providers.Result, error) {
	c.cancel()
	return []providers.Result{{ID: "f1", Kind: providers.KindFlight, Title: "Emirates EK601"}}, nil
}

func TestRouteCancelledDuringSearchRecordsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &memRecorder{}
	r := newTestRouter(Clients{Flights: cancellingFlights{cancel: cancel}}, rec)

	out, err := r.Route(ctx, "u1", intent.FlightSearch, intent.Params{"origin": "Karachi", "destination": "Dubai"})
	require.NoError(t, err)
	assert.True(t, out.Searched)
	assert.Empty(t, rec.recs)
}

func TestSearchLeavesRecordingToCaller(t *testing.T) {
	recipes := &fakeSearch{results: results("spoonacular", 2)}
	rec := &memRecorder{}
	r := newTestRouter(Clients{Recipes: recipes}, rec)

	out, err := r.Search(context.Background(), intent.Recipe, intent.Params{"query": "ramen"})
	require.NoError(t, err)
	require.True(t, out.Searched)
	assert.Empty(t, rec.recs)

	r.RecordSearch("u1", out)
	require.Len(t, rec.recs, 1)
	assert.Equal(t, "recipe", rec.recs[0].Type)
	assert.Equal(t, "ramen", rec.recs[0].Parameters["query"])

	r.RecordSearch("u1", Outcome{Kind: intent.Recipe})
	assert.Len(t, rec.recs, 1)
}

func TestRouteTruncatesResults(t *testing.T) {
	recipes := &fakeSearch{results: results("spoonacular", 9)}
	r := newTestRouter(Clients{Recipes: recipes}, nil)

	out, err := r.Route(context.Background(), "u1", intent.Recipe, intent.Params{"query": "ramen"})
	require.NoError(t, err)
	assert.Len(t, out.Results, providers.MaxResults)
	assert.Equal(t, []string{"ramen"}, recipes.queries)
}

func TestRouteShoppingBothKeepsPlatformOrder(t *testing.T) {
	ebay := &fakeSearch{results: results("ebay", 7)}
	ali := &fakeSearch{results: results("aliexpress", 3)}
	r := newTestRouter(Clients{Ebay: ebay, AliExpress: ali}, nil)

	out, err := r.Route(context.Background(), "u1", intent.Shopping, intent.Params{"query": "usb hub"})
	require.NoError(t, err)
	require.Len(t, out.Results, 8)
	for i, res := range out.Results {
		if i < 5 {
			assert.Equal(t, "ebay", res.Platform)
		} else {
			assert.Equal(t, "aliexpress", res.Platform)
		}
	}
}

func TestRouteShoppingSinglePlatform(t *testing.T) {
	ebay := &fakeSearch{results: results("ebay", 2)}
	ali := &fakeSearch{results: results("aliexpress", 2)}
	r := newTestRouter(Clients{Ebay: ebay, AliExpress: ali}, nil)

	out, err := r.Route(context.Background(), "u1", intent.Shopping, intent.Params{"query": "lamp", "platform": "aliexpress"})
	require.NoError(t, err)
	assert.Len(t, out.Results, 2)
	assert.Equal(t, 0, ebay.calls)
	assert.Equal(t, 1, ali.calls)
}

func TestRouteProviderFailureBecomesNotice(t *testing.T) {
	hotels := &fakeSearch{err: &providers.TransportError{Service: "booking", Err: errors.New("dial tcp: timeout")}}
	rec := &memRecorder{}
	r := newTestRouter(Clients{Hotels: hotels}, rec)

	out, err := r.Route(context.Background(), "u1", intent.HotelSearch, intent.Params{"destination": "Oslo"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.NotNil(t, out.Results)
	require.Len(t, out.Notices, 1)
	assert.Contains(t, out.Notices[0], "could not be reached")
	assert.Empty(t, rec.recs)
}

func TestRouteShoppingPartialFailure(t *testing.T) {
	ebay := &fakeSearch{err: &providers.UpstreamError{Service: "ebay", Status: 500}}
	ali := &fakeSearch{results: results("aliexpress", 1)}
	rec := &memRecorder{}
	r := newTestRouter(Clients{Ebay: ebay, AliExpress: ali}, rec)

	out, err := r.Route(context.Background(), "u1", intent.Shopping, intent.Params{"query": "kettle"})
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
	require.Len(t, out.Notices, 1)
	assert.Contains(t, out.Notices[0], "eBay")
	assert.Len(t, rec.recs, 1)
}

func TestRouteGeneralQuestionCallsNothing(t *testing.T) {
	rec := &memRecorder{}
	r := newTestRouter(Clients{}, rec)
	out, err := r.Route(context.Background(), "u1", intent.GeneralQuestion, intent.Params{"topic": "visa"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Empty(t, rec.recs)
}
