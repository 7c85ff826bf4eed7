package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	Path  string
	Query url.Values
	Key   string
	Host  string
}

func fakeAPI(t *testing.T, body string, status int) (*httptest.Server, *[]seenRequest) {
	t.Helper()
	var seen []seenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, seenRequest{
			Path:  r.URL.Path,
			Query: r.URL.Query(),
			Key:   r.Header.Get("X-RapidAPI-Key"),
			Host:  r.Header.Get("X-RapidAPI-Host"),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func opts(srv *httptest.Server) Options {
	return Options{RapidAPIKey: "rk", BaseURL: srv.URL, Timeout: 2 * time.Second}
}

func TestFlightsFiltersByDestination(t *testing.T) {
	srv, seen := fakeAPI(t, `{"departures":[
		{"number":"EK 601","airline":{"name":"Emirates"},"departure":{"scheduledTime":{"local":"2025-01-08 09:00"}},"arrival":{"airport":{"iata":"DXB","name":"Dubai"},"scheduledTime":{"local":"2025-01-08 11:00"}}},
		{"number":"PK 301","airline":{"name":"PIA"},"arrival":{"airport":{"iata":"LHE"}}},
		{"number":"FZ 332","arrival":{"airport":{"municipalityName":"Dubai"}}},
		"garbage"
	]}`, http.StatusOK)

	got, err := NewFlights(opts(srv)).SearchFlights(context.Background(), FlightQuery{Origin: "Karachi", Destination: "Dubai", Date: "2025-01-08", Passengers: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Emirates EK 601", got[0].Title)
	assert.Equal(t, "Unknown FZ 332", got[1].Title)
	assert.Equal(t, KindFlight, got[0].Kind)

	require.Len(t, *seen, 1)
	r := (*seen)[0]
	assert.Equal(t, "/flights/airports/iata/KHI/2025-01-08T06:00/2025-01-08T20:00", r.Path)
	assert.Equal(t, "Departure", r.Query.Get("direction"))
	assert.Equal(t, "rk", r.Key)
	assert.Equal(t, aeroDataBoxHost, r.Host)
}

func TestAirportCode(t *testing.T) {
	assert.Equal(t, "KHI", AirportCode(" karachi "))
	assert.Equal(t, "DXB", AirportCode("dxb"))
	assert.Equal(t, "TIMBUKTU", AirportCode("Timbuktu"))
}

func TestHotelsGeocodesThenSearches(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/search.php":
			assert.Equal(t, "lq", r.URL.Query().Get("key"))
			_, _ = w.Write([]byte(`[{"display_name":"Paris, France","lat":"48.85","lon":"2.35"}]`))
		case "/v1/hotels/search-by-coordinates":
			assert.Equal(t, "48.85", r.URL.Query().Get("latitude"))
			assert.Equal(t, "2", r.URL.Query().Get("adults_number"))
			_, _ = w.Write([]byte(`{"result":[{"hotel_id":1,"hotel_name":"Le Petit","min_total_price":420.5,"review_score":"8.7","url":"https://b/1"},{}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	o := opts(srv)
	h := NewHotels(o, NewGeocoder(o, "lq"))
	got, err := h.SearchHotels(context.Background(), HotelQuery{Destination: "Paris", CheckIn: "2025-01-08", CheckOut: "2025-01-15", Guests: 2})
	require.NoError(t, err)
	want := []Result{
		{ID: "1", Kind: KindHotel, Title: "Le Petit", Price: "420.5", Currency: "USD", Rating: 8.7, URL: "https://b/1", Platform: "booking"},
		{Kind: KindHotel, Title: "Unknown Hotel", Currency: "USD", Platform: "booking"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("hotels mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"/v1/search.php", "/v1/hotels/search-by-coordinates"}, paths)
}

func TestGeocoderNoMatch(t *testing.T) {
	srv, _ := fakeAPI(t, `[]`, http.StatusOK)
	_, err := NewGeocoder(opts(srv), "k").Geocode(context.Background(), "Atlantis")
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
}

func TestEbayTruncatesToFive(t *testing.T) {
	srv, seen := fakeAPI(t, `{"results":[
		{"title":"a","price":"$1.00","url":"u1"},{"title":"b"},{"title":"c"},
		{"title":"d"},{"title":"e"},{"title":"f"},{"title":"g"}]}`, http.StatusOK)

	got, err := NewEbay(opts(srv)).SearchProducts(context.Background(), "travel adapter")
	require.NoError(t, err)
	require.Len(t, got, MaxResults)
	assert.Equal(t, "a", got[0].Title)
	assert.Equal(t, "$1.00", got[0].Price)
	assert.Equal(t, PlatformEbay, got[0].Platform)
	assert.Equal(t, "e", got[4].Title)
	assert.Equal(t, "/search/travel adapter", (*seen)[0].Path)
}

func TestAliExpressNestedItems(t *testing.T) {
	srv, _ := fakeAPI(t, `{"result":{"resultList":[
		{"item":{"itemId":"9","title":"Pillow","itemUrl":"//a.com/9","sku":{"def":{"promotionPrice":"3.20"}},"averageStarRate":4.5}}
	]}}`, http.StatusOK)

	got, err := NewAliExpress(opts(srv)).SearchProducts(context.Background(), "pillow")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://a.com/9", got[0].URL)
	assert.Equal(t, "3.20", got[0].Price)
	assert.Equal(t, 4.5, got[0].Rating)
}

func TestSpoonacularSearchAndDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/recipes/complexSearch" {
			_, _ = w.Write([]byte(`{"results":[{"id":7,"title":"Carbonara","readyInMinutes":25,"servings":2}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":7,"title":"Carbonara","servings":2,"extendedIngredients":[{"original":"200g spaghetti"},{"name":"egg"},{}]}`))
	}))
	defer srv.Close()

	sp := NewSpoonacular(opts(srv), "sk")
	rs, err := sp.SearchRecipes(context.Background(), "pasta")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "7", rs[0].ID)
	assert.Equal(t, "ready in 25 min, 2 servings", rs[0].Subtitle)

	d, err := sp.RecipeDetails(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"200g spaghetti", "egg"}, d.Ingredients)
	assert.Equal(t, 2, d.Servings)
}

func TestYelpRestaurants(t *testing.T) {
	srv, seen := fakeAPI(t, `{"businesses":[{"id":"x","name":"Nihari House","rating":4.5,"location":{"display_address":["1 Main St","Karachi"]}}]}`, http.StatusOK)

	got, err := NewYelp(opts(srv)).SearchRestaurants(context.Background(), "Karachi", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1 Main St, Karachi", got[0].Subtitle)
	assert.Equal(t, "restaurant", (*seen)[0].Query.Get("term"))
}

func TestExchangeRatesConvert(t *testing.T) {
	srv, seen := fakeAPI(t, `{"result":"success","conversion_rate":278.5,"conversion_result":2785}`, http.StatusOK)

	got, err := NewExchangeRates(opts(srv), "xk").Convert(context.Background(), 10, "usd", "pkr")
	require.NoError(t, err)
	assert.Equal(t, Conversion{From: "USD", To: "PKR", Amount: 10, Rate: 278.5, Result: 2785}, got)
	assert.Equal(t, "/v6/xk/pair/USD/PKR/10", (*seen)[0].Path)

	srv2, _ := fakeAPI(t, `{"result":"error","error-type":"unsupported-code"}`, http.StatusOK)
	_, err = NewExchangeRates(opts(srv2), "xk").Convert(context.Background(), 1, "usd", "zzz")
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("non-2xx is upstream", func(t *testing.T) {
		srv, _ := fakeAPI(t, `{"message":"quota"}`, http.StatusTooManyRequests)
		_, err := NewEbay(opts(srv)).SearchProducts(context.Background(), "x")
		var ue *UpstreamError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, http.StatusTooManyRequests, ue.Status)
	})
	t.Run("malformed payload is upstream", func(t *testing.T) {
		srv, _ := fakeAPI(t, `<html>oops`, http.StatusOK)
		_, err := NewYelp(opts(srv)).SearchRestaurants(context.Background(), "x", "")
		var ue *UpstreamError
		require.True(t, errors.As(err, &ue))
	})
	t.Run("unreachable is transport", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		_, err := NewAliExpress(opts(srv)).SearchProducts(context.Background(), "x")
		var te *TransportError
		require.True(t, errors.As(err, &te))
	})
	t.Run("wrong shape degrades to empty", func(t *testing.T) {
		srv, _ := fakeAPI(t, `{"results":"nope"}`, http.StatusOK)
		got, err := NewSpoonacular(opts(srv), "k").SearchRecipes(context.Background(), "x")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
