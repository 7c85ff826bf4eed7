package providers

import (
	"context"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

const bookingHost = "booking-com.p.rapidapi.com"

// Geocoder resolves a place name to coordinates through LocationIQ.
type Geocoder struct {
	c baseClient
}

func NewGeocoder(o Options, apiKey string) *Geocoder {
	c := newBaseClient(o, "locationiq", "https://us1.locationiq.com")
	c.query.Set("key", apiKey)
	c.query.Set("format", "json")
	return &Geocoder{c: c}
}

func (g *Geocoder) Geocode(ctx context.Context, place string) (Location, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("limit", "1")
	var resp []map[string]any
	if err := g.c.getJSON(ctx, "/v1/search.php", q, &resp); err != nil {
		return Location{}, err
	}
	if len(resp) == 0 {
		return Location{}, &UpstreamError{Service: g.c.service, Status: 200, Err: errors.Errorf("no match for %q", place)}
	}
	lat, okLat := num(resp[0]["lat"])
	lon, okLon := num(resp[0]["lon"])
	if !okLat || !okLon {
		return Location{}, &UpstreamError{Service: g.c.service, Status: 200, Err: errors.Errorf("no coordinates for %q", place)}
	}
	return Location{Name: firstNonEmpty(str(resp[0]["display_name"]), place), Lat: lat, Lon: lon}, nil
}

// Hotels geocodes the destination, then searches Booking.com around it.
type Hotels struct {
	c   baseClient
	geo *Geocoder
}

func NewHotels(o Options, geo *Geocoder) *Hotels {
	return &Hotels{c: rapidAPI(o, "booking", bookingHost), geo: geo}
}

func (h *Hotels) SearchHotels(ctx context.Context, q HotelQuery) ([]Result, error) {
	loc, err := h.geo.Geocode(ctx, q.Destination)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("checkin_date", q.CheckIn)
	query.Set("checkout_date", q.CheckOut)
	query.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	query.Set("adults_number", strconv.Itoa(q.Guests))
	query.Set("order_by", "popularity")
	query.Set("filter_by_currency", "USD")
	query.Set("locale", "en-us")
	query.Set("room_number", "1")
	query.Set("units", "metric")

	var resp map[string]any
	if err := h.c.getJSON(ctx, "/v1/hotels/search-by-coordinates", query, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, MaxResults)
	for _, ht := range objects(resp["result"]) {
		rating, _ := num(ht["review_score"])
		out = append(out, Result{
			ID:       str(ht["hotel_id"]),
			Kind:     KindHotel,
			Title:    firstNonEmpty(str(ht["hotel_name"]), "Unknown Hotel"),
			Subtitle: firstNonEmpty(str(ht["address"]), str(ht["city"])),
			Price:    str(ht["min_total_price"]),
			Currency: firstNonEmpty(str(ht["currencycode"]), "USD"),
			Rating:   rating,
			URL:      str(ht["url"]),
			Platform: "booking",
			ImageURL: str(ht["max_photo_url"]),
		})
		if len(out) == MaxResults {
			break
		}
	}
	return out, nil
}
