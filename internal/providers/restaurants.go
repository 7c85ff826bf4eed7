package providers

import (
	"context"
	"net/url"
	"strings"
)

const yelpHost = "yelp-com.p.rapidapi.com"

type Yelp struct {
	c baseClient
}

func NewYelp(o Options) *Yelp {
	return &Yelp{c: rapidAPI(o, "yelp", yelpHost)}
}

// SearchRestaurants finds top-rated places near location; cuisine is optional.
func (y *Yelp) SearchRestaurants(ctx context.Context, location, cuisine string) ([]Result, error) {
	q := url.Values{}
	q.Set("location", location)
	q.Set("term", firstNonEmpty(strings.TrimSpace(cuisine), "restaurant"))
	q.Set("limit", "5")
	q.Set("sort_by", "rating")
	var resp map[string]any
	if err := y.c.getJSON(ctx, "/businesses/search", q, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, MaxResults)
	for _, b := range objects(resp["businesses"]) {
		var addr []string
		if lines, ok := dig(b, "location", "display_address").([]any); ok {
			for _, l := range lines {
				if s := str(l); s != "" {
					addr = append(addr, s)
				}
			}
		}
		rating, _ := num(b["rating"])
		out = append(out, Result{
			ID:       str(b["id"]),
			Kind:     KindRestaurant,
			Title:    firstNonEmpty(str(b["name"]), "Unknown"),
			Subtitle: strings.Join(addr, ", "),
			Price:    str(b["price"]),
			Rating:   rating,
			URL:      str(b["url"]),
			Platform: "yelp",
			ImageURL: str(b["image_url"]),
		})
		if len(out) == MaxResults {
			break
		}
	}
	return out, nil
}
