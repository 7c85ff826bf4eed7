package intent

import "strings"

type Kind string

const (
	FlightSearch    Kind = "flight_search"
	HotelSearch     Kind = "hotel_search"
	Shopping        Kind = "shopping"
	Recipe          Kind = "recipe"
	GeneralQuestion Kind = "general_question"
)

// Kinds lists every supported intent.
var Kinds = []Kind{FlightSearch, HotelSearch, Shopping, Recipe, GeneralQuestion}

// ParseKind maps a model-produced intent name onto the enumerated set.
// Anything unrecognized becomes GeneralQuestion.
func ParseKind(s string) Kind {
	m := strings.ToLower(strings.TrimSpace(s))
	m = strings.NewReplacer("-", "_", " ", "_").Replace(m)
	switch m {
	case "flight_search", "flight", "flights", "search_flights":
		return FlightSearch
	case "hotel_search", "hotel", "hotels", "search_hotels":
		return HotelSearch
	case "shopping", "shopping_search", "product_search", "products":
		return Shopping
	case "recipe", "recipes", "recipe_search":
		return Recipe
	}
	return GeneralQuestion
}

// IsSearch reports whether the intent invokes an external search client.
func (k Kind) IsSearch() bool {
	return k == FlightSearch || k == HotelSearch || k == Shopping || k == Recipe
}
