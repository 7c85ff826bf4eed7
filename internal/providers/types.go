package providers

// MaxResults is how many records any search hands back.
const MaxResults = 5

// Result kinds.
const (
	KindFlight     = "flight"
	KindHotel      = "hotel"
	KindProduct    = "product"
	KindRecipe     = "recipe"
	KindRestaurant = "restaurant"
)

// Result is one normalized search hit. Price stays a string because
// providers disagree on format; missing fields are left empty.
type Result struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle,omitempty"`
	Price    string  `json:"price,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
	URL      string  `json:"url,omitempty"`
	Platform string  `json:"platform,omitempty"`
	ImageURL string  `json:"imageUrl,omitempty"`
}

type FlightQuery struct {
	Origin      string
	Destination string
	// Date is an ISO date (YYYY-MM-DD).
	Date       string
	Passengers int
}

type HotelQuery struct {
	Destination string
	CheckIn     string
	CheckOut    string
	Guests      int
}

type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type RecipeDetails struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	ReadyMinutes int      `json:"readyInMinutes,omitempty"`
	Servings     int      `json:"servings,omitempty"`
	SourceURL    string   `json:"sourceUrl,omitempty"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Ingredients  []string `json:"ingredients"`
	Instructions string   `json:"instructions,omitempty"`
}

type Conversion struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
	Rate   float64 `json:"rate"`
	Result float64 `json:"result"`
}
