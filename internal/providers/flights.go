package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const aeroDataBoxHost = "aerodatabox.p.rapidapi.com"

// airportCodes resolves common city names to their main IATA airport.
var airportCodes = map[string]string{
	"new york":      "JFK",
	"london":        "LHR",
	"paris":         "CDG",
	"dubai":         "DXB",
	"karachi":       "KHI",
	"lahore":        "LHE",
	"islamabad":     "ISB",
	"delhi":         "DEL",
	"new delhi":     "DEL",
	"mumbai":        "BOM",
	"tokyo":         "HND",
	"singapore":     "SIN",
	"istanbul":      "IST",
	"doha":          "DOH",
	"frankfurt":     "FRA",
	"amsterdam":     "AMS",
	"madrid":        "MAD",
	"rome":          "FCO",
	"los angeles":   "LAX",
	"chicago":       "ORD",
	"toronto":       "YYZ",
	"sydney":        "SYD",
	"hong kong":     "HKG",
	"bangkok":       "BKK",
	"jeddah":        "JED",
	"riyadh":        "RUH",
	"cairo":         "CAI",
	"san francisco": "SFO",
}

// AirportCode maps a city or code to an IATA code. Three-letter input is
// taken as a code already; unknown names come back upper-cased unchanged.
func AirportCode(s string) string {
	s = strings.TrimSpace(s)
	if code, ok := airportCodes[strings.ToLower(s)]; ok {
		return code
	}
	return strings.ToUpper(s)
}

// Flights searches AeroDataBox departures from the origin airport and keeps
// those arriving at the destination.
type Flights struct {
	c baseClient
}

func NewFlights(o Options) *Flights {
	return &Flights{c: rapidAPI(o, "aerodatabox", aeroDataBoxHost)}
}

func (f *Flights) SearchFlights(ctx context.Context, q FlightQuery) ([]Result, error) {
	origin := AirportCode(q.Origin)
	path := fmt.Sprintf("/flights/airports/iata/%s/%sT06:00/%sT20:00",
		url.PathEscape(origin), url.PathEscape(q.Date), url.PathEscape(q.Date))
	query := url.Values{}
	query.Set("withLeg", "true")
	query.Set("direction", "Departure")
	query.Set("withCancelled", "false")
	query.Set("withCodeshared", "true")
	query.Set("withCargo", "false")
	query.Set("withPrivate", "false")

	var resp map[string]any
	if err := f.c.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	dest := strings.TrimSpace(q.Destination)
	destCode := AirportCode(dest)
	out := make([]Result, 0, MaxResults)
	for _, fl := range objects(resp["departures"]) {
		arrival := dig(fl, "arrival", "airport")
		if !arrivesAt(arrival, dest, destCode) {
			continue
		}
		number := firstNonEmpty(str(fl["number"]), "N/A")
		airline := firstNonEmpty(str(dig(fl, "airline", "name")), "Unknown")
		dep := firstNonEmpty(str(dig(fl, "departure", "scheduledTime", "local")), str(dig(fl, "movement", "scheduledTime", "local")), "N/A")
		arr := firstNonEmpty(str(dig(fl, "arrival", "scheduledTime", "local")), "N/A")
		out = append(out, Result{
			ID:       strings.ReplaceAll(number, " ", "") + "@" + q.Date,
			Kind:     KindFlight,
			Title:    airline + " " + number,
			Subtitle: fmt.Sprintf("%s %s → %s %s", origin, dep, firstNonEmpty(str(dig(arrival, "iata")), destCode), arr),
			Platform: "aerodatabox",
		})
		if len(out) == MaxResults {
			break
		}
	}
	return out, nil
}

func arrivesAt(airport any, dest, destCode string) bool {
	if iata := str(dig(airport, "iata")); iata != "" && strings.EqualFold(iata, destCode) {
		return true
	}
	if dest == "" {
		return false
	}
	for _, k := range []string{"municipalityName", "name"} {
		if v := str(dig(airport, k)); v != "" && strings.Contains(strings.ToLower(v), strings.ToLower(dest)) {
			return true
		}
	}
	return false
}
