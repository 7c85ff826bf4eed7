package router

import (
	"fmt"
	"math"
	"strings"
	"time"

	"voyager-backend/internal/intent"
	"voyager-backend/internal/providers"
)

const dateLayout = "2006-01-02"

// Platform choices for shopping searches.
const (
	PlatformEbay       = providers.PlatformEbay
	PlatformAliExpress = providers.PlatformAliExpress
	PlatformBoth       = "both"
)

// ValidationError rejects a request before any provider is called.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Resolve fills defaults for kind and validates the result. The returned
// params hold only the keys the intent uses.
func Resolve(kind intent.Kind, in intent.Params, now time.Time) (intent.Params, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	out := intent.Params{}
	switch kind {
	case intent.FlightSearch:
		out["origin"] = text(in, "origin", "New York")
		out["destination"] = text(in, "destination", "London")
		d, err := date(in, "date", today, today.AddDate(0, 0, 7))
		if err != nil {
			return out, err
		}
		out["date"] = d.Format(dateLayout)
		n, err := count(in, "passengers", 1)
		if err != nil {
			return out, err
		}
		out["passengers"] = float64(n)
	case intent.HotelSearch:
		out["destination"] = text(in, "destination", "Paris")
		in1, err := date(in, "checkin", today, today.AddDate(0, 0, 7))
		if err != nil {
			return out, err
		}
		in2, err := date(in, "checkout", today, today.AddDate(0, 0, 14))
		if err != nil {
			return out, err
		}
		out["checkin"] = in1.Format(dateLayout)
		out["checkout"] = in2.Format(dateLayout)
		if !in2.After(in1) {
			return out, invalid("checkout", "check-out date must be after check-in date")
		}
		n, err := count(in, "guests", 2)
		if err != nil {
			return out, err
		}
		out["guests"] = float64(n)
	case intent.Shopping:
		out["query"] = text(in, "query", "electronics")
		p := strings.ToLower(text(in, "platform", PlatformBoth))
		switch p {
		case PlatformEbay, PlatformAliExpress, PlatformBoth:
		default:
			return out, invalid("platform", "unknown platform %q (use ebay, aliexpress or both)", p)
		}
		out["platform"] = p
	case intent.Recipe:
		out["query"] = text(in, "query", "pasta")
	}
	return out, nil
}

func text(p intent.Params, key, def string) string {
	if s, ok := p.String(key); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return def
}

// count reads a whole number in [1,10]; out of range values are rejected.
func count(p intent.Params, key string, def int) (int, error) {
	f, ok, err := p.Number(key)
	if !ok {
		return def, nil
	}
	if err != nil || f != math.Trunc(f) {
		return 0, invalid(key, "must be a whole number")
	}
	if f < 1 || f > 10 {
		return 0, invalid(key, "must be between 1 and 10, got %v", f)
	}
	return int(f), nil
}

func date(p intent.Params, key string, today, def time.Time) (time.Time, error) {
	s, ok := p.String(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "next week":
		return today.AddDate(0, 0, 7), nil
	}
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), today.Location())
	if err != nil {
		return time.Time{}, invalid(key, "%q is not a YYYY-MM-DD date", s)
	}
	return t, nil
}
