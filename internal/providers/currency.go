package providers

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ExchangeRates converts amounts through ExchangeRate-API; the key is part
// of the path.
type ExchangeRates struct {
	c      baseClient
	apiKey string
}

func NewExchangeRates(o Options, apiKey string) *ExchangeRates {
	return &ExchangeRates{c: newBaseClient(o, "exchangerate", "https://v6.exchangerate-api.com"), apiKey: apiKey}
}

func (x *ExchangeRates) Convert(ctx context.Context, amount float64, from, to string) (Conversion, error) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	path := "/v6/" + url.PathEscape(x.apiKey) + "/pair/" + url.PathEscape(from) + "/" + url.PathEscape(to) + "/" + strconv.FormatFloat(amount, 'f', -1, 64)
	var resp map[string]any
	if err := x.c.getJSON(ctx, path, nil, &resp); err != nil {
		return Conversion{}, err
	}
	if res := str(resp["result"]); res != "" && res != "success" {
		return Conversion{}, &UpstreamError{Service: x.c.service, Status: 200, Err: errors.Errorf("conversion %s", firstNonEmpty(str(resp["error-type"]), res))}
	}
	rate, _ := num(resp["conversion_rate"])
	result, ok := num(resp["conversion_result"])
	if !ok {
		result = amount * rate
	}
	return Conversion{From: from, To: to, Amount: amount, Rate: rate, Result: result}, nil
}
