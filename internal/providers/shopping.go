package providers

import (
	"context"
	"net/url"
)

const (
	ebayHost       = "ebay-search-result.p.rapidapi.com"
	aliExpressHost = "aliexpress-datahub.p.rapidapi.com"

	PlatformEbay       = "ebay"
	PlatformAliExpress = "aliexpress"
)

type Ebay struct {
	c baseClient
}

func NewEbay(o Options) *Ebay {
	return &Ebay{c: rapidAPI(o, PlatformEbay, ebayHost)}
}

func (e *Ebay) SearchProducts(ctx context.Context, query string) ([]Result, error) {
	var resp map[string]any
	if err := e.c.getJSON(ctx, "/search/"+url.PathEscape(query), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, MaxResults)
	for _, p := range objects(resp["results"]) {
		price := str(p["price"])
		if price == "" {
			price = str(dig(p, "price", "value"))
		}
		link := firstNonEmpty(str(p["url"]), str(p["itemUrl"]))
		out = append(out, Result{
			ID:       firstNonEmpty(str(p["id"]), link),
			Kind:     KindProduct,
			Title:    firstNonEmpty(str(p["title"]), "No title"),
			Subtitle: str(p["shipping"]),
			Price:    price,
			URL:      link,
			Platform: PlatformEbay,
			ImageURL: str(p["image"]),
		})
		if len(out) == MaxResults {
			break
		}
	}
	return out, nil
}

type AliExpress struct {
	c baseClient
}

func NewAliExpress(o Options) *AliExpress {
	return &AliExpress{c: rapidAPI(o, PlatformAliExpress, aliExpressHost)}
}

func (a *AliExpress) SearchProducts(ctx context.Context, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("page", "1")
	var resp map[string]any
	if err := a.c.getJSON(ctx, "/item_search", q, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, MaxResults)
	for _, row := range objects(dig(resp, "result", "resultList")) {
		item, ok := row["item"].(map[string]any)
		if !ok {
			item = row
		}
		price := firstNonEmpty(
			str(dig(item, "sku", "def", "promotionPrice")),
			str(dig(item, "sku", "def", "price")),
			str(dig(item, "price", "value")),
		)
		rating, _ := num(item["averageStarRate"])
		link := str(item["itemUrl"])
		if len(link) > 2 && link[:2] == "//" {
			link = "https:" + link
		}
		image := str(item["image"])
		if len(image) > 2 && image[:2] == "//" {
			image = "https:" + image
		}
		out = append(out, Result{
			ID:       firstNonEmpty(str(item["itemId"]), link),
			Kind:     KindProduct,
			Title:    firstNonEmpty(str(item["title"]), "No title"),
			Subtitle: str(item["sales"]),
			Price:    price,
			Currency: "USD",
			Rating:   rating,
			URL:      link,
			Platform: PlatformAliExpress,
			ImageURL: image,
		})
		if len(out) == MaxResults {
			break
		}
	}
	return out, nil
}
