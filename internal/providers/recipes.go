package providers

import (
	"context"
	"net/url"
	"strings"
)

// Spoonacular serves recipe search and per-recipe details.
type Spoonacular struct {
	c baseClient
}

func NewSpoonacular(o Options, apiKey string) *Spoonacular {
	c := newBaseClient(o, "spoonacular", "https://api.spoonacular.com")
	c.query.Set("apiKey", apiKey)
	return &Spoonacular{c: c}
}

func (s *Spoonacular) SearchRecipes(ctx context.Context, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("number", "5")
	q.Set("instructionsRequired", "true")
	q.Set("addRecipeInformation", "true")
	var resp map[string]any
	if err := s.c.getJSON(ctx, "/recipes/complexSearch", q, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, MaxResults)
	for _, r := range objects(resp["results"]) {
		var sub []string
		if m := str(r["readyInMinutes"]); m != "" {
			sub = append(sub, "ready in "+m+" min")
		}
		if sv := str(r["servings"]); sv != "" {
			sub = append(sub, sv+" servings")
		}
		out = append(out, Result{
			ID:       str(r["id"]),
			Kind:     KindRecipe,
			Title:    firstNonEmpty(str(r["title"]), "No title"),
			Subtitle: strings.Join(sub, ", "),
			URL:      str(r["sourceUrl"]),
			Platform: "spoonacular",
			ImageURL: str(r["image"]),
		})
		if len(out) == MaxResults {
			break
		}
	}
	return out, nil
}

func (s *Spoonacular) RecipeDetails(ctx context.Context, id string) (RecipeDetails, error) {
	q := url.Values{}
	q.Set("includeNutrition", "false")
	var r map[string]any
	if err := s.c.getJSON(ctx, "/recipes/"+url.PathEscape(id)+"/information", q, &r); err != nil {
		return RecipeDetails{}, err
	}
	d := RecipeDetails{
		ID:           firstNonEmpty(str(r["id"]), id),
		Title:        firstNonEmpty(str(r["title"]), "No title"),
		SourceURL:    str(r["sourceUrl"]),
		ImageURL:     str(r["image"]),
		Summary:      str(r["summary"]),
		Instructions: str(r["instructions"]),
		Ingredients:  []string{},
	}
	if n, ok := num(r["readyInMinutes"]); ok {
		d.ReadyMinutes = int(n)
	}
	if n, ok := num(r["servings"]); ok {
		d.Servings = int(n)
	}
	for _, ing := range objects(r["extendedIngredients"]) {
		if o := firstNonEmpty(str(ing["original"]), str(ing["name"])); o != "" {
			d.Ingredients = append(d.Ingredients, o)
		}
	}
	return d, nil
}
