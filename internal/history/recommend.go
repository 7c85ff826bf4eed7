package history

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"voyager-backend/internal/llm"
)

const (
	maxRecommendations = 3
	recommendSystem    = "You are a travel recommendation assistant. Based on the user's interests, suggest 3 personalized travel recommendations. Put each recommendation on its own line."
)

// Recommender turns recent searches into a few personalized suggestions.
type Recommender struct {
	store Store
	llm   llm.Completer
}

func NewRecommender(store Store, completer llm.Completer) *Recommender {
	return &Recommender{store: store, llm: completer}
}

// Interests collects the destinations and queries behind searches, in
// first-seen order without duplicates.
func Interests(recs []Record) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range recs {
		var key string
		switch r.Type {
		case "flight_search", "hotel_search":
			key = "destination"
		case "recipe", "shopping", "recipe_search", "shopping_search":
			key = "query"
		default:
			continue
		}
		v, _ := r.Parameters[key].(string)
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	return out
}

// Recommend returns at most three suggestions; an empty history yields none
// without calling the model.
func (r *Recommender) Recommend(ctx context.Context, userID string) ([]string, error) {
	recs, err := r.store.Recent(ctx, userID, KindSearch, MaxRecent)
	if err != nil {
		return nil, errors.Wrap(err, "recommend: load history")
	}
	interests := Interests(recs)
	if len(interests) == 0 {
		return []string{}, nil
	}
	text, err := r.llm.Complete(ctx, llm.Request{
		System:    recommendSystem,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "User interests: " + strings.Join(interests, ", ") + ". Please recommend 3 travel destinations or activities."}},
		MaxTokens: 300,
	})
	if err != nil {
		return nil, errors.Wrap(err, "recommend: completion")
	}
	return parseRecommendations(text), nil
}

func parseRecommendations(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= 10 {
			continue
		}
		out = append(out, line)
		if len(out) == maxRecommendations {
			break
		}
	}
	return out
}
