package session

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"voyager-backend/internal/router"
)

// Stage tracks how far the user got toward checkout.
type Stage string

const (
	StageNone     Stage = "none"
	StageCart     Stage = "cart"
	StageCheckout Stage = "checkout"
)

type CartItem struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Price    string    `json:"price"`
	Platform string    `json:"platform"`
	URL      string    `json:"url"`
	AddedAt  time.Time `json:"addedAt"`
}

type Cart struct {
	items []CartItem
	stage Stage
}

// Add stores item, assigning an id and timestamp when missing.
func (c *Cart) Add(item CartItem) CartItem {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	c.items = append(c.items, item)
	return item
}

// Remove deletes the item with id, keeping the order of the rest.
func (c *Cart) Remove(id string) bool {
	for i, it := range c.items {
		if it.ID == id {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cart) Clear() { c.items = nil }

func (c *Cart) Items() []CartItem {
	return append([]CartItem(nil), c.items...)
}

func (c *Cart) Len() int { return len(c.items) }

// Total sums item prices. Currency symbols and thousands separators are
// ignored; a price that still does not parse counts as zero.
func (c *Cart) Total() float64 {
	var total float64
	for _, it := range c.items {
		total += ParsePrice(it.Price)
	}
	return total
}

func ParsePrice(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func (c *Cart) Stage() Stage {
	if c.stage == "" {
		return StageNone
	}
	return c.stage
}

func (c *Cart) OpenCart() { c.stage = StageCart }

// BeginCheckout moves to checkout. An empty cart is rejected and the stage
// is left as it was.
func (c *Cart) BeginCheckout() error {
	if len(c.items) == 0 {
		return &router.ValidationError{Field: "cart", Message: "your cart is empty"}
	}
	c.stage = StageCheckout
	return nil
}

func (c *Cart) CloseCart() { c.stage = StageNone }
