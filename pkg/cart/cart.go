// Package cart holds the shopping-cart state container.
package cart

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"boutique/pkg/domain"
	"boutique/pkg/persist"
)

// Slot is the persisted state slot name for the cart.
const Slot = "cart-store"

// Promo codes are a fixed in-memory table for now; matching is
// case-insensitive.
var promoCodes = []domain.PromoCode{
	{Code: "WELCOME10", Discount: 10},
	{Code: "SUMMER20", Discount: 20},
}

type state struct {
	Items        []domain.CartItem `json:"items"`
	PromoCode    *domain.PromoCode `json:"promoCode"`
	ShippingCost float64           `json:"shippingCost"`
}

// Cart is a mutex-guarded cart container. Every mutation rewrites the
// persisted snapshot; persistence failures are logged and the cart
// keeps working in memory.
type Cart struct {
	mu    sync.Mutex
	store persist.Store
	state state
}

// New builds a cart, restoring the last snapshot when one exists.
func New(ctx context.Context, store persist.Store) *Cart {
	c := &Cart{store: store}
	if store != nil {
		if _, err := store.Load(ctx, Slot, &c.state); err != nil {
			slog.Warn("cart snapshot load failed", "err", err)
		}
	}
	return c
}

// Add appends the item, or increments the quantity of the existing
// line with the same id. Insertion order is preserved for display.
func (c *Cart) Add(ctx context.Context, item domain.CartItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.state.Items {
		if c.state.Items[i].ID == item.ID {
			c.state.Items[i].Quantity += item.Quantity
			c.saveLocked(ctx)
			return
		}
	}
	c.state.Items = append(c.state.Items, item)
	c.saveLocked(ctx)
}

// Remove deletes the line with the given id. Absent ids are a no-op.
func (c *Cart) Remove(ctx context.Context, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.state.Items[:0]
	for _, item := range c.state.Items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	c.state.Items = kept
	c.saveLocked(ctx)
}

// UpdateQuantity sets the absolute quantity for a line. Callers must
// reject quantities below 1 before calling; the container does not
// clamp.
func (c *Cart) UpdateQuantity(ctx context.Context, id, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.state.Items {
		if c.state.Items[i].ID == id {
			c.state.Items[i].Quantity = quantity
			break
		}
	}
	c.saveLocked(ctx)
}

// ApplyPromoCode looks the code up case-insensitively. On a match it
// replaces any active promo and returns true; otherwise state is left
// unchanged.
func (c *Cart) ApplyPromoCode(ctx context.Context, code string) bool {
	for _, promo := range promoCodes {
		if strings.EqualFold(promo.Code, code) {
			c.mu.Lock()
			applied := promo
			c.state.PromoCode = &applied
			c.saveLocked(ctx)
			c.mu.Unlock()
			return true
		}
	}
	return false
}

// RemovePromoCode clears the active promo.
func (c *Cart) RemovePromoCode(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PromoCode = nil
	c.saveLocked(ctx)
}

// SetShippingCost sets the flat shipping cost added to the total.
func (c *Cart) SetShippingCost(ctx context.Context, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ShippingCost = cost
	c.saveLocked(ctx)
}

// Clear empties the cart, dropping the promo and shipping cost too.
func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state{}
	c.saveLocked(ctx)
}

// Items returns a copy of the cart lines in insertion order.
func (c *Cart) Items() []domain.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]domain.CartItem, len(c.state.Items))
	copy(items, c.state.Items)
	return items
}

// PromoCode returns the active promo, if any.
func (c *Cart) PromoCode() *domain.PromoCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.PromoCode == nil {
		return nil
	}
	promo := *c.state.PromoCode
	return &promo
}

// ShippingCost returns the current shipping cost.
func (c *Cart) ShippingCost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ShippingCost
}

// Subtotal is the sum of price times quantity over all lines,
// recomputed on every call.
func (c *Cart) Subtotal() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subtotalLocked()
}

// Total applies the promo discount to the subtotal and adds shipping.
func (c *Cart) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	subtotal := c.subtotalLocked()
	discount := 0.0
	if c.state.PromoCode != nil {
		discount = subtotal * c.state.PromoCode.Discount / 100
	}
	return subtotal - discount + c.state.ShippingCost
}

func (c *Cart) subtotalLocked() float64 {
	sum := 0.0
	for _, item := range c.state.Items {
		sum += item.Price * float64(item.Quantity)
	}
	return sum
}

func (c *Cart) saveLocked(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, Slot, c.state); err != nil {
		slog.Warn("cart snapshot save failed", "err", err)
	}
}
