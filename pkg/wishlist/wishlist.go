// Package wishlist holds the favorites container and its remote
// synchronization against the CMS wishlist collection.
package wishlist

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"boutique/pkg/domain"
	"boutique/pkg/persist"
)

var errRemoteAdd = errors.New("wishlist: remote add rejected")

// Slot is the persisted state slot name for the wishlist.
const Slot = "wishlist-store"

// AddOutcome is the result of pushing an add to the remote wishlist.
type AddOutcome int

const (
	// AddFailed means the remote rejected the add and the item must
	// not be applied locally.
	AddFailed AddOutcome = iota
	// AddSynced means the remote record now contains the item.
	AddSynced
	// AddLocalOnly means the remote could not take the item but the
	// local add should proceed anyway.
	AddLocalOnly
)

// Syncer pushes wishlist membership changes to the remote store and
// reads the remote snapshot back.
type Syncer interface {
	Add(ctx context.Context, token string, item domain.WishlistItem) AddOutcome
	Remove(ctx context.Context, token string, productID int) error
	Snapshot(ctx context.Context, token string) ([]domain.WishlistItem, bool, error)
}

type state struct {
	Items []domain.WishlistItem `json:"items"`
}

// Wishlist is the favorites container. Signed-out sessions mutate it
// purely locally; signed-in sessions go through the Syncer first.
type Wishlist struct {
	mu      sync.Mutex
	store   persist.Store
	syncer  Syncer
	state   state
	loading bool
	lastErr error
}

// New builds a wishlist, restoring the last snapshot when one exists.
// The syncer may be nil for a purely local wishlist.
func New(ctx context.Context, store persist.Store, syncer Syncer) *Wishlist {
	w := &Wishlist{store: store, syncer: syncer}
	if store != nil {
		if _, err := store.Load(ctx, Slot, &w.state); err != nil {
			slog.Warn("wishlist snapshot load failed", "err", err)
		}
	}
	return w
}

// Add puts the item into the wishlist. With an empty token the add is
// local only and always succeeds. With a token the remote is updated
// first; a remote rejection leaves local state untouched and returns
// false. Adding an item already present is a no-op returning true.
func (w *Wishlist) Add(ctx context.Context, token string, item domain.WishlistItem) bool {
	w.mu.Lock()
	if w.containsLocked(item.ID) {
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()

	if token != "" && w.syncer != nil {
		outcome := w.syncer.Add(ctx, token, item)
		if outcome == AddFailed {
			w.setErr(errRemoteAdd)
			return false
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.containsLocked(item.ID) {
		w.state.Items = append(w.state.Items, item)
	}
	w.lastErr = nil
	w.saveLocked(ctx)
	return true
}

// Remove drops the item locally and, for signed-in sessions, pushes
// the removal to the remote. A remote failure is logged but the local
// removal stands.
func (w *Wishlist) Remove(ctx context.Context, token string, productID int) {
	w.mu.Lock()
	kept := w.state.Items[:0]
	for _, item := range w.state.Items {
		if item.ID != productID {
			kept = append(kept, item)
		}
	}
	w.state.Items = kept
	w.saveLocked(ctx)
	w.mu.Unlock()

	if token != "" && w.syncer != nil {
		if err := w.syncer.Remove(ctx, token, productID); err != nil {
			slog.Warn("wishlist remote remove failed", "productId", productID, "err", err)
		}
	}
}

// Fetch replaces the local items with the remote snapshot. Signed-out
// sessions keep their local items untouched. An absent remote record
// empties the wishlist.
func (w *Wishlist) Fetch(ctx context.Context, token string) error {
	if token == "" || w.syncer == nil {
		return nil
	}
	w.mu.Lock()
	w.loading = true
	w.mu.Unlock()

	items, found, err := w.syncer.Snapshot(ctx, token)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.loading = false
	if err != nil {
		w.lastErr = err
		return err
	}
	if !found {
		items = nil
	}
	w.state.Items = items
	w.lastErr = nil
	w.saveLocked(ctx)
	return nil
}

// IsFavorite reports whether the product is in the wishlist.
func (w *Wishlist) IsFavorite(productID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.containsLocked(productID)
}

// Clear empties the wishlist locally.
func (w *Wishlist) Clear(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state{}
	w.lastErr = nil
	w.saveLocked(ctx)
}

// Items returns a copy of the wishlist in insertion order.
func (w *Wishlist) Items() []domain.WishlistItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	items := make([]domain.WishlistItem, len(w.state.Items))
	copy(items, w.state.Items)
	return items
}

// Loading reports whether a Fetch is in flight.
func (w *Wishlist) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading
}

// Err returns the error from the last failed remote operation, reset
// by the next success.
func (w *Wishlist) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Wishlist) containsLocked(productID int) bool {
	for _, item := range w.state.Items {
		if item.ID == productID {
			return true
		}
	}
	return false
}

func (w *Wishlist) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = err
}

func (w *Wishlist) saveLocked(ctx context.Context) {
	if w.store == nil {
		return
	}
	if err := w.store.Save(ctx, Slot, w.state); err != nil {
		slog.Warn("wishlist snapshot save failed", "err", err)
	}
}
