package wishlist

import (
	"context"
	"log/slog"

	"boutique/pkg/cms"
	"boutique/pkg/domain"
)

// Reconciler synchronizes wishlist membership against the CMS wishlist
// collection directly, one call per mutation. The collection does not
// enforce one record per user, so every operation resolves the newest
// record for the caller first.
type Reconciler struct {
	cms *cms.Client
}

// NewReconciler builds a Reconciler on top of the CMS client.
func NewReconciler(client *cms.Client) *Reconciler {
	return &Reconciler{cms: client}
}

// Add pushes one product into the caller's remote wishlist.
//
// When the caller has no wishlist record yet, the article is verified
// first and a record is created seeded with it. If the seeded create
// is rejected an empty record is created instead and the add stays
// local. When a record exists the article is verified the same way,
// then the full article id list is rewritten with the product
// appended; the CMS exposes no incremental delta. An article that no
// longer resolves keeps the add local on either path.
func (r *Reconciler) Add(ctx context.Context, token string, item domain.WishlistItem) AddOutcome {
	user, err := r.cms.Me(ctx, token)
	if err != nil {
		slog.Warn("wishlist add: resolve user failed", "err", err)
		return AddFailed
	}

	records, err := r.cms.ListWishlists(ctx, token, user.ID, false)
	if err != nil {
		slog.Warn("wishlist add: list records failed", "userId", user.ID, "err", err)
		return AddFailed
	}

	if len(records) == 0 {
		if _, err := r.cms.GetArticle(ctx, token, item.ID); err != nil {
			slog.Warn("wishlist add: article lookup failed, keeping local only",
				"productId", item.ID, "err", err)
			return AddLocalOnly
		}
		if err := r.cms.CreateWishlist(ctx, token, user.ID, []int{item.ID}); err != nil {
			slog.Warn("wishlist add: seeded create rejected, falling back to empty record",
				"productId", item.ID, "err", err)
			if err := r.cms.CreateWishlist(ctx, token, user.ID, nil); err != nil {
				slog.Warn("wishlist add: empty create failed", "userId", user.ID, "err", err)
				return AddFailed
			}
			return AddLocalOnly
		}
		return AddSynced
	}

	newest := records[0]
	if newest.Contains(item.ID) {
		return AddSynced
	}
	if _, err := r.cms.GetArticle(ctx, token, item.ID); err != nil {
		slog.Warn("wishlist add: article lookup failed, keeping local only",
			"productId", item.ID, "err", err)
		return AddLocalOnly
	}
	ids := append(newest.ArticleIDs(), item.ID)
	if err := r.cms.ReplaceWishlistArticles(ctx, token, newest.ID, ids); err != nil {
		slog.Warn("wishlist add: record update failed",
			"wishlistId", newest.ID, "productId", item.ID, "err", err)
		return AddFailed
	}
	return AddSynced
}

// Remove drops one product from the caller's remote wishlist. An
// absent record or an id not in the record is a no-op.
func (r *Reconciler) Remove(ctx context.Context, token string, productID int) error {
	user, err := r.cms.Me(ctx, token)
	if err != nil {
		return err
	}
	records, err := r.cms.ListWishlists(ctx, token, user.ID, false)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	newest := records[0]
	if !newest.Contains(productID) {
		return nil
	}
	ids := make([]int, 0, len(newest.Articles))
	for _, id := range newest.ArticleIDs() {
		if id != productID {
			ids = append(ids, id)
		}
	}
	return r.cms.ReplaceWishlistArticles(ctx, token, newest.ID, ids)
}

// Snapshot reads the caller's newest remote wishlist with images
// populated. found is false when no record exists yet.
func (r *Reconciler) Snapshot(ctx context.Context, token string) ([]domain.WishlistItem, bool, error) {
	user, err := r.cms.Me(ctx, token)
	if err != nil {
		return nil, false, err
	}
	records, err := r.cms.ListWishlists(ctx, token, user.ID, true)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	newest := records[0]
	items := make([]domain.WishlistItem, 0, len(newest.Articles))
	for _, art := range newest.Articles {
		items = append(items, domain.WishlistItem{
			ID:         art.ID,
			Title:      art.Title,
			Price:      art.Price,
			Thumbnail:  art.Thumbnail,
			DocumentID: art.DocumentID,
		})
	}
	return items, true, nil
}
