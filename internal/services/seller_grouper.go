package services

import (
	"context"
	"strings"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

// ResolveSeller walks the ordered fallback chain of seller-identifier fields
// on a cart line and returns a tagged result. Carts written by older versions
// of the storefront recorded the seller under different fields, so the chain
// is: populated sellerStore reference, scalar sellerId, populated store
// reference, scalar storeId.
func ResolveSeller(line domain.CartLine) domain.SellerResolution {
	if line.SellerStore != nil {
		if id := strings.TrimSpace(line.SellerStore.ID); id != "" {
			return domain.SellerResolution{SellerID: id, Source: domain.SellerIDFromSellerStore, Resolved: true}
		}
	}
	if id := strings.TrimSpace(line.SellerID); id != "" {
		return domain.SellerResolution{SellerID: id, Source: domain.SellerIDFromSellerID, Resolved: true}
	}
	if line.Store != nil {
		if id := strings.TrimSpace(line.Store.ID); id != "" {
			return domain.SellerResolution{SellerID: id, Source: domain.SellerIDFromStore, Resolved: true}
		}
	}
	if id := strings.TrimSpace(line.StoreID); id != "" {
		return domain.SellerResolution{SellerID: id, Source: domain.SellerIDFromStoreID, Resolved: true}
	}
	return domain.SellerResolution{}
}

// SellerGrouper partitions cart lines into per-seller groups.
type SellerGrouper struct {
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewSellerGrouper constructs a grouper. The logger is optional.
func NewSellerGrouper(logger func(ctx context.Context, event string, fields map[string]any)) *SellerGrouper {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SellerGrouper{logger: logger}
}

// Group partitions the lines by resolved seller. Insertion order is preserved
// within each group and sellers appear in first-seen order. Lines with no
// resolvable seller are surfaced in Unassigned and logged; they take part in
// no group.
func (g *SellerGrouper) Group(ctx context.Context, lines []domain.CartLine) domain.GroupedCart {
	grouped := domain.GroupedCart{}
	index := make(map[string]int, len(lines))

	for _, line := range lines {
		res := ResolveSeller(line)
		if !res.Resolved {
			g.logger(ctx, "grouping.seller_unresolved", map[string]any{
				"productId": line.ProductID,
			})
			grouped.Unassigned = append(grouped.Unassigned, line)
			continue
		}
		pos, ok := index[res.SellerID]
		if !ok {
			pos = len(grouped.Groups)
			index[res.SellerID] = pos
			grouped.Groups = append(grouped.Groups, domain.SellerGroup{SellerID: res.SellerID})
		}
		grouped.Groups[pos].Items = append(grouped.Groups[pos].Items, line)
	}

	return grouped
}
