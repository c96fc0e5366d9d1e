package cycle

import (
	"fmt"
	"sort"
	"strings"

	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/model"
)

// SubscriptionKey encodes shop + customer + selling plan into the cycle store key.
func SubscriptionKey(shop, customerID, sellingPlanID string) string {
	return fmt.Sprintf("shop:%s::cust:%s::sp:%s", shop, NumericID(customerID), sellingPlanID)
}

// NumericID returns the trailing segment of a gid ("gid://shopify/Customer/42" -> "42").
func NumericID(gid string) string {
	if i := strings.LastIndex(gid, "/"); i >= 0 {
		return gid[i+1:]
	}
	return gid
}

// Position returns the 1-based position of orderID among the orders of
// history that reference sellingPlanID, sorted by creation time. Orders
// created at the same instant keep the order the platform returned them in.
func Position(history []*model.Order, orderID, sellingPlanID string) (int, error) {
	relevant := make([]*model.Order, 0, len(history))
	for _, o := range history {
		if o.HasSellingPlan(sellingPlanID) {
			relevant = append(relevant, o)
		}
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].CreatedAt.Before(relevant[j].CreatedAt)
	})

	for i, o := range relevant {
		if o.ID == orderID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("order %s, selling plan %s: %w", orderID, sellingPlanID, apperror.ErrOrderNotInHistory)
}

// MergeProductIDs unions added into existing, keeping first-seen order.
func MergeProductIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, id := range append(append([]string{}, existing...), added...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
