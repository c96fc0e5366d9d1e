package model

import "time"

type LineItem struct {
	SellingPlanID string
	VariantID     string
	ProductID     string
}

// Order is the subset of a platform order the reconciler reads.
type Order struct {
	ID         string // gid://shopify/Order/...
	CreatedAt  time.Time
	Tags       []string
	Note       string
	CustomerID string // gid://shopify/Customer/...
	LineItems  []LineItem
}

// SubscriptionLine returns the first line item carrying a selling plan.
func (o *Order) SubscriptionLine() (LineItem, bool) {
	for _, li := range o.LineItems {
		if li.SellingPlanID != "" {
			return li, true
		}
	}
	return LineItem{}, false
}

func (o *Order) HasSellingPlan(sellingPlanID string) bool {
	for _, li := range o.LineItems {
		if li.SellingPlanID == sellingPlanID {
			return true
		}
	}
	return false
}

// ProductIDs lists the product ids of all line items, skipping items
// without a variant.
func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		if li.ProductID != "" {
			ids = append(ids, li.ProductID)
		}
	}
	return ids
}

type OrderPage struct {
	Orders      []*Order
	EndCursor   string
	HasNextPage bool
}

type OrderUpdate struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
	Note string   `json:"note"`
}

// OrderWebhookPayload is the part of the orders/create payload we use.
type OrderWebhookPayload struct {
	ID                int64  `json:"id"`
	AdminGraphqlAPIID string `json:"admin_graphql_api_id"`
}
