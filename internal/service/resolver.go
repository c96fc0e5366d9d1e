package service

import (
	"context"
	"fmt"
	"subscription-cycle-sync/internal/client"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/cycle"
	"subscription-cycle-sync/internal/model"
	"subscription-cycle-sync/internal/repository"
)

// CycleResolver computes the cycle of a subscription order.
//
// Recount derives the cycle from the customer's order history and is
// idempotent. Incremental derives it from the stored cycle; repeated events
// for the same order are absorbed by the store's per-order claim.
type CycleResolver interface {
	Recount(ctx context.Context, order *model.Order, line model.LineItem) (int, error)
	Incremental(ctx context.Context, order *model.Order, line model.LineItem) (cycle int, applied bool, err error)
	// Record builds the cycle store record for order.
	Record(order *model.Order, line model.LineItem) *model.SubscriptionCycle
}

type cycleResolverImpl struct {
	shop          config.Shop
	shopifyClient client.ShopifyClient
	cycleRepo     repository.CycleRepository
}

func NewCycleResolver(
	shop config.Shop,
	shopifyClient client.ShopifyClient,
	cycleRepo repository.CycleRepository,
) CycleResolver {
	return &cycleResolverImpl{
		shop:          shop,
		shopifyClient: shopifyClient,
		cycleRepo:     cycleRepo,
	}
}

func (r *cycleResolverImpl) Recount(ctx context.Context, order *model.Order, line model.LineItem) (int, error) {
	history, err := r.shopifyClient.FetchOrdersForCustomer(ctx, order.CustomerID)
	if err != nil {
		return 0, fmt.Errorf("fetch customer order history: %w", err)
	}

	return cycle.Position(history, order.ID, line.SellingPlanID)
}

func (r *cycleResolverImpl) Incremental(ctx context.Context, order *model.Order, line model.LineItem) (int, bool, error) {
	c, applied, err := r.cycleRepo.Increment(ctx, r.Record(order, line), order.ID)
	if err != nil {
		return 0, false, fmt.Errorf("increment cycle: %w", err)
	}
	return c, applied, nil
}

func (r *cycleResolverImpl) Record(order *model.Order, line model.LineItem) *model.SubscriptionCycle {
	customerID := cycle.NumericID(order.CustomerID)
	return &model.SubscriptionCycle{
		SubscriptionKey: cycle.SubscriptionKey(r.shop.Name, customerID, line.SellingPlanID),
		Shop:            r.shop.Name,
		CustomerID:      customerID,
		SellingPlanID:   line.SellingPlanID,
		ProductID:       line.ProductID,
		VariantID:       line.VariantID,
	}
}
