package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"subscription-cycle-sync/internal/client"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/cycle"
	"subscription-cycle-sync/internal/model"
)

// TagService writes the app-owned tag and note back to the order.
type TagService interface {
	// ApplyCycleTag replaces any cycle tag on the order with the tag for c
	// and sets the note to the same value.
	ApplyCycleTag(ctx context.Context, order *model.Order, c int) (*model.Order, error)
	ApplyOneTimeTag(ctx context.Context, order *model.Order) (*model.Order, error)
	// MergePurchasedProducts unions the order's product ids into the
	// customer's purchased-products metafield and returns the new contents.
	MergePurchasedProducts(ctx context.Context, order *model.Order) ([]string, error)
}

type tagServiceImpl struct {
	shopifyClient client.ShopifyClient
	namespace     string
	key           string
	logger        *slog.Logger
}

func NewTagService(shopifyClient client.ShopifyClient, syncCfg config.Sync, logger *slog.Logger) TagService {
	return &tagServiceImpl{
		shopifyClient: shopifyClient,
		namespace:     syncCfg.MetafieldNamespace,
		key:           syncCfg.MetafieldKey,
		logger:        logger,
	}
}

func (s *tagServiceImpl) ApplyCycleTag(ctx context.Context, order *model.Order, c int) (*model.Order, error) {
	tag := cycle.Tag(c)
	updated, err := s.shopifyClient.UpdateOrder(ctx, model.OrderUpdate{
		ID:   order.ID,
		Tags: cycle.ReconcileTags(order.Tags, tag),
		Note: tag,
	})
	if err != nil {
		return nil, fmt.Errorf("update order tags: %w", err)
	}
	return updated, nil
}

func (s *tagServiceImpl) ApplyOneTimeTag(ctx context.Context, order *model.Order) (*model.Order, error) {
	updated, err := s.shopifyClient.UpdateOrder(ctx, model.OrderUpdate{
		ID:   order.ID,
		Tags: cycle.MergeTags(order.Tags, cycle.OneTimeTag),
		Note: cycle.OneTimeTag,
	})
	if err != nil {
		return nil, fmt.Errorf("update order tags: %w", err)
	}
	return updated, nil
}

func (s *tagServiceImpl) MergePurchasedProducts(ctx context.Context, order *model.Order) ([]string, error) {
	raw, err := s.shopifyClient.GetCustomerMetafield(ctx, order.CustomerID, s.namespace, s.key)
	if err != nil {
		return nil, fmt.Errorf("get purchased products: %w", err)
	}

	var purchased []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &purchased); err != nil {
			// unreadable content is replaced rather than blocking the merge
			s.logger.Warn("purchased products metafield is not a JSON string array",
				"customer_id", order.CustomerID, "error", err)
			purchased = nil
		}
	}

	merged := cycle.MergeProductIDs(purchased, order.ProductIDs())
	value, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal purchased products: %w", err)
	}

	if err := s.shopifyClient.SetCustomerMetafield(ctx, order.CustomerID, s.namespace, s.key, string(value)); err != nil {
		return nil, fmt.Errorf("set purchased products: %w", err)
	}
	return merged, nil
}
