package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/client"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/cycle"
	"subscription-cycle-sync/internal/dto"
	"subscription-cycle-sync/internal/metrics"
	"subscription-cycle-sync/internal/model"
	"subscription-cycle-sync/internal/repository"

	"golang.org/x/sync/singleflight"
)

const (
	TopicOrdersCreate = "orders/create"

	StrategyIncremental = "incremental"
	StrategyRecount     = "recount"
)

// WebhookService is the event driver: one orders/create delivery, one order.
type WebhookService interface {
	HandleOrderCreated(ctx context.Context, delivery dto.WebhookDelivery) error
}

type webhookServiceImpl struct {
	shop             config.Shop
	strategy         string
	shopifyClient    client.ShopifyClient
	resolver         CycleResolver
	tagger           TagService
	cycleRepo        repository.CycleRepository
	webhookEventRepo repository.WebhookEventRepository
	logger           *slog.Logger

	// collapses concurrent deliveries of the same order within this process
	inflight singleflight.Group
}

func NewWebhookService(
	shop config.Shop,
	syncCfg config.Sync,
	shopifyClient client.ShopifyClient,
	resolver CycleResolver,
	tagger TagService,
	cycleRepo repository.CycleRepository,
	webhookEventRepo repository.WebhookEventRepository,
	logger *slog.Logger,
) WebhookService {
	strategy := syncCfg.WebhookStrategy
	if strategy != StrategyRecount {
		strategy = StrategyIncremental
	}

	return &webhookServiceImpl{
		shop:             shop,
		strategy:         strategy,
		shopifyClient:    shopifyClient,
		resolver:         resolver,
		tagger:           tagger,
		cycleRepo:        cycleRepo,
		webhookEventRepo: webhookEventRepo,
		logger:           logger,
	}
}

func (s *webhookServiceImpl) HandleOrderCreated(ctx context.Context, delivery dto.WebhookDelivery) error {
	if s.shop.AccessToken == "" {
		return fmt.Errorf("shop %s: %w", s.shop.Name, apperror.ErrNoSession)
	}

	var payload model.OrderWebhookPayload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	orderID := payload.AdminGraphqlAPIID
	if orderID == "" {
		s.logger.Info("No order GID in payload", "event_id", delivery.EventID)
		return nil
	}

	logger := s.logger.With("order_id", orderID, "event_id", delivery.EventID)

	if delivery.EventID != "" {
		seen, err := s.webhookEventRepo.Exists(ctx, delivery.EventID)
		if err != nil {
			return err
		}
		if seen {
			metrics.OrdersProcessed.WithLabelValues("webhook", "duplicate").Inc()
			logger.Info("webhook event already processed")
			return nil
		}
	}

	_, err, shared := s.inflight.Do(orderID, func() (interface{}, error) {
		return nil, s.processOrder(ctx, orderID, logger)
	})
	if shared {
		logger.Debug("joined in-flight processing of order")
	}
	if err != nil {
		return err
	}

	if delivery.EventID != "" {
		if err := s.webhookEventRepo.MarkProcessed(ctx, delivery.EventID, delivery.Topic, orderID); err != nil {
			return err
		}
	}
	return nil
}

func (s *webhookServiceImpl) processOrder(ctx context.Context, orderID string, logger *slog.Logger) error {
	order, err := s.shopifyClient.FetchOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}

	line, ok := order.SubscriptionLine()
	if !ok {
		return s.processOneTime(ctx, order, logger)
	}
	return s.processSubscription(ctx, order, line, logger)
}

func (s *webhookServiceImpl) processOneTime(ctx context.Context, order *model.Order, logger *slog.Logger) error {
	if _, err := s.tagger.ApplyOneTimeTag(ctx, order); err != nil {
		metrics.OrdersProcessed.WithLabelValues("one_time", "error").Inc()
		return err
	}
	logger.Info("No selling plan, tagged as One-Time")

	if order.CustomerID != "" {
		purchased, err := s.tagger.MergePurchasedProducts(ctx, order)
		if err != nil {
			metrics.OrdersProcessed.WithLabelValues("one_time", "error").Inc()
			return err
		}
		logger.Info("Updated purchased_products metafield", "customer_id", order.CustomerID, "products", purchased)
	}

	metrics.OrdersProcessed.WithLabelValues("one_time", "success").Inc()
	return nil
}

func (s *webhookServiceImpl) processSubscription(ctx context.Context, order *model.Order, line model.LineItem, logger *slog.Logger) error {
	if order.CustomerID == "" {
		metrics.OrdersProcessed.WithLabelValues("webhook", "error").Inc()
		return apperror.ErrNoCustomer
	}

	c, err := s.resolve(ctx, order, line, logger)
	if err != nil {
		metrics.OrdersProcessed.WithLabelValues("webhook", "error").Inc()
		return err
	}

	if _, err := s.tagger.ApplyCycleTag(ctx, order, c); err != nil {
		metrics.OrdersProcessed.WithLabelValues("webhook", "error").Inc()
		return err
	}

	metrics.OrdersProcessed.WithLabelValues("webhook", "success").Inc()
	logger.Info(fmt.Sprintf("Order tagged as: %s", cycle.Tag(c)), "cycle", c, "strategy", s.strategy)
	return nil
}

func (s *webhookServiceImpl) resolve(ctx context.Context, order *model.Order, line model.LineItem, logger *slog.Logger) (int, error) {
	if s.strategy == StrategyRecount {
		c, err := s.resolver.Recount(ctx, order, line)
		if err != nil {
			return 0, err
		}
		record := s.resolver.Record(order, line)
		record.Cycle = c
		if err := s.cycleRepo.Upsert(ctx, record, order.ID); err != nil {
			return 0, err
		}
		return c, nil
	}

	c, applied, err := s.resolver.Incremental(ctx, order, line)
	if err != nil {
		return 0, err
	}
	if !applied {
		// tags are still rewritten: the earlier attempt may have stopped
		// between the store write and the order update
		logger.Info("order already counted, reusing stored cycle", "cycle", c)
	}
	return c, nil
}

// IsNoSession reports whether err means the shop has no offline access token.
func IsNoSession(err error) bool {
	return errors.Is(err, apperror.ErrNoSession)
}
