package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/client"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/dto"
	"subscription-cycle-sync/internal/metrics"
	"subscription-cycle-sync/internal/model"
	"subscription-cycle-sync/internal/repository"
	"time"

	"github.com/google/uuid"
)

const (
	TriggerAdmin = "ADMIN"
	TriggerCLI   = "CLI"
)

// SyncService is the batch driver: it walks every order matching the sync
// filter and recomputes cycle state from order history.
type SyncService interface {
	// Run performs one full batch run. A failing order is recorded in the
	// result; only a failure to page through orders fails the run.
	Run(ctx context.Context, trigger string) (*dto.SyncResult, error)
	// SyncOrder recounts and re-tags a single order.
	SyncOrder(ctx context.Context, orderID string) (*dto.OrderResult, error)
	ListRuns(ctx context.Context, limit int) ([]*dto.SyncRun, error)
}

type syncServiceImpl struct {
	shop          config.Shop
	syncCfg       config.Sync
	shopifyClient client.ShopifyClient
	resolver      CycleResolver
	tagger        TagService
	cycleRepo     repository.CycleRepository
	syncRunRepo   repository.SyncRunRepository
	logger        *slog.Logger
}

func NewSyncService(
	shop config.Shop,
	syncCfg config.Sync,
	shopifyClient client.ShopifyClient,
	resolver CycleResolver,
	tagger TagService,
	cycleRepo repository.CycleRepository,
	syncRunRepo repository.SyncRunRepository,
	logger *slog.Logger,
) SyncService {
	return &syncServiceImpl{
		shop:          shop,
		syncCfg:       syncCfg,
		shopifyClient: shopifyClient,
		resolver:      resolver,
		tagger:        tagger,
		cycleRepo:     cycleRepo,
		syncRunRepo:   syncRunRepo,
		logger:        logger,
	}
}

func (s *syncServiceImpl) Run(ctx context.Context, trigger string) (*dto.SyncResult, error) {
	if s.shop.AccessToken == "" {
		return nil, fmt.Errorf("shop %s: %w", s.shop.Name, apperror.ErrNoSession)
	}

	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID, "trigger", trigger)

	if err := s.syncRunRepo.AcquireLock(ctx, repository.BatchSyncLock, runID, s.syncCfg.LockTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.syncRunRepo.ReleaseLock(context.WithoutCancel(ctx), repository.BatchSyncLock, runID); err != nil {
			logger.Error("release sync lock", "error", err)
		}
	}()

	started := time.Now()
	run := &model.SyncRun{
		ID:        runID,
		Shop:      s.shop.Name,
		Trigger:   trigger,
		Status:    model.SyncRunRunning,
		StartedAt: started,
	}
	if err := s.syncRunRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("record sync run: %w", err)
	}

	logger.Info("Starting subscription order sync...")
	walkCtx, cancelWalk := context.WithCancelCause(ctx)
	leaseDone := make(chan struct{})
	go func() {
		defer close(leaseDone)
		s.keepLease(walkCtx, runID, cancelWalk, logger)
	}()

	processed, orderErrors, walkErr := s.walk(walkCtx, runID, logger)
	cancelWalk(nil)
	<-leaseDone

	finished := time.Now()
	run.ProcessedOrders = processed
	run.Errors = orderErrors
	run.FinishedAt = &finished
	metrics.SyncRunDuration.Observe(finished.Sub(started).Seconds())

	if walkErr != nil {
		run.Status = model.SyncRunFailed
		run.Error = walkErr.Error()
		metrics.SyncRuns.WithLabelValues("failed").Inc()
		logger.Error("Sync failed", "processed_orders", processed, "error", walkErr)
	} else {
		run.Status = model.SyncRunSucceeded
		run.Message = summary(processed, len(orderErrors))
		metrics.SyncRuns.WithLabelValues("succeeded").Inc()
		logger.Info(run.Message, "processed_orders", processed, "errors", len(orderErrors))
	}

	if err := s.syncRunRepo.Finish(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("finish sync run", "error", err)
	}

	if walkErr != nil {
		return nil, walkErr
	}
	return &dto.SyncResult{
		Success:         true,
		RunID:           runID,
		ProcessedOrders: processed,
		Errors:          orderErrors,
		Message:         run.Message,
	}, nil
}

// walk pages through all orders, one page fully processed before the next
// is requested.
func (s *syncServiceImpl) walk(ctx context.Context, runID string, logger *slog.Logger) (int, []string, error) {
	var (
		processed   int
		orderErrors = []string{}
		cursor      string
	)

	for {
		if ctx.Err() != nil {
			return processed, orderErrors, fmt.Errorf("sync cancelled: %w", context.Cause(ctx))
		}
		if err := s.syncRunRepo.ExtendLock(ctx, repository.BatchSyncLock, runID, s.syncCfg.LockTTL); err != nil {
			return processed, orderErrors, fmt.Errorf("renew sync lock: %w", err)
		}

		page, err := s.shopifyClient.FetchOrdersPage(ctx, s.syncCfg.OrderFilter, cursor)
		if err != nil {
			return processed, orderErrors, fmt.Errorf("fetch orders page: %w", err)
		}
		logger.Debug(fmt.Sprintf("Fetched %d orders", len(page.Orders)), "cursor", cursor)

		for _, order := range page.Orders {
			line, ok := order.SubscriptionLine()
			if !ok {
				continue
			}

			c, err := s.processOrderWithRetry(ctx, order, line)
			if err != nil {
				metrics.OrdersProcessed.WithLabelValues("batch", "error").Inc()
				logger.Error("Order failed", "order_id", order.ID, "error", err)
				orderErrors = append(orderErrors, fmt.Sprintf("Order %s: %s", order.ID, err.Error()))
				continue
			}

			processed++
			metrics.OrdersProcessed.WithLabelValues("batch", "success").Inc()
			logger.Debug("Processed order", "order_id", order.ID, "cycle", c)
		}

		if !page.HasNextPage || page.EndCursor == "" {
			return processed, orderErrors, nil
		}
		cursor = page.EndCursor
	}
}

// keepLease renews the run lock every third of its ttl until ctx is done.
// Losing the lease cancels the run through cancel.
func (s *syncServiceImpl) keepLease(ctx context.Context, runID string, cancel context.CancelCauseFunc, logger *slog.Logger) {
	interval := s.syncCfg.LockTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.syncRunRepo.ExtendLock(ctx, repository.BatchSyncLock, runID, s.syncCfg.LockTTL)
			switch {
			case err == nil || ctx.Err() != nil:
			case errors.Is(err, apperror.ErrSyncInProgress):
				logger.Error("sync lock lost, stopping run")
				cancel(fmt.Errorf("sync lock lost: %w", err))
				return
			default:
				logger.Warn("renew sync lock", "error", err)
			}
		}
	}
}

// processOrderWithRetry retries an order once when the platform was
// unreachable or answered with a protocol error.
func (s *syncServiceImpl) processOrderWithRetry(ctx context.Context, order *model.Order, line model.LineItem) (int, error) {
	c, _, err := s.processOrder(ctx, order, line)
	if err != nil && apperror.Retryable(err) && ctx.Err() == nil {
		s.logger.Warn("retrying order", "order_id", order.ID, "error", err)
		c, _, err = s.processOrder(ctx, order, line)
	}
	return c, err
}

func (s *syncServiceImpl) processOrder(ctx context.Context, order *model.Order, line model.LineItem) (int, *model.Order, error) {
	if order.CustomerID == "" {
		return 0, nil, apperror.ErrNoCustomer
	}

	c, err := s.resolver.Recount(ctx, order, line)
	if err != nil {
		return 0, nil, err
	}

	record := s.resolver.Record(order, line)
	record.Cycle = c
	if err := s.cycleRepo.Upsert(ctx, record, order.ID); err != nil {
		return 0, nil, err
	}

	updated, err := s.tagger.ApplyCycleTag(ctx, order, c)
	if err != nil {
		return 0, nil, err
	}
	return c, updated, nil
}

func (s *syncServiceImpl) SyncOrder(ctx context.Context, orderID string) (*dto.OrderResult, error) {
	order, err := s.shopifyClient.FetchOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}

	line, ok := order.SubscriptionLine()
	if !ok {
		return nil, fmt.Errorf("order %s has no selling plan line item", orderID)
	}

	c, updated, err := s.processOrder(ctx, order, line)
	if err != nil {
		return nil, err
	}
	return &dto.OrderResult{
		OrderID: updated.ID,
		Cycle:   c,
		Tags:    updated.Tags,
		Note:    updated.Note,
	}, nil
}

func (s *syncServiceImpl) ListRuns(ctx context.Context, limit int) ([]*dto.SyncRun, error) {
	runs, err := s.syncRunRepo.ListRecent(ctx, s.shop.Name, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*dto.SyncRun, len(runs))
	for i, r := range runs {
		errs := []string(r.Errors)
		if errs == nil {
			errs = []string{}
		}
		out[i] = &dto.SyncRun{
			ID:              r.ID,
			Trigger:         r.Trigger,
			Status:          string(r.Status),
			ProcessedOrders: r.ProcessedOrders,
			Errors:          errs,
			Message:         r.Message,
			Error:           r.Error,
			StartedAt:       r.StartedAt,
			FinishedAt:      r.FinishedAt,
		}
	}
	return out, nil
}

func summary(processed, failed int) string {
	msg := fmt.Sprintf("Processed %d orders", processed)
	if failed > 0 {
		msg += fmt.Sprintf(" with %d errors", failed)
	}
	return msg
}

// IsConflict reports whether err means another batch run holds the lock.
func IsConflict(err error) bool {
	return errors.Is(err, apperror.ErrSyncInProgress)
}
