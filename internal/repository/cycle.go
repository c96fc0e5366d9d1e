package repository

import (
	"context"
	"errors"
	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	SourceWebhook = "WEBHOOK"
	SourceBatch   = "BATCH"
)

// CycleRepository is the durable cycle store. Writes go through the
// database's native upsert so concurrent callers never both create.
type CycleRepository interface {
	Get(ctx context.Context, subscriptionKey string) (*model.SubscriptionCycle, error)

	// Upsert creates the record or overwrites cycle and product fields, and
	// records orderID -> cycle.
	Upsert(ctx context.Context, record *model.SubscriptionCycle, orderID string) error

	// Increment atomically creates the record with cycle 1 or bumps the stored
	// cycle by one, and returns the new cycle. If orderID was already
	// processed, the stored cycle for that order is returned and nothing
	// changes (applied == false).
	Increment(ctx context.Context, record *model.SubscriptionCycle, orderID string) (cycle int, applied bool, err error)

	GetProcessedOrder(ctx context.Context, orderID string) (*model.ProcessedOrder, error)
}

type cycleRepoImpl struct {
	db *gorm.DB
}

func NewCycleRepository(db *gorm.DB) CycleRepository {
	return &cycleRepoImpl{
		db: db,
	}
}

// Get returns (nil, nil) when no record exists.
func (r *cycleRepoImpl) Get(ctx context.Context, subscriptionKey string) (*model.SubscriptionCycle, error) {
	var record model.SubscriptionCycle
	err := r.db.WithContext(ctx).
		Where("subscription_key = ?", subscriptionKey).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperror.Store("get subscription cycle", err)
	}

	return &record, nil
}

func (r *cycleRepoImpl) Upsert(ctx context.Context, record *model.SubscriptionCycle, orderID string) error {
	record.LastOrderID = orderID

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subscription_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"cycle":         record.Cycle,
				"product_id":    record.ProductID,
				"variant_id":    record.VariantID,
				"last_order_id": orderID,
				"updated_at":    time.Now(),
			}),
		}).Create(record).Error
		if err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"subscription_key": record.SubscriptionKey,
				"cycle":            record.Cycle,
				"source":           SourceBatch,
				"updated_at":       time.Now(),
			}),
		}).Create(&model.ProcessedOrder{
			OrderID:         orderID,
			SubscriptionKey: record.SubscriptionKey,
			Cycle:           record.Cycle,
			Source:          SourceBatch,
		}).Error
	})

	return apperror.Store("upsert subscription cycle", err)
}

func (r *cycleRepoImpl) Increment(ctx context.Context, record *model.SubscriptionCycle, orderID string) (int, bool, error) {
	var (
		cycle   int
		applied bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// claim the order first; a second delivery of the same order stops here
		claim := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ProcessedOrder{
			OrderID:         orderID,
			SubscriptionKey: record.SubscriptionKey,
			Source:          SourceWebhook,
		})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			var processed model.ProcessedOrder
			if err := tx.Where("order_id = ?", orderID).First(&processed).Error; err != nil {
				return err
			}
			cycle = processed.Cycle
			return nil
		}

		record.Cycle = 1
		record.LastOrderID = orderID
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subscription_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"cycle":         gorm.Expr("subscription_cycles.cycle + ?", 1),
				"last_order_id": orderID,
				"updated_at":    time.Now(),
			}),
		}).Create(record).Error
		if err != nil {
			return err
		}

		var stored model.SubscriptionCycle
		if err := tx.Where("subscription_key = ?", record.SubscriptionKey).First(&stored).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.ProcessedOrder{}).
			Where("order_id = ?", orderID).
			Updates(map[string]interface{}{
				"cycle":      stored.Cycle,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}

		cycle = stored.Cycle
		applied = true
		return nil
	})
	if err != nil {
		return 0, false, apperror.Store("increment subscription cycle", err)
	}

	return cycle, applied, nil
}

// GetProcessedOrder returns (nil, nil) for an order never seen.
func (r *cycleRepoImpl) GetProcessedOrder(ctx context.Context, orderID string) (*model.ProcessedOrder, error) {
	var processed model.ProcessedOrder
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&processed).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperror.Store("get processed order", err)
	}

	return &processed, nil
}
