package repository

import (
	"context"
	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const BatchSyncLock = "subscription-batch-sync"

type SyncRunRepository interface {
	Create(ctx context.Context, run *model.SyncRun) error
	Finish(ctx context.Context, run *model.SyncRun) error
	ListRecent(ctx context.Context, shop string, limit int) ([]*model.SyncRun, error)

	// AcquireLock takes the named lease for holder until ttl elapses. It
	// returns apperror.ErrSyncInProgress when another holder has a live lease.
	AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error
	// ExtendLock pushes holder's lease out to now+ttl. It returns
	// apperror.ErrSyncInProgress when holder no longer owns the lease.
	ExtendLock(ctx context.Context, name, holder string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, name, holder string) error
}

type syncRunRepoImpl struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) SyncRunRepository {
	return &syncRunRepoImpl{
		db: db,
	}
}

func (r *syncRunRepoImpl) Create(ctx context.Context, run *model.SyncRun) error {
	return apperror.Store("create sync run", r.db.WithContext(ctx).Create(run).Error)
}

func (r *syncRunRepoImpl) Finish(ctx context.Context, run *model.SyncRun) error {
	err := r.db.WithContext(ctx).
		Model(&model.SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":           run.Status,
			"processed_orders": run.ProcessedOrders,
			"errors":           run.Errors,
			"message":          run.Message,
			"error":            run.Error,
			"finished_at":      run.FinishedAt,
		}).Error

	return apperror.Store("finish sync run", err)
}

func (r *syncRunRepoImpl) ListRecent(ctx context.Context, shop string, limit int) ([]*model.SyncRun, error) {
	var runs []*model.SyncRun
	err := r.db.WithContext(ctx).
		Where("shop = ?", shop).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, apperror.Store("list sync runs", err)
	}

	return runs, nil
}

func (r *syncRunRepoImpl) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// an expired lease belongs to a run that died without releasing it
		if err := tx.Where("name = ? AND expires_at < ?", name, now).
			Delete(&model.SyncLock{}).Error; err != nil {
			return apperror.Store("expire sync lock", err)
		}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.SyncLock{
			Name:      name,
			Holder:    holder,
			ExpiresAt: now.Add(ttl),
		})
		if result.Error != nil {
			return apperror.Store("acquire sync lock", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperror.ErrSyncInProgress
		}
		return nil
	})

	return err
}

func (r *syncRunRepoImpl) ExtendLock(ctx context.Context, name, holder string, ttl time.Duration) error {
	result := r.db.WithContext(ctx).
		Model(&model.SyncLock{}).
		Where("name = ? AND holder = ?", name, holder).
		Update("expires_at", time.Now().Add(ttl))
	if result.Error != nil {
		return apperror.Store("extend sync lock", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.ErrSyncInProgress
	}
	return nil
}

func (r *syncRunRepoImpl) ReleaseLock(ctx context.Context, name, holder string) error {
	err := r.db.WithContext(ctx).
		Where("name = ? AND holder = ?", name, holder).
		Delete(&model.SyncLock{}).Error

	return apperror.Store("release sync lock", err)
}
