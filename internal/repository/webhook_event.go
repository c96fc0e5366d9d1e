package repository

import (
	"context"
	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventRepository interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, topic, orderID string) error
}

type webhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepositoryImpl{db: db}
}

func (r *webhookEventRepositoryImpl) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, apperror.Store("check webhook event", err)
	}

	return count > 0, nil
}

func (r *webhookEventRepositoryImpl) MarkProcessed(ctx context.Context, eventID, topic, orderID string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model.WebhookEvent{
		EventID:     eventID,
		Topic:       topic,
		OrderID:     orderID,
		ProcessedAt: time.Now(),
	}).Error

	return apperror.Store("mark webhook event processed", err)
}
