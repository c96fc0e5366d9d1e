package model

import (
	"time"

	"gorm.io/datatypes"
)

// SubscriptionCycle is the last known cycle of one recurring-order stream,
// keyed by shop + customer + selling plan.
type SubscriptionCycle struct {
	SubscriptionKey string `gorm:"primaryKey;size:255;not null"` // shop:{shop}::cust:{customer}::sp:{selling plan}
	Shop            string `gorm:"size:128;index;not null"`
	CustomerID      string `gorm:"size:64;index;not null"` // numeric customer id
	SellingPlanID   string `gorm:"size:128;not null"`
	ProductID       string `gorm:"size:128"`
	VariantID       string `gorm:"size:128"`
	Cycle           int    `gorm:"not null"`
	LastOrderID     string `gorm:"size:128"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProcessedOrder records the cycle assigned to an order. The order id is the
// idempotency key of the incremental path.
type ProcessedOrder struct {
	OrderID         string `gorm:"primaryKey;size:128;not null"`
	SubscriptionKey string `gorm:"size:255;index;not null"`
	Cycle           int    `gorm:"not null"`
	Source          string `gorm:"size:16;not null"` // WEBHOOK, BATCH
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"` // X-Shopify-Webhook-Id
	Topic       string `gorm:"size:64;index"`
	OrderID     string `gorm:"size:128;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}

type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "RUNNING"
	SyncRunSucceeded SyncRunStatus = "SUCCEEDED"
	SyncRunFailed    SyncRunStatus = "FAILED"
)

type SyncRun struct {
	ID              string                      `gorm:"primaryKey;size:36;not null"`
	Shop            string                      `gorm:"size:128;index;not null"`
	Trigger         string                      `gorm:"size:16;not null"` // ADMIN, CLI
	Status          SyncRunStatus               `gorm:"size:16;index;not null"`
	ProcessedOrders int                         `gorm:"not null"`
	Errors          datatypes.JSONSlice[string] `gorm:"type:json"`
	Message         string                      `gorm:"size:512"`
	Error           string                      `gorm:"type:text"`
	StartedAt       time.Time                   `gorm:"index"`
	FinishedAt      *time.Time
}

// SyncLock is a named lease; at most one row per name.
type SyncLock struct {
	Name      string `gorm:"primaryKey;size:64;not null"`
	Holder    string `gorm:"size:36;not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}
