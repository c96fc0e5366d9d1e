package dto

import "time"

// SyncResult is returned by the batch trigger on success-path completion.
type SyncResult struct {
	Success         bool     `json:"success"`
	RunID           string   `json:"runId"`
	ProcessedOrders int      `json:"processedOrders"`
	Errors          []string `json:"errors"`
	Message         string   `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type OrderResult struct {
	OrderID string   `json:"orderId"`
	Cycle   int      `json:"cycle,omitempty"`
	Tags    []string `json:"tags"`
	Note    string   `json:"note"`
}

type SyncRun struct {
	ID              string     `json:"id"`
	Trigger         string     `json:"trigger"`
	Status          string     `json:"status"`
	ProcessedOrders int        `json:"processedOrders"`
	Errors          []string   `json:"errors"`
	Message         string     `json:"message,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// WebhookDelivery is one orders/create delivery as received over HTTP.
type WebhookDelivery struct {
	EventID string
	Topic   string
	Body    []byte
}
