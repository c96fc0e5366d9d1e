package handler

import (
	"io"
	"log/slog"
	"net/http"
	"subscription-cycle-sync/internal/dto"
	"subscription-cycle-sync/internal/service"

	"github.com/labstack/echo/v4"
)

const (
	headerTopic     = "X-Shopify-Topic"
	headerWebhookID = "X-Shopify-Webhook-Id"
)

type WebhookHandler struct {
	webhookService service.WebhookService
	logger         *slog.Logger
}

func NewWebhookHandler(webhookService service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

// OrdersCreate acknowledges every delivery it can read. Processing errors
// are logged; redelivery is left to the platform's own retry policy.
func (h *WebhookHandler) OrdersCreate(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	topic := c.Request().Header.Get(headerTopic)
	if topic != "" && topic != service.TopicOrdersCreate {
		h.logger.Info("ignoring webhook topic", "topic", topic)
		return c.String(http.StatusOK, "Ignored")
	}

	err = h.webhookService.HandleOrderCreated(ctx, dto.WebhookDelivery{
		EventID: c.Request().Header.Get(headerWebhookID),
		Topic:   service.TopicOrdersCreate,
		Body:    body,
	})
	if service.IsNoSession(err) {
		return c.String(http.StatusUnauthorized, "No session")
	}
	if err != nil {
		h.logger.Error("Error processing order webhook", "error", err)
	}

	return c.String(http.StatusOK, "OK")
}
