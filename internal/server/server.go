package server

import (
	"context"
	"log/slog"
	"net/http"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/handler"
	appmiddleware "subscription-cycle-sync/internal/middleware"
	"subscription-cycle-sync/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// webhook deliveries are a single order payload
const webhookBodyLimit = "1M"

type Server struct {
	echo           *echo.Echo
	shop           config.Shop
	adminHandler   *handler.AdminHandler
	webhookHandler *handler.WebhookHandler
}

func NewServer(shop config.Shop, syncService service.SyncService, webhookService service.WebhookService, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:           e,
		shop:           shop,
		adminHandler:   handler.NewAdminHandler(syncService, logger),
		webhookHandler: handler.NewWebhookHandler(webhookService, logger),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// -------- admin --------
	admin := s.echo.Group("/admin/syncsubscription")
	admin.GET("/api", s.adminHandler.MethodNotAllowed)
	admin.POST("/api", s.adminHandler.SyncSubscriptions, appmiddleware.SessionAuth(s.shop))
	admin.GET("/runs", s.adminHandler.ListRuns, appmiddleware.SessionAuth(s.shop))

	// -------- webhooks --------
	webhooks := s.echo.Group("/webhooks",
		middleware.BodyLimit(webhookBodyLimit),
		appmiddleware.WebhookHMAC(s.shop.WebhookSecret),
	)
	webhooks.POST("/orders/create", s.webhookHandler.OrdersCreate)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
