package service

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"subscription-cycle-sync/internal/client"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/dto"
	"subscription-cycle-sync/internal/logger"
	"subscription-cycle-sync/internal/model"
	"subscription-cycle-sync/internal/repository"
)

var t0 = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	db          *gorm.DB
	shop        config.Shop
	syncCfg     config.Sync
	shopify     *fakeShopify
	cycleRepo   repository.CycleRepository
	syncRunRepo repository.SyncRunRepository
	sync        SyncService
	webhook     WebhookService
}

func newFixture(t *testing.T, mutate ...func(*config.Sync)) *fixture {
	t.Helper()

	db, err := client.InitDBClient(config.Database{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, client.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	shop := config.Shop{Name: "acme", AccessToken: "shpat_test"}
	syncCfg := config.Sync{
		OrderFilter:        "financial_status:paid",
		LockTTL:            time.Minute,
		WebhookStrategy:    StrategyIncremental,
		MetafieldNamespace: "seryni",
		MetafieldKey:       "purchased_products",
	}
	for _, m := range mutate {
		m(&syncCfg)
	}

	f := &fixture{
		db:          db,
		shop:        shop,
		syncCfg:     syncCfg,
		shopify:     newFakeShopify(),
		cycleRepo:   repository.NewCycleRepository(db),
		syncRunRepo: repository.NewSyncRunRepository(db),
	}
	log := logger.Discard()
	resolver := NewCycleResolver(shop, f.shopify, f.cycleRepo)
	tagger := NewTagService(f.shopify, syncCfg, log)
	f.sync = NewSyncService(shop, syncCfg, f.shopify, resolver, tagger, f.cycleRepo, f.syncRunRepo, log)
	f.webhook = NewWebhookService(shop, syncCfg, f.shopify, resolver, tagger, f.cycleRepo,
		repository.NewWebhookEventRepository(db), log)
	return f
}

func orderID(n int) string {
	return fmt.Sprintf("gid://shopify/Order/%d", n)
}

func customerGID(n int) string {
	return fmt.Sprintf("gid://shopify/Customer/%d", n)
}

// subOrder builds an order for customer with one selling-plan line.
func subOrder(id, customer int, plan string, at time.Duration, tags ...string) *model.Order {
	return &model.Order{
		ID:         orderID(id),
		CreatedAt:  t0.Add(at),
		Tags:       tags,
		CustomerID: customerGID(customer),
		LineItems: []model.LineItem{{
			SellingPlanID: plan,
			ProductID:     "gid://shopify/Product/100",
			VariantID:     "gid://shopify/ProductVariant/1000",
		}},
	}
}

func oneTimeOrder(id, customer int, products ...string) *model.Order {
	o := &model.Order{
		ID:         orderID(id),
		CreatedAt:  t0,
		CustomerID: customerGID(customer),
	}
	for _, p := range products {
		o.LineItems = append(o.LineItems, model.LineItem{ProductID: p})
	}
	return o
}

func delivery(eventID string, order int) dto.WebhookDelivery {
	body, _ := json.Marshal(model.OrderWebhookPayload{
		ID:                int64(order),
		AdminGraphqlAPIID: orderID(order),
	})
	return dto.WebhookDelivery{EventID: eventID, Topic: TopicOrdersCreate, Body: body}
}
