package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/cycle"
	"subscription-cycle-sync/internal/dto"
)

func TestWebhook_FirstOrderGetsGift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.shopify.add(subOrder(1, 42, "SP2", 0, "vip"))

	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 1)))

	o := f.shopify.order(orderID(1))
	assert.Equal(t, []string{"vip", "Monthly-Free-Gift"}, o.Tags)
	assert.Equal(t, "Monthly-Free-Gift", o.Note)

	record, err := f.cycleRepo.Get(ctx, cycle.SubscriptionKey("acme", "42", "SP2"))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1, record.Cycle)
	assert.Equal(t, "gid://shopify/Product/100", record.ProductID)
	assert.Equal(t, "gid://shopify/ProductVariant/1000", record.VariantID)
}

func TestWebhook_SubsequentOrdersIncrement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.shopify.add(
		subOrder(1, 42, "SP2", 1*time.Hour),
		subOrder(2, 42, "SP2", 2*time.Hour),
		subOrder(3, 42, "SP2", 3*time.Hour),
	)

	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 1)))
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-2", 2)))
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-3", 3)))

	assert.Equal(t, cycle.GiftTag, f.shopify.order(orderID(1)).Note)
	assert.Equal(t, "Monthly-order-2-no-Gifts", f.shopify.order(orderID(2)).Note)
	assert.Equal(t, "Monthly-order-3-no-Gifts", f.shopify.order(orderID(3)).Note)
}

func TestWebhook_RedeliveredEventIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.shopify.add(subOrder(1, 42, "SP2", 0))

	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 1)))
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 1)))

	assert.Equal(t, 1, f.shopify.updateCount())
	record, err := f.cycleRepo.Get(ctx, cycle.SubscriptionKey("acme", "42", "SP2"))
	require.NoError(t, err)
	assert.Equal(t, 1, record.Cycle)
}

func TestWebhook_SameOrderNewEventDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.shopify.add(subOrder(1, 42, "SP2", 0))

	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 1)))
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-retry", 1)))

	record, err := f.cycleRepo.Get(ctx, cycle.SubscriptionKey("acme", "42", "SP2"))
	require.NoError(t, err)
	assert.Equal(t, 1, record.Cycle)
	assert.Equal(t, []string{cycle.GiftTag}, f.shopify.order(orderID(1)).Tags)
}

func TestWebhook_ConcurrentDeliveriesOfSameOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.shopify.add(subOrder(1, 42, "SP2", 0))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("", 1)))
		}()
	}
	wg.Wait()

	record, err := f.cycleRepo.Get(ctx, cycle.SubscriptionKey("acme", "42", "SP2"))
	require.NoError(t, err)
	assert.Equal(t, 1, record.Cycle)
	assert.Equal(t, cycle.GiftTag, f.shopify.order(orderID(1)).Note)
}

func TestWebhook_OneTimeOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.shopify.add(oneTimeOrder(1, 42, "gid://shopify/Product/2", "gid://shopify/Product/3", "gid://shopify/Product/2"))
	f.shopify.metafields[customerGID(42)+"|seryni.purchased_products"] = `["gid://shopify/Product/1","gid://shopify/Product/2"]`

	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 1)))

	o := f.shopify.order(orderID(1))
	assert.Equal(t, []string{cycle.OneTimeTag}, o.Tags)
	assert.Equal(t, cycle.OneTimeTag, o.Note)

	var purchased []string
	require.NoError(t, json.Unmarshal([]byte(f.shopify.metafields[customerGID(42)+"|seryni.purchased_products"]), &purchased))
	assert.Equal(t, []string{"gid://shopify/Product/1", "gid://shopify/Product/2", "gid://shopify/Product/3"}, purchased)

	record, err := f.cycleRepo.Get(ctx, cycle.SubscriptionKey("acme", "42", ""))
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestWebhook_OneTimeOrderWithUnreadableMetafield(t *testing.T) {
	f := newFixture(t)
	f.shopify.add(oneTimeOrder(1, 42, "gid://shopify/Product/2"))
	f.shopify.metafields[customerGID(42)+"|seryni.purchased_products"] = `not json`

	require.NoError(t, f.webhook.HandleOrderCreated(context.Background(), delivery("evt-1", 1)))
	assert.Equal(t, `["gid://shopify/Product/2"]`, f.shopify.metafields[customerGID(42)+"|seryni.purchased_products"])
}

func TestWebhook_OneTimeOrderWithoutCustomer(t *testing.T) {
	f := newFixture(t)
	o := oneTimeOrder(1, 42, "gid://shopify/Product/2")
	o.CustomerID = ""
	f.shopify.add(o)

	require.NoError(t, f.webhook.HandleOrderCreated(context.Background(), delivery("evt-1", 1)))
	assert.Equal(t, cycle.OneTimeTag, f.shopify.order(orderID(1)).Note)
	assert.Equal(t, 0, f.shopify.metafieldSets)
}

func TestWebhook_NoSession(t *testing.T) {
	f := newFixture(t)
	svc := f.webhook.(*webhookServiceImpl)
	svc.shop = config.Shop{Name: "acme"}

	err := f.webhook.HandleOrderCreated(context.Background(), delivery("evt-1", 1))
	assert.ErrorIs(t, err, apperror.ErrNoSession)
	assert.True(t, IsNoSession(err))
}

func TestWebhook_PayloadWithoutGID(t *testing.T) {
	f := newFixture(t)

	err := f.webhook.HandleOrderCreated(context.Background(), dto.WebhookDelivery{
		EventID: "evt-1",
		Topic:   TopicOrdersCreate,
		Body:    []byte(`{"id": 1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.shopify.updateCount())
}

func TestWebhook_FetchFailureIsReturnedAndNotMarked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 99))
	assert.ErrorIs(t, err, apperror.ErrSourceProtocol)

	// once the order exists, a redelivery of the same event is processed
	f.shopify.add(subOrder(99, 42, "SP2", 0))
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 99)))
	assert.Equal(t, cycle.GiftTag, f.shopify.order(orderID(99)).Note)
}

func TestWebhook_RecountStrategy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(s *config.Sync) { s.WebhookStrategy = StrategyRecount })
	f.shopify.add(
		subOrder(1, 42, "SP2", 1*time.Hour),
		subOrder(2, 42, "SP2", 2*time.Hour),
	)

	// delivered twice and out of order: the result depends only on history
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-2", 2)))
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-2b", 2)))
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-1", 1)))

	assert.Equal(t, cycle.Tag(2), f.shopify.order(orderID(2)).Note)
	assert.Equal(t, cycle.GiftTag, f.shopify.order(orderID(1)).Note)
}

func TestWebhookAndBatchConverge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.shopify.add(
		subOrder(1, 42, "SP1", 1*time.Hour),
		subOrder(2, 42, "SP1", 2*time.Hour),
		subOrder(3, 42, "SP1", 3*time.Hour),
	)

	for i, evt := range []string{"evt-1", "evt-2", "evt-3"} {
		require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery(evt, i+1)))
	}
	incremental := map[int]string{}
	for i := 1; i <= 3; i++ {
		incremental[i] = f.shopify.order(orderID(i)).Note
	}

	_, err := f.sync.Run(ctx, TriggerAdmin)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, incremental[i], f.shopify.order(orderID(i)).Note)
	}

	// a late redelivery after the batch recount does not bump the cycle
	require.NoError(t, f.webhook.HandleOrderCreated(ctx, delivery("evt-3-late", 3)))
	record, err := f.cycleRepo.Get(ctx, cycle.SubscriptionKey("acme", "42", "SP1"))
	require.NoError(t, err)
	assert.Equal(t, 3, record.Cycle)
	assert.Equal(t, cycle.Tag(3), f.shopify.order(orderID(3)).Note)
}
