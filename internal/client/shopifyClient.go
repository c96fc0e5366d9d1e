package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/config"
	"subscription-cycle-sync/internal/cycle"
	"subscription-cycle-sync/internal/metrics"
	"subscription-cycle-sync/internal/model"
	"time"

	"golang.org/x/time/rate"
)

// ShopifyClient is the order source: paginated order reads, order tag/note
// writes and customer metafields on the Admin GraphQL API.
type ShopifyClient interface {
	FetchOrdersPage(ctx context.Context, filter, cursor string) (*model.OrderPage, error)
	FetchOrdersForCustomer(ctx context.Context, customerID string) ([]*model.Order, error)
	FetchOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrder(ctx context.Context, update model.OrderUpdate) (*model.Order, error)

	// GetCustomerMetafield returns "" when the metafield does not exist.
	GetCustomerMetafield(ctx context.Context, customerID, namespace, key string) (string, error)
	SetCustomerMetafield(ctx context.Context, customerID, namespace, key, jsonValue string) error
}

type shopifyClientImpl struct {
	httpClient  *http.Client
	endpoint    string
	accessToken string
	timeout     time.Duration
	limiter     *rate.Limiter

	pageSize         int
	pageLineItems    int
	historyPageSize  int
	historyLineItems int
}

func NewShopifyClient(shopCfg config.Shop, syncCfg config.Sync) ShopifyClient {
	baseURL := shopCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + shopCfg.Domain()
	}

	limit := rate.Inf
	if shopCfg.RequestsPerSecond > 0 {
		limit = rate.Limit(shopCfg.RequestsPerSecond)
	}
	burst := shopCfg.RequestBurst
	if burst < 1 {
		burst = 1
	}

	return &shopifyClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		endpoint:         fmt.Sprintf("%s/admin/api/%s/graphql.json", strings.TrimRight(baseURL, "/"), shopCfg.APIVersion),
		accessToken:      shopCfg.AccessToken,
		timeout:          shopCfg.RequestTimeout,
		limiter:          rate.NewLimiter(limit, burst),
		pageSize:         orDefault(syncCfg.PageSize, 20),
		pageLineItems:    orDefault(syncCfg.PageLineItems, 10),
		historyPageSize:  orDefault(syncCfg.HistoryPageSize, 250),
		historyLineItems: orDefault(syncCfg.HistoryLineItems, 50),
	}
}

const orderFields = `
	id
	createdAt
	tags
	note
	customer { id }
	lineItems(first: $lineItems) {
		edges {
			node {
				sellingPlan { sellingPlanId }
				variant {
					id
					product { id }
				}
			}
		}
	}
`

const ordersPageQuery = `
	query ($cursor: String, $first: Int!, $lineItems: Int!, $query: String) {
		orders(first: $first, after: $cursor, query: $query) {
			edges { node {` + orderFields + `} }
			pageInfo { hasNextPage endCursor }
		}
	}
`

const customerOrdersQuery = `
	query ($cursor: String, $first: Int!, $lineItems: Int!, $query: String) {
		orders(first: $first, after: $cursor, query: $query, sortKey: CREATED_AT) {
			edges { node {` + orderFields + `} }
			pageInfo { hasNextPage endCursor }
		}
	}
`

const orderByIDQuery = `
	query getOrder($id: ID!, $lineItems: Int!) {
		order(id: $id) {` + orderFields + `}
	}
`

const orderUpdateMutation = `
	mutation orderUpdate($input: OrderInput!) {
		orderUpdate(input: $input) {
			order { id tags note }
			userErrors { field message }
		}
	}
`

const customerMetafieldQuery = `
	query ($id: ID!, $namespace: String!, $key: String!) {
		customer(id: $id) {
			metafield(namespace: $namespace, key: $key) {
				id
				value
			}
		}
	}
`

const metafieldsSetMutation = `
	mutation metafieldsSet($metafields: [MetafieldsSetInput!]!) {
		metafieldsSet(metafields: $metafields) {
			metafields { id key namespace value }
			userErrors { field message }
		}
	}
`

type gqlLineItem struct {
	SellingPlan *struct {
		SellingPlanID string `json:"sellingPlanId"`
	} `json:"sellingPlan"`
	Variant *struct {
		ID      string `json:"id"`
		Product *struct {
			ID string `json:"id"`
		} `json:"product"`
	} `json:"variant"`
}

type gqlOrder struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Tags      []string  `json:"tags"`
	Note      *string   `json:"note"`
	Customer  *struct {
		ID string `json:"id"`
	} `json:"customer"`
	LineItems struct {
		Edges []struct {
			Node gqlLineItem `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
}

type gqlOrderConnection struct {
	Edges []struct {
		Node gqlOrder `json:"node"`
	} `json:"edges"`
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
}

type gqlError struct {
	Message string `json:"message"`
}

func (o *gqlOrder) toModel() *model.Order {
	order := &model.Order{
		ID:        o.ID,
		CreatedAt: o.CreatedAt,
		Tags:      o.Tags,
	}
	if o.Note != nil {
		order.Note = *o.Note
	}
	if o.Customer != nil {
		order.CustomerID = o.Customer.ID
	}
	for _, edge := range o.LineItems.Edges {
		var li model.LineItem
		if edge.Node.SellingPlan != nil {
			li.SellingPlanID = edge.Node.SellingPlan.SellingPlanID
		}
		if v := edge.Node.Variant; v != nil {
			li.VariantID = v.ID
			if v.Product != nil {
				li.ProductID = v.Product.ID
			}
		}
		order.LineItems = append(order.LineItems, li)
	}
	return order
}

func (c *gqlOrderConnection) toModel() *model.OrderPage {
	page := &model.OrderPage{
		Orders:      make([]*model.Order, 0, len(c.Edges)),
		HasNextPage: c.PageInfo.HasNextPage,
		EndCursor:   c.PageInfo.EndCursor,
	}
	for i := range c.Edges {
		page.Orders = append(page.Orders, c.Edges[i].Node.toModel())
	}
	return page
}

func (c *shopifyClientImpl) FetchOrdersPage(ctx context.Context, filter, cursor string) (*model.OrderPage, error) {
	var data struct {
		Orders gqlOrderConnection `json:"orders"`
	}
	err := c.do(ctx, "orders_page", ordersPageQuery, map[string]any{
		"cursor":    nullable(cursor),
		"first":     c.pageSize,
		"lineItems": c.pageLineItems,
		"query":     filter,
	}, &data)
	if err != nil {
		return nil, err
	}

	return data.Orders.toModel(), nil
}

func (c *shopifyClientImpl) FetchOrdersForCustomer(ctx context.Context, customerID string) ([]*model.Order, error) {
	search := "customer_id:" + cycle.NumericID(customerID)

	var (
		orders []*model.Order
		cursor string
	)
	for {
		var data struct {
			Orders gqlOrderConnection `json:"orders"`
		}
		err := c.do(ctx, "customer_orders", customerOrdersQuery, map[string]any{
			"cursor":    nullable(cursor),
			"first":     c.historyPageSize,
			"lineItems": c.historyLineItems,
			"query":     search,
		}, &data)
		if err != nil {
			return nil, fmt.Errorf("fetch orders for customer %s: %w", customerID, err)
		}

		page := data.Orders.toModel()
		orders = append(orders, page.Orders...)
		if !page.HasNextPage || page.EndCursor == "" {
			return orders, nil
		}
		cursor = page.EndCursor
	}
}

func (c *shopifyClientImpl) FetchOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	var data struct {
		Order *gqlOrder `json:"order"`
	}
	err := c.do(ctx, "order", orderByIDQuery, map[string]any{
		"id":        orderID,
		"lineItems": c.historyLineItems,
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.Order == nil {
		return nil, fmt.Errorf("order %s not found: %w", orderID, apperror.ErrSourceProtocol)
	}

	return data.Order.toModel(), nil
}

func (c *shopifyClientImpl) UpdateOrder(ctx context.Context, update model.OrderUpdate) (*model.Order, error) {
	var data struct {
		OrderUpdate struct {
			Order *struct {
				ID   string   `json:"id"`
				Tags []string `json:"tags"`
				Note *string  `json:"note"`
			} `json:"order"`
			UserErrors apperror.UserErrors `json:"userErrors"`
		} `json:"orderUpdate"`
	}
	err := c.do(ctx, "order_update", orderUpdateMutation, map[string]any{
		"input": update,
	}, &data)
	if err != nil {
		return nil, err
	}
	if len(data.OrderUpdate.UserErrors) > 0 {
		return nil, data.OrderUpdate.UserErrors
	}

	updated := &model.Order{ID: update.ID, Tags: update.Tags, Note: update.Note}
	if o := data.OrderUpdate.Order; o != nil {
		updated.ID = o.ID
		updated.Tags = o.Tags
		if o.Note != nil {
			updated.Note = *o.Note
		}
	}
	return updated, nil
}

func (c *shopifyClientImpl) GetCustomerMetafield(ctx context.Context, customerID, namespace, key string) (string, error) {
	var data struct {
		Customer *struct {
			Metafield *struct {
				ID    string `json:"id"`
				Value string `json:"value"`
			} `json:"metafield"`
		} `json:"customer"`
	}
	err := c.do(ctx, "customer_metafield", customerMetafieldQuery, map[string]any{
		"id":        customerID,
		"namespace": namespace,
		"key":       key,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.Customer == nil || data.Customer.Metafield == nil {
		return "", nil
	}

	return data.Customer.Metafield.Value, nil
}

func (c *shopifyClientImpl) SetCustomerMetafield(ctx context.Context, customerID, namespace, key, jsonValue string) error {
	var data struct {
		MetafieldsSet struct {
			UserErrors apperror.UserErrors `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	err := c.do(ctx, "metafields_set", metafieldsSetMutation, map[string]any{
		"metafields": []map[string]string{
			{
				"namespace": namespace,
				"key":       key,
				"type":      "json",
				"ownerId":   customerID,
				"value":     jsonValue,
			},
		},
	}, &data)
	if err != nil {
		return err
	}
	if len(data.MetafieldsSet.UserErrors) > 0 {
		return data.MetafieldsSet.UserErrors
	}

	return nil
}

// do posts one GraphQL operation and decodes its data into out.
func (c *shopifyClientImpl) do(ctx context.Context, operation, query string, variables map[string]any, out any) (err error) {
	defer func() {
		result := "success"
		switch {
		case errors.Is(err, apperror.ErrSourceUnavailable):
			result = "unavailable"
		case errors.Is(err, apperror.ErrSourceProtocol):
			result = "protocol_error"
		}
		metrics.PlatformRequests.WithLabelValues(operation, result).Inc()
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w: %w", operation, apperror.ErrSourceUnavailable, err)
	}

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("marshal req payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", operation, apperror.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w: %w", operation, apperror.ErrSourceUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: shopify status=%d body=%s: %w",
			operation, resp.StatusCode, truncate(respBody, 512), apperror.ErrSourceUnavailable)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w: %w", operation, apperror.ErrSourceProtocol, err)
	}
	if len(envelope.Errors) > 0 {
		msgs, _ := json.Marshal(envelope.Errors)
		return fmt.Errorf("%s: %s: %w", operation, msgs, apperror.ErrSourceProtocol)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%s: empty data: %w", operation, apperror.ErrSourceProtocol)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w: %w", operation, apperror.ErrSourceProtocol, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
