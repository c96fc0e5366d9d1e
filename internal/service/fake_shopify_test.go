package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"subscription-cycle-sync/internal/apperror"
	"subscription-cycle-sync/internal/cycle"
	"subscription-cycle-sync/internal/model"
)

// fakeShopify is an in-memory order source. Orders are listed in the order
// they were added.
type fakeShopify struct {
	mu         sync.Mutex
	ids        []string
	orders     map[string]*model.Order
	metafields map[string]string

	pageSize    int
	pageErrors  map[int]error      // page index -> error
	updateErrs  map[string][]error // order id -> queued errors
	historyErrs map[string]error   // customer id -> error
	pageDelay   time.Duration
	onPage      func(index int)

	updates       []model.OrderUpdate
	pageCalls     int
	metafieldSets int
}

func newFakeShopify() *fakeShopify {
	return &fakeShopify{
		orders:      map[string]*model.Order{},
		metafields:  map[string]string{},
		pageSize:    20,
		pageErrors:  map[int]error{},
		updateErrs:  map[string][]error{},
		historyErrs: map[string]error{},
	}
}

func (f *fakeShopify) add(orders ...*model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range orders {
		f.ids = append(f.ids, o.ID)
		f.orders[o.ID] = o
	}
}

func (f *fakeShopify) order(id string) *model.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyOrder(f.orders[id])
}

func (f *fakeShopify) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func copyOrder(o *model.Order) *model.Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Tags = append([]string(nil), o.Tags...)
	c.LineItems = append([]model.LineItem(nil), o.LineItems...)
	return &c
}

func (f *fakeShopify) FetchOrdersPage(ctx context.Context, filter, cursor string) (*model.OrderPage, error) {
	index := 0
	if cursor != "" {
		index, _ = strconv.Atoi(cursor)
	}
	if f.onPage != nil {
		f.onPage(index)
	}
	time.Sleep(f.pageDelay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++

	if err, ok := f.pageErrors[index]; ok {
		return nil, err
	}

	start := index * f.pageSize
	end := min(start+f.pageSize, len(f.ids))
	page := &model.OrderPage{}
	for _, id := range f.ids[start:end] {
		page.Orders = append(page.Orders, copyOrder(f.orders[id]))
	}
	if end < len(f.ids) {
		page.HasNextPage = true
		page.EndCursor = strconv.Itoa(index + 1)
	}
	return page, nil
}

func (f *fakeShopify) FetchOrdersForCustomer(ctx context.Context, customerID string) ([]*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.historyErrs[cycle.NumericID(customerID)]; ok {
		return nil, err
	}

	var out []*model.Order
	for _, id := range f.ids {
		o := f.orders[id]
		if cycle.NumericID(o.CustomerID) == cycle.NumericID(customerID) {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

func (f *fakeShopify) FetchOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found: %w", orderID, apperror.ErrSourceProtocol)
	}
	return copyOrder(o), nil
}

func (f *fakeShopify) UpdateOrder(ctx context.Context, update model.OrderUpdate) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if queued := f.updateErrs[update.ID]; len(queued) > 0 {
		f.updateErrs[update.ID] = queued[1:]
		return nil, queued[0]
	}

	o, ok := f.orders[update.ID]
	if !ok {
		return nil, apperror.UserErrors{{Field: []string{"id"}, Message: "Order does not exist"}}
	}
	f.updates = append(f.updates, update)
	o.Tags = append([]string(nil), update.Tags...)
	o.Note = update.Note
	return copyOrder(o), nil
}

func (f *fakeShopify) GetCustomerMetafield(ctx context.Context, customerID, namespace, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metafields[customerID+"|"+namespace+"."+key], nil
}

func (f *fakeShopify) SetCustomerMetafield(ctx context.Context, customerID, namespace, key, jsonValue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metafieldSets++
	f.metafields[customerID+"|"+namespace+"."+key] = jsonValue
	return nil
}
