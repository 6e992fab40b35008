package storefront

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/soyeahso/helpdesk/internal/domain"
)

//go:embed data/sample_orders.json
var sampleOrders []byte

// MockProvider serves orders from a JSON file held in memory.
type MockProvider struct {
	orders []domain.Order
}

// NewMockProvider loads orders from path, or the bundled sample when path is
// empty.
func NewMockProvider(path string) (*MockProvider, error) {
	data := sampleOrders
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading orders file: %w", err)
		}
		data = b
	}
	var orders []domain.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("decoding orders: %w", err)
	}
	return &MockProvider{orders: orders}, nil
}

// NewMockProviderFromOrders is used by tests.
func NewMockProviderFromOrders(orders []domain.Order) *MockProvider {
	return &MockProvider{orders: orders}
}

func (m *MockProvider) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := NormalizeOrderNumber(orderNumber)
	if want == "" {
		return nil, domain.ErrNotFound
	}
	for i := range m.orders {
		if NormalizeOrderNumber(m.orders[i].OrderNumber) == want {
			o := m.orders[i]
			return &o, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockProvider) FindLatestOrder(ctx context.Context, email string) (*domain.Order, error) {
	orders, err := m.GetCustomerOrders(ctx, email, 1)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.ErrNotFound
	}
	return &orders[0], nil
}

// GetFulfillment returns ErrNotFound for unknown orders and (nil, nil) for
// orders that have not shipped.
func (m *MockProvider) GetFulfillment(ctx context.Context, orderNumber string) (*domain.Fulfillment, error) {
	o, err := m.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return o.Fulfillment, nil
}

// GetCustomerOrders returns the customer's orders, newest first.
func (m *MockProvider) GetCustomerOrders(ctx context.Context, email string, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	var out []domain.Order
	for _, o := range m.orders {
		if email != "" && strings.EqualFold(o.CustomerEmail, email) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
