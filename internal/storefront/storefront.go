// Package storefront looks up orders and fulfillments for the support tools.
package storefront

import (
	"context"
	"strings"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// Provider is the read-only storefront surface. Lookups that match nothing
// return domain.ErrNotFound.
type Provider interface {
	GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error)
	FindLatestOrder(ctx context.Context, email string) (*domain.Order, error)
	GetFulfillment(ctx context.Context, orderNumber string) (*domain.Fulfillment, error)
	GetCustomerOrders(ctx context.Context, email string, limit int) ([]domain.Order, error)
}

// NormalizeOrderNumber strips a leading '#' and surrounding space.
func NormalizeOrderNumber(n string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(n), "#"))
}
