package storefront

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// RateLimited guards a provider with a token bucket. Calls made while the
// bucket is empty fail fast with domain.ErrRateLimited instead of queueing.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls with the given burst. A non-positive
// perSecond disables limiting.
func NewRateLimited(next Provider, perSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) allow() error {
	if !r.limiter.Allow() {
		return domain.ErrRateLimited
	}
	return nil
}

func (r *RateLimited) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	if err := r.allow(); err != nil {
		return nil, err
	}
	return r.next.GetOrder(ctx, orderNumber)
}

func (r *RateLimited) FindLatestOrder(ctx context.Context, email string) (*domain.Order, error) {
	if err := r.allow(); err != nil {
		return nil, err
	}
	return r.next.FindLatestOrder(ctx, email)
}

func (r *RateLimited) GetFulfillment(ctx context.Context, orderNumber string) (*domain.Fulfillment, error) {
	if err := r.allow(); err != nil {
		return nil, err
	}
	return r.next.GetFulfillment(ctx, orderNumber)
}

func (r *RateLimited) GetCustomerOrders(ctx context.Context, email string, limit int) ([]domain.Order, error) {
	if err := r.allow(); err != nil {
		return nil, err
	}
	return r.next.GetCustomerOrders(ctx, email, limit)
}
