package storefront

import (
	"context"
	"errors"
	"testing"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *MockProvider {
	t.Helper()
	p, err := NewMockProvider("")
	require.NoError(t, err)
	return p
}

func TestNormalizeOrderNumber(t *testing.T) {
	assert.Equal(t, "12345", NormalizeOrderNumber("#12345"))
	assert.Equal(t, "12345", NormalizeOrderNumber(" 12345 "))
	assert.Equal(t, "12345", NormalizeOrderNumber("##12345"))
	assert.Equal(t, "", NormalizeOrderNumber("#"))
}

func TestMock_GetOrder(t *testing.T) {
	ctx := context.Background()
	p := sample(t)

	for _, n := range []string{"12345", "#12345", " #12345 "} {
		o, err := p.GetOrder(ctx, n)
		require.NoError(t, err, n)
		assert.Equal(t, "ORD-12345", o.ID)
		assert.Equal(t, "shipped", o.Status)
		require.NotNil(t, o.Fulfillment)
		assert.Equal(t, "1Z999AA10123456784", o.Fulfillment.TrackingNumber)
	}

	_, err := p.GetOrder(ctx, "99999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = p.GetOrder(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMock_GetOrderReturnsCopy(t *testing.T) {
	ctx := context.Background()
	p := sample(t)
	o, err := p.GetOrder(ctx, "12346")
	require.NoError(t, err)
	o.Status = "tampered"

	again, err := p.GetOrder(ctx, "12346")
	require.NoError(t, err)
	assert.Equal(t, "processing", again.Status)
}

func TestMock_CustomerOrders(t *testing.T) {
	ctx := context.Background()
	p := sample(t)

	orders, err := p.GetCustomerOrders(ctx, "JANE.DOE@example.com", 0)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "#12345", orders[0].OrderNumber, "newest first")
	assert.Equal(t, "#12347", orders[1].OrderNumber)

	latest, err := p.FindLatestOrder(ctx, "jane.doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "#12345", latest.OrderNumber)

	_, err = p.FindLatestOrder(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	none, err := p.GetCustomerOrders(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMock_Fulfillment(t *testing.T) {
	ctx := context.Background()
	p := sample(t)

	f, err := p.GetFulfillment(ctx, "#12347")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "delivered", f.Status)
	require.NotNil(t, f.DeliveredAt)

	f, err = p.GetFulfillment(ctx, "12346")
	require.NoError(t, err)
	assert.Nil(t, f, "unshipped order has no fulfillment")

	_, err = p.GetFulfillment(ctx, "424242")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sample(t).GetOrder(ctx, "12345")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimited(t *testing.T) {
	ctx := context.Background()
	p := NewRateLimited(sample(t), 0.001, 2)

	_, err := p.GetOrder(ctx, "12345")
	require.NoError(t, err)
	_, err = p.GetFulfillment(ctx, "12345")
	require.NoError(t, err)

	_, err = p.GetCustomerOrders(ctx, "jane.doe@example.com", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))

	var te *domain.ToolError
	assert.True(t, errors.As(domain.NewToolError("get_order", err), &te))
	assert.Equal(t, domain.ToolErrRateLimited, te.Kind)
}

func TestRateLimitedDisabled(t *testing.T) {
	ctx := context.Background()
	p := NewRateLimited(sample(t), 0, 1)
	for i := 0; i < 50; i++ {
		_, err := p.FindLatestOrder(ctx, "jane.doe@example.com")
		require.NoError(t, err)
	}
}
