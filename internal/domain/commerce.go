package domain

import "time"

// Order is a storefront order as returned by the order-lookup tools.
type Order struct {
	ID              string       `json:"id"`
	OrderNumber     string       `json:"order_number"`
	CustomerEmail   string       `json:"customer_email"`
	CustomerName    string       `json:"customer_name,omitempty"`
	Status          string       `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	TotalPrice      string       `json:"total_price"`
	Currency        string       `json:"currency"`
	LineItems       []LineItem   `json:"line_items"`
	ShippingAddress *Address     `json:"shipping_address,omitempty"`
	Fulfillment     *Fulfillment `json:"fulfillment,omitempty"`
}

// LineItem is one product line of an order.
type LineItem struct {
	Title    string `json:"title"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// Address is a postal address.
type Address struct {
	Name     string `json:"name,omitempty"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city"`
	Province string `json:"province,omitempty"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
}

// Fulfillment is the shipping state of an order.
type Fulfillment struct {
	Status            string     `json:"status"`
	Carrier           string     `json:"carrier,omitempty"`
	TrackingNumber    string     `json:"tracking_number,omitempty"`
	TrackingURL       string     `json:"tracking_url,omitempty"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	EstimatedDelivery string     `json:"estimated_delivery,omitempty"`
}
