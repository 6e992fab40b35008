package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/knowledge"
	"github.com/soyeahso/helpdesk/internal/storefront"
)

// Built-in tool names.
const (
	ToolSearchKnowledgeBase = "search_knowledge_base"
	ToolGetOrder            = "get_order"
	ToolGetFulfillment      = "get_fulfillment"
	ToolGetCustomerOrders   = "get_customer_orders"
	ToolEscalateToHuman     = "escalate_to_human"
)

// KnowledgeSearcher is the retrieval capability behind search_knowledge_base.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query, category string, k int) ([]domain.KnowledgeChunk, error)
	Threshold() float64
}

// EscalationSink creates or refreshes the escalation for an interaction.
type EscalationSink interface {
	Upsert(ctx context.Context, rec domain.EscalationRecord) (*domain.EscalationRecord, error)
}

// RegisterBuiltinTools adds the five support tools to reg.
func RegisterBuiltinTools(reg *ToolRegistry, kb KnowledgeSearcher, shop storefront.Provider, sink EscalationSink) {
	reg.Register(&SearchKnowledgeBaseTool{kb: kb})
	reg.Register(&GetOrderTool{shop: shop})
	reg.Register(&GetFulfillmentTool{shop: shop})
	reg.Register(&GetCustomerOrdersTool{shop: shop})
	reg.Register(&EscalateTool{sink: sink})
}

// --- search_knowledge_base ---

// SearchKnowledgeBaseTool searches FAQs, policies and product information.
type SearchKnowledgeBaseTool struct {
	kb KnowledgeSearcher
}

func (t *SearchKnowledgeBaseTool) Name() string { return ToolSearchKnowledgeBase }

func (t *SearchKnowledgeBaseTool) Description() string {
	return "Search the knowledge base for FAQs, store policies, product information and shipping details. " +
		"Use this for questions about returns, refunds, shipping times, sizing, care and warranty."
}

func (t *SearchKnowledgeBaseTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query describing what information is needed",
			},
			"category": map[string]any{
				"type":        "string",
				"enum":        knowledge.Categories,
				"description": "Optional category filter",
			},
		},
		"required": []string{"query"},
	}
}

type kbResult struct {
	Title    string  `json:"title,omitempty"`
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

func (t *SearchKnowledgeBaseTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Query    string `json:"query"`
		Category string `json:"category"`
	}
	if err := decodeInput(t.Name(), input, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", invalidInput(t.Name(), "query is required")
	}
	category := strings.ToLower(strings.TrimSpace(in.Category))
	if !knowledge.ValidCategory(category) {
		category = ""
	}

	chunks, err := t.kb.Search(ctx, in.Query, category, 0)
	if err != nil {
		return "", err
	}
	if s, ok := RunScopeFrom(ctx); ok {
		s.addChunks(chunks)
	}

	threshold := t.kb.Threshold()
	results := make([]kbResult, 0, len(chunks))
	for _, c := range chunks {
		if c.Score < threshold {
			continue
		}
		results = append(results, kbResult{Title: c.Title, Content: c.Content, Category: c.Category, Score: c.Score})
	}

	out := map[string]any{
		"query":   in.Query,
		"results": results,
		"count":   len(results),
	}
	if len(results) == 0 {
		out["message"] = "No relevant information found in the knowledge base."
	}
	return marshalOutput(out)
}

// --- get_order ---

// GetOrderTool looks up one order by number, or the latest order for an email.
type GetOrderTool struct {
	shop storefront.Provider
}

func (t *GetOrderTool) Name() string { return ToolGetOrder }

func (t *GetOrderTool) Description() string {
	return "Look up an order by order number, or the most recent order for a customer email. " +
		"Returns order status, items, totals and shipping details."
}

func (t *GetOrderTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"order_number": map[string]any{
				"type":        "string",
				"description": "The order number, with or without the leading #",
			},
			"customer_email": map[string]any{
				"type":        "string",
				"description": "Customer email, used when no order number is known",
			},
		},
	}
}

func (t *GetOrderTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		OrderNumber   string `json:"order_number"`
		CustomerEmail string `json:"customer_email"`
	}
	if err := decodeInput(t.Name(), input, &in); err != nil {
		return "", err
	}
	number := storefront.NormalizeOrderNumber(in.OrderNumber)
	email := strings.TrimSpace(in.CustomerEmail)
	if number == "" && email == "" {
		return "", invalidInput(t.Name(), "order_number or customer_email is required")
	}
	markStorefront(ctx)

	var (
		order *domain.Order
		err   error
	)
	if number != "" {
		order, err = t.shop.GetOrder(ctx, number)
	} else {
		order, err = t.shop.FindLatestOrder(ctx, email)
	}
	if errors.Is(err, domain.ErrNotFound) {
		msg := fmt.Sprintf("No order found with number #%s", number)
		if number == "" {
			msg = fmt.Sprintf("No orders found for %s", email)
		}
		return marshalOutput(map[string]any{"found": false, "message": msg})
	}
	if err != nil {
		return "", err
	}
	return marshalOutput(map[string]any{"found": true, "order": order})
}

// --- get_fulfillment ---

// GetFulfillmentTool returns shipping and tracking details for an order.
type GetFulfillmentTool struct {
	shop storefront.Provider
}

func (t *GetFulfillmentTool) Name() string { return ToolGetFulfillment }

func (t *GetFulfillmentTool) Description() string {
	return "Get shipping status, carrier and tracking information for an order."
}

func (t *GetFulfillmentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"order_number": map[string]any{
				"type":        "string",
				"description": "The order number, with or without the leading #",
			},
		},
		"required": []string{"order_number"},
	}
}

func (t *GetFulfillmentTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		OrderNumber string `json:"order_number"`
	}
	if err := decodeInput(t.Name(), input, &in); err != nil {
		return "", err
	}
	number := storefront.NormalizeOrderNumber(in.OrderNumber)
	if number == "" {
		return "", invalidInput(t.Name(), "order_number is required")
	}
	markStorefront(ctx)

	f, err := t.shop.GetFulfillment(ctx, number)
	if errors.Is(err, domain.ErrNotFound) {
		return marshalOutput(map[string]any{"found": false, "message": fmt.Sprintf("No order found with number #%s", number)})
	}
	if err != nil {
		return "", err
	}
	if f == nil {
		return marshalOutput(map[string]any{
			"found":        true,
			"order_number": "#" + number,
			"fulfillment":  nil,
			"message":      fmt.Sprintf("Order #%s has not shipped yet.", number),
		})
	}
	return marshalOutput(map[string]any{"found": true, "order_number": "#" + number, "fulfillment": f})
}

// --- get_customer_orders ---

// GetCustomerOrdersTool lists a customer's orders, newest first.
type GetCustomerOrdersTool struct {
	shop storefront.Provider
}

const defaultCustomerOrders = 5

func (t *GetCustomerOrdersTool) Name() string { return ToolGetCustomerOrders }

func (t *GetCustomerOrdersTool) Description() string {
	return "List recent orders for a customer email address."
}

func (t *GetCustomerOrdersTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_email": map[string]any{
				"type":        "string",
				"description": "The customer's email address",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of orders to return (default 5)",
			},
		},
		"required": []string{"customer_email"},
	}
}

type orderSummary struct {
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	TotalPrice  string `json:"total_price"`
	Currency    string `json:"currency"`
	Items       int    `json:"items"`
}

func (t *GetCustomerOrdersTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		CustomerEmail string `json:"customer_email"`
		Limit         int    `json:"limit"`
	}
	if err := decodeInput(t.Name(), input, &in); err != nil {
		return "", err
	}
	email := strings.TrimSpace(in.CustomerEmail)
	if email == "" {
		return "", invalidInput(t.Name(), "customer_email is required")
	}
	if in.Limit <= 0 {
		in.Limit = defaultCustomerOrders
	}
	markStorefront(ctx)

	orders, err := t.shop.GetCustomerOrders(ctx, email, in.Limit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	summaries := make([]orderSummary, 0, len(orders))
	for _, o := range orders {
		summaries = append(summaries, orderSummary{
			OrderNumber: o.OrderNumber,
			Status:      o.Status,
			CreatedAt:   o.CreatedAt.Format("2006-01-02"),
			TotalPrice:  o.TotalPrice,
			Currency:    o.Currency,
			Items:       len(o.LineItems),
		})
	}
	out := map[string]any{"customer_email": email, "orders": summaries, "count": len(summaries)}
	if len(summaries) == 0 {
		out["message"] = fmt.Sprintf("No orders found for %s", email)
	}
	return marshalOutput(out)
}

func markStorefront(ctx context.Context) {
	if s, ok := RunScopeFrom(ctx); ok {
		s.markStorefront()
	}
}

// --- escalate_to_human ---

// EscalateTool hands the run to human review. It is the only tool that
// writes state, and repeated calls within a run refresh one record.
type EscalateTool struct {
	sink EscalationSink
}

func (t *EscalateTool) Name() string { return ToolEscalateToHuman }

func (t *EscalateTool) Description() string {
	return "Escalate the customer's issue to a human support agent. Use this when the customer asks for a human, " +
		"the issue is a complaint or sensitive refund, or you cannot find the information needed to help."
}

func (t *EscalateTool) Parameters() map[string]any {
	reasons := []string{
		string(domain.ReasonLowConfidence),
		string(domain.ReasonRepeatedToolFailure),
		string(domain.ReasonExplicitComplaint),
		string(domain.ReasonAmbiguousQuery),
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"enum":        reasons,
				"description": "Why escalation is needed",
			},
			"priority": map[string]any{
				"type":        "string",
				"enum":        []string{"low", "medium", "high", "urgent"},
				"description": "Priority based on issue severity",
			},
			"summary": map[string]any{
				"type":        "string",
				"description": "Summary of the issue and any actions already taken",
			},
		},
		"required": []string{"reason", "priority", "summary"},
	}
}

type escalateInput struct {
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
	Summary  string `json:"summary"`
	Detail   string `json:"detail,omitempty"`
}

func (t *EscalateTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in escalateInput
	if err := decodeInput(t.Name(), input, &in); err != nil {
		return "", err
	}
	scope, ok := RunScopeFrom(ctx)
	if !ok {
		return "", invalidInput(t.Name(), "no interaction in scope")
	}

	reason, known := domain.ParseEscalationReason(in.Reason)
	detail := in.Detail
	if !known {
		reason = domain.ReasonAmbiguousQuery
		if detail == "" {
			detail = in.Reason
		}
	}
	priority := domain.ParsePriority(in.Priority)
	summary := in.Summary
	if summary == "" {
		summary = escalationSummary(scope.Message)
	}

	rec, err := t.sink.Upsert(ctx, domain.EscalationRecord{
		InteractionID: scope.InteractionID,
		Reason:        reason,
		Priority:      priority,
		Context: domain.EscalationContext{
			CustomerEmail: scope.Message.From,
			Subject:       scope.Message.Subject,
			Summary:       summary,
			Intent:        scope.Intent,
			Confidence:    scope.Confidence,
			Tier:          scope.Tier,
			Detail:        detail,
			ToolCalls:     scope.ToolCalls(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("recording escalation: %w", err)
	}
	scope.setEscalation(rec)

	return marshalOutput(map[string]any{
		"escalated":     true,
		"escalation_id": rec.ID,
		"reason":        string(rec.Reason),
		"priority":      string(rec.Priority),
		"message":       EscalationAck("", rec.Priority),
	})
}

// escalationSummary is the default context summary: subject plus the first
// 500 characters of the body.
func escalationSummary(msg domain.Message) string {
	body := msg.Body
	if r := []rune(body); len(r) > 500 {
		body = string(r[:500])
	}
	return fmt.Sprintf("Subject: %s\n\nBody: %s", msg.Subject, body)
}
