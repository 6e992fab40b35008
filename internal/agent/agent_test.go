package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/llm"
	"github.com/soyeahso/helpdesk/internal/logging"
	"github.com/soyeahso/helpdesk/internal/store"
	"github.com/soyeahso/helpdesk/internal/storefront"
)

// --- Router ---

func TestRoute(t *testing.T) {
	r := NewRouter(config.Defaults().Agent)
	tests := []struct {
		intent     domain.Intent
		confidence float64
		hasID      bool
		wantTier   domain.Tier
		wantBudget int
	}{
		{domain.IntentComplaint, 0.9, false, domain.TierComplex, 5},
		{domain.IntentRefundRequest, 0.9, true, domain.TierComplex, 5},
		{domain.IntentEscalationRequest, 0.4, false, domain.TierComplex, 5},
		{domain.IntentOrderStatus, 0.9, true, domain.TierTemplate, 2},
		{domain.IntentOrderStatus, 0.9, false, domain.TierSimple, 2},
		{domain.IntentShippingTracking, 0.7, true, domain.TierTemplate, 2},
		{domain.IntentReturnRequest, 0.6, false, domain.TierSimple, 3},
		{domain.IntentProductQuestion, 0.59, false, domain.TierMedium, 3},
		{domain.IntentPolicyQuestion, 0.95, true, domain.TierSimple, 3},
		{domain.IntentGeneralInquiry, 0.9, true, domain.TierTemplate, 0},
		{"", 0, false, domain.TierTemplate, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			tier, budget := r.Route(tt.intent, tt.confidence, tt.hasID)
			assert.Equal(t, tt.wantTier, tier)
			assert.Equal(t, tt.wantBudget, budget)
		})
	}
}

func TestRoute_BudgetCappedByCeiling(t *testing.T) {
	r := NewRouter(config.AgentConfig{ComplexBudget: 20, ToolCallHardCeiling: 8})
	_, budget := r.Route(domain.IntentComplaint, 1, false)
	assert.Equal(t, 8, budget)
	assert.Equal(t, 8, r.HardCeiling())
}

func TestExtractIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		msg    domain.Message
		orders []string
		emails []string
	}{
		{"hash", domain.Message{Body: "Where is my order #12345?"}, []string{"12345"}, nil},
		{"order word", domain.Message{Subject: "Order 55501 late"}, []string{"55501"}, nil},
		{"order number colon", domain.Message{Body: "order number: 77123"}, []string{"77123"}, nil},
		{"email in body", domain.Message{Body: "I ordered with Sam.Lee@Example.com."}, nil, []string{"sam.lee@example.com"}},
		{"sender is not an identifier", domain.Message{From: "jane@example.com", Body: "where is my order?"}, nil, nil},
		{"short numbers ignored", domain.Message{Body: "I bought 2 shirts for 30 dollars"}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := ExtractIdentifiers(tt.msg)
			assert.Equal(t, tt.orders, ids.OrderNumbers)
			assert.Equal(t, tt.emails, ids.Emails)
			assert.Equal(t, len(tt.orders)+len(tt.emails) > 0, ids.HasAny())
		})
	}
}

// --- Classifier ---

func TestParseClassification(t *testing.T) {
	cl, ok := ParseClassification("```json\n{\"intent\": \"policy_question\", \"confidence\": 0.87, \"complexity\": \"simple\"}\n```")
	require.True(t, ok)
	assert.Equal(t, domain.IntentPolicyQuestion, cl.Intent)
	assert.InDelta(t, 0.87, cl.Confidence, 1e-9)

	cl, ok = ParseClassification(`{"intent":"complaint","confidence":1.7}`)
	require.True(t, ok)
	assert.Equal(t, 1.0, cl.Confidence)

	cl, ok = ParseClassification(`Sure! {"intent":"order_status","confidence":-2}`)
	require.True(t, ok)
	assert.Equal(t, domain.IntentOrderStatus, cl.Intent)
	assert.Equal(t, 0.0, cl.Confidence)

	for _, bad := range []string{
		"",
		"not json",
		`{"intent":"chit_chat","confidence":0.9}`,
		`{"intent":"order_status"}`,
	} {
		cl, ok := ParseClassification(bad)
		assert.False(t, ok, bad)
		assert.Equal(t, domain.IntentGeneralInquiry, cl.Intent)
		assert.Equal(t, 0.0, cl.Confidence)
		assert.True(t, cl.Fallback)
	}
}

func TestClassifier_ProviderErrorFallsBack(t *testing.T) {
	c := NewClassifier(&llm.FailingClient{ProviderName: "mock", Code: 503}, 100, nil, time.Second, logging.Nop())
	cl := c.Classify(context.Background(), domain.Message{Body: "hi"})
	assert.Equal(t, domain.IntentGeneralInquiry, cl.Intent)
	assert.True(t, cl.Fallback)
}

func TestClassifier_RequestShape(t *testing.T) {
	mock := classifierSays(domain.IntentReturnRequest, 0.8)
	c := NewClassifier(mock, 300, llm.Float(0.1), time.Second, logging.Nop())
	cl := c.Classify(context.Background(), domain.Message{From: "a@b.co", Subject: "Return", Body: "Can I send this back?"})
	assert.Equal(t, domain.IntentReturnRequest, cl.Intent)

	req := mock.Requests()[0]
	assert.True(t, req.JSONMode)
	assert.Equal(t, 300, req.MaxTokens)
	assert.Contains(t, req.Messages[0].Content, "Can I send this back?")
	assert.Empty(t, req.Tools)
}

func TestTruncate_RuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo wörld", 4))

	got := truncate(strings.Repeat("日本語", 100), 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 203, utf8.RuneCountInString(got))
}

func TestImpersonal(t *testing.T) {
	jane := domain.Message{From: "jane.doe@example.com", FromName: "Jane Doe"}

	body, ok := impersonal(GeneralReply("Jane Doe"), jane)
	require.True(t, ok)
	assert.False(t, strings.HasPrefix(body, "Hi"))
	assert.Equal(t, GeneralReply("Sam Lee"), personalize(body, "Sam Lee"))
	assert.Equal(t, GeneralReply(""), personalize(body, ""))

	_, ok = impersonal("Hi Jane,\n\nJane, your refund is on its way.", jane)
	assert.False(t, ok, "first name in the body")

	_, ok = impersonal("Hello,\n\nWe wrote to jane.doe@example.com yesterday.", jane)
	assert.False(t, ok, "address in the body")

	body, ok = impersonal("Dear customer!\nJanet will follow up.", jane)
	assert.True(t, ok, "a longer name is not the customer's")
	assert.Equal(t, "Janet will follow up.", body)
}

// --- Grounding ---

func TestExtractClaims(t *testing.T) {
	text := "Your order #12345 shipped via UPS (tracking 1Z999AA10123456784). " +
		"Track it at https://www.ups.com/track?tracknum=1Z999AA10123456784. Total: $1,089.97. " +
		"Free shipping over $50. Placed in 2024."
	got := map[string]bool{}
	for _, c := range ExtractClaims(text) {
		got[c.String()] = true
	}
	assert.True(t, got["order:12345"])
	assert.True(t, got["tracking:1Z999AA10123456784"])
	assert.True(t, got["url:https://www.ups.com/track?tracknum=1Z999AA10123456784"])
	assert.True(t, got["money:1089.97"])
	assert.True(t, got["money:50"])
	assert.False(t, got["order:2024"])
	assert.Len(t, got, 5)
}

func TestExtractClaims_SmallFigures(t *testing.T) {
	got := map[string]bool{}
	for _, c := range ExtractClaims("Returns are accepted for 90 days with a 150% store credit on your next 3 orders, 1,050.00 points.") {
		got[c.String()] = true
	}
	assert.Equal(t, map[string]bool{
		"number:90":   true,
		"percent:150": true,
		"number:3":    true,
		"number:1050": true,
	}, got)
}

func TestCheckGrounding(t *testing.T) {
	orderOut := domain.ToolCall{Name: ToolGetOrder, Output: json.RawMessage(`{"found":true,"order":{"order_number":"#12345","status":"shipped","total_price":"89.97"}}`)}
	failed := domain.ToolCall{Name: ToolGetOrder, Error: "boom", ErrorKind: domain.ToolErrFailed}
	policy := domain.KnowledgeChunk{Title: "Free Shipping", Content: "Orders over $50 ship free.", Score: 0.8}
	returns := domain.KnowledgeChunk{Title: "Return Policy", Content: "Unworn items can be returned within 30 days of delivery.", Score: 0.85}
	kbCall := domain.ToolCall{Name: ToolSearchKnowledgeBase, Output: json.RawMessage(`{"results":[]}`)}

	tests := []struct {
		name   string
		in     GroundingInput
		ok     bool
		reason domain.EscalationReason
	}{
		{
			name: "grounded order reply",
			in:   GroundingInput{Draft: "Order #12345 is shipped. Total $89.97.", Intent: domain.IntentOrderStatus, Tier: domain.TierSimple, Calls: []domain.ToolCall{orderOut}},
			ok:   true,
		},
		{
			name:   "invented order number",
			in:     GroundingInput{Draft: "Order #54321 is shipped.", Intent: domain.IntentOrderStatus, Tier: domain.TierSimple, Calls: []domain.ToolCall{orderOut}},
			reason: domain.ReasonLowConfidence,
		},
		{
			name:   "claim only in a failed call",
			in:     GroundingInput{Draft: "Total $89.97.", Intent: domain.IntentOrderStatus, Tier: domain.TierSimple, Calls: []domain.ToolCall{{Name: ToolGetOrder, Error: "x", Output: orderOut.Output}}},
			reason: domain.ReasonLowConfidence,
		},
		{
			name:   "two failures",
			in:     GroundingInput{Draft: "Sorry.", Intent: domain.IntentOrderStatus, Tier: domain.TierSimple, Calls: []domain.ToolCall{failed, failed, orderOut}},
			reason: domain.ReasonRepeatedToolFailure,
		},
		{
			name:   "no evidence on a model tier",
			in:     GroundingInput{Draft: "Sure thing.", Intent: domain.IntentReturnRequest, Tier: domain.TierSimple},
			reason: domain.ReasonLowConfidence,
		},
		{
			name:   "knowledge below threshold",
			in:     GroundingInput{Draft: "Free shipping over $50.", Intent: domain.IntentPolicyQuestion, Tier: domain.TierSimple, Calls: []domain.ToolCall{{Name: ToolSearchKnowledgeBase, Output: json.RawMessage(`{}`)}}, Chunks: []domain.KnowledgeChunk{{Content: "$50", Score: 0.69}}},
			reason: domain.ReasonLowConfidence,
		},
		{
			name: "knowledge at threshold",
			in:   GroundingInput{Draft: "Free shipping over $50.", Intent: domain.IntentPolicyQuestion, Tier: domain.TierSimple, Calls: []domain.ToolCall{{Name: ToolSearchKnowledgeBase, Output: json.RawMessage(`{}`)}}, Chunks: []domain.KnowledgeChunk{policy}},
			ok:   true,
		},
		{
			name:   "empty draft",
			in:     GroundingInput{Draft: "  ", Intent: domain.IntentGeneralInquiry, Tier: domain.TierTemplate},
			reason: domain.ReasonLowConfidence,
		},
		{
			name: "canned general reply",
			in:   GroundingInput{Draft: GeneralReply(""), Intent: domain.IntentGeneralInquiry, Tier: domain.TierTemplate},
			ok:   true,
		},
		{
			name: "policy figure from the chunk",
			in:   GroundingInput{Draft: "Hi Jane,\n\nYou can return items within 30 days.\n\nBest regards,\nCustomer Support", Intent: domain.IntentReturnRequest, Tier: domain.TierSimple, Calls: []domain.ToolCall{kbCall}, Chunks: []domain.KnowledgeChunk{returns}},
			ok:   true,
		},
		{
			name:   "invented policy figures",
			in:     GroundingInput{Draft: "You can return items within 90 days and get 150% store credit on 3 future orders.", Intent: domain.IntentReturnRequest, Tier: domain.TierSimple, Calls: []domain.ToolCall{kbCall}, Chunks: []domain.KnowledgeChunk{returns}},
			reason: domain.ReasonLowConfidence,
		},
		{
			name:   "digit inside a larger figure",
			in:     GroundingInput{Draft: "Refunds arrive in 3 days.", Intent: domain.IntentReturnRequest, Tier: domain.TierSimple, Calls: []domain.ToolCall{kbCall}, Chunks: []domain.KnowledgeChunk{returns}},
			reason: domain.ReasonLowConfidence,
		},
		{
			name: "figure repeated from the customer",
			in:   GroundingInput{Draft: "Items bought 45 days ago can be returned within 30 days of delivery only.", Intent: domain.IntentReturnRequest, Tier: domain.TierSimple, Calls: []domain.ToolCall{kbCall}, Chunks: []domain.KnowledgeChunk{returns}, Customer: "I bought this 45 days ago, can I return it?"},
			ok:   true,
		},
		{
			name: "sign-off figures are ignored",
			in:   GroundingInput{Draft: "You can return items within 30 days.\n\nThanks,\nSuite 200, Store 7 Support", Intent: domain.IntentReturnRequest, Tier: domain.TierSimple, Calls: []domain.ToolCall{kbCall}, Chunks: []domain.KnowledgeChunk{returns}},
			ok:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Threshold = 0.7
			v := CheckGrounding(tt.in)
			assert.Equal(t, tt.ok, v.Grounded, v.Detail)
			if !tt.ok {
				assert.Equal(t, tt.reason, v.Reason)
			}
		})
	}
}

// --- Tools ---

type slowTool struct{}

func (slowTool) Name() string               { return "slow" }
func (slowTool) Description() string        { return "waits for cancellation" }
func (slowTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (slowTool) Execute(ctx context.Context, _ json.RawMessage) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestToolRegistry_Dispatch(t *testing.T) {
	shop, err := storefront.NewMockProvider("")
	require.NoError(t, err)
	reg := NewToolRegistry(20 * time.Millisecond)
	reg.Register(&GetOrderTool{shop: shop})
	reg.Register(slowTool{})

	assert.Equal(t, []string{ToolGetOrder, "slow"}, reg.Names())
	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, ToolGetOrder, defs[0].Name)
	assert.Equal(t, "object", defs[0].Parameters["type"])

	ctx := context.Background()

	tc := reg.Execute(ctx, "t1", ToolGetOrder, json.RawMessage(`{"order_number":"#12347"}`), OriginModel)
	require.False(t, tc.Failed(), tc.Error)
	assert.Equal(t, "t1", tc.ID)
	assert.Contains(t, string(tc.Output), `"status":"delivered"`)

	tc = reg.Execute(ctx, "", "drop_tables", nil, OriginModel)
	assert.True(t, tc.Failed())
	assert.Equal(t, domain.ToolErrUnknownTool, tc.ErrorKind)
	assert.NotEmpty(t, tc.ID)
	assert.JSONEq(t, `{}`, string(tc.Input))

	tc = reg.Execute(ctx, "", ToolGetOrder, json.RawMessage(`{}`), OriginModel)
	assert.Equal(t, domain.ToolErrInvalidInput, tc.ErrorKind)

	tc = reg.Execute(ctx, "", ToolGetOrder, json.RawMessage(`not json`), OriginModel)
	assert.Equal(t, domain.ToolErrInvalidInput, tc.ErrorKind)

	tc = reg.Execute(ctx, "", "slow", nil, OriginModel)
	assert.Equal(t, domain.ToolErrTimeout, tc.ErrorKind)
}

func TestToolRegistry_RateLimitedStorefront(t *testing.T) {
	shop, err := storefront.NewMockProvider("")
	require.NoError(t, err)
	limited := storefront.NewRateLimited(shop, 0.001, 1)

	reg := NewToolRegistry(time.Second)
	reg.Register(&GetFulfillmentTool{shop: limited})

	input := json.RawMessage(`{"order_number":"12345"}`)
	first := reg.Execute(context.Background(), "", ToolGetFulfillment, input, OriginModel)
	require.False(t, first.Failed())
	second := reg.Execute(context.Background(), "", ToolGetFulfillment, input, OriginModel)
	assert.Equal(t, domain.ToolErrRateLimited, second.ErrorKind)
}

func TestGetFulfillment_Unshipped(t *testing.T) {
	shop, err := storefront.NewMockProvider("")
	require.NoError(t, err)
	tool := &GetFulfillmentTool{shop: shop}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"order_number":"#12346"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "has not shipped yet")

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"order_number":"#404040"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `"found":false`)
}

func TestGetCustomerOrders(t *testing.T) {
	shop, err := storefront.NewMockProvider("")
	require.NoError(t, err)
	tool := &GetCustomerOrdersTool{shop: shop}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"customer_email":"JANE.DOE@example.com"}`))
	require.NoError(t, err)
	var res struct {
		Orders []orderSummary `json:"orders"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "#12345", res.Orders[0].OrderNumber)

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"customer_email":"nobody@example.com"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `"count":0`)
}

func TestSearchKnowledgeBase_FiltersBelowThreshold(t *testing.T) {
	kb := &fakeKB{threshold: 0.7, chunks: []domain.KnowledgeChunk{
		{Title: "Return Policy", Content: "30 days", Score: 0.91},
		{Title: "Exchange Policy", Content: "exchanges", Score: 0.65},
	}}
	tool := &SearchKnowledgeBaseTool{kb: kb}
	scope := &RunScope{InteractionID: "i-1"}
	ctx := WithRunScope(context.Background(), scope)

	out, err := tool.Execute(ctx, json.RawMessage(`{"query":"returns","category":"RETURNS"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Return Policy")
	assert.NotContains(t, out, "Exchange Policy")

	// both chunks are kept as scored evidence for the grounding check
	assert.Len(t, scope.Chunks(), 2)
	assert.Equal(t, 0.91, scope.BestScore())
	assert.Equal(t, 1, scope.Searches())

	_, err = tool.Execute(ctx, json.RawMessage(`{"query":"  "}`))
	var te *domain.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.ToolErrInvalidInput, te.Kind)
}

func TestEscalateTool_IdempotentPerInteraction(t *testing.T) {
	db, err := store.Open(":memory:", logging.Nop())
	require.NoError(t, err)
	defer db.Close()
	escalations := store.NewEscalationStore(db)

	reg := NewToolRegistry(time.Second)
	reg.Register(&EscalateTool{sink: escalations})

	scope := &RunScope{
		InteractionID: "interaction-1",
		Message:       domain.Message{From: "jane.doe@example.com", Subject: "Help"},
		Intent:        domain.IntentRefundRequest,
		Tier:          domain.TierComplex,
	}
	ctx := WithRunScope(context.Background(), scope)

	first := reg.Execute(ctx, "", ToolEscalateToHuman, json.RawMessage(`{"reason":"low_confidence","priority":"low","summary":"first"}`), OriginModel)
	require.False(t, first.Failed(), first.Error)
	scope.addCall(first)
	second := reg.Execute(ctx, "", ToolEscalateToHuman, json.RawMessage(`{"reason":"explicit_complaint","priority":"urgent","summary":"second"}`), OriginModel)
	require.False(t, second.Failed(), second.Error)

	all, err := escalations.List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.ReasonExplicitComplaint, all[0].Reason)
	assert.Equal(t, domain.PriorityUrgent, all[0].Priority)
	assert.Equal(t, "second", all[0].Context.Summary)
	assert.Len(t, all[0].Context.ToolCalls, 1)
	assert.Equal(t, all[0].ID, scope.Escalation().ID)
}

func TestEscalateTool_RequiresScope(t *testing.T) {
	tool := &EscalateTool{}
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"reason":"low_confidence"}`))
	var te *domain.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.ToolErrInvalidInput, te.Kind)
}

// --- Failover ---

func TestFailoverClient(t *testing.T) {
	good := &llm.MockClient{ProviderName: "good", Responses: []*llm.CompletionResponse{{Content: "ok"}}}
	reg := llm.NewRegistry(logging.Nop())
	reg.Register("bad", &llm.FailingClient{ProviderName: "bad", Code: 529})
	reg.Register("good", good)
	reg.Register("denied", &llm.FailingClient{ProviderName: "denied", Code: 400})

	f := NewFailoverClient(reg, "bad/model-a", []string{"missing/model-x", "good/model-b"}, logging.Nop())
	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "model-b", good.Requests()[0].Model)

	f = NewFailoverClient(reg, "denied/model-a", []string{"good/model-b"}, logging.Nop())
	_, err = f.Complete(context.Background(), llm.CompletionRequest{})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 400, pe.Code)
	assert.Len(t, good.Requests(), 1)
}

func TestTierModelsFromConfig(t *testing.T) {
	reg := llm.NewRegistry(logging.Nop())
	models := TierModelsFromConfig(reg, config.Defaults().Models, logging.Nop())
	require.Len(t, models, 3)
	assert.Equal(t, 2000, models[domain.TierComplex].MaxTokens)
	_, ok := models[domain.TierTemplate]
	assert.False(t, ok)
}

// --- Templates and prompts ---

func TestTemplates(t *testing.T) {
	ack := EscalationAck("Priya Patel", domain.PriorityHigh)
	assert.True(t, len(ack) > 0)
	assert.Contains(t, ack, "Hi Priya,")
	assert.Contains(t, ack, "high priority")
	assert.Contains(t, ack, "within 24 hours")
	assert.Contains(t, EscalationAck("", ""), "Hello,")
	assert.Contains(t, EscalationAck("", ""), "medium priority")

	order := &domain.Order{OrderNumber: "12346", Status: "processing"}
	reply := OrderStatusReply("", order, nil, true)
	assert.Contains(t, reply, "#12346")
	assert.Contains(t, reply, "Order status: processing")
	assert.Contains(t, reply, "has not shipped yet")
}

func TestBuildSystemPrompt(t *testing.T) {
	reg := NewToolRegistry(0)
	reg.Register(&GetOrderTool{})
	p := BuildSystemPrompt(PromptConfig{
		StoreName:     "Acme Outfitters",
		Intent:        domain.IntentOrderStatus,
		Tools:         reg.Definitions(),
		IncludeFormat: true,
		Now:           time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC),
	})
	assert.Contains(t, p, "Acme Outfitters")
	assert.Contains(t, p, "Current date: 2024-06-04")
	assert.Contains(t, p, "- get_order:")
	assert.Contains(t, p, "Never invent order numbers")
	assert.Contains(t, p, "## Response Format")

	mp := BuildMessagePrompt(domain.Message{From: "a@b.co", FromName: "Ann", Subject: "Hi", Body: "Where is #12345"}, Identifiers{OrderNumbers: []string{"12345"}})
	assert.Contains(t, mp, "Customer Name: Ann")
	assert.Contains(t, mp, "Order numbers mentioned: #12345")
}
