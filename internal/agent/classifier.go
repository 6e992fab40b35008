package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/llm"
	"github.com/soyeahso/helpdesk/internal/logging"
)

// Classification is the classifier's reading of one message.
type Classification struct {
	Intent              domain.Intent `json:"intent"`
	Complexity          string        `json:"complexity,omitempty"`
	Confidence          float64       `json:"confidence"`
	RequiresOrderLookup bool          `json:"requires_order_lookup"`
	SuggestedTools      []string      `json:"suggested_tools,omitempty"`
	Reasoning           string        `json:"reasoning,omitempty"`

	// Fallback is set when the model output could not be used.
	Fallback bool      `json:"-"`
	Model    string    `json:"-"`
	Usage    llm.Usage `json:"-"`
	CostUSD  float64   `json:"-"`
}

// FallbackClassification is used whenever the classifier output is missing,
// malformed or outside the intent set.
func FallbackClassification(reason string) Classification {
	return Classification{
		Intent:     domain.IntentGeneralInquiry,
		Confidence: 0,
		Reasoning:  reason,
		Fallback:   true,
	}
}

const classificationPrompt = `You are an intent classifier for a customer support system.
Analyze the customer email and classify it.

Customer Email:
Subject: %s
Body: %s
From: %s

Respond with a JSON object containing:
1. "intent": one of: order_status, shipping_tracking, return_request, refund_request,
   product_question, policy_question, complaint, general_inquiry, escalation_request
2. "complexity": one of "simple", "medium", "complex"
3. "confidence": float 0-1 indicating classification confidence
4. "requires_order_lookup": boolean, does this need order or fulfillment data?
5. "suggested_tools": list drawn from ["search_knowledge_base", "get_order",
   "get_fulfillment", "get_customer_orders", "escalate_to_human"]
6. "reasoning": brief explanation of your classification

Intent guidelines:
- order_status: "Where is my order?", "Order status", "When will it arrive?"
- shipping_tracking: "Tracking number", "Track my package", "Shipping update"
- return_request: "Return", "Send back", "Wrong item"
- refund_request: "Refund", "Money back", "Charge dispute"
- product_question: questions about products, sizes, features
- policy_question: store policies, warranty, terms
- complaint: negative feedback, dissatisfaction, problems
- escalation_request: "Speak to manager", "Human agent", "Supervisor"
- general_inquiry: everything else

Respond ONLY with the JSON object, no other text.`

// Classifier labels a message with an intent and a confidence using a cheap
// model call. It never fails the pipeline.
type Classifier struct {
	client      llm.Client
	maxTokens   int
	temperature *float64
	timeout     time.Duration
	log         *logging.Logger
}

// NewClassifier creates a classifier over client. A positive timeout bounds
// each classification call.
func NewClassifier(client llm.Client, maxTokens int, temperature *float64, timeout time.Duration, log *logging.Logger) *Classifier {
	return &Classifier{
		client:      client,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		log:         log.Sub("classifier"),
	}
}

// Classify returns the intent and confidence for msg. Provider errors,
// timeouts and unusable output all yield FallbackClassification. Callers
// check ctx themselves to tell cancellation apart.
func (c *Classifier) Classify(ctx context.Context, msg domain.Message) Classification {
	if c == nil || c.client == nil {
		return FallbackClassification("no classifier configured")
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Complete(callCtx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(classificationPrompt, msg.Subject, msg.Body, msg.From)}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		JSONMode:    true,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("classification call failed, using fallback")
		return FallbackClassification("classifier unavailable")
	}

	cl, ok := ParseClassification(resp.Content)
	if !ok {
		c.log.Warn().Str("output", truncate(resp.Content, 200)).Msg("malformed classification, using fallback")
	}
	cl.Model = resp.Model
	cl.Usage = resp.Usage
	cl.CostUSD = resp.CostUSD
	if cl.CostUSD == 0 {
		cl.CostUSD = llm.EstimateCost(resp.Model, resp.Usage)
	}

	c.log.Debug().
		Str("intent", string(cl.Intent)).
		Float64("confidence", cl.Confidence).
		Msg("classified")
	return cl
}

// ParseClassification decodes classifier output. Markdown fences are
// stripped and confidence is clamped to [0,1]. It reports false, with the
// fallback classification, when the output is unusable.
func ParseClassification(content string) (Classification, bool) {
	raw := stripFences(content)

	var out struct {
		Intent              string   `json:"intent"`
		Complexity          string   `json:"complexity"`
		Confidence          *float64 `json:"confidence"`
		RequiresOrderLookup bool     `json:"requires_order_lookup"`
		SuggestedTools      []string `json:"suggested_tools"`
		Reasoning           string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return FallbackClassification("failed to parse classification"), false
	}
	intent, ok := domain.ParseIntent(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !ok {
		return FallbackClassification(fmt.Sprintf("unknown intent %q", out.Intent)), false
	}
	if out.Confidence == nil {
		return FallbackClassification("missing confidence"), false
	}

	return Classification{
		Intent:              intent,
		Complexity:          out.Complexity,
		Confidence:          clamp01(*out.Confidence),
		RequiresOrderLookup: out.RequiresOrderLookup,
		SuggestedTools:      out.SuggestedTools,
		Reasoning:           out.Reasoning,
	}, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start > 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
