package agent

import (
	"regexp"
	"strings"

	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/domain"
)

// Router maps a classification to a tier and a tool-call budget. It is a
// fixed table with no model involvement.
type Router struct {
	complexBudget    int
	lookupBudget     int
	knowledgeBudget  int
	simpleConfidence float64
	hardCeiling      int
}

// NewRouter builds a router from the agent configuration. Zero values fall
// back to the defaults.
func NewRouter(cfg config.AgentConfig) *Router {
	def := config.Defaults().Agent
	pick := func(v, d int) int {
		if v > 0 {
			return v
		}
		return d
	}
	r := &Router{
		complexBudget:    pick(cfg.ComplexBudget, def.ComplexBudget),
		lookupBudget:     pick(cfg.LookupBudget, def.LookupBudget),
		knowledgeBudget:  pick(cfg.KnowledgeBudget, def.KnowledgeBudget),
		simpleConfidence: cfg.SimpleConfidence,
		hardCeiling:      pick(cfg.ToolCallHardCeiling, def.ToolCallHardCeiling),
	}
	if r.simpleConfidence <= 0 {
		r.simpleConfidence = def.SimpleConfidence
	}
	return r
}

// HardCeiling is the iteration ceiling for the acting loop.
func (r *Router) HardCeiling() int { return r.hardCeiling }

// Route returns the tier and the maximum number of tool calls for a run.
// hasIdentifier reports whether the message carries the order number or
// lookup email an order intent needs.
func (r *Router) Route(intent domain.Intent, confidence float64, hasIdentifier bool) (domain.Tier, int) {
	var (
		tier   domain.Tier
		budget int
	)
	switch intent {
	case domain.IntentComplaint, domain.IntentRefundRequest, domain.IntentEscalationRequest:
		tier, budget = domain.TierComplex, r.complexBudget
	case domain.IntentOrderStatus, domain.IntentShippingTracking:
		tier, budget = domain.TierSimple, r.lookupBudget
		if hasIdentifier {
			tier = domain.TierTemplate
		}
	case domain.IntentReturnRequest, domain.IntentProductQuestion, domain.IntentPolicyQuestion:
		tier, budget = domain.TierMedium, r.knowledgeBudget
		if confidence >= r.simpleConfidence {
			tier = domain.TierSimple
		}
	default:
		tier, budget = domain.TierTemplate, 0
	}
	return tier, min(budget, r.hardCeiling)
}

// Identifiers are the lookup keys written in a message.
type Identifiers struct {
	OrderNumbers []string
	Emails       []string
}

// HasAny reports whether an order lookup is possible without asking.
func (ids Identifiers) HasAny() bool {
	return len(ids.OrderNumbers) > 0 || len(ids.Emails) > 0
}

var (
	orderNumberRe = regexp.MustCompile(`(?i)(?:#\s?(\d{4,})|\border\s*(?:number|no\.?|num|id)?\s*[:#]?\s*(\d{4,}))`)
	emailRe       = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// ExtractIdentifiers finds order numbers and email addresses in the subject
// and body. The sender address is not an identifier: an order intent with
// nothing written in the message is routed to the model tier.
func ExtractIdentifiers(msg domain.Message) Identifiers {
	text := msg.Subject + "\n" + msg.Body
	var ids Identifiers
	seen := make(map[string]bool)
	for _, m := range orderNumberRe.FindAllStringSubmatch(text, -1) {
		n := m[1]
		if n == "" {
			n = m[2]
		}
		if n != "" && !seen[n] {
			seen[n] = true
			ids.OrderNumbers = append(ids.OrderNumbers, n)
		}
	}
	for _, e := range emailRe.FindAllString(text, -1) {
		e = strings.ToLower(strings.TrimRight(e, "."))
		if !seen[e] {
			seen[e] = true
			ids.Emails = append(ids.Emails, e)
		}
	}
	return ids
}
