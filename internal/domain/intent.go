package domain

// Intent is the classified purpose of a message. Exactly one per message.
type Intent string

const (
	IntentOrderStatus       Intent = "order_status"
	IntentShippingTracking  Intent = "shipping_tracking"
	IntentReturnRequest     Intent = "return_request"
	IntentRefundRequest     Intent = "refund_request"
	IntentProductQuestion   Intent = "product_question"
	IntentPolicyQuestion    Intent = "policy_question"
	IntentComplaint         Intent = "complaint"
	IntentEscalationRequest Intent = "escalation_request"
	IntentGeneralInquiry    Intent = "general_inquiry"
)

// Intents lists every valid intent in declaration order.
var Intents = []Intent{
	IntentOrderStatus,
	IntentShippingTracking,
	IntentReturnRequest,
	IntentRefundRequest,
	IntentProductQuestion,
	IntentPolicyQuestion,
	IntentComplaint,
	IntentEscalationRequest,
	IntentGeneralInquiry,
}

// ParseIntent maps a label to an Intent. Unknown labels report false.
func ParseIntent(s string) (Intent, bool) {
	for _, in := range Intents {
		if string(in) == s {
			return in, true
		}
	}
	return "", false
}

// IsKnowledgeIntent reports whether answers for this intent come from the
// knowledge corpus and must clear the similarity threshold.
func (i Intent) IsKnowledgeIntent() bool {
	switch i {
	case IntentReturnRequest, IntentProductQuestion, IntentPolicyQuestion:
		return true
	}
	return false
}

// Tier is a cost/capability bracket. Tiers are ordered: template < simple < medium < complex.
type Tier string

const (
	TierTemplate Tier = "template"
	TierSimple   Tier = "simple"
	TierMedium   Tier = "medium"
	TierComplex  Tier = "complex"
)

// Tiers lists every tier from cheapest to most capable.
var Tiers = []Tier{TierTemplate, TierSimple, TierMedium, TierComplex}

// Rank returns the position of the tier in the cost ordering, or -1.
func (t Tier) Rank() int {
	for i, tt := range Tiers {
		if tt == t {
			return i
		}
	}
	return -1
}

// Less reports whether t is cheaper than other.
func (t Tier) Less(other Tier) bool {
	return t.Rank() < other.Rank()
}

// ParseTier maps a label to a Tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	return t, t.Rank() >= 0
}
