package domain

import (
	"encoding/json"
	"time"
)

// ToolCall is one executed request/response pair. Append-only once created.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind ToolErrorKind   `json:"errorKind,omitempty"`
	Origin    string          `json:"origin,omitempty"` // "model" or "template"
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"durationNs"`
}

// Failed reports whether the call ended in a ToolError.
func (tc ToolCall) Failed() bool {
	return tc.Error != ""
}

// KnowledgeChunk is one passage of the knowledge corpus. Score is computed per query.
type KnowledgeChunk struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Content   string         `json:"content"`
	Category  string         `json:"category"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"-"`
	Score     float64        `json:"score"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Outcome is the terminal state of a processing run.
type Outcome string

const (
	OutcomeResponded Outcome = "responded"
	OutcomeEscalated Outcome = "escalated"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCached    Outcome = "cached"
)

// ParseOutcome maps a label to an outcome.
func ParseOutcome(s string) (Outcome, bool) {
	switch o := Outcome(s); o {
	case OutcomeResponded, OutcomeEscalated, OutcomeAborted, OutcomeCached:
		return o, true
	}
	return "", false
}

// InteractionRecord is the log entry for one processed message. Counters
// accumulate during the run; the record is persisted only at a terminal state.
type InteractionRecord struct {
	ID               string           `json:"id"`
	MessageID        string           `json:"messageId,omitempty"`
	ChannelID        string           `json:"channelId,omitempty"`
	SenderEmail      string           `json:"senderEmail"`
	SenderName       string           `json:"senderName,omitempty"`
	Subject          string           `json:"subject"`
	Body             string           `json:"body"`
	ReceivedAt       time.Time        `json:"receivedAt"`
	Intent           Intent           `json:"intent"`
	Confidence       float64          `json:"confidence"`
	Tier             Tier             `json:"tier"`     // tier from the router
	TierUsed         Tier             `json:"tierUsed"` // tier actually used
	ModelUsed        string           `json:"modelUsed,omitempty"`
	ToolCalls        []ToolCall       `json:"toolCalls"`
	Response         string           `json:"response"`
	Outcome          Outcome          `json:"outcome"`
	EscalationReason EscalationReason `json:"escalationReason,omitempty"`
	TokensInput      int              `json:"tokensInput"`
	TokensOutput     int              `json:"tokensOutput"`
	CostUSD          float64          `json:"costUsd"`
	Latency          time.Duration    `json:"latencyNs"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// ToolsUsed returns the tool names in call order.
func (r *InteractionRecord) ToolsUsed() []string {
	names := make([]string, 0, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		names = append(names, tc.Name)
	}
	return names
}

// FailedToolCalls counts calls that ended in a ToolError.
func (r *InteractionRecord) FailedToolCalls() int {
	n := 0
	for _, tc := range r.ToolCalls {
		if tc.Failed() {
			n++
		}
	}
	return n
}

// EscalationReason is drawn from a fixed taxonomy.
type EscalationReason string

const (
	ReasonLowConfidence       EscalationReason = "low_confidence"
	ReasonRepeatedToolFailure EscalationReason = "repeated_tool_failure"
	ReasonExplicitComplaint   EscalationReason = "explicit_complaint"
	ReasonAmbiguousQuery      EscalationReason = "ambiguous_query"
)

// ParseEscalationReason maps a label to a reason in the taxonomy.
func ParseEscalationReason(s string) (EscalationReason, bool) {
	switch r := EscalationReason(s); r {
	case ReasonLowConfidence, ReasonRepeatedToolFailure, ReasonExplicitComplaint, ReasonAmbiguousQuery:
		return r, true
	}
	return "", false
}

// EscalationStatus tracks the human-review workflow.
type EscalationStatus string

const (
	EscalationPending   EscalationStatus = "pending"
	EscalationAssigned  EscalationStatus = "assigned"
	EscalationResolved  EscalationStatus = "resolved"
	EscalationDismissed EscalationStatus = "dismissed"
)

// ParseEscalationStatus maps a label to a status.
func ParseEscalationStatus(s string) (EscalationStatus, bool) {
	switch st := EscalationStatus(s); st {
	case EscalationPending, EscalationAssigned, EscalationResolved, EscalationDismissed:
		return st, true
	}
	return "", false
}

// Priority orders escalations for the review queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority maps a label to a priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p
	}
	return PriorityMedium
}

// EscalationContext is the snapshot captured when a run is handed to a human.
type EscalationContext struct {
	CustomerEmail string     `json:"customerEmail"`
	Subject       string     `json:"subject"`
	Summary       string     `json:"summary"`
	Intent        Intent     `json:"intent"`
	Confidence    float64    `json:"confidence"`
	Tier          Tier       `json:"tier"`
	Detail        string     `json:"detail,omitempty"`
	ToolCalls     []ToolCall `json:"toolCalls"`
}

// EscalationRecord is a human-review item. At most one exists per interaction.
type EscalationRecord struct {
	ID              string            `json:"id"`
	InteractionID   string            `json:"interactionId"`
	Reason          EscalationReason  `json:"reason"`
	Priority        Priority          `json:"priority"`
	Context         EscalationContext `json:"context"`
	Status          EscalationStatus  `json:"status"`
	AssignedTo      string            `json:"assignedTo,omitempty"`
	ResolutionNotes string            `json:"resolutionNotes,omitempty"`
	ResolvedAt      *time.Time        `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// EscalationUpdate is a partial change applied by the review workflow.
type EscalationUpdate struct {
	Status          *EscalationStatus `json:"status,omitempty"`
	AssignedTo      *string           `json:"assignedTo,omitempty"`
	ResolutionNotes *string           `json:"resolutionNotes,omitempty"`
}

// CacheEntry memoizes a response for a normalized query.
type CacheEntry struct {
	Key       string     `json:"key"`
	QueryText string     `json:"queryText"`
	Response  string     `json:"response"`
	Intent    Intent     `json:"intent"`
	HitCount  int64      `json:"hitCount"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the entry is past its expiry at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
