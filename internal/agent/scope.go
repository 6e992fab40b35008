package agent

import (
	"context"
	"sync"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// RunScope is the per-run state shared between the orchestrator and the
// built-in tools: which interaction is being built and the evidence the
// tools have gathered so far.
type RunScope struct {
	InteractionID string
	Message       domain.Message
	Intent        domain.Intent
	Confidence    float64
	Tier          domain.Tier

	mu             sync.Mutex
	calls          []domain.ToolCall
	chunks         []domain.KnowledgeChunk
	searches       int
	usedStorefront bool
	escalation     *domain.EscalationRecord
}

type scopeKey struct{}

// WithRunScope attaches s to ctx for the tools executed in this run.
func WithRunScope(ctx context.Context, s *RunScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// RunScopeFrom returns the run scope attached to ctx, if any.
func RunScopeFrom(ctx context.Context) (*RunScope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*RunScope)
	return s, ok && s != nil
}

func (s *RunScope) addCall(tc domain.ToolCall) {
	s.mu.Lock()
	s.calls = append(s.calls, tc)
	s.mu.Unlock()
}

// ToolCalls returns a copy of the calls recorded so far.
func (s *RunScope) ToolCalls() []domain.ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ToolCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *RunScope) addChunks(chunks []domain.KnowledgeChunk) {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunks...)
	s.searches++
	s.mu.Unlock()
}

// Chunks returns every chunk retrieved during the run, with scores.
func (s *RunScope) Chunks() []domain.KnowledgeChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.KnowledgeChunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Searches counts knowledge searches run so far.
func (s *RunScope) Searches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

// BestScore returns the highest chunk similarity seen, or 0.
func (s *RunScope) BestScore() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := 0.0
	for _, c := range s.chunks {
		if c.Score > best {
			best = c.Score
		}
	}
	return best
}

func (s *RunScope) markStorefront() {
	s.mu.Lock()
	s.usedStorefront = true
	s.mu.Unlock()
}

// UsedStorefront reports whether any customer-specific lookup ran.
func (s *RunScope) UsedStorefront() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedStorefront
}

func (s *RunScope) setEscalation(rec *domain.EscalationRecord) {
	s.mu.Lock()
	s.escalation = rec
	s.mu.Unlock()
}

// Escalation returns the escalation recorded for this run, or nil.
func (s *RunScope) Escalation() *domain.EscalationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalation
}
