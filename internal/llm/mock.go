package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a test double for Client. CompleteFunc wins when set;
// otherwise Responses are returned in order and the last one repeats.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Responses    []*CompletionResponse

	mu       sync.Mutex
	requests []CompletionRequest
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.Responses) == 0 {
		return &CompletionResponse{Content: "mock response", Model: req.Model}, nil
	}
	if n >= len(m.Responses) {
		n = len(m.Responses) - 1
	}
	resp := *m.Responses[n]
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Requests returns a copy of every request received.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many requests were received.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// FailingClient always fails with a ProviderError carrying Code.
type FailingClient struct {
	ProviderName string
	Code         int
}

func (f *FailingClient) Name() string { return f.ProviderName }

func (f *FailingClient) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return nil, &ProviderError{Provider: f.ProviderName, Code: f.Code, Message: fmt.Sprintf("status %d", f.Code)}
}
