package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/helpdesk/internal/agent"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

type fakeProcessor struct {
	fn func(ctx context.Context, msg domain.Message) (*domain.Response, error)
}

func (f *fakeProcessor) Process(ctx context.Context, msg domain.Message) (*domain.Response, error) {
	return f.fn(ctx, msg)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []domain.Reply
	err  error
}

func (s *fakeSender) Send(_ context.Context, reply domain.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, reply)
	return s.err
}

func (s *fakeSender) replies() []domain.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Reply(nil), s.sent...)
}

func inbound(id string) domain.Message {
	return domain.Message{
		ID:        id,
		ChannelID: "imap",
		From:      "jane.doe@example.com",
		Subject:   "Where is my order?",
		Body:      "Order #12345",
	}
}

func TestRouter_HandleInbound_SendsReply(t *testing.T) {
	sender := &fakeSender{}
	proc := &fakeProcessor{fn: func(_ context.Context, msg domain.Message) (*domain.Response, error) {
		return &domain.Response{InteractionID: "i-1", Text: "Order status: shipped", Intent: domain.IntentOrderStatus}, nil
	}}
	r := NewRouter(proc, sender, 2, time.Second, testLogger())

	resp, err := r.HandleInbound(context.Background(), inbound("m1"))
	require.NoError(t, err)
	assert.Equal(t, "i-1", resp.InteractionID)

	sent := sender.replies()
	require.Len(t, sent, 1)
	assert.Equal(t, "imap", sent[0].ChannelID)
	assert.Equal(t, "jane.doe@example.com", sent[0].To)
	assert.Equal(t, "Re: Where is my order?", sent[0].Subject)
	assert.Equal(t, "m1", sent[0].InReplyTo)
	assert.Equal(t, "Order status: shipped", sent[0].Body)
}

func TestRouter_HandleInbound_EscalatedStillReplies(t *testing.T) {
	sender := &fakeSender{}
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		return &domain.Response{Text: "escalated to our support team", Escalated: true}, nil
	}}
	r := NewRouter(proc, sender, 1, 0, testLogger())

	_, err := r.HandleInbound(context.Background(), inbound("m1"))
	require.NoError(t, err)
	assert.Len(t, sender.replies(), 1)
}

func TestRouter_HandleInbound_FailureSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		return nil, errors.New("persistence failed")
	}}
	r := NewRouter(proc, sender, 1, 0, testLogger())

	_, err := r.HandleInbound(context.Background(), inbound("m1"))
	assert.Error(t, err)
	assert.Empty(t, sender.replies())
}

func TestRouter_HandleInbound_SendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		return &domain.Response{Text: "hi"}, nil
	}}
	r := NewRouter(proc, sender, 1, 0, testLogger())

	resp, err := r.HandleInbound(context.Background(), inbound("m1"))
	assert.ErrorContains(t, err, "smtp down")
	assert.NotNil(t, resp)
}

func TestRouter_Process_DoesNotReply(t *testing.T) {
	sender := &fakeSender{}
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		return &domain.Response{Text: "hi"}, nil
	}}
	r := NewRouter(proc, sender, 1, 0, testLogger())

	msg := inbound("m1")
	msg.ChannelID = "api"
	resp, err := r.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.Empty(t, sender.replies())
}

func TestRouter_RunTimeoutApplied(t *testing.T) {
	proc := &fakeProcessor{fn: func(ctx context.Context, _ domain.Message) (*domain.Response, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return &domain.Response{}, nil
	}}
	r := NewRouter(proc, nil, 1, time.Minute, testLogger())
	_, err := r.HandleInbound(context.Background(), inbound("m1"))
	require.NoError(t, err)
}

func TestRouter_BoundedConcurrency(t *testing.T) {
	var (
		active  atomic.Int32
		peak    atomic.Int32
		release = make(chan struct{})
	)
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return &domain.Response{Text: "ok"}, nil
	}}
	sender := &fakeSender{}
	r := NewRouter(proc, sender, 2, 0, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Handle(context.Background(), inbound("m")))
		}()
	}
	assert.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load())
	assert.Len(t, sender.replies(), 5)
}

func TestRouter_HandleInbound_CancelledWhileWaiting(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		close(started)
		<-block
		return &domain.Response{}, nil
	}}
	r := NewRouter(proc, nil, 1, 0, testLogger())
	busy := make(chan error, 1)
	go func() { busy <- r.Handle(context.Background(), inbound("busy")) }()
	<-started
	t.Cleanup(func() {
		close(block)
		assert.NoError(t, <-busy)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.HandleInbound(ctx, inbound("waiting"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouter_RetriesPersistenceFailure(t *testing.T) {
	var calls atomic.Int32
	sender := &fakeSender{}
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("%w: saving interaction i-1: database is locked", agent.ErrPersistence)
		}
		return &domain.Response{InteractionID: "i-1", Text: "Order status: shipped"}, nil
	}}
	r := NewRouter(proc, sender, 1, 0, testLogger())
	r.baseDelay = time.Millisecond

	require.NoError(t, r.Handle(context.Background(), inbound("m1")))
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, sender.replies(), 1)
	assert.Equal(t, "Order status: shipped", sender.replies()[0].Body)
}

func TestRouter_GivesUpAfterRepeatedPersistenceFailures(t *testing.T) {
	var calls atomic.Int32
	sender := &fakeSender{}
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		calls.Add(1)
		return nil, agent.ErrPersistence
	}}
	r := NewRouter(proc, sender, 1, 0, testLogger())
	r.baseDelay = time.Millisecond

	err := r.Handle(context.Background(), inbound("m1"))
	assert.ErrorIs(t, err, agent.ErrPersistence)
	assert.Equal(t, int32(defaultAttempts), calls.Load())
	assert.Empty(t, sender.replies())
}

func TestRouter_AbortedRunIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	proc := &fakeProcessor{fn: func(context.Context, domain.Message) (*domain.Response, error) {
		calls.Add(1)
		return nil, fmt.Errorf("%w: %w", agent.ErrAborted, context.DeadlineExceeded)
	}}
	r := NewRouter(proc, &fakeSender{}, 1, 0, testLogger())
	r.baseDelay = time.Millisecond

	assert.ErrorIs(t, r.Handle(context.Background(), inbound("m1")), agent.ErrAborted)
	assert.Equal(t, int32(1), calls.Load())
}
