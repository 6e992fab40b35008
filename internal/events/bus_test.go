package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus() *Bus {
	return NewBus(logging.Nop())
}

func TestBus_On_And_Emit(t *testing.T) {
	b := testBus()

	var called bool
	b.On(EventServerStart, "test", func(_ context.Context, p Payload) error {
		called = true
		assert.Equal(t, EventServerStart, p.Event)
		return nil
	})

	b.Emit(context.Background(), Payload{Event: EventServerStart})
	assert.True(t, called)
}

func TestBus_Emit_MultipleHandlers(t *testing.T) {
	b := testBus()

	var order []string
	b.On(EventMessageReceived, "first", func(_ context.Context, _ Payload) error {
		order = append(order, "first")
		return nil
	})
	b.On(EventMessageReceived, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	b.Emit(context.Background(), Payload{Event: EventMessageReceived})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_Emit_WithRecord(t *testing.T) {
	b := testBus()

	var got Payload
	b.On(EventRunCompleted, "test", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	rec := &domain.InteractionRecord{ID: "i-1", Intent: domain.IntentPolicyQuestion}
	b.Emit(context.Background(), Payload{Event: EventRunCompleted, Interaction: rec, Data: map[string]any{"tier": "simple"}})

	require.NotNil(t, got.Interaction)
	assert.Equal(t, "i-1", got.Interaction.ID)
	assert.Equal(t, "simple", got.Data["tier"])
}

func TestBus_Emit_HandlerError(t *testing.T) {
	b := testBus()

	var secondCalled bool
	b.On(EventServerStart, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	b.On(EventServerStart, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	b.Emit(context.Background(), Payload{Event: EventServerStart})
	assert.True(t, secondCalled)
}

func TestBus_NilIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(context.Background(), Payload{Event: EventServerStop})
	b.EmitAsync(context.Background(), Payload{Event: EventServerStop})
	b.Wait()
	assert.Zero(t, b.Count(EventServerStop))
}

func TestBus_WaitBlocksForAsyncHandlers(t *testing.T) {
	b := testBus()

	release := make(chan struct{})
	var finished atomic.Int32
	for _, name := range []string{"kafka", "audit"} {
		b.On(EventRunCompleted, name, func(context.Context, Payload) error {
			<-release
			finished.Add(1)
			return nil
		})
	}
	b.EmitAsync(context.Background(), Payload{Event: EventRunCompleted})

	waited := make(chan struct{})
	go func() {
		b.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while handlers were running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after handlers finished")
	}
	assert.Equal(t, int32(2), finished.Load())
}

func TestBus_Off(t *testing.T) {
	b := testBus()

	var callCount int
	b.On(EventServerStart, "removable", func(_ context.Context, _ Payload) error {
		callCount++
		return nil
	})
	b.On(EventServerStart, "keep", func(_ context.Context, _ Payload) error { return nil })

	b.Emit(context.Background(), Payload{Event: EventServerStart})
	assert.Equal(t, 1, callCount)

	b.Off(EventServerStart, "removable")
	b.Emit(context.Background(), Payload{Event: EventServerStart})
	assert.Equal(t, 1, callCount)
	assert.Equal(t, 1, b.Count(EventServerStart))
}

func TestBus_EmitAsyncSurvivesCancel(t *testing.T) {
	b := testBus()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	handler := func(ctx context.Context, _ Payload) error {
		defer wg.Done()
		if ctx.Err() == nil {
			count.Add(1)
		}
		return nil
	}
	b.On(EventRunEscalated, "async1", handler)
	b.On(EventRunEscalated, "async2", handler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.EmitAsync(ctx, Payload{Event: EventRunEscalated})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestBus_Events(t *testing.T) {
	b := testBus()

	b.On(EventServerStart, "h1", func(_ context.Context, _ Payload) error { return nil })
	b.On(EventMessageReceived, "h2", func(_ context.Context, _ Payload) error { return nil })

	events := b.Events()
	assert.Len(t, events, 2)
	assert.Contains(t, events, EventServerStart)
	assert.Contains(t, events, EventMessageReceived)
}

func TestAllEvents_NotEmpty(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventRunCompleted)
	assert.Contains(t, AllEvents, EventEscalationCreated)
}
