package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) messages() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func TestKafkaPublisher_KeysByInteraction(t *testing.T) {
	iw, ew := &fakeWriter{}, &fakeWriter{}
	p := NewKafkaPublisherWithWriters(iw, ew, logging.Nop())
	ctx := context.Background()

	require.NoError(t, p.PublishInteraction(ctx, &domain.InteractionRecord{ID: "int-1", Outcome: domain.OutcomeResponded}))
	require.NoError(t, p.PublishEscalation(ctx, &domain.EscalationRecord{ID: "esc-1", InteractionID: "int-1", Status: domain.EscalationPending}))

	require.Len(t, iw.messages(), 1)
	assert.Equal(t, "int-1", string(iw.messages()[0].Key))
	var rec domain.InteractionRecord
	require.NoError(t, json.Unmarshal(iw.messages()[0].Value, &rec))
	assert.Equal(t, domain.OutcomeResponded, rec.Outcome)

	require.Len(t, ew.messages(), 1)
	assert.Equal(t, "int-1", string(ew.messages()[0].Key))

	require.NoError(t, p.Close())
	assert.True(t, iw.closed)
	assert.True(t, ew.closed)
}

func TestKafkaPublisher_ErrorWrapped(t *testing.T) {
	iw := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriters(iw, &fakeWriter{}, logging.Nop())
	err := p.PublishInteraction(context.Background(), &domain.InteractionRecord{ID: "x"})
	assert.ErrorContains(t, err, "publishing interaction x")
	assert.ErrorContains(t, err, "broker down")
}

func TestKafkaPublisher_AttachForwardsRecords(t *testing.T) {
	iw, ew := &fakeWriter{}, &fakeWriter{}
	p := NewKafkaPublisherWithWriters(iw, ew, logging.Nop())
	bus := testBus()
	p.Attach(bus)
	ctx := context.Background()

	bus.Emit(ctx, Payload{Event: EventRunCompleted, Interaction: &domain.InteractionRecord{ID: "a"}})
	bus.Emit(ctx, Payload{Event: EventRunEscalated, Interaction: &domain.InteractionRecord{ID: "b"}})
	bus.Emit(ctx, Payload{Event: EventEscalationCreated, Escalation: &domain.EscalationRecord{InteractionID: "b"}})
	bus.Emit(ctx, Payload{Event: EventToolCalled, Data: map[string]any{"tool": "get_order"}})
	bus.Emit(ctx, Payload{Event: EventRunCompleted}) // no record: ignored

	assert.Len(t, iw.messages(), 2)
	assert.Len(t, ew.messages(), 1)
}
