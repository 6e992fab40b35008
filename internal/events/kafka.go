package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

const publishTimeout = 10 * time.Second

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards interaction and escalation records to Kafka, keyed
// by interaction id so all records of one interaction land on one partition.
type KafkaPublisher struct {
	interactions MessageWriter
	escalations  MessageWriter
	log          *logging.Logger
}

// NewKafkaPublisher creates writers for the two topics.
func NewKafkaPublisher(brokers []string, interactionTopic, escalationTopic string, log *logging.Logger) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		}
	}
	return NewKafkaPublisherWithWriters(newWriter(interactionTopic), newWriter(escalationTopic), log)
}

// NewKafkaPublisherWithWriters uses the given writers.
func NewKafkaPublisherWithWriters(interactions, escalations MessageWriter, log *logging.Logger) *KafkaPublisher {
	return &KafkaPublisher{interactions: interactions, escalations: escalations, log: log.Sub("kafka")}
}

func (p *KafkaPublisher) write(ctx context.Context, w MessageWriter, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return w.WriteMessages(ctx, msg)
}

// PublishInteraction sends an interaction record.
func (p *KafkaPublisher) PublishInteraction(ctx context.Context, rec *domain.InteractionRecord) error {
	if err := p.write(ctx, p.interactions, rec.ID, rec); err != nil {
		return fmt.Errorf("publishing interaction %s: %w", rec.ID, err)
	}
	p.log.Debug().Str("interaction", rec.ID).Str("outcome", string(rec.Outcome)).Msg("published interaction")
	return nil
}

// PublishEscalation sends an escalation record.
func (p *KafkaPublisher) PublishEscalation(ctx context.Context, rec *domain.EscalationRecord) error {
	if err := p.write(ctx, p.escalations, rec.InteractionID, rec); err != nil {
		return fmt.Errorf("publishing escalation %s: %w", rec.ID, err)
	}
	p.log.Debug().Str("interaction", rec.InteractionID).Str("status", string(rec.Status)).Msg("published escalation")
	return nil
}

// Attach subscribes the publisher to the record-carrying events on bus.
// Failures surface as bus handler warnings.
func (p *KafkaPublisher) Attach(bus *Bus) {
	interaction := func(ctx context.Context, pl Payload) error {
		if pl.Interaction == nil {
			return nil
		}
		return p.PublishInteraction(ctx, pl.Interaction)
	}
	escalation := func(ctx context.Context, pl Payload) error {
		if pl.Escalation == nil {
			return nil
		}
		return p.PublishEscalation(ctx, pl.Escalation)
	}
	bus.On(EventRunCompleted, "kafka", interaction)
	bus.On(EventRunEscalated, "kafka", interaction)
	bus.On(EventEscalationCreated, "kafka", escalation)
	bus.On(EventEscalationUpdated, "kafka", escalation)
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	err1 := p.interactions.Close()
	err2 := p.escalations.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
