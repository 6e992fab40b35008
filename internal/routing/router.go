// Package routing connects mail channels to the support orchestrator.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/helpdesk/internal/agent"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

const (
	// defaultAttempts bounds how often a run that failed to persist is
	// retried before the message is left for the next poll.
	defaultAttempts = 3

	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Processor runs one message through the support pipeline.
type Processor interface {
	Process(ctx context.Context, msg domain.Message) (*domain.Response, error)
}

// Sender delivers a reply through the channel named in it.
type Sender interface {
	Send(ctx context.Context, reply domain.Reply) error
}

// Router routes inbound messages to the orchestrator and replies back to the
// originating channel. At most maxConcurrency runs are in flight.
type Router struct {
	processor  Processor
	sender     Sender
	sem        chan struct{}
	runTimeout time.Duration
	log        *logging.Logger

	attempts  int
	baseDelay time.Duration
}

// NewRouter creates a message router.
func NewRouter(processor Processor, sender Sender, maxConcurrency int, runTimeout time.Duration, log *logging.Logger) *Router {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Router{
		processor:  processor,
		sender:     sender,
		sem:        make(chan struct{}, maxConcurrency),
		runTimeout: runTimeout,
		log:        log.Sub("routing"),
		attempts:   defaultAttempts,
		baseDelay:  retryBaseDelay,
	}
}

// Process runs msg through the orchestrator under the concurrency bound and
// run timeout without replying. API callers use it directly.
func (r *Router) Process(ctx context.Context, msg domain.Message) (*domain.Response, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
	defer func() { <-r.sem }()

	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}
	return r.processor.Process(ctx, msg)
}

// processWithRetry retries runs that failed to persist, backing off
// exponentially between attempts. The interaction id is derived from the
// message, so a retry can never produce a second record.
func (r *Router) processWithRetry(ctx context.Context, msg domain.Message, log *logging.Logger) (*domain.Response, error) {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			delay := min(r.baseDelay<<(attempt-1), retryMaxDelay)
			log.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying support run")
			select {
			case <-ctx.Done():
				return nil, err
			case <-time.After(delay):
			}
		}
		var resp *domain.Response
		resp, err = r.Process(ctx, msg)
		if err == nil || !errors.Is(err, agent.ErrPersistence) {
			return resp, err
		}
	}
	return nil, err
}

// HandleInbound processes one message and sends the reply. It blocks until a
// worker slot is free. A reply is sent only when the run, persistence
// included, succeeded; escalated runs send their acknowledgment.
func (r *Router) HandleInbound(ctx context.Context, msg domain.Message) (*domain.Response, error) {
	log := r.log.With("channel", msg.ChannelID).With("from", msg.From)
	log.Info().Str("subject", msg.Subject).Msg("routing inbound message")

	resp, err := r.processWithRetry(ctx, msg, log)
	if err != nil {
		log.Error().Err(err).Msg("support run failed, no reply sent")
		return nil, err
	}

	if r.sender == nil || msg.ChannelID == "" {
		return resp, nil
	}
	reply := domain.ReplyTo(msg, resp.Text)
	if err := r.sender.Send(ctx, reply); err != nil {
		log.Error().Err(err).Str("interactionId", resp.InteractionID).Msg("failed to send reply")
		return resp, fmt.Errorf("sending reply: %w", err)
	}

	log.Info().
		Str("interactionId", resp.InteractionID).
		Str("intent", string(resp.Intent)).
		Str("tier", string(resp.Tier)).
		Bool("escalated", resp.Escalated).
		Bool("cached", resp.Cached).
		Msg("reply sent")
	return resp, nil
}

// Handle is the channel message handler. A nil return tells the channel the
// message is finished and may be marked read.
func (r *Router) Handle(ctx context.Context, msg domain.Message) error {
	_, err := r.HandleInbound(ctx, msg)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.log.Debug().Err(err).Str("from", msg.From).Msg("message left for the next poll")
	}
	return err
}
