// Package agent runs one customer message through the support pipeline:
// cache, classification, tier routing, tool-assisted drafting, the grounding
// check, and finally a reply or a human escalation.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/helpdesk/internal/cache"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/events"
	"github.com/soyeahso/helpdesk/internal/llm"
	"github.com/soyeahso/helpdesk/internal/logging"
)

var (
	// ErrAborted is returned when a run is cancelled before a terminal state.
	// The run is recorded with outcome "aborted" and no reply may be sent.
	ErrAborted = errors.New("run aborted")

	// ErrPersistence marks a run whose interaction or escalation could not be
	// written. No reply may be sent; the caller retries with the same message.
	ErrPersistence = errors.New("persistence failure")
)

// BudgetChecker is the read-only spend check consulted before model calls.
type BudgetChecker interface {
	Allow(ctx context.Context) (bool, error)
}

// SpendRecorder accumulates model spend.
type SpendRecorder interface {
	Record(ctx context.Context, costUSD float64) error
}

// InteractionSink persists interaction records. Saving an id that already
// holds a finalized record must be a no-op; an aborted record is replaced.
type InteractionSink interface {
	Save(ctx context.Context, rec *domain.InteractionRecord) (bool, error)
}

// ResponseCache memoizes replies by normalized query.
type ResponseCache interface {
	Lookup(ctx context.Context, normalized string) (*domain.CacheEntry, error)
	Store(ctx context.Context, normalized, response string, intent domain.Intent) (bool, error)
}

// Options wires the orchestrator's collaborators. Router, Tools and
// Interactions are required; the rest may be nil.
type Options struct {
	Classifier   *Classifier
	Router       *Router
	Tools        *ToolRegistry
	Models       map[domain.Tier]TierModel
	Interactions InteractionSink
	Cache        ResponseCache
	Budget       BudgetChecker
	Spend        SpendRecorder
	Events       *events.Bus

	Threshold               float64
	EscalateBelowConfidence float64
	ModelTimeout            time.Duration
	StoreName               string
}

// Orchestrator processes messages. It holds no per-run state, so Process may
// be called concurrently.
type Orchestrator struct {
	opts Options
	log  *logging.Logger
	now  func() time.Time
}

// NewOrchestrator validates opts and creates an orchestrator.
func NewOrchestrator(opts Options, log *logging.Logger) (*Orchestrator, error) {
	if opts.Router == nil {
		return nil, errors.New("orchestrator: router is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("orchestrator: tool registry is required")
	}
	if _, ok := opts.Tools.Get(ToolEscalateToHuman); !ok {
		return nil, fmt.Errorf("orchestrator: %s tool is not registered", ToolEscalateToHuman)
	}
	if opts.Interactions == nil {
		return nil, errors.New("orchestrator: interaction sink is required")
	}
	return &Orchestrator{
		opts: opts,
		log:  log.Sub("agent"),
		now:  time.Now,
	}, nil
}

var interactionNamespace = uuid.MustParse("3b7e1c8a-52d4-4f0e-9a61-7c2d9e4b1f35")

// InteractionID derives the record id for msg. The same message always maps
// to the same id, so a retried run cannot create a second record.
func InteractionID(msg domain.Message) string {
	var key string
	if msg.ID != "" {
		key = msg.ChannelID + "\x00" + msg.ID
	} else {
		key = strings.Join([]string{
			msg.ChannelID,
			strings.ToLower(msg.From),
			msg.Subject,
			msg.Body,
			msg.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}, "\x00")
	}
	return uuid.NewSHA1(interactionNamespace, []byte(key)).String()
}

type run struct {
	msg    domain.Message
	rec    *domain.InteractionRecord
	scope  *RunScope
	ids    Identifiers
	budget int
	start  time.Time
	log    *logging.Logger
}

type decision struct {
	draft    string
	escalate bool
	reason   domain.EscalationReason
	detail   string
	recorded bool // the model already called escalate_to_human
}

func escalateWith(reason domain.EscalationReason, detail string) decision {
	return decision{escalate: true, reason: reason, detail: detail}
}

// Process runs msg through the pipeline and returns the reply to deliver.
// It returns ErrAborted if ctx is cancelled first and ErrPersistence if the
// run could not be recorded; in both cases nothing may be sent.
func (o *Orchestrator) Process(ctx context.Context, msg domain.Message) (*domain.Response, error) {
	id := InteractionID(msg)
	start := o.now()
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = start
	}

	r := &run{
		msg:   msg,
		start: start,
		log:   o.log.ForInteraction(id),
		rec: &domain.InteractionRecord{
			ID:          id,
			MessageID:   msg.ID,
			ChannelID:   msg.ChannelID,
			SenderEmail: msg.From,
			SenderName:  msg.FromName,
			Subject:     msg.Subject,
			Body:        msg.Body,
			ReceivedAt:  msg.ReceivedAt,
			TierUsed:    domain.TierTemplate,
			ToolCalls:   []domain.ToolCall{},
		},
		scope: &RunScope{InteractionID: id, Message: msg},
	}
	r.log.Info().Str("from", msg.From).Str("channel", msg.ChannelID).Msg("processing message")
	o.opts.Events.Emit(ctx, events.Payload{
		Event: events.EventMessageReceived,
		Data:  map[string]any{"interaction": id, "channel": msg.ChannelID, "from": msg.From},
	})

	if ctx.Err() != nil {
		return o.abort(ctx, r)
	}

	normalized := cache.Normalize(msg.Text())
	if resp, err := o.fromCache(ctx, r, normalized); resp != nil || err != nil {
		return resp, err
	}

	cl := o.opts.Classifier.Classify(ctx, msg)
	r.rec.Intent, r.rec.Confidence = cl.Intent, cl.Confidence
	o.addUsage(ctx, r, cl.Usage, cl.Model, cl.CostUSD)
	if ctx.Err() != nil {
		return o.abort(ctx, r)
	}
	o.opts.Events.Emit(ctx, events.Payload{
		Event: events.EventMessageClassified,
		Data: map[string]any{
			"interaction": id,
			"intent":      string(cl.Intent),
			"confidence":  cl.Confidence,
			"fallback":    cl.Fallback,
		},
	})

	r.ids = ExtractIdentifiers(msg)
	tier, budget := o.opts.Router.Route(cl.Intent, cl.Confidence, r.ids.HasAny())
	r.rec.Tier, r.budget = tier, budget
	r.scope.Intent, r.scope.Confidence, r.scope.Tier = cl.Intent, cl.Confidence, tier
	r.log = r.log.With("intent", string(cl.Intent)).With("tier", string(tier))
	r.log.Info().
		Float64("confidence", cl.Confidence).
		Int("budget", budget).
		Bool("identifier", r.ids.HasAny()).
		Msg("routed")

	ctx = WithRunScope(ctx, r.scope)

	var (
		d   decision
		err error
	)
	switch {
	case cl.Intent == domain.IntentComplaint || cl.Intent == domain.IntentEscalationRequest:
		d = escalateWith(domain.ReasonExplicitComplaint, "intent "+string(cl.Intent))
	case cl.Intent != domain.IntentGeneralInquiry && cl.Confidence < o.opts.EscalateBelowConfidence:
		d = escalateWith(domain.ReasonAmbiguousQuery, fmt.Sprintf("classifier confidence %.2f", cl.Confidence))
	case tier == domain.TierTemplate:
		d = o.runTemplate(ctx, r)
	default:
		d, err = o.act(ctx, r)
	}
	if err != nil || ctx.Err() != nil {
		return o.abort(ctx, r)
	}

	if !d.escalate {
		v := CheckGrounding(GroundingInput{
			Draft:     d.draft,
			Intent:    r.rec.Intent,
			Tier:      r.rec.Tier,
			Calls:     r.rec.ToolCalls,
			Chunks:    r.scope.Chunks(),
			Threshold: o.opts.Threshold,
			Customer:  r.msg.Text(),
		})
		if !v.Grounded {
			r.log.Warn().Str("reason", string(v.Reason)).Str("detail", v.Detail).Msg("grounding check failed")
			d = escalateWith(v.Reason, v.Detail)
		}
	}

	if ctx.Err() != nil {
		return o.abort(ctx, r)
	}
	if d.escalate {
		if err := o.escalate(ctx, r, d); err != nil {
			if ctx.Err() != nil {
				return o.abort(ctx, r)
			}
			return nil, err
		}
	} else {
		r.rec.Outcome = domain.OutcomeResponded
		r.rec.Response = d.draft
	}
	return o.finish(ctx, r, normalized)
}

// fromCache answers from the response cache. A nil response means a miss.
func (o *Orchestrator) fromCache(ctx context.Context, r *run, normalized string) (*domain.Response, error) {
	if o.opts.Cache == nil {
		return nil, nil
	}
	entry, err := o.opts.Cache.Lookup(ctx, normalized)
	if err != nil {
		r.log.Warn().Err(err).Msg("cache lookup failed")
		return nil, nil
	}
	if entry == nil {
		return nil, nil
	}
	r.log.Info().Int64("hits", entry.HitCount).Msg("cache hit")
	r.rec.Intent = entry.Intent
	r.rec.Tier = domain.TierTemplate
	r.rec.Response = personalize(entry.Response, r.msg.FromName)
	r.rec.Outcome = domain.OutcomeCached
	return o.finish(ctx, r, normalized)
}

// runTemplate answers without a model: the canned general reply, or a
// deterministic order lookup rendered from the tool output.
func (o *Orchestrator) runTemplate(ctx context.Context, r *run) decision {
	intent := r.rec.Intent
	if intent != domain.IntentOrderStatus && intent != domain.IntentShippingTracking {
		return decision{draft: GeneralReply(r.msg.FromName)}
	}

	var (
		input      map[string]string
		identifier string
	)
	if len(r.ids.OrderNumbers) > 0 {
		input = map[string]string{"order_number": r.ids.OrderNumbers[0]}
		identifier = "#" + r.ids.OrderNumbers[0]
	} else {
		input = map[string]string{"customer_email": r.ids.Emails[0]}
		identifier = r.ids.Emails[0]
	}

	tc := o.call(ctx, r, "", ToolGetOrder, mustJSON(input), OriginTemplate)
	if tc.Failed() {
		return escalateWith(domain.ReasonRepeatedToolFailure, "order lookup failed: "+tc.Error)
	}
	var lookup struct {
		Found bool          `json:"found"`
		Order *domain.Order `json:"order"`
	}
	if err := json.Unmarshal(tc.Output, &lookup); err != nil {
		return escalateWith(domain.ReasonRepeatedToolFailure, "unreadable order lookup")
	}
	if !lookup.Found || lookup.Order == nil {
		return decision{draft: OrderNotFoundReply(r.msg.FromName, identifier)}
	}

	var (
		f       *domain.Fulfillment
		checked bool
	)
	if intent == domain.IntentShippingTracking && r.budget >= 2 && ctx.Err() == nil {
		tc := o.call(ctx, r, "", ToolGetFulfillment, mustJSON(map[string]string{"order_number": lookup.Order.OrderNumber}), OriginTemplate)
		if tc.Failed() {
			return escalateWith(domain.ReasonRepeatedToolFailure, "fulfillment lookup failed: "+tc.Error)
		}
		var ful struct {
			Fulfillment *domain.Fulfillment `json:"fulfillment"`
		}
		if err := json.Unmarshal(tc.Output, &ful); err != nil {
			return escalateWith(domain.ReasonRepeatedToolFailure, "unreadable fulfillment lookup")
		}
		f, checked = ful.Fulfillment, true
	}
	return decision{draft: OrderStatusReply(r.msg.FromName, lookup.Order, f, checked)}
}

// act is the bounded model loop. Each iteration asks the tier model for the
// next step; requested tools run sequentially and their outputs are fed
// back. It stops on a final answer, an exhausted tool budget (after one
// last tool-free turn), or the iteration ceiling. A non-nil error means ctx
// was cancelled.
func (o *Orchestrator) act(ctx context.Context, r *run) (decision, error) {
	model, ok := o.opts.Models[r.rec.Tier]
	if !ok || model.Client == nil {
		return escalateWith(domain.ReasonLowConfidence, "no model configured for tier "+string(r.rec.Tier)), nil
	}

	tools := o.opts.Tools.Definitions()
	system := BuildSystemPrompt(PromptConfig{
		StoreName:     o.opts.StoreName,
		Intent:        r.rec.Intent,
		Tier:          r.rec.Tier,
		Tools:         tools,
		IncludeFormat: true,
		Now:           o.now(),
	})
	messages := []llm.Message{{Role: llm.RoleUser, Content: BuildMessagePrompt(r.msg, r.ids)}}

	used := 0
	for iter := 0; iter < o.opts.Router.HardCeiling(); iter++ {
		if err := ctx.Err(); err != nil {
			return decision{}, err
		}
		if !o.allowSpend(ctx, r) {
			return escalateWith(domain.ReasonLowConfidence, "budget_exhausted"), nil
		}

		req := llm.CompletionRequest{
			System:      system,
			Messages:    messages,
			MaxTokens:   model.MaxTokens,
			Temperature: model.Temperature,
		}
		remaining := r.budget - used
		if remaining > 0 {
			req.Tools = tools
		} else {
			req.System = system + "\n" + budgetExhaustedPrompt
		}

		resp, err := o.complete(ctx, r, model, req)
		if err != nil {
			if ctx.Err() != nil {
				return decision{}, ctx.Err()
			}
			r.log.Error().Err(err).Msg("tier model failed")
			return escalateWith(domain.ReasonLowConfidence, "model unavailable"), nil
		}
		if len(resp.ToolCalls) == 0 || remaining <= 0 {
			return decision{draft: strings.TrimSpace(resp.Content)}, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			if used >= r.budget || ctx.Err() != nil {
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					ToolCallID: call.ID,
					Content:    `{"error":"budget_exhausted","message":"tool call budget exhausted"}`,
				})
				continue
			}
			tc := o.call(ctx, r, call.ID, call.Name, call.Input, OriginModel)
			used++
			if tc.Name == ToolEscalateToHuman && !tc.Failed() {
				esc := r.scope.Escalation()
				return decision{escalate: true, reason: esc.Reason, detail: "requested by model", recorded: true}, nil
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Content:    string(tc.Output),
			})
		}
	}

	r.log.Warn().Int("ceiling", o.opts.Router.HardCeiling()).Msg("iteration ceiling reached without a final answer")
	return decision{}, nil
}

func (o *Orchestrator) complete(ctx context.Context, r *run, model TierModel, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	callCtx := ctx
	if o.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.ModelTimeout)
		defer cancel()
	}
	start := o.now()
	resp, err := model.Client.Complete(callCtx, req)
	if err != nil {
		return nil, err
	}
	r.rec.TierUsed = r.rec.Tier
	r.rec.ModelUsed = resp.Model
	o.addUsage(ctx, r, resp.Usage, resp.Model, resp.CostUSD)
	r.log.Debug().
		Str("model", resp.Model).
		Int("tool_calls", len(resp.ToolCalls)).
		Dur("duration", o.now().Sub(start)).
		Msg("model turn")
	return resp, nil
}

// call executes one tool and appends it to the record.
func (o *Orchestrator) call(ctx context.Context, r *run, id, name string, input json.RawMessage, origin string) domain.ToolCall {
	tc := o.opts.Tools.Execute(ctx, id, name, input, origin)
	r.rec.ToolCalls = append(r.rec.ToolCalls, tc)
	r.scope.addCall(tc)

	if tc.Failed() {
		r.log.Warn().
			Str("tool", name).
			Str("origin", origin).
			Str("kind", string(tc.ErrorKind)).
			Str("error", tc.Error).
			Msg("tool failed")
	} else {
		r.log.Info().Str("tool", name).Str("origin", origin).Dur("duration", tc.Duration).Msg("tool called")
	}

	o.opts.Events.Emit(ctx, events.Payload{
		Event: events.EventToolCalled,
		Data: map[string]any{
			"interaction": r.rec.ID,
			"tool":        name,
			"origin":      origin,
			"failed":      tc.Failed(),
			"errorKind":   string(tc.ErrorKind),
		},
	})
	return tc
}

func (o *Orchestrator) escalate(ctx context.Context, r *run, d decision) error {
	if !d.recorded || r.scope.Escalation() == nil {
		input := mustJSON(escalateInput{
			Reason:   string(d.reason),
			Priority: string(priorityFor(d.reason, r.rec.Intent)),
			Summary:  escalationSummary(r.msg),
			Detail:   d.detail,
		})
		tc := o.call(ctx, r, "", ToolEscalateToHuman, input, OriginOrchestrator)
		if tc.Failed() {
			return fmt.Errorf("%w: escalating %s: %s", ErrPersistence, r.rec.ID, tc.Error)
		}
	}
	esc := r.scope.Escalation()
	r.rec.Outcome = domain.OutcomeEscalated
	r.rec.EscalationReason = esc.Reason
	r.rec.Response = EscalationAck(r.msg.FromName, esc.Priority)
	r.log.Info().Str("reason", string(esc.Reason)).Str("priority", string(esc.Priority)).Msg("escalated")
	return nil
}

func priorityFor(reason domain.EscalationReason, intent domain.Intent) domain.Priority {
	switch {
	case reason == domain.ReasonRepeatedToolFailure:
		return domain.PriorityHigh
	case reason == domain.ReasonExplicitComplaint && intent == domain.IntentComplaint:
		return domain.PriorityHigh
	}
	return domain.PriorityMedium
}

// finish persists the record and, for grounded replies, updates the cache.
// The response is fully composed before the write, and a failed write
// returns ErrPersistence so the caller never sends an unrecorded reply.
func (o *Orchestrator) finish(ctx context.Context, r *run, normalized string) (*domain.Response, error) {
	if ctx.Err() != nil {
		return o.abort(ctx, r)
	}
	rec := r.rec
	rec.Latency = o.now().Sub(r.start)
	rec.CreatedAt = o.now()

	resp := &domain.Response{
		InteractionID:    rec.ID,
		Text:             rec.Response,
		Intent:           rec.Intent,
		Tier:             rec.TierUsed,
		Escalated:        rec.Outcome == domain.OutcomeEscalated,
		EscalationReason: rec.EscalationReason,
		Cached:           rec.Outcome == domain.OutcomeCached,
	}

	created, err := o.opts.Interactions.Save(ctx, rec)
	if err != nil {
		r.log.Error().Err(err).Msg("persisting interaction failed")
		return nil, fmt.Errorf("%w: saving interaction %s: %w", ErrPersistence, rec.ID, err)
	}
	if !created {
		r.log.Debug().Msg("interaction already recorded")
	}

	if rec.Outcome == domain.OutcomeResponded && o.opts.Cache != nil && !r.scope.UsedStorefront() {
		if body, ok := impersonal(rec.Response, r.msg); !ok {
			r.log.Debug().Msg("reply names the customer, not cached")
		} else if _, err := o.opts.Cache.Store(ctx, normalized, body, rec.Intent); err != nil {
			r.log.Warn().Err(err).Msg("cache store failed")
		}
	}

	event := events.EventRunCompleted
	if rec.Outcome == domain.OutcomeEscalated {
		event = events.EventRunEscalated
		if esc := r.scope.Escalation(); esc != nil {
			o.opts.Events.EmitAsync(ctx, events.Payload{Event: events.EventEscalationCreated, Interaction: rec, Escalation: esc})
		}
	}
	o.opts.Events.EmitAsync(ctx, events.Payload{Event: event, Interaction: rec, Escalation: r.scope.Escalation()})

	r.log.Info().
		Str("outcome", string(rec.Outcome)).
		Int("tool_calls", len(rec.ToolCalls)).
		Float64("cost_usd", rec.CostUSD).
		Dur("duration", rec.Latency).
		Msg("run finished")
	return resp, nil
}

// abort records the run as incomplete. The write ignores the cancellation
// so the aborted record still lands.
func (o *Orchestrator) abort(ctx context.Context, r *run) (*domain.Response, error) {
	rec := r.rec
	rec.Outcome = domain.OutcomeAborted
	rec.Response = ""
	rec.EscalationReason = ""
	rec.Latency = o.now().Sub(r.start)
	rec.CreatedAt = o.now()

	if _, err := o.opts.Interactions.Save(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Error().Err(err).Msg("persisting aborted interaction failed")
	}
	r.log.Warn().Err(context.Cause(ctx)).Int("tool_calls", len(rec.ToolCalls)).Msg("run aborted")
	return nil, fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
}

func (o *Orchestrator) allowSpend(ctx context.Context, r *run) bool {
	if o.opts.Budget == nil {
		return true
	}
	ok, err := o.opts.Budget.Allow(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("budget check failed, allowing call")
		return true
	}
	return ok
}

func (o *Orchestrator) addUsage(ctx context.Context, r *run, usage llm.Usage, model string, cost float64) {
	r.rec.TokensInput += usage.InputTokens
	r.rec.TokensOutput += usage.OutputTokens
	if cost == 0 {
		cost = llm.EstimateCost(model, usage)
	}
	r.rec.CostUSD += cost
	if o.opts.Spend != nil && cost > 0 {
		if err := o.opts.Spend.Record(context.WithoutCancel(ctx), cost); err != nil {
			r.log.Warn().Err(err).Msg("recording spend failed")
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("agent: encoding %T: %v", v, err))
	}
	return b
}
