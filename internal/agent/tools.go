package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/llm"
)

// ErrUnknownTool is wrapped by the ToolError recorded when a model names a
// tool the registry does not hold.
var ErrUnknownTool = errors.New("unknown tool")

// Tool origins recorded on each ToolCall.
const (
	OriginModel        = "model"
	OriginTemplate     = "template"
	OriginOrchestrator = "orchestrator"
)

// Tool is a capability the agent can invoke during a run.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// Parameters returns the JSON Schema object for the tool's input.
	Parameters() map[string]any

	// Execute runs the tool with the given JSON input and returns JSON output.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolRegistry is the closed set of tools a run may dispatch to. Names not
// registered are rejected without invoking anything.
type ToolRegistry struct {
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	now     func() time.Time
}

// NewToolRegistry creates an empty tool registry. A positive timeout bounds
// every Execute call.
func NewToolRegistry(timeout time.Duration) *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		timeout: timeout,
		now:     time.Now,
	}
}

// Register adds a tool. Registering a name twice replaces the earlier tool.
func (r *ToolRegistry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns model-ready tool definitions in registration order.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute dispatches one call and returns the finished ToolCall. Failures are
// recorded on the ToolCall (Error, ErrorKind) rather than returned.
func (r *ToolRegistry) Execute(ctx context.Context, id, name string, input json.RawMessage, origin string) domain.ToolCall {
	if id == "" {
		id = uuid.NewString()
	}
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage(`{}`)
	}
	tc := domain.ToolCall{
		ID:        id,
		Name:      name,
		Input:     input,
		Origin:    origin,
		StartedAt: r.now(),
	}

	t, ok := r.tools[name]
	if !ok {
		fail(&tc, &domain.ToolError{Tool: name, Kind: domain.ToolErrUnknownTool, Err: ErrUnknownTool})
		return tc
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := t.Execute(callCtx, input)
	tc.Duration = r.now().Sub(tc.StartedAt)
	if err != nil {
		fail(&tc, domain.NewToolError(name, err))
		return tc
	}
	tc.Output = rawOutput(out)
	return tc
}

func fail(tc *domain.ToolCall, te *domain.ToolError) {
	tc.Error = te.Error()
	tc.ErrorKind = te.Kind
	out, _ := marshalOutput(map[string]any{"error": string(te.Kind), "message": te.Err.Error()})
	tc.Output = rawOutput(out)
}

// rawOutput keeps valid JSON as-is and quotes anything else.
func rawOutput(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// marshalOutput encodes v without HTML escaping so URLs survive verbatim in
// the recorded evidence.
func marshalOutput(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encoding tool output: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// decodeInput unmarshals tool input, classifying failures as invalid input.
func decodeInput(tool string, input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return &domain.ToolError{Tool: tool, Kind: domain.ToolErrInvalidInput, Err: err}
	}
	return nil
}

func invalidInput(tool, format string, args ...any) error {
	return &domain.ToolError{Tool: tool, Kind: domain.ToolErrInvalidInput, Err: fmt.Errorf(format, args...)}
}
