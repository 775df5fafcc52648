// Package gateway wires inbound conversational events through the session
// store and the permission engine, and hands allowed actions to the workflow
// runner.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/agentgate-io/agentgate/internal/audit"
	"github.com/agentgate-io/agentgate/internal/policy"
	"github.com/agentgate-io/agentgate/internal/session"
	"github.com/agentgate-io/agentgate/pkg/types"
)

// Runner is the workflow execution wrapper boundary. The gateway never calls
// it for denied actions.
type Runner interface {
	Run(ctx context.Context, name string, inputs map[string]any) (types.WorkflowResult, error)
}

// Event is one inbound action attempt from a chat platform.
type Event struct {
	Platform  string
	Channel   string
	ThreadID  string
	UserID    string
	MessageTS string

	Kind              policy.Kind
	ToolName          string
	Arguments         map[string]any
	RequestedResource string
}

// SessionKey is the composite conversation identity, e.g. "slack:C1:thread:123".
func (e Event) SessionKey() string {
	return fmt.Sprintf("%s:%s:thread:%s", e.Platform, e.Channel, e.ThreadID)
}

// Outcome carries the verdict and, for allowed actions, the runner result.
type Outcome struct {
	SessionID string
	Decision  policy.Decision
	Result    *types.WorkflowResult
}

type Gateway struct {
	engine   atomic.Pointer[policy.Engine]
	sessions *session.Store
	runner   Runner
	sink     audit.Sink
	logger   *slog.Logger
}

func New(engine *policy.Engine, sessions *session.Store, runner Runner, sink audit.Sink, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g := &Gateway{
		sessions: sessions,
		runner:   runner,
		sink:     sink,
		logger:   logger,
	}
	g.engine.Store(engine)
	return g
}

// HandleAction resolves the session, evaluates the request, executes allowed
// actions through the runner and records the latest route.
func (g *Gateway) HandleAction(ctx context.Context, event Event) (Outcome, error) {
	key := event.SessionKey()
	entry, err := g.sessions.GetOrCreate(key)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve session %q: %w", key, err)
	}

	request := policy.Request{
		ToolName:          event.ToolName,
		Kind:              event.Kind,
		Arguments:         event.Arguments,
		RequestedResource: event.RequestedResource,
		SessionID:         entry.SessionID,
	}

	decision, err := g.engine.Load().Evaluate(request)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{SessionID: entry.SessionID, Decision: decision}

	if decision.Allowed() {
		g.logger.Debug("action allowed",
			"tool", event.ToolName, "kind", event.Kind, "rule", decision.Rule)
		if g.runner != nil {
			result, err := g.runner.Run(ctx, event.ToolName, runnerInputs(event.Arguments, decision))
			if err != nil {
				return outcome, fmt.Errorf("run %q: %w", event.ToolName, err)
			}
			outcome.Result = &result
		}
	} else {
		g.logger.Info("action denied",
			"tool", event.ToolName, "kind", event.Kind, "reason", decision.Reason)
	}

	if _, err := g.sessions.UpdateLastRoute(key, session.Route{
		Channel:   event.Channel,
		ThreadID:  event.ThreadID,
		UserID:    event.UserID,
		MessageTS: event.MessageTS,
	}); err != nil {
		return outcome, fmt.Errorf("update route %q: %w", key, err)
	}

	return outcome, nil
}

// ReloadPolicy loads and validates a new document, then swaps it in
// atomically. In-flight evaluations keep the document they started with; an
// invalid document leaves the current one in place.
func (g *Gateway) ReloadPolicy(path string) error {
	loaded, err := policy.Load(path)
	if err != nil {
		return err
	}
	engine, err := policy.NewEngine(loaded, g.sink, g.logger)
	if err != nil {
		return err
	}
	g.engine.Store(engine)
	g.logger.Info("policy reloaded", "version", loaded.Document.Version, "hash", loaded.Hash)
	return nil
}

// Policy returns the currently loaded policy.
func (g *Gateway) Policy() policy.LoadedPolicy {
	return g.engine.Load().Policy()
}

// runnerInputs passes the argument bag through, overriding the timeout when
// the verdict clamped it.
func runnerInputs(arguments map[string]any, decision policy.Decision) map[string]any {
	if decision.TimeoutSeconds <= 0 {
		return arguments
	}
	inputs := make(map[string]any, len(arguments)+1)
	for k, v := range arguments {
		inputs[k] = v
	}
	inputs["timeout_seconds"] = decision.TimeoutSeconds
	return inputs
}
