// Package conflict provides conflict resolution between queued local
// operations and server state discovered at sync time.
package conflict

import (
	"encoding/json"

	"github.com/tablekit/ordersync/internal/errors"
	"github.com/tablekit/ordersync/internal/logging"
	"github.com/tablekit/ordersync/internal/models"
)

// Strategy selects how conflicts are resolved. The set is closed; the
// resolver rejects anything outside it instead of falling back.
type Strategy string

const (
	StrategyClientWins Strategy = "client_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyMerge      Strategy = "merge"
	StrategyTimestamp  Strategy = "timestamp"
	StrategyUserChoice Strategy = "user_choice"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyClientWins, StrategyServerWins, StrategyMerge, StrategyTimestamp, StrategyUserChoice:
		return Strategy(s), nil
	default:
		return "", errors.New(errors.ErrInvalid, "unknown conflict strategy: "+s)
	}
}

// State tracks a conflict through its lifecycle.
type State string

const (
	StateDetected  State = "detected"
	StateResolving State = "resolving"
	StateResolved  State = "resolved"
	StateEscalated State = "escalated"
)

// Action tells the sync engine what to do with a resolved conflict.
type Action string

const (
	// ActionResubmit re-executes the operation, usually with the force
	// flag set so the server overwrites its state.
	ActionResubmit Action = "resubmit"
	// ActionOverwrite discards the local operation and writes the server
	// payload into the cache for the affected key.
	ActionOverwrite Action = "overwrite"
	// ActionEscalate holds the item until a user supplies a strategy.
	ActionEscalate Action = "escalate"
)

// Context carries everything the resolver needs for one conflict. It is
// built per conflict and never persisted.
type Context struct {
	Item            *models.QueueItem
	LocalPayload    json.RawMessage
	RemotePayload   json.RawMessage
	RemoteTimestamp int64 // unix milliseconds
}

// Resolution is the resolver's decision.
type Resolution struct {
	State    State
	Action   Action
	Strategy Strategy // strategy that produced the decision
	Payload  json.RawMessage
	Force    bool
}

// Resolver maps a conflict context to a resolution using the configured
// strategy. It is a pure decision component: it never mutates the queue
// or cache itself.
type Resolver struct {
	strategy Strategy
	log      *logging.Logger
}

// NewResolver creates a Resolver with the given strategy.
func NewResolver(strategy Strategy) *Resolver {
	return &Resolver{
		strategy: strategy,
		log:      logging.Get().WithComponent("conflict"),
	}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve resolves a conflict using the configured strategy.
func (r *Resolver) Resolve(ctx *Context) (*Resolution, error) {
	return r.resolveWith(r.strategy, ctx)
}

// ResolveWith resolves a conflict with an explicit strategy, used when an
// escalated conflict comes back with the user's choice. user_choice is
// not accepted here; it would loop.
func (r *Resolver) ResolveWith(strategy Strategy, ctx *Context) (*Resolution, error) {
	if strategy == StrategyUserChoice {
		return nil, errors.New(errors.ErrInvalid, "user_choice cannot resolve an escalated conflict")
	}
	return r.resolveWith(strategy, ctx)
}

func (r *Resolver) resolveWith(strategy Strategy, ctx *Context) (*Resolution, error) {
	if ctx == nil || ctx.Item == nil {
		return nil, errors.New(errors.ErrInvalid, "conflict context requires a queue item")
	}

	r.log.Info("resolving conflict",
		map[string]interface{}{
			"item_id":          ctx.Item.ID,
			"local_timestamp":  ctx.Item.EnqueuedAt,
			"remote_timestamp": ctx.RemoteTimestamp,
			"strategy":         string(strategy),
		})

	switch strategy {
	case StrategyClientWins:
		return r.resolveClientWins(ctx), nil
	case StrategyServerWins:
		return r.resolveServerWins(ctx), nil
	case StrategyMerge:
		return r.resolveMerge(ctx)
	case StrategyTimestamp:
		return r.resolveTimestamp(ctx), nil
	case StrategyUserChoice:
		return r.resolveUserChoice(ctx), nil
	default:
		return nil, errors.New(errors.ErrInvalid, "unknown conflict strategy: "+string(strategy))
	}
}

// resolveClientWins resubmits the local payload with the force flag so
// the server overwrites its state.
func (r *Resolver) resolveClientWins(ctx *Context) *Resolution {
	return &Resolution{
		State:    StateResolved,
		Action:   ActionResubmit,
		Strategy: StrategyClientWins,
		Payload:  ctx.LocalPayload,
		Force:    true,
	}
}

// resolveServerWins discards the local operation; the server payload
// replaces the cached value for the affected key.
func (r *Resolver) resolveServerWins(ctx *Context) *Resolution {
	return &Resolution{
		State:    StateResolved,
		Action:   ActionOverwrite,
		Strategy: StrategyServerWins,
		Payload:  ctx.RemotePayload,
	}
}

// resolveMerge shallow-merges local fields over server fields and
// resubmits the result. Server-only fields added concurrently under a
// key the client also wrote are lost; correct merge semantics are
// domain-specific, so this stays a plain local-over-server override.
func (r *Resolver) resolveMerge(ctx *Context) (*Resolution, error) {
	merged, err := shallowMerge(ctx.RemotePayload, ctx.LocalPayload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "merge failed", err)
	}
	return &Resolution{
		State:    StateResolved,
		Action:   ActionResubmit,
		Strategy: StrategyMerge,
		Payload:  merged,
		Force:    true,
	}, nil
}

// resolveTimestamp delegates to client_wins when the local operation is
// newer than the server state, server_wins otherwise.
func (r *Resolver) resolveTimestamp(ctx *Context) *Resolution {
	if ctx.Item.EnqueuedAt > ctx.RemoteTimestamp {
		res := r.resolveClientWins(ctx)
		res.Strategy = StrategyTimestamp
		return res
	}
	res := r.resolveServerWins(ctx)
	res.Strategy = StrategyTimestamp
	return res
}

// resolveUserChoice escalates; the engine holds the item and emits an
// event carrying a resolve callback.
func (r *Resolver) resolveUserChoice(ctx *Context) *Resolution {
	r.log.Warn("conflict escalated for user resolution",
		map[string]interface{}{
			"item_id": ctx.Item.ID,
		})
	return &Resolution{
		State:    StateEscalated,
		Action:   ActionEscalate,
		Strategy: StrategyUserChoice,
	}
}

// shallowMerge overlays local's top-level fields onto remote's. Both
// payloads must be JSON objects; a nil side is treated as empty.
func shallowMerge(remote, local json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)

	if len(remote) > 0 {
		if err := json.Unmarshal(remote, &merged); err != nil {
			return nil, err
		}
	}

	if len(local) > 0 {
		localFields := make(map[string]json.RawMessage)
		if err := json.Unmarshal(local, &localFields); err != nil {
			return nil, err
		}
		for k, v := range localFields {
			merged[k] = v
		}
	}

	return json.Marshal(merged)
}
