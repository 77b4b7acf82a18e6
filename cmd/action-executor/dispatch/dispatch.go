package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsemate/action-engine/cmd/action-executor/httpcall"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// Handler executes one action type. Handlers are stateless per message.
type Handler interface {
	Handle(ctx context.Context, action *shared.Action) (shared.UniformResult, error)
}

type HandlerFunc func(ctx context.Context, action *shared.Action) (shared.UniformResult, error)

func (f HandlerFunc) Handle(ctx context.Context, action *shared.Action) (shared.UniformResult, error) {
	return f(ctx, action)
}

// Oracle is the rate-limit query surface handlers consult before touching
// the network.
type Oracle interface {
	GetResetAt(ctx context.Context, subject, platform, method, endpoint string) (int64, error)
	ComputeDelay(resetAt int64) int64
}

// Caller performs one outbound HTTP attempt.
type Caller interface {
	Do(ctx context.Context, req httpcall.Request) (shared.UniformResult, error)
}

// Registry maps action type tags to handlers. Built once at startup;
// Register also allows tests to substitute handlers.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(actionType string, h Handler) {
	r.handlers[actionType] = h
}

func (r *Registry) Lookup(actionType string) (Handler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}

// Dispatcher routes one action to its handler, honoring the pre-dispatch
// delay. An unrecognized type is fatal and never retried.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

func (d *Dispatcher) Dispatch(ctx context.Context, action *shared.Action) (shared.UniformResult, error) {
	if action.Delay > 0 {
		zap.S().Debugf("Delaying %s for %dms before dispatch", action.Type, action.Delay)
		if err := sleepContext(ctx, time.Duration(action.Delay)*time.Millisecond); err != nil {
			return shared.UniformResult{}, err
		}
	}

	handler, ok := d.registry.Lookup(action.Type)
	if !ok {
		return shared.UniformResult{}, shared.WrapInputValidation(fmt.Errorf("Action not recognized: %s", action.Type))
	}
	return handler.Handle(ctx, action)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
