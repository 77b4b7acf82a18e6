package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// SequenceHandler executes an ordered list of sub-actions strictly in order,
// one at a time. The enclosing subject is propagated to sub-actions that do
// not carry their own, and the first failing sub-action short-circuits the
// rest.
type SequenceHandler struct {
	dispatcher *Dispatcher
}

func NewSequenceHandler(dispatcher *Dispatcher) *SequenceHandler {
	return &SequenceHandler{dispatcher: dispatcher}
}

func (h *SequenceHandler) Handle(ctx context.Context, action *shared.Action) (shared.UniformResult, error) {
	raw, ok := action.Payload["actions"]
	if !ok {
		return shared.UniformResult{}, shared.WrapInputValidation(errors.New("SEQUENCE payload is missing actions"))
	}
	items, ok := raw.([]any)
	if !ok {
		return shared.UniformResult{}, shared.WrapInputValidation(
			fmt.Errorf("SEQUENCE actions must be an array, got %T", raw))
	}

	// Validate the whole list before dispatching anything: a nested SEQUENCE
	// must not get the chance to run a prefix of its siblings first.
	subs := make([]*shared.Action, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return shared.UniformResult{}, shared.WrapInputValidation(
				fmt.Errorf("SEQUENCE action %d must be an object, got %T", i, item))
		}
		sub, err := shared.ActionFromMap(m)
		if err != nil {
			return shared.UniformResult{}, err
		}
		if sub.Type == shared.TypeSequence {
			return shared.UniformResult{}, shared.WrapInputValidation(errors.New("SEQUENCE must not contain a nested SEQUENCE"))
		}
		if sub.Subject == "" {
			sub.Subject = action.Subject
		}
		subs = append(subs, sub)
	}

	results := make([]shared.UniformResult, 0, len(subs))
	for _, sub := range subs {
		res, err := h.dispatcher.Dispatch(ctx, sub)
		if err != nil {
			return shared.UniformResult{}, err
		}
		if res.Kind != shared.KindSuccess && res.Kind != shared.KindHandled {
			return res, nil
		}
		results = append(results, res)
	}

	return shared.UniformResult{Kind: shared.KindSuccess, Sub: results}, nil
}
