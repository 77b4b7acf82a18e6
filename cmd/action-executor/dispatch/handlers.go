package dispatch

import (
	"context"

	"github.com/pulsemate/action-engine/cmd/action-executor/httpcall"
	"github.com/pulsemate/action-engine/cmd/action-executor/platforms"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// Builder constructs the outbound request for one action. Payload shapes are
// the request builders' concern, not the engine's.
type Builder func(action *shared.Action) (httpcall.Request, error)

// PlatformHandler is the shared leaf handler shape: consult the oracle,
// build the request, make exactly one call, translate the outcome.
type PlatformHandler struct {
	oracle    Oracle
	call      Caller
	translate platforms.Translator
	build     Builder
	platform  string
	method    string
	endpoint  string
}

func NewPlatformHandler(oracle Oracle, call Caller, translate platforms.Translator, build Builder, platform, method, endpoint string) *PlatformHandler {
	return &PlatformHandler{
		oracle:    oracle,
		call:      call,
		translate: translate,
		build:     build,
		platform:  platform,
		method:    method,
		endpoint:  endpoint,
	}
}

func (h *PlatformHandler) Handle(ctx context.Context, action *shared.Action) (shared.UniformResult, error) {
	resetAt, err := h.oracle.GetResetAt(ctx, action.Subject, h.platform, h.method, h.endpoint)
	if err != nil {
		return shared.UniformResult{}, err
	}
	if resetAt > 0 {
		// Throttled: no network call, requeue the unmodified action.
		return shared.DelayResult(h.oracle.ComputeDelay(resetAt), action), nil
	}

	req, err := h.build(action)
	if err != nil {
		return shared.UniformResult{}, err
	}
	if req.RetryRemaining == nil {
		req.RetryRemaining = action.RetryRemaining
	}

	res, err := h.call.Do(ctx, req)
	if err != nil {
		return shared.UniformResult{}, err
	}

	if res.Kind == shared.KindSuccess && res.Status >= 400 {
		cctx := platforms.CallContext{
			Subject:  action.Subject,
			Platform: h.platform,
			Method:   h.method,
			Endpoint: h.endpoint,
			Action:   action,
		}
		translated, handled, terr := h.translate.Translate(ctx, res, cctx)
		if terr != nil {
			return shared.UniformResult{}, terr
		}
		if handled {
			return translated, nil
		}
		// Untranslated statuses flow through unchanged; the resolver owns
		// the generic >= 400 branching, including 409 duplicate detection.
	}
	return res, nil
}
