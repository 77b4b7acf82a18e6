package platforms

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// Graph API error codes, payload shape
// {"error":{"code":4,"error_subcode":0,"message":"..."}}.
const (
	fbCodeAppRateLimit    = 4
	fbCodeUserRateLimit   = 17
	fbCodePageRateLimit   = 32
	fbCodeCustomRateLimit = 613
	fbCodeUnknown         = 1
	fbCodeService         = 2
	fbCodeParam           = 100
	fbCodeDuplicate       = 506
	fbCodePolicy          = 368
	fbSubcodeNotFound     = 33
)

type facebookErrorBody struct {
	Error struct {
		Code        int    `json:"code"`
		Subcode     int    `json:"error_subcode"`
		Message     string `json:"message"`
		IsTransient bool   `json:"is_transient"`
	} `json:"error"`
}

// x-business-use-case-usage values carry the minutes until throttling lifts.
type fbUsageEntry struct {
	EstimatedTimeToRegainAccess int64 `json:"estimated_time_to_regain_access"`
}

type FacebookTranslator struct {
	oracle RateLimitRecorder
	cfg    *config.Config
	now    func() time.Time
}

func NewFacebookTranslator(cfg *config.Config, oracle RateLimitRecorder) *FacebookTranslator {
	return &FacebookTranslator{oracle: oracle, cfg: cfg, now: time.Now}
}

func (t *FacebookTranslator) Translate(ctx context.Context, res shared.UniformResult, cctx CallContext) (shared.UniformResult, bool, error) {
	var body facebookErrorBody
	if !decodeBody(res.Body, &body) || body.Error.Code == 0 {
		return shared.UniformResult{}, false, nil
	}
	code := body.Error.Code
	message := body.Error.Message

	switch code {
	case fbCodeAppRateLimit, fbCodeUserRateLimit, fbCodePageRateLimit, fbCodeCustomRateLimit:
		resetAt := t.resetFromUsageHeader(res)
		if resetAt == 0 {
			// Graph carries no reset timestamp for these; the documented
			// throttle window is the deterministic fallback.
			resetAt = t.now().Unix() + t.cfg.FacebookThrottleSeconds
		}
		return recordAndDelay(ctx, t.oracle, cctx, resetAt)
	case fbCodeParam:
		if body.Error.Subcode == fbSubcodeNotFound {
			return shared.HandledResult(fmt.Sprintf("facebook object not found: %s", message)), true, nil
		}
	case fbCodeDuplicate:
		return shared.HandledResult(fmt.Sprintf("duplicate facebook post: %s", message)), true, nil
	case fbCodePolicy:
		return shared.UniformResult{}, false, shared.WrapIdempotentDiscard(
			fmt.Errorf("facebook policy rejection for subject %s: %s", cctx.Subject, message))
	case fbCodeUnknown, fbCodeService:
		return shared.UniformResult{}, false, shared.WrapTransientInfra(
			fmt.Errorf("facebook internal error (code %d): %s", code, message))
	}

	// Graph marks retryable faults explicitly regardless of code.
	if body.Error.IsTransient {
		return shared.UniformResult{}, false, shared.WrapTransientInfra(
			fmt.Errorf("facebook transient error (code %d): %s", code, message))
	}

	return shared.UniformResult{}, false, nil
}

// resetFromUsageHeader parses x-business-use-case-usage, e.g.
// {"<id>":[{"estimated_time_to_regain_access":14,...}]}, returning an
// absolute reset time or 0.
func (t *FacebookTranslator) resetFromUsageHeader(res shared.UniformResult) int64 {
	if res.Headers == nil {
		return 0
	}
	raw := res.Headers.Get("x-business-use-case-usage")
	if raw == "" {
		return 0
	}
	var usage map[string][]fbUsageEntry
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return 0
	}
	for _, entries := range usage {
		for _, entry := range entries {
			if entry.EstimatedTimeToRegainAccess > 0 {
				return t.now().Unix() + entry.EstimatedTimeToRegainAccess*60
			}
		}
	}
	return 0
}
