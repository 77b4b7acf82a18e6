package platforms

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// Google API error reasons, payload shape
// {"error":{"code":403,"errors":[{"reason":"rateLimitExceeded","message":"..."}]}}.
const (
	googleReasonRateLimit     = "rateLimitExceeded"
	googleReasonUserRateLimit = "userRateLimitExceeded"
	googleReasonDailyLimit    = "dailyLimitExceeded"
	googleReasonQuota         = "quotaExceeded"
	googleReasonNotFound      = "notFound"
	googleReasonBackendError  = "backendError"
	googleReasonInternalError = "internalError"
	googleReasonAuthError     = "authError"
)

type googleErrorBody struct {
	Error struct {
		Code   int `json:"code"`
		Errors []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

type GoogleTranslator struct {
	oracle RateLimitRecorder
	cfg    *config.Config
	now    func() time.Time
}

func NewGoogleTranslator(cfg *config.Config, oracle RateLimitRecorder) *GoogleTranslator {
	return &GoogleTranslator{oracle: oracle, cfg: cfg, now: time.Now}
}

func (t *GoogleTranslator) Translate(ctx context.Context, res shared.UniformResult, cctx CallContext) (shared.UniformResult, bool, error) {
	var body googleErrorBody
	decodeBody(res.Body, &body)
	reason := ""
	message := ""
	if len(body.Error.Errors) > 0 {
		reason = body.Error.Errors[0].Reason
		message = body.Error.Errors[0].Message
	}

	switch reason {
	case googleReasonRateLimit, googleReasonUserRateLimit:
		// Google carries no reset timestamp; the documented per-user window
		// is the deterministic fallback.
		resetAt := t.now().Unix() + t.cfg.GoogleThrottleSeconds
		return recordAndDelay(ctx, t.oracle, cctx, resetAt)
	case googleReasonDailyLimit, googleReasonQuota:
		return shared.DelayResult(t.cfg.QuotaDelayMS, cctx.Action), true, nil
	case googleReasonNotFound:
		return shared.HandledResult(fmt.Sprintf("google resource not found: %s", message)), true, nil
	case googleReasonBackendError, googleReasonInternalError:
		return shared.UniformResult{}, false, shared.WrapTransientInfra(
			fmt.Errorf("google backend error: %s", message))
	case googleReasonAuthError:
		return shared.UniformResult{}, false, shared.WrapIdempotentDiscard(
			fmt.Errorf("google token invalid or expired for subject %s", cctx.Subject))
	}

	if res.Status == http.StatusNotFound {
		return shared.HandledResult("google resource not found"), true, nil
	}
	if res.Status == http.StatusUnauthorized {
		return shared.UniformResult{}, false, shared.WrapIdempotentDiscard(
			fmt.Errorf("google token invalid or expired for subject %s", cctx.Subject))
	}

	return shared.UniformResult{}, false, nil
}
