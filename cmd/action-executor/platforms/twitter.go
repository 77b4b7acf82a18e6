package platforms

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// Twitter error codes the engine cares about. See the error payload shape
// {"errors":[{"code":88,"message":"Rate limit exceeded"}]}.
const (
	twitterCodeRateLimit     = 88
	twitterCodeOverCapacity  = 130
	twitterCodeInternalError = 131
	twitterCodeDailyLimit    = 185
	twitterCodeDuplicateDM   = 186
	twitterCodeDuplicate     = 187
	twitterCodeNotFound      = 34
	twitterCodeNoStatus      = 144
	twitterCodeAlreadyFaved  = 139
	twitterCodeExpiredToken  = 89
)

type twitterErrorBody struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type TwitterTranslator struct {
	oracle RateLimitRecorder
	cfg    *config.Config
}

func NewTwitterTranslator(cfg *config.Config, oracle RateLimitRecorder) *TwitterTranslator {
	return &TwitterTranslator{oracle: oracle, cfg: cfg}
}

func (t *TwitterTranslator) Translate(ctx context.Context, res shared.UniformResult, cctx CallContext) (shared.UniformResult, bool, error) {
	var body twitterErrorBody
	decodeBody(res.Body, &body)
	code := 0
	message := ""
	if len(body.Errors) > 0 {
		code = body.Errors[0].Code
		message = body.Errors[0].Message
	}

	// Rate limit detection has to win over the generic retry classification,
	// otherwise a 429 becomes a retry storm instead of a long delay.
	if res.Status == http.StatusTooManyRequests || code == twitterCodeRateLimit {
		resetAt, ok := headerInt64(res, "x-rate-limit-reset")
		if !ok {
			return shared.UniformResult{}, false, shared.WrapInputValidation(
				fmt.Errorf("twitter rate limit without x-rate-limit-reset header (subject=%s endpoint=%s)",
					cctx.Subject, cctx.Endpoint))
		}
		return recordAndDelay(ctx, t.oracle, cctx, resetAt)
	}

	switch code {
	case twitterCodeDailyLimit:
		// Hard daily quota: fixed-duration delay, no persisted record.
		return shared.DelayResult(t.cfg.QuotaDelayMS, cctx.Action), true, nil
	case twitterCodeDuplicate, twitterCodeDuplicateDM:
		return shared.HandledResult(fmt.Sprintf("duplicate twitter content: %s", message)), true, nil
	case twitterCodeNotFound, twitterCodeNoStatus:
		return shared.HandledResult(fmt.Sprintf("twitter resource not found: %s", message)), true, nil
	case twitterCodeAlreadyFaved:
		return shared.HandledResult("tweet already favorited"), true, nil
	case twitterCodeExpiredToken:
		return shared.UniformResult{}, false, shared.WrapIdempotentDiscard(
			fmt.Errorf("twitter token invalid or expired for subject %s", cctx.Subject))
	case twitterCodeOverCapacity, twitterCodeInternalError:
		return shared.UniformResult{}, false, shared.WrapTransientInfra(
			fmt.Errorf("twitter over capacity (code %d): %s", code, message))
	}

	if res.Status == http.StatusServiceUnavailable {
		return shared.UniformResult{}, false, shared.WrapTransientInfra(
			fmt.Errorf("twitter unavailable (status %d)", res.Status))
	}

	return shared.UniformResult{}, false, nil
}
