package platforms

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

type linkedinErrorBody struct {
	Message        string `json:"message"`
	ServiceErrCode int    `json:"serviceErrorCode"`
	Status         int    `json:"status"`
}

type LinkedinTranslator struct {
	oracle RateLimitRecorder
	cfg    *config.Config
	now    func() time.Time
}

func NewLinkedinTranslator(cfg *config.Config, oracle RateLimitRecorder) *LinkedinTranslator {
	return &LinkedinTranslator{oracle: oracle, cfg: cfg, now: time.Now}
}

func (t *LinkedinTranslator) Translate(ctx context.Context, res shared.UniformResult, cctx CallContext) (shared.UniformResult, bool, error) {
	var body linkedinErrorBody
	decodeBody(res.Body, &body)

	switch res.Status {
	case http.StatusTooManyRequests:
		retryAfter, ok := headerInt64(res, "Retry-After")
		if !ok {
			return shared.UniformResult{}, false, shared.WrapInputValidation(
				fmt.Errorf("linkedin rate limit without Retry-After header (subject=%s endpoint=%s)",
					cctx.Subject, cctx.Endpoint))
		}
		return recordAndDelay(ctx, t.oracle, cctx, t.now().Unix()+retryAfter)
	case http.StatusNotFound:
		return shared.HandledResult(fmt.Sprintf("linkedin resource not found: %s", body.Message)), true, nil
	case http.StatusUnprocessableEntity:
		// LinkedIn reports duplicate shares as 422.
		return shared.HandledResult(fmt.Sprintf("duplicate linkedin share: %s", body.Message)), true, nil
	case http.StatusUnauthorized:
		return shared.UniformResult{}, false, shared.WrapIdempotentDiscard(
			fmt.Errorf("linkedin token invalid or expired for subject %s", cctx.Subject))
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return shared.UniformResult{}, false, shared.WrapTransientInfra(
			fmt.Errorf("linkedin internal error (status %d): %s", res.Status, body.Message))
	}

	return shared.UniformResult{}, false, nil
}
