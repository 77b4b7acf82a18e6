// Package platforms normalizes vendor-specific error vocabularies into the
// uniform result contract. Classification happens here, as close to the
// source as possible; anything a translator does not recognize flows through
// to the resolver's generic bucketing unchanged.
package platforms

import (
	"context"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

const (
	PlatformTwitter  = "twitter"
	PlatformFacebook = "facebook"
	PlatformLinkedin = "linkedin"
	PlatformGoogle   = "google"
)

// CallContext identifies the call whose outcome is being translated. Subject,
// platform, method and endpoint form the rate-limit partition key; Action is
// the unmodified action to carry on a delayed-requeue result.
type CallContext struct {
	Subject  string
	Platform string
	Method   string
	Endpoint string
	Action   *shared.Action
}

// Translator inspects a completed call whose status indicates failure.
// Recognized conditions return (result, true, nil). Unrecognized ones return
// (zero, false, nil) and the caller passes the original result through to the
// resolver. A non-nil error means the condition must propagate as a fault
// (transient infrastructure, idempotent discard, or a refused rate-limit
// write).
type Translator interface {
	Translate(ctx context.Context, res shared.UniformResult, cctx CallContext) (shared.UniformResult, bool, error)
}

// RateLimitRecorder is the slice of the oracle translators depend on.
type RateLimitRecorder interface {
	RecordLimit(ctx context.Context, subject, platform, method, endpoint string, resetAt int64) error
	ComputeDelay(resetAt int64) int64
}

// recordAndDelay persists the reset time and converts it into a
// delayed-requeue result for the unmodified action. A refused or failed write
// surfaces as an error so the action never silently passes un-rate-limited.
func recordAndDelay(ctx context.Context, oracle RateLimitRecorder, cctx CallContext, resetAt int64) (shared.UniformResult, bool, error) {
	if err := oracle.RecordLimit(ctx, cctx.Subject, cctx.Platform, cctx.Method, cctx.Endpoint, resetAt); err != nil {
		return shared.UniformResult{}, false, err
	}
	return shared.DelayResult(oracle.ComputeDelay(resetAt), cctx.Action), true, nil
}

func headerInt64(res shared.UniformResult, name string) (int64, bool) {
	if res.Headers == nil {
		return 0, false
	}
	raw := res.Headers.Get(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func decodeBody(body string, target any) bool {
	if body == "" {
		return false
	}
	return json.Unmarshal([]byte(body), target) == nil
}
