package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pulsemate/action-engine/cmd/action-executor/amqp"
	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
	"github.com/pulsemate/action-engine/internal/backoff"
)

// Resolver turns one uniform result (or escaped error) into exactly one
// acknowledgement. It is the only component touching the broker's ack
// primitives.
type Resolver struct {
	broker amqp.Broker
	cfg    *config.Config
}

func NewResolver(cfg *config.Config, broker amqp.Broker) *Resolver {
	return &Resolver{broker: broker, cfg: cfg}
}

// Resolve consumes the dispatch outcome for one delivery. Branch priority
// matters: retry before delay, delay before the follow-on branches, and 409
// duplicate detection before generic status handling.
func (r *Resolver) Resolve(ctx context.Context, d *amqp.Delivery, action *shared.Action, res shared.UniformResult, dispatchErr error) {
	if dispatchErr != nil {
		r.resolveError(ctx, d, action, dispatchErr)
		return
	}

	switch res.Kind {
	case shared.KindRetry:
		r.resolveRetry(ctx, d, action, res)
	case shared.KindDelay:
		r.resolveDelay(ctx, d, action, res)
	case shared.KindFeedbackFailed:
		zap.S().Errorf("Feedback failed for %s/%s, republishing fallback action", action.Type, action.Subject)
		if err := r.republish(ctx, d, res.Action, amqp.PublishOptions{Priority: d.Priority}); err != nil {
			r.nackRequeue(d)
			return
		}
		r.ack(d, "feedback-failed")
	case shared.KindLookupFailed:
		zap.S().Warnf("Lookup failed for %s/%s: %s", action.Type, action.Subject, res.Message)
		r.triggerFollowups(ctx, d, action, action.Failure, res)
		r.ack(d, "lookup-failed")
	case shared.KindFailed:
		zap.S().Warnf("Action %s/%s failed: %s", action.Type, action.Subject, res.Message)
		r.triggerFollowups(ctx, d, action, action.Failure, res)
		r.ack(d, "failed")
	case shared.KindHandled:
		zap.S().Infof("Action %s/%s handled: %s", action.Type, action.Subject, res.Message)
		r.ack(d, "handled")
	case shared.KindSuccess:
		if res.Status >= http.StatusBadRequest {
			r.resolveErrorStatus(ctx, d, action, res)
			return
		}
		r.triggerFollowups(ctx, d, action, action.Success, res)
		r.ack(d, "success")
	default:
		zap.S().Errorf("Unknown result kind %s for %s/%s, dropping", res.Kind, action.Type, action.Subject)
		r.ack(d, "unknown-kind")
	}
}

// resolveRetry republishes with the budget decremented by one. An exhausted
// budget never requeues; it discards fatally.
func (r *Resolver) resolveRetry(ctx context.Context, d *amqp.Delivery, action *shared.Action, res shared.UniformResult) {
	if res.RetryRemaining <= 0 {
		zap.S().Errorf("Retry budget exhausted for %s/%s (status %d), dropping: %s",
			action.Type, action.Subject, res.Status, res.Body)
		r.ack(d, "retry-exhausted")
		return
	}

	retried, err := action.Clone()
	if err != nil {
		zap.S().Errorf("Failed to clone action for retry: %s", err)
		r.ack(d, "retry-clone-failed")
		return
	}
	remaining := res.RetryRemaining - 1
	retried.RetryRemaining = &remaining

	// The original budget is pinned on the first retry so actions carrying a
	// budget above the environment default still back off exponentially.
	budget := action.RetryBudget
	if budget <= 0 {
		budget = res.RetryRemaining
	}
	retried.RetryBudget = budget

	consumed := int64(budget - remaining)
	delay := r.cfg.RetryDelayFloor + backoff.Delay(consumed, r.cfg.RetryDelayFloor, r.cfg.RetryDelayMax)

	zap.S().Warnf("Retrying %s/%s (status %d, %d attempts left, delay %s)",
		action.Type, action.Subject, res.Status, remaining, delay)
	if err := r.republish(ctx, d, retried, amqp.PublishOptions{Priority: d.Priority, DelayMS: delay.Milliseconds()}); err != nil {
		r.nackRequeue(d)
		return
	}
	r.ack(d, "retry")
}

// resolveDelay republishes the carried action unmodified with the delay
// header. Used for rate-limit and quota waits.
func (r *Resolver) resolveDelay(ctx context.Context, d *amqp.Delivery, action *shared.Action, res shared.UniformResult) {
	delayed := res.Action
	if delayed == nil {
		delayed = action
	}
	zap.S().Infof("Delaying %s/%s for %dms", delayed.Type, delayed.Subject, res.DelayMS)
	if err := r.republish(ctx, d, delayed, amqp.PublishOptions{Priority: d.Priority, DelayMS: res.DelayMS}); err != nil {
		r.nackRequeue(d)
		return
	}
	r.ack(d, "delayed")
}

// resolveErrorStatus handles results whose status is >= 400. Exactly 409 is
// a detected duplicate and drops with zero follow-on triggers; anything else
// triggers the failure list and then falls into the generic error path.
func (r *Resolver) resolveErrorStatus(ctx context.Context, d *amqp.Delivery, action *shared.Action, res shared.UniformResult) {
	if res.Status == http.StatusConflict {
		zap.S().Infof("Duplicate detected for %s/%s (409), dropping", action.Type, action.Subject)
		r.ack(d, "duplicate")
		return
	}

	r.triggerFollowups(ctx, d, action, action.Failure, res)
	r.resolveError(ctx, d, action, fmt.Errorf("upstream returned status %d: %s", res.Status, res.Body))
}

// resolveError is the generic, type-agnostic bucketing for anything that
// escaped translation.
func (r *Resolver) resolveError(ctx context.Context, d *amqp.Delivery, action *shared.Action, err error) {
	switch shared.Classify(err) {
	case shared.ClassTransientInfra:
		zap.S().Warnf("Transient infrastructure failure for %s/%s, requeueing unmodified: %s",
			action.Type, action.Subject, err)
		if pubErr := r.republish(ctx, d, action, amqp.PublishOptions{Priority: d.Priority}); pubErr != nil {
			r.nackRequeue(d)
			return
		}
		r.ack(d, "requeued")
	case shared.ClassDiscard:
		zap.S().Warnf("Discarding %s/%s on idempotent condition: %s", action.Type, action.Subject, err)
		r.ack(d, "discarded")
	default:
		zap.S().Errorw("Dropping action on unhandled error",
			"type", action.Type,
			"subject", action.Subject,
			"detail", shared.SerializeError(err))
		r.ack(d, "dropped")
	}
}

// triggerFollowups publishes each follow-on action to the throttle exchange,
// augmented with the completed call's response context so downstream systems
// can template merge-fields.
func (r *Resolver) triggerFollowups(ctx context.Context, d *amqp.Delivery, parent *shared.Action, followups []*shared.Action, res shared.UniformResult) {
	if len(followups) == 0 {
		return
	}
	for _, followup := range followups {
		sub, err := followup.Clone()
		if err != nil {
			zap.S().Errorf("Failed to clone follow-on action: %s", err)
			continue
		}
		if sub.Subject == "" {
			sub.Subject = parent.Subject
		}
		if sub.WidgetID == "" {
			sub.WidgetID = parent.WidgetID
		}
		// Un-escaping covers the follow-on's own text fields only, so the
		// context is attached afterwards; each follow-on gets its own copy.
		unescapeDollars(sub.Payload)
		sub.Payload["context"] = parseResponseContext(res.Body)
		// A failed follow-on publish is logged and skipped; the parent's
		// acknowledgement is decided by the caller.
		_ = r.republish(ctx, d, sub, amqp.PublishOptions{Priority: d.Priority})
	}
}

func (r *Resolver) republish(ctx context.Context, d *amqp.Delivery, action *shared.Action, opts amqp.PublishOptions) error {
	body, err := json.Marshal(action)
	if err != nil {
		zap.S().Errorf("Failed to marshal action for republish: %s", err)
		return err
	}
	key := shared.NewThrottleKey(r.cfg.ThrottlePrefix, action)
	if err := r.broker.Publish(ctx, key.String(), body, opts); err != nil {
		zap.S().Errorf("Failed to republish to %s: %s", key, err)
		return err
	}
	return nil
}

func (r *Resolver) ack(d *amqp.Delivery, outcome string) {
	if err := r.broker.Ack(d); err != nil {
		zap.S().Errorf("Failed to ack delivery: %s", err)
		return
	}
	outcomesTotal.WithLabelValues(outcome).Inc()
}

// nackRequeue hands the delivery back to the broker for redelivery when the
// republish that should carry the action forward could not be placed. Acking
// here would lose the action.
func (r *Resolver) nackRequeue(d *amqp.Delivery) {
	if err := r.broker.Nack(d, true); err != nil {
		zap.S().Errorf("Failed to nack delivery: %s", err)
		return
	}
	outcomesTotal.WithLabelValues("publish-failed").Inc()
}

// parseResponseContext decodes the completed call's response body into the
// context object. Parse failures yield an empty object, never an error.
func parseResponseContext(body string) map[string]any {
	out := map[string]any{}
	if body == "" {
		return out
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// unescapeDollars rewrites escaped literal dollar signs in string payload
// fields before publishing, recursing into nested objects and arrays.
func unescapeDollars(payload map[string]any) {
	for k, v := range payload {
		payload[k] = unescapeValue(v)
	}
}

func unescapeValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, `\$`, `$`)
	case map[string]any:
		unescapeDollars(t)
		return t
	case []any:
		for i, item := range t {
			t[i] = unescapeValue(item)
		}
		return t
	default:
		return v
	}
}
