package shared

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Known action types. The dispatcher's registry is exhaustive over this set;
// anything else is rejected at dispatch time.
const (
	TypeTweet           = "TWEET"
	TypeTwitterDM       = "TWITTER_DM"
	TypeTwitterRetweet  = "TWITTER_RETWEET"
	TypeTwitterFavorite = "TWITTER_FAVORITE"
	TypeFacebookPost    = "FACEBOOK_POST"
	TypeFacebookComment = "FACEBOOK_COMMENT"
	TypeInstagramPost   = "INSTAGRAM_POST"
	TypeLinkedinPost    = "LINKEDIN_POST"
	TypeEmailSend       = "EMAIL_SEND"
	TypeHTTPCall        = "HTTP_CALL"
	TypeSequence        = "SEQUENCE"
)

// Action is one unit of work against an external platform. Everything the
// engine itself routes on lives in named fields; the remaining payload
// (request-builder input, HTTP call parameters, SEQUENCE sub-actions) is kept
// verbatim in Payload so a republished action round-trips unchanged.
type Action struct {
	Type           string
	Subject        string
	WidgetID       string
	Delay          int64
	RetryRemaining *int
	// RetryBudget is the budget the action started with, pinned by the
	// resolver on the first retry so backoff growth survives republishing.
	RetryBudget int
	Expiration  int64
	Success     []*Action
	Failure     []*Action
	Payload     map[string]any
}

// DecodeAction parses a JSON action body. RetryRemaining must be a JSON
// number when present; any other type is a fatal input error, never coerced.
func DecodeAction(body []byte) (*Action, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, WrapInputValidation(fmt.Errorf("action body is not valid JSON: %s", err))
	}
	return ActionFromMap(raw)
}

// ActionFromMap builds an Action from an already-decoded JSON object. Used by
// DecodeAction and by SEQUENCE when lifting sub-actions out of the payload.
func ActionFromMap(raw map[string]any) (*Action, error) {
	a := &Action{Payload: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "type":
			s, ok := v.(string)
			if !ok {
				return nil, WrapInputValidation(fmt.Errorf("action type must be a string, got %T", v))
			}
			a.Type = s
		case "userId":
			a.Subject = stringify(v)
		case "widgetId":
			a.WidgetID = stringify(v)
		case "delay":
			n, ok := asInt64(v)
			if !ok {
				return nil, WrapInputValidation(fmt.Errorf("action delay must be numeric, got %T", v))
			}
			a.Delay = n
		case "expiration":
			n, ok := asInt64(v)
			if !ok {
				return nil, WrapInputValidation(fmt.Errorf("action expiration must be numeric, got %T", v))
			}
			a.Expiration = n
		case "retryRemaining":
			n, ok := asInt64(v)
			if !ok {
				return nil, WrapInputValidation(fmt.Errorf("retryRemaining must be numeric, got %T", v))
			}
			if n < 0 {
				return nil, WrapInputValidation(fmt.Errorf("retryRemaining must be non-negative, got %d", n))
			}
			r := int(n)
			a.RetryRemaining = &r
		case "retryBudget":
			n, ok := asInt64(v)
			if !ok {
				return nil, WrapInputValidation(fmt.Errorf("retryBudget must be numeric, got %T", v))
			}
			a.RetryBudget = int(n)
		case "success":
			list, err := actionList(v)
			if err != nil {
				return nil, err
			}
			a.Success = list
		case "failure":
			list, err := actionList(v)
			if err != nil {
				return nil, err
			}
			a.Failure = list
		default:
			a.Payload[k] = v
		}
	}
	return a, nil
}

func actionList(v any) ([]*Action, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, WrapInputValidation(fmt.Errorf("follow-on list must be an array, got %T", v))
	}
	actions := make([]*Action, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, WrapInputValidation(fmt.Errorf("follow-on action must be an object, got %T", item))
		}
		sub, err := ActionFromMap(m)
		if err != nil {
			return nil, err
		}
		actions = append(actions, sub)
	}
	return actions, nil
}

// MarshalJSON re-merges the named fields into the payload so a republished
// action is byte-compatible with what a producer would have sent.
func (a *Action) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Payload)+8)
	for k, v := range a.Payload {
		out[k] = v
	}
	out["type"] = a.Type
	if a.Subject != "" {
		out["userId"] = a.Subject
	}
	if a.WidgetID != "" {
		out["widgetId"] = a.WidgetID
	}
	if a.Delay > 0 {
		out["delay"] = a.Delay
	}
	if a.Expiration > 0 {
		out["expiration"] = a.Expiration
	}
	if a.RetryRemaining != nil {
		out["retryRemaining"] = *a.RetryRemaining
	}
	if a.RetryBudget > 0 {
		out["retryBudget"] = a.RetryBudget
	}
	if len(a.Success) > 0 {
		out["success"] = a.Success
	}
	if len(a.Failure) > 0 {
		out["failure"] = a.Failure
	}
	return json.Marshal(out)
}

// Expired reports whether the action's expiration (epoch ms) has passed.
func (a *Action) Expired(now time.Time) bool {
	return a.Expiration > 0 && a.Expiration < now.UnixMilli()
}

// Clone returns a deep copy via a JSON round-trip. Follow-on publishing
// mutates sub-action payloads, so sharing maps across publishes is not safe.
func (a *Action) Clone() (*Action, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return DecodeAction(b)
}

// PayloadString returns a string payload field, or "" when absent.
func (a *Action) PayloadString(key string) string {
	v, ok := a.Payload[key]
	if !ok {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers used as ids; avoid the scientific notation of %v
		return fmt.Sprintf("%.0f", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
