package shared

import "net/http"

// ResultKind discriminates UniformResult. Every execution path reduces to one
// of these before the delivery outcome resolver runs; genuine faults travel
// as Go errors instead.
type ResultKind int

const (
	// KindSuccess carries the upstream status and body. Status >= 400 is
	// still a KindSuccess result shape; the resolver owns that branching.
	KindSuccess ResultKind = iota
	// KindRetry asks for a republish with a decremented retry budget.
	KindRetry
	// KindDelay asks for a delayed republish of the carried action.
	KindDelay
	// KindHandled marks a permanent-but-expected condition (not found,
	// already done, duplicate) treated as idempotent success.
	KindHandled
	// KindFailed is an application-level failure that should trigger the
	// failure follow-on list and nothing else.
	KindFailed
	// KindFeedbackFailed carries a caller-substituted fallback action to
	// republish in place of the original.
	KindFeedbackFailed
	// KindLookupFailed triggers the failure follow-on list without any
	// republish.
	KindLookupFailed
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetry:
		return "retry"
	case KindDelay:
		return "delay"
	case KindHandled:
		return "handled"
	case KindFailed:
		return "failed"
	case KindFeedbackFailed:
		return "feedback-failed"
	case KindLookupFailed:
		return "lookup-failed"
	}
	return "unknown"
}

// UniformResult is the single contract between leaf handlers / translators
// and the resolver. Which fields are meaningful depends on Kind. Headers
// carries the upstream response headers when a call completed, so translators
// can read vendor rate-limit headers.
type UniformResult struct {
	Kind           ResultKind
	Status         int
	Body           string
	Headers        http.Header
	RetryRemaining int
	DelayMS        int64
	Action         *Action
	Message        string
	Sub            []UniformResult
}

func SuccessResult(status int, body string) UniformResult {
	return UniformResult{Kind: KindSuccess, Status: status, Body: body}
}

func RetryResult(status int, body string, retryRemaining int) UniformResult {
	return UniformResult{Kind: KindRetry, Status: status, Body: body, RetryRemaining: retryRemaining}
}

func DelayResult(delayMS int64, action *Action) UniformResult {
	return UniformResult{Kind: KindDelay, DelayMS: delayMS, Action: action}
}

func HandledResult(message string) UniformResult {
	return UniformResult{Kind: KindHandled, Message: message}
}

func FailedResult(message string) UniformResult {
	return UniformResult{Kind: KindFailed, Message: message}
}

func FeedbackFailedResult(action *Action, message string) UniformResult {
	return UniformResult{Kind: KindFeedbackFailed, Action: action, Message: message}
}

func LookupFailedResult(message string) UniformResult {
	return UniformResult{Kind: KindLookupFailed, Message: message}
}
