package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
)

// Sentinel errors used to classify failures close to their source. Handlers
// and translators wrap with these; the resolver only checks errors.Is.
var (
	// ErrInputValidation marks fatal, non-retryable input problems
	// (malformed body, missing method/url, non-numeric retry budget).
	ErrInputValidation = errors.New("input validation error")
	// ErrTransientInfra marks infrastructure-level transient failures
	// (connection refused/reset, broker or DB connectivity, vendor
	// over-capacity). The original action is requeued unmodified.
	ErrTransientInfra = errors.New("transient infrastructure error")
	// ErrIdempotentDiscard marks conditions that will never succeed but must
	// not page anyone: duplicate content, expired auth, policy rejection.
	ErrIdempotentDiscard = errors.New("idempotent discard")
)

func WrapInputValidation(err error) error {
	if err == nil {
		return ErrInputValidation
	}
	return fmt.Errorf("%w: %s", ErrInputValidation, err)
}

func WrapTransientInfra(err error) error {
	if err == nil {
		return ErrTransientInfra
	}
	return fmt.Errorf("%w: %s", ErrTransientInfra, err)
}

func WrapIdempotentDiscard(err error) error {
	if err == nil {
		return ErrIdempotentDiscard
	}
	return fmt.Errorf("%w: %s", ErrIdempotentDiscard, err)
}

// ErrorClass is the resolver's generic bucketing for errors that escaped
// translation. Classification happens as close to the source as possible;
// this is only the safety net.
type ErrorClass int

const (
	// ClassFatal drops the message with an error-level log.
	ClassFatal ErrorClass = iota
	// ClassTransientInfra requeues the original, unmodified action.
	ClassTransientInfra
	// ClassDiscard drops the message at warn level without paging.
	ClassDiscard
)

// Message fragments recognized in errors that arrive untyped, e.g. raw vendor
// messages bubbled through a wrapped HTTP body.
var transientFragments = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"connection lost",
	"timed out",
	"timeout",
	"over capacity",
	"internal error",
}

var discardFragments = []string{
	"duplicate",
	"expired token",
	"invalid or expired token",
	"policy",
}

func Classify(err error) ErrorClass {
	if errors.Is(err, ErrTransientInfra) {
		return ClassTransientInfra
	}
	if errors.Is(err, ErrIdempotentDiscard) {
		return ClassDiscard
	}
	if errors.Is(err, ErrInputValidation) {
		return ClassFatal
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ClassTransientInfra
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransientInfra
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransientInfra
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return ClassTransientInfra
		}
	}
	for _, fragment := range discardFragments {
		if strings.Contains(msg, fragment) {
			return ClassDiscard
		}
	}
	return ClassFatal
}

// ErrorDetail is the serialized diagnostic bundle logged when a message is
// dropped on an unclassified error.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
	Raw     string `json:"raw"`
}

func SerializeError(err error) string {
	detail := ErrorDetail{
		Message: err.Error(),
		Stack:   string(debug.Stack()),
		Raw:     fmt.Sprintf("%+v", err),
	}
	b, marshalErr := json.Marshal(detail)
	if marshalErr != nil {
		return detail.Message
	}
	return string(b)
}
