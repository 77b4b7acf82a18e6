package httpcall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// BasicAuth carries credentials for the Authorization header.
type BasicAuth struct {
	Username string
	Password string
}

// Request describes one outbound HTTP call. Body may be a string (which must
// be valid JSON), or any JSON-marshalable value. Form, when set, wins over
// Body and is sent urlencoded.
type Request struct {
	Method         string
	URL            string
	Headers        map[string]string
	Body           any
	Query          map[string]string
	Form           map[string]string
	Auth           *BasicAuth
	Timeout        time.Duration
	RetryStatuses  []int
	RetryRemaining *int
}

// Executor performs exactly one network attempt per call and classifies the
// outcome. Retrying is the resolver's job, not the executor's.
type Executor struct {
	client *http.Client
	cfg    *config.Config
}

func NewExecutor(cfg *config.Config) *Executor {
	return &Executor{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				IdleConnTimeout:       10 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		cfg: cfg,
	}
}

// Do performs the call. Any response that arrives is a result, whatever its
// status; only input problems and exhausted transport failures are errors.
func (e *Executor) Do(ctx context.Context, req Request) (shared.UniformResult, error) {
	if req.Method == "" || req.URL == "" {
		return shared.UniformResult{}, shared.WrapInputValidation(
			fmt.Errorf("http call requires method and url, got method=%q url=%q", req.Method, req.URL))
	}

	httpReq, err := e.buildRequest(ctx, req)
	if err != nil {
		return shared.UniformResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.HTTPTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := e.client.Do(httpReq.WithContext(callCtx))
	if err != nil {
		return e.classifyTransportError(req, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			zap.S().Warnf("Failed to close response body: %s", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return e.classifyTransportError(req, err)
	}
	body := string(bodyBytes)

	if e.isRetryStatus(req, resp.StatusCode) {
		remaining := e.resolveRetryRemaining(req)
		zap.S().Warnf("Retryable status %d from %s %s", resp.StatusCode, req.Method, req.URL)
		return shared.RetryResult(resp.StatusCode, body, remaining), nil
	}

	status := resp.StatusCode
	if status < 400 && len(bodyBytes) == 0 {
		// An empty successful body is reported as 204 regardless of the
		// literal upstream status. Duplicate detection depends on status
		// fidelity elsewhere, so this normalization is deliberate and must
		// stay.
		status = http.StatusNoContent
	}
	res := shared.SuccessResult(status, body)
	res.Headers = resp.Header
	return res, nil
}

func (e *Executor) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, shared.WrapInputValidation(fmt.Errorf("invalid url %q: %s", req.URL, err))
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	contentType := ""
	switch {
	case len(req.Form) > 0:
		form := url.Values{}
		for k, v := range req.Form {
			form.Set(k, v)
		}
		bodyReader = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		switch b := req.Body.(type) {
		case string:
			if !json.Valid([]byte(b)) {
				return nil, shared.WrapInputValidation(
					fmt.Errorf("call to %s failed because of badly formatted JSON in the request body", req.URL))
			}
			bodyReader = strings.NewReader(b)
		default:
			marshaled, marshalErr := json.Marshal(b)
			if marshalErr != nil {
				return nil, shared.WrapInputValidation(
					fmt.Errorf("call to %s failed because of badly formatted JSON in the request body", req.URL))
			}
			bodyReader = bytes.NewReader(marshaled)
		}
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), target.String(), bodyReader)
	if err != nil {
		return nil, shared.WrapInputValidation(fmt.Errorf("failed to build request: %s", err))
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Auth != nil {
		httpReq.SetBasicAuth(req.Auth.Username, req.Auth.Password)
	}
	return httpReq, nil
}

// classifyTransportError maps a transport-level failure. Timeouts are always
// retryable and logged at warn level, they are expected transient noise. Any
// other transport error with an exhausted retry budget is re-thrown.
func (e *Executor) classifyTransportError(req Request, err error) (shared.UniformResult, error) {
	if isTimeout(err) {
		remaining := e.resolveRetryRemaining(req)
		zap.S().Warnf("Timeout calling %s %s: %s", req.Method, req.URL, err)
		return shared.RetryResult(0, err.Error(), remaining), nil
	}
	if req.RetryRemaining == nil || *req.RetryRemaining == 0 {
		return shared.UniformResult{}, fmt.Errorf("call to %s %s failed: %w", req.Method, req.URL, err)
	}
	zap.S().Warnf("Transport error calling %s %s: %s", req.Method, req.URL, err)
	return shared.RetryResult(0, err.Error(), *req.RetryRemaining), nil
}

func (e *Executor) isRetryStatus(req Request, status int) bool {
	if len(req.RetryStatuses) > 0 {
		for _, s := range req.RetryStatuses {
			if s == status {
				return true
			}
		}
		return false
	}
	return e.cfg.IsRetryStatus(status)
}

func (e *Executor) resolveRetryRemaining(req Request) int {
	if req.RetryRemaining != nil {
		return *req.RetryRemaining
	}
	return e.cfg.DefaultRetryRemaining
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
