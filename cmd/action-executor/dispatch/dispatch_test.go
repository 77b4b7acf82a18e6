package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemate/action-engine/cmd/action-executor/helper"
	"github.com/pulsemate/action-engine/cmd/action-executor/httpcall"
	"github.com/pulsemate/action-engine/cmd/action-executor/platforms"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

type fakeOracle struct {
	resetAt int64
	buffer  int64
	queried []string
}

func (f *fakeOracle) GetResetAt(_ context.Context, subject, platform, method, endpoint string) (int64, error) {
	f.queried = append(f.queried, subject+"/"+platform+"/"+method+"/"+endpoint)
	return f.resetAt, nil
}

func (f *fakeOracle) ComputeDelay(resetAt int64) int64 {
	return (resetAt + f.buffer) * 1000
}

type fakeCaller struct {
	calls    int
	requests []httpcall.Request
	result   shared.UniformResult
	err      error
}

func (f *fakeCaller) Do(_ context.Context, req httpcall.Request) (shared.UniformResult, error) {
	f.calls++
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type passthroughTranslator struct{}

func (passthroughTranslator) Translate(_ context.Context, _ shared.UniformResult, _ platforms.CallContext) (shared.UniformResult, bool, error) {
	return shared.UniformResult{}, false, nil
}

func TestDispatchUnknownType(t *testing.T) {
	d := NewDispatcher(NewRegistry())

	_, err := d.Dispatch(context.Background(), &shared.Action{Type: "UNKNOWN_TYPE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Action not recognized: UNKNOWN_TYPE")
}

func TestDispatchDelaySuspendsBeforeHandler(t *testing.T) {
	reg := NewRegistry()
	var handledAt time.Time
	reg.Register("NOOP", HandlerFunc(func(_ context.Context, _ *shared.Action) (shared.UniformResult, error) {
		handledAt = time.Now()
		return shared.SuccessResult(200, "{}"), nil
	}))
	d := NewDispatcher(reg)

	start := time.Now()
	_, err := d.Dispatch(context.Background(), &shared.Action{Type: "NOOP", Delay: 500})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, handledAt.Sub(start), 450*time.Millisecond)
}

func TestDispatchDelayHonorsContextCancel(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register("NOOP", HandlerFunc(func(_ context.Context, _ *shared.Action) (shared.UniformResult, error) {
		called = true
		return shared.SuccessResult(200, "{}"), nil
	}))
	d := NewDispatcher(reg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Dispatch(ctx, &shared.Action{Type: "NOOP", Delay: 5000})
	require.Error(t, err)
	assert.False(t, called)
}

func TestPlatformHandlerThrottledSkipsNetwork(t *testing.T) {
	oracle := &fakeOracle{resetAt: 2000, buffer: 5}
	caller := &fakeCaller{}
	handler := NewPlatformHandler(oracle, caller, passthroughTranslator{},
		func(_ *shared.Action) (httpcall.Request, error) {
			return httpcall.Request{Method: "POST", URL: "https://api.twitter.com/2/tweets"}, nil
		}, platforms.PlatformTwitter, "POST", "tweets")

	action := &shared.Action{Type: shared.TypeTweet, Subject: "42"}
	res, err := handler.Handle(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, shared.KindDelay, res.Kind)
	assert.Equal(t, oracle.ComputeDelay(2000), res.DelayMS)
	assert.Same(t, action, res.Action, "throttled requeue must carry the unmodified action")
	assert.Equal(t, 0, caller.calls, "no network call while throttled")
}

func TestPlatformHandlerPropagatesRetryBudget(t *testing.T) {
	oracle := &fakeOracle{}
	caller := &fakeCaller{result: shared.SuccessResult(200, "{}")}
	handler := NewPlatformHandler(oracle, caller, passthroughTranslator{},
		func(_ *shared.Action) (httpcall.Request, error) {
			return httpcall.Request{Method: "POST", URL: "https://x"}, nil
		}, platforms.PlatformTwitter, "POST", "tweets")

	_, err := handler.Handle(context.Background(), &shared.Action{Type: shared.TypeTweet, Subject: "42", RetryRemaining: helper.IntToPtr(7)})
	require.NoError(t, err)
	require.Len(t, caller.requests, 1)
	require.NotNil(t, caller.requests[0].RetryRemaining)
	assert.Equal(t, 7, *caller.requests[0].RetryRemaining)
}

func TestPlatformHandlerUntranslatedStatusPassesThrough(t *testing.T) {
	oracle := &fakeOracle{}
	caller := &fakeCaller{result: shared.SuccessResult(409, "conflict")}
	handler := NewPlatformHandler(oracle, caller, passthroughTranslator{},
		func(_ *shared.Action) (httpcall.Request, error) {
			return httpcall.Request{Method: "POST", URL: "https://x"}, nil
		}, platforms.PlatformTwitter, "POST", "tweets")

	res, err := handler.Handle(context.Background(), &shared.Action{Type: shared.TypeTweet, Subject: "42"})
	require.NoError(t, err)
	assert.Equal(t, 409, res.Status)
}

func TestBuildHTTPCallRequest(t *testing.T) {
	action, err := shared.DecodeAction([]byte(`{
		"type": "HTTP_CALL",
		"method": "POST",
		"url": "https://example.com/hook",
		"headers": {"X-Token": "abc"},
		"query": {"a": "1"},
		"body": {"k": "v"},
		"timeout": 2000,
		"retryStatuses": [500, 502],
		"retryRemaining": 4
	}`))
	require.NoError(t, err)

	req, err := buildHTTPCallRequest(action)
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://example.com/hook", req.URL)
	assert.Equal(t, map[string]string{"X-Token": "abc"}, req.Headers)
	assert.Equal(t, map[string]string{"a": "1"}, req.Query)
	assert.Equal(t, 2*time.Second, req.Timeout)
	assert.Equal(t, []int{500, 502}, req.RetryStatuses)
	require.NotNil(t, req.RetryRemaining)
	assert.Equal(t, 4, *req.RetryRemaining)
}

func TestBuildHTTPCallRequestRejectsBadTimeout(t *testing.T) {
	action, err := shared.DecodeAction([]byte(`{"type":"HTTP_CALL","method":"POST","url":"https://x","timeout":"soon"}`))
	require.NoError(t, err)

	_, err = buildHTTPCallRequest(action)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInputValidation)
}

func TestBuildHTTPCallRequestRequiresMethodAndURL(t *testing.T) {
	action, err := shared.DecodeAction([]byte(`{"type":"HTTP_CALL","url":"https://x"}`))
	require.NoError(t, err)
	_, err = buildHTTPCallRequest(action)
	require.Error(t, err)

	action, err = shared.DecodeAction([]byte(`{"type":"HTTP_CALL","method":"GET"}`))
	require.NoError(t, err)
	_, err = buildHTTPCallRequest(action)
	require.Error(t, err)
}
