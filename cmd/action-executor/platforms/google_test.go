package platforms

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

func googleContext() CallContext {
	return CallContext{
		Subject:  "42",
		Platform: PlatformGoogle,
		Method:   "POST",
		Endpoint: "gmail.send",
		Action:   &shared.Action{Type: shared.TypeEmailSend, Subject: "42"},
	}
}

func TestGoogleRateLimitRecordsWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	recorder := &fakeRecorder{buffer: 5, now: now}
	translator := NewGoogleTranslator(translatorConfig(), recorder)
	translator.now = func() time.Time { return now }

	res := shared.UniformResult{
		Status: http.StatusForbidden,
		Body:   `{"error":{"code":403,"errors":[{"reason":"userRateLimitExceeded","message":"User Rate Limit Exceeded"}]}}`,
	}
	translated, handled, err := translator.Translate(context.Background(), res, googleContext())
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, shared.KindDelay, translated.Kind)
	require.Len(t, recorder.recorded, 1)
	assert.Equal(t, now.Unix()+100, recorder.recorded[0].ResetAt)
}

func TestGoogleQuotaIsFixedDelayWithoutRecord(t *testing.T) {
	recorder := &fakeRecorder{}
	translator := NewGoogleTranslator(translatorConfig(), recorder)

	res := shared.UniformResult{
		Status: http.StatusForbidden,
		Body:   `{"error":{"code":403,"errors":[{"reason":"dailyLimitExceeded","message":"Daily Limit Exceeded"}]}}`,
	}
	translated, handled, err := translator.Translate(context.Background(), res, googleContext())
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, shared.KindDelay, translated.Kind)
	assert.Equal(t, int64(3600000), translated.DelayMS)
	assert.Empty(t, recorder.recorded)
}

func TestGoogleNotFoundIsHandled(t *testing.T) {
	translator := NewGoogleTranslator(translatorConfig(), &fakeRecorder{})

	res := shared.UniformResult{
		Status: http.StatusNotFound,
		Body:   `{"error":{"code":404,"errors":[{"reason":"notFound","message":"Not Found"}]}}`,
	}
	translated, handled, err := translator.Translate(context.Background(), res, googleContext())
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, shared.KindHandled, translated.Kind)
}

func TestGoogleAuthErrorIsDiscard(t *testing.T) {
	translator := NewGoogleTranslator(translatorConfig(), &fakeRecorder{})

	res := shared.UniformResult{
		Status: http.StatusUnauthorized,
		Body:   `{"error":{"code":401,"errors":[{"reason":"authError","message":"Invalid Credentials"}]}}`,
	}
	_, _, err := translator.Translate(context.Background(), res, googleContext())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrIdempotentDiscard))
}

func TestGoogleBackendErrorIsTransient(t *testing.T) {
	translator := NewGoogleTranslator(translatorConfig(), &fakeRecorder{})

	res := shared.UniformResult{
		Status: http.StatusInternalServerError,
		Body:   `{"error":{"code":500,"errors":[{"reason":"backendError","message":"Backend Error"}]}}`,
	}
	_, _, err := translator.Translate(context.Background(), res, googleContext())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrTransientInfra))
}
