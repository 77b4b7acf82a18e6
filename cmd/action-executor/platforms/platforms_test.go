package platforms

import (
	"context"
	"time"

	"github.com/pulsemate/action-engine/cmd/action-executor/config"
)

// fakeRecorder captures oracle writes for assertions.
type fakeRecorder struct {
	recorded []recordedLimit
	buffer   int64
	now      time.Time
}

type recordedLimit struct {
	Subject  string
	Platform string
	Method   string
	Endpoint string
	ResetAt  int64
}

func (f *fakeRecorder) RecordLimit(_ context.Context, subject, platform, method, endpoint string, resetAt int64) error {
	f.recorded = append(f.recorded, recordedLimit{subject, platform, method, endpoint, resetAt})
	return nil
}

func (f *fakeRecorder) ComputeDelay(resetAt int64) int64 {
	delay := (resetAt - f.now.Unix() + f.buffer) * 1000
	if delay < 0 {
		return 0
	}
	return delay
}

func translatorConfig() *config.Config {
	return &config.Config{
		QuotaDelayMS:            3600000,
		FacebookThrottleSeconds: 600,
		GoogleThrottleSeconds:   100,
	}
}
