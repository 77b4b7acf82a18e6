package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayZeroAttempts(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(0, time.Second, time.Minute))
	assert.Equal(t, time.Duration(0), Delay(-1, time.Second, time.Minute))
}

func TestDelayZeroSlot(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(5, 0, time.Minute))
}

func TestDelayStaysInWindow(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Delay(3, time.Second, time.Minute)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 8*time.Second, "must stay below slotTime * 2^attempts")
	}
}

func TestDelayCappedAtMaximum(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Delay(10, time.Second, 2*time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestDelayHugeAttemptsReturnsMaximum(t *testing.T) {
	assert.Equal(t, time.Minute, Delay(200, time.Second, time.Minute))
}
