package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemate/action-engine/cmd/action-executor/amqp"
)

func TestNormalizeInjectsTypeAndSubjectFromKey(t *testing.T) {
	d := &amqp.Delivery{
		RoutingKey: "actions.exec.TWEET.42",
		Body:       []byte(`{"text": "hello"}`),
	}
	action, err := normalize(d)
	require.NoError(t, err)
	assert.Equal(t, "TWEET", action.Type)
	assert.Equal(t, "42", action.Subject)
	assert.Equal(t, "hello", action.Payload["text"])
}

func TestNormalizeBodyWinsOverKey(t *testing.T) {
	d := &amqp.Delivery{
		RoutingKey: "actions.exec.TWEET.42",
		Body:       []byte(`{"type": "HTTP_CALL", "userId": "99"}`),
	}
	action, err := normalize(d)
	require.NoError(t, err)
	assert.Equal(t, "HTTP_CALL", action.Type, "body-level type wins")
	assert.Equal(t, "99", action.Subject, "body-level userId is never clobbered")
}

func TestNormalizeRejectsBadJSON(t *testing.T) {
	d := &amqp.Delivery{
		RoutingKey: "actions.exec.TWEET.42",
		Body:       []byte(`{broken`),
	}
	_, err := normalize(d)
	require.Error(t, err)
}

func TestNormalizeRejectsShortKey(t *testing.T) {
	d := &amqp.Delivery{
		RoutingKey: "actions.TWEET",
		Body:       []byte(`{}`),
	}
	_, err := normalize(d)
	require.Error(t, err)
}
