package worker

import (
	"github.com/pulsemate/action-engine/cmd/action-executor/amqp"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// normalize turns one broker delivery into an Action. The routing key
// supplies type and subject when the body omits them; body-level values
// always win, a payload-supplied userId is never clobbered by the key.
func normalize(d *amqp.Delivery) (*shared.Action, error) {
	key, err := shared.ParseRoutingKey(d.RoutingKey)
	if err != nil {
		return nil, err
	}

	action, err := shared.DecodeAction(d.Body)
	if err != nil {
		return nil, err
	}

	if action.Type == "" {
		action.Type = key.Type
	}
	if action.Subject == "" {
		action.Subject = key.Subject
	}
	return action, nil
}
