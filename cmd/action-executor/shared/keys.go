package shared

import (
	"fmt"
	"strings"
)

// RoutingKey is the parsed form of an inbound delivery key,
// <prefix>.<prefix>.<type>.<subject>. Subjects may themselves contain dots,
// so everything after the third separator belongs to the subject.
type RoutingKey struct {
	Prefix  string
	Channel string
	Type    string
	Subject string
}

func ParseRoutingKey(key string) (RoutingKey, error) {
	parts := strings.SplitN(key, ".", 4)
	if len(parts) < 4 {
		return RoutingKey{}, WrapInputValidation(fmt.Errorf("routing key %q does not have 4 segments", key))
	}
	return RoutingKey{
		Prefix:  parts[0],
		Channel: parts[1],
		Type:    parts[2],
		Subject: parts[3],
	}, nil
}

func (k RoutingKey) String() string {
	return k.Prefix + "." + k.Channel + "." + k.Type + "." + k.Subject
}

// ThrottleKey is the republish destination for retries, delays and follow-on
// actions: <throttlePrefix>.<type>.<subject>. Built explicitly here so the
// producer and resolver cannot drift on key format.
type ThrottleKey struct {
	Prefix  string
	Type    string
	Subject string
}

func NewThrottleKey(prefix string, action *Action) ThrottleKey {
	return ThrottleKey{Prefix: prefix, Type: action.Type, Subject: action.Subject}
}

func (k ThrottleKey) String() string {
	return k.Prefix + "." + k.Type + "." + k.Subject
}
