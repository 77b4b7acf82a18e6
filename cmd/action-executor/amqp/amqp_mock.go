package amqp

import (
	"context"
	"testing"
)

// Published records one Publish call for assertions.
type Published struct {
	RoutingKey string
	Body       []byte
	Options    PublishOptions
}

type MockBroker struct {
	DeliveriesToSend chan *Delivery
	PublishedList    []Published
	Acked            []*Delivery
	Nacked           []*Delivery
}

func (m *MockBroker) Deliveries() <-chan *Delivery {
	return m.DeliveriesToSend
}

func (m *MockBroker) Publish(_ context.Context, routingKey string, body []byte, opts PublishOptions) error {
	m.PublishedList = append(m.PublishedList, Published{RoutingKey: routingKey, Body: body, Options: opts})
	return nil
}

func (m *MockBroker) Ack(d *Delivery) error {
	m.Acked = append(m.Acked, d)
	return nil
}

func (m *MockBroker) Nack(d *Delivery, _ bool) error {
	m.Nacked = append(m.Nacked, d)
	return nil
}

func GetMockBroker(t *testing.T) *MockBroker {
	// Passing t here to ensure it is not used in production code
	t.Logf("Using mock broker")
	return &MockBroker{
		DeliveriesToSend: make(chan *Delivery, 16),
		PublishedList:    make([]Published, 0),
		Acked:            make([]*Delivery, 0),
		Nacked:           make([]*Delivery, 0),
	}
}
