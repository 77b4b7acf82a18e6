package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pulsemate/action-engine/cmd/action-executor/amqp"
	"github.com/pulsemate/action-engine/cmd/action-executor/config"
	"github.com/pulsemate/action-engine/cmd/action-executor/dispatch"
)

var outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "action_executor_outcomes_total",
	Help: "Processed deliveries by acknowledgement outcome",
}, []string{"outcome"})

var processedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "action_executor_deliveries_total",
	Help: "Broker deliveries taken off the queue",
})

// Worker processes exactly one message to completion before taking the next.
// Horizontal scale is multiple instances competing for the same durable
// queue; the broker arbitrates that, not this loop.
type Worker struct {
	broker     amqp.Broker
	dispatcher *dispatch.Dispatcher
	resolver   *Resolver
	cfg        *config.Config
	processed  atomic.Uint64
	now        func() time.Time
}

func New(cfg *config.Config, broker amqp.Broker, dispatcher *dispatch.Dispatcher) *Worker {
	return &Worker{
		broker:     broker,
		dispatcher: dispatcher,
		resolver:   NewResolver(cfg, broker),
		cfg:        cfg,
		now:        time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	zap.S().Debugf("Started work loop")
	deliveries := w.broker.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				zap.S().Infof("Delivery channel closed, stopping work loop")
				return
			}
			w.process(ctx, d)
			w.processed.Add(1)
			processedTotal.Inc()
		}
	}
}

func (w *Worker) process(ctx context.Context, d *amqp.Delivery) {
	action, err := normalize(d)
	if err != nil {
		// A body that fails parsing is fatal and non-retryable; no dispatch
		// attempt is made.
		zap.S().Errorf("Failed to normalize delivery with key %s: %s", d.RoutingKey, err)
		w.ackDrop(d, "normalize-failed")
		return
	}

	if action.Expired(w.now()) {
		zap.S().Infof("Action %s/%s expired at %d, dropping", action.Type, action.Subject, action.Expiration)
		w.ackDrop(d, "expired")
		return
	}

	res, err := w.dispatcher.Dispatch(ctx, action)
	w.resolver.Resolve(ctx, d, action, res, err)
}

func (w *Worker) ackDrop(d *amqp.Delivery, outcome string) {
	if err := w.broker.Ack(d); err != nil {
		zap.S().Errorf("Failed to ack delivery: %s", err)
		return
	}
	outcomesTotal.WithLabelValues(outcome).Inc()
}

// Processed returns the number of deliveries taken off the queue, used by
// the liveness probe.
func (w *Worker) Processed() uint64 {
	return w.processed.Load()
}

var lastProcessed atomic.Uint64
var lastChangeUTCSeconds atomic.Int64

// GetLivenessCheck fails when deliveries stop moving for five minutes while
// the loop is supposed to be running.
func (w *Worker) GetLivenessCheck() healthcheck.Check {
	return func() error {
		processed := w.Processed()
		oldValue := lastProcessed.Swap(processed)
		nowUTCSeconds := time.Now().UTC().Unix()
		if oldValue != processed {
			lastChangeUTCSeconds.Store(nowUTCSeconds)
			return nil
		}
		lastChange := lastChangeUTCSeconds.Load()
		if lastChange != 0 && nowUTCSeconds-lastChange > 60*5 {
			return errors.New("no processed delivery in the last 5 minutes")
		}
		return nil
	}
}
