package sqlite

import (
	"errors"
	"time"

	"github.com/jirevwe/logqueue/queue"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	enqueued     prometheus.Counter
	acknowledged prometheus.Counter
	errors       *prometheus.CounterVec
	duration     prometheus.ObserverVec
}

func newMetrics(queueName string, reg prometheus.Registerer) (*metrics, error) {
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logqueue",
		Name:      "enqueued_total",
		Help:      "Entries committed to the queue.",
	}, []string{"queue"})

	acknowledged := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logqueue",
		Name:      "acknowledged_total",
		Help:      "Entries removed from the queue by acknowledgement.",
	}, []string{"queue"})

	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logqueue",
		Name:      "errors_total",
		Help:      "Failed queue operations by kind.",
	}, []string{"queue", "kind"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "logqueue",
		Name:      "operation_duration_seconds",
		Help:      "Latency of queue operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"queue", "op"})

	if reg != nil {
		var err error
		if enqueued, err = register(reg, enqueued); err != nil {
			return nil, err
		}
		if acknowledged, err = register(reg, acknowledged); err != nil {
			return nil, err
		}
		if errs, err = register(reg, errs); err != nil {
			return nil, err
		}
		if duration, err = register(reg, duration); err != nil {
			return nil, err
		}
	}

	return &metrics{
		enqueued:     enqueued.WithLabelValues(queueName),
		acknowledged: acknowledged.WithLabelValues(queueName),
		errors:       errs.MustCurryWith(prometheus.Labels{"queue": queueName}),
		duration:     duration.MustCurryWith(prometheus.Labels{"queue": queueName}),
	}, nil
}

// register returns the collector already registered under the same
// descriptor when there is one, so several queues share the vectors.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) failed(kind queue.Kind) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind.String()).Inc()
}

func (m *metrics) observe(op string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
