package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/refill-risk-engine/internal/domain"
)

const forwarderQueueSize = 256

// HTTPForwarder ships audit records to an external collector endpoint. The
// collector is best-effort: records are queued and delivered by a background
// worker so a slow collector never stalls the processing path, delivery
// failures are logged and dropped, and a circuit breaker stops hammering a
// collector that is down. Records are dropped when the queue is full.
type HTTPForwarder struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	log      *logrus.Logger
	queue    chan *domain.AuditRecord
	done     chan struct{}
}

// NewHTTPForwarder creates a forwarder for the given collector endpoint and
// starts its delivery worker.
func NewHTTPForwarder(endpoint string, timeout time.Duration, log *logrus.Logger) *HTTPForwarder {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-collector",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Audit collector circuit breaker state change")
		},
	})
	f := &HTTPForwarder{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
		log:      log,
		queue:    make(chan *domain.AuditRecord, forwarderQueueSize),
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

// Forward enqueues one record for delivery. Never blocks; the record is
// dropped when the queue is full.
func (f *HTTPForwarder) Forward(record *domain.AuditRecord) {
	select {
	case f.queue <- record:
	default:
		f.log.WithField("audit_id", record.AuditID).Warn("Audit forward queue full, record dropped")
	}
}

// Close stops accepting records, drains the queue, and waits for the worker
// to finish. Forward must not be called after Close.
func (f *HTTPForwarder) Close() error {
	close(f.queue)
	<-f.done
	return nil
}

func (f *HTTPForwarder) run() {
	defer close(f.done)
	for record := range f.queue {
		f.deliver(record)
	}
}

// deliver posts one record to the collector. Errors are swallowed after
// logging so audit forwarding can never fail event processing.
func (f *HTTPForwarder) deliver(record *domain.AuditRecord) {
	_, err := f.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Post(f.endpoint, "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("collector returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return
		}
		f.log.WithFields(logrus.Fields{
			"audit_id": record.AuditID,
			"error":    err.Error(),
		}).Warn("Failed to forward audit record")
	}
}
