package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refill-risk-engine/internal/domain"
)

type collectorStub struct {
	mu       sync.Mutex
	received []domain.AuditRecord
}

func (c *collectorStub) handler(w http.ResponseWriter, r *http.Request) {
	var record domain.AuditRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.received = append(c.received, record)
	c.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func TestForwarderDeliversQueuedRecords(t *testing.T) {
	collector := &collectorStub{}
	server := httptest.NewServer(http.HandlerFunc(collector.handler))
	defer server.Close()

	forwarder := NewHTTPForwarder(server.URL, 5*time.Second, testLogger())
	forwarder.Forward(&domain.AuditRecord{AuditID: "evt_20250610120000_1", Action: domain.AuditEventReceived})
	forwarder.Forward(&domain.AuditRecord{AuditID: "evt_20250610120000_2", Action: domain.AuditEventValidated})

	// Close drains the queue before returning.
	require.NoError(t, forwarder.Close())

	collector.mu.Lock()
	defer collector.mu.Unlock()
	require.Len(t, collector.received, 2)
	assert.Equal(t, "evt_20250610120000_1", collector.received[0].AuditID)
	assert.Equal(t, domain.AuditEventValidated, collector.received[1].Action)
}

func TestForwarderDropsWhenQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(server.URL, 5*time.Second, testLogger())
	for i := 0; i < forwarderQueueSize+10; i++ {
		forwarder.Forward(&domain.AuditRecord{AuditID: "evt_overflow", Action: domain.AuditEventReceived})
	}

	// Forward never blocked even with the collector stalled and the queue
	// past capacity; unblock the collector so Close can drain.
	close(blocked)
	require.NoError(t, forwarder.Close())
}
