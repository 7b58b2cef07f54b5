// Package audit provides an immutable in-memory audit trail for event
// processing operations, with optional forwarding to an external collector.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
)

// Sink receives audit records as they are appended. Implementations must not
// block; failures are the sink's problem, never the caller's.
type Sink interface {
	Forward(record *domain.AuditRecord)
}

// Logger is the default domain.AuditLogger implementation. Records are
// appended to an in-memory trail and mirrored to structured logs. An optional
// sink forwards records to an external collector.
type Logger struct {
	log  *logrus.Logger
	sink Sink

	mu           sync.RWMutex
	trail        []*domain.AuditRecord
	eventCounter int
	batchCounter int
}

// Option configures a Logger.
type Option func(*Logger)

// WithSink attaches a forwarding sink.
func WithSink(sink Sink) Option {
	return func(l *Logger) { l.sink = sink }
}

// NewLogger creates an audit logger backed by the given structured logger.
func NewLogger(log *logrus.Logger, opts ...Option) *Logger {
	l := &Logger{log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) nextAuditID(prefix string) string {
	ts := time.Now().UTC().Format("20060102150405")
	id := fmt.Sprintf("%s_%s_%06d", prefix, ts, l.eventCounter)
	l.eventCounter++
	return id
}

// NextBatchID issues a unique batch identifier for grouped processing.
func (l *Logger) NextBatchID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batchCounter++
	ts := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("batch_%s_%06d", ts, l.batchCounter)
}

func (l *Logger) append(prefix string, record domain.AuditRecord) *domain.AuditRecord {
	l.mu.Lock()
	record.AuditID = l.nextAuditID(prefix)
	record.Timestamp = time.Now().UTC()
	r := &record
	l.trail = append(l.trail, r)
	l.mu.Unlock()

	entry := l.log.WithFields(logrus.Fields{
		"audit_id": r.AuditID,
		"action":   r.Action,
		"event_id": r.EventID,
		"batch_id": r.BatchID,
	})
	switch r.Severity {
	case domain.AuditError, domain.AuditCritical:
		entry.Error(r.Message)
	case domain.AuditWarning:
		entry.Warn(r.Message)
	default:
		entry.Info(r.Message)
	}

	if l.sink != nil {
		l.sink.Forward(r)
	}
	return r
}

// EventReceived records receipt of a single event from a source system.
func (l *Logger) EventReceived(eventID, sourceSystem string, details map[string]any) *domain.AuditRecord {
	return l.append("recv", domain.AuditRecord{
		Action:       domain.AuditEventReceived,
		Severity:     domain.AuditInfo,
		EventID:      eventID,
		SourceSystem: sourceSystem,
		Message:      fmt.Sprintf("Event received from %s", sourceSystem),
		Details:      details,
	})
}

// EventValidated records the outcome of event validation.
func (l *Logger) EventValidated(eventID string, valid bool, errs []string) *domain.AuditRecord {
	record := domain.AuditRecord{
		Action:   domain.AuditEventValidated,
		Severity: domain.AuditInfo,
		EventID:  eventID,
		Message:  "Event validation passed",
	}
	if !valid {
		record.Action = domain.AuditValidationFailed
		record.Severity = domain.AuditError
		record.Message = "Event validation failed"
		record.Details = map[string]any{"validation_errors": errs}
	}
	return l.append("val", record)
}

// EventProcessed records successful processing of an event.
func (l *Logger) EventProcessed(eventID string, processingTimeMs int64, outcome string) *domain.AuditRecord {
	return l.append("proc", domain.AuditRecord{
		Action:           domain.AuditEventProcessed,
		Severity:         domain.AuditInfo,
		EventID:          eventID,
		Message:          "Event processed successfully",
		Details:          map[string]any{"outcome": outcome},
		ProcessingTimeMs: processingTimeMs,
	})
}

// BatchReceived records receipt of an event batch.
func (l *Logger) BatchReceived(batchID, sourceSystem string, eventCount int) *domain.AuditRecord {
	return l.append("batch", domain.AuditRecord{
		Action:       domain.AuditBatchReceived,
		Severity:     domain.AuditInfo,
		BatchID:      batchID,
		SourceSystem: sourceSystem,
		Message:      fmt.Sprintf("Batch received with %d events", eventCount),
		Details:      map[string]any{"event_count": eventCount},
	})
}

// BatchValidated records per-batch validation counts.
func (l *Logger) BatchValidated(batchID string, validCount, invalidCount int) *domain.AuditRecord {
	severity := domain.AuditInfo
	if invalidCount > 0 {
		severity = domain.AuditWarning
	}
	return l.append("bval", domain.AuditRecord{
		Action:   domain.AuditBatchValidated,
		Severity: severity,
		BatchID:  batchID,
		Message:  fmt.Sprintf("Batch validation: %d valid, %d invalid", validCount, invalidCount),
		Details:  map[string]any{"valid_count": validCount, "invalid_count": invalidCount},
	})
}

// BatchProcessed records successful batch processing.
func (l *Logger) BatchProcessed(batchID string, processingTimeMs int64, processedCount int) *domain.AuditRecord {
	return l.append("bproc", domain.AuditRecord{
		Action:           domain.AuditBatchProcessed,
		Severity:         domain.AuditInfo,
		BatchID:          batchID,
		Message:          fmt.Sprintf("Batch processed: %d events", processedCount),
		Details:          map[string]any{"processed_count": processedCount},
		ProcessingTimeMs: processingTimeMs,
	})
}

// ProcessingError records a processing failure for an event or batch.
func (l *Logger) ProcessingError(eventID, batchID string, err error, processingTimeMs int64) *domain.AuditRecord {
	return l.append("err", domain.AuditRecord{
		Action:           domain.AuditProcessingFailed,
		Severity:         domain.AuditError,
		EventID:          eventID,
		BatchID:          batchID,
		Message:          fmt.Sprintf("Processing failed: %v", err),
		ErrorCode:        fmt.Sprintf("%T", err),
		ProcessingTimeMs: processingTimeMs,
	})
}

// SnapshotAggregated records that an event set was folded into a snapshot.
func (l *Logger) SnapshotAggregated(snapshotID, memberID, refillID string, eventCount int, processingTimeMs int64) *domain.AuditRecord {
	return l.append("snap", domain.AuditRecord{
		Action:     domain.AuditSnapshotAggregated,
		Severity:   domain.AuditInfo,
		ArtifactID: snapshotID,
		Message:    fmt.Sprintf("Snapshot aggregated from %d events", eventCount),
		Details: map[string]any{
			"member_id":   memberID,
			"refill_id":   refillID,
			"event_count": eventCount,
		},
		ProcessingTimeMs: processingTimeMs,
	})
}

// MetricsComputed records that bundle metrics were derived from a snapshot.
func (l *Logger) MetricsComputed(snapshotID, memberID, refillID string, riskScore float64, processingTimeMs int64) *domain.AuditRecord {
	return l.append("metr", domain.AuditRecord{
		Action:     domain.AuditMetricsComputed,
		Severity:   domain.AuditInfo,
		ArtifactID: snapshotID,
		Message:    "Bundle metrics computed",
		Details: map[string]any{
			"member_id":  memberID,
			"refill_id":  refillID,
			"risk_score": riskScore,
		},
		ProcessingTimeMs: processingTimeMs,
	})
}

// RiskAssessed records a completed risk assessment with its outcome.
func (l *Logger) RiskAssessed(riskID string, riskType domain.RiskType, entityID string, probability float64, severity domain.RiskSeverity, processingTimeMs int64) *domain.AuditRecord {
	return l.append("risk", domain.AuditRecord{
		Action:     domain.AuditRiskAssessed,
		Severity:   domain.AuditInfo,
		ArtifactID: riskID,
		Message:    fmt.Sprintf("Risk assessed: %s", riskType),
		Details: map[string]any{
			"risk_type":   string(riskType),
			"entity_id":   entityID,
			"probability": probability,
			"severity":    string(severity),
		},
		ProcessingTimeMs: processingTimeMs,
	})
}

// Trail returns the audit trail filtered by the given criteria. A positive
// limit keeps the most recent records.
func (l *Logger) Trail(filter domain.AuditFilter) []*domain.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	filtered := make([]*domain.AuditRecord, 0, len(l.trail))
	for _, r := range l.trail {
		if filter.EventID != "" && r.EventID != filter.EventID {
			continue
		}
		if filter.BatchID != "" && r.BatchID != filter.BatchID {
			continue
		}
		if filter.ArtifactID != "" && r.ArtifactID != filter.ArtifactID {
			continue
		}
		if filter.Action != "" && r.Action != filter.Action {
			continue
		}
		if filter.Severity != "" && r.Severity != filter.Severity {
			continue
		}
		filtered = append(filtered, r)
	}
	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[len(filtered)-filter.Limit:]
	}
	return filtered
}

// EventLineage returns every audit record for one event, in append order.
func (l *Logger) EventLineage(eventID string) []*domain.AuditRecord {
	return l.Trail(domain.AuditFilter{EventID: eventID})
}

// Statistics summarizes the current trail.
func (l *Logger) Statistics() *domain.AuditStatistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &domain.AuditStatistics{TotalRecords: len(l.trail)}
	if stats.TotalRecords == 0 {
		return stats
	}

	actionCounts := make(map[string]int)
	batches := make(map[string]struct{})
	events := make(map[string]struct{})
	var totalTime int64
	for _, r := range l.trail {
		switch r.Severity {
		case domain.AuditError, domain.AuditCritical:
			stats.ErrorCount++
		case domain.AuditWarning:
			stats.WarningCount++
		}
		actionCounts[string(r.Action)]++
		if r.BatchID != "" {
			batches[r.BatchID] = struct{}{}
		}
		if r.EventID != "" {
			events[r.EventID] = struct{}{}
		}
		totalTime += r.ProcessingTimeMs
	}

	total := float64(stats.TotalRecords)
	stats.ErrorRate = float64(stats.ErrorCount) / total
	stats.WarningRate = float64(stats.WarningCount) / total
	stats.ActionCounts = actionCounts
	stats.AverageProcessingTimeMs = float64(totalTime) / total
	stats.BatchesProcessed = len(batches)
	stats.EventsProcessed = len(events)
	return stats
}

// Reset clears the trail. Intended for tests.
func (l *Logger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trail = nil
	l.eventCounter = 0
	l.batchCounter = 0
}
