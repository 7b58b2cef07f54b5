package audit

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refill-risk-engine/internal/domain"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type captureSink struct {
	records []*domain.AuditRecord
}

func (s *captureSink) Forward(record *domain.AuditRecord) {
	s.records = append(s.records, record)
}

func TestEventReceivedAppendsRecord(t *testing.T) {
	logger := NewLogger(testLogger())

	record := logger.EventReceived("evt_00000001", "pharmacy_core", map[string]any{"event_type": "refill_initiated"})

	require.NotNil(t, record)
	assert.NotEmpty(t, record.AuditID)
	assert.Equal(t, domain.AuditEventReceived, record.Action)
	assert.Equal(t, domain.AuditInfo, record.Severity)
	assert.Equal(t, "evt_00000001", record.EventID)
	assert.Equal(t, "pharmacy_core", record.SourceSystem)
	assert.False(t, record.Timestamp.IsZero())
}

func TestEventValidatedFailureBecomesError(t *testing.T) {
	logger := NewLogger(testLogger())

	record := logger.EventValidated("evt_00000001", false, []string{"timestamp: must be UTC"})

	assert.Equal(t, domain.AuditValidationFailed, record.Action)
	assert.Equal(t, domain.AuditError, record.Severity)
	assert.Equal(t, []string{"timestamp: must be UTC"}, record.Details["validation_errors"])
}

func TestTrailFiltering(t *testing.T) {
	logger := NewLogger(testLogger())
	logger.EventReceived("evt_00000001", "pharmacy_core", nil)
	logger.EventValidated("evt_00000001", true, nil)
	logger.EventReceived("evt_00000002", "pharmacy_core", nil)
	logger.EventValidated("evt_00000002", false, []string{"member_id: required"})
	batchID := logger.NextBatchID()
	logger.BatchReceived(batchID, "pharmacy_core", 2)

	all := logger.Trail(domain.AuditFilter{})
	assert.Len(t, all, 5)

	byEvent := logger.Trail(domain.AuditFilter{EventID: "evt_00000001"})
	require.Len(t, byEvent, 2)
	assert.Equal(t, domain.AuditEventReceived, byEvent[0].Action)
	assert.Equal(t, domain.AuditEventValidated, byEvent[1].Action)

	byBatch := logger.Trail(domain.AuditFilter{BatchID: batchID})
	require.Len(t, byBatch, 1)
	assert.Equal(t, domain.AuditBatchReceived, byBatch[0].Action)

	errorsOnly := logger.Trail(domain.AuditFilter{Severity: domain.AuditError})
	require.Len(t, errorsOnly, 1)
	assert.Equal(t, "evt_00000002", errorsOnly[0].EventID)

	limited := logger.Trail(domain.AuditFilter{Limit: 2})
	require.Len(t, limited, 2)
	assert.Equal(t, domain.AuditBatchReceived, limited[1].Action)
}

func TestEventLineagePreservesAppendOrder(t *testing.T) {
	logger := NewLogger(testLogger())
	logger.EventReceived("evt_00000001", "pharmacy_core", nil)
	logger.EventValidated("evt_00000001", true, nil)
	logger.EventProcessed("evt_00000001", 12, "snapshot_created")
	logger.EventReceived("evt_00000002", "pharmacy_core", nil)

	lineage := logger.EventLineage("evt_00000001")
	require.Len(t, lineage, 3)
	assert.Equal(t, domain.AuditEventReceived, lineage[0].Action)
	assert.Equal(t, domain.AuditEventValidated, lineage[1].Action)
	assert.Equal(t, domain.AuditEventProcessed, lineage[2].Action)
}

func TestStatistics(t *testing.T) {
	logger := NewLogger(testLogger())
	batchID := logger.NextBatchID()
	logger.BatchReceived(batchID, "pharmacy_core", 2)
	logger.EventProcessed("evt_00000001", 10, "snapshot_created")
	logger.EventProcessed("evt_00000002", 30, "snapshot_updated")
	logger.ProcessingError("evt_00000003", "", errors.New("boom"), 0)
	logger.BatchValidated(batchID, 1, 1)

	stats := logger.Statistics()
	assert.Equal(t, 5, stats.TotalRecords)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, 1, stats.WarningCount)
	assert.InDelta(t, 0.2, stats.ErrorRate, 1e-9)
	assert.InDelta(t, 0.2, stats.WarningRate, 1e-9)
	assert.InDelta(t, 8.0, stats.AverageProcessingTimeMs, 1e-9)
	assert.Equal(t, 1, stats.BatchesProcessed)
	assert.Equal(t, 3, stats.EventsProcessed)
	assert.Equal(t, 2, stats.ActionCounts[string(domain.AuditEventProcessed)])
}

func TestStatisticsEmptyTrail(t *testing.T) {
	logger := NewLogger(testLogger())
	stats := logger.Statistics()
	assert.Equal(t, 0, stats.TotalRecords)
	assert.Zero(t, stats.ErrorRate)
	assert.Nil(t, stats.ActionCounts)
}

func TestSinkReceivesEveryRecord(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(testLogger(), WithSink(sink))

	logger.EventReceived("evt_00000001", "pharmacy_core", nil)
	logger.EventValidated("evt_00000001", true, nil)

	require.Len(t, sink.records, 2)
	assert.Equal(t, domain.AuditEventReceived, sink.records[0].Action)
	assert.Equal(t, domain.AuditEventValidated, sink.records[1].Action)
}

func TestResetClearsTrail(t *testing.T) {
	logger := NewLogger(testLogger())
	logger.EventReceived("evt_00000001", "pharmacy_core", nil)
	logger.Reset()
	assert.Empty(t, logger.Trail(domain.AuditFilter{}))
	assert.Equal(t, 0, logger.Statistics().TotalRecords)
}

func TestArtifactRecordsAndTrailFilter(t *testing.T) {
	logger := NewLogger(testLogger())

	snap := logger.SnapshotAggregated("snapshot_20250610_120000_aabbccdd", "member_a1b2c3d4", "refill_e5f6a7b8", 3, 12)
	assert.Equal(t, domain.AuditSnapshotAggregated, snap.Action)
	assert.Equal(t, "snapshot_20250610_120000_aabbccdd", snap.ArtifactID)
	assert.Equal(t, 3, snap.Details["event_count"])
	assert.Equal(t, "member_a1b2c3d4", snap.Details["member_id"])
	assert.Equal(t, "refill_e5f6a7b8", snap.Details["refill_id"])
	assert.Equal(t, int64(12), snap.ProcessingTimeMs)

	metr := logger.MetricsComputed("snapshot_20250610_120000_aabbccdd", "member_a1b2c3d4", "refill_e5f6a7b8", 0.78, 4)
	assert.Equal(t, domain.AuditMetricsComputed, metr.Action)
	assert.Equal(t, "snapshot_20250610_120000_aabbccdd", metr.ArtifactID)
	assert.Equal(t, 0.78, metr.Details["risk_score"])

	risk := logger.RiskAssessed("risk_20250610_120000_11223344", domain.RiskRefillAbandonment, "member_a1b2c3d4", 0.62, domain.SeverityHigh, 7)
	assert.Equal(t, domain.AuditRiskAssessed, risk.Action)
	assert.Equal(t, "risk_20250610_120000_11223344", risk.ArtifactID)
	assert.Equal(t, "refill_abandonment", risk.Details["risk_type"])
	assert.Equal(t, "member_a1b2c3d4", risk.Details["entity_id"])
	assert.Equal(t, 0.62, risk.Details["probability"])
	assert.Equal(t, "high", risk.Details["severity"])

	bySnapshot := logger.Trail(domain.AuditFilter{ArtifactID: "snapshot_20250610_120000_aabbccdd"})
	require.Len(t, bySnapshot, 2)
	assert.Equal(t, domain.AuditSnapshotAggregated, bySnapshot[0].Action)
	assert.Equal(t, domain.AuditMetricsComputed, bySnapshot[1].Action)
}
