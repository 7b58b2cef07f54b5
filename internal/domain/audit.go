package domain

import "time"

// AuditAction identifies what an audit record describes.
type AuditAction string

const (
	AuditEventReceived    AuditAction = "event_received"
	AuditEventValidated   AuditAction = "event_validated"
	AuditEventProcessed   AuditAction = "event_processed"
	AuditBatchReceived    AuditAction = "batch_received"
	AuditBatchValidated   AuditAction = "batch_validated"
	AuditBatchProcessed   AuditAction = "batch_processed"
	AuditValidationFailed AuditAction = "validation_failed"
	AuditProcessingFailed AuditAction = "processing_failed"

	AuditSnapshotAggregated AuditAction = "snapshot_aggregated"
	AuditMetricsComputed    AuditAction = "metrics_computed"
	AuditRiskAssessed       AuditAction = "risk_assessed"
)

// AuditSeverity levels for audit records.
type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarning  AuditSeverity = "warning"
	AuditError    AuditSeverity = "error"
	AuditCritical AuditSeverity = "critical"
)

// AuditRecord is one immutable entry in the processing audit trail.
type AuditRecord struct {
	AuditID   string        `json:"audit_id"`
	Timestamp time.Time     `json:"timestamp"`
	Action    AuditAction   `json:"action"`
	Severity  AuditSeverity `json:"severity"`

	EventID      string `json:"event_id,omitempty"`
	BatchID      string `json:"batch_id,omitempty"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	SourceSystem string `json:"source_system,omitempty"`

	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
}

// AuditFilter narrows audit trail retrieval. A zero filter matches everything.
type AuditFilter struct {
	EventID    string        `json:"event_id,omitempty"`
	BatchID    string        `json:"batch_id,omitempty"`
	ArtifactID string        `json:"artifact_id,omitempty"`
	Action     AuditAction   `json:"action,omitempty"`
	Severity   AuditSeverity `json:"severity,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

// AuditStatistics summarizes an audit trail.
type AuditStatistics struct {
	TotalRecords            int            `json:"total_records"`
	ErrorCount              int            `json:"error_count"`
	WarningCount            int            `json:"warning_count"`
	ErrorRate               float64        `json:"error_rate"`
	WarningRate             float64        `json:"warning_rate"`
	ActionCounts            map[string]int `json:"action_counts,omitempty"`
	AverageProcessingTimeMs float64        `json:"average_processing_time_ms"`
	BatchesProcessed        int            `json:"batches_processed"`
	EventsProcessed         int            `json:"events_processed"`
}
