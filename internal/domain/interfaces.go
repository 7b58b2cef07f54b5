package domain

import (
	"context"
)

// SnapshotAggregator folds canonical event histories into refill snapshots.
type SnapshotAggregator interface {
	Aggregate(ctx context.Context, events []*CanonicalEvent) (*RefillSnapshot, error)
	AggregateBatch(ctx context.Context, groups map[string][]*CanonicalEvent) (map[string]*RefillSnapshot, error)
	Update(ctx context.Context, snapshotID string, event *CanonicalEvent) (*RefillSnapshot, error)
}

// MetricsEngine derives bundle-relevant metrics from snapshots.
type MetricsEngine interface {
	Compute(ctx context.Context, snapshot *RefillSnapshot) (*BundleMetrics, error)
	ComputeBatch(ctx context.Context, snapshots []*RefillSnapshot) ([]*BundleMetrics, error)
	Summarize(metrics []*BundleMetrics) *BundleMetricsSummary
}

// RiskScorer produces explainable risk assessments from bundle metrics.
type RiskScorer interface {
	AssessBundleBreak(ctx context.Context, metrics *BundleMetrics) (*BundleBreakRisk, error)
	AssessRefillAbandonment(ctx context.Context, metrics *BundleMetrics) (*RefillAbandonmentRisk, error)
	AssessBatch(ctx context.Context, metrics []*BundleMetrics) ([]RiskAssessment, error)
}

// SnapshotRepository stores snapshots and the event sets they were built from.
type SnapshotRepository interface {
	Save(ctx context.Context, snapshot *RefillSnapshot, events []*CanonicalEvent) error
	Get(ctx context.Context, snapshotID string) (*RefillSnapshot, error)
	GetEvents(ctx context.Context, snapshotID string) ([]*CanonicalEvent, error)
	Query(ctx context.Context, query *SnapshotQuery) (*SnapshotList, error)
	ListByMember(ctx context.Context, memberID string) ([]*RefillSnapshot, error)
	ListByBundle(ctx context.Context, bundleID string) ([]*RefillSnapshot, error)
}

// MetricsRepository stores computed bundle metrics.
type MetricsRepository interface {
	Save(ctx context.Context, metrics *BundleMetrics) error
	Get(ctx context.Context, metricsID string) (*BundleMetrics, error)
	Query(ctx context.Context, query *MetricsQuery) (*MetricsList, error)
}

// RiskRepository stores risk assessments of both types.
type RiskRepository interface {
	Save(ctx context.Context, assessment RiskAssessment) error
	Get(ctx context.Context, riskID string) (RiskAssessment, error)
	Query(ctx context.Context, query *RiskQuery) (*RiskList, error)
}

// AuditLogger records an immutable trail of processing operations.
type AuditLogger interface {
	EventReceived(eventID, sourceSystem string, details map[string]any) *AuditRecord
	EventValidated(eventID string, valid bool, errs []string) *AuditRecord
	EventProcessed(eventID string, processingTimeMs int64, outcome string) *AuditRecord
	BatchReceived(batchID, sourceSystem string, eventCount int) *AuditRecord
	BatchValidated(batchID string, validCount, invalidCount int) *AuditRecord
	BatchProcessed(batchID string, processingTimeMs int64, processedCount int) *AuditRecord
	ProcessingError(eventID, batchID string, err error, processingTimeMs int64) *AuditRecord

	SnapshotAggregated(snapshotID, memberID, refillID string, eventCount int, processingTimeMs int64) *AuditRecord
	MetricsComputed(snapshotID, memberID, refillID string, riskScore float64, processingTimeMs int64) *AuditRecord
	RiskAssessed(riskID string, riskType RiskType, entityID string, probability float64, severity RiskSeverity, processingTimeMs int64) *AuditRecord

	Trail(filter AuditFilter) []*AuditRecord
	EventLineage(eventID string) []*AuditRecord
	Statistics() *AuditStatistics
}

// VersionRegistry tracks which model versions produced which artifacts.
type VersionRegistry interface {
	Register(artifactID string, artifactType VersionedArtifactType, modelName, modelVersion string, metadata map[string]any) *VersionRecord
	Get(recordID string) (*VersionRecord, bool)
	ListByArtifact(artifactID string) []*VersionRecord
	ListByType(artifactType VersionedArtifactType) []*VersionRecord
}
