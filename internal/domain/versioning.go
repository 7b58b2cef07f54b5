package domain

import "time"

// VersionedArtifactType identifies the kind of artifact a version record tracks.
type VersionedArtifactType string

const (
	ArtifactSnapshot       VersionedArtifactType = "snapshot"
	ArtifactBundleMetrics  VersionedArtifactType = "bundle_metrics"
	ArtifactRiskAssessment VersionedArtifactType = "risk_assessment"
)

// VersionRecord ties an emitted artifact to the model name and version that
// produced it, for audit traceability.
type VersionRecord struct {
	RecordID     string                `json:"record_id"`
	ArtifactID   string                `json:"artifact_id"`
	ArtifactType VersionedArtifactType `json:"artifact_type"`
	ModelName    string                `json:"model_name"`
	ModelVersion string                `json:"model_version"`
	CreatedAt    time.Time             `json:"created_at"`
	Metadata     map[string]any        `json:"metadata,omitempty"`
	Notes        string                `json:"notes,omitempty"`
}
