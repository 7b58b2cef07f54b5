// Package domain contains the core business entities for refill bundle risk
// intelligence: canonical lifecycle events, aggregated refill snapshots, the
// quantitative metrics derived from them, and explainable risk assessments.
//
// All identifiers crossing this package boundary are pseudonymized. No PHI is
// ever carried in these types.
package domain

import "errors"

// SnapshotStage represents the refill lifecycle stage resolved for a snapshot.
// The stage is determined by a fixed priority cascade over milestone
// timestamps; later stages in the lifecycle always win over earlier ones.
type SnapshotStage string

const (
	StageInitiated   SnapshotStage = "initiated"
	StageEligible    SnapshotStage = "eligible"
	StagePAPending   SnapshotStage = "pa_pending"
	StagePAApproved  SnapshotStage = "pa_approved"
	StagePADenied    SnapshotStage = "pa_denied"
	StageBundled     SnapshotStage = "bundled"
	StageOOSDetected SnapshotStage = "oos_detected"
	StageShipped     SnapshotStage = "shipped"
	StageCompleted   SnapshotStage = "completed"
	StageCancelled   SnapshotStage = "cancelled"
)

// PAState represents the prior-authorization state within a snapshot.
type PAState string

const (
	PANotRequired PAState = "not_required"
	PAPending     PAState = "pending"
	PAApproved    PAState = "approved"
	PADenied      PAState = "denied"
	PAExpired     PAState = "expired"
)

// BundleTimingState classifies bundle timing alignment from the latest known
// alignment score: >= 0.8 aligned, >= 0.6 early, >= 0.4 late, else misaligned.
// Unknown when no alignment score was ever observed.
type BundleTimingState string

const (
	TimingAligned    BundleTimingState = "aligned"
	TimingEarly      BundleTimingState = "early"
	TimingLate       BundleTimingState = "late"
	TimingMisaligned BundleTimingState = "misaligned"
	TimingUnknown    BundleTimingState = "unknown"
)

// RiskSeverity represents the four business severity levels derived from a
// probability via the three configured threshold cut-points.
type RiskSeverity string

const (
	SeverityLow      RiskSeverity = "low"
	SeverityMedium   RiskSeverity = "medium"
	SeverityHigh     RiskSeverity = "high"
	SeverityCritical RiskSeverity = "critical"
)

// RiskType identifies the kind of risk assessment produced by the scorer.
type RiskType string

const (
	RiskBundleBreak       RiskType = "bundle_break"
	RiskRefillAbandonment RiskType = "refill_abandonment"
)

// RiskDriverType identifies the named drivers that explain a risk score.
// Driver weights in RiskModelConfig are keyed by these values.
type RiskDriverType string

const (
	DriverTimingMisalignment    RiskDriverType = "timing_misalignment"
	DriverPAProcessingDelay     RiskDriverType = "pa_processing_delay"
	DriverOOSDisruption         RiskDriverType = "oos_disruption"
	DriverStageAging            RiskDriverType = "stage_aging"
	DriverBundleFragmentation   RiskDriverType = "bundle_fragmentation"
	DriverRefillGapAnomaly      RiskDriverType = "refill_gap_anomaly"
	DriverSupplyBufferDepletion RiskDriverType = "supply_buffer_depletion"
	DriverMemberBehaviorChange  RiskDriverType = "member_behavior_change"
)

// SortOrder for query surfaces.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrEmptyEventSet = errors.New("cannot aggregate an empty event set")
	ErrEventMismatch = errors.New("event does not belong to snapshot")
	ErrInvalidConfig = errors.New("invalid risk model configuration")
)

// IsValid reports whether the stage is one of the known lifecycle stages.
func (s SnapshotStage) IsValid() bool {
	switch s {
	case StageInitiated, StageEligible, StagePAPending, StagePAApproved, StagePADenied,
		StageBundled, StageOOSDetected, StageShipped, StageCompleted, StageCancelled:
		return true
	default:
		return false
	}
}

func (s SnapshotStage) String() string { return string(s) }

// IsTerminal reports whether the stage ends the lifecycle.
func (s SnapshotStage) IsTerminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// IsValid reports whether the PA state is known.
func (p PAState) IsValid() bool {
	switch p {
	case PANotRequired, PAPending, PAApproved, PADenied, PAExpired:
		return true
	default:
		return false
	}
}

func (p PAState) String() string { return string(p) }

// IsValid reports whether the timing state is known.
func (b BundleTimingState) IsValid() bool {
	switch b {
	case TimingAligned, TimingEarly, TimingLate, TimingMisaligned, TimingUnknown:
		return true
	default:
		return false
	}
}

func (b BundleTimingState) String() string { return string(b) }

// TimingStateFromScore buckets a bundle alignment score into a timing state.
// A nil score means no alignment was ever observed for the refill.
func TimingStateFromScore(score *float64) BundleTimingState {
	if score == nil {
		return TimingUnknown
	}
	switch {
	case *score >= 0.8:
		return TimingAligned
	case *score >= 0.6:
		return TimingEarly
	case *score >= 0.4:
		return TimingLate
	default:
		return TimingMisaligned
	}
}

// IsValid reports whether the severity is one of the four levels.
func (s RiskSeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

func (s RiskSeverity) String() string { return string(s) }

// RequiresAttention reports whether the severity calls for operational review.
func (s RiskSeverity) RequiresAttention() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// rank orders severities for sorting; unknown severities sort first.
func (s RiskSeverity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// LessSevere reports whether s orders strictly before other.
func (s RiskSeverity) LessSevere(other RiskSeverity) bool {
	return s.rank() < other.rank()
}

// IsValid reports whether the risk type is known.
func (t RiskType) IsValid() bool {
	return t == RiskBundleBreak || t == RiskRefillAbandonment
}

func (t RiskType) String() string { return string(t) }

func (d RiskDriverType) String() string { return string(d) }

// IsValid reports whether the driver type is known.
func (d RiskDriverType) IsValid() bool {
	switch d {
	case DriverTimingMisalignment, DriverPAProcessingDelay, DriverOOSDisruption,
		DriverStageAging, DriverBundleFragmentation, DriverRefillGapAnomaly,
		DriverSupplyBufferDepletion, DriverMemberBehaviorChange:
		return true
	default:
		return false
	}
}
