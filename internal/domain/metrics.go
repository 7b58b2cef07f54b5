package domain

import "time"

// MetricsVersion is the schema version stamped on computed metrics.
const MetricsVersion = "1.0"

// AgeInStageMetrics describes how long a refill has spent in lifecycle stages.
type AgeInStageMetrics struct {
	CurrentStage       SnapshotStage  `json:"current_stage"`
	DaysInCurrentStage int            `json:"days_in_current_stage"`
	StageHistory       map[string]int `json:"stage_history,omitempty"`

	InitiationToEligibleDays *int `json:"initiation_to_eligible_days,omitempty"`
	EligibilityToBundledDays *int `json:"eligibility_to_bundled_days,omitempty"`
	BundledToShippedDays     *int `json:"bundled_to_shipped_days,omitempty"`

	IsAgingInStage     bool    `json:"is_aging_in_stage"`
	StageAgePercentile float64 `json:"stage_age_percentile"`
}

// TimingOverlapMetrics describes timing overlap between refills sharing a bundle.
type TimingOverlapMetrics struct {
	BundleID   string `json:"bundle_id,omitempty"`
	BundleSize int    `json:"bundle_size"`

	RefillOverlapScore float64 `json:"refill_overlap_score"`
	TimingVarianceDays float64 `json:"timing_variance_days"`
	MaxTimingGapDays   int     `json:"max_timing_gap_days"`

	IsWellAligned       bool    `json:"is_well_aligned"`
	AlignmentEfficiency float64 `json:"alignment_efficiency"`

	FragmentationRisk        float64 `json:"fragmentation_risk"`
	ShipmentSplitProbability float64 `json:"shipment_split_probability"`
}

// RefillGapMetrics describes gaps between fill events and the upcoming due date.
type RefillGapMetrics struct {
	DaysSinceLastFill int `json:"days_since_last_fill"`
	DaysUntilNextDue  int `json:"days_until_next_due"`
	RefillGapDays     int `json:"refill_gap_days"`

	IsOptimalGap       bool    `json:"is_optimal_gap"`
	GapEfficiencyScore float64 `json:"gap_efficiency_score"`

	AbandonmentRisk float64 `json:"abandonment_risk"`
	UrgencyScore    float64 `json:"urgency_score"`

	// Supply fields are only populated when days supply and last fill date
	// are both known.
	DaysSupplyRemaining *int `json:"days_supply_remaining,omitempty"`
	SupplyBufferDays    *int `json:"supply_buffer_days,omitempty"`
}

// BundleAlignmentMetrics describes bundle-level alignment and health.
type BundleAlignmentMetrics struct {
	BundleID          string `json:"bundle_id,omitempty"`
	BundleMemberCount int    `json:"bundle_member_count"`
	BundleRefillCount int    `json:"bundle_refill_count"`

	BundleAlignmentScore float64 `json:"bundle_alignment_score"`
	TimingAlignmentScore float64 `json:"timing_alignment_score"`

	BundleEfficiencyScore float64 `json:"bundle_efficiency_score"`
	CostSavingsPotential  float64 `json:"cost_savings_potential"`

	SplitRiskScore         float64 `json:"split_risk_score"`
	OutreachReductionScore float64 `json:"outreach_reduction_score"`

	BundleHealthScore  float64  `json:"bundle_health_score"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`
}

// BundleMetrics bundles all metric groups computed from one snapshot, plus an
// overall risk rollup.
type BundleMetrics struct {
	MetricsID         string    `json:"metrics_id"`
	SnapshotID        string    `json:"snapshot_id"`
	MemberID          string    `json:"member_id"`
	RefillID          string    `json:"refill_id"`
	BundleID          string    `json:"bundle_id,omitempty"`
	ComputedTimestamp time.Time `json:"computed_timestamp"`
	MetricsVersion    string    `json:"metrics_version"`

	AgeInStage      AgeInStageMetrics      `json:"age_in_stage"`
	TimingOverlap   TimingOverlapMetrics   `json:"timing_overlap"`
	RefillGap       RefillGapMetrics       `json:"refill_gap"`
	BundleAlignment BundleAlignmentMetrics `json:"bundle_alignment"`

	OverallRiskScore   float64      `json:"overall_risk_score"`
	RiskSeverity       RiskSeverity `json:"risk_severity"`
	PrimaryRiskFactors []string     `json:"primary_risk_factors,omitempty"`

	RequiresAttention  bool     `json:"requires_attention"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`

	ComputationTimeMs int64 `json:"computation_time_ms"`
}

// BundleMetricsSummary aggregates metric statistics across a result set.
type BundleMetricsSummary struct {
	ComputedTimestamp time.Time `json:"computed_timestamp"`
	TotalSnapshots    int       `json:"total_snapshots"`
	MetricsVersion    string    `json:"metrics_version"`

	AvgRiskScore      float64 `json:"avg_risk_score"`
	HighRiskCount     int     `json:"high_risk_count"`
	CriticalRiskCount int     `json:"critical_risk_count"`

	StageDistribution map[string]int `json:"stage_distribution,omitempty"`

	AvgBundleHealth float64 `json:"avg_bundle_health"`
	TotalBundles    int     `json:"total_bundles"`

	ComputationTimeMs int64 `json:"computation_time_ms"`
}

// MetricsQuery filters, sorts, and paginates metrics retrieval.
type MetricsQuery struct {
	MemberID string `json:"member_id,omitempty"`
	RefillID string `json:"refill_id,omitempty"`
	BundleID string `json:"bundle_id,omitempty"`

	MinRiskScore *float64     `json:"min_risk_score,omitempty"`
	MaxRiskScore *float64     `json:"max_risk_score,omitempty"`
	RiskSeverity RiskSeverity `json:"risk_severity,omitempty"`

	ComputedFrom *time.Time `json:"computed_timestamp_from,omitempty"`
	ComputedTo   *time.Time `json:"computed_timestamp_to,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`

	IncludeSummary bool `json:"include_summary,omitempty"`
}

// Metrics sort field whitelist.
const (
	MetricsSortComputedTimestamp = "computed_timestamp"
	MetricsSortRiskScore         = "overall_risk_score"
	MetricsSortBundleHealth      = "bundle_health_score"
)

// MetricsList is the paginated response for metrics queries.
type MetricsList struct {
	Metrics    []*BundleMetrics      `json:"metrics"`
	TotalCount int                   `json:"total_count"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
	HasMore    bool                  `json:"has_more"`
	Summary    *BundleMetricsSummary `json:"summary,omitempty"`
}
