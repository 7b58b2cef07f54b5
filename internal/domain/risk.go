package domain

import "time"

// RiskModelVersion is stamped on every assessment produced by the scorer.
const RiskModelVersion = "1.0"

// RecommendationPriority levels for risk mitigation recommendations.
type RecommendationPriority string

const (
	PriorityUrgent RecommendationPriority = "urgent"
	PriorityHigh   RecommendationPriority = "high"
	PriorityMedium RecommendationPriority = "medium"
	PriorityLow    RecommendationPriority = "low"
)

// RiskDriver is an individual contributor to a risk score, with the evidence
// that makes the score explainable.
type RiskDriver struct {
	DriverType  RiskDriverType `json:"driver_type"`
	DriverName  string         `json:"driver_name"`
	ImpactScore float64        `json:"impact_score"`
	Confidence  float64        `json:"confidence"`

	Evidence     map[string]any     `json:"evidence,omitempty"`
	MetricValues map[string]float64 `json:"metric_values,omitempty"`

	DetectedTimestamp time.Time `json:"detected_timestamp"`
	TrendDirection    string    `json:"trend_direction,omitempty"`
}

// RiskRecommendation is an actionable mitigation step tied to an assessment.
type RiskRecommendation struct {
	RecommendationID string                 `json:"recommendation_id"`
	Priority         RecommendationPriority `json:"priority"`
	Category         string                 `json:"category"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	ActionSteps []string `json:"action_steps,omitempty"`

	ExpectedImpact     string   `json:"expected_impact"`
	TimeToImplement    string   `json:"time_to_implement"`
	SuccessProbability *float64 `json:"success_probability,omitempty"`

	ApplicableStages  []SnapshotStage `json:"applicable_stages,omitempty"`
	RequiredResources []string        `json:"required_resources,omitempty"`
}

// BundleBreakRisk is a risk assessment for a bundle splitting apart before
// shipment.
type BundleBreakRisk struct {
	RiskID              string    `json:"risk_id"`
	BundleID            string    `json:"bundle_id"`
	AssessmentTimestamp time.Time `json:"assessment_timestamp"`
	ModelVersion        string    `json:"model_version"`

	BreakProbability float64      `json:"break_probability"`
	BreakSeverity    RiskSeverity `json:"break_severity"`
	ConfidenceScore  float64      `json:"confidence_score"`

	PrimaryDrivers   []RiskDriver `json:"primary_drivers,omitempty"`
	SecondaryDrivers []RiskDriver `json:"secondary_drivers,omitempty"`

	BundleSize           int     `json:"bundle_size"`
	BundleHealthScore    float64 `json:"bundle_health_score"`
	TimingAlignmentScore float64 `json:"timing_alignment_score"`

	EstimatedBreakTimeframe string   `json:"estimated_break_timeframe,omitempty"`
	CriticalFactors         []string `json:"critical_factors,omitempty"`

	Recommendations []RiskRecommendation `json:"recommendations,omitempty"`
}

// RefillAbandonmentRisk is a risk assessment for a member walking away from a
// refill.
type RefillAbandonmentRisk struct {
	RiskID              string    `json:"risk_id"`
	RefillID            string    `json:"refill_id"`
	MemberID            string    `json:"member_id"`
	AssessmentTimestamp time.Time `json:"assessment_timestamp"`
	ModelVersion        string    `json:"model_version"`

	AbandonmentProbability float64      `json:"abandonment_probability"`
	AbandonmentSeverity    RiskSeverity `json:"abandonment_severity"`
	ConfidenceScore        float64      `json:"confidence_score"`

	PrimaryDrivers   []RiskDriver `json:"primary_drivers,omitempty"`
	SecondaryDrivers []RiskDriver `json:"secondary_drivers,omitempty"`

	DaysSinceLastFill int           `json:"days_since_last_fill"`
	DaysUntilDue      int           `json:"days_until_due"`
	RefillStage       SnapshotStage `json:"refill_stage"`

	EngagementScore   *float64       `json:"engagement_score,omitempty"`
	ComplianceHistory map[string]any `json:"compliance_history,omitempty"`

	EstimatedAbandonmentTimeframe string   `json:"estimated_abandonment_timeframe,omitempty"`
	CriticalFactors               []string `json:"critical_factors,omitempty"`

	Recommendations []RiskRecommendation `json:"recommendations,omitempty"`
}

// RiskAssessment is the common view over both assessment variants, used by
// storage and query surfaces.
type RiskAssessment interface {
	ID() string
	Type() RiskType
	Probability() float64
	Severity() RiskSeverity
	Timestamp() time.Time
}

func (r *BundleBreakRisk) ID() string             { return r.RiskID }
func (r *BundleBreakRisk) Type() RiskType         { return RiskBundleBreak }
func (r *BundleBreakRisk) Probability() float64   { return r.BreakProbability }
func (r *BundleBreakRisk) Severity() RiskSeverity { return r.BreakSeverity }
func (r *BundleBreakRisk) Timestamp() time.Time   { return r.AssessmentTimestamp }

func (r *RefillAbandonmentRisk) ID() string             { return r.RiskID }
func (r *RefillAbandonmentRisk) Type() RiskType         { return RiskRefillAbandonment }
func (r *RefillAbandonmentRisk) Probability() float64   { return r.AbandonmentProbability }
func (r *RefillAbandonmentRisk) Severity() RiskSeverity { return r.AbandonmentSeverity }
func (r *RefillAbandonmentRisk) Timestamp() time.Time   { return r.AssessmentTimestamp }

// RiskAssessmentSummary aggregates assessment statistics across a result set.
type RiskAssessmentSummary struct {
	AssessmentTimestamp time.Time `json:"assessment_timestamp"`
	ModelVersion        string    `json:"model_version"`
	TotalAssessments    int       `json:"total_assessments"`

	RiskDistribution     map[string]int `json:"risk_distribution,omitempty"`
	SeverityDistribution map[string]int `json:"severity_distribution,omitempty"`

	AvgBreakProbability       float64 `json:"avg_break_probability"`
	AvgAbandonmentProbability float64 `json:"avg_abandonment_probability"`
	HighRiskCount             int     `json:"high_risk_count"`

	AssessmentTimeMs int64 `json:"assessment_time_ms"`
}

// RiskQuery filters, sorts, and paginates risk assessment retrieval.
type RiskQuery struct {
	RiskType RiskType `json:"risk_type,omitempty"`
	BundleID string   `json:"bundle_id,omitempty"`
	MemberID string   `json:"member_id,omitempty"`
	RefillID string   `json:"refill_id,omitempty"`

	MinProbability *float64     `json:"min_probability,omitempty"`
	MaxProbability *float64     `json:"max_probability,omitempty"`
	Severity       RiskSeverity `json:"severity,omitempty"`

	AssessedFrom *time.Time `json:"assessment_timestamp_from,omitempty"`
	AssessedTo   *time.Time `json:"assessment_timestamp_to,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`

	IncludeSummary bool `json:"include_summary,omitempty"`
}

// Risk sort field whitelist.
const (
	RiskSortAssessmentTimestamp = "assessment_timestamp"
	RiskSortProbability         = "probability"
	RiskSortConfidence          = "confidence_score"
)

// RiskList is the paginated response for risk assessment queries.
type RiskList struct {
	Risks      []RiskAssessment       `json:"risks"`
	TotalCount int                    `json:"total_count"`
	Limit      int                    `json:"limit"`
	Offset     int                    `json:"offset"`
	HasMore    bool                   `json:"has_more"`
	Summary    *RiskAssessmentSummary `json:"summary,omitempty"`
}
