package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refill-risk-engine/internal/audit"
	"github.com/refill-risk-engine/internal/domain"
	"github.com/refill-risk-engine/internal/repository"
	"github.com/refill-risk-engine/internal/versioning"
)

func newTestScorer(t *testing.T) (*RiskScorer, *repository.RiskRepository) {
	t.Helper()
	log := testLogger()
	repo := repository.NewRiskRepository(log)
	scorer, err := NewRiskScorer(nil, repo, audit.NewLogger(log), versioning.NewRegistry(), log)
	require.NoError(t, err)
	scorer.now = func() time.Time { return testNow }
	return scorer, repo
}

func healthyMetrics() *domain.BundleMetrics {
	return &domain.BundleMetrics{
		MetricsID:         "metrics_20250610_120000_00000001",
		SnapshotID:        "snapshot_20250610_120000_aabbccdd",
		MemberID:          "member_a1b2c3d4",
		RefillID:          "refill_e5f6a7b8",
		BundleID:          "bundle_c9d0e1f2",
		ComputedTimestamp: testNow,
		MetricsVersion:    domain.MetricsVersion,
		AgeInStage: domain.AgeInStageMetrics{
			CurrentStage:       domain.StageBundled,
			DaysInCurrentStage: 1,
		},
		TimingOverlap: domain.TimingOverlapMetrics{
			BundleID:           "bundle_c9d0e1f2",
			BundleSize:         3,
			RefillOverlapScore: 0.95,
			FragmentationRisk:  0.1,
		},
		RefillGap: domain.RefillGapMetrics{
			DaysSinceLastFill:  28,
			DaysUntilNextDue:   10,
			RefillGapDays:      28,
			GapEfficiencyScore: 0.93,
		},
		BundleAlignment: domain.BundleAlignmentMetrics{
			BundleID:             "bundle_c9d0e1f2",
			BundleRefillCount:    3,
			BundleAlignmentScore: 0.9,
			TimingAlignmentScore: 0.9,
			BundleHealthScore:    0.85,
		},
	}
}

func distressedMetrics() *domain.BundleMetrics {
	m := healthyMetrics()
	m.AgeInStage.CurrentStage = domain.StagePAPending
	m.AgeInStage.DaysInCurrentStage = 12
	m.TimingOverlap.FragmentationRisk = 0.9
	m.BundleAlignment.TimingAlignmentScore = 0.2
	m.BundleAlignment.BundleHealthScore = 0.3
	m.RefillGap.DaysSinceLastFill = 200
	m.RefillGap.AbandonmentRisk = 1.0
	m.RefillGap.UrgencyScore = 1.0
	m.RefillGap.DaysUntilNextDue = -5
	m.RefillGap.GapEfficiencyScore = 0.0
	return m
}

func TestSeverityFromThresholds(t *testing.T) {
	thresholds := map[string]float64{"low": 0.3, "medium": 0.6, "high": 0.8}

	tests := []struct {
		probability float64
		expected    domain.RiskSeverity
	}{
		{0.85, domain.SeverityCritical},
		{0.8, domain.SeverityCritical},
		{0.7, domain.SeverityHigh},
		{0.6, domain.SeverityHigh},
		{0.4, domain.SeverityMedium},
		{0.3, domain.SeverityMedium},
		{0.1, domain.SeverityLow},
	}

	for _, tt := range tests {
		got := severityFromThresholds(tt.probability, thresholds)
		assert.Equal(t, tt.expected, got, "probability %v", tt.probability)
	}
}

func TestSplitDriversRanking(t *testing.T) {
	drivers := []domain.RiskDriver{
		{DriverName: "c", ImpactScore: 0.5},
		{DriverName: "a", ImpactScore: 0.9},
		{DriverName: "d", ImpactScore: 0.3},
		{DriverName: "b", ImpactScore: 0.7},
	}

	primary, secondary := splitDrivers(drivers)

	require.Len(t, primary, 2)
	assert.Equal(t, "a", primary[0].DriverName)
	assert.Equal(t, "b", primary[1].DriverName)
	require.Len(t, secondary, 2)
	assert.Equal(t, "c", secondary[0].DriverName)
	assert.Equal(t, "d", secondary[1].DriverName)
}

func TestStageAgingRisk(t *testing.T) {
	scorer, _ := newTestScorer(t)

	tests := []struct {
		name     string
		stage    domain.SnapshotStage
		days     int
		expected float64
	}{
		{"half of max", domain.StagePAPending, 5, 0.5},
		{"capped at one", domain.StageInitiated, 20, 1.0},
		{"shipped never ages", domain.StageShipped, 30, 0.0},
		{"completed never ages", domain.StageCompleted, 30, 0.0},
		{"unknown stage uses default", domain.StageCancelled, 7, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := healthyMetrics()
			m.AgeInStage.CurrentStage = tt.stage
			m.AgeInStage.DaysInCurrentStage = tt.days
			assert.InDelta(t, tt.expected, scorer.stageAgingRisk(m), 1e-9)
		})
	}
}

func TestAssessBundleBreakHealthyBundle(t *testing.T) {
	scorer, repo := newTestScorer(t)

	risk, err := scorer.AssessBundleBreak(context.Background(), healthyMetrics())
	require.NoError(t, err)

	assert.Equal(t, "bundle_c9d0e1f2", risk.BundleID)
	assert.Equal(t, domain.SeverityLow, risk.BreakSeverity)
	assert.Less(t, risk.BreakProbability, 0.3)
	assert.Empty(t, risk.PrimaryDrivers)
	assert.Equal(t, 0.5, risk.ConfidenceScore)
	assert.Equal(t, 3, risk.BundleSize)

	saved, err := repo.Get(context.Background(), risk.RiskID)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskBundleBreak, saved.Type())
}

func TestAssessBundleBreakDistressedBundle(t *testing.T) {
	scorer, _ := newTestScorer(t)

	risk, err := scorer.AssessBundleBreak(context.Background(), distressedMetrics())
	require.NoError(t, err)

	assert.True(t, risk.BreakProbability > 0.5)
	assert.True(t, risk.BreakSeverity.RequiresAttention())
	require.Len(t, risk.PrimaryDrivers, 2)
	assert.NotEmpty(t, risk.SecondaryDrivers)
	assert.NotEmpty(t, risk.CriticalFactors)
	assert.NotEmpty(t, risk.Recommendations)
	assert.Equal(t, "1-2 weeks", risk.EstimatedBreakTimeframe)

	// Drivers are ranked by impact.
	assert.GreaterOrEqual(t, risk.PrimaryDrivers[0].ImpactScore, risk.PrimaryDrivers[1].ImpactScore)
}

func TestAssessBundleBreakUnknownBundle(t *testing.T) {
	scorer, _ := newTestScorer(t)

	m := healthyMetrics()
	m.BundleID = ""

	risk, err := scorer.AssessBundleBreak(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "unknown", risk.BundleID)
}

func TestAssessRefillAbandonment(t *testing.T) {
	scorer, _ := newTestScorer(t)

	risk, err := scorer.AssessRefillAbandonment(context.Background(), distressedMetrics())
	require.NoError(t, err)

	assert.Equal(t, "refill_e5f6a7b8", risk.RefillID)
	assert.Equal(t, "member_a1b2c3d4", risk.MemberID)
	// Only stage aging and bundle fragmentation carry configured weights:
	// 0.15*1.0 + 0.1*(0.9*0.5).
	assert.InDelta(t, 0.195, risk.AbandonmentProbability, 1e-9)
	require.Len(t, risk.PrimaryDrivers, 2)
	require.Len(t, risk.SecondaryDrivers, 1)
	assert.Equal(t, 200, risk.DaysSinceLastFill)
	assert.Equal(t, domain.StagePAPending, risk.RefillStage)
	assert.Equal(t, "Immediate (overdue)", risk.EstimatedAbandonmentTimeframe)

	require.NotNil(t, risk.EngagementScore)
	assert.Equal(t, 0.0, *risk.EngagementScore)
	assert.Contains(t, risk.ComplianceHistory, "refill_gap_days")
	assert.Contains(t, risk.ComplianceHistory, "last_activity")
}

func TestRecommendationsCarryTemplateFields(t *testing.T) {
	scorer, _ := newTestScorer(t)

	risk, err := scorer.AssessRefillAbandonment(context.Background(), distressedMetrics())
	require.NoError(t, err)
	require.NotEmpty(t, risk.Recommendations)

	var supply *domain.RiskRecommendation
	for i, rec := range risk.Recommendations {
		assert.NotEmpty(t, rec.RequiredResources)
		assert.NotEmpty(t, rec.ApplicableStages)
		if rec.Category == "supply_management" {
			supply = &risk.Recommendations[i]
		}
	}
	require.NotNil(t, supply)
	// Low severity stays below the supply template's critical escalation floor.
	assert.Equal(t, domain.PriorityMedium, supply.Priority)
	assert.Equal(t, []string{"Pharmacy staff", "Inventory system"}, supply.RequiredResources)

	breakRisk, err := scorer.AssessBundleBreak(context.Background(), distressedMetrics())
	require.NoError(t, err)
	require.NotEmpty(t, breakRisk.Recommendations)
	for _, rec := range breakRisk.Recommendations {
		assert.NotEmpty(t, rec.RequiredResources)
		assert.NotEmpty(t, rec.ApplicableStages)
	}
}

func TestAssessRefillAbandonmentHealthy(t *testing.T) {
	scorer, _ := newTestScorer(t)

	risk, err := scorer.AssessRefillAbandonment(context.Background(), healthyMetrics())
	require.NoError(t, err)

	assert.Equal(t, domain.SeverityLow, risk.AbandonmentSeverity)
	assert.Empty(t, risk.PrimaryDrivers)
	assert.Equal(t, "1-2 weeks", risk.EstimatedAbandonmentTimeframe)
}

func TestEngagementScore(t *testing.T) {
	scorer, _ := newTestScorer(t)

	m := healthyMetrics()
	m.RefillGap.GapEfficiencyScore = 0.9
	m.AgeInStage.CurrentStage = domain.StagePAPending
	m.AgeInStage.DaysInCurrentStage = 10

	// aging risk 1.0 subtracts 0.3 from gap efficiency
	assert.InDelta(t, 0.6, scorer.engagementScore(m), 1e-9)
}

func TestAssessBatchGrouping(t *testing.T) {
	scorer, _ := newTestScorer(t)

	bundledA := distressedMetrics()
	bundledB := distressedMetrics()
	bundledB.MetricsID = "metrics_20250610_120000_00000002"
	bundledB.RefillID = "refill_99887766"
	solo := distressedMetrics()
	solo.MetricsID = "metrics_20250610_120000_00000003"
	solo.RefillID = "refill_55667788"
	solo.BundleID = ""
	lonelyBundle := distressedMetrics()
	lonelyBundle.MetricsID = "metrics_20250610_120000_00000004"
	lonelyBundle.RefillID = "refill_44556677"
	lonelyBundle.BundleID = "bundle_ffeeddcc"

	out, err := scorer.AssessBatch(context.Background(), []*domain.BundleMetrics{bundledA, bundledB, solo, lonelyBundle})
	require.NoError(t, err)

	// One abandonment for the unbundled metric, one break for the two-member
	// bundle plus abandonment per member. The single-metric bundle gets nothing.
	require.Len(t, out, 4)

	var breaks, abandonments int
	for _, assessment := range out {
		switch assessment.Type() {
		case domain.RiskBundleBreak:
			breaks++
		case domain.RiskRefillAbandonment:
			abandonments++
		}
	}
	assert.Equal(t, 1, breaks)
	assert.Equal(t, 3, abandonments)
}

func TestNewRiskScorerRejectsInvalidConfig(t *testing.T) {
	log := testLogger()
	cfg := domain.DefaultRiskModelConfig()
	cfg.DriverWeights["timing_misalignment"] = 0.9

	_, err := NewRiskScorer(cfg, repository.NewRiskRepository(log), audit.NewLogger(log), versioning.NewRegistry(), log)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
