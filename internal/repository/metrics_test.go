package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refill-risk-engine/internal/domain"
)

func storedMetrics(id, bundleID string, risk float64, severity domain.RiskSeverity, ts time.Time) *domain.BundleMetrics {
	return &domain.BundleMetrics{
		MetricsID:         id,
		SnapshotID:        "snapshot_" + id,
		MemberID:          "member_a1b2c3d4",
		RefillID:          "refill_" + id,
		BundleID:          bundleID,
		ComputedTimestamp: ts,
		MetricsVersion:    domain.MetricsVersion,
		AgeInStage:        domain.AgeInStageMetrics{CurrentStage: domain.StageBundled},
		BundleAlignment:   domain.BundleAlignmentMetrics{BundleHealthScore: 0.8},
		OverallRiskScore:  risk,
		RiskSeverity:      severity,
	}
}

func TestMetricsSaveAndGet(t *testing.T) {
	repo := NewMetricsRepository(testLogger())
	ctx := context.Background()

	m := storedMetrics("m_001", "bundle_c9d0e1f2", 0.4, domain.SeverityMedium, repoNow)
	require.NoError(t, repo.Save(ctx, m))

	got, err := repo.Get(ctx, "m_001")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = repo.Get(ctx, "m_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMetricsQueryRiskScoreRange(t *testing.T) {
	repo := NewMetricsRepository(testLogger())
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, storedMetrics("m_001", "", 0.2, domain.SeverityLow, repoNow.Add(-2*time.Hour))))
	require.NoError(t, repo.Save(ctx, storedMetrics("m_002", "", 0.5, domain.SeverityMedium, repoNow.Add(-time.Hour))))
	require.NoError(t, repo.Save(ctx, storedMetrics("m_003", "", 0.9, domain.SeverityCritical, repoNow)))

	min := 0.4
	max := 0.8
	list, err := repo.Query(ctx, &domain.MetricsQuery{MinRiskScore: &min, MaxRiskScore: &max})
	require.NoError(t, err)
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, "m_002", list.Metrics[0].MetricsID)
}

func TestMetricsQuerySortByRiskScore(t *testing.T) {
	repo := NewMetricsRepository(testLogger())
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, storedMetrics("m_001", "", 0.2, domain.SeverityLow, repoNow)))
	require.NoError(t, repo.Save(ctx, storedMetrics("m_002", "", 0.9, domain.SeverityCritical, repoNow)))
	require.NoError(t, repo.Save(ctx, storedMetrics("m_003", "", 0.5, domain.SeverityMedium, repoNow)))

	list, err := repo.Query(ctx, &domain.MetricsQuery{SortBy: domain.MetricsSortRiskScore})
	require.NoError(t, err)
	require.Len(t, list.Metrics, 3)
	assert.Equal(t, "m_002", list.Metrics[0].MetricsID)
	assert.Equal(t, "m_001", list.Metrics[2].MetricsID)
}

func TestMetricsQuerySummaryCoversFullMatchSet(t *testing.T) {
	repo := NewMetricsRepository(testLogger())
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, storedMetrics("m_001", "bundle_c9d0e1f2", 0.9, domain.SeverityCritical, repoNow.Add(-2*time.Hour))))
	require.NoError(t, repo.Save(ctx, storedMetrics("m_002", "bundle_c9d0e1f2", 0.7, domain.SeverityHigh, repoNow.Add(-time.Hour))))
	require.NoError(t, repo.Save(ctx, storedMetrics("m_003", "", 0.2, domain.SeverityLow, repoNow)))

	list, err := repo.Query(ctx, &domain.MetricsQuery{Limit: 1, IncludeSummary: true})
	require.NoError(t, err)
	assert.Len(t, list.Metrics, 1)
	assert.True(t, list.HasMore)

	require.NotNil(t, list.Summary)
	assert.Equal(t, 3, list.Summary.TotalSnapshots)
	assert.Equal(t, 1, list.Summary.TotalBundles)
	assert.Equal(t, 1, list.Summary.HighRiskCount)
	assert.Equal(t, 1, list.Summary.CriticalRiskCount)
	assert.InDelta(t, 0.6, list.Summary.AvgRiskScore, 1e-9)
}
