package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refill-risk-engine/internal/domain"
)

func storedBreakRisk(id, bundleID string, probability float64, severity domain.RiskSeverity, ts time.Time) *domain.BundleBreakRisk {
	return &domain.BundleBreakRisk{
		RiskID:              id,
		BundleID:            bundleID,
		AssessmentTimestamp: ts,
		ModelVersion:        domain.RiskModelVersion,
		BreakProbability:    probability,
		BreakSeverity:       severity,
		ConfidenceScore:     0.8,
	}
}

func storedAbandonmentRisk(id, memberID, refillID string, probability float64, severity domain.RiskSeverity, ts time.Time) *domain.RefillAbandonmentRisk {
	return &domain.RefillAbandonmentRisk{
		RiskID:                 id,
		RefillID:               refillID,
		MemberID:               memberID,
		AssessmentTimestamp:    ts,
		ModelVersion:           domain.RiskModelVersion,
		AbandonmentProbability: probability,
		AbandonmentSeverity:    severity,
		ConfidenceScore:        0.6,
	}
}

func seedRisks(t *testing.T, repo *RiskRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, storedBreakRisk("risk_001", "bundle_c9d0e1f2", 0.9, domain.SeverityCritical, repoNow.Add(-3*time.Hour))))
	require.NoError(t, repo.Save(ctx, storedAbandonmentRisk("risk_002", "member_a1b2c3d4", "refill_e5f6a7b8", 0.2, domain.SeverityLow, repoNow.Add(-2*time.Hour))))
	require.NoError(t, repo.Save(ctx, storedAbandonmentRisk("risk_003", "member_b2c3d4e5", "refill_f6a7b8c9", 0.7, domain.SeverityHigh, repoNow.Add(-time.Hour))))
}

func TestRiskSaveAndGet(t *testing.T) {
	repo := NewRiskRepository(testLogger())
	ctx := context.Background()

	saved := storedBreakRisk("risk_001", "bundle_c9d0e1f2", 0.9, domain.SeverityCritical, repoNow)
	require.NoError(t, repo.Save(ctx, saved))

	got, err := repo.Get(ctx, "risk_001")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskBundleBreak, got.Type())
	assert.Equal(t, saved, got)

	_, err = repo.Get(ctx, "risk_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRiskQueryEntityFiltersAreTypeScoped(t *testing.T) {
	repo := NewRiskRepository(testLogger())
	seedRisks(t, repo)
	ctx := context.Background()

	byBundle, err := repo.Query(ctx, &domain.RiskQuery{BundleID: "bundle_c9d0e1f2"})
	require.NoError(t, err)
	require.Equal(t, 1, byBundle.TotalCount)
	assert.Equal(t, "risk_001", byBundle.Risks[0].ID())

	byMember, err := repo.Query(ctx, &domain.RiskQuery{MemberID: "member_a1b2c3d4"})
	require.NoError(t, err)
	require.Equal(t, 1, byMember.TotalCount)
	assert.Equal(t, "risk_002", byMember.Risks[0].ID())

	// A member filter can never match a bundle-level assessment.
	crossed, err := repo.Query(ctx, &domain.RiskQuery{BundleID: "bundle_c9d0e1f2", MemberID: "member_a1b2c3d4"})
	require.NoError(t, err)
	assert.Equal(t, 0, crossed.TotalCount)
}

func TestRiskQueryTypeAndProbability(t *testing.T) {
	repo := NewRiskRepository(testLogger())
	seedRisks(t, repo)
	ctx := context.Background()

	min := 0.5
	list, err := repo.Query(ctx, &domain.RiskQuery{
		RiskType:       domain.RiskRefillAbandonment,
		MinProbability: &min,
	})
	require.NoError(t, err)
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, "risk_003", list.Risks[0].ID())
}

func TestRiskQuerySortByProbability(t *testing.T) {
	repo := NewRiskRepository(testLogger())
	seedRisks(t, repo)
	ctx := context.Background()

	list, err := repo.Query(ctx, &domain.RiskQuery{SortBy: domain.RiskSortProbability})
	require.NoError(t, err)
	require.Len(t, list.Risks, 3)
	assert.Equal(t, "risk_001", list.Risks[0].ID())
	assert.Equal(t, "risk_002", list.Risks[2].ID())
}

func TestRiskQueryDefaultSortNewestFirst(t *testing.T) {
	repo := NewRiskRepository(testLogger())
	seedRisks(t, repo)
	ctx := context.Background()

	list, err := repo.Query(ctx, &domain.RiskQuery{})
	require.NoError(t, err)
	require.Len(t, list.Risks, 3)
	assert.Equal(t, "risk_003", list.Risks[0].ID())
	assert.Equal(t, "risk_001", list.Risks[2].ID())
}

func TestRiskQuerySummary(t *testing.T) {
	repo := NewRiskRepository(testLogger())
	seedRisks(t, repo)
	ctx := context.Background()

	list, err := repo.Query(ctx, &domain.RiskQuery{IncludeSummary: true})
	require.NoError(t, err)
	require.NotNil(t, list.Summary)

	assert.Equal(t, 3, list.Summary.TotalAssessments)
	assert.Equal(t, 1, list.Summary.RiskDistribution[string(domain.RiskBundleBreak)])
	assert.Equal(t, 2, list.Summary.RiskDistribution[string(domain.RiskRefillAbandonment)])
	assert.Equal(t, 1, list.Summary.SeverityDistribution[string(domain.SeverityCritical)])
	assert.InDelta(t, 0.9, list.Summary.AvgBreakProbability, 1e-9)
	assert.InDelta(t, 0.45, list.Summary.AvgAbandonmentProbability, 1e-9)
	assert.Equal(t, 2, list.Summary.HighRiskCount)
}

func TestRiskQueryPagination(t *testing.T) {
	repo := NewRiskRepository(testLogger())
	seedRisks(t, repo)
	ctx := context.Background()

	page, err := repo.Query(ctx, &domain.RiskQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Risks, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 3, page.TotalCount)

	rest, err := repo.Query(ctx, &domain.RiskQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest.Risks, 1)
	assert.False(t, rest.HasMore)
}
