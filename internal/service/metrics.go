package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
)

// Stage age thresholds in days. A refill sitting in a stage longer than its
// threshold is considered aging.
var stageAgeThresholds = map[domain.SnapshotStage]int{
	domain.StageInitiated:   3,
	domain.StageEligible:    7,
	domain.StagePAPending:   5,
	domain.StagePAApproved:  3,
	domain.StageBundled:     2,
	domain.StageOOSDetected: 1,
	domain.StageShipped:     0,
	domain.StageCompleted:   0,
}

const defaultStageAgeThreshold = 3

// Overall metric risk thresholds. The rollup keeps a separate critical band
// above the scorer's three-level config.
var metricRiskThresholds = map[string]float64{
	"low":      0.3,
	"medium":   0.6,
	"high":     0.8,
	"critical": 0.9,
}

const optimalRefillGapDays = 30

// MetricsEngine computes bundle-relevant metrics from refill snapshots.
// Computation is deterministic for a fixed snapshot and clock.
type MetricsEngine struct {
	metrics  domain.MetricsRepository
	audit    domain.AuditLogger
	versions domain.VersionRegistry
	log      *logrus.Logger
	now      func() time.Time
}

// NewMetricsEngine creates a bundle metrics engine.
func NewMetricsEngine(metrics domain.MetricsRepository, audit domain.AuditLogger, versions domain.VersionRegistry, log *logrus.Logger) *MetricsEngine {
	return &MetricsEngine{
		metrics:  metrics,
		audit:    audit,
		versions: versions,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Compute computes metrics for one snapshot without bundle peers. Timing
// overlap falls back to single-refill treatment.
func (e *MetricsEngine) Compute(ctx context.Context, snapshot *domain.RefillSnapshot) (*domain.BundleMetrics, error) {
	return e.ComputeWithPeers(ctx, snapshot, nil)
}

// ComputeWithPeers computes metrics for one snapshot in the context of its
// bundle peers (the other snapshots sharing its bundle).
func (e *MetricsEngine) ComputeWithPeers(ctx context.Context, snapshot *domain.RefillSnapshot, peers []*domain.RefillSnapshot) (*domain.BundleMetrics, error) {
	start := time.Now()

	bundleCtx := bundleContext(snapshot, peers)
	ageMetrics := e.computeAgeInStage(snapshot)
	timingMetrics := e.computeTimingOverlap(snapshot, bundleCtx)
	gapMetrics := e.computeRefillGap(snapshot)
	alignmentMetrics := e.computeBundleAlignment(snapshot, bundleCtx)

	riskScore, severity, riskFactors := e.computeOverallRisk(ageMetrics, timingMetrics, gapMetrics, alignmentMetrics)
	recommendations := e.recommendActions(ageMetrics, timingMetrics, gapMetrics, alignmentMetrics, severity)

	metrics := &domain.BundleMetrics{
		MetricsID:          newArtifactID("metrics", e.now()),
		SnapshotID:         snapshot.SnapshotID,
		MemberID:           snapshot.MemberID,
		RefillID:           snapshot.RefillID,
		BundleID:           snapshot.BundleID,
		ComputedTimestamp:  e.now(),
		MetricsVersion:     domain.MetricsVersion,
		AgeInStage:         ageMetrics,
		TimingOverlap:      timingMetrics,
		RefillGap:          gapMetrics,
		BundleAlignment:    alignmentMetrics,
		OverallRiskScore:   riskScore,
		RiskSeverity:       severity,
		PrimaryRiskFactors: riskFactors,
		RequiresAttention:  severity == domain.SeverityHigh || severity == domain.SeverityCritical,
		RecommendedActions: recommendations,
		ComputationTimeMs:  time.Since(start).Milliseconds(),
	}

	if err := e.metrics.Save(ctx, metrics); err != nil {
		return nil, fmt.Errorf("save metrics: %w", err)
	}

	e.audit.MetricsComputed(snapshot.SnapshotID, snapshot.MemberID, snapshot.RefillID, riskScore, metrics.ComputationTimeMs)
	e.versions.Register(metrics.MetricsID, domain.ArtifactBundleMetrics, "bundle-metrics-engine", domain.MetricsVersion, map[string]any{
		"snapshot_id": snapshot.SnapshotID,
	})
	e.log.WithFields(logrus.Fields{
		"metrics_id":  metrics.MetricsID,
		"snapshot_id": snapshot.SnapshotID,
		"risk_score":  riskScore,
		"severity":    severity,
	}).Info("Computed bundle metrics")

	return metrics, nil
}

// ComputeBatch computes metrics for each snapshot, using the other snapshots
// of the same bundle within the batch as timing context.
func (e *MetricsEngine) ComputeBatch(ctx context.Context, snapshots []*domain.RefillSnapshot) ([]*domain.BundleMetrics, error) {
	bundleGroups := make(map[string][]*domain.RefillSnapshot)
	for _, s := range snapshots {
		if s.BundleID != "" {
			bundleGroups[s.BundleID] = append(bundleGroups[s.BundleID], s)
		}
	}

	out := make([]*domain.BundleMetrics, 0, len(snapshots))
	for _, s := range snapshots {
		metrics, err := e.ComputeWithPeers(ctx, s, bundleGroups[s.BundleID])
		if err != nil {
			return nil, fmt.Errorf("compute metrics for %s: %w", s.SnapshotID, err)
		}
		out = append(out, metrics)
	}
	return out, nil
}

// Summarize aggregates statistics for a set of computed metrics.
func (e *MetricsEngine) Summarize(metrics []*domain.BundleMetrics) *domain.BundleMetricsSummary {
	summary := &domain.BundleMetricsSummary{
		ComputedTimestamp: e.now(),
		TotalSnapshots:    len(metrics),
		MetricsVersion:    domain.MetricsVersion,
		StageDistribution: make(map[string]int),
	}
	if len(metrics) == 0 {
		return summary
	}

	bundles := make(map[string]struct{})
	var riskTotal, healthTotal float64
	var computeTotal int64
	for _, m := range metrics {
		riskTotal += m.OverallRiskScore
		healthTotal += m.BundleAlignment.BundleHealthScore
		computeTotal += m.ComputationTimeMs
		switch m.RiskSeverity {
		case domain.SeverityHigh:
			summary.HighRiskCount++
		case domain.SeverityCritical:
			summary.CriticalRiskCount++
		}
		summary.StageDistribution[string(m.AgeInStage.CurrentStage)]++
		if m.BundleID != "" {
			bundles[m.BundleID] = struct{}{}
		}
	}
	n := float64(len(metrics))
	summary.AvgRiskScore = riskTotal / n
	summary.AvgBundleHealth = healthTotal / n
	summary.TotalBundles = len(bundles)
	summary.ComputationTimeMs = computeTotal
	return summary
}

type bundleCtxInfo struct {
	size        int
	memberCount int
	refillCount int
	snapshots   []*domain.RefillSnapshot
}

func bundleContext(snapshot *domain.RefillSnapshot, peers []*domain.RefillSnapshot) bundleCtxInfo {
	if snapshot.BundleID == "" {
		return bundleCtxInfo{
			size:        1,
			memberCount: 1,
			refillCount: 1,
			snapshots:   []*domain.RefillSnapshot{snapshot},
		}
	}
	members := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		members[p.MemberID] = struct{}{}
	}
	return bundleCtxInfo{
		size:        len(peers),
		memberCount: len(members),
		refillCount: len(peers),
		snapshots:   peers,
	}
}

func (e *MetricsEngine) computeAgeInStage(snapshot *domain.RefillSnapshot) domain.AgeInStageMetrics {
	history := make(map[string]int)
	recordStageSpan := func(name string, start *time.Time, ends ...*time.Time) {
		if start == nil {
			return
		}
		end := snapshot.SnapshotTimestamp
		for _, candidate := range ends {
			if candidate != nil {
				end = *candidate
				break
			}
		}
		history[name] = int(end.Sub(*start).Hours() / 24)
	}
	recordStageSpan("initiated", snapshot.InitiatedTimestamp, snapshot.EligibleTimestamp)
	recordStageSpan("eligible", snapshot.EligibleTimestamp, snapshot.PASubmittedTimestamp, snapshot.BundledTimestamp)
	recordStageSpan("pa_submitted", snapshot.PASubmittedTimestamp, snapshot.PAResolvedTimestamp)
	recordStageSpan("pa_resolved", snapshot.PAResolvedTimestamp, snapshot.BundledTimestamp, snapshot.ShippedTimestamp)
	recordStageSpan("bundled", snapshot.BundledTimestamp, snapshot.ShippedTimestamp)
	recordStageSpan("shipped", snapshot.ShippedTimestamp, snapshot.CompletedTimestamp)

	daysInStage := intPtrValue(snapshot.DaysInCurrentStage)
	threshold, ok := stageAgeThresholds[snapshot.CurrentStage]
	if !ok {
		threshold = defaultStageAgeThreshold
	}

	// Terminal stages have a zero threshold; the percentile is 0 there, not
	// a division by zero.
	percentile := 0.0
	if threshold > 0 {
		percentile = math.Min(1.0, float64(daysInStage)/float64(threshold*2))
	}

	metrics := domain.AgeInStageMetrics{
		CurrentStage:       snapshot.CurrentStage,
		DaysInCurrentStage: daysInStage,
		StageHistory:       history,
		IsAgingInStage:     daysInStage > threshold,
		StageAgePercentile: percentile,
	}
	if snapshot.InitiatedTimestamp != nil && snapshot.EligibleTimestamp != nil {
		metrics.InitiationToEligibleDays = intPtr(int(snapshot.EligibleTimestamp.Sub(*snapshot.InitiatedTimestamp).Hours() / 24))
	}
	if snapshot.EligibleTimestamp != nil && snapshot.BundledTimestamp != nil {
		metrics.EligibilityToBundledDays = intPtr(int(snapshot.BundledTimestamp.Sub(*snapshot.EligibleTimestamp).Hours() / 24))
	}
	if snapshot.BundledTimestamp != nil && snapshot.ShippedTimestamp != nil {
		metrics.BundledToShippedDays = intPtr(int(snapshot.ShippedTimestamp.Sub(*snapshot.BundledTimestamp).Hours() / 24))
	}
	return metrics
}

func (e *MetricsEngine) computeTimingOverlap(snapshot *domain.RefillSnapshot, bundleCtx bundleCtxInfo) domain.TimingOverlapMetrics {
	if bundleCtx.size <= 1 {
		return domain.TimingOverlapMetrics{
			BundleID:                 snapshot.BundleID,
			BundleSize:               bundleCtx.size,
			RefillOverlapScore:       1.0,
			TimingVarianceDays:       0.0,
			MaxTimingGapDays:         0,
			IsWellAligned:            true,
			AlignmentEfficiency:      1.0,
			FragmentationRisk:        0.0,
			ShipmentSplitProbability: 0.0,
		}
	}

	dueDates := make([]time.Time, 0, len(bundleCtx.snapshots))
	for _, s := range bundleCtx.snapshots {
		if s.RefillDueDate != nil {
			dueDates = append(dueDates, *s.RefillDueDate)
		}
	}
	if len(dueDates) < 2 {
		// Not enough timing data for overlap analysis.
		return domain.TimingOverlapMetrics{
			BundleID:                 snapshot.BundleID,
			BundleSize:               bundleCtx.size,
			RefillOverlapScore:       0.5,
			TimingVarianceDays:       30.0,
			MaxTimingGapDays:         30,
			IsWellAligned:            false,
			AlignmentEfficiency:      0.5,
			FragmentationRisk:        0.5,
			ShipmentSplitProbability: 0.5,
		}
	}

	gaps := make([]float64, 0, len(dueDates)-1)
	maxGap := 0
	for i := 0; i < len(dueDates)-1; i++ {
		gap := int(math.Abs(dueDates[i+1].Sub(dueDates[i]).Hours() / 24))
		gaps = append(gaps, float64(gap))
		if gap > maxGap {
			maxGap = gap
		}
	}

	variance := sampleVariance(gaps)
	overlapScore := math.Max(0, 1-variance/900)
	efficiency := math.Max(0, 1-float64(maxGap)/30.0)
	fragmentation := math.Min(1.0, float64(maxGap)/14.0)

	return domain.TimingOverlapMetrics{
		BundleID:                 snapshot.BundleID,
		BundleSize:               bundleCtx.size,
		RefillOverlapScore:       overlapScore,
		TimingVarianceDays:       variance,
		MaxTimingGapDays:         maxGap,
		IsWellAligned:            efficiency > 0.8,
		AlignmentEfficiency:      efficiency,
		FragmentationRisk:        fragmentation,
		ShipmentSplitProbability: fragmentation * 0.8,
	}
}

func (e *MetricsEngine) computeRefillGap(snapshot *domain.RefillSnapshot) domain.RefillGapMetrics {
	daysSinceLastFill := intPtrValue(snapshot.DaysSinceLastFill)
	daysUntilDue := intPtrValue(snapshot.DaysUntilDue)
	refillGap := daysSinceLastFill

	gapEfficiency := math.Max(0, 1.0-math.Abs(float64(refillGap-optimalRefillGapDays))/float64(optimalRefillGapDays))

	var abandonmentRisk float64
	switch {
	case daysSinceLastFill > 90:
		abandonmentRisk = math.Min(1.0, float64(daysSinceLastFill-90)/90.0)
	case daysSinceLastFill > 60:
		abandonmentRisk = math.Min(0.5, float64(daysSinceLastFill-60)/60.0)
	}

	var urgency float64
	switch {
	case daysUntilDue < 0:
		urgency = 1.0
	case daysUntilDue < 7:
		urgency = 0.8
	case daysUntilDue < 14:
		urgency = 0.5
	case daysUntilDue < 30:
		urgency = 0.2
	}

	metrics := domain.RefillGapMetrics{
		DaysSinceLastFill:  daysSinceLastFill,
		DaysUntilNextDue:   daysUntilDue,
		RefillGapDays:      refillGap,
		IsOptimalGap:       abs(refillGap-optimalRefillGapDays) <= 7,
		GapEfficiencyScore: gapEfficiency,
		AbandonmentRisk:    abandonmentRisk,
		UrgencyScore:       urgency,
	}

	if snapshot.DaysSupply > 0 && snapshot.LastFillDate != nil {
		consumed := daysBetweenDates(*snapshot.LastFillDate, e.now())
		remaining := snapshot.DaysSupply - consumed
		if remaining < 0 {
			remaining = 0
		}
		metrics.DaysSupplyRemaining = intPtr(remaining)
		metrics.SupplyBufferDays = intPtr(remaining - daysUntilDue)
	}
	return metrics
}

func (e *MetricsEngine) computeBundleAlignment(snapshot *domain.RefillSnapshot, bundleCtx bundleCtxInfo) domain.BundleAlignmentMetrics {
	alignment := 0.5
	if snapshot.BundleAlignmentScore != nil {
		alignment = *snapshot.BundleAlignmentScore
	}

	efficiency := alignment * 0.8
	costSavings := math.Min(1.0, float64(bundleCtx.refillCount)*0.1)
	splitRisk := 1.0 - alignment
	health := (alignment + efficiency + costSavings) / 3

	var actions []string
	if alignment < 0.6 {
		actions = append(actions, "Review bundle timing alignment")
	}
	if efficiency < 0.5 {
		actions = append(actions, "Optimize bundle composition")
	}
	if splitRisk > 0.7 {
		actions = append(actions, "Monitor for potential shipment splits")
	}

	return domain.BundleAlignmentMetrics{
		BundleID:               snapshot.BundleID,
		BundleMemberCount:      bundleCtx.memberCount,
		BundleRefillCount:      bundleCtx.refillCount,
		BundleAlignmentScore:   alignment,
		TimingAlignmentScore:   alignment,
		BundleEfficiencyScore:  efficiency,
		CostSavingsPotential:   costSavings,
		SplitRiskScore:         splitRisk,
		OutreachReductionScore: efficiency * 0.7,
		BundleHealthScore:      health,
		RecommendedActions:     actions,
	}
}

func (e *MetricsEngine) computeOverallRisk(age domain.AgeInStageMetrics, timing domain.TimingOverlapMetrics, gap domain.RefillGapMetrics, alignment domain.BundleAlignmentMetrics) (float64, domain.RiskSeverity, []string) {
	var factors []string
	var risk float64

	if age.IsAgingInStage {
		ageRisk := math.Min(1.0, float64(age.DaysInCurrentStage)/14.0)
		risk += ageRisk * 0.3
		factors = append(factors, fmt.Sprintf("Aging in %s stage", age.CurrentStage))
	}

	risk += timing.FragmentationRisk * 0.4
	if timing.FragmentationRisk > 0.6 {
		factors = append(factors, "Bundle fragmentation risk")
	}

	risk += gap.AbandonmentRisk * 0.3
	if gap.AbandonmentRisk > 0.5 {
		factors = append(factors, "Refill abandonment risk")
	}

	risk += alignment.SplitRiskScore * 0.2
	if alignment.SplitRiskScore > 0.7 {
		factors = append(factors, "Bundle split risk")
	}

	risk = math.Min(1.0, risk)

	var severity domain.RiskSeverity
	switch {
	case risk >= metricRiskThresholds["critical"]:
		severity = domain.SeverityCritical
	case risk >= metricRiskThresholds["high"]:
		severity = domain.SeverityHigh
	case risk >= metricRiskThresholds["medium"]:
		severity = domain.SeverityMedium
	default:
		severity = domain.SeverityLow
	}
	return risk, severity, factors
}

func (e *MetricsEngine) recommendActions(age domain.AgeInStageMetrics, timing domain.TimingOverlapMetrics, gap domain.RefillGapMetrics, alignment domain.BundleAlignmentMetrics, severity domain.RiskSeverity) []string {
	var recs []string
	if age.IsAgingInStage {
		recs = append(recs, fmt.Sprintf("Expedite %s processing", age.CurrentStage))
	}
	if !timing.IsWellAligned {
		recs = append(recs, "Review bundle timing coordination")
	}
	if gap.UrgencyScore > 0.7 {
		recs = append(recs, "Prioritize refill processing")
	}
	if alignment.BundleHealthScore < 0.5 {
		recs = append(recs, "Review bundle composition")
	}
	switch severity {
	case domain.SeverityCritical:
		recs = append([]string{"IMMEDIATE ATTENTION REQUIRED"}, recs...)
	case domain.SeverityHigh:
		recs = append([]string{"High priority - review within 24 hours"}, recs...)
	}
	return recs
}

// sampleVariance returns the sample variance of values, 0 when fewer than two.
func sampleVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return ss / float64(len(values)-1)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func intPtrValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
