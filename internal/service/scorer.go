package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
)

// Maximum acceptable days per stage for aging risk normalization.
var stageMaxAgeDays = map[domain.SnapshotStage]int{
	domain.StageInitiated:   7,
	domain.StageEligible:    14,
	domain.StagePAPending:   10,
	domain.StagePAApproved:  7,
	domain.StageBundled:     5,
	domain.StageOOSDetected: 3,
	domain.StageShipped:     0,
	domain.StageCompleted:   0,
}

const defaultStageMaxAge = 7

// RiskScorer computes explainable break and abandonment risk from bundle
// metrics, using configurable driver weights and severity thresholds.
type RiskScorer struct {
	config   *domain.RiskModelConfig
	risks    domain.RiskRepository
	audit    domain.AuditLogger
	versions domain.VersionRegistry
	log      *logrus.Logger
	now      func() time.Time
}

// NewRiskScorer creates a risk scoring engine with the given model config.
func NewRiskScorer(config *domain.RiskModelConfig, risks domain.RiskRepository, audit domain.AuditLogger, versions domain.VersionRegistry, log *logrus.Logger) (*RiskScorer, error) {
	if config == nil {
		config = domain.DefaultRiskModelConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RiskScorer{
		config:   config,
		risks:    risks,
		audit:    audit,
		versions: versions,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// AssessBundleBreak assesses the break risk of the bundle the metrics belong
// to, with ranked drivers and mitigation recommendations.
func (s *RiskScorer) AssessBundleBreak(ctx context.Context, metrics *domain.BundleMetrics) (*domain.BundleBreakRisk, error) {
	start := time.Now()
	now := s.now()

	probability := s.breakProbability(metrics)
	severity := severityFromThresholds(probability, s.config.BreakRiskThresholds)
	primary, secondary := s.identifyBreakDrivers(metrics, now)
	confidence := s.assessmentConfidence(metrics, primary)

	bundleID := metrics.BundleID
	if bundleID == "" {
		bundleID = "unknown"
	}

	assessment := &domain.BundleBreakRisk{
		RiskID:                  newArtifactID("bundle_break", now),
		BundleID:                bundleID,
		AssessmentTimestamp:     now,
		ModelVersion:            s.config.ModelVersion,
		BreakProbability:        probability,
		BreakSeverity:           severity,
		ConfidenceScore:         confidence,
		PrimaryDrivers:          primary,
		SecondaryDrivers:        secondary,
		BundleSize:              metrics.BundleAlignment.BundleRefillCount,
		BundleHealthScore:       metrics.BundleAlignment.BundleHealthScore,
		TimingAlignmentScore:    metrics.BundleAlignment.TimingAlignmentScore,
		EstimatedBreakTimeframe: breakTimeframe(metrics),
		CriticalFactors:         criticalFactors(primary),
		Recommendations:         s.breakRecommendations(primary, severity),
	}

	if err := s.risks.Save(ctx, assessment); err != nil {
		return nil, fmt.Errorf("save break assessment: %w", err)
	}
	s.recordAssessment(assessment.RiskID, domain.RiskBundleBreak, bundleID, probability, severity, time.Since(start).Milliseconds())
	return assessment, nil
}

// AssessRefillAbandonment assesses the abandonment risk of the refill behind
// the metrics.
func (s *RiskScorer) AssessRefillAbandonment(ctx context.Context, metrics *domain.BundleMetrics) (*domain.RefillAbandonmentRisk, error) {
	start := time.Now()
	now := s.now()

	probability := s.abandonmentProbability(metrics)
	severity := severityFromThresholds(probability, s.config.AbandonmentRiskThresholds)
	primary, secondary := s.identifyAbandonmentDrivers(metrics, now)
	confidence := s.assessmentConfidence(metrics, primary)
	engagement := s.engagementScore(metrics)

	assessment := &domain.RefillAbandonmentRisk{
		RiskID:                 newArtifactID("abandonment", now),
		RefillID:               metrics.RefillID,
		MemberID:               metrics.MemberID,
		AssessmentTimestamp:    now,
		ModelVersion:           s.config.ModelVersion,
		AbandonmentProbability: probability,
		AbandonmentSeverity:    severity,
		ConfidenceScore:        confidence,
		PrimaryDrivers:         primary,
		SecondaryDrivers:       secondary,
		DaysSinceLastFill:      metrics.RefillGap.DaysSinceLastFill,
		DaysUntilDue:           metrics.RefillGap.DaysUntilNextDue,
		RefillStage:            metrics.AgeInStage.CurrentStage,
		EngagementScore:        &engagement,
		ComplianceHistory: map[string]any{
			"refill_gap_days":      metrics.RefillGap.RefillGapDays,
			"gap_efficiency_score": metrics.RefillGap.GapEfficiencyScore,
			"stage_history":        metrics.AgeInStage.StageHistory,
			"last_activity":        metrics.ComputedTimestamp.Format(time.RFC3339),
		},
		EstimatedAbandonmentTimeframe: abandonmentTimeframe(metrics),
		CriticalFactors:               criticalFactors(primary),
		Recommendations:               s.abandonmentRecommendations(primary, severity),
	}

	if err := s.risks.Save(ctx, assessment); err != nil {
		return nil, fmt.Errorf("save abandonment assessment: %w", err)
	}
	s.recordAssessment(assessment.RiskID, domain.RiskRefillAbandonment, metrics.RefillID, probability, severity, time.Since(start).Milliseconds())
	return assessment, nil
}

// AssessBatch assesses a set of metrics in one pass. Metrics without a bundle
// get an abandonment assessment only. Bundles with more than one metric in
// the batch get a single break assessment, computed from the first metric of
// the group, plus an abandonment assessment per member metric.
func (s *RiskScorer) AssessBatch(ctx context.Context, metricsList []*domain.BundleMetrics) ([]domain.RiskAssessment, error) {
	var out []domain.RiskAssessment

	bundleGroups := make(map[string][]*domain.BundleMetrics)
	var bundleOrder []string
	for _, m := range metricsList {
		if m.BundleID == "" {
			risk, err := s.AssessRefillAbandonment(ctx, m)
			if err != nil {
				return nil, err
			}
			out = append(out, risk)
			continue
		}
		if _, seen := bundleGroups[m.BundleID]; !seen {
			bundleOrder = append(bundleOrder, m.BundleID)
		}
		bundleGroups[m.BundleID] = append(bundleGroups[m.BundleID], m)
	}

	for _, bundleID := range bundleOrder {
		group := bundleGroups[bundleID]
		if len(group) <= 1 {
			continue
		}
		breakRisk, err := s.AssessBundleBreak(ctx, group[0])
		if err != nil {
			return nil, err
		}
		out = append(out, breakRisk)
		for _, m := range group {
			abandonRisk, err := s.AssessRefillAbandonment(ctx, m)
			if err != nil {
				return nil, err
			}
			out = append(out, abandonRisk)
		}
	}
	return out, nil
}

func (s *RiskScorer) recordAssessment(riskID string, riskType domain.RiskType, entityID string, probability float64, severity domain.RiskSeverity, elapsedMs int64) {
	s.audit.RiskAssessed(riskID, riskType, entityID, probability, severity, elapsedMs)
	s.versions.Register(riskID, domain.ArtifactRiskAssessment, s.config.ModelName, s.config.ModelVersion, map[string]any{
		"risk_type": string(riskType),
	})
	s.log.WithFields(logrus.Fields{
		"risk_id":     riskID,
		"risk_type":   riskType,
		"entity_id":   entityID,
		"probability": probability,
		"severity":    severity,
		"elapsed_ms":  elapsedMs,
	}).Info("Risk assessment completed")
}

func (s *RiskScorer) breakProbability(metrics *domain.BundleMetrics) float64 {
	scores := []weightedDriver{
		{domain.DriverTimingMisalignment, 1.0 - metrics.BundleAlignment.TimingAlignmentScore},
		{domain.DriverBundleFragmentation, metrics.TimingOverlap.FragmentationRisk},
		{domain.DriverStageAging, s.stageAgingRisk(metrics)},
		{"bundle_health", 1.0 - metrics.BundleAlignment.BundleHealthScore},
	}
	if pa := s.paProcessingRisk(metrics); pa > 0 {
		scores = append(scores, weightedDriver{domain.DriverPAProcessingDelay, pa})
	}
	if oos := s.oosDisruptionRisk(metrics); oos > 0 {
		scores = append(scores, weightedDriver{domain.DriverOOSDisruption, oos})
	}
	return s.weightedProbability(scores)
}

func (s *RiskScorer) abandonmentProbability(metrics *domain.BundleMetrics) float64 {
	scores := []weightedDriver{
		{domain.DriverRefillGapAnomaly, metrics.RefillGap.AbandonmentRisk},
		{domain.DriverSupplyBufferDepletion, metrics.RefillGap.UrgencyScore},
		{domain.DriverStageAging, s.stageAgingRisk(metrics)},
		{domain.DriverMemberBehaviorChange, 1.0 - s.engagementScore(metrics)},
	}
	if bundle := s.bundleContextRisk(metrics); bundle > 0 {
		scores = append(scores, weightedDriver{domain.DriverBundleFragmentation, bundle})
	}
	return s.weightedProbability(scores)
}

type weightedDriver struct {
	driverType domain.RiskDriverType
	score      float64
}

// weightedProbability sums configured weight times driver score. Drivers
// without a configured weight contribute nothing.
func (s *RiskScorer) weightedProbability(scores []weightedDriver) float64 {
	var total float64
	for _, d := range scores {
		total += s.config.DriverWeights[string(d.driverType)] * d.score
	}
	return math.Min(1.0, math.Max(0.0, total))
}

// severityFromThresholds maps a probability onto the three configured bands.
// Crossing the "high" threshold is reported as critical severity so the top
// band always demands intervention.
func severityFromThresholds(probability float64, thresholds map[string]float64) domain.RiskSeverity {
	switch {
	case probability >= thresholds["high"]:
		return domain.SeverityCritical
	case probability >= thresholds["medium"]:
		return domain.SeverityHigh
	case probability >= thresholds["low"]:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func (s *RiskScorer) identifyBreakDrivers(metrics *domain.BundleMetrics, now time.Time) ([]domain.RiskDriver, []domain.RiskDriver) {
	var drivers []domain.RiskDriver

	if metrics.BundleAlignment.TimingAlignmentScore < 0.7 {
		drivers = append(drivers, domain.RiskDriver{
			DriverType:  domain.DriverTimingMisalignment,
			DriverName:  "Bundle Timing Misalignment",
			ImpactScore: 1.0 - metrics.BundleAlignment.TimingAlignmentScore,
			Confidence:  0.9,
			Evidence: map[string]any{
				"timing_alignment_score": metrics.BundleAlignment.TimingAlignmentScore,
				"max_timing_gap":         metrics.TimingOverlap.MaxTimingGapDays,
			},
			MetricValues: map[string]float64{
				"timing_alignment_score": metrics.BundleAlignment.TimingAlignmentScore,
				"refill_overlap_score":   metrics.TimingOverlap.RefillOverlapScore,
			},
			DetectedTimestamp: now,
		})
	}

	if metrics.TimingOverlap.FragmentationRisk > 0.5 {
		drivers = append(drivers, domain.RiskDriver{
			DriverType:  domain.DriverBundleFragmentation,
			DriverName:  "Bundle Fragmentation Risk",
			ImpactScore: metrics.TimingOverlap.FragmentationRisk,
			Confidence:  0.8,
			Evidence: map[string]any{
				"fragmentation_risk":         metrics.TimingOverlap.FragmentationRisk,
				"shipment_split_probability": metrics.TimingOverlap.ShipmentSplitProbability,
			},
			MetricValues: map[string]float64{
				"fragmentation_risk":   metrics.TimingOverlap.FragmentationRisk,
				"alignment_efficiency": metrics.TimingOverlap.AlignmentEfficiency,
			},
			DetectedTimestamp: now,
		})
	}

	if aging := s.stageAgingRisk(metrics); aging > 0.6 {
		drivers = append(drivers, s.stageAgingDriver(metrics, aging, now))
	}

	if metrics.BundleAlignment.BundleHealthScore < 0.5 {
		drivers = append(drivers, domain.RiskDriver{
			DriverType:  domain.DriverBundleFragmentation,
			DriverName:  "Poor Bundle Health",
			ImpactScore: 1.0 - metrics.BundleAlignment.BundleHealthScore,
			Confidence:  0.6,
			Evidence: map[string]any{
				"bundle_health_score":     metrics.BundleAlignment.BundleHealthScore,
				"bundle_efficiency_score": metrics.BundleAlignment.BundleEfficiencyScore,
			},
			MetricValues: map[string]float64{
				"bundle_health_score":     metrics.BundleAlignment.BundleHealthScore,
				"bundle_efficiency_score": metrics.BundleAlignment.BundleEfficiencyScore,
			},
			DetectedTimestamp: now,
		})
	}

	return splitDrivers(drivers)
}

func (s *RiskScorer) identifyAbandonmentDrivers(metrics *domain.BundleMetrics, now time.Time) ([]domain.RiskDriver, []domain.RiskDriver) {
	var drivers []domain.RiskDriver

	if metrics.RefillGap.AbandonmentRisk > 0.4 {
		drivers = append(drivers, domain.RiskDriver{
			DriverType:  domain.DriverRefillGapAnomaly,
			DriverName:  "Refill Gap Anomaly",
			ImpactScore: metrics.RefillGap.AbandonmentRisk,
			Confidence:  0.9,
			Evidence: map[string]any{
				"days_since_last_fill": metrics.RefillGap.DaysSinceLastFill,
				"days_until_next_due":  metrics.RefillGap.DaysUntilNextDue,
				"gap_efficiency_score": metrics.RefillGap.GapEfficiencyScore,
			},
			MetricValues: map[string]float64{
				"abandonment_risk":     metrics.RefillGap.AbandonmentRisk,
				"urgency_score":        metrics.RefillGap.UrgencyScore,
				"gap_efficiency_score": metrics.RefillGap.GapEfficiencyScore,
			},
			DetectedTimestamp: now,
		})
	}

	if metrics.RefillGap.UrgencyScore > 0.7 {
		driver := domain.RiskDriver{
			DriverType:  domain.DriverSupplyBufferDepletion,
			DriverName:  "Supply Buffer Depletion",
			ImpactScore: metrics.RefillGap.UrgencyScore,
			Confidence:  0.8,
			Evidence: map[string]any{
				"days_supply_remaining": metrics.RefillGap.DaysSupplyRemaining,
				"supply_buffer_days":    metrics.RefillGap.SupplyBufferDays,
			},
			MetricValues: map[string]float64{
				"urgency_score": metrics.RefillGap.UrgencyScore,
			},
			DetectedTimestamp: now,
		}
		if metrics.RefillGap.DaysSupplyRemaining != nil {
			driver.MetricValues["days_supply_remaining"] = float64(*metrics.RefillGap.DaysSupplyRemaining)
		}
		drivers = append(drivers, driver)
	}

	if aging := s.stageAgingRisk(metrics); aging > 0.5 {
		drivers = append(drivers, s.stageAgingDriver(metrics, aging, now))
	}

	return splitDrivers(drivers)
}

func (s *RiskScorer) stageAgingDriver(metrics *domain.BundleMetrics, aging float64, now time.Time) domain.RiskDriver {
	return domain.RiskDriver{
		DriverType:  domain.DriverStageAging,
		DriverName:  "Stage Aging Risk",
		ImpactScore: aging,
		Confidence:  0.7,
		Evidence: map[string]any{
			"days_in_current_stage": metrics.AgeInStage.DaysInCurrentStage,
			"current_stage":         string(metrics.AgeInStage.CurrentStage),
		},
		MetricValues: map[string]float64{
			"days_in_current_stage": float64(metrics.AgeInStage.DaysInCurrentStage),
			"stage_age_percentile":  metrics.AgeInStage.StageAgePercentile,
		},
		DetectedTimestamp: now,
	}
}

// splitDrivers ranks drivers by impact and takes the top two as primary.
func splitDrivers(drivers []domain.RiskDriver) ([]domain.RiskDriver, []domain.RiskDriver) {
	sort.SliceStable(drivers, func(i, j int) bool {
		return drivers[i].ImpactScore > drivers[j].ImpactScore
	})
	if len(drivers) <= 2 {
		return drivers, nil
	}
	return drivers[:2], drivers[2:]
}

// assessmentConfidence combines mean driver confidence with a data quality
// factor. No drivers means a neutral 0.5.
func (s *RiskScorer) assessmentConfidence(metrics *domain.BundleMetrics, drivers []domain.RiskDriver) float64 {
	if len(drivers) == 0 {
		return 0.5
	}
	var sum float64
	for _, d := range drivers {
		sum += d.Confidence
	}
	confidence := (sum / float64(len(drivers))) * s.dataQuality(metrics)
	return math.Min(1.0, math.Max(0.0, confidence))
}

func (s *RiskScorer) dataQuality(metrics *domain.BundleMetrics) float64 {
	quality := 1.0
	if metrics.RefillGap.DaysSinceLastFill == 0 {
		quality -= 0.2
	}
	if metrics.AgeInStage.DaysInCurrentStage == 0 {
		quality -= 0.2
	}
	return math.Max(0.1, quality)
}

func (s *RiskScorer) stageAgingRisk(metrics *domain.BundleMetrics) float64 {
	maxDays, ok := stageMaxAgeDays[metrics.AgeInStage.CurrentStage]
	if !ok {
		maxDays = defaultStageMaxAge
	}
	if maxDays <= 0 {
		return 0
	}
	return math.Min(1.0, float64(metrics.AgeInStage.DaysInCurrentStage)/float64(maxDays))
}

func (s *RiskScorer) paProcessingRisk(metrics *domain.BundleMetrics) float64 {
	stage := metrics.AgeInStage.CurrentStage
	if stage == domain.StagePAPending || stage == domain.StagePAApproved {
		return s.stageAgingRisk(metrics)
	}
	return 0
}

func (s *RiskScorer) oosDisruptionRisk(metrics *domain.BundleMetrics) float64 {
	if metrics.AgeInStage.CurrentStage == domain.StageOOSDetected {
		return 0.8
	}
	return 0
}

func (s *RiskScorer) engagementScore(metrics *domain.BundleMetrics) float64 {
	agingPenalty := s.stageAgingRisk(metrics) * 0.3
	return math.Max(0.0, metrics.RefillGap.GapEfficiencyScore-agingPenalty)
}

func (s *RiskScorer) bundleContextRisk(metrics *domain.BundleMetrics) float64 {
	if metrics.BundleAlignment.BundleRefillCount <= 1 {
		return 0
	}
	return metrics.TimingOverlap.FragmentationRisk * 0.5
}

func breakTimeframe(metrics *domain.BundleMetrics) string {
	switch days := metrics.AgeInStage.DaysInCurrentStage; {
	case days > 14:
		return "2-4 weeks"
	case days > 7:
		return "1-2 weeks"
	case days > 3:
		return "1 week"
	default:
		return "3-7 days"
	}
}

func abandonmentTimeframe(metrics *domain.BundleMetrics) string {
	switch days := metrics.RefillGap.DaysUntilNextDue; {
	case days < 0:
		return "Immediate (overdue)"
	case days < 7:
		return "1 week"
	case days < 14:
		return "1-2 weeks"
	case days < 30:
		return "2-4 weeks"
	default:
		return "1+ months"
	}
}

func criticalFactors(drivers []domain.RiskDriver) []string {
	var factors []string
	for _, d := range drivers {
		switch d.DriverType {
		case domain.DriverTimingMisalignment:
			factors = append(factors, "Timing alignment score", "Maximum timing gap")
		case domain.DriverBundleFragmentation:
			factors = append(factors, "Fragmentation risk score", "Shipment split probability")
		case domain.DriverStageAging:
			stage := "unknown"
			if v, ok := d.Evidence["current_stage"].(string); ok {
				stage = v
			}
			factors = append(factors, fmt.Sprintf("Days in %s stage", stage))
		case domain.DriverRefillGapAnomaly:
			factors = append(factors, "Days since last fill", "Days until next due")
		case domain.DriverSupplyBufferDepletion:
			factors = append(factors, "Days supply remaining", "Supply buffer days")
		}
	}
	return factors
}
