package service

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/refill-risk-engine/internal/domain"
)

func newRecommendationID() string {
	id := uuid.New()
	return fmt.Sprintf("rec_%x", id[:4])
}

func escalatedPriority(severity domain.RiskSeverity, floor domain.RiskSeverity) domain.RecommendationPriority {
	if severity.LessSevere(floor) {
		return domain.PriorityMedium
	}
	return domain.PriorityHigh
}

func (s *RiskScorer) breakRecommendations(drivers []domain.RiskDriver, severity domain.RiskSeverity) []domain.RiskRecommendation {
	var recs []domain.RiskRecommendation

	for _, d := range drivers {
		switch {
		case d.DriverType == domain.DriverTimingMisalignment && d.ImpactScore > 0.6:
			recs = append(recs, domain.RiskRecommendation{
				RecommendationID: newRecommendationID(),
				Priority:         escalatedPriority(severity, domain.SeverityHigh),
				Category:         "timing_optimization",
				Title:            "Optimize Bundle Timing Alignment",
				Description:      "Adjust refill due dates within the bundle to reduce timing gaps between member refills.",
				ActionSteps: []string{
					"Review due dates for all refills in the bundle",
					"Identify refills that can be shifted to align with the bundle anchor date",
					"Coordinate date adjustments with affected members",
				},
				ExpectedImpact:     "Improved bundle cohesion and reduced shipment splits",
				TimeToImplement:    "1-2 weeks",
				SuccessProbability: floatPtr(0.8),
				ApplicableStages:   []domain.SnapshotStage{domain.StageEligible, domain.StageBundled},
				RequiredResources:  []string{"Pharmacy coordinator", "Scheduling system"},
			})
		case d.DriverType == domain.DriverBundleFragmentation && d.ImpactScore > 0.5:
			recs = append(recs, domain.RiskRecommendation{
				RecommendationID: newRecommendationID(),
				Priority:         escalatedPriority(severity, domain.SeverityCritical),
				Category:         "bundle_optimization",
				Title:            "Address Bundle Fragmentation Risk",
				Description:      "Restructure the bundle composition to reduce the probability of a shipment split.",
				ActionSteps: []string{
					"Evaluate whether outlier refills should move to a separate bundle",
					"Confirm remaining refills share a viable shipping window",
				},
				ExpectedImpact:     "Lower fragmentation risk and fewer partial shipments",
				TimeToImplement:    "2-4 weeks",
				SuccessProbability: floatPtr(0.7),
				ApplicableStages:   []domain.SnapshotStage{domain.StageBundled, domain.StageShipped},
				RequiredResources:  []string{"Bundle optimization team", "Analytics tools"},
			})
		case d.DriverType == domain.DriverStageAging && d.ImpactScore > 0.6:
			recs = append(recs, domain.RiskRecommendation{
				RecommendationID: newRecommendationID(),
				Priority:         escalatedPriority(severity, domain.SeverityHigh),
				Category:         "process_optimization",
				Title:            "Expedite Aging Refill Processing",
				Description:      "Escalate refills that have exceeded the expected time in their current stage.",
				ActionSteps: []string{
					"Identify the blocking step for the aging refill",
					"Escalate to the owning queue for same-day action",
				},
				ExpectedImpact:     "Faster stage progression and reduced break risk",
				TimeToImplement:    "1 week",
				SuccessProbability: floatPtr(0.9),
				ApplicableStages: []domain.SnapshotStage{
					domain.StageInitiated, domain.StageEligible,
					domain.StagePAPending, domain.StagePAApproved,
				},
				RequiredResources: []string{"Process improvement team", "Automation tools"},
			})
		}
	}
	return recs
}

func (s *RiskScorer) abandonmentRecommendations(drivers []domain.RiskDriver, severity domain.RiskSeverity) []domain.RiskRecommendation {
	var recs []domain.RiskRecommendation

	for _, d := range drivers {
		switch {
		case d.DriverType == domain.DriverRefillGapAnomaly && d.ImpactScore > 0.6:
			recs = append(recs, domain.RiskRecommendation{
				RecommendationID: newRecommendationID(),
				Priority:         escalatedPriority(severity, domain.SeverityHigh),
				Category:         "member_engagement",
				Title:            "Address Refill Gap Anomaly",
				Description:      "Reach out to the member about the unusual gap since their last fill.",
				ActionSteps: []string{
					"Trigger member outreach through the preferred contact channel",
					"Confirm the member still intends to fill the prescription",
					"Offer assistance with any barriers to refilling",
				},
				ExpectedImpact:     "Re-engaged member and resumed refill cadence",
				TimeToImplement:    "2-3 days",
				SuccessProbability: floatPtr(0.8),
				ApplicableStages:   []domain.SnapshotStage{domain.StageEligible, domain.StageBundled},
				RequiredResources:  []string{"Care coordinator", "Outreach team"},
			})
		case d.DriverType == domain.DriverSupplyBufferDepletion && d.ImpactScore > 0.7:
			recs = append(recs, domain.RiskRecommendation{
				RecommendationID: newRecommendationID(),
				Priority:         escalatedPriority(severity, domain.SeverityCritical),
				Category:         "supply_management",
				Title:            "Address Supply Buffer Depletion",
				Description:      "The member is running low on medication supply before the next refill ships.",
				ActionSteps: []string{
					"Prioritize the refill for immediate processing",
					"Consider an expedited or partial shipment to bridge the gap",
				},
				ExpectedImpact:     "Avoided therapy interruption",
				TimeToImplement:    "3-5 days",
				SuccessProbability: floatPtr(0.9),
				ApplicableStages: []domain.SnapshotStage{
					domain.StageEligible, domain.StageBundled, domain.StageShipped,
				},
				RequiredResources: []string{"Pharmacy staff", "Inventory system"},
			})
		}
	}
	return recs
}

func floatPtr(v float64) *float64 { return &v }
