package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
)

// RiskRepository is an in-memory domain.RiskRepository holding both assessment
// variants behind the common RiskAssessment view.
type RiskRepository struct {
	mu    sync.RWMutex
	risks map[string]domain.RiskAssessment
	order []string
	log   *logrus.Logger
}

// NewRiskRepository creates an empty risk assessment store.
func NewRiskRepository(log *logrus.Logger) *RiskRepository {
	return &RiskRepository{
		risks: make(map[string]domain.RiskAssessment),
		log:   log,
	}
}

// Save stores a risk assessment.
func (r *RiskRepository) Save(ctx context.Context, assessment domain.RiskAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.risks[assessment.ID()]; !exists {
		r.order = append(r.order, assessment.ID())
	}
	r.risks[assessment.ID()] = assessment

	r.log.WithFields(logrus.Fields{
		"risk_id":     assessment.ID(),
		"risk_type":   assessment.Type(),
		"probability": assessment.Probability(),
		"severity":    assessment.Severity(),
	}).Debug("Risk assessment saved")
	return nil
}

// Get returns an assessment by ID.
func (r *RiskRepository) Get(ctx context.Context, riskID string) (domain.RiskAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.risks[riskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

// Query returns assessments matching the filter, sorted and paginated.
func (r *RiskRepository) Query(ctx context.Context, query *domain.RiskQuery) (*domain.RiskList, error) {
	r.mu.RLock()
	matched := make([]domain.RiskAssessment, 0, len(r.order))
	for _, id := range r.order {
		a := r.risks[id]
		if !matchRisk(a, query) {
			continue
		}
		matched = append(matched, a)
	}
	r.mu.RUnlock()

	sortRisks(matched, query.SortBy, query.SortOrder)

	total := len(matched)
	limit := query.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	page := paginate(total, query.Offset, limit)
	list := &domain.RiskList{
		Risks:      matched[page.start:page.end],
		TotalCount: total,
		Limit:      limit,
		Offset:     query.Offset,
		HasMore:    page.end < total,
	}
	if query.IncludeSummary {
		list.Summary = summarizeRisks(matched)
	}
	return list, nil
}

func matchRisk(a domain.RiskAssessment, q *domain.RiskQuery) bool {
	if q == nil {
		return true
	}
	if q.RiskType != "" && a.Type() != q.RiskType {
		return false
	}
	if q.Severity != "" && a.Severity() != q.Severity {
		return false
	}
	if q.MinProbability != nil && a.Probability() < *q.MinProbability {
		return false
	}
	if q.MaxProbability != nil && a.Probability() > *q.MaxProbability {
		return false
	}
	if q.AssessedFrom != nil && a.Timestamp().Before(*q.AssessedFrom) {
		return false
	}
	if q.AssessedTo != nil && a.Timestamp().After(*q.AssessedTo) {
		return false
	}
	if q.BundleID != "" || q.MemberID != "" || q.RefillID != "" {
		switch risk := a.(type) {
		case *domain.BundleBreakRisk:
			if q.BundleID != "" && risk.BundleID != q.BundleID {
				return false
			}
			if q.MemberID != "" || q.RefillID != "" {
				return false
			}
		case *domain.RefillAbandonmentRisk:
			if q.BundleID != "" {
				return false
			}
			if q.MemberID != "" && risk.MemberID != q.MemberID {
				return false
			}
			if q.RefillID != "" && risk.RefillID != q.RefillID {
				return false
			}
		}
	}
	return true
}

func sortRisks(risks []domain.RiskAssessment, sortBy string, order domain.SortOrder) {
	less := func(a, b domain.RiskAssessment) bool {
		switch sortBy {
		case domain.RiskSortProbability:
			return a.Probability() < b.Probability()
		case domain.RiskSortConfidence:
			return riskConfidence(a) < riskConfidence(b)
		default:
			return a.Timestamp().Before(b.Timestamp())
		}
	}
	sort.SliceStable(risks, func(i, j int) bool {
		if order == domain.SortAsc {
			return less(risks[i], risks[j])
		}
		return less(risks[j], risks[i])
	})
}

func riskConfidence(a domain.RiskAssessment) float64 {
	switch risk := a.(type) {
	case *domain.BundleBreakRisk:
		return risk.ConfidenceScore
	case *domain.RefillAbandonmentRisk:
		return risk.ConfidenceScore
	default:
		return 0
	}
}

func summarizeRisks(risks []domain.RiskAssessment) *domain.RiskAssessmentSummary {
	summary := &domain.RiskAssessmentSummary{
		AssessmentTimestamp:  time.Now().UTC(),
		ModelVersion:         domain.RiskModelVersion,
		TotalAssessments:     len(risks),
		RiskDistribution:     make(map[string]int),
		SeverityDistribution: make(map[string]int),
	}
	if len(risks) == 0 {
		return summary
	}

	var breakTotal, abandonTotal float64
	var breakCount, abandonCount int
	for _, a := range risks {
		summary.RiskDistribution[string(a.Type())]++
		summary.SeverityDistribution[string(a.Severity())]++
		switch a.Type() {
		case domain.RiskBundleBreak:
			breakTotal += a.Probability()
			breakCount++
		case domain.RiskRefillAbandonment:
			abandonTotal += a.Probability()
			abandonCount++
		}
		if a.Severity().RequiresAttention() {
			summary.HighRiskCount++
		}
	}
	if breakCount > 0 {
		summary.AvgBreakProbability = breakTotal / float64(breakCount)
	}
	if abandonCount > 0 {
		summary.AvgAbandonmentProbability = abandonTotal / float64(abandonCount)
	}
	return summary
}
