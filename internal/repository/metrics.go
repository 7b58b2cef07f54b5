package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
)

// MetricsRepository is an in-memory domain.MetricsRepository.
type MetricsRepository struct {
	mu      sync.RWMutex
	metrics map[string]*domain.BundleMetrics
	order   []string
	log     *logrus.Logger
}

// NewMetricsRepository creates an empty metrics store.
func NewMetricsRepository(log *logrus.Logger) *MetricsRepository {
	return &MetricsRepository{
		metrics: make(map[string]*domain.BundleMetrics),
		log:     log,
	}
}

// Save stores computed metrics.
func (r *MetricsRepository) Save(ctx context.Context, metrics *domain.BundleMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metrics[metrics.MetricsID]; !exists {
		r.order = append(r.order, metrics.MetricsID)
	}
	r.metrics[metrics.MetricsID] = metrics

	r.log.WithFields(logrus.Fields{
		"metrics_id":  metrics.MetricsID,
		"snapshot_id": metrics.SnapshotID,
		"risk_score":  metrics.OverallRiskScore,
		"severity":    metrics.RiskSeverity,
	}).Debug("Metrics saved")
	return nil
}

// Get returns metrics by ID.
func (r *MetricsRepository) Get(ctx context.Context, metricsID string) (*domain.BundleMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[metricsID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

// Query returns metrics matching the filter, sorted and paginated. When the
// query asks for a summary it is computed over the full matched set, not just
// the returned page.
func (r *MetricsRepository) Query(ctx context.Context, query *domain.MetricsQuery) (*domain.MetricsList, error) {
	r.mu.RLock()
	matched := make([]*domain.BundleMetrics, 0, len(r.order))
	for _, id := range r.order {
		m := r.metrics[id]
		if !matchMetrics(m, query) {
			continue
		}
		matched = append(matched, m)
	}
	r.mu.RUnlock()

	sortMetrics(matched, query.SortBy, query.SortOrder)

	total := len(matched)
	limit := query.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	page := paginate(total, query.Offset, limit)
	list := &domain.MetricsList{
		Metrics:    matched[page.start:page.end],
		TotalCount: total,
		Limit:      limit,
		Offset:     query.Offset,
		HasMore:    page.end < total,
	}
	if query.IncludeSummary {
		list.Summary = summarizeMetrics(matched)
	}
	return list, nil
}

func matchMetrics(m *domain.BundleMetrics, q *domain.MetricsQuery) bool {
	if q == nil {
		return true
	}
	if q.MemberID != "" && m.MemberID != q.MemberID {
		return false
	}
	if q.RefillID != "" && m.RefillID != q.RefillID {
		return false
	}
	if q.BundleID != "" && m.BundleID != q.BundleID {
		return false
	}
	if q.MinRiskScore != nil && m.OverallRiskScore < *q.MinRiskScore {
		return false
	}
	if q.MaxRiskScore != nil && m.OverallRiskScore > *q.MaxRiskScore {
		return false
	}
	if q.RiskSeverity != "" && m.RiskSeverity != q.RiskSeverity {
		return false
	}
	if q.ComputedFrom != nil && m.ComputedTimestamp.Before(*q.ComputedFrom) {
		return false
	}
	if q.ComputedTo != nil && m.ComputedTimestamp.After(*q.ComputedTo) {
		return false
	}
	return true
}

func sortMetrics(metrics []*domain.BundleMetrics, sortBy string, order domain.SortOrder) {
	less := func(a, b *domain.BundleMetrics) bool {
		switch sortBy {
		case domain.MetricsSortRiskScore:
			return a.OverallRiskScore < b.OverallRiskScore
		case domain.MetricsSortBundleHealth:
			return a.BundleAlignment.BundleHealthScore < b.BundleAlignment.BundleHealthScore
		default:
			return a.ComputedTimestamp.Before(b.ComputedTimestamp)
		}
	}
	sort.SliceStable(metrics, func(i, j int) bool {
		if order == domain.SortAsc {
			return less(metrics[i], metrics[j])
		}
		return less(metrics[j], metrics[i])
	})
}

func summarizeMetrics(metrics []*domain.BundleMetrics) *domain.BundleMetricsSummary {
	summary := &domain.BundleMetricsSummary{
		ComputedTimestamp: time.Now().UTC(),
		TotalSnapshots:    len(metrics),
		MetricsVersion:    domain.MetricsVersion,
		StageDistribution: make(map[string]int),
	}
	if len(metrics) == 0 {
		return summary
	}

	bundles := make(map[string]struct{})
	var riskTotal, healthTotal float64
	for _, m := range metrics {
		riskTotal += m.OverallRiskScore
		healthTotal += m.BundleAlignment.BundleHealthScore
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
	return summary
}
