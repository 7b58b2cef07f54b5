package audit

import "github.com/refill-risk-engine/internal/domain"

// Noop is an audit logger that records nothing. Useful where the trail is
// irrelevant, such as throwaway engine instances in tests.
type Noop struct{}

func (Noop) EventReceived(string, string, map[string]any) *domain.AuditRecord { return nil }

func (Noop) EventValidated(string, bool, []string) *domain.AuditRecord { return nil }

func (Noop) EventProcessed(string, int64, string) *domain.AuditRecord { return nil }

func (Noop) BatchReceived(string, string, int) *domain.AuditRecord { return nil }

func (Noop) BatchValidated(string, int, int) *domain.AuditRecord { return nil }

func (Noop) BatchProcessed(string, int64, int) *domain.AuditRecord { return nil }

func (Noop) ProcessingError(string, string, error, int64) *domain.AuditRecord { return nil }

func (Noop) SnapshotAggregated(string, string, string, int, int64) *domain.AuditRecord { return nil }

func (Noop) MetricsComputed(string, string, string, float64, int64) *domain.AuditRecord { return nil }

func (Noop) RiskAssessed(string, domain.RiskType, string, float64, domain.RiskSeverity, int64) *domain.AuditRecord {
	return nil
}

func (Noop) Trail(domain.AuditFilter) []*domain.AuditRecord { return nil }

func (Noop) EventLineage(string) []*domain.AuditRecord { return nil }

func (Noop) Statistics() *domain.AuditStatistics { return &domain.AuditStatistics{} }
