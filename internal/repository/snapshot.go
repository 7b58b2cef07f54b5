// Package repository provides in-memory storage for snapshots, metrics, and
// risk assessments, with filtered, sorted, paginated retrieval.
package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
)

const defaultQueryLimit = 100

// SnapshotRepository is an in-memory domain.SnapshotRepository. It stores each
// snapshot together with the event set it was aggregated from, so incremental
// updates can rebuild the full history.
type SnapshotRepository struct {
	mu          sync.RWMutex
	snapshots   map[string]*domain.RefillSnapshot
	events      map[string][]*domain.CanonicalEvent
	memberIndex map[string][]string
	bundleIndex map[string][]string
	order       []string
	log         *logrus.Logger
}

// NewSnapshotRepository creates an empty snapshot store.
func NewSnapshotRepository(log *logrus.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		snapshots:   make(map[string]*domain.RefillSnapshot),
		events:      make(map[string][]*domain.CanonicalEvent),
		memberIndex: make(map[string][]string),
		bundleIndex: make(map[string][]string),
		log:         log,
	}
}

// Save stores a snapshot and its contributing events.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *domain.RefillSnapshot, events []*domain.CanonicalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.snapshots[snapshot.SnapshotID]; !exists {
		r.order = append(r.order, snapshot.SnapshotID)
		r.memberIndex[snapshot.MemberID] = append(r.memberIndex[snapshot.MemberID], snapshot.SnapshotID)
		if snapshot.BundleID != "" {
			r.bundleIndex[snapshot.BundleID] = append(r.bundleIndex[snapshot.BundleID], snapshot.SnapshotID)
		}
	}
	r.snapshots[snapshot.SnapshotID] = snapshot
	r.events[snapshot.SnapshotID] = events

	r.log.WithFields(logrus.Fields{
		"snapshot_id": snapshot.SnapshotID,
		"member_id":   snapshot.MemberID,
		"refill_id":   snapshot.RefillID,
		"stage":       snapshot.CurrentStage,
		"event_count": len(events),
	}).Debug("Snapshot saved")
	return nil
}

// Get returns a snapshot by ID.
func (r *SnapshotRepository) Get(ctx context.Context, snapshotID string) (*domain.RefillSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot, ok := r.snapshots[snapshotID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snapshot, nil
}

// GetEvents returns the event set a snapshot was aggregated from.
func (r *SnapshotRepository) GetEvents(ctx context.Context, snapshotID string) ([]*domain.CanonicalEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events, ok := r.events[snapshotID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]*domain.CanonicalEvent, len(events))
	copy(out, events)
	return out, nil
}

// Query returns snapshots matching the filter, sorted and paginated.
func (r *SnapshotRepository) Query(ctx context.Context, query *domain.SnapshotQuery) (*domain.SnapshotList, error) {
	r.mu.RLock()
	matched := make([]*domain.RefillSnapshot, 0, len(r.order))
	for _, id := range r.order {
		s := r.snapshots[id]
		if !matchSnapshot(s, query) {
			continue
		}
		matched = append(matched, s)
	}
	r.mu.RUnlock()

	sortSnapshots(matched, query.SortBy, query.SortOrder)

	total := len(matched)
	limit := query.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	page := paginate(len(matched), query.Offset, limit)
	return &domain.SnapshotList{
		Snapshots:  matched[page.start:page.end],
		TotalCount: total,
		Limit:      limit,
		Offset:     query.Offset,
		HasMore:    page.end < total,
	}, nil
}

// ListByMember returns snapshots for one member, newest first, capped at the
// default query limit.
func (r *SnapshotRepository) ListByMember(ctx context.Context, memberID string) ([]*domain.RefillSnapshot, error) {
	r.mu.RLock()
	listed := r.collect(r.memberIndex[memberID])
	r.mu.RUnlock()
	return newestFirst(listed), nil
}

// ListByBundle returns snapshots for one bundle, newest first, capped at the
// default query limit.
func (r *SnapshotRepository) ListByBundle(ctx context.Context, bundleID string) ([]*domain.RefillSnapshot, error) {
	r.mu.RLock()
	listed := r.collect(r.bundleIndex[bundleID])
	r.mu.RUnlock()
	return newestFirst(listed), nil
}

func newestFirst(snapshots []*domain.RefillSnapshot) []*domain.RefillSnapshot {
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[j].SnapshotTimestamp.Before(snapshots[i].SnapshotTimestamp)
	})
	if len(snapshots) > defaultQueryLimit {
		snapshots = snapshots[:defaultQueryLimit]
	}
	return snapshots
}

func (r *SnapshotRepository) collect(ids []string) []*domain.RefillSnapshot {
	out := make([]*domain.RefillSnapshot, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.snapshots[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func matchSnapshot(s *domain.RefillSnapshot, q *domain.SnapshotQuery) bool {
	if q == nil {
		return true
	}
	if q.MemberID != "" && s.MemberID != q.MemberID {
		return false
	}
	if q.RefillID != "" && s.RefillID != q.RefillID {
		return false
	}
	if q.BundleID != "" && s.BundleID != q.BundleID {
		return false
	}
	if q.CurrentStage != "" && s.CurrentStage != q.CurrentStage {
		return false
	}
	if q.PAState != "" && s.PAState != q.PAState {
		return false
	}
	if q.BundleTimingState != "" && s.BundleTimingState != q.BundleTimingState {
		return false
	}
	if q.TimestampFrom != nil && s.SnapshotTimestamp.Before(*q.TimestampFrom) {
		return false
	}
	if q.TimestampTo != nil && s.SnapshotTimestamp.After(*q.TimestampTo) {
		return false
	}
	return true
}

func sortSnapshots(snapshots []*domain.RefillSnapshot, sortBy string, order domain.SortOrder) {
	less := func(a, b *domain.RefillSnapshot) bool {
		switch sortBy {
		case domain.SnapshotSortLatestEvent:
			return a.LatestEventTimestamp.Before(b.LatestEventTimestamp)
		case domain.SnapshotSortDaysUntilDue:
			return intPtrValue(a.DaysUntilDue) < intPtrValue(b.DaysUntilDue)
		case domain.SnapshotSortProcessingDays:
			return intPtrValue(a.TotalProcessingDays) < intPtrValue(b.TotalProcessingDays)
		default:
			return a.SnapshotTimestamp.Before(b.SnapshotTimestamp)
		}
	}
	sort.SliceStable(snapshots, func(i, j int) bool {
		if order == domain.SortAsc {
			return less(snapshots[i], snapshots[j])
		}
		return less(snapshots[j], snapshots[i])
	})
}

func intPtrValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

type pageBounds struct {
	start, end int
}

func paginate(total, offset, limit int) pageBounds {
	if offset < 0 {
		offset = 0
	}
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return pageBounds{start: start, end: end}
}
