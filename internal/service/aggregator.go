// Package service implements the aggregation, metrics, and risk scoring
// engines of the refill risk pipeline.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
)

// Aggregator folds canonical event histories into refill snapshots. Given the
// same event set, the derived fields of the resulting snapshot are identical
// across runs; only the snapshot ID and timestamp differ.
type Aggregator struct {
	snapshots domain.SnapshotRepository
	audit     domain.AuditLogger
	versions  domain.VersionRegistry
	log       *logrus.Logger
	now       func() time.Time
}

// NewAggregator creates a snapshot aggregation engine.
func NewAggregator(snapshots domain.SnapshotRepository, audit domain.AuditLogger, versions domain.VersionRegistry, log *logrus.Logger) *Aggregator {
	return &Aggregator{
		snapshots: snapshots,
		audit:     audit,
		versions:  versions,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate folds an event set into a snapshot for one (member, refill) pair.
// Events are processed in timestamp order; ties keep their input order.
func (a *Aggregator) Aggregate(ctx context.Context, events []*domain.CanonicalEvent) (*domain.RefillSnapshot, error) {
	return a.aggregate(ctx, events, "")
}

// aggregate builds and saves the snapshot. A non-empty snapshotID reuses that
// identity, overwriting the stored snapshot in place.
func (a *Aggregator) aggregate(ctx context.Context, events []*domain.CanonicalEvent, snapshotID string) (*domain.RefillSnapshot, error) {
	start := time.Now()

	if len(events) == 0 {
		return nil, domain.ErrEmptyEventSet
	}

	sorted := make([]*domain.CanonicalEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EventTimestamp.Before(sorted[j].EventTimestamp)
	})

	now := a.now()
	if snapshotID == "" {
		snapshotID = newArtifactID("snapshot", now)
	}
	snapshot := &domain.RefillSnapshot{
		SnapshotID:             snapshotID,
		MemberID:               sorted[0].MemberID,
		RefillID:               sorted[0].RefillID,
		BundleID:               sorted[0].BundleID,
		SnapshotTimestamp:      now,
		CurrentStage:           domain.StageInitiated,
		PAState:                domain.PANotRequired,
		BundleTimingState:      domain.TimingUnknown,
		TotalEvents:            len(sorted),
		EarliestEventTimestamp: sorted[0].EventTimestamp,
		LatestEventTimestamp:   sorted[len(sorted)-1].EventTimestamp,
		CorrelationID:          sorted[0].CorrelationID,
	}
	snapshot.EventIDs = make([]string, len(sorted))
	for i, e := range sorted {
		snapshot.EventIDs[i] = e.EventID
	}

	for _, event := range sorted {
		a.applyEvent(event, snapshot)
	}
	a.computeTimingMetrics(snapshot, now)
	a.determineCurrentState(snapshot, now)

	if err := a.snapshots.Save(ctx, snapshot, sorted); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	a.audit.SnapshotAggregated(snapshot.SnapshotID, snapshot.MemberID, snapshot.RefillID, len(sorted), elapsed)
	a.versions.Register(snapshot.SnapshotID, domain.ArtifactSnapshot, "snapshot-aggregator", domain.MetricsVersion, map[string]any{
		"event_count": len(sorted),
	})
	a.log.WithFields(logrus.Fields{
		"snapshot_id": snapshot.SnapshotID,
		"member_id":   snapshot.MemberID,
		"refill_id":   snapshot.RefillID,
		"stage":       snapshot.CurrentStage,
		"elapsed_ms":  elapsed,
	}).Info("Aggregated events into snapshot")

	return snapshot, nil
}

// AggregateBatch aggregates each event group independently, keyed by the
// caller's grouping. A failing group fails the whole batch.
func (a *Aggregator) AggregateBatch(ctx context.Context, groups map[string][]*domain.CanonicalEvent) (map[string]*domain.RefillSnapshot, error) {
	start := time.Now()
	out := make(map[string]*domain.RefillSnapshot, len(groups))

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		snapshot, err := a.Aggregate(ctx, groups[key])
		if err != nil {
			return nil, fmt.Errorf("aggregate group %s: %w", key, err)
		}
		out[key] = snapshot
	}

	a.audit.BatchProcessed("", time.Since(start).Milliseconds(), len(out))
	return out, nil
}

// Update appends one event to an existing snapshot and recomputes it from the
// full event history, replacing the stored snapshot under the same ID. The
// event must carry the snapshot's member and refill identifiers.
func (a *Aggregator) Update(ctx context.Context, snapshotID string, event *domain.CanonicalEvent) (*domain.RefillSnapshot, error) {
	snapshot, err := a.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if event.MemberID != snapshot.MemberID || event.RefillID != snapshot.RefillID {
		a.audit.ProcessingError(event.EventID, "", domain.ErrEventMismatch, 0)
		return nil, domain.ErrEventMismatch
	}

	events, err := a.snapshots.GetEvents(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return a.aggregate(ctx, append(events, event), snapshotID)
}

func (a *Aggregator) applyEvent(event *domain.CanonicalEvent, snapshot *domain.RefillSnapshot) {
	switch event.Kind {
	case domain.KindRefill:
		snapshot.RefillEvents++
		a.applyRefillEvent(event, snapshot)
	case domain.KindPA:
		snapshot.PAEvents++
		a.applyPAEvent(event, snapshot)
	case domain.KindOOS:
		snapshot.OOSEvents++
		a.applyOOSEvent(event, snapshot)
	case domain.KindBundle:
		snapshot.BundleEvents++
		a.applyBundleEvent(event, snapshot)
	}

	// Bundle context may ride on any variant.
	if event.BundleMemberCount > 0 {
		snapshot.BundleMemberCount = event.BundleMemberCount
	}
	if event.BundleRefillCount > 0 {
		snapshot.BundleRefillCount = event.BundleRefillCount
	}
	if event.BundleSequence > 0 {
		snapshot.BundleSequence = event.BundleSequence
	}
}

func (a *Aggregator) applyRefillEvent(event *domain.CanonicalEvent, snapshot *domain.RefillSnapshot) {
	if d := event.Refill; d != nil {
		if d.DrugNDC != "" {
			snapshot.DrugNDC = d.DrugNDC
		}
		if d.DrugName != "" {
			snapshot.DrugName = d.DrugName
		}
		if d.DaysSupply > 0 {
			snapshot.DaysSupply = d.DaysSupply
		}
		if d.Quantity > 0 {
			snapshot.Quantity = d.Quantity
		}
		if d.RefillDueDate != nil {
			snapshot.RefillDueDate = d.RefillDueDate
		}
		if d.ShipByDate != nil {
			snapshot.ShipByDate = d.ShipByDate
		}
		if d.LastFillDate != nil {
			snapshot.LastFillDate = d.LastFillDate
		}
		if d.RefillStatus != "" {
			snapshot.RefillStatus = d.RefillStatus
		}
		if d.SourceStatus != "" {
			snapshot.SourceStatus = d.SourceStatus
		}
		if d.BundleAlignmentScore != nil {
			snapshot.BundleAlignmentScore = d.BundleAlignmentScore
		}
	}

	switch event.EventType {
	case domain.EventRefillInitiated:
		setMilestone(&snapshot.InitiatedTimestamp, event.EventTimestamp)
	case domain.EventRefillEligible:
		setMilestone(&snapshot.EligibleTimestamp, event.EventTimestamp)
	case domain.EventRefillBundled:
		setMilestone(&snapshot.BundledTimestamp, event.EventTimestamp)
	case domain.EventRefillShipped:
		setMilestone(&snapshot.ShippedTimestamp, event.EventTimestamp)
	case domain.EventRefillCompleted:
		setMilestone(&snapshot.CompletedTimestamp, event.EventTimestamp)
	}
}

func (a *Aggregator) applyPAEvent(event *domain.CanonicalEvent, snapshot *domain.RefillSnapshot) {
	if d := event.PA; d != nil {
		if d.PAType != "" {
			snapshot.PAType = d.PAType
		}
		if d.Status != "" {
			snapshot.LatestPAStatus = d.Status
		}
		if d.ProcessingDays > 0 {
			snapshot.PAProcessingDays = d.ProcessingDays
		}
		if d.ExpiryDate != nil {
			snapshot.PAExpiryDate = d.ExpiryDate
		}
	}

	switch event.EventType {
	case domain.EventPASubmitted:
		setMilestone(&snapshot.PASubmittedTimestamp, event.EventTimestamp)
	case domain.EventPAApproved, domain.EventPADenied, domain.EventPAExpired:
		setMilestone(&snapshot.PAResolvedTimestamp, event.EventTimestamp)
	}
}

func (a *Aggregator) applyOOSEvent(event *domain.CanonicalEvent, snapshot *domain.RefillSnapshot) {
	switch event.EventType {
	case domain.EventOOSDetected:
		setMilestone(&snapshot.OOSDetectedTimestamp, event.EventTimestamp)
	case domain.EventOOSResolved:
		setMilestone(&snapshot.OOSResolvedTimestamp, event.EventTimestamp)
	}
}

func (a *Aggregator) applyBundleEvent(event *domain.CanonicalEvent, snapshot *domain.RefillSnapshot) {
	if d := event.Bundle; d != nil {
		if d.TotalMembers > 0 {
			snapshot.BundleMemberCount = d.TotalMembers
		}
		if d.TotalRefills > 0 {
			snapshot.BundleRefillCount = d.TotalRefills
		}
	}

	switch event.EventType {
	case domain.EventBundleFormed:
		setMilestone(&snapshot.BundledTimestamp, event.EventTimestamp)
	case domain.EventBundleShipped:
		setMilestone(&snapshot.ShippedTimestamp, event.EventTimestamp)
	}
}

// setMilestone records a milestone timestamp on first occurrence only.
func setMilestone(field **time.Time, ts time.Time) {
	if *field == nil {
		t := ts
		*field = &t
	}
}

func (a *Aggregator) computeTimingMetrics(snapshot *domain.RefillSnapshot, now time.Time) {
	if snapshot.RefillDueDate != nil {
		snapshot.DaysUntilDue = intPtr(daysBetweenDates(now, *snapshot.RefillDueDate))
	}
	if snapshot.LastFillDate != nil {
		snapshot.DaysSinceLastFill = intPtr(daysBetweenDates(*snapshot.LastFillDate, now))
	}
	if snapshot.InitiatedTimestamp != nil {
		snapshot.TotalProcessingDays = intPtr(int(now.Sub(*snapshot.InitiatedTimestamp).Hours() / 24))
	}
}

func (a *Aggregator) determineCurrentState(snapshot *domain.RefillSnapshot, now time.Time) {
	// Stage cascade, most advanced milestone wins. An unresolved OOS parks
	// the refill regardless of earlier progress.
	switch {
	case snapshot.CompletedTimestamp != nil:
		snapshot.CurrentStage = domain.StageCompleted
	case snapshot.ShippedTimestamp != nil:
		snapshot.CurrentStage = domain.StageShipped
	case snapshot.OOSDetectedTimestamp != nil && snapshot.OOSResolvedTimestamp == nil:
		snapshot.CurrentStage = domain.StageOOSDetected
	case snapshot.BundledTimestamp != nil:
		snapshot.CurrentStage = domain.StageBundled
	case snapshot.PAResolvedTimestamp != nil:
		snapshot.CurrentStage = domain.StagePAApproved
	case snapshot.PASubmittedTimestamp != nil:
		snapshot.CurrentStage = domain.StagePAPending
	case snapshot.EligibleTimestamp != nil:
		snapshot.CurrentStage = domain.StageEligible
	default:
		snapshot.CurrentStage = domain.StageInitiated
	}

	// PA state. Any resolution counts as approved; downstream scoring reads
	// PA outcomes from the resolved milestone, not the denial detail.
	switch {
	case snapshot.PAEvents == 0:
		snapshot.PAState = domain.PANotRequired
	case snapshot.PASubmittedTimestamp != nil && snapshot.PAResolvedTimestamp == nil:
		snapshot.PAState = domain.PAPending
	case snapshot.PAResolvedTimestamp != nil:
		snapshot.PAState = domain.PAApproved
	}

	snapshot.BundleTimingState = domain.TimingStateFromScore(snapshot.BundleAlignmentScore)

	if ts := stageTimestamp(snapshot); ts != nil {
		snapshot.DaysInCurrentStage = intPtr(int(now.Sub(*ts).Hours() / 24))
	}
}

func stageTimestamp(snapshot *domain.RefillSnapshot) *time.Time {
	switch snapshot.CurrentStage {
	case domain.StageInitiated:
		return snapshot.InitiatedTimestamp
	case domain.StageEligible:
		return snapshot.EligibleTimestamp
	case domain.StagePAPending:
		return snapshot.PASubmittedTimestamp
	case domain.StagePAApproved:
		return snapshot.PAResolvedTimestamp
	case domain.StageBundled:
		return snapshot.BundledTimestamp
	case domain.StageOOSDetected:
		return snapshot.OOSDetectedTimestamp
	case domain.StageShipped:
		return snapshot.ShippedTimestamp
	case domain.StageCompleted:
		return snapshot.CompletedTimestamp
	default:
		return nil
	}
}

// daysBetweenDates counts whole calendar days from a to b in UTC, negative
// when b is before a.
func daysBetweenDates(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	at := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bt := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(bt.Sub(at).Hours() / 24)
}

func intPtr(v int) *int { return &v }

// newArtifactID builds IDs like snapshot_20250901_120000_a1b2c3d4.
func newArtifactID(prefix string, now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s_%x", prefix, now.Format("20060102_150405"), id[:4])
}
