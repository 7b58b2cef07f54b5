package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/refill-risk-engine/internal/domain"
)

// ingestRequest carries a flat set of canonical events. Events are grouped
// by refill before aggregation.
type ingestRequest struct {
	SourceSystem string                   `json:"source_system"`
	Events       []*domain.CanonicalEvent `json:"events" binding:"required"`
}

type computeMetricsRequest struct {
	SnapshotID string `json:"snapshot_id" binding:"required"`
}

type computeMetricsBatchRequest struct {
	SnapshotIDs []string `json:"snapshot_ids" binding:"required"`
}

type assessRiskRequest struct {
	MetricsID string          `json:"metrics_id" binding:"required"`
	RiskType  domain.RiskType `json:"risk_type" binding:"required"`
}

type assessRiskBatchRequest struct {
	MetricsIDs []string `json:"metrics_ids" binding:"required"`
}

type updateSnapshotRequest struct {
	Event *domain.CanonicalEvent `json:"event" binding:"required"`
}

// handleIngestEvents aggregates a single refill's event history into a
// snapshot. All events must belong to one refill.
func (s *Server) handleIngestEvents(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	for _, event := range req.Events {
		s.deps.Audit.EventReceived(event.EventID, req.SourceSystem, map[string]any{
			"event_type": string(event.EventType),
		})
		if err := event.Validate(); err != nil {
			s.deps.Audit.EventValidated(event.EventID, false, []string{err.Error()})
			s.badRequest(c, err)
			return
		}
		s.deps.Audit.EventValidated(event.EventID, true, nil)
	}

	start := time.Now()
	snapshot, err := s.deps.Aggregator.Aggregate(c.Request.Context(), req.Events)
	if err != nil {
		s.internalError(c, err)
		return
	}

	elapsed := time.Since(start).Milliseconds()
	for _, event := range req.Events {
		s.deps.Audit.EventProcessed(event.EventID, elapsed, "aggregated")
	}

	s.deps.Cache.Set(c.Request.Context(), snapshotCacheKey(snapshot.SnapshotID), snapshot)
	c.JSON(http.StatusCreated, snapshot)
}

// handleIngestBatch groups incoming events by refill and aggregates each
// group into its own snapshot.
func (s *Server) handleIngestBatch(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	batchID := c.GetString("correlation_id")
	s.deps.Audit.BatchReceived(batchID, req.SourceSystem, len(req.Events))

	groups := make(map[string][]*domain.CanonicalEvent)
	validCount := 0
	for _, event := range req.Events {
		if err := event.Validate(); err != nil {
			s.deps.Audit.EventValidated(event.EventID, false, []string{err.Error()})
			s.deps.Audit.BatchValidated(batchID, validCount, len(req.Events)-validCount)
			s.badRequest(c, err)
			return
		}
		validCount++
		groups[event.RefillID] = append(groups[event.RefillID], event)
	}
	s.deps.Audit.BatchValidated(batchID, validCount, 0)

	snapshots, err := s.deps.Aggregator.AggregateBatch(c.Request.Context(), groups)
	if err != nil {
		s.internalError(c, err)
		return
	}

	for _, snapshot := range snapshots {
		s.deps.Cache.Set(c.Request.Context(), snapshotCacheKey(snapshot.SnapshotID), snapshot)
	}
	c.JSON(http.StatusCreated, gin.H{
		"batch_id":  batchID,
		"snapshots": snapshots,
	})
}

// handleUpdateSnapshot applies a late-arriving event to an existing snapshot,
// producing a fresh aggregation over the extended history.
func (s *Server) handleUpdateSnapshot(c *gin.Context) {
	var req updateSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := req.Event.Validate(); err != nil {
		s.badRequest(c, err)
		return
	}

	snapshotID := c.Param("id")
	snapshot, err := s.deps.Aggregator.Update(c.Request.Context(), snapshotID, req.Event)
	if err != nil {
		s.handleDomainError(c, err)
		return
	}

	s.deps.Cache.Set(c.Request.Context(), snapshotCacheKey(snapshot.SnapshotID), snapshot)
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleGetSnapshot(c *gin.Context) {
	snapshotID := c.Param("id")

	var cached domain.RefillSnapshot
	if s.deps.Cache.Get(c.Request.Context(), snapshotCacheKey(snapshotID), &cached) {
		c.JSON(http.StatusOK, &cached)
		return
	}

	snapshot, err := s.deps.Snapshots.Get(c.Request.Context(), snapshotID)
	if err != nil {
		s.handleDomainError(c, err)
		return
	}

	s.deps.Cache.Set(c.Request.Context(), snapshotCacheKey(snapshotID), snapshot)
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleQuerySnapshots(c *gin.Context) {
	query := &domain.SnapshotQuery{
		MemberID:          c.Query("member_id"),
		RefillID:          c.Query("refill_id"),
		BundleID:          c.Query("bundle_id"),
		CurrentStage:      domain.SnapshotStage(c.Query("current_stage")),
		PAState:           domain.PAState(c.Query("pa_state")),
		BundleTimingState: domain.BundleTimingState(c.Query("bundle_timing_state")),
		Limit:             intQuery(c, "limit"),
		Offset:            intQuery(c, "offset"),
		SortBy:            c.Query("sort_by"),
		SortOrder:         domain.SortOrder(c.Query("sort_order")),
	}
	query.TimestampFrom = timeQuery(c, "from")
	query.TimestampTo = timeQuery(c, "to")

	list, err := s.deps.Snapshots.Query(c.Request.Context(), query)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleMemberSnapshots(c *gin.Context) {
	snapshots, err := s.deps.Snapshots.ListByMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots, "count": len(snapshots)})
}

func (s *Server) handleBundleSnapshots(c *gin.Context) {
	snapshots, err := s.deps.Snapshots.ListByBundle(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots, "count": len(snapshots)})
}

func (s *Server) handleComputeMetrics(c *gin.Context) {
	var req computeMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	snapshot, err := s.deps.Snapshots.Get(c.Request.Context(), req.SnapshotID)
	if err != nil {
		s.handleDomainError(c, err)
		return
	}

	metrics, err := s.deps.Metrics.Compute(c.Request.Context(), snapshot)
	if err != nil {
		s.internalError(c, err)
		return
	}

	s.deps.Cache.Set(c.Request.Context(), metricsCacheKey(metrics.MetricsID), metrics)
	c.JSON(http.StatusCreated, metrics)
}

func (s *Server) handleComputeMetricsBatch(c *gin.Context) {
	var req computeMetricsBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	snapshots := make([]*domain.RefillSnapshot, 0, len(req.SnapshotIDs))
	for _, id := range req.SnapshotIDs {
		snapshot, err := s.deps.Snapshots.Get(c.Request.Context(), id)
		if err != nil {
			s.handleDomainError(c, err)
			return
		}
		snapshots = append(snapshots, snapshot)
	}

	metrics, err := s.deps.Metrics.ComputeBatch(c.Request.Context(), snapshots)
	if err != nil {
		s.internalError(c, err)
		return
	}

	for _, m := range metrics {
		s.deps.Cache.Set(c.Request.Context(), metricsCacheKey(m.MetricsID), m)
	}
	c.JSON(http.StatusCreated, gin.H{"metrics": metrics, "count": len(metrics)})
}

func (s *Server) handleGetMetrics(c *gin.Context) {
	metricsID := c.Param("id")

	var cached domain.BundleMetrics
	if s.deps.Cache.Get(c.Request.Context(), metricsCacheKey(metricsID), &cached) {
		c.JSON(http.StatusOK, &cached)
		return
	}

	metrics, err := s.deps.MetricsRepo.Get(c.Request.Context(), metricsID)
	if err != nil {
		s.handleDomainError(c, err)
		return
	}

	s.deps.Cache.Set(c.Request.Context(), metricsCacheKey(metricsID), metrics)
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleQueryMetrics(c *gin.Context) {
	query := &domain.MetricsQuery{
		MemberID:       c.Query("member_id"),
		RefillID:       c.Query("refill_id"),
		BundleID:       c.Query("bundle_id"),
		RiskSeverity:   domain.RiskSeverity(c.Query("risk_severity")),
		Limit:          intQuery(c, "limit"),
		Offset:         intQuery(c, "offset"),
		SortBy:         c.Query("sort_by"),
		SortOrder:      domain.SortOrder(c.Query("sort_order")),
		IncludeSummary: c.Query("include_summary") == "true",
	}
	query.MinRiskScore = floatQuery(c, "min_risk_score")
	query.MaxRiskScore = floatQuery(c, "max_risk_score")
	query.ComputedFrom = timeQuery(c, "from")
	query.ComputedTo = timeQuery(c, "to")

	list, err := s.deps.MetricsRepo.Query(c.Request.Context(), query)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleAssessRisk(c *gin.Context) {
	var req assessRiskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	metrics, err := s.deps.MetricsRepo.Get(c.Request.Context(), req.MetricsID)
	if err != nil {
		s.handleDomainError(c, err)
		return
	}

	var assessment domain.RiskAssessment
	switch req.RiskType {
	case domain.RiskBundleBreak:
		assessment, err = s.deps.Scorer.AssessBundleBreak(c.Request.Context(), metrics)
	case domain.RiskRefillAbandonment:
		assessment, err = s.deps.Scorer.AssessRefillAbandonment(c.Request.Context(), metrics)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "unknown risk type: " + string(req.RiskType),
			"correlation_id": c.GetString("correlation_id"),
		})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	s.deps.Cache.Set(c.Request.Context(), riskCacheKey(assessment.ID()), assessment)
	c.JSON(http.StatusCreated, assessment)
}

func (s *Server) handleAssessRiskBatch(c *gin.Context) {
	var req assessRiskBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	metricsList := make([]*domain.BundleMetrics, 0, len(req.MetricsIDs))
	for _, id := range req.MetricsIDs {
		metrics, err := s.deps.MetricsRepo.Get(c.Request.Context(), id)
		if err != nil {
			s.handleDomainError(c, err)
			return
		}
		metricsList = append(metricsList, metrics)
	}

	assessments, err := s.deps.Scorer.AssessBatch(c.Request.Context(), metricsList)
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"assessments": assessments, "count": len(assessments)})
}

func (s *Server) handleGetRisk(c *gin.Context) {
	riskID := c.Param("id")

	assessment, err := s.deps.Risks.Get(c.Request.Context(), riskID)
	if err != nil {
		s.handleDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handleQueryRisks(c *gin.Context) {
	query := &domain.RiskQuery{
		RiskType:       domain.RiskType(c.Query("risk_type")),
		BundleID:       c.Query("bundle_id"),
		MemberID:       c.Query("member_id"),
		RefillID:       c.Query("refill_id"),
		Severity:       domain.RiskSeverity(c.Query("severity")),
		Limit:          intQuery(c, "limit"),
		Offset:         intQuery(c, "offset"),
		SortBy:         c.Query("sort_by"),
		SortOrder:      domain.SortOrder(c.Query("sort_order")),
		IncludeSummary: c.Query("include_summary") == "true",
	}
	query.MinProbability = floatQuery(c, "min_probability")
	query.MaxProbability = floatQuery(c, "max_probability")
	query.AssessedFrom = timeQuery(c, "from")
	query.AssessedTo = timeQuery(c, "to")

	list, err := s.deps.Risks.Query(c.Request.Context(), query)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleAuditTrail(c *gin.Context) {
	filter := domain.AuditFilter{
		EventID:    c.Query("event_id"),
		BatchID:    c.Query("batch_id"),
		ArtifactID: c.Query("artifact_id"),
		Action:     domain.AuditAction(c.Query("action")),
		Severity:   domain.AuditSeverity(c.Query("severity")),
		Limit:      intQuery(c, "limit"),
	}
	records := s.deps.Audit.Trail(filter)
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (s *Server) handleAuditStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Audit.Statistics())
}

func (s *Server) handleEventLineage(c *gin.Context) {
	records := s.deps.Audit.EventLineage(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (s *Server) handleArtifactVersions(c *gin.Context) {
	records := s.deps.Versions.ListByArtifact(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":          err.Error(),
		"correlation_id": c.GetString("correlation_id"),
	})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.deps.Log.WithError(err).Error("Request processing failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":          err.Error(),
		"correlation_id": c.GetString("correlation_id"),
	})
}

func (s *Server) handleDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":          err.Error(),
			"correlation_id": c.GetString("correlation_id"),
		})
	case errors.Is(err, domain.ErrEventMismatch), errors.Is(err, domain.ErrEmptyEventSet):
		s.badRequest(c, err)
	default:
		s.internalError(c, err)
	}
}

func intQuery(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func floatQuery(c *gin.Context, key string) *float64 {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func timeQuery(c *gin.Context, key string) *time.Time {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
