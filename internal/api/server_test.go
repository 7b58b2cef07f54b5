package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refill-risk-engine/internal/audit"
	"github.com/refill-risk-engine/internal/domain"
	"github.com/refill-risk-engine/internal/repository"
	"github.com/refill-risk-engine/internal/service"
	"github.com/refill-risk-engine/internal/versioning"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := testLogger()

	cfg := &domain.Config{
		Server:    domain.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Cache:     domain.CacheConfig{LocalSize: 64, DefaultTTL: time.Minute},
		Logging:   domain.LoggingConfig{Level: "info", Format: "json"},
		RiskModel: *domain.DefaultRiskModelConfig(),
	}

	snapshots := repository.NewSnapshotRepository(log)
	metricsRepo := repository.NewMetricsRepository(log)
	risks := repository.NewRiskRepository(log)
	auditLog := audit.NewLogger(log)
	versions := versioning.NewRegistry()

	scorer, err := service.NewRiskScorer(&cfg.RiskModel, risks, auditLog, versions, log)
	require.NoError(t, err)

	cache, err := NewArtifactCache(&cfg.Cache, log)
	require.NoError(t, err)

	return NewServer(cfg, Dependencies{
		Aggregator:  service.NewAggregator(snapshots, auditLog, versions, log),
		Metrics:     service.NewMetricsEngine(metricsRepo, auditLog, versions, log),
		Scorer:      scorer,
		Snapshots:   snapshots,
		MetricsRepo: metricsRepo,
		Risks:       risks,
		Audit:       auditLog,
		Versions:    versions,
		Cache:       cache,
		Log:         log,
	})
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func ingestEvents(t *testing.T) []*domain.CanonicalEvent {
	t.Helper()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []*domain.CanonicalEvent{
		{
			EventID:        "evt_00000001",
			MemberID:       "member_a1b2c3d4",
			RefillID:       "refill_e5f6a7b8",
			Kind:           domain.KindRefill,
			EventType:      domain.EventRefillInitiated,
			EventTimestamp: base,
			Refill:         &domain.RefillDetails{DaysSupply: 30},
		},
		{
			EventID:        "evt_00000002",
			MemberID:       "member_a1b2c3d4",
			RefillID:       "refill_e5f6a7b8",
			Kind:           domain.KindRefill,
			EventType:      domain.EventRefillEligible,
			EventTimestamp: base.Add(24 * time.Hour),
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, domain.MetricsVersion, body["version"])
	assert.Contains(t, body, "cache")
}

func TestIngestEventsCreatesSnapshot(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/events", ingestRequest{
		SourceSystem: "pharmacy_core",
		Events:       ingestEvents(t),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var snapshot domain.RefillSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.NotEmpty(t, snapshot.SnapshotID)
	assert.Equal(t, domain.StageEligible, snapshot.CurrentStage)
	assert.Equal(t, 2, snapshot.TotalEvents)

	got := doJSON(t, server, http.MethodGet, "/api/v1/snapshots/"+snapshot.SnapshotID, nil)
	require.Equal(t, http.StatusOK, got.Code)

	var fetched domain.RefillSnapshot
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &fetched))
	assert.Equal(t, snapshot.SnapshotID, fetched.SnapshotID)
}

func TestIngestEventsRejectsInvalidEvent(t *testing.T) {
	server := newTestServer(t)

	events := ingestEvents(t)
	events[0].MemberID = ""
	w := doJSON(t, server, http.MethodPost, "/api/v1/events", ingestRequest{
		SourceSystem: "pharmacy_core",
		Events:       events,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "member_id")
	assert.Contains(t, body, "correlation_id")
}

func TestIngestBatchGroupsByRefill(t *testing.T) {
	server := newTestServer(t)

	events := ingestEvents(t)
	other := *events[0]
	other.EventID = "evt_00000003"
	other.RefillID = "refill_f6a7b8c9"
	events = append(events, &other)

	w := doJSON(t, server, http.MethodPost, "/api/v1/events/batch", ingestRequest{
		SourceSystem: "pharmacy_core",
		Events:       events,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		BatchID   string                   `json:"batch_id"`
		Snapshots []*domain.RefillSnapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Snapshots, 2)
}

func TestComputeMetricsAndAssessRisk(t *testing.T) {
	server := newTestServer(t)

	created := doJSON(t, server, http.MethodPost, "/api/v1/events", ingestRequest{
		SourceSystem: "pharmacy_core",
		Events:       ingestEvents(t),
	})
	require.Equal(t, http.StatusCreated, created.Code)

	var snapshot domain.RefillSnapshot
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &snapshot))

	computed := doJSON(t, server, http.MethodPost, "/api/v1/metrics/compute", computeMetricsRequest{
		SnapshotID: snapshot.SnapshotID,
	})
	require.Equal(t, http.StatusCreated, computed.Code)

	var metrics domain.BundleMetrics
	require.NoError(t, json.Unmarshal(computed.Body.Bytes(), &metrics))
	assert.NotEmpty(t, metrics.MetricsID)
	assert.Equal(t, snapshot.SnapshotID, metrics.SnapshotID)

	assessed := doJSON(t, server, http.MethodPost, "/api/v1/risks/assess", assessRiskRequest{
		MetricsID: metrics.MetricsID,
		RiskType:  domain.RiskRefillAbandonment,
	})
	require.Equal(t, http.StatusCreated, assessed.Code)

	var risk domain.RefillAbandonmentRisk
	require.NoError(t, json.Unmarshal(assessed.Body.Bytes(), &risk))
	assert.NotEmpty(t, risk.RiskID)
	assert.Equal(t, snapshot.RefillID, risk.RefillID)

	got := doJSON(t, server, http.MethodGet, "/api/v1/risks/"+risk.RiskID, nil)
	require.Equal(t, http.StatusOK, got.Code)
}

func TestAssessRiskRejectsUnknownType(t *testing.T) {
	server := newTestServer(t)

	created := doJSON(t, server, http.MethodPost, "/api/v1/events", ingestRequest{
		SourceSystem: "pharmacy_core",
		Events:       ingestEvents(t),
	})
	require.Equal(t, http.StatusCreated, created.Code)

	var snapshot domain.RefillSnapshot
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &snapshot))

	computed := doJSON(t, server, http.MethodPost, "/api/v1/metrics/compute", computeMetricsRequest{
		SnapshotID: snapshot.SnapshotID,
	})
	require.Equal(t, http.StatusCreated, computed.Code)

	var metrics domain.BundleMetrics
	require.NoError(t, json.Unmarshal(computed.Body.Bytes(), &metrics))

	w := doJSON(t, server, http.MethodPost, "/api/v1/risks/assess", assessRiskRequest{
		MetricsID: metrics.MetricsID,
		RiskType:  domain.RiskType("bundle_implosion"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSnapshotNotFound(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/api/v1/snapshots/snapshot_missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "correlation_id")
}

func TestAuditTrailReflectsIngest(t *testing.T) {
	server := newTestServer(t)

	created := doJSON(t, server, http.MethodPost, "/api/v1/events", ingestRequest{
		SourceSystem: "pharmacy_core",
		Events:       ingestEvents(t),
	})
	require.Equal(t, http.StatusCreated, created.Code)

	w := doJSON(t, server, http.MethodGet, "/api/v1/audit/trail?event_id=evt_00000001", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records []*domain.AuditRecord `json:"records"`
		Count   int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, body.Count, 2)
}

func TestSecurityHeadersApplied(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
