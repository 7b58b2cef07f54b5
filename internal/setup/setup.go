// Package setup wires the pipeline components into a runnable application.
package setup

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/api"
	"github.com/refill-risk-engine/internal/audit"
	"github.com/refill-risk-engine/internal/domain"
	"github.com/refill-risk-engine/internal/repository"
	"github.com/refill-risk-engine/internal/service"
	"github.com/refill-risk-engine/internal/versioning"
)

// Application holds the fully wired pipeline.
type Application struct {
	Config    *domain.Config
	Log       *logrus.Logger
	Server    *api.Server
	Cache     *api.ArtifactCache
	forwarder *audit.HTTPForwarder
}

// NewApplication builds the pipeline from a validated configuration.
func NewApplication(cfg *domain.Config) (*Application, error) {
	log := newLogger(cfg.Logging)

	var auditOpts []audit.Option
	var forwarder *audit.HTTPForwarder
	if cfg.Audit.ForwardURL != "" {
		forwarder = audit.NewHTTPForwarder(cfg.Audit.ForwardURL, cfg.Audit.ForwardTimeout, log)
		auditOpts = append(auditOpts, audit.WithSink(forwarder))
	}
	auditLog := audit.NewLogger(log, auditOpts...)
	versions := versioning.NewRegistry()

	snapshots := repository.NewSnapshotRepository(log)
	metricsRepo := repository.NewMetricsRepository(log)
	risks := repository.NewRiskRepository(log)

	aggregator := service.NewAggregator(snapshots, auditLog, versions, log)
	metricsEngine := service.NewMetricsEngine(metricsRepo, auditLog, versions, log)
	scorer, err := service.NewRiskScorer(&cfg.RiskModel, risks, auditLog, versions, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build risk scorer: %w", err)
	}

	cache, err := api.NewArtifactCache(&cfg.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build artifact cache: %w", err)
	}

	server := api.NewServer(cfg, api.Dependencies{
		Aggregator:  aggregator,
		Metrics:     metricsEngine,
		Scorer:      scorer,
		Snapshots:   snapshots,
		MetricsRepo: metricsRepo,
		Risks:       risks,
		Audit:       auditLog,
		Versions:    versions,
		Cache:       cache,
		Log:         log,
	})

	return &Application{
		Config:    cfg,
		Log:       log,
		Server:    server,
		Cache:     cache,
		forwarder: forwarder,
	}, nil
}

// Close releases application resources.
func (a *Application) Close() error {
	if a.forwarder != nil {
		_ = a.forwarder.Close()
	}
	return a.Cache.Close()
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(os.Stdout)
	}

	return log
}
