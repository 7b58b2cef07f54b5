// Package versioning tracks which model versions produced which artifacts.
package versioning

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refill-risk-engine/internal/domain"
)

// Registry is an in-memory domain.VersionRegistry with secondary indices by
// artifact and artifact type.
type Registry struct {
	mu            sync.RWMutex
	records       map[string]*domain.VersionRecord
	artifactIndex map[string][]string
	typeIndex     map[domain.VersionedArtifactType][]string
}

// NewRegistry creates an empty version registry.
func NewRegistry() *Registry {
	return &Registry{
		records:       make(map[string]*domain.VersionRecord),
		artifactIndex: make(map[string][]string),
		typeIndex:     make(map[domain.VersionedArtifactType][]string),
	}
}

// Register records that the named model produced the given artifact.
func (r *Registry) Register(artifactID string, artifactType domain.VersionedArtifactType, modelName, modelVersion string, metadata map[string]any) *domain.VersionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	record := &domain.VersionRecord{
		RecordID:     fmt.Sprintf("ver_%x", id[:5]),
		ArtifactID:   artifactID,
		ArtifactType: artifactType,
		ModelName:    modelName,
		ModelVersion: modelVersion,
		CreatedAt:    time.Now().UTC(),
		Metadata:     metadata,
	}
	r.records[record.RecordID] = record
	r.artifactIndex[artifactID] = append(r.artifactIndex[artifactID], record.RecordID)
	r.typeIndex[artifactType] = append(r.typeIndex[artifactType], record.RecordID)
	return record
}

// Get returns a record by ID.
func (r *Registry) Get(recordID string) (*domain.VersionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[recordID]
	return record, ok
}

// ListByArtifact returns all records for one artifact, in registration order.
func (r *Registry) ListByArtifact(artifactID string) []*domain.VersionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.artifactIndex[artifactID])
}

// ListByType returns all records of one artifact type, in registration order.
func (r *Registry) ListByType(artifactType domain.VersionedArtifactType) []*domain.VersionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.typeIndex[artifactType])
}

func (r *Registry) collect(ids []string) []*domain.VersionRecord {
	out := make([]*domain.VersionRecord, 0, len(ids))
	for _, id := range ids {
		if record, ok := r.records[id]; ok {
			out = append(out, record)
		}
	}
	return out
}
