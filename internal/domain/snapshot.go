package domain

import "time"

// RefillSnapshot is the aggregated point-in-time state of one (member, refill)
// pair, folded from its canonical event history. A snapshot is a pure function
// of its contributing event set: re-aggregating the same events reproduces
// identical derived fields, differing only in snapshot ID and timestamp.
type RefillSnapshot struct {
	SnapshotID string `json:"snapshot_id"`
	MemberID   string `json:"member_id"`
	RefillID   string `json:"refill_id"`
	BundleID   string `json:"bundle_id,omitempty"`

	SnapshotTimestamp time.Time `json:"snapshot_timestamp"`

	CurrentStage      SnapshotStage     `json:"current_stage"`
	PAState           PAState           `json:"pa_state"`
	BundleTimingState BundleTimingState `json:"bundle_timing_state"`

	// Latest known refill attributes.
	DrugNDC    string  `json:"drug_ndc,omitempty"`
	DrugName   string  `json:"drug_name,omitempty"`
	DaysSupply int     `json:"days_supply,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`

	RefillDueDate *time.Time `json:"refill_due_date,omitempty"`
	ShipByDate    *time.Time `json:"ship_by_date,omitempty"`
	LastFillDate  *time.Time `json:"last_fill_date,omitempty"`

	RefillStatus RefillStatus `json:"refill_status,omitempty"`
	SourceStatus string       `json:"source_status,omitempty"`

	// Bundle context (last non-null value wins, from any event variant).
	BundleMemberCount    int      `json:"bundle_member_count,omitempty"`
	BundleRefillCount    int      `json:"bundle_refill_count,omitempty"`
	BundleSequence       int      `json:"bundle_sequence,omitempty"`
	BundleAlignmentScore *float64 `json:"bundle_alignment_score,omitempty"`

	// Event aggregation counters.
	TotalEvents            int       `json:"total_events"`
	RefillEvents           int       `json:"refill_events"`
	PAEvents               int       `json:"pa_events"`
	OOSEvents              int       `json:"oos_events"`
	BundleEvents           int       `json:"bundle_events"`
	EarliestEventTimestamp time.Time `json:"earliest_event_timestamp"`
	LatestEventTimestamp   time.Time `json:"latest_event_timestamp"`

	// Milestone timestamps, recorded on first occurrence of the defining event.
	InitiatedTimestamp   *time.Time `json:"initiated_timestamp,omitempty"`
	EligibleTimestamp    *time.Time `json:"eligible_timestamp,omitempty"`
	PASubmittedTimestamp *time.Time `json:"pa_submitted_timestamp,omitempty"`
	PAResolvedTimestamp  *time.Time `json:"pa_resolved_timestamp,omitempty"`
	BundledTimestamp     *time.Time `json:"bundled_timestamp,omitempty"`
	OOSDetectedTimestamp *time.Time `json:"oos_detected_timestamp,omitempty"`
	OOSResolvedTimestamp *time.Time `json:"oos_resolved_timestamp,omitempty"`
	ShippedTimestamp     *time.Time `json:"shipped_timestamp,omitempty"`
	CompletedTimestamp   *time.Time `json:"completed_timestamp,omitempty"`

	// PA detail (latest known).
	PAType           string     `json:"pa_type,omitempty"`
	LatestPAStatus   PAStatus   `json:"latest_pa_status,omitempty"`
	PAProcessingDays int        `json:"pa_processing_days,omitempty"`
	PAExpiryDate     *time.Time `json:"pa_expiry_date,omitempty"`

	// Derived timing metrics, computed at aggregation time.
	DaysUntilDue        *int `json:"days_until_due,omitempty"`
	DaysSinceLastFill   *int `json:"days_since_last_fill,omitempty"`
	DaysInCurrentStage  *int `json:"days_in_current_stage,omitempty"`
	TotalProcessingDays *int `json:"total_processing_days,omitempty"`

	// Ordered event lineage (sorted by event timestamp, input order on ties).
	EventIDs      []string `json:"event_ids"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// SnapshotQuery filters, sorts, and paginates snapshot retrieval. Sort fields
// are whitelisted; unknown fields fall back to the snapshot timestamp.
type SnapshotQuery struct {
	MemberID string `json:"member_id,omitempty"`
	RefillID string `json:"refill_id,omitempty"`
	BundleID string `json:"bundle_id,omitempty"`

	CurrentStage      SnapshotStage     `json:"current_stage,omitempty"`
	PAState           PAState           `json:"pa_state,omitempty"`
	BundleTimingState BundleTimingState `json:"bundle_timing_state,omitempty"`

	TimestampFrom *time.Time `json:"snapshot_timestamp_from,omitempty"`
	TimestampTo   *time.Time `json:"snapshot_timestamp_to,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
}

// Snapshot sort field whitelist.
const (
	SnapshotSortTimestamp      = "snapshot_timestamp"
	SnapshotSortLatestEvent    = "latest_event_timestamp"
	SnapshotSortDaysUntilDue   = "days_until_due"
	SnapshotSortProcessingDays = "total_processing_days"
)

// SnapshotList is the paginated response for snapshot queries.
type SnapshotList struct {
	Snapshots  []*RefillSnapshot `json:"snapshots"`
	TotalCount int               `json:"total_count"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	HasMore    bool              `json:"has_more"`
}
