package domain

import (
	"fmt"
	"regexp"
	"time"
)

// EventKind discriminates the four canonical event variants. Exactly one of
// the variant payloads on CanonicalEvent is non-nil, matching the kind.
type EventKind string

const (
	KindRefill EventKind = "refill"
	KindPA     EventKind = "pa"
	KindOOS    EventKind = "oos"
	KindBundle EventKind = "bundle"
)

// EventType is the canonical lifecycle event type across all variants.
type EventType string

const (
	EventRefillInitiated EventType = "refill_initiated"
	EventRefillEligible  EventType = "refill_eligible"
	EventRefillBundled   EventType = "refill_bundled"
	EventRefillShipped   EventType = "refill_shipped"
	EventRefillCancelled EventType = "refill_cancelled"
	EventRefillCompleted EventType = "refill_completed"

	EventPASubmitted EventType = "pa_submitted"
	EventPAApproved  EventType = "pa_approved"
	EventPADenied    EventType = "pa_denied"
	EventPAExpired   EventType = "pa_expired"

	EventOOSDetected EventType = "oos_detected"
	EventOOSResolved EventType = "oos_resolved"

	EventBundleFormed  EventType = "bundle_formed"
	EventBundleSplit   EventType = "bundle_split"
	EventBundleShipped EventType = "bundle_shipped"
)

// Kind returns the variant an event type belongs to.
func (t EventType) Kind() EventKind {
	switch t {
	case EventPASubmitted, EventPAApproved, EventPADenied, EventPAExpired:
		return KindPA
	case EventOOSDetected, EventOOSResolved:
		return KindOOS
	case EventBundleFormed, EventBundleSplit, EventBundleShipped:
		return KindBundle
	default:
		return KindRefill
	}
}

func (t EventType) String() string { return string(t) }

// RefillStatus is the canonical refill status reported by source systems.
type RefillStatus string

const (
	RefillPending    RefillStatus = "pending"
	RefillEligible   RefillStatus = "eligible"
	RefillProcessing RefillStatus = "processing"
	RefillBundled    RefillStatus = "bundled"
	RefillShipped    RefillStatus = "shipped"
	RefillCompleted  RefillStatus = "completed"
	RefillCancelled  RefillStatus = "cancelled"
	RefillOnHold     RefillStatus = "on_hold"
)

// PAStatus is the canonical prior-authorization status on PA events.
type PAStatus string

const (
	PAStatusNotRequired PAStatus = "not_required"
	PAStatusSubmitted   PAStatus = "submitted"
	PAStatusApproved    PAStatus = "approved"
	PAStatusDenied      PAStatus = "denied"
	PAStatusExpired     PAStatus = "expired"
	PAStatusInReview    PAStatus = "in_review"
)

// RefillDetails carries the refill-variant payload.
type RefillDetails struct {
	DrugNDC    string  `json:"drug_ndc,omitempty"`
	DrugName   string  `json:"drug_name,omitempty"`
	DaysSupply int     `json:"days_supply,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`

	RefillDueDate *time.Time `json:"refill_due_date,omitempty"`
	ShipByDate    *time.Time `json:"ship_by_date,omitempty"`
	LastFillDate  *time.Time `json:"last_fill_date,omitempty"`

	RefillStatus RefillStatus `json:"refill_status,omitempty"`
	SourceStatus string       `json:"source_status,omitempty"`

	BundleAlignmentScore *float64 `json:"bundle_alignment_score,omitempty"`
}

// PADetails carries the prior-authorization payload.
type PADetails struct {
	Status         PAStatus   `json:"pa_status"`
	PAType         string     `json:"pa_type,omitempty"`
	SubmittedDate  *time.Time `json:"pa_submitted_date,omitempty"`
	ResponseDate   *time.Time `json:"pa_response_date,omitempty"`
	ExpiryDate     *time.Time `json:"pa_expiry_date,omitempty"`
	ProcessingDays int        `json:"pa_processing_days,omitempty"`
	ReasonCode     string     `json:"pa_reason_code,omitempty"`
}

// OOSDetails carries the out-of-stock payload.
type OOSDetails struct {
	Status                string     `json:"oos_status"`
	Reason                string     `json:"oos_reason,omitempty"`
	DetectedDate          *time.Time `json:"oos_detected_date,omitempty"`
	ResolvedDate          *time.Time `json:"oos_resolved_date,omitempty"`
	DurationDays          int        `json:"oos_duration_days,omitempty"`
	EstimatedResupplyDate *time.Time `json:"estimated_resupply_date,omitempty"`
	AlternativeAvailable  bool       `json:"alternative_available,omitempty"`
}

// BundleDetails carries the bundle-lifecycle payload.
type BundleDetails struct {
	BundleType   string     `json:"bundle_type,omitempty"`
	Strategy     string     `json:"bundle_strategy,omitempty"`
	FormedDate   *time.Time `json:"bundle_formed_date,omitempty"`
	ShipDate     *time.Time `json:"bundle_ship_date,omitempty"`
	TotalRefills int        `json:"total_refills"`
	TotalMembers int        `json:"total_members"`
}

// CanonicalEvent is the validated lifecycle event consumed by aggregation.
// It is a tagged union: Kind selects which of the Refill/PA/OOS/Bundle
// payloads is populated. Events are immutable once constructed.
type CanonicalEvent struct {
	EventID  string `json:"event_id"`
	MemberID string `json:"member_id"`
	RefillID string `json:"refill_id"`
	BundleID string `json:"bundle_id,omitempty"`

	Kind              EventKind `json:"kind"`
	EventType         EventType `json:"event_type"`
	EventTimestamp    time.Time `json:"event_timestamp"`
	ReceivedTimestamp time.Time `json:"received_timestamp"`

	// Bundle context, may ride on any event variant.
	BundleMemberCount int `json:"bundle_member_count,omitempty"`
	BundleRefillCount int `json:"bundle_refill_count,omitempty"`
	BundleSequence    int `json:"bundle_sequence,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`

	Refill *RefillDetails `json:"refill,omitempty"`
	PA     *PADetails     `json:"pa,omitempty"`
	OOS    *OOSDetails    `json:"oos,omitempty"`
	Bundle *BundleDetails `json:"bundle,omitempty"`
}

var (
	ssnPattern   = regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)
	phonePattern = regexp.MustCompile(`\d{3}[-.]\d{3}[-.]\d{4}`)
)

// ValidatePseudonymizedID rejects identifiers that are too short to be opaque
// or that look like raw PHI (email, SSN, phone). Empty is allowed for
// optional identifiers.
func ValidatePseudonymizedID(field, id string) error {
	if id == "" {
		return nil
	}
	if len(id) < 8 {
		return &ValidationError{Field: field, Message: "pseudonymized IDs must be at least 8 characters", Value: id}
	}
	for _, r := range id {
		if r == '@' {
			return &ValidationError{Field: field, Message: "identifier must not contain an email address", Value: id}
		}
	}
	if ssnPattern.MatchString(id) {
		return &ValidationError{Field: field, Message: "identifier must not contain an SSN-shaped substring", Value: id}
	}
	if phonePattern.MatchString(id) {
		return &ValidationError{Field: field, Message: "identifier must not contain a phone-shaped substring", Value: id}
	}
	return nil
}

// Validate checks the structural invariants of a canonical event: required
// pseudonymized identifiers, timezone-aware UTC timestamps, and a payload
// matching the declared kind.
func (e *CanonicalEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "event ID is required"}
	}
	if e.MemberID == "" {
		return &ValidationError{Field: "member_id", Message: "member ID is required"}
	}
	if e.RefillID == "" {
		return &ValidationError{Field: "refill_id", Message: "refill ID is required"}
	}
	for field, id := range map[string]string{
		"member_id": e.MemberID,
		"refill_id": e.RefillID,
		"bundle_id": e.BundleID,
	} {
		if err := ValidatePseudonymizedID(field, id); err != nil {
			return err
		}
	}

	if e.EventTimestamp.IsZero() {
		return &ValidationError{Field: "event_timestamp", Message: "event timestamp is required"}
	}
	if e.EventTimestamp.Location() != time.UTC {
		return &ValidationError{Field: "event_timestamp", Message: "timestamps must be UTC", Value: e.EventTimestamp}
	}
	if !e.ReceivedTimestamp.IsZero() && e.ReceivedTimestamp.Location() != time.UTC {
		return &ValidationError{Field: "received_timestamp", Message: "timestamps must be UTC", Value: e.ReceivedTimestamp}
	}

	if want := e.EventType.Kind(); e.Kind != want {
		return &ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("event type %s requires kind %s", e.EventType, want),
			Value:   e.Kind,
		}
	}

	switch e.Kind {
	case KindRefill:
		// Refill payload is optional; lifecycle-only events carry none.
	case KindPA:
		if e.PA == nil {
			return &ValidationError{Field: "pa", Message: "PA events require a PA payload"}
		}
	case KindOOS:
		if e.OOS == nil {
			return &ValidationError{Field: "oos", Message: "OOS events require an OOS payload"}
		}
	case KindBundle:
		if e.Bundle == nil {
			return &ValidationError{Field: "bundle", Message: "bundle events require a bundle payload"}
		}
	default:
		return &ValidationError{Field: "kind", Message: "unknown event kind", Value: e.Kind}
	}

	return nil
}

// NewCanonicalEvent constructs and validates an event, inferring the kind
// from the event type when the caller leaves it unset.
func NewCanonicalEvent(e CanonicalEvent) (*CanonicalEvent, error) {
	if e.Kind == "" {
		e.Kind = e.EventType.Kind()
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("canonical event validation: %w", err)
	}
	return &e, nil
}
