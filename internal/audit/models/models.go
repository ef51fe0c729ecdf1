package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType names a recorded decision event.
type EventType string

const (
	EventPermitReviewStarted     EventType = "permit_review_started"
	EventPermitReview            EventType = "permit_review"
	EventPermitSubmitted         EventType = "permit_application_submitted"
	EventApprovalRequested       EventType = "admin_approval_request"
	EventApprovalApproved        EventType = "admin_approval_approved"
	EventApprovalRejected        EventType = "admin_approval_rejected"
	EventFormDefinitionPublished EventType = "form_definition_published"
	EventFormGroupDeactivated    EventType = "form_group_deactivated"
	EventFormGroupReactivated    EventType = "form_group_reactivated"
	EventFormGroupRetired        EventType = "form_group_retired"
)

// RedactedMarker replaces secret values in OldValue/NewValue.
const RedactedMarker = "[REDACTED]"

// TimestampLayout is the canonical millisecond ISO-8601 form used in fingerprints.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Input is what a caller hands to the recorder.
type Input struct {
	UserID       string
	EventType    EventType
	FieldChanged string
	OldValue     string
	NewValue     string
	Role         string
	Metadata     map[string]any
	// Timestamp defaults to the request time when zero.
	Timestamp time.Time
}

// Entry is a persisted, fingerprinted audit record. Only the anchor fields
// change after creation.
type Entry struct {
	ID           uuid.UUID      `json:"id"`
	UserID       string         `json:"userId"`
	EventType    EventType      `json:"eventType"`
	FieldChanged string         `json:"fieldChanged"`
	OldValue     string         `json:"oldValue"`
	NewValue     string         `json:"newValue"`
	Role         string         `json:"role"`
	Metadata     map[string]any `json:"metadata"`
	Hash         string         `json:"hash"`
	Timestamp    time.Time      `json:"timestamp"`
	AnchorRef    string         `json:"anchorRef,omitempty"`
	AnchoredAt   *time.Time     `json:"anchoredAt,omitempty"`
}

// Input returns the canonical inputs stored on the entry.
func (e *Entry) Input() Input {
	return Input{
		UserID:       e.UserID,
		EventType:    e.EventType,
		FieldChanged: e.FieldChanged,
		OldValue:     e.OldValue,
		NewValue:     e.NewValue,
		Role:         e.Role,
		Metadata:     e.Metadata,
		Timestamp:    e.Timestamp,
	}
}

// IsAnchored reports whether an external anchor reference is attached.
func (e *Entry) IsAnchored() bool {
	return e.AnchorRef != ""
}

var secretFields = map[string]struct{}{
	"password":      {},
	"passwordhash":  {},
	"password_hash": {},
	"token":         {},
	"secret":        {},
	"mfasecret":     {},
}

// IsSecretField reports whether values of field must be redacted.
func IsSecretField(field string) bool {
	_, ok := secretFields[strings.ToLower(strings.TrimSpace(field))]
	return ok
}

// Verification is the result of recomputing one entry's fingerprint.
type Verification struct {
	EntryID      uuid.UUID `json:"entryId"`
	StoredHash   string    `json:"storedHash"`
	ComputedHash string    `json:"computedHash"`
	Valid        bool      `json:"valid"`
	Anchored     bool      `json:"anchored"`
	AnchorRef    string    `json:"anchorRef,omitempty"`
}

// VerificationStats summarizes a batch verification.
type VerificationStats struct {
	Total      int         `json:"total"`
	Valid      int         `json:"valid"`
	Tampered   int         `json:"tampered"`
	Anchored   int         `json:"anchored"`
	Unanchored int         `json:"unanchored"`
	TamperedID []uuid.UUID `json:"tamperedIds,omitempty"`
}
