// Package notify delivers user-facing notifications without blocking the
// workflow that produced them.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names a notification template.
type Kind string

const (
	KindApprovalRequestCreated   Kind = "approval_request_created"
	KindApprovalRequestApproved  Kind = "approval_request_approved"
	KindApprovalRequestRejected  Kind = "approval_request_rejected"
	KindApplicationSubmitted     Kind = "application_submitted"
	KindApplicationReviewStarted Kind = "application_review_started"
	KindApplicationApproved      Kind = "application_approved"
	KindApplicationRejected      Kind = "application_rejected"
	KindApplicationNeedsRevision Kind = "application_needs_revision"
	KindDecisionEmail            Kind = "decision_email"
)

// Notification is one message addressed to a recipient. Recipient is a user
// id, or an email address for KindDecisionEmail.
type Notification struct {
	ID        uuid.UUID      `json:"id"`
	Recipient string         `json:"recipient"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Sink accepts notifications. Notify never blocks on delivery and never
// fails the caller.
type Sink interface {
	Notify(ctx context.Context, recipient string, kind Kind, payload map[string]any)
}

// Transport performs one delivery attempt.
type Transport interface {
	Deliver(ctx context.Context, n Notification) error
}
