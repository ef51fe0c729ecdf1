// Package models holds the permit application review state machine.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a permit application status.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSubmitted     Status = "submitted"
	StatusUnderReview   Status = "under_review"
	StatusNeedsRevision Status = "needs_revision"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

// transitions lists the allowed targets per status. needs_revision may loop
// onto itself so officers can update revision comments.
var transitions = map[Status][]Status{
	StatusSubmitted:     {StatusUnderReview, StatusApproved, StatusRejected, StatusNeedsRevision},
	StatusUnderReview:   {StatusApproved, StatusRejected, StatusNeedsRevision},
	StatusNeedsRevision: {StatusSubmitted, StatusUnderReview, StatusApproved, StatusRejected, StatusNeedsRevision},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusNeedsRevision, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// CanSubmit reports whether an owner may submit an application in from. A
// draft is filed for the first time; anything else must be allowed to move
// back to submitted by the transition table.
func CanSubmit(from Status) bool {
	return from == StatusDraft || CanTransition(from, StatusSubmitted)
}

// AllowedFrom returns the permitted targets of from, for error messages.
func AllowedFrom(from Status) []Status {
	return slices.Clone(transitions[from])
}

// Decision is an officer's review verdict.
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionReject         Decision = "reject"
	DecisionRequestChanges Decision = "request_changes"
)

func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionRequestChanges
}

// Target maps a decision to the status it moves the application to.
func (d Decision) Target() Status {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionReject:
		return StatusRejected
	}
	return StatusNeedsRevision
}

// Application is one business permit application, embedded in a Profile.
// Its id is the business id.
type Application struct {
	BusinessID                 string     `json:"businessId"`
	BusinessName               string     `json:"businessName"`
	BusinessType               string     `json:"businessType,omitempty"`
	Jurisdiction               string     `json:"jurisdiction,omitempty"`
	ApplicationStatus          Status     `json:"applicationStatus"`
	ReviewedBy                 string     `json:"reviewedBy,omitempty"`
	ReviewedAt                 *time.Time `json:"reviewedAt,omitempty"`
	ReviewComments             string     `json:"reviewComments,omitempty"`
	RejectionReason            string     `json:"rejectionReason,omitempty"`
	ApplicationReferenceNumber string     `json:"applicationReferenceNumber,omitempty"`
	SubmittedAt                *time.Time `json:"submittedAt,omitempty"`
	CreatedAt                  time.Time  `json:"createdAt"`
	UpdatedAt                  time.Time  `json:"updatedAt"`
}

// Status returns the application status, treating an unset one as draft.
func (a *Application) Status() Status {
	if a.ApplicationStatus == "" {
		return StatusDraft
	}
	return a.ApplicationStatus
}

// ReferenceNumber returns the stored reference number or APP-<last 8 chars
// of the business id>.
func (a *Application) ReferenceNumber() string {
	if ref := strings.TrimSpace(a.ApplicationReferenceNumber); ref != "" {
		return ref
	}
	id := a.BusinessID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return "APP-" + id
}

// Profile is the owner's business profile aggregate. Version guards writes.
type Profile struct {
	ID         uuid.UUID     `json:"id"`
	UserID     string        `json:"userId"`
	OwnerEmail string        `json:"ownerEmail"`
	Businesses []Application `json:"businesses"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Version    int64         `json:"version"`
}

// Find returns the application with businessID, or nil.
func (p *Profile) Find(businessID string) *Application {
	for i := range p.Businesses {
		if p.Businesses[i].BusinessID == businessID {
			return &p.Businesses[i]
		}
	}
	return nil
}

// BusinessIDs lists the ids of the embedded applications.
func (p *Profile) BusinessIDs() []string {
	ids := make([]string, 0, len(p.Businesses))
	for _, b := range p.Businesses {
		ids = append(ids, b.BusinessID)
	}
	return ids
}

// View is an application together with its owner, as listed to officers.
type View struct {
	Application
	ApplicationID   string `json:"applicationId"`
	ReferenceNumber string `json:"referenceNumber"`
	UserID          string `json:"userId"`
	OwnerEmail      string `json:"ownerEmail,omitempty"`
}

// NewView builds the officer-facing view of app inside p.
func NewView(p *Profile, app *Application) *View {
	return &View{
		Application:     *app,
		ApplicationID:   app.BusinessID,
		ReferenceNumber: app.ReferenceNumber(),
		UserID:          p.UserID,
		OwnerEmail:      p.OwnerEmail,
	}
}

// Roles allowed to review permit applications.
const (
	RoleLGUOfficer = "lgu_officer"
	RoleStaff      = "staff"
	RoleLGUManager = "lgu_manager"
	RoleUnknown    = "unknown"

	RoleBusinessOwner = "business_owner"
)

var OfficerRoles = []string{RoleLGUOfficer, RoleStaff, RoleLGUManager}

// Reviewer identifies the officer acting on an application.
type Reviewer struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Role      string
}

func (r *Reviewer) Name() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// Filter selects applications for ListApplications.
type Filter struct {
	Status          Status
	ReferenceNumber string
	Page            int
	Limit           int
}

// Matches applies the non-paging criteria. Applications that were never
// given a status are not listed.
func (f Filter) Matches(app *Application) bool {
	if app.ApplicationStatus == "" {
		return false
	}
	if f.Status != "" && app.ApplicationStatus != f.Status {
		return false
	}
	if f.ReferenceNumber != "" && app.ReferenceNumber() != f.ReferenceNumber {
		return false
	}
	return true
}

func (f Filter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Page is one page of ListApplications results.
type Page struct {
	Items []*View `json:"items"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}

// Machine-readable reasons carried on review errors.
const (
	ReasonInvalidDecision         = "invalid_decision"
	ReasonCommentsRequired        = "comments_required"
	ReasonRejectionReasonRequired = "rejection_reason_required"
	ReasonAlreadyFinalized        = "already_finalized"
	ReasonInvalidTransition       = "invalid_transition"
	ReasonVersionConflict         = "version_conflict"
	ReasonNotOwner                = "not_application_owner"
)
