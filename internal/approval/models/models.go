package models

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestType is the closed set of sensitive changes that need corroboration.
type RequestType string

const (
	RequestTypeEmailChange         RequestType = "email_change"
	RequestTypePasswordChange      RequestType = "password_change"
	RequestTypePersonalInfoChange  RequestType = "personal_info_change"
	RequestTypeIDVerification      RequestType = "id_verification"
	RequestTypeAccountStatusChange RequestType = "account_status_change"
	RequestTypeRoleChange          RequestType = "role_change"
	RequestTypeMaintenanceMode     RequestType = "maintenance_mode"
	RequestTypeOther               RequestType = "other"
)

var auditFields = map[RequestType]string{
	RequestTypeEmailChange:         "email",
	RequestTypePasswordChange:      "password",
	RequestTypePersonalInfoChange:  "personalInfo",
	RequestTypeIDVerification:      "idVerification",
	RequestTypeAccountStatusChange: "isActive",
	RequestTypeRoleChange:          "role",
	RequestTypeMaintenanceMode:     "maintenance",
	RequestTypeOther:               "other",
}

func (t RequestType) IsValid() bool {
	_, ok := auditFields[t]
	return ok
}

// AuditField is the fieldChanged value recorded when a request of this type
// is finalized.
func (t RequestType) AuditField() string {
	return auditFields[t]
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

func (s Status) IsFinal() bool {
	return s == StatusApproved || s == StatusRejected
}

// MinRequiredApprovals is the smallest quorum a request can carry. Two
// distinct approvers are needed even when one of them filed the request.
const MinRequiredApprovals = 2

// Staged values kept in Request.Metadata until the request is finalized.
const (
	MetadataNewPasswordHash = "newPasswordHash"
)

// Vote is one admin's decision on a request.
type Vote struct {
	AdminID   string    `json:"adminId"`
	Approved  bool      `json:"approved"`
	Comment   string    `json:"comment"`
	Timestamp time.Time `json:"timestamp"`
}

// Request is the approval aggregate. Status is only ever derived from
// Approvals through Evaluate.
type Request struct {
	ID                uuid.UUID      `json:"id"`
	ApprovalID        string         `json:"approvalId"`
	RequestType       RequestType    `json:"requestType"`
	UserID            string         `json:"userId"`
	RequestedBy       string         `json:"requestedBy"`
	RequestDetails    map[string]any `json:"requestDetails"`
	Status            Status         `json:"status"`
	Approvals         []Vote         `json:"approvals"`
	RequiredApprovals int            `json:"requiredApprovals"`
	Metadata          map[string]any `json:"metadata"`
	MetadataSanitized bool           `json:"metadataSanitized"`
	AppliedAt         *time.Time     `json:"appliedAt,omitempty"`
	ApplyError        string         `json:"applyError,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	Version           int64          `json:"version"`
}

func (r *Request) HasVoted(adminID string) bool {
	for _, v := range r.Approvals {
		if v.AdminID == adminID {
			return true
		}
	}
	return false
}

// Approvers returns the ids of admins who approved, in vote order.
func (r *Request) Approvers() []string {
	return r.voters(true)
}

// Rejecters returns the ids of admins who rejected, in vote order.
func (r *Request) Rejecters() []string {
	return r.voters(false)
}

func (r *Request) voters(approved bool) []string {
	ids := []string{}
	for _, v := range r.Approvals {
		if v.Approved == approved {
			ids = append(ids, v.AdminID)
		}
	}
	return ids
}

// Evaluate derives the status from the vote list. Approval is checked first:
// a quorum of approvals wins even if rejections also reach the threshold.
func (r *Request) Evaluate(rejectThreshold int) Status {
	if rejectThreshold < 1 {
		rejectThreshold = 1
	}
	if len(r.Approvers()) >= r.RequiredApprovals {
		return StatusApproved
	}
	if len(r.Rejecters()) >= rejectThreshold {
		return StatusRejected
	}
	return StatusPending
}

// PublicMetadata is Metadata without staged secrets.
func (r *Request) PublicMetadata() map[string]any {
	out := maps.Clone(r.Metadata)
	if out == nil {
		return map[string]any{}
	}
	delete(out, MetadataNewPasswordHash)
	return out
}

// Sanitize removes staged secrets. Reports whether anything changed.
func (r *Request) Sanitize() bool {
	if r.MetadataSanitized {
		return false
	}
	delete(r.Metadata, MetadataNewPasswordHash)
	r.MetadataSanitized = true
	return true
}

// Filter selects requests for ListRequests. Zero values match everything.
type Filter struct {
	Status      Status
	RequestType RequestType
	UserID      string
	RequestedBy string
	Page        int
	Limit       int
}

// Matches reports whether r satisfies the non-paging criteria.
func (f Filter) Matches(r *Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.RequestType != "" && r.RequestType != f.RequestType {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.RequestedBy != "" && r.RequestedBy != f.RequestedBy {
		return false
	}
	return true
}

// Offset returns the number of items to skip for the 1-based page.
func (f Filter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Page is one page of ListRequests results.
type Page struct {
	Items []*Request `json:"items"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
}

// base36^9, the keyspace of the random ApprovalID suffix
const suffixSpace = 101559956668416

// NewApprovalID returns APPROVAL-<unix millis>-<9 uppercase base36 chars>.
func NewApprovalID(now time.Time) string {
	suffix := strconv.FormatUint(rand.Uint64N(suffixSpace), 36)
	suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	return fmt.Sprintf("APPROVAL-%d-%s", now.UnixMilli(), strings.ToUpper(suffix))
}

// Machine-readable reasons carried on workflow errors.
const (
	ReasonInvalidRequestType = "invalid_request_type"
	ReasonEmptyPayload       = "empty_payload"
	ReasonSelfTargeting      = "self_targeting_not_allowed"
	ReasonAlreadyFinalized   = "already_finalized"
	ReasonSelfApproval       = "self_approval_forbidden"
	ReasonDuplicateVote      = "duplicate_vote"
	ReasonVersionConflict    = "version_conflict"
	ReasonInvalidDetails     = "invalid_details"
)
