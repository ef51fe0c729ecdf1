package models

import (
	"slices"
	"time"
)

// Account is the subset of a portal user that approved changes mutate.
// Role holds a roles.id.
type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	EmailVerified    bool      `json:"emailVerified"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	PhoneNumber      string    `json:"phoneNumber"`
	PasswordHash     string    `json:"-"`
	Role             string    `json:"role"`
	IsActive         bool      `json:"isActive"`
	IsVerified       bool      `json:"isVerified"`
	TokenVersion     int       `json:"tokenVersion"`
	AppliedApprovals []string  `json:"appliedApprovals"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (a *Account) HasApplied(approvalID string) bool {
	return slices.Contains(a.AppliedApprovals, approvalID)
}

func (a *Account) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// Role is a named permission set referenced by Account.Role.
type Role struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// MaintenanceWindow describes portal-wide maintenance mode.
type MaintenanceWindow struct {
	Active           bool       `json:"active"`
	Message          string     `json:"message"`
	ExpectedResumeAt *time.Time `json:"expectedResumeAt,omitempty"`
	ActivatedAt      time.Time  `json:"activatedAt"`
	RequestedBy      string     `json:"requestedBy"`
	ApprovedBy       []string   `json:"approvedBy"`
	ApprovalID       string     `json:"approvalId"`
}
