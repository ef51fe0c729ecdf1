package models

import (
	"math"
	"time"
)

// Policy is one named sliding-window limit.
type Policy struct {
	Name    string
	Limit   int
	Window  time.Duration
	Code    string
	Message string
}

// ApprovalRequests caps how many approval requests one admin can open.
var ApprovalRequests = Policy{
	Name:    "admin_approval",
	Limit:   10,
	Window:  time.Hour,
	Code:    "admin_approval_rate_limited",
	Message: "Too many approval requests",
}

// Result is the outcome of one limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees a slot,
// rounded up. Zero once ResetAt has passed.
func (r *Result) RetryAfter(now time.Time) int {
	if !r.ResetAt.After(now) {
		return 0
	}
	return int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
}
