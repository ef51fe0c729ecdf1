package testutil

import (
	"errors"

	"bizportal/pkg/platform/middleware/auth"
)

// Tokens is a bearer-token validator for handler tests, keyed by the raw token.
type Tokens map[string]auth.Claims

func (t Tokens) ValidateToken(token string) (*auth.Claims, error) {
	claims, ok := t[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &claims, nil
}

// PortalTokens covers one caller per portal role plus extra admins for
// two-person flows.
func PortalTokens() Tokens {
	return Tokens{
		"admin-token":   {Subject: "admin-1", Role: "admin"},
		"admin2-token":  {Subject: "admin-2", Role: "admin"},
		"admin3-token":  {Subject: "admin-3", Role: "admin"},
		"officer-token": {Subject: "officer-1", Role: "lgu_officer"},
		"manager-token": {Subject: "manager-1", Role: "lgu_manager"},
		"owner-token":   {Subject: "owner-1", Role: "business_owner"},
	}
}
