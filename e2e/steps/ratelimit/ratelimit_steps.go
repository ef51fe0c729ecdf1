package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

type TestContext interface {
	RequestAs(alias, role, method, path string, body any) error
	LastStatus() int
	LastBody() []byte
	Subject(alias string) string
}

// RegisterSteps registers the per-admin approval creation limit steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^admin "([^"]*)" files (\d+) approval requests$`, steps.fileRequests)
	ctx.Step(`^admin "([^"]*)" files one more approval request$`, steps.fileOne)
}

type ratelimitSteps struct {
	tc TestContext
}

func (s *ratelimitSteps) file(admin string, n int) error {
	return s.tc.RequestAs(admin, "admin", http.MethodPost, "/api/admin/approvals", map[string]any{
		"requestType":    "other",
		"userId":         s.tc.Subject("member"),
		"requestDetails": map[string]any{"note": fmt.Sprintf("rate limit attempt %d", n)},
	})
}

func (s *ratelimitSteps) fileRequests(admin string, count int) error {
	for i := range count {
		if err := s.file(admin, i); err != nil {
			return err
		}
		if s.tc.LastStatus() != http.StatusCreated {
			return fmt.Errorf("request %d of %d: status %d: %s", i+1, count, s.tc.LastStatus(), s.tc.LastBody())
		}
	}
	return nil
}

func (s *ratelimitSteps) fileOne(admin string) error {
	return s.file(admin, -1)
}
