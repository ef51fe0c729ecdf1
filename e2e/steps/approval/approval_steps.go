package approval

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

type TestContext interface {
	RequestAs(alias, role, method, path string, body any) error
	LastStatus() int
	LastBody() []byte
	ResponseField(path string) (string, error)
	Save(name, value string)
	Saved(name string) (string, error)
	Subject(alias string) string
	Expand(s string) string
}

const approvalsPath = "/api/admin/approvals"

// RegisterSteps registers the two-person approval steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &approvalSteps{tc: tc}

	ctx.Step(`^admin "([^"]*)" files an? "([^"]*)" request for "([^"]*)" with details:$`, steps.fileRequest)
	ctx.Step(`^admin "([^"]*)" (approves|rejects) the request$`, steps.vote)
	ctx.Step(`^admin "([^"]*)" approves the request again$`, steps.voteAgain)
	ctx.Step(`^the request should be "([^"]*)" with (\d+) votes?$`, steps.requestShouldBe)
	ctx.Step(`^the request should be listed as pending$`, steps.listedAsPending)
}

type approvalSteps struct {
	tc TestContext
}

func (s *approvalSteps) fileRequest(admin, requestType, target string, details *godog.DocString) error {
	var payload map[string]any
	if err := json.Unmarshal([]byte(s.tc.Expand(details.Content)), &payload); err != nil {
		return fmt.Errorf("request details must be a JSON object: %w", err)
	}
	body := map[string]any{
		"requestType":    requestType,
		"userId":         s.tc.Subject(target),
		"requestDetails": payload,
	}
	if err := s.tc.RequestAs(admin, "admin", http.MethodPost, approvalsPath, body); err != nil {
		return err
	}
	if s.tc.LastStatus() != http.StatusCreated {
		return nil
	}
	id, err := s.tc.ResponseField("approvalId")
	if err != nil {
		return err
	}
	s.tc.Save("approval", id)
	s.tc.Save("target", s.tc.Subject(target))
	return nil
}

func (s *approvalSteps) vote(admin, verdict string) error {
	id, err := s.tc.Saved("approval")
	if err != nil {
		return err
	}
	body := map[string]any{"approved": verdict == "approves"}
	return s.tc.RequestAs(admin, "admin", http.MethodPost, approvalsPath+"/"+id+"/approve", body)
}

func (s *approvalSteps) voteAgain(admin string) error {
	return s.vote(admin, "approves")
}

func (s *approvalSteps) requestShouldBe(status string, votes int) error {
	id, err := s.tc.Saved("approval")
	if err != nil {
		return err
	}
	if err := s.tc.RequestAs("auditor", "admin", http.MethodGet, approvalsPath+"/"+id, nil); err != nil {
		return err
	}
	if s.tc.LastStatus() != http.StatusOK {
		return fmt.Errorf("get approval %s: status %d: %s", id, s.tc.LastStatus(), s.tc.LastBody())
	}
	var resp struct {
		Status    string           `json:"status"`
		Approvals []map[string]any `json:"approvals"`
	}
	if err := json.Unmarshal(s.tc.LastBody(), &resp); err != nil {
		return err
	}
	if resp.Status != status {
		return fmt.Errorf("expected request %s to be %s, got %s", id, status, resp.Status)
	}
	if len(resp.Approvals) != votes {
		return fmt.Errorf("expected %d votes on %s, got %d", votes, id, len(resp.Approvals))
	}
	return nil
}

func (s *approvalSteps) listedAsPending() error {
	id, err := s.tc.Saved("approval")
	if err != nil {
		return err
	}
	target, err := s.tc.Saved("target")
	if err != nil {
		return err
	}
	if err := s.tc.RequestAs("auditor", "admin", http.MethodGet, approvalsPath+"?status=pending&userId="+target, nil); err != nil {
		return err
	}
	var resp struct {
		Requests []struct {
			ApprovalID string `json:"approvalId"`
		} `json:"requests"`
	}
	if err := json.Unmarshal(s.tc.LastBody(), &resp); err != nil {
		return err
	}
	for _, r := range resp.Requests {
		if r.ApprovalID == id {
			return nil
		}
	}
	return fmt.Errorf("approval %s not in pending list: %s", id, s.tc.LastBody())
}
