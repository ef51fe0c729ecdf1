package forms

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cucumber/godog"
)

type TestContext interface {
	RequestAs(alias, role, method, path string, body any) error
	LastStatus() int
	LastBody() []byte
	ResponseField(path string) (string, error)
	Save(name, value string)
	Saved(name string) (string, error)
	RunID() string
}

const (
	adminPath   = "/api/admin/form-definitions"
	formsAdmin  = "forms-admin"
	sampleItems = `{"sections":[{"category":"Identity","items":[{"label":"Valid ID","required":true}]}]}`
)

// RegisterSteps registers form lifecycle and resolution steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &formsSteps{tc: tc}

	ctx.Step(`^a published "([^"]*)" form for a fresh industry scope$`, steps.publishedForm)
	ctx.Step(`^the form group is deactivated for (\d+) hours? because "([^"]*)"$`, steps.deactivate)
	ctx.Step(`^the form group is reactivated$`, steps.reactivate)
	ctx.Step(`^I resolve the "([^"]*)" form for that industry scope$`, steps.resolve)
}

type formsSteps struct {
	tc TestContext
}

func (s *formsSteps) admin(method, path string, body any) error {
	if err := s.tc.RequestAs(formsAdmin, "admin", method, path, body); err != nil {
		return err
	}
	if s.tc.LastStatus() >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: status %d: %s", method, path, s.tc.LastStatus(), s.tc.LastBody())
	}
	return nil
}

func (s *formsSteps) publishedForm(formType string) error {
	scope := "e2e_" + s.tc.RunID()
	err := s.admin(http.MethodPost, adminPath+"/groups", map[string]string{
		"formType":      formType,
		"industryScope": scope,
		"name":          "E2E " + formType,
	})
	if err != nil {
		return err
	}
	groupID, err := s.tc.ResponseField("group.id")
	if err != nil {
		return err
	}
	definitionID, err := s.tc.ResponseField("versions.0.id")
	if err != nil {
		return err
	}

	if err := s.admin(http.MethodPut, adminPath+"/"+definitionID, sampleItems); err != nil {
		return err
	}
	if err := s.admin(http.MethodPost, adminPath+"/"+definitionID+"/publish", nil); err != nil {
		return err
	}
	s.tc.Save("scope", scope)
	s.tc.Save("group", groupID)
	s.tc.Save("definition", definitionID)
	return nil
}

func (s *formsSteps) deactivate(hours int, reason string) error {
	groupID, err := s.tc.Saved("group")
	if err != nil {
		return err
	}
	return s.admin(http.MethodPost, adminPath+"/groups/"+groupID+"/deactivate", map[string]any{
		"deactivatedUntil": time.Now().UTC().Add(time.Duration(hours) * time.Hour),
		"reason":           reason,
	})
}

func (s *formsSteps) reactivate() error {
	groupID, err := s.tc.Saved("group")
	if err != nil {
		return err
	}
	return s.admin(http.MethodPost, adminPath+"/groups/"+groupID+"/reactivate", nil)
}

// resolve is anonymous; the endpoint is public.
func (s *formsSteps) resolve(formType string) error {
	scope, err := s.tc.Saved("scope")
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("formType", formType)
	q.Set("businessType", scope)
	return s.tc.RequestAs("", "", http.MethodGet, "/api/forms/resolve?"+q.Encode(), nil)
}
