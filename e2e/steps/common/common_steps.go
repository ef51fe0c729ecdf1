package common

import (
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the part of the suite context the generic steps need.
type TestContext interface {
	SetActor(alias, role string)
	ClearActor()
	Request(method, path string, body any) error
	LastStatus() int
	LastBody() []byte
	LastHeader(key string) string
	ResponseField(path string) (string, error)
	Save(name, value string)
	Saved(name string) (string, error)
	Expand(s string) string
	Subject(alias string) string
}

// RegisterSteps registers actor selection, raw requests and response assertions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I am signed in as (admin|lgu_officer|lgu_manager|business_owner) "([^"]*)"$`, steps.signedInAs)
	ctx.Step(`^I am not signed in$`, steps.notSignedIn)

	ctx.Step(`^I (GET|POST|DELETE) "([^"]*)"$`, steps.request)
	ctx.Step(`^I (POST|PUT) "([^"]*)" with body:$`, steps.requestWithBody)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the error should be "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^the error reason should be "([^"]*)"$`, steps.reasonShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be the subject of "([^"]*)"$`, steps.fieldShouldBeSubject)
	ctx.Step(`^the response field "([^"]*)" should be saved "([^"]*)"$`, steps.fieldShouldBeSaved)
	ctx.Step(`^the response header "([^"]*)" should be set$`, steps.headerShouldBeSet)
	ctx.Step(`^I save the response field "([^"]*)" as "([^"]*)"$`, steps.saveField)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) signedInAs(role, alias string) error {
	s.tc.SetActor(alias, role)
	return nil
}

func (s *commonSteps) notSignedIn() error {
	s.tc.ClearActor()
	return nil
}

func (s *commonSteps) request(method, path string) error {
	return s.tc.Request(method, path, nil)
}

func (s *commonSteps) requestWithBody(method, path string, body *godog.DocString) error {
	return s.tc.Request(method, path, body.Content)
}

func (s *commonSteps) statusShouldBe(expected int) error {
	if got := s.tc.LastStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.LastBody())
	}
	return nil
}

func (s *commonSteps) errorShouldBe(expected string) error {
	return s.fieldShouldBe("error", expected)
}

func (s *commonSteps) reasonShouldBe(expected string) error {
	return s.fieldShouldBe("reason", expected)
}

func (s *commonSteps) fieldShouldBe(field, expected string) error {
	got, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	if want := s.tc.Expand(expected); got != want {
		return fmt.Errorf("expected %s to be %q, got %q", field, want, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeSubject(field, alias string) error {
	return s.fieldShouldBe(field, s.tc.Subject(alias))
}

func (s *commonSteps) fieldShouldBeSaved(field, name string) error {
	want, err := s.tc.Saved(name)
	if err != nil {
		return err
	}
	return s.fieldShouldBe(field, want)
}

func (s *commonSteps) headerShouldBeSet(header string) error {
	if s.tc.LastHeader(header) == "" {
		return fmt.Errorf("expected header %s on a %d response", header, s.tc.LastStatus())
	}
	return nil
}

func (s *commonSteps) saveField(field, name string) error {
	v, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Save(name, v)
	return nil
}
