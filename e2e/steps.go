package e2e

import (
	"github.com/cucumber/godog"

	"bizportal/e2e/steps/approval"
	"bizportal/e2e/steps/common"
	"bizportal/e2e/steps/forms"
	"bizportal/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	approval.RegisterSteps(ctx, tc)
	forms.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
