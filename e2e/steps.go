package e2e

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// RegisterSteps registers the steps shared by every feature
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background steps
	ctx.Step(`^framewise is running$`, tc.framewiseIsRunning)
	ctx.Step(`^I am an authenticated internal service$`, tc.authenticatedInternalService)
	ctx.Step(`^I am not authenticated$`, tc.notAuthenticated)

	// Time
	ctx.Step(`^(\d+) minutes? pass(?:es)?$`, tc.minutesPass)

	// Request steps
	ctx.Step(`^I GET "([^"]*)"$`, tc.getPath)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
}

func (tc *TestContext) framewiseIsRunning(ctx context.Context) error {
	if err := tc.GET("/health/live"); err != nil {
		return err
	}
	return tc.responseStatusShouldBe(ctx, 200)
}

func (tc *TestContext) authenticatedInternalService(ctx context.Context) error {
	return tc.Authenticate()
}

func (tc *TestContext) notAuthenticated(ctx context.Context) error {
	tc.ClearAuthentication()
	return nil
}

func (tc *TestContext) minutesPass(ctx context.Context, minutes int) error {
	tc.AdvanceClock(time.Duration(minutes) * time.Minute)
	return nil
}

func (tc *TestContext) getPath(ctx context.Context, path string) error {
	return tc.GET(path)
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	if got := tc.GetLastResponseStatus(); got != expectedStatus {
		return fmt.Errorf("expected status %d but got %d. Response: %s", expectedStatus, got, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseShouldContain(ctx context.Context, text string) error {
	if !strings.Contains(string(tc.LastResponseBody), text) {
		return fmt.Errorf("response does not contain %q. Response: %s", text, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, expected string) error {
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != expected {
		return fmt.Errorf("expected field %s to equal %q but got %q", field, expected, got)
	}
	return nil
}
