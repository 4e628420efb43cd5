package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetLastResponseHeader(name string) string
	AuditActions(subject string) ([]string, error)
}

// RegisterSteps registers admission API step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &admissionSteps{tc: tc}

	ctx.Step(`^I check "([^"]*)" for identity "([^"]*)"$`, steps.check)
	ctx.Step(`^I check "([^"]*)" for identity "([^"]*)" (\d+) times$`, steps.checkNTimes)
	ctx.Step(`^I reset "([^"]*)" for identity "([^"]*)"$`, steps.reset)

	ctx.Step(`^the first (\d+) checks should be admitted$`, steps.firstNChecksAdmitted)
	ctx.Step(`^remaining should count down from (\d+) to (\d+)$`, steps.remainingCountsDown)
	ctx.Step(`^check (\d+) should be rejected with retry after (\d+) seconds$`, steps.nthCheckRejected)
	ctx.Step(`^the check should be admitted with (\d+) remaining$`, steps.checkAdmittedWithRemaining)
	ctx.Step(`^the check should be rejected with retry after (\d+) seconds$`, steps.checkRejected)
	ctx.Step(`^the admission key should be "([^"]*)"$`, steps.admissionKeyShouldBe)
	ctx.Step(`^the reset of "([^"]*)" should be audited$`, steps.resetAudited)
}

type checkResult struct {
	status     int
	retryAfter string
	body       checkBody
}

type checkBody struct {
	Key           string `json:"key"`
	Allowed       bool   `json:"allowed"`
	Limit         int    `json:"limit"`
	Remaining     int    `json:"remaining"`
	RetryAfterSec int    `json:"retryAfterSec"`
	Code          string `json:"code"`
}

type admissionSteps struct {
	tc      TestContext
	results []checkResult
}

func (s *admissionSteps) check(ctx context.Context, operation, identity string) error {
	res, err := s.send(operation, identity)
	if err != nil {
		return err
	}
	s.results = []checkResult{res}
	return nil
}

func (s *admissionSteps) checkNTimes(ctx context.Context, operation, identity string, n int) error {
	s.results = s.results[:0]
	for i := 0; i < n; i++ {
		res, err := s.send(operation, identity)
		if err != nil {
			return fmt.Errorf("check %d: %w", i+1, err)
		}
		s.results = append(s.results, res)
	}
	return nil
}

func (s *admissionSteps) send(operation, identity string) (checkResult, error) {
	err := s.tc.POST("/v1/admission/check", map[string]interface{}{
		"operation": operation,
		"identity":  identity,
	})
	if err != nil {
		return checkResult{}, err
	}
	res := checkResult{
		status:     s.tc.GetLastResponseStatus(),
		retryAfter: s.tc.GetLastResponseHeader("Retry-After"),
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &res.body); err != nil {
		return checkResult{}, fmt.Errorf("decode admission response: %w", err)
	}
	return res, nil
}

func (s *admissionSteps) reset(ctx context.Context, operation, identity string) error {
	return s.tc.POST("/v1/admission/reset", map[string]interface{}{
		"operation": operation,
		"identity":  identity,
	})
}

func (s *admissionSteps) firstNChecksAdmitted(ctx context.Context, n int) error {
	if len(s.results) < n {
		return fmt.Errorf("only %d checks were made", len(s.results))
	}
	for i, res := range s.results[:n] {
		if res.status != http.StatusOK || !res.body.Allowed {
			return fmt.Errorf("check %d: expected admission, got status %d", i+1, res.status)
		}
	}
	return nil
}

func (s *admissionSteps) remainingCountsDown(ctx context.Context, from, to int) error {
	want := from
	for i, res := range s.results {
		if !res.body.Allowed {
			break
		}
		if res.body.Remaining != want {
			return fmt.Errorf("check %d: expected remaining %d, got %d", i+1, want, res.body.Remaining)
		}
		want--
	}
	if want != to-1 {
		return fmt.Errorf("remaining stopped at %d, expected it to reach %d", want+1, to)
	}
	return nil
}

func (s *admissionSteps) nthCheckRejected(ctx context.Context, n, retryAfter int) error {
	if n < 1 || n > len(s.results) {
		return fmt.Errorf("check %d was not made", n)
	}
	return rejected(s.results[n-1], retryAfter)
}

func (s *admissionSteps) checkAdmittedWithRemaining(ctx context.Context, remaining int) error {
	res, err := s.last()
	if err != nil {
		return err
	}
	if res.status != http.StatusOK || !res.body.Allowed {
		return fmt.Errorf("expected admission, got status %d", res.status)
	}
	if res.body.Remaining != remaining {
		return fmt.Errorf("expected remaining %d, got %d", remaining, res.body.Remaining)
	}
	return nil
}

func (s *admissionSteps) checkRejected(ctx context.Context, retryAfter int) error {
	res, err := s.last()
	if err != nil {
		return err
	}
	return rejected(res, retryAfter)
}

func (s *admissionSteps) admissionKeyShouldBe(ctx context.Context, key string) error {
	res, err := s.last()
	if err != nil {
		return err
	}
	if res.body.Key != key {
		return fmt.Errorf("expected key %q, got %q", key, res.body.Key)
	}
	return nil
}

func (s *admissionSteps) resetAudited(ctx context.Context, operation string) error {
	actions, err := s.tc.AuditActions(operation)
	if err != nil {
		return err
	}
	if !slices.Contains(actions, "admission_window_reset") {
		return fmt.Errorf("no reset recorded for %s, got %v", operation, actions)
	}
	return nil
}

func (s *admissionSteps) last() (checkResult, error) {
	if len(s.results) == 0 {
		return checkResult{}, fmt.Errorf("no admission check was made")
	}
	return s.results[len(s.results)-1], nil
}

func rejected(res checkResult, retryAfter int) error {
	if res.status != http.StatusTooManyRequests {
		return fmt.Errorf("expected status 429, got %d", res.status)
	}
	if res.body.Code != "RATE_LIMITED" {
		return fmt.Errorf("expected code RATE_LIMITED, got %q", res.body.Code)
	}
	if res.body.RetryAfterSec != retryAfter {
		return fmt.Errorf("expected retryAfterSec %d, got %d", retryAfter, res.body.RetryAfterSec)
	}
	if res.retryAfter != strconv.Itoa(retryAfter) {
		return fmt.Errorf("expected Retry-After header %d, got %q", retryAfter, res.retryAfter)
	}
	return nil
}
