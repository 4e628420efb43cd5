package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	platformMW "framewise/internal/platform/middleware"
)

// TestContext holds the state shared by the steps of one scenario
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	app          *app
	serviceToken string
}

// NewTestContext creates a context for a scenario. Start must be called
// before any request is made.
func NewTestContext() *TestContext {
	return &TestContext{}
}

// Start boots a fresh framewise instance for the scenario.
func (tc *TestContext) Start() error {
	a, err := startApp()
	if err != nil {
		return fmt.Errorf("start framewise: %w", err)
	}
	tc.app = a
	tc.BaseURL = a.server.URL
	tc.HTTPClient = a.server.Client()
	tc.HTTPClient.Timeout = 10 * time.Second
	tc.LastResponse = nil
	tc.LastResponseBody = nil
	tc.serviceToken = ""
	return nil
}

func (tc *TestContext) Close() {
	if tc.app != nil {
		tc.app.close()
		tc.app = nil
	}
}

// Authenticate mints a service token the way the CMS edge is issued one.
func (tc *TestContext) Authenticate() error {
	token, err := platformMW.IssueServiceToken(serviceSecret, serviceName, time.Hour, time.Now())
	if err != nil {
		return fmt.Errorf("issue service token: %w", err)
	}
	tc.serviceToken = token
	return nil
}

func (tc *TestContext) ClearAuthentication() {
	tc.serviceToken = ""
}

// POST sends body as JSON.
func (tc *TestContext) POST(path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return tc.POSTRaw(path, payload, map[string]string{"Content-Type": "application/json"})
}

// POSTRaw sends body exactly as given. Webhook signatures cover these bytes.
func (tc *TestContext) POSTRaw(path string, body []byte, headers map[string]string) error {
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	if tc.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.serviceToken)
	}
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a top-level field from the last JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

func (tc *TestContext) GetLastResponseHeader(name string) string {
	if tc.LastResponse == nil {
		return ""
	}
	return tc.LastResponse.Header.Get(name)
}

// AdvanceClock moves the time seen by admission windows and webhook
// signature checks.
func (tc *TestContext) AdvanceClock(d time.Duration) {
	tc.app.clock.Advance(d)
}

func (tc *TestContext) Now() time.Time {
	return tc.app.clock.Now()
}

func (tc *TestContext) WebhookSecret() string {
	return webhookSecret
}

// SetSubscriptionStoreFailing makes every subscription write fail until it
// is cleared.
func (tc *TestContext) SetSubscriptionStoreFailing(failing bool) {
	tc.app.subscriptions.failing.Store(failing)
}

// AuditActions lists the audit actions recorded for subject, newest first.
func (tc *TestContext) AuditActions(subject string) ([]string, error) {
	events, err := tc.app.audit.ListBySubject(context.Background(), subject)
	if err != nil {
		return nil, err
	}
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions, nil
}
