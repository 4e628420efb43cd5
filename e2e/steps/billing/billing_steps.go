package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"framewise/internal/billing/signature"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POSTRaw(path string, body []byte, headers map[string]string) error
	GET(path string) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Now() time.Time
	WebhookSecret() string
	SetSubscriptionStoreFailing(failing bool)
	AuditActions(subject string) ([]string, error)
}

// RegisterSteps registers billing webhook step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &billingSteps{tc: tc, deliveries: map[string][]byte{}}

	// Provider deliveries
	ctx.Step(`^the provider delivers checkout "([^"]*)" as event "([^"]*)" for tenant "([^"]*)"$`, steps.deliverCheckout)
	ctx.Step(`^the provider delivers checkout "([^"]*)" as event "([^"]*)" for tenant "([^"]*)" signed (\d+) minutes ago$`, steps.deliverCheckoutSignedAgo)
	ctx.Step(`^the provider redelivers event "([^"]*)"$`, steps.redeliver)
	ctx.Step(`^an unsigned checkout "([^"]*)" arrives as event "([^"]*)" for tenant "([^"]*)"$`, steps.deliverUnsigned)
	ctx.Step(`^event "([^"]*)" is redelivered with a tampered body$`, steps.redeliverTampered)

	// Store faults
	ctx.Step(`^the subscription store is failing$`, steps.subscriptionStoreFailing)
	ctx.Step(`^the subscription store has recovered$`, steps.subscriptionStoreRecovered)

	// Assertions
	ctx.Step(`^the delivery should be acknowledged$`, steps.acknowledged)
	ctx.Step(`^the delivery should be acknowledged as a duplicate$`, steps.acknowledgedAsDuplicate)
	ctx.Step(`^event "([^"]*)" should be "([^"]*)"$`, steps.eventStatusShouldBe)
	ctx.Step(`^event "([^"]*)" should not have been seen$`, steps.eventNotSeen)
	ctx.Step(`^tenant "([^"]*)" should have (\d+) "([^"]*)" subscriptions?$`, steps.tenantSubscriptions)
	ctx.Step(`^the audit trail for event "([^"]*)" should hold "([^"]*)"$`, steps.auditTrailShouldRead)
}

type billingSteps struct {
	tc         TestContext
	deliveries map[string][]byte
}

type webhookAck struct {
	Received   bool `json:"received"`
	Idempotent bool `json:"idempotent"`
}

type eventRecord struct {
	Status string `json:"status"`
}

type subscriptionList struct {
	Subscriptions []struct {
		SubscriptionID string `json:"subscription_id"`
		Status         string `json:"status"`
	} `json:"subscriptions"`
}

func checkoutEvent(eventID, sessionID, tenantID string, created time.Time) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"id":       eventID,
		"type":     "checkout.session.completed",
		"created":  created.Unix(),
		"livemode": false,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":           sessionID,
				"customer":     "cus_" + tenantID,
				"subscription": "sub_" + tenantID,
				"metadata":     map[string]string{"organizationId": tenantID},
			},
		},
	})
}

func (s *billingSteps) deliverCheckout(ctx context.Context, sessionID, eventID, tenantID string) error {
	return s.deliverCheckoutSignedAgo(ctx, sessionID, eventID, tenantID, 0)
}

func (s *billingSteps) deliverCheckoutSignedAgo(ctx context.Context, sessionID, eventID, tenantID string, minutes int) error {
	signedAt := s.tc.Now().Add(-time.Duration(minutes) * time.Minute)
	body, err := checkoutEvent(eventID, sessionID, tenantID, signedAt)
	if err != nil {
		return err
	}
	s.deliveries[eventID] = body
	return s.send(body, signature.Sign(body, s.tc.WebhookSecret(), signedAt))
}

// redeliver sends the stored body again, freshly signed as the provider
// does on every attempt.
func (s *billingSteps) redeliver(ctx context.Context, eventID string) error {
	body, ok := s.deliveries[eventID]
	if !ok {
		return fmt.Errorf("event %s was never delivered", eventID)
	}
	return s.send(body, signature.Sign(body, s.tc.WebhookSecret(), s.tc.Now()))
}

func (s *billingSteps) deliverUnsigned(ctx context.Context, sessionID, eventID, tenantID string) error {
	body, err := checkoutEvent(eventID, sessionID, tenantID, s.tc.Now())
	if err != nil {
		return err
	}
	return s.send(body, "")
}

func (s *billingSteps) redeliverTampered(ctx context.Context, eventID string) error {
	body, ok := s.deliveries[eventID]
	if !ok {
		return fmt.Errorf("event %s was never delivered", eventID)
	}
	header := signature.Sign(body, s.tc.WebhookSecret(), s.tc.Now())
	tampered := append([]byte(nil), body...)
	tampered = append(tampered, ' ')
	return s.send(tampered, header)
}

func (s *billingSteps) send(body []byte, sig string) error {
	headers := map[string]string{"Content-Type": "application/json"}
	if sig != "" {
		headers[signature.HeaderName] = sig
	}
	return s.tc.POSTRaw("/webhooks/billing", body, headers)
}

func (s *billingSteps) subscriptionStoreFailing(ctx context.Context) error {
	s.tc.SetSubscriptionStoreFailing(true)
	return nil
}

func (s *billingSteps) subscriptionStoreRecovered(ctx context.Context) error {
	s.tc.SetSubscriptionStoreFailing(false)
	return nil
}

func (s *billingSteps) acknowledged(ctx context.Context) error {
	ack, err := s.ack()
	if err != nil {
		return err
	}
	if ack.Idempotent {
		return fmt.Errorf("expected a first-time acknowledgement, got a duplicate")
	}
	return nil
}

func (s *billingSteps) acknowledgedAsDuplicate(ctx context.Context) error {
	ack, err := s.ack()
	if err != nil {
		return err
	}
	if !ack.Idempotent {
		return fmt.Errorf("expected the delivery to be acknowledged as a duplicate")
	}
	return nil
}

func (s *billingSteps) ack() (webhookAck, error) {
	var ack webhookAck
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return ack, fmt.Errorf("expected status 200, got %d: %s", status, string(s.tc.GetLastResponseBody()))
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &ack); err != nil {
		return ack, fmt.Errorf("decode acknowledgement: %w", err)
	}
	if !ack.Received {
		return ack, fmt.Errorf("acknowledgement does not mark the event received")
	}
	return ack, nil
}

func (s *billingSteps) eventStatusShouldBe(ctx context.Context, eventID, status string) error {
	if err := s.tc.GET("/v1/billing/events/" + eventID); err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != 200 {
		return fmt.Errorf("event %s lookup returned %d: %s", eventID, got, string(s.tc.GetLastResponseBody()))
	}
	var rec eventRecord
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &rec); err != nil {
		return fmt.Errorf("decode event record: %w", err)
	}
	if rec.Status != status {
		return fmt.Errorf("expected event %s to be %q, got %q", eventID, status, rec.Status)
	}
	return nil
}

func (s *billingSteps) eventNotSeen(ctx context.Context, eventID string) error {
	if err := s.tc.GET("/v1/billing/events/" + eventID); err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != 404 {
		return fmt.Errorf("expected event %s to be unknown, lookup returned %d", eventID, got)
	}
	return nil
}

func (s *billingSteps) tenantSubscriptions(ctx context.Context, tenantID string, count int, status string) error {
	if err := s.tc.GET("/v1/billing/tenants/" + tenantID + "/subscriptions"); err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != 200 {
		return fmt.Errorf("subscription listing returned %d: %s", got, string(s.tc.GetLastResponseBody()))
	}
	var list subscriptionList
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &list); err != nil {
		return fmt.Errorf("decode subscriptions: %w", err)
	}
	if len(list.Subscriptions) != count {
		return fmt.Errorf("expected %d subscriptions for %s, got %d", count, tenantID, len(list.Subscriptions))
	}
	for _, sub := range list.Subscriptions {
		if sub.Status != status {
			return fmt.Errorf("subscription %s is %q, expected %q", sub.SubscriptionID, sub.Status, status)
		}
	}
	return nil
}

// auditTrailShouldRead compares the recorded actions against a comma
// separated list, ignoring order.
func (s *billingSteps) auditTrailShouldRead(ctx context.Context, eventID, expected string) error {
	actions, err := s.tc.AuditActions(eventID)
	if err != nil {
		return err
	}
	want := strings.Split(expected, ",")
	slices.Sort(want)
	slices.Sort(actions)
	if !slices.Equal(actions, want) {
		return fmt.Errorf("expected audit trail %v for %s, got %v", want, eventID, actions)
	}
	return nil
}
