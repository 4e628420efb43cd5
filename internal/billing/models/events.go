package models

import (
	"encoding/json"
	"time"

	dErrors "framewise/pkg/domain-errors"
)

// Provider event types the applier acts on.
const (
	TypeCheckoutCompleted    = "checkout.session.completed"
	TypeSubscriptionCreated  = "customer.subscription.created"
	TypeSubscriptionUpdated  = "customer.subscription.updated"
	TypeSubscriptionDeleted  = "customer.subscription.deleted"
	TypeInvoicePaymentFailed = "invoice.payment_failed"
	TypeInvoicePaid          = "invoice.paid"
)

// Event is the typed form of an envelope. The set of implementations is
// closed; switch over it with a type switch.
type Event interface {
	EventType() string
	sealed()
}

// CheckoutCompleted links a customer and subscription to a tenant.
type CheckoutCompleted struct {
	SessionID         string
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	Metadata          map[string]string
}

// SubscriptionChanged covers both creation and update.
type SubscriptionChanged struct {
	Type             string
	SubscriptionID   string
	CustomerID       string
	Status           SubscriptionStatus
	PlanKey          PlanKey
	CurrentPeriodEnd *time.Time
	Metadata         map[string]string
}

type SubscriptionDeleted struct {
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}

type InvoicePaymentFailed struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}

type InvoicePaid struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}

// Unhandled is any event type without a business mutation. It is still
// recorded and marked processed so the provider stops redelivering it.
type Unhandled struct {
	Type string
}

func (CheckoutCompleted) EventType() string     { return TypeCheckoutCompleted }
func (e SubscriptionChanged) EventType() string { return e.Type }
func (SubscriptionDeleted) EventType() string   { return TypeSubscriptionDeleted }
func (InvoicePaymentFailed) EventType() string  { return TypeInvoicePaymentFailed }
func (InvoicePaid) EventType() string           { return TypeInvoicePaid }
func (e Unhandled) EventType() string           { return e.Type }

func (CheckoutCompleted) sealed()    {}
func (SubscriptionChanged) sealed()  {}
func (SubscriptionDeleted) sealed()  {}
func (InvoicePaymentFailed) sealed() {}
func (InvoicePaid) sealed()          {}
func (Unhandled) sealed()            {}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Customer          ref               `json:"customer"`
	Subscription      ref               `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Customer         ref               `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				LookupKey string            `json:"lookup_key"`
				Metadata  map[string]string `json:"metadata"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceObject struct {
	ID           string            `json:"id"`
	Customer     ref               `json:"customer"`
	Subscription ref               `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription ref               `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// ParseEvent decodes env's payload into its typed event. Types without a
// mutation become Unhandled without inspecting the payload.
func ParseEvent(env *Envelope) (Event, error) {
	switch env.Type {
	case TypeCheckoutCompleted:
		var obj checkoutSessionObject
		if err := decodeObject(env, &obj); err != nil {
			return nil, err
		}
		return CheckoutCompleted{
			SessionID:         obj.ID,
			CustomerID:        string(obj.Customer),
			SubscriptionID:    string(obj.Subscription),
			ClientReferenceID: obj.ClientReferenceID,
			Metadata:          obj.Metadata,
		}, nil

	case TypeSubscriptionCreated, TypeSubscriptionUpdated:
		var obj subscriptionObject
		if err := decodeObject(env, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, dErrors.New(dErrors.CodeInvalidEnvelope, "subscription id is required")
		}
		return SubscriptionChanged{
			Type:             env.Type,
			SubscriptionID:   obj.ID,
			CustomerID:       string(obj.Customer),
			Status:           SubscriptionStatus(obj.Status),
			PlanKey:          obj.planKey(),
			CurrentPeriodEnd: obj.periodEnd(),
			Metadata:         obj.Metadata,
		}, nil

	case TypeSubscriptionDeleted:
		var obj subscriptionObject
		if err := decodeObject(env, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, dErrors.New(dErrors.CodeInvalidEnvelope, "subscription id is required")
		}
		return SubscriptionDeleted{
			SubscriptionID: obj.ID,
			CustomerID:     string(obj.Customer),
			Metadata:       obj.Metadata,
		}, nil

	case TypeInvoicePaymentFailed, TypeInvoicePaid:
		var obj invoiceObject
		if err := decodeObject(env, &obj); err != nil {
			return nil, err
		}
		subID, meta := obj.subscription()
		if env.Type == TypeInvoicePaid {
			return InvoicePaid{InvoiceID: obj.ID, SubscriptionID: subID, CustomerID: string(obj.Customer), Metadata: meta}, nil
		}
		return InvoicePaymentFailed{InvoiceID: obj.ID, SubscriptionID: subID, CustomerID: string(obj.Customer), Metadata: meta}, nil

	default:
		return Unhandled{Type: env.Type}, nil
	}
}

func decodeObject(env *Envelope, dst any) error {
	if len(env.Data.Object) == 0 {
		return dErrors.New(dErrors.CodeInvalidEnvelope, "event data.object is required")
	}
	if err := json.Unmarshal(env.Data.Object, dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidEnvelope, "event data.object does not match "+env.Type)
	}
	return nil
}

// planKey prefers the price lookup key, then the subscription's plan
// metadata, and falls back to the free plan.
func (o subscriptionObject) planKey() PlanKey {
	for _, item := range o.Items.Data {
		if p, ok := ParsePlanKey(item.Price.LookupKey); ok {
			return p
		}
	}
	if p, ok := ParsePlanKey(o.Metadata["plan"]); ok {
		return p
	}
	return PlanFree
}

// periodEnd reads the subscription-level field, or the first item's on
// payloads that moved it to items.
func (o subscriptionObject) periodEnd() *time.Time {
	end := o.CurrentPeriodEnd
	if end == 0 && len(o.Items.Data) > 0 {
		end = o.Items.Data[0].CurrentPeriodEnd
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

func (o invoiceObject) subscription() (string, map[string]string) {
	if o.Subscription != "" {
		return string(o.Subscription), o.Metadata
	}
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil {
		d := o.Parent.SubscriptionDetails
		meta := o.Metadata
		if len(meta) == 0 {
			meta = d.Metadata
		}
		return string(d.Subscription), meta
	}
	return "", o.Metadata
}
