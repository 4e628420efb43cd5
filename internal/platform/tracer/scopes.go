package tracer

// Scope is the instrumentation name a tracer registers with the global
// provider. Each scope owns the span, attribute and event names below it.
type Scope string

const (
	ScopeAdmission Scope = "framewise/admission"
	ScopeBilling   Scope = "framewise/billing"
)

// Emitted under ScopeAdmission.
const (
	SpanAdmissionCheck = "admission.check"

	AttrOperationClass = "admission.class"
	AttrAdmissionKey   = "admission.key_hash"
	AttrAllowed        = "admission.allowed"
	AttrRemaining      = "admission.remaining"
)

// Emitted under ScopeBilling.
const (
	SpanWebhookVerify = "billing.webhook.verify"
	SpanGateApply     = "billing.gate.apply"
	SpanGateDispatch  = "billing.gate.dispatch"

	AttrEventID        = "billing.event_id"
	AttrEventType      = "billing.event_type"
	AttrGateOutcome    = "billing.outcome"
	AttrSignatureValid = "billing.signature_valid"
	AttrTenantID       = "tenant.id"

	EventDuplicateSkipped = "billing.duplicate_skipped"
	EventTenantUnresolved = "billing.tenant_unresolved"
)

// AttrErrorCode is set by every scope on a span that ends with a domain error.
const AttrErrorCode = "framewise.error_code"
