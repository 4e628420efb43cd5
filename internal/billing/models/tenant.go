package models

import "strings"

// tenantMetadataKeys are checked in order; the first non-empty value wins.
var tenantMetadataKeys = []string{"organizationId", "organization_id", "tenant_id"}

// ResolveTenant extracts the tenant an event belongs to from its metadata,
// falling back to the checkout client reference. It returns "" when the
// payload carries no attribution.
func ResolveTenant(ev Event) string {
	var (
		meta      map[string]string
		clientRef string
	)
	switch e := ev.(type) {
	case CheckoutCompleted:
		meta, clientRef = e.Metadata, e.ClientReferenceID
	case SubscriptionChanged:
		meta = e.Metadata
	case SubscriptionDeleted:
		meta = e.Metadata
	case InvoicePaymentFailed:
		meta = e.Metadata
	case InvoicePaid:
		meta = e.Metadata
	case Unhandled:
		return ""
	}

	for _, key := range tenantMetadataKeys {
		if v := strings.TrimSpace(meta[key]); v != "" {
			return v
		}
	}
	return strings.TrimSpace(clientRef)
}
