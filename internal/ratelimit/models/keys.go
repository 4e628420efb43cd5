package models

import (
	"strings"

	dErrors "framewise/pkg/domain-errors"
)

// OperationClass labels a category of mutating action, written as
// "{family}:{name}" (for example "write:invite").
type OperationClass string

const (
	ClassAuthRegister         OperationClass = "auth:register"
	ClassAuthLogin            OperationClass = "auth:login"
	ClassWriteInvite          OperationClass = "write:invite"
	ClassWriteEmbedCreate     OperationClass = "write:embed-create"
	ClassWriteTitleCreate     OperationClass = "write:title-create"
	ClassWriteVariantUpload   OperationClass = "write:variant-upload"
	ClassWriteVariantUpdate   OperationClass = "write:variant-update"
	ClassWriteBillingCheckout OperationClass = "write:billing-checkout"
	ClassWriteTeamUpdate      OperationClass = "write:team-update"
	ClassWebhookBilling       OperationClass = "webhook:billing"
	ClassAdmissionReset       OperationClass = "admin:admission-reset"
	ClassReadBillingTenant    OperationClass = "read:billing-tenant"
)

const maxClassLength = 64

// ParseOperationClass trims and validates a class label received from a caller.
func ParseOperationClass(s string) (OperationClass, error) {
	c := OperationClass(strings.TrimSpace(s))
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

func (c OperationClass) Validate() error {
	if c == "" {
		return dErrors.New(dErrors.CodeValidation, "operation class is required")
	}
	if len(c) > maxClassLength {
		return dErrors.New(dErrors.CodeValidation, "operation class must be 64 characters or less")
	}
	return nil
}

func (c OperationClass) String() string {
	return string(c)
}

// UnknownIdentity is substituted for an empty caller identity.
const UnknownIdentity = "unknown"

// absentSegment marks a class without a name part or an empty discriminator
// that precedes a set one. sanitizeKeySegment can never produce a lone "_",
// so it cannot be confused with a real value.
const absentSegment = "_"

// BuildKey derives the admission key "{family}:{name}:{identity}[:{discriminator}]".
//
// Every segment is escaped with sanitizeKeySegment, so the only raw ':'
// characters are the separators and the key has a fixed number of segments
// before the optional discriminators. Discriminators keep their positions:
// an empty one followed by a set one is written as absentSegment, and
// trailing empty ones are dropped.
func BuildKey(class OperationClass, identity string, discriminator ...string) string {
	family, name, found := strings.Cut(string(class), ":")
	if identity == "" {
		identity = UnknownIdentity
	}

	var b strings.Builder
	b.WriteString(sanitizeKeySegment(family))
	b.WriteByte(':')
	if found {
		b.WriteString(sanitizeKeySegment(name))
	} else {
		b.WriteString(absentSegment)
	}
	b.WriteByte(':')
	b.WriteString(sanitizeKeySegment(identity))
	last := len(discriminator) - 1
	for last >= 0 && discriminator[last] == "" {
		last--
	}
	for _, d := range discriminator[:last+1] {
		b.WriteByte(':')
		if d == "" {
			b.WriteString(absentSegment)
			continue
		}
		b.WriteString(sanitizeKeySegment(d))
	}
	return b.String()
}

// sanitizeKeySegment escapes delimiter characters so caller-controlled values
// containing ':' cannot reach an adjacent bucket.
//
// Escape rules (order matters):
//  1. '_' becomes "__"
//  2. ':' becomes "_c"
//
// "a:b" -> "a_cb", "a_b" -> "a__b", "a_:b" -> "a___cb". The mapping is injective.
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
