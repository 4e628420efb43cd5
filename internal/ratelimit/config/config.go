// Package config holds the per-operation-class admission policies.
package config

import (
	"fmt"
	"maps"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"framewise/internal/ratelimit/models"
)

// Policy is the budget for one operation class: at most Max admissions per Window.
type Policy struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

func (p Policy) Validate() error {
	if p.Max < 1 {
		return fmt.Errorf("max must be at least 1, got %d", p.Max)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("window must be at least 1ms, got %s", p.Window)
	}
	return nil
}

// Policies maps operation classes to their budgets.
type Policies map[models.OperationClass]Policy

// Lookup returns the policy for class.
func (p Policies) Lookup(class models.OperationClass) (Policy, bool) {
	policy, ok := p[class]
	return policy, ok
}

// DefaultPolicies returns the built-in budgets. Registration is tighter than
// generic variant updates.
func DefaultPolicies() Policies {
	return Policies{
		models.ClassAuthRegister:         {Max: 5, Window: 15 * time.Minute},
		models.ClassAuthLogin:            {Max: 10, Window: 15 * time.Minute},
		models.ClassWriteInvite:          {Max: 10, Window: time.Hour},
		models.ClassWriteEmbedCreate:     {Max: 20, Window: 10 * time.Minute},
		models.ClassWriteTitleCreate:     {Max: 30, Window: 10 * time.Minute},
		models.ClassWriteVariantUpload:   {Max: 30, Window: 10 * time.Minute},
		models.ClassWriteVariantUpdate:   {Max: 60, Window: 10 * time.Minute},
		models.ClassWriteBillingCheckout: {Max: 10, Window: 10 * time.Minute},
		models.ClassWriteTeamUpdate:      {Max: 30, Window: 10 * time.Minute},
		models.ClassWebhookBilling:       {Max: 600, Window: time.Minute},
		models.ClassAdmissionReset:       {Max: 5, Window: 15 * time.Minute},
		models.ClassReadBillingTenant:    {Max: 120, Window: time.Minute},
	}
}

type policyFile struct {
	Policies map[string]Policy `yaml:"policies"`
}

// LoadPolicies returns DefaultPolicies overlaid with the classes defined in
// the YAML file at path. An empty path yields the defaults.
//
//	policies:
//	  write:invite:
//	    max: 5
//	    window: 30m
func LoadPolicies(path string) (Policies, error) {
	policies := DefaultPolicies()
	if path == "" {
		return policies, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies file: %w", err)
	}
	overrides, err := ParsePolicies(raw)
	if err != nil {
		return nil, fmt.Errorf("parse policies file %s: %w", path, err)
	}
	maps.Copy(policies, overrides)
	return policies, nil
}

// ParsePolicies decodes and validates a YAML policy document.
func ParsePolicies(raw []byte) (Policies, error) {
	var doc policyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make(Policies, len(doc.Policies))
	for name, policy := range doc.Policies {
		class, err := models.ParseOperationClass(name)
		if err != nil {
			return nil, fmt.Errorf("class %q: %w", name, err)
		}
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("class %q: %w", name, err)
		}
		out[class] = policy
	}
	return out, nil
}
