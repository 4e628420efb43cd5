package models

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	dErrors "framewise/pkg/domain-errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CheckRequest is the body of the internal admission API. Max and WindowMs
// override the class policy when both are set.
type CheckRequest struct {
	Operation     string `json:"operation" validate:"required,max=64"`
	Identity      string `json:"identity" validate:"max=500"`
	Discriminator string `json:"discriminator,omitempty" validate:"max=320"`
	Max           int    `json:"max,omitempty" validate:"omitempty,min=1,max=1000000"`
	WindowMs      int64  `json:"windowMs,omitempty" validate:"omitempty,min=1,max=86400000"`
}

func (r *CheckRequest) Normalize() {
	if r == nil {
		return
	}
	r.Operation = strings.TrimSpace(r.Operation)
	r.Identity = strings.TrimSpace(r.Identity)
	r.Discriminator = strings.ToLower(strings.TrimSpace(r.Discriminator))
}

func (r *CheckRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validate.Struct(r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, validationMessage(err))
	}
	if (r.Max > 0) != (r.WindowMs > 0) {
		return dErrors.New(dErrors.CodeValidation, "max and windowMs must be set together")
	}
	return nil
}

// HasOverride reports whether the caller supplied its own limit.
func (r *CheckRequest) HasOverride() bool {
	return r.Max > 0 && r.WindowMs > 0
}

func (r *CheckRequest) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	fe := fieldErrs[0]
	return strings.ToLower(fe.Field()) + " failed " + fe.Tag() + " validation"
}

// ResetRequest names the window an operator wants to clear.
type ResetRequest struct {
	Operation     string `json:"operation" validate:"required,max=64"`
	Identity      string `json:"identity" validate:"max=500"`
	Discriminator string `json:"discriminator,omitempty" validate:"max=320"`
}

func (r *ResetRequest) Normalize() {
	if r == nil {
		return
	}
	r.Operation = strings.TrimSpace(r.Operation)
	r.Identity = strings.TrimSpace(r.Identity)
	r.Discriminator = strings.ToLower(strings.TrimSpace(r.Discriminator))
}

func (r *ResetRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validate.Struct(r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, validationMessage(err))
	}
	return nil
}
