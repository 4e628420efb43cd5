package models

import (
	"encoding/json"
	"strings"

	dErrors "framewise/pkg/domain-errors"
)

// Envelope is the outer shape every provider event shares. Object holds the
// type-specific payload and is decoded by ParseEvent.
type Envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEnvelope decodes raw into an envelope. It must only be called on a
// body whose signature has already been verified.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidEnvelope, "event body is not valid JSON")
	}
	env.ID = strings.TrimSpace(env.ID)
	env.Type = strings.TrimSpace(env.Type)
	if env.ID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidEnvelope, "event id is required")
	}
	if env.Type == "" {
		return nil, dErrors.New(dErrors.CodeInvalidEnvelope, "event type is required")
	}
	return &env, nil
}

// ref is a provider reference that arrives either as a bare id or as an
// expanded object carrying an "id" field.
type ref string

func (r *ref) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = ref(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = ref(obj.ID)
	return nil
}
