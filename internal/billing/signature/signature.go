// Package signature verifies provider webhook signatures.
//
// A signature header looks like:
//
//	t=1772366400,v1=5257a869e7ecebeda32affa62cdca3fa51cad7e77a0e56ff536d0ce8e108d8bd
//
// The signed payload is "{t}.{raw body}" under HMAC-SHA256. Several v1 values
// may be present while the provider rotates secrets; any one match is enough.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderName carries the signature on inbound webhook requests.
	HeaderName = "Stripe-Signature"

	// DefaultTolerance bounds how far the signed timestamp may drift from
	// now, in either direction.
	DefaultTolerance = 300 * time.Second

	schemeV1 = "v1"
)

// Verifier checks signatures against one or more shared secrets.
type Verifier struct {
	secrets   [][]byte
	tolerance time.Duration
	now       func() time.Time
}

type Option func(*Verifier)

func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a verifier that accepts a signature made with any of
// secrets. Blank secrets are ignored; at least one must remain.
func NewVerifier(secrets []string, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			v.secrets = append(v.secrets, []byte(s))
		}
	}
	if len(v.secrets) == 0 {
		return nil, errors.New("at least one webhook secret is required")
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify reports whether header carries a valid, fresh signature of rawBody.
// Every failure collapses to false.
func (v *Verifier) Verify(rawBody []byte, header string) bool {
	ts, candidates, ok := parseHeader(header)
	if !ok {
		return false
	}
	if !v.fresh(ts) {
		return false
	}
	for _, secret := range v.secrets {
		expected := computeMAC(rawBody, secret, ts)
		if matchAny(expected, candidates) {
			return true
		}
	}
	return false
}

func (v *Verifier) fresh(ts string) bool {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= v.tolerance
}

// VerifySignature is the single-secret form of Verifier.Verify.
func VerifySignature(rawBody []byte, header, secret string, now time.Time) bool {
	if secret == "" {
		return false
	}
	v := &Verifier{
		secrets:   [][]byte{[]byte(secret)},
		tolerance: DefaultTolerance,
		now:       func() time.Time { return now },
	}
	return v.Verify(rawBody, header)
}

// Sign builds a signature header for body at t.
func Sign(body []byte, secret string, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + "," + schemeV1 + "=" + ComputeSignature(body, secret, ts)
}

// ComputeSignature returns the lowercase hex HMAC-SHA256 of "{ts}.{body}".
func ComputeSignature(body []byte, secret, ts string) string {
	return hex.EncodeToString(computeMAC(body, []byte(secret), ts))
}

func computeMAC(body, secret []byte, ts string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// parseHeader extracts the timestamp and every v1 candidate. A header with
// no timestamp, more than one timestamp, or no v1 value is rejected.
// Undecodable candidates are dropped.
func parseHeader(header string) (string, [][]byte, bool) {
	if header == "" {
		return "", nil, false
	}

	var (
		ts         string
		tsSeen     int
		v1Seen     bool
		candidates [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			ts = strings.TrimSpace(value)
			tsSeen++
		case schemeV1:
			v1Seen = true
			sig, err := hex.DecodeString(strings.TrimSpace(value))
			if err != nil {
				continue
			}
			candidates = append(candidates, sig)
		}
	}
	if tsSeen != 1 || ts == "" || !v1Seen {
		return "", nil, false
	}
	return ts, candidates, true
}

func matchAny(expected []byte, candidates [][]byte) bool {
	matched := false
	for _, c := range candidates {
		if hmac.Equal(expected, c) {
			matched = true
		}
	}
	return matched
}
