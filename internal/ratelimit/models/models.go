package models

import (
	"time"
)

// Window is one key's current fixed counting interval.
// The zero value means no window exists yet.
type Window struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// AdmissionResult is the outcome of one admission check. It is always a copy;
// stores never hand out their internal windows.
type AdmissionResult struct {
	Allowed       bool      `json:"allowed"`
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"resetAt"`
	RetryAfterSec int       `json:"retryAfterSec"`
	// Degraded is set when the result came from a local fallback counter
	// instead of the shared store.
	Degraded bool `json:"-"`
}

// Expired reports whether the window no longer counts at now.
func (w *Window) Expired(now time.Time) bool {
	return w.Count == 0 || !now.Before(w.ResetAt)
}

// Admit applies one request to the window at instant now.
//
//   - no window or ResetAt <= now: start a fresh window with Count 1
//   - Count < max: increment
//   - otherwise reject and leave the window untouched
//
// Callers guarantee max >= 1 and window > 0.
func (w *Window) Admit(max int, window time.Duration, now time.Time) AdmissionResult {
	if w.Expired(now) {
		w.Count = 1
		w.ResetAt = now.Add(window)
		return AdmissionResult{
			Allowed:       true,
			Limit:         max,
			Remaining:     max - 1,
			ResetAt:       w.ResetAt,
			RetryAfterSec: ceilSeconds(window),
		}
	}

	if w.Count < max {
		w.Count++
		return AdmissionResult{
			Allowed:       true,
			Limit:         max,
			Remaining:     max - w.Count,
			ResetAt:       w.ResetAt,
			RetryAfterSec: retryAfter(w.ResetAt, now),
		}
	}

	return AdmissionResult{
		Allowed:       false,
		Limit:         max,
		Remaining:     0,
		ResetAt:       w.ResetAt,
		RetryAfterSec: retryAfter(w.ResetAt, now),
	}
}

// Counted builds a result for a window counted outside the process, such as
// a shared cache. count is the window's count after this request was applied.
func Counted(allowed, fresh bool, count, max int, resetAt, now time.Time, window time.Duration) AdmissionResult {
	res := AdmissionResult{
		Allowed: allowed,
		Limit:   max,
		ResetAt: resetAt,
	}
	switch {
	case !allowed:
		res.RetryAfterSec = retryAfter(resetAt, now)
	case fresh:
		res.Remaining = max - 1
		res.RetryAfterSec = ceilSeconds(window)
	default:
		res.Remaining = max - count
		res.RetryAfterSec = retryAfter(resetAt, now)
	}
	return res
}

func retryAfter(resetAt, now time.Time) int {
	return max(1, ceilSeconds(resetAt.Sub(now)))
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
