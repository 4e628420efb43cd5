package models

// RateLimitedCode is the machine-readable code of every rejection body.
const RateLimitedCode = "RATE_LIMITED"

type RateLimitedResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	RetryAfterSec int    `json:"retryAfterSec"`
}

func NewRateLimitedResponse(result AdmissionResult) RateLimitedResponse {
	return RateLimitedResponse{
		Error:         "Too many requests. Please try again later.",
		Code:          RateLimitedCode,
		RetryAfterSec: result.RetryAfterSec,
	}
}

// CheckResponse is returned by the internal admission API on success.
type CheckResponse struct {
	Key string `json:"key"`
	AdmissionResult
}

type ResetResponse struct {
	Key   string `json:"key"`
	Reset bool   `json:"reset"`
}
