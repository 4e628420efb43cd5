package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "framewise/pkg/domain-errors"
)

// MaxRequestBytes bounds JSON request bodies on the admission API.
const MaxRequestBytes = 64 << 10

// Request is a pointer to a request body that can clean and check itself.
type Request[T any] interface {
	*T
	Normalize()
	Validate() error
}

// DecodeJSON reads exactly one JSON value from r. Oversized bodies and
// trailing data are rejected.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request) (*T, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	var v T
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "request body too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unexpected data after request body")
	}
	return &v, nil
}

// Bind decodes, normalizes and validates a request body. On failure it has
// already written the error response.
func Bind[T any, P Request[T]](ctx context.Context, w http.ResponseWriter, r *http.Request, logger *slog.Logger) (P, bool) {
	v, err := DecodeJSON[T](w, r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request body", "error", err)
		WriteError(w, err)
		return nil, false
	}

	req := P(v)
	req.Normalize()
	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request", "error", err)
		if _, ok := dErrors.CodeOf(err); !ok {
			err = dErrors.New(dErrors.CodeValidation, err.Error())
		}
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
