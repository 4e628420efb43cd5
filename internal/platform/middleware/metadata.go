package middleware

import (
	"net/http"
	"strings"

	"framewise/pkg/requestcontext"
)

// MaxForwardedHeaderLength bounds the forwarded-address headers we accept.
const MaxForwardedHeaderLength = 500

// ClientMetadata resolves the caller identity used for admission keys and
// stores it in the request context together with the User-Agent.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIdentity(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIdentity returns the first X-Forwarded-For entry, then X-Real-IP, then
// the literal "unknown". The service runs behind the CMS edge proxy, which
// always sets one of the two headers, so the socket address is never used.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" && len(xff) <= MaxForwardedHeaderLength {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && len(xri) <= MaxForwardedHeaderLength {
		return xri
	}
	return requestcontext.UnknownClient
}
