// Package reqid implements the Request Identifier: a v4 UUID minted per
// inbound request, or echoed from an existing X-Request-Id header, used
// to correlate access-log lines with proxy-side error logs.
package reqid

import (
	"net/http"

	"github.com/google/uuid"
)

// Header is the request/response header carrying the request identifier.
const Header = "X-Request-Id"

// FromRequest returns the client-supplied X-Request-Id if present,
// otherwise mints a fresh v4 UUID.
func FromRequest(r *http.Request) string {
	if existing := r.Header.Get(Header); existing != "" {
		return existing
	}
	return uuid.NewString()
}
