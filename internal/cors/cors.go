// Package cors computes the Cross-Origin Resource Sharing response
// headers attached to every exit path of the Dispatch Engine.
package cors

import "net/http"

const (
	allowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowHeaders = "Origin, Content-Type, Accept, Authorization, X-Requested-With"
	maxAge       = "3600"
)

// Policy is a static allow-list of origins. "*" matches any origin.
type Policy struct {
	AllowOrigins []string
}

// Allows reports whether origin is permitted by the policy.
func (p Policy) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range p.AllowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Apply attaches the CORS response headers to header when req carries an
// Origin permitted by the policy. It is a no-op otherwise, including
// when req has no Origin header at all.
func (p Policy) Apply(req *http.Request, header http.Header) {
	origin := req.Header.Get("Origin")
	if !p.Allows(origin) {
		return
	}
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", allowMethods)
	header.Set("Access-Control-Allow-Headers", allowHeaders)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Max-Age", maxAge)
}
