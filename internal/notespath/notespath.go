// Package notespath builds request paths for the notes endpoints.
//
// The backend embeds the rotating CSRF token in the URL path for mutating
// operations. When no token is known, a fixed fallback path is used; whether
// every deployment accepts the fallback is an explicit contract to confirm
// against the backend, not guaranteed behavior.
package notespath

import "net/url"

// Fallback is the path prefix used when no CSRF token is available.
const Fallback = "/api/v1/user/notes"

// Build returns the notes path for the given CSRF token, optional note id
// and optional search query. All inputs are escaped; Build performs no I/O.
func Build(csrfToken, id, query string) string {
	p := Fallback
	if csrfToken != "" {
		p = "/" + url.PathEscape(csrfToken) + "/notes"
	}
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	if query != "" {
		p += "?search=" + url.QueryEscape(query)
	}
	return p
}
