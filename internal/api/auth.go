// Package api implements the HTTP surface of the tour planning service.
package api

import "net/http"

type Principal struct {
	Role string // admin, planner, viewer
}

// getPrincipal extracts the caller role from headers. Dev deployments run
// headerless and default to planner.
func getPrincipal(r *http.Request) Principal {
	role := r.Header.Get("X-Role")
	if role == "" {
		role = "planner"
	}
	return Principal{Role: role}
}

// CanWrite reports whether the principal may mutate resources.
func (p Principal) CanWrite() bool { return p.Role == "admin" || p.Role == "planner" }

// IsAdmin gates the admin surfaces (delivery queue inspection, retries).
func (p Principal) IsAdmin() bool { return p.Role == "admin" }
