// Package api provides the HTTP surface of the authorization service.
//
// Every request passes through principal resolution middleware that maps the
// X-External-Id header to a principal, creating one on first sight. The core
// endpoint is POST /v1/authorize, which returns an {allowed, reason} decision;
// a denial is a 200 response, not an error. Management endpoints for
// principals, organizations, memberships, and invitations evaluate
// authorization and apply their writes inside a single transaction, so the
// membership snapshot a decision is based on is the snapshot the write sees.
package api
