package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/identity"
	"github.com/gatehouse-dev/gatehouse/pkg/observability"
)

// ExternalIDHeader carries the caller's external identity reference. The
// gateway in front of this service has already verified it; this layer only
// maps it to a principal.
const ExternalIDHeader = "X-External-Id"

type principalContextKey struct{}

// PrincipalMiddleware resolves the external identity reference on every
// request into a principal and stores it on the request context. Requests
// without a reference, or with a malformed one, are rejected with 401.
func PrincipalMiddleware(resolver *identity.Resolver, log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			externalRef := r.Header.Get(ExternalIDHeader)
			if externalRef == "" {
				writeError(w, http.StatusUnauthorized, "missing "+ExternalIDHeader+" header")
				return
			}

			principal, err := resolver.Resolve(r.Context(), externalRef)
			if err != nil {
				if errors.Is(err, identity.ErrIdentityNotResolved) {
					writeError(w, http.StatusUnauthorized, "identity not resolved")
					return
				}
				log.WithError(err).Error("failed to resolve principal")
				writeError(w, http.StatusInternalServerError, "failed to resolve identity")
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			ctx = observability.WithPrincipalID(ctx, principal.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal returns the resolved principal from the request context, or
// nil outside the middleware chain
func GetPrincipal(ctx context.Context) *identity.Principal {
	principal, _ := ctx.Value(principalContextKey{}).(*identity.Principal)
	return principal
}
