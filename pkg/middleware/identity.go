package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/assessly/pkg/contextkeys"
	"github.com/platinummonkey/assessly/pkg/httputil"
	"github.com/platinummonkey/assessly/pkg/rbac"
)

// Identity headers set by the gateway in front of the service
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderOrganizationID = "X-Organization-ID"
	HeaderDepartmentID   = "X-Department-ID"
	HeaderUserEmail      = "X-User-Email"
)

// IdentityMiddleware builds an rbac.User from the gateway identity headers.
// Requests without X-User-ID pass through anonymously; route guards decide
// whether that is acceptable.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, problem := userFromHeaders(r)
		if problem != "" {
			httputil.WriteBadRequest(w, problem)
			return
		}
		if user == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		ctx = contextkeys.WithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromHeaders(r *http.Request) (*rbac.User, string) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return nil, ""
	}

	role := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))
	if role == "" {
		return nil, HeaderUserRole + " is required when " + HeaderUserID + " is set"
	}

	return &rbac.User{
		ID:             id,
		Role:           rbac.Role(role),
		OrganizationID: strings.TrimSpace(r.Header.Get(HeaderOrganizationID)),
		DepartmentID:   strings.TrimSpace(r.Header.Get(HeaderDepartmentID)),
		Email:          strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}, ""
}
