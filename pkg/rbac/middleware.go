package rbac

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/assessly/pkg/contextkeys"
	"github.com/platinummonkey/assessly/pkg/httputil"
)

const (
	// HeaderApprovalGranted marks a request as carrying an out-of-band approval
	HeaderApprovalGranted = "X-Approval-Granted"

	// HeaderResourceOwner names the owner of the resource the request targets
	HeaderResourceOwner = "X-Resource-Owner"
)

// UserFromContext returns the authenticated user stored by the identity middleware
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextkeys.UserKey).(*User)
	return user, ok && user != nil
}

// EvaluationContextFromRequest builds the condition context for user from request headers.
// Organization and department come from the user; approval and ownership from headers.
func EvaluationContextFromRequest(r *http.Request, user *User) *EvaluationContext {
	ectx := &EvaluationContext{
		OwnerID: r.Header.Get(HeaderResourceOwner),
	}
	if approved, err := strconv.ParseBool(strings.TrimSpace(r.Header.Get(HeaderApprovalGranted))); err == nil {
		ectx.Approved = approved
	}
	if user != nil {
		ectx.UserID = user.ID
		ectx.OrganizationID = user.OrganizationID
		ectx.DepartmentID = user.DepartmentID
	}
	return ectx
}

// denialRecorder is implemented by checkers that keep an audit trail of refusals
type denialRecorder interface {
	RecordDenial(ctx context.Context, user *User, result *CheckResult)
}

// PermissionMiddleware guards routes with permission checks
type PermissionMiddleware struct {
	checker Checker
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker: checker,
	}
}

// RequirePermission creates middleware that requires a specific permission
func (pm *PermissionMiddleware) RequirePermission(permissionID string) func(http.Handler) http.Handler {
	return pm.RequireAll(permissionID)
}

// RequireAny creates middleware that requires at least one of the permissions
func (pm *PermissionMiddleware) RequireAny(permissionIDs ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			ectx := EvaluationContextFromRequest(r, user)
			var last *CheckResult
			for _, id := range permissionIDs {
				last = pm.checker.CheckPermission(r.Context(), user, id, ectx)
				if last.Allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			if last != nil {
				pm.recordDenial(r.Context(), user, last)
			}
			httputil.WriteForbidden(w, "Insufficient permissions")
		})
	}
}

// RequireAll creates middleware that requires every listed permission
func (pm *PermissionMiddleware) RequireAll(permissionIDs ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			ectx := EvaluationContextFromRequest(r, user)
			for _, id := range permissionIDs {
				result := pm.checker.CheckPermission(r.Context(), user, id, ectx)
				if !result.Allowed {
					pm.recordDenial(r.Context(), user, result)
					httputil.WriteForbidden(w, "Insufficient permissions")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated rejects requests without an identity
func (pm *PermissionMiddleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (pm *PermissionMiddleware) recordDenial(ctx context.Context, user *User, result *CheckResult) {
	if recorder, ok := pm.checker.(denialRecorder); ok {
		recorder.RecordDenial(ctx, user, result)
	}
}
