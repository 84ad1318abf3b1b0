package rbac

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/assessly/pkg/contextkeys"
	"github.com/platinummonkey/assessly/pkg/httputil"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	engine *EnhancedRBAC
	guard  *PermissionMiddleware
}

// NewHandlers creates new RBAC handlers
func NewHandlers(engine *EnhancedRBAC) *Handlers {
	return &Handlers{
		engine: engine,
		guard:  NewPermissionMiddleware(engine),
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	canView := h.guard.RequirePermission("permissions.view")
	canManage := h.guard.RequirePermission("permissions.manage")
	isAdmin := h.guard.RequirePermission("system.admin")
	authed := h.guard.RequireAuthenticated

	// Catalog and matrix introspection
	router.Handle("/rbac/permissions", canView(http.HandlerFunc(h.ListPermissions))).Methods("GET")
	router.Handle("/rbac/permissions/{id}", canView(http.HandlerFunc(h.GetPermission))).Methods("GET")
	router.Handle("/rbac/roles", canView(http.HandlerFunc(h.ListRoles))).Methods("GET")
	router.Handle("/rbac/roles/{role}/permissions", canView(http.HandlerFunc(h.GetRolePermissions))).Methods("GET")

	// Checks for the caller
	router.Handle("/rbac/check", authed(http.HandlerFunc(h.CheckPermission))).Methods("POST")
	router.Handle("/rbac/me/permissions", authed(http.HandlerFunc(h.GetMyPermissions))).Methods("GET")
	router.Handle("/rbac/me/export", authed(http.HandlerFunc(h.ExportMyPermissions))).Methods("GET")

	// Grant management
	router.Handle("/rbac/grants", canManage(http.HandlerFunc(h.GrantPermission))).Methods("POST")
	router.Handle("/rbac/grants/cleanup", isAdmin(http.HandlerFunc(h.CleanupExpiredGrants))).Methods("POST")
	router.Handle("/rbac/users/{userId}/grants/{permissionId}", canManage(http.HandlerFunc(h.RevokePermission))).Methods("DELETE")
}

// ListPermissions lists the catalog, optionally filtered by ?category=
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	category := httputil.ParseQueryString(r, "category", "")
	if category == "" {
		httputil.WriteSuccess(w, h.engine.Catalog().List())
		return
	}

	if !Category(category).Valid() {
		known := make([]string, 0)
		for _, c := range h.engine.Catalog().Categories() {
			known = append(known, string(c))
		}
		httputil.WriteBadRequest(w, "unknown category: "+category+" (known: "+strings.Join(known, ", ")+")")
		return
	}
	httputil.WriteSuccess(w, h.engine.GetPermissionsByCategory(Category(category)))
}

// GetPermission returns a single catalog entry
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	permission, found := h.engine.GetPermission(id)
	if !found {
		httputil.WriteNotFoundError(w, "permission not found: "+id)
		return
	}
	httputil.WriteSuccess(w, permission)
}

// ListRoles returns every role with its permission IDs
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.engine.Matrix().Snapshot())
}

// GetRolePermissions returns the permission IDs of a role. Unknown roles have none.
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"role":        role,
		"permissions": h.engine.Matrix().Permissions(Role(role)),
	})
}

// CheckRequest is the body of POST /rbac/check. User defaults to the caller;
// checking anyone else, or the caller under a different role or organization,
// requires permissions.view and is audited. Context is a what-if input and is
// never used to authorize the request itself.
type CheckRequest struct {
	User       *User              `json:"user,omitempty"`
	Permission string             `json:"permission"`
	Context    *EvaluationContext `json:"context,omitempty"`
}

// CheckPermission evaluates a permission and explains the decision
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromContext(r.Context())

	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Permission, "permission") {
		return
	}

	user := req.User
	if user == nil {
		user = caller
	}

	onBehalf := !sameIdentity(user, caller)
	if onBehalf {
		gate := h.engine.CheckPermission(r.Context(), caller, "permissions.view", EvaluationContextFromRequest(r, caller))
		if !gate.Allowed {
			h.engine.RecordDenial(r.Context(), caller, gate)
			httputil.WriteForbidden(w, "permissions.view is required to check another user")
			return
		}
	}

	ectx := req.Context
	if ectx == nil {
		ectx = EvaluationContextFromRequest(r, user)
	}

	result := h.engine.CheckPermission(r.Context(), user, req.Permission, ectx)
	if onBehalf {
		h.engine.RecordCheck(r.Context(), caller, user, result)
	}
	httputil.WriteSuccess(w, result)
}

// sameIdentity reports whether a submitted user carries the caller's own attributes
func sameIdentity(user, caller *User) bool {
	return user.ID == caller.ID &&
		user.Role == caller.Role &&
		user.OrganizationID == caller.OrganizationID &&
		user.DepartmentID == caller.DepartmentID
}

// GetMyPermissions returns the caller's effective permission IDs
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromContext(r.Context())
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     caller.ID,
		"role":        caller.Role,
		"permissions": h.engine.GetUserPermissions(r.Context(), caller),
	})
}

// ExportMyPermissions returns the caller's export snapshot
func (h *Handlers) ExportMyPermissions(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromContext(r.Context())
	httputil.WriteSuccess(w, h.engine.ExportUserPermissions(r.Context(), caller))
}

// GrantRequest is the body of POST /rbac/grants
type GrantRequest struct {
	UserID       string      `json:"user_id"`
	PermissionID string      `json:"permission_id"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty"`
	Duration     string      `json:"duration,omitempty"`
	Conditions   []Condition `json:"conditions,omitempty"`
	Scope        *GrantScope `json:"scope,omitempty"`
}

// GrantPermission issues a grant on behalf of the caller
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromContext(r.Context())

	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") || !httputil.RequireNonEmpty(w, req.PermissionID, "permission_id") {
		return
	}

	var opts []GrantOption
	if req.ExpiresAt != nil {
		opts = append(opts, WithExpiry(*req.ExpiresAt))
	}
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			httputil.WriteBadRequest(w, "invalid duration: "+req.Duration)
			return
		}
		opts = append(opts, WithDuration(d))
	}
	if len(req.Conditions) > 0 {
		opts = append(opts, WithConditions(req.Conditions...))
	}
	if req.Scope != nil {
		opts = append(opts, WithScope(*req.Scope))
	}

	if !h.engine.GrantPermission(r.Context(), req.UserID, req.PermissionID, caller.ID, opts...) {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to grant permission")
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{
		"user_id":       req.UserID,
		"permission_id": req.PermissionID,
		"granted_by":    caller.ID,
	})
}

// RevokePermission removes every grant of a permission from a user
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathStringOrError(w, r, "permissionId")
	if !ok {
		return
	}

	ctx := r.Context()
	if caller, ok := UserFromContext(ctx); ok && contextkeys.GetUserID(ctx) == "" {
		ctx = contextkeys.WithUserID(ctx, caller.ID)
	}

	if !h.engine.RevokePermission(ctx, userID, permissionID) {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to revoke permission")
		return
	}
	httputil.WriteNoContent(w)
}

// CleanupExpiredGrants runs one expiry sweep
func (h *Handlers) CleanupExpiredGrants(w http.ResponseWriter, r *http.Request) {
	removed := h.engine.CleanupExpiredGrants(r.Context())
	httputil.WriteSuccess(w, map[string]int{"removed": removed})
}
