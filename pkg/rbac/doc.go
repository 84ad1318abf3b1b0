// Package rbac evaluates permissions for the assessment console.
//
// # Overview
//
// Access is decided by an EnhancedRBAC engine from three sources:
//
//   - Catalog: every recognized permission, with optional conditions
//   - RoleMatrix: the permissions each role holds unconditionally
//   - GrantLedger: per-user grants that add permissions, optionally expiring
//
// Permission IDs are flat dotted tokens such as "users.edit.role". Holding
// "users.edit" does not imply "users.edit.role"; sub-permissions are display
// metadata only.
//
// # Checking Permissions
//
//	engine := rbac.NewEnhancedRBAC(rbac.DefaultCatalog(), rbac.DefaultRoleMatrix(), rbac.NewMemoryLedger())
//	user := &rbac.User{ID: "u-42", Role: rbac.RoleManager}
//
//	if engine.HasPermission(ctx, user, "teams.manage", nil) {
//		// ...
//	}
//
// A check passes when the role holds the permission or the user has an
// unexpired grant whose own conditions hold. Conditions on the catalog entry
// then gate access from either source:
//
//	// users.delete requires approval, even for org_admin
//	ectx := &rbac.EvaluationContext{Approved: true}
//	engine.HasPermission(ctx, admin, "users.delete", ectx)
//
// CheckPermission returns the same decision with its source and reason.
//
// # Conditions
//
//	time/business_hours        hour in [9, 17)
//	time/specific_time         Start <= now <= End
//	context/require_approval   EvaluationContext.Approved
//	context/resource_owner     OwnerID == UserID
//	resource/same_organization OrganizationID == Value
//	resource/same_department   DepartmentID == Value
//
// Unrecognized rules are satisfied and logged at warn level.
//
// # Grants
//
//	engine.GrantPermission(ctx, "u-7", "teams.manage", "admin-1", rbac.WithDuration(time.Hour))
//	engine.RevokePermission(ctx, "u-7", "teams.manage")
//
// Mutations never panic or return errors; they report success as a bool and
// log failures. Expired grants stop counting immediately but stay in the
// ledger until CleanupExpiredGrants runs, typically from a Sweeper.
//
// # Ledgers
//
//	MemoryLedger   in-process, lost on restart
//	SQLLedger      sqlite or postgres, schema managed by RunMigrations
//	RedisLedger    one JSON list per user
//	CachedLedger   LRU read cache in front of any of the above
//
// # HTTP
//
// Handlers exposes the catalog, role matrix, checks and grant management under
// /rbac. PermissionMiddleware guards routes using the *User placed in the
// request context by middleware.IdentityMiddleware.
//
// POST /rbac/check evaluates the caller by default. Checking another user,
// or the caller with a different role or organization, requires
// permissions.view and emits an authz.permission_check event.
//
// When persisted auditing is on, Manager also serves /audit/events and
// /audit/stats behind audit.view.
//
// # Trust Boundary
//
// The service sits behind an authenticating gateway. The identity headers
// read by middleware.IdentityMiddleware, and the X-Approval-Granted and
// X-Resource-Owner headers read by EvaluationContextFromRequest, are trusted
// as-is. The gateway must strip them from client requests; a client that can
// set X-Approval-Granted satisfies every require_approval condition.
//
// # Related Packages
//
//   - pkg/middleware: identity extraction from gateway headers
//   - pkg/audit: grant, revoke, check and denial audit trail
//   - pkg/observability: logging, metrics and tracing
package rbac
