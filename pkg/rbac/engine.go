package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/assessly/pkg/async"
	"github.com/platinummonkey/assessly/pkg/audit"
	"github.com/platinummonkey/assessly/pkg/contextkeys"
	"github.com/platinummonkey/assessly/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName   = "github.com/platinummonkey/assessly/pkg/rbac"
	auditTimeout = 5 * time.Second
)

// Checker answers authorization questions
type Checker interface {
	// CheckPermission evaluates a permission and explains the outcome
	CheckPermission(ctx context.Context, user *User, permissionID string, ectx *EvaluationContext) *CheckResult

	// HasPermission reports whether user may exercise permissionID
	HasPermission(ctx context.Context, user *User, permissionID string, ectx *EvaluationContext) bool

	// GetUserPermissions returns the role and grant permissions currently usable by user
	GetUserPermissions(ctx context.Context, user *User) []string
}

// EnhancedRBAC evaluates permissions from a role matrix layered with per-user grants.
// It is safe for concurrent use when its ledger is.
type EnhancedRBAC struct {
	catalog     *Catalog
	matrix      *RoleMatrix
	ledger      GrantLedger
	clock       clockwork.Clock
	location    *time.Location
	evaluator   *ConditionEvaluator
	logger      *observability.Logger
	metrics     *observability.Metrics
	auditLogger audit.Logger
	background  async.Group
	tracer      trace.Tracer
}

// Option configures an EnhancedRBAC
type Option func(*EnhancedRBAC)

// WithClock sets the clock used for grant expiry and time conditions
func WithClock(clock clockwork.Clock) Option {
	return func(e *EnhancedRBAC) { e.clock = clock }
}

// WithLocation sets the time zone used by business_hours conditions
func WithLocation(loc *time.Location) Option {
	return func(e *EnhancedRBAC) { e.location = loc }
}

// WithLogger sets the diagnostic logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *EnhancedRBAC) { e.logger = logger }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *EnhancedRBAC) { e.metrics = metrics }
}

// WithAuditLogger sends grant, revoke and sweep events to an audit trail.
// Repeating the option adds sinks; every sink receives every event.
func WithAuditLogger(logger audit.Logger) Option {
	return func(e *EnhancedRBAC) {
		if e.auditLogger == nil {
			e.auditLogger = logger
			return
		}
		e.auditLogger = audit.NewMultiLogger(e.auditLogger, logger)
	}
}

// NewEnhancedRBAC creates the engine. Nil catalog, matrix or ledger fall back to
// the built-in catalog, the built-in matrix and an in-memory ledger.
func NewEnhancedRBAC(catalog *Catalog, matrix *RoleMatrix, ledger GrantLedger, opts ...Option) *EnhancedRBAC {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if matrix == nil {
		matrix = DefaultRoleMatrix()
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}

	e := &EnhancedRBAC{
		catalog: catalog,
		matrix:  matrix,
		ledger:  ledger,
		clock:   clockwork.NewRealClock(),
		logger:  observability.NewNopLogger(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithField("component", "rbac")
	e.evaluator = NewConditionEvaluator(e.clock, e.location, e.logger, e.metrics)

	return e
}

// Catalog returns the permission catalog
func (e *EnhancedRBAC) Catalog() *Catalog { return e.catalog }

// Matrix returns the role matrix
func (e *EnhancedRBAC) Matrix() *RoleMatrix { return e.matrix }

// GetPermission looks up a catalog entry
func (e *EnhancedRBAC) GetPermission(id string) (*Permission, bool) {
	return e.catalog.GetPermission(id)
}

// GetPermissionsByCategory lists the catalog entries of a category
func (e *EnhancedRBAC) GetPermissionsByCategory(category Category) []*Permission {
	return e.catalog.GetPermissionsByCategory(category)
}

// HasPermission reports whether user may exercise permissionID.
// It never fails: a missing user or an unreachable ledger denies.
func (e *EnhancedRBAC) HasPermission(ctx context.Context, user *User, permissionID string, ectx *EvaluationContext) bool {
	return e.CheckPermission(ctx, user, permissionID, ectx).Allowed
}

// CheckPermission evaluates, in order: role defaults, then valid grants, then the
// catalog entry's own conditions, which gate access from either source.
func (e *EnhancedRBAC) CheckPermission(ctx context.Context, user *User, permissionID string, ectx *EvaluationContext) *CheckResult {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "rbac.CheckPermission",
		trace.WithAttributes(attribute.String("rbac.permission", permissionID)))
	defer span.End()

	result := &CheckResult{
		Permission: permissionID,
		Source:     SourceNone,
		CheckedAt:  e.clock.Now(),
	}
	defer func() {
		span.SetAttributes(
			attribute.Bool("rbac.allowed", result.Allowed),
			attribute.String("rbac.source", string(result.Source)),
		)
		e.metrics.RecordCheck(result.Allowed, string(result.Source), time.Since(started))
	}()

	if user == nil {
		result.Reason = "no user"
		return result
	}
	span.SetAttributes(attribute.String("rbac.user", user.ID), attribute.String("rbac.role", string(user.Role)))

	if e.matrix.Has(user.Role, permissionID) {
		result.Source = SourceRole
	} else {
		grants, err := e.ledger.ListForUser(ctx, user.ID)
		if err != nil {
			e.metrics.RecordLedgerError("list")
			e.logger.WithPermission(user.ID, permissionID).WithError(err).Error("Failed to read grants, denying")
			span.RecordError(err)
			result.Reason = "grant ledger unavailable"
			return result
		}
		if !e.hasValidGrant(grants, permissionID, ectx, result.CheckedAt) {
			result.Reason = fmt.Sprintf("role %q lacks %s and no valid grant exists", user.Role, permissionID)
			return result
		}
		result.Source = SourceGrant
	}

	if permission, ok := e.catalog.GetPermission(permissionID); ok && len(permission.Conditions) > 0 {
		if !e.evaluator.EvaluateAll(permission.Conditions, ectx) {
			result.Reason = fmt.Sprintf("conditions on %s not satisfied", permissionID)
			return result
		}
	}

	result.Allowed = true
	result.Reason = fmt.Sprintf("granted via %s", result.Source)
	return result
}

func (e *EnhancedRBAC) hasValidGrant(grants []*PermissionGrant, permissionID string, ectx *EvaluationContext, now time.Time) bool {
	for _, g := range grants {
		if g.Permission == permissionID && e.isGrantValid(g, ectx, now) {
			return true
		}
	}
	return false
}

// isGrantValid requires an unexpired grant whose own conditions all hold
func (e *EnhancedRBAC) isGrantValid(g *PermissionGrant, ectx *EvaluationContext, now time.Time) bool {
	if g.ExpiredAt(now) {
		return false
	}
	return e.evaluator.EvaluateAll(g.Conditions, ectx)
}

type grantOptions struct {
	expiresAt  *time.Time
	duration   time.Duration
	conditions []Condition
	scope      *GrantScope
}

// GrantOption customizes a grant
type GrantOption func(*grantOptions)

// WithExpiry makes the grant lapse at t
func WithExpiry(t time.Time) GrantOption {
	return func(o *grantOptions) { o.expiresAt = &t }
}

// WithDuration makes the grant lapse d after it is issued
func WithDuration(d time.Duration) GrantOption {
	return func(o *grantOptions) { o.duration = d }
}

// WithConditions attaches conditions the grant requires at check time
func WithConditions(conditions ...Condition) GrantOption {
	return func(o *grantOptions) { o.conditions = append(o.conditions, conditions...) }
}

// WithScope records where the grant is meant to apply
func WithScope(scope GrantScope) GrantOption {
	return func(o *grantOptions) { o.scope = &scope }
}

// GrantPermission appends a grant to the user's ledger. It reports failure
// through its result and a log entry, never by panicking.
func (e *EnhancedRBAC) GrantPermission(ctx context.Context, userID, permissionID, grantedBy string, opts ...GrantOption) (ok bool) {
	log := e.logger.WithPermission(userID, permissionID)
	defer observability.RecoverPanicWithCallback(log, "grant permission", func() {
		ok = false
		e.metrics.RecordGrant(false)
	})

	ctx, span := e.tracer.Start(ctx, "rbac.GrantPermission",
		trace.WithAttributes(attribute.String("rbac.user", userID), attribute.String("rbac.permission", permissionID)))
	defer span.End()

	if userID == "" || permissionID == "" {
		log.Warn("Refusing grant without user or permission")
		e.metrics.RecordGrant(false)
		return false
	}

	var o grantOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := e.clock.Now()
	grant := &PermissionGrant{
		ID:         uuid.NewString(),
		UserID:     userID,
		Permission: permissionID,
		GrantedBy:  grantedBy,
		GrantedAt:  now,
		Conditions: o.conditions,
		Scope:      o.scope,
	}
	switch {
	case o.expiresAt != nil:
		grant.ExpiresAt = o.expiresAt
	case o.duration > 0:
		expires := now.Add(o.duration)
		grant.ExpiresAt = &expires
	}

	if _, known := e.catalog.GetPermission(permissionID); !known {
		log.Warn("Granting a permission that is not in the catalog")
	}

	if err := e.ledger.Append(ctx, grant); err != nil {
		e.metrics.RecordLedgerError("append")
		e.metrics.RecordGrant(false)
		span.RecordError(err)
		log.WithError(err).Error("Failed to grant permission")

		event := audit.NewEvent(ctx, audit.EventTypeAuthzPermissionGrant, audit.EventStatusFailure)
		event.ActorID = grantedBy
		event.SubjectID = userID
		event.PermissionID = permissionID
		event.Message = "permission grant failed"
		event.Metadata = map[string]interface{}{"error": err.Error()}
		e.emit(ctx, event)
		return false
	}

	e.metrics.RecordGrant(true)
	log.WithField("granted_by", grantedBy).Info("Permission granted")

	event := audit.NewEvent(ctx, audit.EventTypeAuthzPermissionGrant, audit.EventStatusSuccess)
	event.ActorID = grantedBy
	event.SubjectID = userID
	event.PermissionID = permissionID
	event.Message = "permission granted"
	event.Metadata = map[string]interface{}{"grant_id": grant.ID}
	if grant.ExpiresAt != nil {
		event.Metadata["expires_at"] = grant.ExpiresAt.UTC().Format(time.RFC3339)
	}
	e.emit(ctx, event)

	return true
}

// RevokePermission removes every grant of permissionID held by userID.
// Like GrantPermission it reports failure through its result.
func (e *EnhancedRBAC) RevokePermission(ctx context.Context, userID, permissionID string) (ok bool) {
	log := e.logger.WithPermission(userID, permissionID)
	defer observability.RecoverPanicWithCallback(log, "revoke permission", func() {
		ok = false
		e.metrics.RecordRevoke(false, 0)
	})

	ctx, span := e.tracer.Start(ctx, "rbac.RevokePermission",
		trace.WithAttributes(attribute.String("rbac.user", userID), attribute.String("rbac.permission", permissionID)))
	defer span.End()

	removed, err := e.ledger.Remove(ctx, userID, permissionID)
	if err != nil {
		e.metrics.RecordLedgerError("remove")
		e.metrics.RecordRevoke(false, 0)
		span.RecordError(err)
		log.WithError(err).Error("Failed to revoke permission")

		event := audit.NewEvent(ctx, audit.EventTypeAuthzPermissionRevoke, audit.EventStatusFailure)
		event.ActorID = contextkeys.GetUserID(ctx)
		event.SubjectID = userID
		event.PermissionID = permissionID
		event.Message = "permission revoke failed"
		event.Metadata = map[string]interface{}{"error": err.Error()}
		e.emit(ctx, event)
		return false
	}

	e.metrics.RecordRevoke(true, removed)
	log.WithField("removed", removed).Info("Permission revoked")

	event := audit.NewEvent(ctx, audit.EventTypeAuthzPermissionRevoke, audit.EventStatusSuccess)
	event.ActorID = contextkeys.GetUserID(ctx)
	event.SubjectID = userID
	event.PermissionID = permissionID
	event.Message = "permission revoked"
	event.Metadata = map[string]interface{}{"removed": removed}
	e.emit(ctx, event)

	return true
}

// GetUserPermissions returns role permissions followed by valid grant permissions,
// without duplicates. Grant conditions are evaluated against an empty context.
func (e *EnhancedRBAC) GetUserPermissions(ctx context.Context, user *User) []string {
	if user == nil {
		return []string{}
	}
	return e.effectivePermissions(e.rolePermissions(user), e.listGrants(ctx, user))
}

func (e *EnhancedRBAC) rolePermissions(user *User) []string {
	return e.matrix.Permissions(user.Role)
}

// listGrants returns the user's grants, or none when the ledger fails
func (e *EnhancedRBAC) listGrants(ctx context.Context, user *User) []*PermissionGrant {
	grants, err := e.ledger.ListForUser(ctx, user.ID)
	if err != nil {
		e.metrics.RecordLedgerError("list")
		e.logger.WithField("user_id", user.ID).WithError(err).Error("Failed to read grants")
		return []*PermissionGrant{}
	}
	return grants
}

func (e *EnhancedRBAC) effectivePermissions(roleIDs []string, grants []*PermissionGrant) []string {
	now := e.clock.Now()
	seen := make(map[string]bool, len(roleIDs)+len(grants))
	result := make([]string, 0, len(roleIDs)+len(grants))

	for _, id := range roleIDs {
		if !seen[id] {
			seen[id] = true
			result = append(result, id)
		}
	}
	for _, g := range grants {
		if seen[g.Permission] || !e.isGrantValid(g, nil, now) {
			continue
		}
		seen[g.Permission] = true
		result = append(result, g.Permission)
	}
	return result
}

// CleanupExpiredGrants removes lapsed grants from the ledger and returns how many
// were removed. The engine never schedules it; see Sweeper.
func (e *EnhancedRBAC) CleanupExpiredGrants(ctx context.Context) int {
	defer observability.RecoverPanic(e.logger, "cleanup expired grants")

	ctx, span := e.tracer.Start(ctx, "rbac.CleanupExpiredGrants")
	defer span.End()

	removed, err := e.ledger.RemoveExpired(ctx, e.clock.Now())
	if err != nil {
		e.metrics.RecordLedgerError("remove_expired")
		e.metrics.RecordCleanup(false, removed)
		span.RecordError(err)
		e.logger.WithError(err).Error("Failed to clean up expired grants")
		return removed
	}

	span.SetAttributes(attribute.Int("rbac.removed", removed))
	e.metrics.RecordCleanup(true, removed)
	if removed > 0 {
		e.logger.WithField("removed", removed).Info("Expired grants removed")

		event := audit.NewEvent(ctx, audit.EventTypeAuthzGrantsExpired, audit.EventStatusSuccess)
		event.Message = "expired grants removed"
		event.Metadata = map[string]interface{}{"removed": removed}
		e.emit(ctx, event)
	}
	return removed
}

// ExportUserPermissions returns a snapshot of the user's role, raw grants and
// effective permissions. It has no side effects.
func (e *EnhancedRBAC) ExportUserPermissions(ctx context.Context, user *User) *PermissionExport {
	if user == nil {
		return nil
	}

	roleIDs := e.rolePermissions(user)
	grants := e.listGrants(ctx, user)

	return &PermissionExport{
		UserID:               user.ID,
		Role:                 user.Role,
		RolePermissions:      roleIDs,
		Grants:               grants,
		EffectivePermissions: e.effectivePermissions(roleIDs, grants),
		ExportedAt:           e.clock.Now(),
	}
}

// RecordDenial sends an access-denied event to the audit trail
func (e *EnhancedRBAC) RecordDenial(ctx context.Context, user *User, result *CheckResult) {
	event := audit.NewEvent(ctx, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied)
	if user != nil {
		event.SubjectID = user.ID
		event.ActorID = user.ID
	}
	event.PermissionID = result.Permission
	event.Message = result.Reason
	e.emit(ctx, event)
}

// RecordCheck audits a check one user ran on behalf of another
func (e *EnhancedRBAC) RecordCheck(ctx context.Context, actor, subject *User, result *CheckResult) {
	event := audit.NewEvent(ctx, audit.EventTypeAuthzPermissionCheck, audit.EventStatusSuccess)
	if actor != nil {
		event.ActorID = actor.ID
	}
	if subject != nil {
		event.SubjectID = subject.ID
	}
	event.PermissionID = result.Permission
	event.Message = result.Reason
	event.Metadata = map[string]interface{}{
		"allowed": result.Allowed,
		"source":  string(result.Source),
	}
	e.emit(ctx, event)
}

func (e *EnhancedRBAC) emit(ctx context.Context, event *audit.AuditEvent) {
	if e.auditLogger == nil {
		return
	}
	e.background.Go(ctx, auditTimeout, string(event.EventType), e.logger, func(ctx context.Context) error {
		return e.auditLogger.Log(ctx, event)
	})
}

// Close waits for in-flight audit events to be delivered
func (e *EnhancedRBAC) Close() error {
	e.background.Wait()
	return nil
}
