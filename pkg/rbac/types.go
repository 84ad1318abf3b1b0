package rbac

import (
	"time"
)

// Category classifies a permission by business domain. It is informational only.
type Category string

const (
	CategoryOrganization Category = "organization"
	CategoryUsers        Category = "users"
	CategoryAssessments  Category = "assessments"
	CategoryAssignments  Category = "assignments"
	CategoryResponses    Category = "responses"
	CategoryReports      Category = "reports"
	CategoryTeams        Category = "teams"
	CategoryTags         Category = "tags"
	CategorySettings     Category = "settings"
	CategorySystem       Category = "system"
)

// AllCategories returns every recognized category in declaration order
func AllCategories() []Category {
	return []Category{
		CategoryOrganization,
		CategoryUsers,
		CategoryAssessments,
		CategoryAssignments,
		CategoryResponses,
		CategoryReports,
		CategoryTeams,
		CategoryTags,
		CategorySettings,
		CategorySystem,
	}
}

// Valid reports whether c is one of the recognized categories
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// ConditionType groups condition rules by the data they inspect
type ConditionType string

const (
	ConditionTypeTime     ConditionType = "time"
	ConditionTypeContext  ConditionType = "context"
	ConditionTypeResource ConditionType = "resource"
)

// ConditionRule names a single predicate within a condition type
type ConditionRule string

const (
	RuleBusinessHours    ConditionRule = "business_hours"
	RuleSpecificTime     ConditionRule = "specific_time"
	RuleRequireApproval  ConditionRule = "require_approval"
	RuleResourceOwner    ConditionRule = "resource_owner"
	RuleSameOrganization ConditionRule = "same_organization"
	RuleSameDepartment   ConditionRule = "same_department"
)

// Condition is a predicate attached to a permission or a grant.
// Value holds a bool, a string, or a TimeWindow depending on the rule.
type Condition struct {
	Type  ConditionType `json:"type" yaml:"type"`
	Rule  ConditionRule `json:"rule" yaml:"rule"`
	Value interface{}   `json:"value,omitempty" yaml:"value,omitempty"`
}

// TimeWindow is the value of a specific_time condition. Both bounds are inclusive.
type TimeWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// SubPermission describes a child capability for display purposes.
// The evaluator never derives one permission from another.
type SubPermission struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	ParentID    string `json:"parent_id" yaml:"parent_id"`
}

// Permission is a catalog entry
type Permission struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	Description    string          `json:"description,omitempty" yaml:"description,omitempty"`
	Category       Category        `json:"category" yaml:"category"`
	SubPermissions []SubPermission `json:"sub_permissions,omitempty" yaml:"sub_permissions,omitempty"`
	Conditions     []Condition     `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Role names a user class in the role matrix
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleOrgAdmin   Role = "org_admin"
	RoleHRManager  Role = "hr_manager"
	RoleManager    Role = "manager"
	RoleEmployee   Role = "employee"
	RoleViewer     Role = "viewer"
)

// User is the authenticated principal being authorized. It is owned by the caller.
type User struct {
	ID             string `json:"id"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
	DepartmentID   string `json:"department_id,omitempty"`
	Email          string `json:"email,omitempty"`
}

// GrantScope records where a grant was meant to apply. It is stored and exported, not evaluated.
type GrantScope struct {
	OrganizationID string   `json:"organization_id,omitempty"`
	DepartmentID   string   `json:"department_id,omitempty"`
	ResourceIDs    []string `json:"resource_ids,omitempty"`
}

// PermissionGrant gives one permission to one user outside the role defaults
type PermissionGrant struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Permission string      `json:"permission"`
	GrantedBy  string      `json:"granted_by"`
	GrantedAt  time.Time   `json:"granted_at"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Scope      *GrantScope `json:"scope,omitempty"`
}

// ExpiredAt reports whether the grant has lapsed at now. A grant expiring exactly at now has lapsed.
func (g *PermissionGrant) ExpiredAt(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// EvaluationContext carries request data used by condition rules
type EvaluationContext struct {
	Approved         bool      `json:"approved"`
	UserID           string    `json:"user_id,omitempty"`
	OwnerID          string    `json:"owner_id,omitempty"`
	OrganizationID   string    `json:"organization_id,omitempty"`
	DepartmentID     string    `json:"department_id,omitempty"`
	RequestTimestamp time.Time `json:"request_timestamp,omitempty"`
}

// AccessSource tells where a positive decision came from
type AccessSource string

const (
	SourceRole  AccessSource = "role"
	SourceGrant AccessSource = "grant"
	SourceNone  AccessSource = "none"
)

// CheckResult is the outcome of a permission check
type CheckResult struct {
	Allowed    bool         `json:"allowed"`
	Permission string       `json:"permission"`
	Source     AccessSource `json:"source"`
	Reason     string       `json:"reason"`
	CheckedAt  time.Time    `json:"checked_at"`
}

// PermissionExport is a read-only snapshot of a user's access
type PermissionExport struct {
	UserID               string             `json:"user_id"`
	Role                 Role               `json:"role"`
	RolePermissions      []string           `json:"role_permissions"`
	Grants               []*PermissionGrant `json:"grants"`
	EffectivePermissions []string           `json:"effective_permissions"`
	ExportedAt           time.Time          `json:"exported_at"`
}
