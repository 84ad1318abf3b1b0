package rbac

import (
	"fmt"
	"sync"
)

// Catalog is the registry of recognized permissions. It is built at startup and read-only afterwards.
type Catalog struct {
	mu          sync.RWMutex
	permissions map[string]*Permission
	order       []string
}

// NewCatalog creates a catalog holding the given permissions
func NewCatalog(permissions ...Permission) *Catalog {
	c := &Catalog{
		permissions: make(map[string]*Permission, len(permissions)),
	}
	for _, p := range permissions {
		c.Register(p)
	}
	return c
}

// Register adds a permission, replacing any entry with the same ID in place
func (c *Catalog) Register(p Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := p
	if _, exists := c.permissions[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.permissions[p.ID] = &entry
}

// GetPermission returns the catalog entry for id
func (c *Catalog) GetPermission(id string) (*Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.permissions[id]
	return p, ok
}

// GetPermissionsByCategory returns the permissions of a category in registration order
func (c *Catalog) GetPermissionsByCategory(category Category) []*Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Permission, 0)
	for _, id := range c.order {
		if p := c.permissions[id]; p.Category == category {
			result = append(result, p)
		}
	}
	return result
}

// List returns every permission in registration order
func (c *Catalog) List() []*Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Permission, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.permissions[id])
	}
	return result
}

// Categories returns the categories that have at least one permission, in first-seen order
func (c *Catalog) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[Category]bool)
	result := make([]Category, 0)
	for _, id := range c.order {
		category := c.permissions[id].Category
		if !seen[category] {
			seen[category] = true
			result = append(result, category)
		}
	}
	return result
}

// Len returns the number of registered permissions
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Validate checks every entry has an ID and a recognized category
func (c *Catalog) Validate() error {
	for _, p := range c.List() {
		if p.ID == "" {
			return fmt.Errorf("permission with empty id: %w", ErrInvalidPermission)
		}
		if !p.Category.Valid() {
			return fmt.Errorf("permission %s: %w: %q", p.ID, ErrUnknownCategory, p.Category)
		}
	}
	return nil
}

func approvalRequired() []Condition {
	return []Condition{{Type: ConditionTypeContext, Rule: RuleRequireApproval, Value: true}}
}

// DefaultCatalog returns the built-in permission catalog of the assessment console
func DefaultCatalog() *Catalog {
	return NewCatalog(
		// Organization
		Permission{ID: "organizations.view", Name: "View organizations", Category: CategoryOrganization},
		Permission{ID: "organizations.create", Name: "Create organizations", Category: CategoryOrganization},
		Permission{ID: "organizations.edit", Name: "Edit organizations", Category: CategoryOrganization,
			SubPermissions: []SubPermission{
				{ID: "organizations.edit.branding", Name: "Edit branding", ParentID: "organizations.edit"},
				{ID: "organizations.edit.billing", Name: "Edit billing details", ParentID: "organizations.edit"},
			}},
		Permission{ID: "organizations.delete", Name: "Delete organizations", Category: CategoryOrganization,
			Description: "Removes an organization and all of its data",
			Conditions:  approvalRequired()},

		// Users
		Permission{ID: "users.view", Name: "View users", Category: CategoryUsers},
		Permission{ID: "users.create", Name: "Create users", Category: CategoryUsers},
		Permission{ID: "users.edit", Name: "Edit users", Category: CategoryUsers,
			SubPermissions: []SubPermission{
				{ID: "users.edit.profile", Name: "Edit profile", ParentID: "users.edit"},
				{ID: "users.edit.role", Name: "Change role", ParentID: "users.edit"},
			}},
		Permission{ID: "users.edit.profile", Name: "Edit user profiles", Category: CategoryUsers},
		Permission{ID: "users.edit.role", Name: "Change user roles", Category: CategoryUsers},
		Permission{ID: "users.delete", Name: "Delete users", Category: CategoryUsers,
			Conditions: approvalRequired()},
		Permission{ID: "users.import", Name: "Bulk import users", Category: CategoryUsers},

		// Assessments
		Permission{ID: "assessments.view", Name: "View assessments", Category: CategoryAssessments},
		Permission{ID: "assessments.create", Name: "Create assessments", Category: CategoryAssessments},
		Permission{ID: "assessments.edit", Name: "Edit assessments", Category: CategoryAssessments,
			SubPermissions: []SubPermission{
				{ID: "assessments.edit.questions", Name: "Edit questions", ParentID: "assessments.edit"},
				{ID: "assessments.edit.schedule", Name: "Edit schedule", ParentID: "assessments.edit"},
			}},
		Permission{ID: "assessments.delete", Name: "Delete assessments", Category: CategoryAssessments},
		Permission{ID: "assessments.publish", Name: "Publish assessments", Category: CategoryAssessments},

		// Assignments
		Permission{ID: "assignments.view", Name: "View assignments", Category: CategoryAssignments},
		Permission{ID: "assignments.create", Name: "Create assignments", Category: CategoryAssignments},
		Permission{ID: "assignments.edit", Name: "Edit assignments", Category: CategoryAssignments},
		Permission{ID: "assignments.delete", Name: "Delete assignments", Category: CategoryAssignments},

		// Responses
		Permission{ID: "responses.submit", Name: "Submit responses", Category: CategoryResponses},
		Permission{ID: "responses.view", Name: "View responses", Category: CategoryResponses},
		Permission{ID: "responses.view.anonymous", Name: "View anonymized responses", Category: CategoryResponses},

		// Reports
		Permission{ID: "reports.view", Name: "View reports", Category: CategoryReports},
		Permission{ID: "reports.export", Name: "Export reports", Category: CategoryReports,
			SubPermissions: []SubPermission{
				{ID: "reports.export.pdf", Name: "Export PDF", ParentID: "reports.export"},
				{ID: "reports.export.csv", Name: "Export CSV", ParentID: "reports.export"},
			}},
		Permission{ID: "reports.export.raw", Name: "Export raw response data", Category: CategoryReports,
			Conditions: []Condition{{Type: ConditionTypeTime, Rule: RuleBusinessHours}}},

		// Teams
		Permission{ID: "teams.view", Name: "View teams", Category: CategoryTeams},
		Permission{ID: "teams.manage", Name: "Manage teams", Category: CategoryTeams},

		// Tags
		Permission{ID: "tags.view", Name: "View tags", Category: CategoryTags},
		Permission{ID: "tags.manage", Name: "Manage tags", Category: CategoryTags},

		// Settings
		Permission{ID: "settings.view", Name: "View settings", Category: CategorySettings},
		Permission{ID: "settings.manage", Name: "Manage settings", Category: CategorySettings},

		// System
		Permission{ID: "permissions.view", Name: "View permission catalog", Category: CategorySystem},
		Permission{ID: "permissions.manage", Name: "Grant and revoke permissions", Category: CategorySystem},
		Permission{ID: "audit.view", Name: "View audit trail", Category: CategorySystem},
		Permission{ID: "system.admin", Name: "System administration", Category: CategorySystem},
	)
}
