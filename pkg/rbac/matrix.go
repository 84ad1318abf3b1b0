package rbac

import (
	"sort"
	"sync"
)

// RoleMatrix maps each role to the permission IDs it holds unconditionally.
// It has no runtime mutation API; Bind is used while assembling the matrix at startup.
type RoleMatrix struct {
	mu    sync.RWMutex
	sets  map[Role]map[string]struct{}
	order map[Role][]string
}

// NewRoleMatrix creates an empty matrix
func NewRoleMatrix() *RoleMatrix {
	return &RoleMatrix{
		sets:  make(map[Role]map[string]struct{}),
		order: make(map[Role][]string),
	}
}

// Bind adds permission IDs to a role, ignoring ones it already holds
func (m *RoleMatrix) Bind(role Role, permissionIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[role]
	if !ok {
		set = make(map[string]struct{})
		m.sets[role] = set
	}
	for _, id := range permissionIDs {
		if _, held := set[id]; held {
			continue
		}
		set[id] = struct{}{}
		m.order[role] = append(m.order[role], id)
	}
}

// Has reports whether role holds permissionID. Unknown roles hold nothing.
func (m *RoleMatrix) Has(role Role, permissionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sets[role][permissionID]
	return ok
}

// Permissions returns a copy of the role's permission IDs in binding order
func (m *RoleMatrix) Permissions(role Role) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.order[role]
	result := make([]string, len(ids))
	copy(result, ids)
	return result
}

// Roles returns the roles known to the matrix, sorted by name
func (m *RoleMatrix) Roles() []Role {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := make([]Role, 0, len(m.sets))
	for role := range m.sets {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Snapshot returns role -> permission IDs
func (m *RoleMatrix) Snapshot() map[Role][]string {
	result := make(map[Role][]string)
	for _, role := range m.Roles() {
		result[role] = m.Permissions(role)
	}
	return result
}

// DefaultRoleMatrix returns the built-in role defaults.
// Every ID bound here exists in DefaultCatalog.
func DefaultRoleMatrix() *RoleMatrix {
	m := NewRoleMatrix()

	viewer := []string{
		"organizations.view",
		"users.view",
		"assessments.view",
		"assignments.view",
		"reports.view",
		"teams.view",
		"tags.view",
	}

	employee := []string{
		"users.view",
		"assessments.view",
		"assignments.view",
		"responses.submit",
		"teams.view",
		"tags.view",
	}

	manager := append(append([]string{}, employee...),
		"users.edit.profile",
		"assignments.create",
		"assignments.edit",
		"responses.view.anonymous",
		"reports.view",
		"reports.export",
		"teams.manage",
	)

	hrManager := append(append([]string{}, manager...),
		"users.create",
		"users.edit",
		"users.import",
		"assessments.create",
		"assessments.edit",
		"assessments.publish",
		"assignments.delete",
		"responses.view",
		"reports.export.raw",
		"tags.manage",
		"permissions.view",
	)

	orgAdmin := append(append([]string{}, hrManager...),
		"organizations.view",
		"organizations.edit",
		"users.edit.role",
		"users.delete",
		"assessments.delete",
		"settings.view",
		"settings.manage",
		"permissions.manage",
		"audit.view",
	)

	superAdmin := make([]string, 0)
	for _, p := range DefaultCatalog().List() {
		superAdmin = append(superAdmin, p.ID)
	}

	m.Bind(RoleViewer, viewer...)
	m.Bind(RoleEmployee, employee...)
	m.Bind(RoleManager, manager...)
	m.Bind(RoleHRManager, hrManager...)
	m.Bind(RoleOrgAdmin, orgAdmin...)
	m.Bind(RoleSuperAdmin, superAdmin...)

	return m
}
