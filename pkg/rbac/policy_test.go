package rbac

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
permissions:
  - id: surveys.launch
    name: Launch survey
    category: assessments
    conditions: [{type: time, rule: business_hours}]
  - id: reports.view
    name: View reports (extended)
    category: reports
    description: Replaces the built-in entry
roles:
  manager: [surveys.launch]
  auditor: [reports.view, audit.view]
`

func TestLoadPolicy(t *testing.T) {
	policy, err := LoadPolicy(strings.NewReader(testPolicy))
	require.NoError(t, err)

	require.Len(t, policy.Permissions, 2)
	assert.Equal(t, "surveys.launch", policy.Permissions[0].ID)
	assert.Equal(t, CategoryAssessments, policy.Permissions[0].Category)
	require.Len(t, policy.Permissions[0].Conditions, 1)
	assert.Equal(t, RuleBusinessHours, policy.Permissions[0].Conditions[0].Rule)
	assert.Equal(t, []string{"surveys.launch"}, policy.Roles[RoleManager])
}

func TestLoadPolicy_Empty(t *testing.T) {
	policy, err := LoadPolicy(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, policy.Permissions)
}

func TestLoadPolicy_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		target error
	}{
		{
			name:   "unknown category",
			input:  "permissions:\n  - id: billing.pay\n    category: billing\n",
			target: ErrUnknownCategory,
		},
		{
			name:   "missing id",
			input:  "permissions:\n  - name: nameless\n    category: tags\n",
			target: ErrInvalidPermission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPolicy(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), err.Error())
		})
	}

	_, err := LoadPolicy(strings.NewReader("permissions: [\n"))
	assert.Error(t, err)

	_, err = LoadPolicy(strings.NewReader("unexpected: true\n"))
	assert.Error(t, err)
}

func TestPolicy_Apply(t *testing.T) {
	policy, err := LoadPolicy(strings.NewReader(testPolicy))
	require.NoError(t, err)

	catalog := DefaultCatalog()
	matrix := DefaultRoleMatrix()
	before := catalog.Len()
	require.NoError(t, policy.Apply(catalog, matrix))

	assert.Equal(t, before+1, catalog.Len())
	replaced, _ := catalog.GetPermission("reports.view")
	assert.Equal(t, "Replaces the built-in entry", replaced.Description)

	assert.True(t, matrix.Has(RoleManager, "surveys.launch"))
	assert.True(t, matrix.Has(RoleManager, "teams.manage"))
	assert.Equal(t, []string{"reports.view", "audit.view"}, matrix.Permissions(Role("auditor")))

	engine := NewEnhancedRBAC(catalog, matrix, nil, WithClock(clockwork.NewFakeClockAt(testNow)))
	defer engine.Close()
	assert.True(t, engine.HasPermission(context.Background(), newUser("M1", RoleManager), "surveys.launch", nil))
}

func TestPolicy_ApplyRejectsUnknownBinding(t *testing.T) {
	policy := &Policy{Roles: map[Role][]string{RoleViewer: {"nope.nothing"}}}

	err := policy.Apply(DefaultCatalog(), DefaultRoleMatrix())
	assert.True(t, errors.Is(err, ErrInvalidPermission))
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o600))

	policy, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Len(t, policy.Permissions, 2)

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
