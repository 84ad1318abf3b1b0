package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/assessly/pkg/contextkeys"
	"github.com/platinummonkey/assessly/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityMiddleware(t *testing.T) {
	var (
		user   *rbac.User
		found  bool
		userID string
	)
	handler := IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, found = rbac.UserFromContext(r.Context())
		userID = contextkeys.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("full identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rbac/me/permissions", nil)
		req.Header.Set(HeaderUserID, "E1")
		req.Header.Set(HeaderUserRole, " Manager ")
		req.Header.Set(HeaderOrganizationID, "org-1")
		req.Header.Set(HeaderDepartmentID, "dept-7")
		req.Header.Set(HeaderUserEmail, "e1@example.com")

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.True(t, found)
		assert.Equal(t, &rbac.User{
			ID:             "E1",
			Role:           rbac.RoleManager,
			OrganizationID: "org-1",
			DepartmentID:   "dept-7",
			Email:          "e1@example.com",
		}, user)
		assert.Equal(t, "E1", userID)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, found)
		assert.Empty(t, userID)
	})

	t.Run("missing role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "E1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), HeaderUserRole)
	})
}

func TestIdentityMiddleware_WithPermissionGuard(t *testing.T) {
	engine := rbac.NewEnhancedRBAC(nil, nil, nil)
	defer engine.Close()

	guarded := IdentityMiddleware(rbac.NewPermissionMiddleware(engine).RequirePermission("teams.manage")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	))

	serve := func(role string) int {
		req := httptest.NewRequest(http.MethodPost, "/teams", nil)
		if role != "" {
			req.Header.Set(HeaderUserID, "U1")
			req.Header.Set(HeaderUserRole, role)
		}
		w := httptest.NewRecorder()
		guarded.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(""))
	assert.Equal(t, http.StatusForbidden, serve("employee"))
	assert.Equal(t, http.StatusOK, serve("manager"))
}
