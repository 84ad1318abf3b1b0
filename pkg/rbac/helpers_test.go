package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/assessly/pkg/audit"
)

// Tuesday, mid-morning UTC: inside business hours
var testNow = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*EnhancedRBAC, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	engine := NewEnhancedRBAC(DefaultCatalog(), DefaultRoleMatrix(), NewMemoryLedger(),
		append([]Option{WithClock(clock)}, opts...)...)
	t.Cleanup(func() { engine.Close() })
	return engine, clock
}

func newTestEngineWithLedger(t *testing.T, ledger GrantLedger) (*EnhancedRBAC, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	engine := NewEnhancedRBAC(DefaultCatalog(), DefaultRoleMatrix(), ledger, WithClock(clock))
	t.Cleanup(func() { engine.Close() })
	return engine, clock
}

type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAuditLogger) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAuditLogger) Close() error { return nil }

func (r *recordingAuditLogger) Events() []*audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.AuditEvent(nil), r.events...)
}

var errLedgerDown = errors.New("ledger down")

// failingLedger fails every operation
type failingLedger struct{}

func (failingLedger) Append(ctx context.Context, grant *PermissionGrant) error { return errLedgerDown }

func (failingLedger) Remove(ctx context.Context, userID, permissionID string) (int, error) {
	return 0, errLedgerDown
}

func (failingLedger) ListForUser(ctx context.Context, userID string) ([]*PermissionGrant, error) {
	return nil, errLedgerDown
}

func (failingLedger) RemoveExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, errLedgerDown
}

// panickingLedger panics on writes and behaves as empty on reads
type panickingLedger struct{ failingLedger }

func (panickingLedger) Append(ctx context.Context, grant *PermissionGrant) error {
	panic("append exploded")
}

func (panickingLedger) Remove(ctx context.Context, userID, permissionID string) (int, error) {
	panic("remove exploded")
}

func (panickingLedger) ListForUser(ctx context.Context, userID string) ([]*PermissionGrant, error) {
	return nil, nil
}

func newUser(id string, role Role) *User {
	return &User{ID: id, Role: role, OrganizationID: "org-1", DepartmentID: "dept-1"}
}
