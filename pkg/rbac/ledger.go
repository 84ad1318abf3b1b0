package rbac

import (
	"context"
	"sync"
	"time"
)

// GrantLedger stores per-user permission grants.
// Several grants for the same user and permission may coexist.
type GrantLedger interface {
	// Append records a new grant
	Append(ctx context.Context, grant *PermissionGrant) error

	// Remove deletes every grant for the user and permission, returning how many were removed
	Remove(ctx context.Context, userID, permissionID string) (int, error)

	// ListForUser returns all grants held by a user, expired ones included
	ListForUser(ctx context.Context, userID string) ([]*PermissionGrant, error)

	// RemoveExpired deletes every grant with an expiry at or before now
	RemoveExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryLedger keeps grants in process memory
type MemoryLedger struct {
	mu     sync.RWMutex
	grants map[string][]*PermissionGrant
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		grants: make(map[string][]*PermissionGrant),
	}
}

// Append records a copy of grant
func (l *MemoryLedger) Append(ctx context.Context, grant *PermissionGrant) error {
	if err := validateGrant(grant); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.grants[grant.UserID] = append(l.grants[grant.UserID], cloneGrant(grant))
	return nil
}

// Remove deletes every grant for the user and permission
func (l *MemoryLedger) Remove(ctx context.Context, userID, permissionID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.grants[userID]
	kept := existing[:0]
	removed := 0
	for _, g := range existing {
		if g.Permission == permissionID {
			removed++
			continue
		}
		kept = append(kept, g)
	}

	if len(kept) == 0 {
		delete(l.grants, userID)
	} else {
		l.grants[userID] = kept
	}
	return removed, nil
}

// ListForUser returns copies of the user's grants in insertion order
func (l *MemoryLedger) ListForUser(ctx context.Context, userID string) ([]*PermissionGrant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	existing := l.grants[userID]
	result := make([]*PermissionGrant, 0, len(existing))
	for _, g := range existing {
		result = append(result, cloneGrant(g))
	}
	return result, nil
}

// RemoveExpired sweeps every user's grants
func (l *MemoryLedger) RemoveExpired(ctx context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for userID, existing := range l.grants {
		kept := existing[:0]
		for _, g := range existing {
			if g.ExpiredAt(now) {
				removed++
				continue
			}
			kept = append(kept, g)
		}
		if len(kept) == 0 {
			delete(l.grants, userID)
		} else {
			l.grants[userID] = kept
		}
	}
	return removed, nil
}

func validateGrant(grant *PermissionGrant) error {
	if grant == nil || grant.UserID == "" || grant.Permission == "" {
		return ErrInvalidGrant
	}
	return nil
}

func cloneGrant(g *PermissionGrant) *PermissionGrant {
	c := *g
	if g.ExpiresAt != nil {
		expires := *g.ExpiresAt
		c.ExpiresAt = &expires
	}
	if g.Conditions != nil {
		c.Conditions = append([]Condition(nil), g.Conditions...)
	}
	if g.Scope != nil {
		scope := *g.Scope
		scope.ResourceIDs = append([]string(nil), g.Scope.ResourceIDs...)
		c.Scope = &scope
	}
	return &c
}
