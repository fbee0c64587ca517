// Package permission decides whether an actor may run a privileged ledger operation.
package permission

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// AnyResource matches every resource id in a grant.
const AnyResource = "*"

// Gate is consulted before privileged operations and for delegated wallet access.
type Gate interface {
	IsAuthorized(ctx context.Context, actorID uuid.UUID, operation, resourceID string) bool
}

type grantKey struct {
	actor     uuid.UUID
	operation string
}

// PolicyGate authorizes configured admins for everything and other actors
// through explicit per-operation grants.
type PolicyGate struct {
	mu     sync.RWMutex
	admins map[uuid.UUID]struct{}
	grants map[grantKey]map[string]struct{}
}

func NewPolicyGate(admins ...uuid.UUID) *PolicyGate {
	g := &PolicyGate{
		admins: make(map[uuid.UUID]struct{}, len(admins)),
		grants: make(map[grantKey]map[string]struct{}),
	}
	for _, id := range admins {
		g.admins[id] = struct{}{}
	}
	return g
}

// AddAdmin promotes actorID to full access.
func (g *PolicyGate) AddAdmin(actorID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.admins[actorID] = struct{}{}
}

// IsAdmin reports whether actorID was configured as an admin.
func (g *PolicyGate) IsAdmin(actorID uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.admins[actorID]
	return ok
}

// Grant lets actorID run operation on resourceID (or AnyResource).
func (g *PolicyGate) Grant(actorID uuid.UUID, operation, resourceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := grantKey{actor: actorID, operation: operation}
	if g.grants[k] == nil {
		g.grants[k] = make(map[string]struct{})
	}
	g.grants[k][resourceID] = struct{}{}
}

// Revoke removes a grant added with Grant.
func (g *PolicyGate) Revoke(actorID uuid.UUID, operation, resourceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := grantKey{actor: actorID, operation: operation}
	delete(g.grants[k], resourceID)
	if len(g.grants[k]) == 0 {
		delete(g.grants, k)
	}
}

func (g *PolicyGate) IsAuthorized(_ context.Context, actorID uuid.UUID, operation, resourceID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.admins[actorID]; ok {
		return true
	}
	resources := g.grants[grantKey{actor: actorID, operation: operation}]
	if resources == nil {
		return false
	}
	if _, ok := resources[AnyResource]; ok {
		return true
	}
	_, ok := resources[resourceID]
	return ok
}

var _ Gate = (*PolicyGate)(nil)
