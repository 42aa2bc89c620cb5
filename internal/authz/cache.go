package authz

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"dealerdesk.io/internal/events"
	"dealerdesk.io/internal/obs"
)

// CachedStore serves resolve snapshots with the tenant-catalog portion held
// in a bounded LRU. The principal portion (who they are, membership, active
// assignments) is read live on every call. Entries are evicted by catalog
// mutation events, never by TTL. Cached catalogs are shared between readers
// and must be treated as read-only.
type CachedStore struct {
	store ResolveStore
	lru   *lru.Cache[string, Catalog]
}

func NewCachedStore(store ResolveStore, size int) (*CachedStore, error) {
	if store == nil {
		return nil, errors.New("resolve store is required")
	}
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, Catalog](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{store: store, lru: cache}, nil
}

// Snapshot composes the cached tenant catalog with live principal state.
func (c *CachedStore) Snapshot(ctx context.Context, principalID, tenantID string) (Snapshot, error) {
	catalog, ok := c.lru.Get(tenantID)
	obs.ObserveCatalogCache(ok)
	if !ok {
		var err error
		catalog, err = c.store.TenantCatalog(ctx, tenantID)
		if err != nil {
			return Snapshot{}, err
		}
		c.lru.Add(tenantID, catalog)
	}

	state, err := c.store.PrincipalState(ctx, principalID, tenantID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Principal:  state.Principal,
		Tenant:     state.Tenant,
		Membership: state.Membership,
		TakenAt:    time.Now().UTC(),
	}
	for _, roleID := range state.AssignedRoleIDs {
		if rs, held := catalog.Roles[roleID]; held {
			snap.Roles = append(snap.Roles, rs)
		}
	}
	return snap, nil
}

func (c *CachedStore) TenantCatalog(ctx context.Context, tenantID string) (Catalog, error) {
	return c.store.TenantCatalog(ctx, tenantID)
}

func (c *CachedStore) PrincipalState(ctx context.Context, principalID, tenantID string) (PrincipalState, error) {
	return c.store.PrincipalState(ctx, principalID, tenantID)
}

// Invalidate drops the tenant's catalog entry.
func (c *CachedStore) Invalidate(tenantID string) {
	if tenantID != "" {
		c.lru.Remove(tenantID)
	}
}

// Watch evicts entries as catalog mutation events arrive, until ctx ends.
func (c *CachedStore) Watch(ctx context.Context, bus *events.Bus) {
	for evt := range bus.Subscribe(ctx) {
		c.Invalidate(evt.TenantID)
	}
}
