package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"dealerdesk.io/internal/obs"
)

// Decision reasons, machine-readable and stable.
const (
	ReasonGlobalAdmin      = "global_admin"
	ReasonGranted          = "granted"
	ReasonNotAMember       = "not_a_member"
	ReasonNoRoles          = "no_roles"
	ReasonModuleDisabled   = "module_disabled"
	ReasonNotGranted       = "permission_not_granted"
	ReasonInconsistentRole = "inconsistent_role_state"
	ReasonLookupFailed     = "lookup_failed"
)

type CheckRequest struct {
	PrincipalID string
	TenantID    string
	Module      string
	Key         string
}

// Decision is the result of one resolution. MatchedRoles names the roles
// whose grants produced an allow, for diagnostics.
type Decision struct {
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason"`
	MatchedRoles []string  `json:"matched_roles,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Err maps a deny to the engine's error taxonomy. Allowed decisions map to
// nil. Denies without a more specific class map to ErrPermissionNotGranted.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonNotAMember:
		return ErrNotAMember
	case ReasonModuleDisabled:
		return ErrModuleDisabled
	case ReasonInconsistentRole:
		return ErrInconsistentRoleState
	default:
		return ErrPermissionNotGranted
	}
}

// Resolver computes allow/deny decisions. It is stateless and safe for
// concurrent use; every call reads one consistent snapshot and never caches
// implicitly. Wrap the store with CachedStore for explicit caching.
type Resolver struct {
	store ResolveStore
	now   func() time.Time
}

func NewResolver(store ResolveStore) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("resolve store is required")
	}
	return &Resolver{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Resolve runs the ordered decision algorithm, first match wins:
//
//  1. top-tier global role: allow
//  2. no active membership (or inactive tenant): deny
//  3. no active roles: deny
//  4. module not enabled for any held role: deny
//  5. key in the grant union of module-enabled roles: allow, else deny
//
// A non-nil error means the snapshot read itself failed; the returned
// decision is still a deny, so callers that ignore the error fail closed.
// Callers that care may retry, since such a deny is transient.
func (r *Resolver) Resolve(ctx context.Context, req CheckRequest) (Decision, error) {
	req.PrincipalID = strings.TrimSpace(req.PrincipalID)
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.Module = strings.TrimSpace(req.Module)
	req.Key = strings.TrimSpace(req.Key)
	if req.PrincipalID == "" || req.TenantID == "" {
		return Decision{}, fmt.Errorf("%w: principal_id and tenant_id are required", ErrInvalidInput)
	}
	if req.Module == "" || req.Key == "" {
		return Decision{}, fmt.Errorf("%w: module and permission key are required", ErrInvalidInput)
	}

	now := r.now()
	snap, err := r.store.Snapshot(ctx, req.PrincipalID, req.TenantID)
	if err != nil {
		d := Decision{Reason: ReasonLookupFailed, CheckedAt: now}
		obs.ObserveDecision(d.Reason, d.Allowed)
		return d, fmt.Errorf("authz snapshot: %w", err)
	}

	d := evaluate(snap, req.Module, req.Key, now)
	if d.Reason == ReasonInconsistentRole {
		log.Error().
			Str("tenant_id", req.TenantID).
			Str("principal_id", req.PrincipalID).
			Str("module", req.Module).
			Msg("granted keys imply a module that is not enabled, denying")
	}
	obs.ObserveDecision(d.Reason, d.Allowed)
	return d, nil
}

// evaluate is the pure core of the algorithm. Everything it reads comes from
// the snapshot, so a decision can never mix two catalog states.
func evaluate(snap Snapshot, module, key string, now time.Time) Decision {
	d := Decision{CheckedAt: now}

	if snap.Principal.GlobalRole == GlobalRoleAdmin {
		d.Allowed = true
		d.Reason = ReasonGlobalAdmin
		return d
	}

	if !snap.Tenant.Active || !snap.Membership.ActiveAt(now) {
		d.Reason = ReasonNotAMember
		return d
	}

	if len(snap.Roles) == 0 {
		d.Reason = ReasonNoRoles
		return d
	}

	var enabled []RoleState
	for _, rs := range snap.Roles {
		if rs.Enabled(module) {
			enabled = append(enabled, rs)
		}
	}
	if len(enabled) == 0 {
		if grantsImplyModule(snap.Roles, module) {
			d.Reason = ReasonInconsistentRole
		} else {
			d.Reason = ReasonModuleDisabled
		}
		return d
	}

	// The union is taken over module-enabled roles only. A role whose gate
	// is closed contributes nothing, even when it holds the key.
	for _, rs := range enabled {
		for _, granted := range rs.Grants {
			if granted == key {
				d.MatchedRoles = append(d.MatchedRoles, rs.Role.Name)
				break
			}
		}
	}
	if len(d.MatchedRoles) > 0 {
		sort.Strings(d.MatchedRoles)
		d.Allowed = true
		d.Reason = ReasonGranted
		return d
	}

	d.Reason = ReasonNotGranted
	return d
}

// grantsImplyModule reports whether any gate-closed role holds a granted key
// that the catalog files under the module. That is the historically observed
// broken state the reconciliation pass exists to repair.
func grantsImplyModule(roles []RoleState, module string) bool {
	for _, rs := range roles {
		if rs.Enabled(module) {
			continue
		}
		for _, key := range rs.Grants {
			if perm, ok := PermissionByKey(key); ok && perm.Module == module {
				return true
			}
		}
	}
	return false
}
