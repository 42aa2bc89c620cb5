package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"dealerdesk.io/internal/events"
	"dealerdesk.io/internal/obs"
)

// ModuleRepair is one role whose granted keys imply a module that is not
// enabled for it. Disabled distinguishes an explicit enabled=false row from
// a missing row.
type ModuleRepair struct {
	RoleID   string   `json:"role_id"`
	RoleName string   `json:"role_name"`
	Module   string   `json:"module"`
	Keys     []string `json:"keys"`
	Disabled bool     `json:"disabled"`
}

// ReconciliationReport lists every module-access inconsistency in the tenant
// without repairing anything.
func (s *Service) ReconciliationReport(ctx context.Context, tenantID string) ([]ModuleRepair, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if _, err := s.store.TenantByID(ctx, tenantID); err != nil {
		return nil, err
	}
	roles, err := s.store.TenantRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var repairs []ModuleRepair
	for _, role := range roles {
		grants, err := s.store.RoleGrants(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		needed := make(map[string][]string)
		for _, key := range grants {
			perm, ok := PermissionByKey(key)
			if !ok || perm.Module == "" {
				continue
			}
			needed[perm.Module] = append(needed[perm.Module], key)
		}
		if len(needed) == 0 {
			continue
		}
		access, err := s.store.RoleModuleAccess(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		state := make(map[string]bool, len(access))
		for _, a := range access {
			state[a.Module] = a.Enabled
		}
		for module, keys := range needed {
			enabled, present := state[module]
			if present && enabled {
				continue
			}
			sort.Strings(keys)
			repairs = append(repairs, ModuleRepair{
				RoleID:   role.ID,
				RoleName: role.Name,
				Module:   module,
				Keys:     keys,
				Disabled: present,
			})
		}
	}
	sort.Slice(repairs, func(i, j int) bool {
		if repairs[i].RoleID != repairs[j].RoleID {
			return repairs[i].RoleID < repairs[j].RoleID
		}
		return repairs[i].Module < repairs[j].Module
	})
	return repairs, nil
}

// Reconcile repairs every inconsistency the report finds by enabling the
// implied module access. Repair only ever adds enabled=true rows, so running
// it twice in a row changes nothing the second time.
func (s *Service) Reconcile(ctx context.Context, tenantID string) ([]ModuleRepair, error) {
	repairs, err := s.ReconciliationReport(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, repair := range repairs {
		if _, err := s.store.SetModuleAccess(ctx, repair.RoleID, repair.Module, true); err != nil {
			return nil, fmt.Errorf("repair %s/%s: %w", repair.RoleID, repair.Module, err)
		}
		log.Info().
			Str("tenant_id", tenantID).
			Str("role_id", repair.RoleID).
			Str("module", repair.Module).
			Bool("was_disabled", repair.Disabled).
			Msg("reconciliation enabled module access")
	}
	obs.ObserveRepairs(len(repairs))
	if len(repairs) > 0 {
		s.publish(events.Event{Kind: events.KindCatalogReconciled, TenantID: strings.TrimSpace(tenantID)})
	}
	return repairs, nil
}
