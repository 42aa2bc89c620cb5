package authz

import (
	"context"
	"errors"
	"testing"
	"time"
)

type world struct {
	svc      *Service
	store    *Memory
	resolver *Resolver
	tenant   Tenant
	member   Principal
	role     CustomRole
}

// buildWorld creates a tenant with one member holding the service_manager
// role, with no module access and no grants yet.
func buildWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	store := NewMemory()
	svc, err := NewService(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	tenant, err := svc.CreateTenant(ctx, "Northgate Motors")
	if err != nil {
		t.Fatal(err)
	}
	member, err := svc.CreatePrincipal(ctx, "rory@northgate.example", "Rory", GlobalRoleMember)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddMember(ctx, tenant.ID, member.ID, nil); err != nil {
		t.Fatal(err)
	}
	role, err := svc.CreateRole(ctx, tenant.ID, "service_manager", "Service Manager")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AssignRole(ctx, tenant.ID, member.ID, role.ID); err != nil {
		t.Fatal(err)
	}
	resolver, err := NewResolver(store)
	if err != nil {
		t.Fatal(err)
	}
	return &world{svc: svc, store: store, resolver: resolver, tenant: tenant, member: member, role: role}
}

func (w *world) resolve(t *testing.T, principalID, module, key string) Decision {
	t.Helper()
	d, err := w.resolver.Resolve(context.Background(), CheckRequest{
		PrincipalID: principalID,
		TenantID:    w.tenant.ID,
		Module:      module,
		Key:         key,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return d
}

func TestGlobalAdminAlwaysAllowed(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	admin, err := w.svc.CreatePrincipal(ctx, "ops@dealerdesk.example", "Ops", GlobalRoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	// No membership, no roles, module never enabled, key not in the catalog.
	checks := [][2]string{
		{ModuleSalesOrders, "orders.delete"},
		{ModuleChat, PermChatModerate},
		{ModuleReports, "no.such.key"},
	}
	for _, c := range checks {
		d := w.resolve(t, admin.ID, c[0], c[1])
		if !d.Allowed || d.Reason != ReasonGlobalAdmin {
			t.Fatalf("admin check %v: got %+v", c, d)
		}
	}

	// Even against a deactivated tenant.
	if err := w.svc.DeactivateTenant(ctx, w.tenant.ID); err != nil {
		t.Fatal(err)
	}
	d := w.resolve(t, admin.ID, ModuleSalesOrders, "orders.view")
	if !d.Allowed || d.Reason != ReasonGlobalAdmin {
		t.Fatalf("admin check on deactivated tenant: got %+v", d)
	}
}

func TestDenyWithoutActiveMembership(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	stranger, err := w.svc.CreatePrincipal(ctx, "visitor@elsewhere.example", "", GlobalRoleMember)
	if err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, stranger.ID, ModuleSalesOrders, "orders.view"); d.Allowed || d.Reason != ReasonNotAMember {
		t.Fatalf("non-member: got %+v", d)
	}

	// Deactivated membership.
	if err := w.svc.DeactivateMember(ctx, w.tenant.ID, w.member.ID); err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.view"); d.Allowed || d.Reason != ReasonNotAMember {
		t.Fatalf("deactivated membership: got %+v", d)
	}

	// Expired membership: expiry is evaluated at read time, no sweeper runs.
	past := time.Now().UTC().Add(-time.Hour)
	if _, err := w.store.UpsertMembership(ctx, w.tenant.ID, w.member.ID, &past); err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.view"); d.Allowed || d.Reason != ReasonNotAMember {
		t.Fatalf("expired membership: got %+v", d)
	}
}

func TestDenyOnDeactivatedTenant(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.view"}); err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.view"); !d.Allowed {
		t.Fatalf("expected allow before deactivation, got %+v", d)
	}
	if err := w.svc.DeactivateTenant(ctx, w.tenant.ID); err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.view"); d.Allowed || d.Reason != ReasonNotAMember {
		t.Fatalf("deactivated tenant: got %+v", d)
	}
}

func TestDenyWithoutRoles(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.UnassignRole(ctx, w.tenant.ID, w.member.ID, w.role.ID); err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.view"); d.Allowed || d.Reason != ReasonNoRoles {
		t.Fatalf("roleless member: got %+v", d)
	}
}

func TestInactiveRoleContributesNothing(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.view"}); err != nil {
		t.Fatal(err)
	}
	inactive := false
	if _, err := w.svc.UpdateRole(ctx, w.tenant.ID, w.role.ID, RoleUpdate{Active: &inactive}); err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.view"); d.Allowed || d.Reason != ReasonNoRoles {
		t.Fatalf("inactive role: got %+v", d)
	}
}

// TestServiceManagerScenario walks the canonical flow: service_orders enabled
// with orders.update granted allows exactly that key and nothing else.
func TestServiceManagerScenario(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.update"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.svc.SetModuleAccess(ctx, w.tenant.ID, w.role.ID, ModuleServiceOrders, true); err != nil {
		t.Fatal(err)
	}

	d := w.resolve(t, w.member.ID, ModuleServiceOrders, "orders.update")
	if !d.Allowed || d.Reason != ReasonGranted {
		t.Fatalf("orders.update: got %+v", d)
	}
	if len(d.MatchedRoles) != 1 || d.MatchedRoles[0] != "service_manager" {
		t.Fatalf("matched roles: got %v", d.MatchedRoles)
	}

	if d := w.resolve(t, w.member.ID, ModuleServiceOrders, "orders.delete"); d.Allowed || d.Reason != ReasonNotGranted {
		t.Fatalf("orders.delete: got %+v", d)
	}
}

func TestModuleGateIndependentOfGrants(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.view"}); err != nil {
		t.Fatal(err)
	}
	// Granting enabled sales_orders; a module with no grants stays closed.
	if d := w.resolve(t, w.member.ID, ModuleInventory, "inventory.view"); d.Allowed || d.Reason != ReasonModuleDisabled {
		t.Fatalf("inventory: got %+v", d)
	}
}

// TestPreReconciliationDenyPostReconciliationAllow reproduces the production
// failure mode: a role holding granted keys for a module whose access row was
// disabled after the fact. Resolution must deny and name the inconsistency;
// the repair pass restores the allow.
func TestPreReconciliationDenyPostReconciliationAllow(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.create"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.svc.SetModuleAccess(ctx, w.tenant.ID, w.role.ID, ModuleSalesOrders, false); err != nil {
		t.Fatal(err)
	}

	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.create"); d.Allowed || d.Reason != ReasonInconsistentRole {
		t.Fatalf("pre-reconciliation: got %+v", d)
	}

	repairs, err := w.svc.Reconcile(ctx, w.tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(repairs) != 1 || repairs[0].Module != ModuleSalesOrders || !repairs[0].Disabled {
		t.Fatalf("repairs: got %+v", repairs)
	}

	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.create"); !d.Allowed || d.Reason != ReasonGranted {
		t.Fatalf("post-reconciliation: got %+v", d)
	}
}

func TestReconciliationRepairsMissingRow(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	// Write grants without module rows straight through the store, the way
	// legacy data arrived before mutation-time repair existed.
	if err := w.store.ReplaceGrants(ctx, w.role.ID, []string{"service.close"}, nil); err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, w.member.ID, ModuleServiceOrders, "service.close"); d.Allowed || d.Reason != ReasonInconsistentRole {
		t.Fatalf("missing row: got %+v", d)
	}

	repairs, err := w.svc.Reconcile(ctx, w.tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(repairs) != 1 || repairs[0].Disabled {
		t.Fatalf("repairs: got %+v", repairs)
	}
	if d := w.resolve(t, w.member.ID, ModuleServiceOrders, "service.close"); !d.Allowed {
		t.Fatalf("post-repair: got %+v", d)
	}
}

func TestReconciliationIdempotent(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.store.ReplaceGrants(ctx, w.role.ID, []string{"orders.view", "service.view"}, nil); err != nil {
		t.Fatal(err)
	}
	first, err := w.svc.Reconcile(ctx, w.tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("first pass: got %+v", first)
	}
	second, err := w.svc.Reconcile(ctx, w.tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatalf("second pass should repair nothing, got %+v", second)
	}
}

// TestUnionOverEnabledRolesOnly holds two roles: one with chat open, one with
// chat closed but chat.moderate granted. The closed role's grants must not
// leak into the union.
func TestUnionOverEnabledRolesOnly(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{PermChatView}); err != nil {
		t.Fatal(err)
	}

	moderator, err := w.svc.CreateRole(ctx, w.tenant.ID, "moderator", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.svc.AssignRole(ctx, w.tenant.ID, w.member.ID, moderator.ID); err != nil {
		t.Fatal(err)
	}
	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, moderator.ID, []string{PermChatModerate}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.svc.SetModuleAccess(ctx, w.tenant.ID, moderator.ID, ModuleChat, false); err != nil {
		t.Fatal(err)
	}

	if d := w.resolve(t, w.member.ID, ModuleChat, PermChatView); !d.Allowed {
		t.Fatalf("chat.view: got %+v", d)
	}
	if d := w.resolve(t, w.member.ID, ModuleChat, PermChatModerate); d.Allowed || d.Reason != ReasonNotGranted {
		t.Fatalf("chat.moderate via closed role: got %+v", d)
	}
}

type failingStore struct{}

func (failingStore) Snapshot(context.Context, string, string) (Snapshot, error) {
	return Snapshot{}, errors.New("store down")
}

func (failingStore) TenantCatalog(context.Context, string) (Catalog, error) {
	return Catalog{}, errors.New("store down")
}

func (failingStore) PrincipalState(context.Context, string, string) (PrincipalState, error) {
	return PrincipalState{}, errors.New("store down")
}

func TestLookupErrorResolvesToDeny(t *testing.T) {
	r, err := NewResolver(failingStore{})
	if err != nil {
		t.Fatal(err)
	}
	d, err := r.Resolve(context.Background(), CheckRequest{
		PrincipalID: "p", TenantID: "t", Module: ModuleChat, Key: PermChatView,
	})
	if err == nil {
		t.Fatal("expected an error from a failing store")
	}
	if d.Allowed || d.Reason != ReasonLookupFailed {
		t.Fatalf("failing store: got %+v", d)
	}
}

func TestResolveValidation(t *testing.T) {
	w := buildWorld(t)
	_, err := w.resolver.Resolve(context.Background(), CheckRequest{PrincipalID: " ", TenantID: w.tenant.ID, Module: ModuleChat, Key: PermChatView})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, err = w.resolver.Resolve(context.Background(), CheckRequest{PrincipalID: w.member.ID, TenantID: w.tenant.ID, Module: "", Key: PermChatView})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDecisionErrTaxonomy(t *testing.T) {
	cases := []struct {
		d    Decision
		want error
	}{
		{Decision{Allowed: true, Reason: ReasonGranted}, nil},
		{Decision{Allowed: true, Reason: ReasonGlobalAdmin}, nil},
		{Decision{Reason: ReasonNotAMember}, ErrNotAMember},
		{Decision{Reason: ReasonModuleDisabled}, ErrModuleDisabled},
		{Decision{Reason: ReasonInconsistentRole}, ErrInconsistentRoleState},
		{Decision{Reason: ReasonNotGranted}, ErrPermissionNotGranted},
		{Decision{Reason: ReasonNoRoles}, ErrPermissionNotGranted},
		{Decision{Reason: ReasonLookupFailed}, ErrPermissionNotGranted},
	}
	for _, c := range cases {
		got := c.d.Err()
		if c.want == nil && got != nil {
			t.Fatalf("reason %s: expected nil, got %v", c.d.Reason, got)
		}
		if c.want != nil && !errors.Is(got, c.want) {
			t.Fatalf("reason %s: expected %v, got %v", c.d.Reason, c.want, got)
		}
	}
}
