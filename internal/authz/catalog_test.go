package authz

import (
	"context"
	"errors"
	"testing"
)

func TestReplaceGrantsEnablesCataloguedModules(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{
		"orders.view", "service.view", "service.close", "orders.view",
	})
	if err != nil {
		t.Fatal(err)
	}

	keys, err := w.svc.RoleGrants(ctx, w.tenant.ID, w.role.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected deduped grants, got %v", keys)
	}

	access, err := w.svc.RoleModules(ctx, w.tenant.ID, w.role.ID)
	if err != nil {
		t.Fatal(err)
	}
	enabled := map[string]bool{}
	for _, a := range access {
		enabled[a.Module] = a.Enabled
	}
	if !enabled[ModuleSalesOrders] || !enabled[ModuleServiceOrders] {
		t.Fatalf("modules not enabled alongside grants: %+v", enabled)
	}
}

func TestReplaceGrantsRejectsUnknownAndSystemKeys(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.teleport"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key: got %v", err)
	}
	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{PermTenantsManage}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("system key: got %v", err)
	}
	// A failed replace leaves existing grants untouched.
	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.view"}); err != nil {
		t.Fatal(err)
	}
	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.view", "orders.teleport"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mixed keys: got %v", err)
	}
	keys, err := w.svc.RoleGrants(ctx, w.tenant.ID, w.role.ID)
	if err != nil || len(keys) != 1 || keys[0] != "orders.view" {
		t.Fatalf("grants after failed replace: %v err=%v", keys, err)
	}
}

func TestDeleteRoleCascades(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if err := w.svc.ReplaceGrants(ctx, w.tenant.ID, w.role.ID, []string{"orders.view"}); err != nil {
		t.Fatal(err)
	}
	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.view"); !d.Allowed {
		t.Fatalf("precondition: %+v", d)
	}

	if err := w.svc.DeleteRole(ctx, w.tenant.ID, w.role.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := w.svc.Role(ctx, w.tenant.ID, w.role.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("role after delete: got %v", err)
	}
	roles, err := w.svc.MemberRoles(ctx, w.tenant.ID, w.member.ID)
	if err != nil || len(roles) != 0 {
		t.Fatalf("assignments survived delete: %+v err=%v", roles, err)
	}
	if d := w.resolve(t, w.member.ID, ModuleSalesOrders, "orders.view"); d.Allowed || d.Reason != ReasonNoRoles {
		t.Fatalf("resolve after delete: %+v", d)
	}
}

func TestSetModuleAccessUnknownModule(t *testing.T) {
	w := buildWorld(t)
	if _, err := w.svc.SetModuleAccess(context.Background(), w.tenant.ID, w.role.ID, "time_travel", true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown module: got %v", err)
	}
}

func TestAssignRoleRequiresMembership(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	outsider, err := w.svc.CreatePrincipal(ctx, "sal@elsewhere.example", "Sal", GlobalRoleMember)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.svc.AssignRole(ctx, w.tenant.ID, outsider.ID, w.role.ID); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("assignment without membership: got %v", err)
	}
}

func TestAssignRoleRejectsInactiveRole(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	inactive := false
	if _, err := w.svc.UpdateRole(ctx, w.tenant.ID, w.role.ID, RoleUpdate{Active: &inactive}); err != nil {
		t.Fatal(err)
	}
	other, err := w.svc.CreatePrincipal(ctx, "lee@northgate.example", "Lee", GlobalRoleMember)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.svc.AddMember(ctx, w.tenant.ID, other.ID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.svc.AssignRole(ctx, w.tenant.ID, other.ID, w.role.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("assigning deactivated role: got %v", err)
	}
}

func TestDuplicateRoleName(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if _, err := w.svc.CreateRole(ctx, w.tenant.ID, "service_manager", "Service Manager"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate name: got %v", err)
	}
	second, err := w.svc.CreateRole(ctx, w.tenant.ID, "parts_clerk", "Parts Clerk")
	if err != nil {
		t.Fatal(err)
	}
	name := "service_manager"
	if _, err := w.svc.UpdateRole(ctx, w.tenant.ID, second.ID, RoleUpdate{Name: &name}); !errors.Is(err, ErrConflict) {
		t.Fatalf("rename collision: got %v", err)
	}
}

func TestSystemGrants(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	if _, err := w.svc.GrantSystem(ctx, w.member.ID, "orders.view"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("tenant key as system grant: got %v", err)
	}
	if _, err := w.svc.GrantSystem(ctx, w.member.ID, PermRolesManage); err != nil {
		t.Fatal(err)
	}
	// Granting the same key again is a no-op.
	if _, err := w.svc.GrantSystem(ctx, w.member.ID, PermRolesManage); err != nil {
		t.Fatalf("repeated grant: %v", err)
	}

	ok, err := w.svc.HasSystemGrant(ctx, w.member.ID, PermRolesManage)
	if err != nil || !ok {
		t.Fatalf("has grant: ok=%v err=%v", ok, err)
	}
	keys, err := w.svc.SystemGrantsFor(ctx, w.member.ID)
	if err != nil || len(keys) != 1 || keys[0] != PermRolesManage {
		t.Fatalf("grants listing: %v err=%v", keys, err)
	}

	if err := w.svc.RevokeSystem(ctx, w.member.ID, PermRolesManage); err != nil {
		t.Fatal(err)
	}
	if ok, _ := w.svc.HasSystemGrant(ctx, w.member.ID, PermRolesManage); ok {
		t.Fatal("grant survived revocation")
	}
}

func TestMemberRolesSkipsInactive(t *testing.T) {
	w := buildWorld(t)
	ctx := context.Background()

	second, err := w.svc.CreateRole(ctx, w.tenant.ID, "advisor", "Advisor")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.svc.AssignRole(ctx, w.tenant.ID, w.member.ID, second.ID); err != nil {
		t.Fatal(err)
	}
	inactive := false
	if _, err := w.svc.UpdateRole(ctx, w.tenant.ID, second.ID, RoleUpdate{Active: &inactive}); err != nil {
		t.Fatal(err)
	}

	roles, err := w.svc.MemberRoles(ctx, w.tenant.ID, w.member.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0].ID != w.role.ID {
		t.Fatalf("expected only the active role, got %+v", roles)
	}

	if err := w.svc.UnassignRole(ctx, w.tenant.ID, w.member.ID, w.role.ID); err != nil {
		t.Fatal(err)
	}
	roles, err = w.svc.MemberRoles(ctx, w.tenant.ID, w.member.ID)
	if err != nil || len(roles) != 0 {
		t.Fatalf("roles after unassign: %+v err=%v", roles, err)
	}
}
