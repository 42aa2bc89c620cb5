package authz

// Modules are the coarse functional areas of the platform. Each one is gated
// per role independently of individual permission grants.
const (
	ModuleSalesOrders   = "sales_orders"
	ModuleServiceOrders = "service_orders"
	ModuleInventory     = "inventory"
	ModuleCustomers     = "customers"
	ModuleAppointments  = "appointments"
	ModuleInvoicing     = "invoicing"
	ModuleChat          = "chat"
	ModuleReports       = "reports"
)

// System-level keys are granted to principals directly, never to tenant roles.
const (
	PermTenantsManage     = "platform.tenants.manage"
	PermRolesManage       = "platform.roles.manage"
	PermInvitationsManage = "platform.invitations.manage"
	PermAuditView         = "platform.audit.view"
)

const (
	PermChatView     = "chat.view"
	PermChatSend     = "chat.send"
	PermChatModerate = "chat.moderate"
)

// BuiltinPermissions is the permission catalog. It is versioned by addition
// only: keys are never repurposed or removed.
var BuiltinPermissions = []Permission{
	{Key: "orders.view", Module: ModuleSalesOrders, Label: "View sales orders"},
	{Key: "orders.create", Module: ModuleSalesOrders, Label: "Create sales orders"},
	{Key: "orders.update", Module: ModuleSalesOrders, Label: "Update sales orders"},
	{Key: "orders.delete", Module: ModuleSalesOrders, Label: "Delete sales orders"},
	{Key: "orders.approve", Module: ModuleSalesOrders, Label: "Approve sales orders"},

	{Key: "service.view", Module: ModuleServiceOrders, Label: "View service orders"},
	{Key: "service.create", Module: ModuleServiceOrders, Label: "Create service orders"},
	{Key: "service.update", Module: ModuleServiceOrders, Label: "Update service orders"},
	{Key: "service.assign", Module: ModuleServiceOrders, Label: "Assign service orders to technicians"},
	{Key: "service.close", Module: ModuleServiceOrders, Label: "Close service orders"},

	{Key: "inventory.view", Module: ModuleInventory, Label: "View vehicle and parts inventory"},
	{Key: "inventory.adjust", Module: ModuleInventory, Label: "Adjust inventory quantities"},
	{Key: "inventory.transfer", Module: ModuleInventory, Label: "Transfer inventory between locations"},

	{Key: "customers.view", Module: ModuleCustomers, Label: "View customer records"},
	{Key: "customers.create", Module: ModuleCustomers, Label: "Create customer records"},
	{Key: "customers.update", Module: ModuleCustomers, Label: "Update customer records"},
	{Key: "customers.merge", Module: ModuleCustomers, Label: "Merge duplicate customer records"},

	{Key: "appointments.view", Module: ModuleAppointments, Label: "View appointments"},
	{Key: "appointments.create", Module: ModuleAppointments, Label: "Book appointments"},
	{Key: "appointments.update", Module: ModuleAppointments, Label: "Reschedule appointments"},
	{Key: "appointments.cancel", Module: ModuleAppointments, Label: "Cancel appointments"},

	{Key: "invoices.view", Module: ModuleInvoicing, Label: "View invoices"},
	{Key: "invoices.create", Module: ModuleInvoicing, Label: "Create draft invoices"},
	{Key: "invoices.issue", Module: ModuleInvoicing, Label: "Issue invoices"},
	{Key: "invoices.void", Module: ModuleInvoicing, Label: "Void issued invoices"},

	{Key: PermChatView, Module: ModuleChat, Label: "View conversations"},
	{Key: PermChatSend, Module: ModuleChat, Label: "Send messages"},
	{Key: PermChatModerate, Module: ModuleChat, Label: "Moderate conversations"},

	{Key: "reports.view", Module: ModuleReports, Label: "View reports"},
	{Key: "reports.export", Module: ModuleReports, Label: "Export reports"},

	{Key: PermTenantsManage, Label: "Manage tenants"},
	{Key: PermRolesManage, Label: "Manage roles across tenants"},
	{Key: PermInvitationsManage, Label: "Manage invitations across tenants"},
	{Key: PermAuditView, Label: "View the audit log"},
}

var permissionIndex = func() map[string]Permission {
	idx := make(map[string]Permission, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		idx[p.Key] = p
	}
	return idx
}()

var moduleSet = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range BuiltinPermissions {
		if p.Module != "" {
			set[p.Module] = struct{}{}
		}
	}
	return set
}()

// PermissionByKey looks a key up in the built-in catalog.
func PermissionByKey(key string) (Permission, bool) {
	p, ok := permissionIndex[key]
	return p, ok
}

// ValidModule reports whether the module name exists in the catalog.
func ValidModule(module string) bool {
	_, ok := moduleSet[module]
	return ok
}

// ValidGlobalRole reports whether the coarse role is one of the known tiers.
func ValidGlobalRole(role string) bool {
	switch role {
	case GlobalRoleAdmin, GlobalRoleStaff, GlobalRoleMember:
		return true
	}
	return false
}
