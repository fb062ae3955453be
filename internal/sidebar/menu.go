// Package sidebar derives the back-office navigation menu from a user's
// effective permissions.
package sidebar

import (
	"github.com/odyssey-erp/accesscore/internal/rbac"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// Node is one entry of the navigation tree. A node without Permission is a
// pure grouping node and survives only through its children.
type Node struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Path       string `json:"path,omitempty"`
	Icon       string `json:"icon,omitempty"`
	Permission string `json:"-"`
	Children   []Node `json:"children,omitempty"`
}

// Tree is the full, unfiltered navigation of the back office.
var Tree = []Node{
	{Key: "dashboard", Label: "Dashboard", Path: "/dashboard", Icon: "home", Permission: shared.PermDashboardView},
	{Key: "sales", Label: "Sales", Icon: "shopping-cart", Permission: shared.PermSalesView, Children: []Node{
		{Key: "sales.orders", Label: "Orders", Path: "/sales/orders", Permission: shared.PermSalesOrderView},
		{Key: "sales.returns", Label: "Returns", Path: "/sales/returns", Permission: shared.PermSalesReturnView},
		{Key: "sales.customers", Label: "Customers", Path: "/sales/customers", Permission: shared.PermSalesCustomerView},
	}},
	{Key: "purchases", Label: "Purchases", Icon: "truck", Permission: shared.PermPurchasesView, Children: []Node{
		{Key: "purchases.orders", Label: "Purchase Orders", Path: "/purchases/orders", Permission: shared.PermPurchaseOrderView},
		{Key: "purchases.receipts", Label: "Goods Receipts", Path: "/purchases/receipts", Permission: shared.PermPurchaseReceiptView},
		{Key: "purchases.suppliers", Label: "Suppliers", Path: "/purchases/suppliers", Permission: shared.PermPurchaseSupplierView},
	}},
	{Key: "inventory", Label: "Inventory", Icon: "box", Permission: shared.PermInventoryView, Children: []Node{
		{Key: "inventory.products", Label: "Products", Path: "/inventory/products", Permission: shared.PermInventoryProductView},
		{Key: "inventory.transfers", Label: "Transfers", Path: "/inventory/transfers", Permission: shared.PermInventoryTransferView},
		{Key: "inventory.stock", Label: "Stock", Path: "/inventory/stock", Permission: shared.PermInventoryStockView},
	}},
	{Key: "finance", Label: "Finance", Icon: "wallet", Permission: shared.PermFinanceView, Children: []Node{
		{Key: "finance.accounts", Label: "Accounts", Path: "/finance/accounts", Permission: shared.PermFinanceAccountView},
		{Key: "finance.receipts", Label: "Receipts", Path: "/finance/receipts", Permission: shared.PermFinanceReceiptView},
		{Key: "finance.assets", Label: "Fixed Assets", Path: "/finance/assets", Permission: shared.PermFinanceAssetView},
		{Key: "finance.reports", Label: "Reports", Path: "/finance/reports", Permission: shared.PermFinanceReportView},
	}},
	{Key: "hr", Label: "Human Resources", Icon: "users", Permission: shared.PermHRView, Children: []Node{
		{Key: "hr.employees", Label: "Employees", Path: "/hr/employees", Permission: shared.PermHREmployeeView},
		{Key: "hr.attendance", Label: "Attendance", Path: "/hr/attendance", Permission: shared.PermHRAttendanceView},
		{Key: "hr.payroll", Label: "Payroll", Path: "/hr/payroll", Permission: shared.PermHRPayrollView},
	}},
	{Key: "admin", Label: "Administration", Icon: "shield", Children: []Node{
		{Key: "admin.users", Label: "Users", Path: "/admin/users", Permission: shared.PermUsersView},
		{Key: "admin.roles", Label: "Roles", Path: "/admin/roles", Permission: shared.PermRolesView},
		{Key: "admin.permissions", Label: "Permissions", Path: "/admin/permissions", Permission: shared.PermPermissionsView},
		{Key: "admin.sessions", Label: "Sessions", Path: "/admin/sessions", Permission: shared.PermSessionsView},
		{Key: "admin.audit", Label: "Audit Log", Path: "/admin/audit-logs", Permission: shared.PermAuditView},
	}},
}

// Build filters Tree against set.
func Build(set rbac.PermissionSet) []Node {
	return Filter(Tree, set)
}

// Filter keeps a node when its own permission is held or when at least one
// of its children survives. The input tree is not modified. Returned nodes
// carry no permission key, matching what a cached menu decodes to.
func Filter(nodes []Node, set rbac.PermissionSet) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		children := Filter(n.Children, set)
		own := n.Permission != "" && set.Has(n.Permission)
		if !own && len(children) == 0 {
			continue
		}
		n.Permission = ""
		n.Children = nil
		if len(children) > 0 {
			n.Children = children
		}
		out = append(out, n)
	}
	return out
}
