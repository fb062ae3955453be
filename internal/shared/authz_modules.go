package shared

// Back-office module permissions consumed by the navigation menu. The business
// modules themselves enforce these through the rbac gates.
const (
	PermDashboardView = "dashboard.view"

	PermSalesView         = "sales.view"
	PermSalesOrderView    = "sales.order.view"
	PermSalesReturnView   = "sales.return.view"
	PermSalesCustomerView = "sales.customer.view"

	PermPurchasesView        = "purchases.view"
	PermPurchaseOrderView    = "purchases.order.view"
	PermPurchaseReceiptView  = "purchases.receipt.view"
	PermPurchaseSupplierView = "purchases.supplier.view"

	PermInventoryView         = "inventory.view"
	PermInventoryProductView  = "inventory.product.view"
	PermInventoryTransferView = "inventory.transfer.view"
	PermInventoryStockView    = "inventory.stock.view"

	PermFinanceView        = "finance.view"
	PermFinanceAccountView = "finance.account.view"
	PermFinanceReceiptView = "finance.receipt.view"
	PermFinanceAssetView   = "finance.asset.view"
	PermFinanceReportView  = "finance.report.view"

	PermHRView           = "hr.view"
	PermHREmployeeView   = "hr.employee.view"
	PermHRAttendanceView = "hr.attendance.view"
	PermHRPayrollView    = "hr.payroll.view"
)

// ModuleScopes lists the navigation permissions of the business modules.
func ModuleScopes() []string {
	return []string{
		PermDashboardView,
		PermSalesView, PermSalesOrderView, PermSalesReturnView, PermSalesCustomerView,
		PermPurchasesView, PermPurchaseOrderView, PermPurchaseReceiptView, PermPurchaseSupplierView,
		PermInventoryView, PermInventoryProductView, PermInventoryTransferView, PermInventoryStockView,
		PermFinanceView, PermFinanceAccountView, PermFinanceReceiptView, PermFinanceAssetView, PermFinanceReportView,
		PermHRView, PermHREmployeeView, PermHRAttendanceView, PermHRPayrollView,
	}
}
