package shared

import (
	"context"
	"fmt"
)

// Retail permissions declared for RBAC.
const (
	PermInventoryView   = "inventory.view"
	PermInventoryAdjust = "inventory.adjust"

	PermTransferView    = "transfer.view"
	PermTransferCreate  = "transfer.create"
	PermTransferApprove = "transfer.approve"
	PermTransferReject  = "transfer.reject"
	PermTransferSend    = "transfer.send"
	PermTransferReceive = "transfer.receive"
	PermTransferDelete  = "transfer.delete"

	PermSaleView   = "sale.view"
	PermSaleCreate = "sale.create"

	PermMasterView = "masterdata.view"
	PermMasterEdit = "masterdata.edit"

	PermRoleManage = "rbac.manage"
)

// InventoryScopes lists stock permissions.
func InventoryScopes() []string {
	return []string{PermInventoryView, PermInventoryAdjust}
}

// TransferScopes lists transfer workflow permissions.
func TransferScopes() []string {
	return []string{
		PermTransferView,
		PermTransferCreate,
		PermTransferApprove,
		PermTransferReject,
		PermTransferSend,
		PermTransferReceive,
		PermTransferDelete,
	}
}

// SaleScopes lists point of sale permissions.
func SaleScopes() []string {
	return []string{PermSaleView, PermSaleCreate}
}

// MasterScopes lists catalog permissions.
func MasterScopes() []string {
	return []string{PermMasterView, PermMasterEdit}
}

// AllScopes lists every permission the service declares.
func AllScopes() []string {
	var out []string
	out = append(out, InventoryScopes()...)
	out = append(out, TransferScopes()...)
	out = append(out, SaleScopes()...)
	out = append(out, MasterScopes()...)
	out = append(out, PermRoleManage)
	return out
}

// Authorizer answers capability questions for an actor.
type Authorizer interface {
	Can(ctx context.Context, actorID int64, permission string) (bool, error)
}

// Require returns a *ForbiddenError unless the actor holds permission.
func Require(ctx context.Context, authz Authorizer, actorID int64, permission string) error {
	if actorID <= 0 {
		return &ForbiddenError{ActorID: actorID, Permission: permission}
	}
	if authz == nil {
		return &ForbiddenError{ActorID: actorID, Permission: permission}
	}
	ok, err := authz.Can(ctx, actorID, permission)
	if err != nil {
		return fmt.Errorf("check permission %s: %w", permission, err)
	}
	if !ok {
		return &ForbiddenError{ActorID: actorID, Permission: permission}
	}
	return nil
}

// AllowAll grants every permission. Used by tooling and tests.
type AllowAll struct{}

// Can implements Authorizer.
func (AllowAll) Can(context.Context, int64, string) (bool, error) { return true, nil }
