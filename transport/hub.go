package transport

import (
	"context"

	"github.com/qanchornet/qanchor/shared"
)

// HubService is what a voucher hub offers callers. Callers are explicit;
// the hub authorizes voucher creation against its configured registry
// address.
type HubService interface {
	CreateVoucher(
		ctx context.Context,
		caller shared.Address,
		qHash shared.QHash,
		targetChains []shared.ChainID,
		verifier shared.VerifierID,
	) (shared.VoucherID, error)
}

// HubBinding connects a registry to its hub in standalone mode: every call
// goes out under the registry's own unit address. The registry side treats
// any error from the binding as a propagation-subsystem outage and falls
// back to a locally-derived voucher id.
type HubBinding struct {
	hub    HubService
	caller shared.Address
}

func NewHubBinding(hub HubService, caller shared.Address) *HubBinding {
	return &HubBinding{hub: hub, caller: caller}
}

func (b *HubBinding) CreateVoucher(
	ctx context.Context,
	qHash shared.QHash,
	targetChains []shared.ChainID,
	verifier shared.VerifierID,
) (shared.VoucherID, error) {
	return b.hub.CreateVoucher(ctx, b.caller, qHash, targetChains, verifier)
}
