package registry

import (
	"time"

	"github.com/qanchornet/qanchor/shared"
)

// BpsDenominator is the basis-point scale of the treasury/burn split.
const BpsDenominator = 10000

func DefaultConfig() Config {
	return Config{
		TreasuryBps:   7000,
		TimelockDelay: 48 * time.Hour,
	}
}

//nolint:lll
type Config struct {
	BaseFee        shared.Amount `long:"registry-base-fee"       description:"Verification base fee in token base units"`
	PerChainFee    shared.Amount `long:"registry-per-chain-fee"  description:"Additional verification fee per target chain in token base units"`
	TreasuryBps    uint32        `long:"registry-treasury-bps"   description:"Treasury share of collected fees in basis points; the burn share is the remainder"`
	CreditsEnabled bool          `long:"registry-credits"        description:"Pay fees from relayer-allocated user credits when the allocation covers the fee"`
	TimelockDelay  time.Duration `long:"registry-timelock-delay" description:"Mandatory delay between scheduling and executing a registry parameter change"`
}

// Genesis is the registry's initial state, applied once when the store is
// empty. Address is the unit's own ledger account, holding the credit pool.
// A zero Burn wallet routes burn shares to the conventional dead address.
type Genesis struct {
	Owner     shared.Address
	Address   shared.Address
	Treasury  shared.Address
	Burn      shared.Address
	Collector shared.Address
	Hub       shared.Address
	Relayers  []shared.Address
}
