package voucher

import (
	"time"

	"github.com/qanchornet/qanchor/shared"
)

func DefaultConfig() Config {
	return Config{
		TimelockDelay: 24 * time.Hour,
		CacheSize:     512,
	}
}

//nolint:lll
type Config struct {
	CreationFee   shared.Amount `long:"hub-creation-fee"   description:"Voucher creation fee charged by the registry on the hub's behalf"`
	TimelockDelay time.Duration `long:"hub-timelock-delay" description:"Mandatory delay between scheduling and executing a hub parameter change"`
	CacheSize     int           `long:"hub-voucher-cache"  description:"Number of vouchers kept in the read cache"`
}

// Genesis is the hub's initial state, applied once when the store is empty.
// A restarted hub keeps its persisted state and ignores these values.
type Genesis struct {
	Owner     shared.Address
	Registry  shared.Address
	Collector shared.Address
	Relayers  []shared.Address
}
