package spoke

import (
	"time"

	"github.com/qanchornet/qanchor/shared"
)

// MaxBatchSize caps the number of fulfillment descriptors accepted per call.
const MaxBatchSize = 100

func DefaultConfig() Config {
	return Config{
		TimelockDelay: 24 * time.Hour,
	}
}

//nolint:lll
type Config struct {
	TimelockDelay time.Duration `long:"spoke-timelock-delay" description:"Mandatory delay between scheduling and executing a spoke parameter change"`
}

// Genesis is a spoke's initial state, applied once when the store is empty.
// A restarted spoke keeps its persisted state and ignores these values.
type Genesis struct {
	Owner    shared.Address
	Hub      shared.Address
	Relayers []shared.Address
}
