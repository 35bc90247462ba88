package shared

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Flag types for unit configuration options. They satisfy the config
// parser's Unmarshaler without the unit packages importing it.

// HexAddress is an Address configurable as a 0x-prefixed hex flag.
type HexAddress common.Address

func (a *HexAddress) UnmarshalFlag(value string) error {
	if !common.IsHexAddress(value) {
		return fmt.Errorf("invalid address %q", value)
	}
	*a = HexAddress(common.HexToAddress(value))
	return nil
}

func (a HexAddress) Address() Address {
	return common.Address(a)
}

func (a HexAddress) String() string {
	return common.Address(a).Hex()
}

// Amount is a 256-bit amount configurable as a decimal flag.
type Amount uint256.Int

func (a *Amount) UnmarshalFlag(value string) error {
	if err := (*uint256.Int)(a).SetFromDecimal(value); err != nil {
		return fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return nil
}

func (a *Amount) Int() *uint256.Int {
	return (*uint256.Int)(a)
}

func (a *Amount) String() string {
	return (*uint256.Int)(a).Dec()
}
