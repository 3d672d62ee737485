package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WrapperKind selects the resolution mechanism for a wrapper address.
type WrapperKind uint8

const (
	// KindFungible is an ERC-20 style wrapper: depositors hold wrapper
	// tokens and are resolved by their share of the wrapper's total issue.
	KindFungible WrapperKind = iota
	// KindLockRegistry is a vote-escrow style registry of individually
	// owned lock positions, resolved by enumerating every position minted.
	KindLockRegistry
	// KindOpaque is a wrapper exposing neither holders nor positions; its
	// entire balance is unresolvable and redistributed pro-rata.
	KindOpaque
)

// ParseWrapperKind maps a config tag to a WrapperKind.
func ParseWrapperKind(s string) (WrapperKind, error) {
	switch s {
	case "fungible":
		return KindFungible, nil
	case "lock-registry":
		return KindLockRegistry, nil
	case "opaque":
		return KindOpaque, nil
	default:
		return 0, fmt.Errorf("unknown wrapper kind %q", s)
	}
}

// String returns the config tag for the kind.
func (k WrapperKind) String() string {
	switch k {
	case KindFungible:
		return "fungible"
	case KindLockRegistry:
		return "lock-registry"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// WrapperDescriptor describes one address known to hold claim tokens on
// behalf of other parties. Descriptors are supplied per run via config,
// keyed by snapshot height, never compiled in.
type WrapperDescriptor struct {
	// Address is the wrapper contract address.
	Address common.Address
	// Name is a human label used in logs and artifacts.
	Name string
	// Kind selects the resolution mechanism.
	Kind WrapperKind
	// Underlying is the claim token this wrapper wraps. Any balance the
	// wrapper holds of the other claim token is unresolvable by definition.
	Underlying Token
	// DeployBlock is where transfer scans of the wrapper's own share
	// token start (fungible kind only). Zero scans from genesis.
	DeployBlock uint64
	// PositionCount overrides the lock registry's on-chain position
	// counter when nonzero (lock-registry kind only).
	PositionCount uint64
	// DepositorsCSV names a file with an externally resolved depositor
	// list (address,amount per line). When set the wrapper's mechanism is
	// skipped and the listed contributions are credited directly.
	DepositorsCSV string
}

// Redirect maps a known non-claiming intermediary to the address that claims
// in its stead. Multiple sources may share one target; balances merge.
type Redirect struct {
	From common.Address
	To   common.Address
}

// Contribution is one depositor's resolved entitlement out of a wrapper's
// balance.
type Contribution struct {
	Address common.Address
	Amount  *big.Int
}
