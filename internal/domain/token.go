// Package domain defines the core data structures shared by the recovery
// pipeline: the two claim tokens, the snapshot balance sheet, wrapper
// descriptors and normalized share records.
package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WAD is the fixed-point scale used for share arithmetic: a share of 1 WAD
// means 100% of a token pool.
var WAD = big.NewInt(1_000_000_000_000_000_000)

// Token identifies one of the two claim tokens tracked by a recovery run.
type Token uint8

const (
	// TokenA is the USD-denominated claim token.
	TokenA Token = iota
	// TokenB is the ETH-denominated claim token.
	TokenB
)

// Tokens lists both claim tokens in canonical order (A before B).
func Tokens() [2]Token {
	return [2]Token{TokenA, TokenB}
}

// String returns the token tag used in logs and artifacts.
func (t Token) String() string {
	switch t {
	case TokenA:
		return "tokenA"
	case TokenB:
		return "tokenB"
	default:
		return fmt.Sprintf("token(%d)", uint8(t))
	}
}

// ParseToken maps a token tag back to its Token. Accepts the String()
// form ("tokenA"/"tokenB") and the bare suffix ("a"/"b").
func ParseToken(s string) (Token, error) {
	switch s {
	case "tokenA", "a", "A":
		return TokenA, nil
	case "tokenB", "b", "B":
		return TokenB, nil
	default:
		return 0, fmt.Errorf("unknown token %q", s)
	}
}

// TokenInfo describes one claim token contract.
type TokenInfo struct {
	// Symbol is the human-readable ticker used in exports.
	Symbol string
	// Address is the token contract address.
	Address common.Address
	// Decimals is the ERC-20 decimals value, used only for human-readable
	// exports; all pipeline arithmetic stays in base units.
	Decimals uint8
	// DeployBlock bounds the transfer-log scan from below.
	DeployBlock uint64
}

// TokenSet holds both claim token descriptors for a run.
type TokenSet struct {
	A TokenInfo
	B TokenInfo
}

// Info returns the descriptor for the given token.
func (s TokenSet) Info(t Token) TokenInfo {
	if t == TokenB {
		return s.B
	}
	return s.A
}
