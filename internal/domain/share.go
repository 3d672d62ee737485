package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Share is one address's normalized slice of the claim-token pools, each
// value a WAD-scaled fraction in [0, WAD]. Across a whole distribution the
// per-token shares sum to exactly one WAD.
type Share struct {
	Address common.Address
	A       *big.Int
	B       *big.Int
}

// Get returns the share for the given token (read-only).
func (s *Share) Get(t Token) *big.Int {
	if t == TokenB {
		return s.B
	}
	return s.A
}

// Payout returns floor(share × roundTotal / WAD): the amount the share is
// worth against one funding round. Never exceeds roundTotal for any share
// in [0, WAD].
func Payout(shareWad, roundTotal *big.Int) *big.Int {
	out := new(big.Int).Mul(shareWad, roundTotal)
	return out.Div(out, WAD)
}
