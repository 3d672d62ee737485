package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerEventKind tags one journal entry.
type LedgerEventKind string

const (
	EventFund        LedgerEventKind = "fund"
	EventCreateRound LedgerEventKind = "create_round"
	EventCorrectRoot LedgerEventKind = "correct_root"
	EventClaim       LedgerEventKind = "claim"
	EventDeactivate  LedgerEventKind = "deactivate"
	EventSweep       LedgerEventKind = "sweep"
	EventWaiver      LedgerEventKind = "waiver"
)

// LedgerEvent is one append-only entry in the claim journal. Which
// fields carry meaning depends on Kind; replay applies them in write
// order to rebuild ledger state.
type LedgerEvent struct {
	Kind LedgerEventKind `json:"kind"`
	At   int64           `json:"at"`

	RoundID uint64         `json:"round_id,omitempty"`
	Token   Token          `json:"token,omitempty"`
	Address common.Address `json:"address,omitempty"`

	// Amount is the funding, payout or swept-tokenA amount; AmountB is
	// the swept-tokenB amount.
	Amount  *big.Int `json:"amount,omitempty"`
	AmountB *big.Int `json:"amount_b,omitempty"`

	RootA    common.Hash `json:"root_a,omitempty"`
	RootB    common.Hash `json:"root_b,omitempty"`
	Joint    bool        `json:"joint,omitempty"`
	TotalA   *big.Int    `json:"total_a,omitempty"`
	TotalB   *big.Int    `json:"total_b,omitempty"`
	Deadline int64       `json:"deadline,omitempty"`

	Recipient common.Address `json:"recipient,omitempty"`
	Receipt   string         `json:"receipt,omitempty"`
	Signature string         `json:"signature,omitempty"`
}
