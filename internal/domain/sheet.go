package domain

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Amounts is one address's holdings of both claim tokens, in base units.
type Amounts struct {
	A *big.Int
	B *big.Int
}

// NewAmounts returns zeroed holdings.
func NewAmounts() *Amounts {
	return &Amounts{A: new(big.Int), B: new(big.Int)}
}

// Get returns the held amount for the given token. The returned value is the
// internal counter; callers must treat it as read-only.
func (a *Amounts) Get(t Token) *big.Int {
	if t == TokenB {
		return a.B
	}
	return a.A
}

// Add increases the held amount for the given token.
func (a *Amounts) Add(t Token, v *big.Int) {
	a.Get(t).Add(a.Get(t), v)
}

// IsZero reports whether both holdings are zero.
func (a *Amounts) IsZero() bool {
	return a.A.Sign() == 0 && a.B.Sign() == 0
}

// BalanceSheet is the resolved per-address balance map for one snapshot
// height. The sheet carries the expected totals (the tokens' outstanding
// supply at the snapshot) so the sum invariant can be checked after every
// resolution step rather than assumed.
type BalanceSheet struct {
	holdings map[common.Address]*Amounts
	totalA   *big.Int
	totalB   *big.Int
}

// NewBalanceSheet creates an empty sheet with the expected per-token totals.
func NewBalanceSheet(totalA, totalB *big.Int) *BalanceSheet {
	return &BalanceSheet{
		holdings: make(map[common.Address]*Amounts),
		totalA:   new(big.Int).Set(totalA),
		totalB:   new(big.Int).Set(totalB),
	}
}

// Total returns the expected outstanding supply for the given token.
func (s *BalanceSheet) Total(t Token) *big.Int {
	if t == TokenB {
		return new(big.Int).Set(s.totalB)
	}
	return new(big.Int).Set(s.totalA)
}

// Credit adds v to the address's holdings of the given token.
func (s *BalanceSheet) Credit(addr common.Address, t Token, v *big.Int) {
	if v.Sign() == 0 {
		return
	}
	entry, ok := s.holdings[addr]
	if !ok {
		entry = NewAmounts()
		s.holdings[addr] = entry
	}
	entry.Add(t, v)
}

// Balance returns a copy of the address's holdings of the given token.
func (s *BalanceSheet) Balance(addr common.Address, t Token) *big.Int {
	entry, ok := s.holdings[addr]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(entry.Get(t))
}

// Take removes and returns the address's entire holding of the given token.
// Used when a wrapper's balance is re-attributed to its depositors.
func (s *BalanceSheet) Take(addr common.Address, t Token) *big.Int {
	entry, ok := s.holdings[addr]
	if !ok {
		return new(big.Int)
	}
	taken := new(big.Int).Set(entry.Get(t))
	entry.Get(t).SetInt64(0)
	if entry.IsZero() {
		delete(s.holdings, addr)
	}
	return taken
}

// Has reports whether the address has an entry on the sheet.
func (s *BalanceSheet) Has(addr common.Address) bool {
	_, ok := s.holdings[addr]
	return ok
}

// Len returns the number of addresses on the sheet.
func (s *BalanceSheet) Len() int {
	return len(s.holdings)
}

// Holdings returns a copy of the address's holdings of both tokens.
func (s *BalanceSheet) Holdings(addr common.Address) *Amounts {
	out := NewAmounts()
	if entry, ok := s.holdings[addr]; ok {
		out.A.Set(entry.A)
		out.B.Set(entry.B)
	}
	return out
}

// Addresses returns every address on the sheet in byte-ascending order.
// All iteration in the pipeline goes through this so dust assignment and
// redistribution are reproducible run to run.
func (s *BalanceSheet) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(s.holdings))
	for addr := range s.holdings {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}

// Sum returns the total of all holdings of the given token.
func (s *BalanceSheet) Sum(t Token) *big.Int {
	sum := new(big.Int)
	for _, entry := range s.holdings {
		sum.Add(sum, entry.Get(t))
	}
	return sum
}

// LargestHolder returns the address holding the most of the given token,
// breaking ties by lowest address. ok is false when nobody holds a nonzero
// amount.
func (s *BalanceSheet) LargestHolder(t Token) (common.Address, bool) {
	var (
		best    common.Address
		bestVal *big.Int
	)
	for _, addr := range s.Addresses() {
		v := s.holdings[addr].Get(t)
		if v.Sign() <= 0 {
			continue
		}
		if bestVal == nil || v.Cmp(bestVal) > 0 {
			best = addr
			bestVal = v
		}
	}
	return best, bestVal != nil
}

// PruneZero drops addresses whose holdings of both tokens are zero.
func (s *BalanceSheet) PruneZero() {
	for addr, entry := range s.holdings {
		if entry.IsZero() {
			delete(s.holdings, addr)
		}
	}
}

// ApplyRedirects merges each source address's holdings into its target,
// additively, and removes the source. Applied after resolution and before
// normalization.
func (s *BalanceSheet) ApplyRedirects(redirects []Redirect) {
	for _, r := range redirects {
		entry, ok := s.holdings[r.From]
		if !ok {
			continue
		}
		s.Credit(r.To, TokenA, entry.A)
		s.Credit(r.To, TokenB, entry.B)
		delete(s.holdings, r.From)
	}
}

// CheckInvariant verifies that holdings plus any not-yet-redistributed
// amounts equal the expected totals for both tokens. pendingA/pendingB may
// be nil when nothing is queued.
func (s *BalanceSheet) CheckInvariant(pendingA, pendingB *big.Int) error {
	for _, t := range Tokens() {
		want := s.totalA
		pending := pendingA
		if t == TokenB {
			want = s.totalB
			pending = pendingB
		}
		got := s.Sum(t)
		if pending != nil {
			got.Add(got, pending)
		}
		if got.Cmp(want) != 0 {
			return fmt.Errorf("%s balance sum %s does not match outstanding supply %s", t, got, want)
		}
	}
	return nil
}
