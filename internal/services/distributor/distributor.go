// Package distributor turns a resolved balance sheet into WAD shares
// and Merkle commitments ready for round creation.
package distributor

import (
	"math/big"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/Figu3/sonic-earn-recovery-system/pkg/merkle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Mode selects how shares are committed to trees.
type Mode string

const (
	// ModePerToken builds one tree per distributed token, so
	// single-token holders claim with smaller proofs.
	ModePerToken Mode = "per-token"
	// ModeJoint builds a single tree whose leaves carry both shares;
	// claimants supply both even when one is zero.
	ModeJoint Mode = "joint"
)

var (
	// ErrNoHolders is returned when the sheet has nobody to distribute to.
	ErrNoHolders = errors.New("no holders to distribute to")

	// ErrShareSum marks a share set that does not add up to one WAD
	// after dust assignment. Publishing it would leak funds.
	ErrShareSum = errors.New("share sum is not one WAD")

	// ErrTreeIntegrity marks a constructed proof that failed
	// re-verification against its own root. Unrecoverable once a root is
	// committed, so the build refuses to return the tree.
	ErrTreeIntegrity = errors.New("constructed proof failed self-verification")
)

// LeafClaim is one holder's committed shares and proof in one tree.
// Shares appear exactly as packed into the leaf, in tree column order.
type LeafClaim struct {
	Index   int
	Address common.Address
	Shares  []*big.Int
	Proof   []common.Hash
}

// TreeCommitment is one published tree: root plus every claim in
// address-ascending leaf order.
type TreeCommitment struct {
	Label  string // "token-a", "token-b" or "joint"
	Root   common.Hash
	Leaves []LeafClaim
}

// Result is one complete distribution run.
type Result struct {
	RunID  string
	Shares []domain.Share
	Trees  []*TreeCommitment
}

// Tree returns the commitment with the given label, or nil.
func (r *Result) Tree(label string) *TreeCommitment {
	for _, tc := range r.Trees {
		if tc.Label == label {
			return tc
		}
	}
	return nil
}

// Distributor normalizes balances and builds claim trees.
type Distributor struct {
	mode Mode
	l    *zap.Logger
}

// New returns a Distributor committing shares in the given mode.
func New(l *zap.Logger, mode Mode) *Distributor {
	return &Distributor{mode: mode, l: l}
}

// Build normalizes the sheet into WAD shares, constructs the tree(s)
// and re-verifies every proof against its root before returning. Any
// integrity failure aborts the whole build: a partially-correct
// distribution must never reach publication.
func (d *Distributor) Build(sheet *domain.BalanceSheet) (*Result, error) {
	if sheet.Len() == 0 {
		return nil, ErrNoHolders
	}

	shares, err := normalize(sheet)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.NewString(), Shares: shares}

	switch d.mode {
	case ModeJoint:
		tc, err := buildJointTree(shares)
		if err != nil {
			return nil, err
		}
		res.Trees = append(res.Trees, tc)
	default:
		for _, t := range domain.Tokens() {
			tc, err := buildTokenTree(shares, t)
			if err != nil {
				return nil, err
			}
			if tc == nil {
				continue // token not distributed this run
			}
			res.Trees = append(res.Trees, tc)
		}
	}

	if len(res.Trees) == 0 {
		return nil, ErrNoHolders
	}

	for _, tc := range res.Trees {
		if err := checkShareColumns(tc); err != nil {
			return nil, err
		}
		if err := tc.selfVerify(); err != nil {
			return nil, err
		}
	}

	for _, tc := range res.Trees {
		d.l.Info("tree committed",
			zap.String("run_id", res.RunID),
			zap.String("tree", tc.Label),
			zap.String("root", tc.Root.Hex()),
			zap.Int("leaves", len(tc.Leaves)))
	}

	return res, nil
}

// normalize computes shareWad = floor(balance × WAD / total) per token
// and adds the flooring shortfall to the largest holder, first address
// winning ties, so each distributed token's shares sum to one WAD
// exactly.
func normalize(sheet *domain.BalanceSheet) ([]domain.Share, error) {
	addrs := sheet.Addresses()

	perToken := map[domain.Token]map[common.Address]*big.Int{}
	for _, t := range domain.Tokens() {
		total := sheet.Total(t)
		if total.Sign() == 0 {
			continue
		}

		wads := make(map[common.Address]*big.Int)
		sum := new(big.Int)
		var largest *big.Int
		var largestAddr common.Address
		for _, a := range addrs {
			bal := sheet.Balance(a, t)
			if bal.Sign() == 0 {
				continue
			}

			wad := new(big.Int).Mul(bal, domain.WAD)
			wad.Div(wad, total)
			if wad.Sign() == 0 {
				continue // nothing to claim, keep the tree lean
			}

			wads[a] = wad
			sum.Add(sum, wad)
			if largest == nil || wad.Cmp(largest) > 0 {
				largest = wad
				largestAddr = a
			}
		}

		if sum.Sign() == 0 {
			return nil, errors.Wrapf(ErrShareSum, "every %s share floored to zero", t)
		}

		if dust := new(big.Int).Sub(domain.WAD, sum); dust.Sign() > 0 {
			wads[largestAddr].Add(wads[largestAddr], dust)
			sum.Add(sum, dust)
		}
		if sum.Cmp(domain.WAD) != 0 {
			return nil, errors.Wrapf(ErrShareSum, "%s shares sum to %s", t, sum)
		}

		perToken[t] = wads
	}

	shares := make([]domain.Share, 0, len(addrs))
	for _, a := range addrs {
		wadA, wadB := perToken[domain.TokenA][a], perToken[domain.TokenB][a]
		if wadA == nil && wadB == nil {
			continue
		}
		if wadA == nil {
			wadA = new(big.Int)
		}
		if wadB == nil {
			wadB = new(big.Int)
		}
		shares = append(shares, domain.Share{Address: a, A: wadA, B: wadB})
	}

	if len(shares) == 0 {
		return nil, ErrNoHolders
	}

	return shares, nil
}

func buildTokenTree(shares []domain.Share, t domain.Token) (*TreeCommitment, error) {
	label := "token-a"
	if t == domain.TokenB {
		label = "token-b"
	}

	var claims []LeafClaim
	var leaves []common.Hash
	for _, s := range shares {
		v := s.Get(t)
		if v == nil || v.Sign() == 0 {
			continue
		}
		claims = append(claims, LeafClaim{Index: len(claims), Address: s.Address, Shares: []*big.Int{v}})
		leaves = append(leaves, merkle.Leaf(s.Address, v))
	}
	if len(claims) == 0 {
		return nil, nil
	}

	return commit(label, claims, leaves)
}

func buildJointTree(shares []domain.Share) (*TreeCommitment, error) {
	var claims []LeafClaim
	var leaves []common.Hash
	for _, s := range shares {
		claims = append(claims, LeafClaim{Index: len(claims), Address: s.Address, Shares: []*big.Int{s.A, s.B}})
		leaves = append(leaves, merkle.Leaf(s.Address, s.A, s.B))
	}

	return commit("joint", claims, leaves)
}

func commit(label string, claims []LeafClaim, leaves []common.Hash) (*TreeCommitment, error) {
	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s tree", label)
	}

	for i := range claims {
		proof, err := tree.Proof(i)
		if err != nil {
			return nil, errors.Wrapf(err, "prove leaf %d of %s tree", i, label)
		}
		claims[i].Proof = proof
	}

	return &TreeCommitment{Label: label, Root: tree.Root(), Leaves: claims}, nil
}

// checkShareColumns re-asserts that every share column of the tree sums
// to exactly one WAD (or to zero for a token with no distribution).
func checkShareColumns(tc *TreeCommitment) error {
	if len(tc.Leaves) == 0 {
		return nil
	}

	columns := len(tc.Leaves[0].Shares)
	for col := 0; col < columns; col++ {
		sum := new(big.Int)
		for _, lc := range tc.Leaves {
			sum.Add(sum, lc.Shares[col])
		}
		if sum.Cmp(domain.WAD) != 0 && sum.Sign() != 0 {
			return errors.Wrapf(ErrShareSum, "%s tree column %d sums to %s", tc.Label, col, sum)
		}
	}

	return nil
}

func (tc *TreeCommitment) selfVerify() error {
	for _, lc := range tc.Leaves {
		leaf := merkle.Leaf(lc.Address, lc.Shares...)
		if !merkle.Verify(leaf, lc.Proof, tc.Root) {
			return errors.Wrapf(ErrTreeIntegrity, "leaf %d (%s) in %s tree", lc.Index, lc.Address.Hex(), tc.Label)
		}
	}

	return nil
}
