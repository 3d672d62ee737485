package resolver

import (
	"bytes"
	"context"
	"encoding/csv"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// attribute maps one wrapper balance to depositor contributions plus an
// unresolvable remainder. An externally supplied depositor list takes
// precedence over the wrapper's own mechanism.
func (e *Engine) attribute(ctx context.Context, t domain.Token, desc domain.WrapperDescriptor, balance *big.Int) ([]domain.Contribution, *big.Int, error) {
	if desc.DepositorsCSV != "" {
		return attributeFromCSV(desc, balance)
	}

	switch desc.Kind {
	case domain.KindFungible:
		return e.attributeFungible(ctx, desc, balance)
	case domain.KindLockRegistry:
		return e.attributeLockRegistry(ctx, desc, balance)
	default:
		return nil, new(big.Int).Set(balance), nil
	}
}

// attributeFungible splits the balance by each depositor's share of the
// wrapper's own token: entitlement = share × balance / totalIssued,
// floored. Floor dust goes to the first depositor with a nonzero share
// in byte-ascending address order.
func (e *Engine) attributeFungible(ctx context.Context, desc domain.WrapperDescriptor, balance *big.Int) ([]domain.Contribution, *big.Int, error) {
	totalIssued, err := e.reader.TotalSupplyAt(ctx, desc.Address)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "total issued of %s", desc.Name)
	}
	if totalIssued.Sign() == 0 {
		return nil, new(big.Int).Set(balance), nil
	}

	depositors, err := e.reader.Holders(ctx, desc.Address, desc.DeployBlock)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "enumerate %s depositors", desc.Name)
	}

	shares, err := e.fetchBalances(ctx, desc.Address, depositors)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetch %s depositor balances", desc.Name)
	}

	var dustTarget *common.Address
	contribs := make([]domain.Contribution, 0, len(depositors))
	resolved := new(big.Int)
	for _, depositor := range depositors {
		share := shares[depositor]
		if share == nil || share.Sign() == 0 {
			continue
		}
		if dustTarget == nil {
			d := depositor
			dustTarget = &d
		}

		entitlement := new(big.Int).Mul(share, balance)
		entitlement.Div(entitlement, totalIssued)
		if entitlement.Sign() == 0 {
			continue
		}
		contribs = append(contribs, domain.Contribution{Address: depositor, Amount: entitlement})
		resolved.Add(resolved, entitlement)
	}

	// every entitlement floored to zero: the wrapper is as good as opaque
	if resolved.Sign() == 0 {
		return nil, new(big.Int).Set(balance), nil
	}
	if resolved.Cmp(balance) > 0 {
		return nil, nil, errors.Wrapf(ErrOverResolved, "%s attributed %s of balance %s", desc.Name, resolved, balance)
	}

	if dust := new(big.Int).Sub(balance, resolved); dust.Sign() > 0 {
		contribs = addDust(contribs, *dustTarget, dust)
	}

	return contribs, nil, nil
}

// attributeLockRegistry sums every live position's locked amount to its
// owner. The gap between the registry's actual balance and the locked
// sum is funds parked outside any active lock and joins the
// unresolvable pools.
func (e *Engine) attributeLockRegistry(ctx context.Context, desc domain.WrapperDescriptor, balance *big.Int) ([]domain.Contribution, *big.Int, error) {
	count := desc.PositionCount
	if count == 0 {
		var err error
		count, err = e.reader.PositionCount(ctx, desc.Address)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "position count of %s", desc.Name)
		}
	}

	type slot struct {
		owner  common.Address
		amount *big.Int
	}
	// position ids start at 1; each goroutine writes its own index
	slots := make([]slot, count+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for id := uint64(1); id <= count; id++ {
		g.Go(func() error {
			pos, err := e.reader.LockPositionAt(gctx, desc.Address, id)
			if err != nil {
				return err
			}
			if pos.Live && pos.Amount.Sign() > 0 {
				slots[id] = slot{owner: pos.Owner, amount: pos.Amount}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrapf(err, "read %s positions", desc.Name)
	}

	sums := make(map[common.Address]*big.Int)
	resolved := new(big.Int)
	for id := uint64(1); id <= count; id++ {
		s := slots[id]
		if s.amount == nil {
			continue
		}
		if sums[s.owner] == nil {
			sums[s.owner] = new(big.Int)
		}
		sums[s.owner].Add(sums[s.owner], s.amount)
		resolved.Add(resolved, s.amount)
	}

	if resolved.Cmp(balance) > 0 {
		return nil, nil, errors.Wrapf(ErrOverResolved, "%s locked sum %s exceeds balance %s", desc.Name, resolved, balance)
	}

	owners := make([]common.Address, 0, len(sums))
	for owner := range sums {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return bytes.Compare(owners[i][:], owners[j][:]) < 0 })

	contribs := make([]domain.Contribution, 0, len(owners))
	for _, owner := range owners {
		contribs = append(contribs, domain.Contribution{Address: owner, Amount: sums[owner]})
	}

	var unresolved *big.Int
	if gap := new(big.Int).Sub(balance, resolved); gap.Sign() > 0 {
		unresolved = gap
	}

	return contribs, unresolved, nil
}

// attributeFromCSV credits an externally resolved depositor list, rows
// of "address,amount", as-is. The listed sum may not exceed the
// wrapper's balance; any shortfall is funds the list does not account
// for and joins the unresolvable pools.
func attributeFromCSV(desc domain.WrapperDescriptor, balance *big.Int) ([]domain.Contribution, *big.Int, error) {
	f, err := os.Open(desc.DepositorsCSV)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open depositor list for %s", desc.Name)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parse depositor list for %s", desc.Name)
	}

	contribs := make([]domain.Contribution, 0, len(records))
	resolved := new(big.Int)
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, nil, errors.Errorf("depositor list for %s: row %d has %d columns, want 2", desc.Name, i+1, len(rec))
		}
		addrField := strings.TrimSpace(rec[0])
		if i == 0 && !common.IsHexAddress(addrField) {
			continue // header row
		}
		if !common.IsHexAddress(addrField) {
			return nil, nil, errors.Errorf("depositor list for %s: row %d: bad address %q", desc.Name, i+1, rec[0])
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(rec[1]), 10)
		if !ok || amount.Sign() < 0 {
			return nil, nil, errors.Errorf("depositor list for %s: row %d: bad amount %q", desc.Name, i+1, rec[1])
		}
		if amount.Sign() == 0 {
			continue
		}
		contribs = append(contribs, domain.Contribution{Address: common.HexToAddress(addrField), Amount: amount})
		resolved.Add(resolved, amount)
	}

	if resolved.Cmp(balance) > 0 {
		return nil, nil, errors.Wrapf(ErrOverResolved, "%s depositor list sums to %s of balance %s", desc.Name, resolved, balance)
	}

	var unresolved *big.Int
	if gap := new(big.Int).Sub(balance, resolved); gap.Sign() > 0 {
		unresolved = gap
	}

	return contribs, unresolved, nil
}

// addDust adds dust to target's contribution, creating one up front if
// target's entitlement floored to zero.
func addDust(contribs []domain.Contribution, target common.Address, dust *big.Int) []domain.Contribution {
	for i := range contribs {
		if contribs[i].Address == target {
			contribs[i].Amount = new(big.Int).Add(contribs[i].Amount, dust)
			return contribs
		}
	}

	return append([]domain.Contribution{{Address: target, Amount: dust}}, contribs...)
}
