// Package resolver attributes every wrapped or queued claim-token
// balance to its beneficial owners at a fixed snapshot height.
package resolver

import (
	"context"
	"math/big"
	"sync"

	"github.com/Figu3/sonic-earn-recovery-system/internal/clients"
	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 8

var (
	// ErrSumInvariant marks a resolved map that does not add up to the
	// token totals. Nothing downstream may consume such a map.
	ErrSumInvariant = errors.New("resolved balances do not sum to total supply")

	// ErrWrapperCycle marks descriptors that route a balance back into a
	// wrapper already being resolved on the same path.
	ErrWrapperCycle = errors.New("wrapper cycle")

	// ErrOverResolved marks a wrapper whose attributed total exceeds the
	// balance it actually holds.
	ErrOverResolved = errors.New("wrapper resolved total exceeds its balance")

	// ErrNothingResolved marks an unresolvable pool with no resolved
	// holders left to absorb it.
	ErrNothingResolved = errors.New("no resolved holders to redistribute over")
)

type chainReader interface {
	Height() uint64
	Holders(ctx context.Context, token common.Address, deployBlock uint64) ([]common.Address, error)
	BalanceAt(ctx context.Context, token, holder common.Address) (*big.Int, error)
	TotalSupplyAt(ctx context.Context, token common.Address) (*big.Int, error)
	PositionCount(ctx context.Context, registry common.Address) (uint64, error)
	LockPositionAt(ctx context.Context, registry common.Address, id uint64) (clients.LockedPosition, error)
}

type wrapperKey struct {
	addr  common.Address
	token domain.Token
}

// pool is one unresolvable balance waiting for pro-rata redistribution.
type pool struct {
	wrapper common.Address
	token   domain.Token
	amount  *big.Int
}

// Engine resolves wrapper balances down to terminal holders.
type Engine struct {
	reader       chainReader
	tokens       domain.TokenSet
	redirects    []domain.Redirect
	byKey        map[wrapperKey]domain.WrapperDescriptor
	wrapperAddrs map[common.Address]bool
	workers      int
	l            *zap.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithWorkers bounds the number of in-flight chain reads.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New returns an Engine for one snapshot run.
func New(l *zap.Logger, reader chainReader, tokens domain.TokenSet,
	wrappers []domain.WrapperDescriptor, redirects []domain.Redirect, opts ...Option) *Engine {

	e := &Engine{
		reader:       reader,
		tokens:       tokens,
		redirects:    redirects,
		byKey:        make(map[wrapperKey]domain.WrapperDescriptor, len(wrappers)),
		wrapperAddrs: make(map[common.Address]bool, len(wrappers)),
		workers:      defaultWorkers,
		l:            l,
	}

	for _, w := range wrappers {
		e.byKey[wrapperKey{w.Address, w.Underlying}] = w
		e.wrapperAddrs[w.Address] = true
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Resolve walks both tokens bottom-up: enumerate candidate holders,
// fetch balances, attribute wrapper holdings to their depositors, then
// spread the unresolvable pools over the resolved map. The returned
// sheet sums to the on-chain totals exactly or Resolve fails as a
// whole; it never returns a silently-short ledger.
func (e *Engine) Resolve(ctx context.Context) (*domain.BalanceSheet, error) {
	totalA, err := e.reader.TotalSupplyAt(ctx, e.tokens.A.Address)
	if err != nil {
		return nil, errors.Wrap(err, "fetch tokenA total supply")
	}
	totalB, err := e.reader.TotalSupplyAt(ctx, e.tokens.B.Address)
	if err != nil {
		return nil, errors.Wrap(err, "fetch tokenB total supply")
	}

	e.l.Info("resolving balances",
		zap.Uint64("height", e.reader.Height()),
		zap.String("total_a", totalA.String()),
		zap.String("total_b", totalB.String()))

	sheet := domain.NewBalanceSheet(totalA, totalB)

	var pools []pool
	for _, t := range domain.Tokens() {
		pools, err = e.resolveToken(ctx, sheet, t, pools)
		if err != nil {
			return nil, err
		}
	}

	// check the books while the pools are still pending, before any of
	// them is spread
	pendingA, pendingB := poolTotals(pools)
	if err := sheet.CheckInvariant(pendingA, pendingB); err != nil {
		return nil, errors.Wrapf(ErrSumInvariant, "before redistribution: %v", err)
	}

	// pools are spread in queue order: tokenA wrappers before tokenB,
	// each in candidate-enumeration order. An earlier pool shifts the
	// weights of every later one, so this order is part of the output.
	for _, p := range pools {
		if err := e.redistribute(sheet, p); err != nil {
			return nil, err
		}
	}

	if err := sheet.CheckInvariant(nil, nil); err != nil {
		return nil, errors.Wrapf(ErrSumInvariant, "after redistribution: %v", err)
	}

	if len(e.redirects) > 0 {
		sheet.ApplyRedirects(e.redirects)
		if err := sheet.CheckInvariant(nil, nil); err != nil {
			return nil, errors.Wrapf(ErrSumInvariant, "after redirects: %v", err)
		}
	}

	sheet.PruneZero()

	e.l.Info("resolution complete", zap.Int("holders", sheet.Len()))

	return sheet, nil
}

func (e *Engine) resolveToken(ctx context.Context, sheet *domain.BalanceSheet, t domain.Token, pools []pool) ([]pool, error) {
	info := e.tokens.Info(t)

	candidates, err := e.reader.Holders(ctx, info.Address, info.DeployBlock)
	if err != nil {
		return nil, errors.Wrapf(err, "enumerate %s holders", t)
	}

	balances, err := e.fetchBalances(ctx, info.Address, candidates)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s balances", t)
	}

	for _, addr := range candidates {
		bal := balances[addr]
		if bal == nil || bal.Sign() == 0 {
			continue
		}

		if desc, ok := e.wrapperFor(addr, t); ok {
			visited := make(map[common.Address]bool)
			pools, err = e.resolveWrapper(ctx, sheet, t, desc, bal, visited, pools)
			if err != nil {
				return nil, err
			}
			continue
		}

		// a wrapper holding a claim token it does not wrap has no
		// mechanism to attribute it; the balance is unresolvable and
		// must never stay credited to the wrapper itself
		if e.wrapperAddrs[addr] {
			e.l.Info("queueing non-underlying wrapper balance",
				zap.String("wrapper", addr.Hex()),
				zap.Stringer("token", t),
				zap.String("amount", bal.String()))
			pools = append(pools, pool{wrapper: addr, token: t, amount: bal})
			continue
		}

		sheet.Credit(addr, t, bal)
	}

	return pools, nil
}

// resolveWrapper attributes one wrapper balance. Contributions flowing
// to another known wrapper recurse with a path-scoped visited set;
// whatever cannot be attributed is queued as a pool.
func (e *Engine) resolveWrapper(ctx context.Context, sheet *domain.BalanceSheet, t domain.Token,
	desc domain.WrapperDescriptor, balance *big.Int, visited map[common.Address]bool, pools []pool) ([]pool, error) {

	if visited[desc.Address] {
		return nil, errors.Wrapf(ErrWrapperCycle, "wrapper %s (%s) revisited", desc.Address.Hex(), desc.Name)
	}
	visited[desc.Address] = true
	defer delete(visited, desc.Address)

	contribs, unresolved, err := e.attribute(ctx, t, desc, balance)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, ErrOverResolved) {
			return nil, err
		}
		// data-source failure that outlived the retries: degrade to
		// opaque so the run completes, and flag it — the fallback
		// reroutes this balance from its true depositors to everyone.
		e.l.Warn("wrapper attribution failed, treating as opaque",
			zap.String("wrapper", desc.Address.Hex()),
			zap.String("name", desc.Name),
			zap.Error(err))
		contribs, unresolved = nil, new(big.Int).Set(balance)
	}

	for _, c := range contribs {
		if nested, ok := e.wrapperFor(c.Address, t); ok {
			pools, err = e.resolveWrapper(ctx, sheet, t, nested, c.Amount, visited, pools)
			if err != nil {
				return nil, err
			}
			continue
		}
		if e.wrapperAddrs[c.Address] {
			pools = append(pools, pool{wrapper: c.Address, token: t, amount: c.Amount})
			continue
		}
		sheet.Credit(c.Address, t, c.Amount)
	}

	if unresolved != nil && unresolved.Sign() > 0 {
		e.l.Info("queueing unresolvable balance",
			zap.String("wrapper", desc.Address.Hex()),
			zap.String("name", desc.Name),
			zap.Stringer("token", t),
			zap.String("amount", unresolved.String()))
		pools = append(pools, pool{wrapper: desc.Address, token: t, amount: unresolved})
	}

	return pools, nil
}

// redistribute spreads one pool over the balance map as it stands now.
// The denominator is recomputed per pool: an earlier redistribution
// shifts the weights of the next one.
func (e *Engine) redistribute(sheet *domain.BalanceSheet, p pool) error {
	denom := sheet.Sum(p.token)
	if denom.Sign() == 0 {
		return errors.Wrapf(ErrNothingResolved, "pool of %s from wrapper %s", p.token, p.wrapper.Hex())
	}

	// freeze the weights before crediting anything from this pool
	holders := sheet.Addresses()
	weights := make(map[common.Address]*big.Int, len(holders))
	for _, holder := range holders {
		weights[holder] = sheet.Balance(holder, p.token)
	}

	distributed := new(big.Int)
	for _, holder := range holders {
		w := weights[holder]
		if w.Sign() == 0 {
			continue
		}
		cut := new(big.Int).Mul(w, p.amount)
		cut.Div(cut, denom)
		if cut.Sign() == 0 {
			continue
		}
		sheet.Credit(holder, p.token, cut)
		distributed.Add(distributed, cut)
	}

	if rem := new(big.Int).Sub(p.amount, distributed); rem.Sign() > 0 {
		largest, ok := sheet.LargestHolder(p.token)
		if !ok {
			return errors.Wrapf(ErrNothingResolved, "remainder of pool from %s", p.wrapper.Hex())
		}
		sheet.Credit(largest, p.token, rem)
	}

	e.l.Info("redistributed unresolvable pool",
		zap.String("wrapper", p.wrapper.Hex()),
		zap.Stringer("token", p.token),
		zap.String("amount", p.amount.String()))

	return nil
}

func (e *Engine) fetchBalances(ctx context.Context, token common.Address, holders []common.Address) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(holders))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, holder := range holders {
		g.Go(func() error {
			bal, err := e.reader.BalanceAt(gctx, token, holder)
			if err != nil {
				return err
			}
			mu.Lock()
			out[holder] = bal
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func (e *Engine) wrapperFor(addr common.Address, t domain.Token) (domain.WrapperDescriptor, bool) {
	desc, ok := e.byKey[wrapperKey{addr, t}]
	return desc, ok
}

func poolTotals(pools []pool) (*big.Int, *big.Int) {
	a, b := new(big.Int), new(big.Int)
	for _, p := range pools {
		if p.token == domain.TokenA {
			a.Add(a, p.amount)
		} else {
			b.Add(b, p.amount)
		}
	}

	return a, b
}
