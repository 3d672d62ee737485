package resolver

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/Figu3/sonic-earn-recovery-system/internal/clients"
	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func testTokens() domain.TokenSet {
	return domain.TokenSet{
		A: domain.TokenInfo{Symbol: "aUSD", Address: tokenA},
		B: domain.TokenInfo{Symbol: "aETH", Address: tokenB},
	}
}

type fakeReader struct {
	holders     map[common.Address][]common.Address
	balances    map[common.Address]map[common.Address]*big.Int
	supplies    map[common.Address]*big.Int
	positions   map[common.Address][]clients.LockedPosition
	failHolders map[common.Address]bool
}

func (f *fakeReader) Height() uint64 { return 42 }

func (f *fakeReader) Holders(_ context.Context, token common.Address, _ uint64) ([]common.Address, error) {
	if f.failHolders[token] {
		return nil, errors.New("provider gave up")
	}
	return f.holders[token], nil
}

func (f *fakeReader) BalanceAt(_ context.Context, token, holder common.Address) (*big.Int, error) {
	bal := f.balances[token][holder]
	if bal == nil {
		bal = big.NewInt(0)
	}
	return new(big.Int).Set(bal), nil
}

func (f *fakeReader) TotalSupplyAt(_ context.Context, token common.Address) (*big.Int, error) {
	supply := f.supplies[token]
	if supply == nil {
		supply = big.NewInt(0)
	}
	return new(big.Int).Set(supply), nil
}

func (f *fakeReader) PositionCount(_ context.Context, registry common.Address) (uint64, error) {
	return uint64(len(f.positions[registry])), nil
}

func (f *fakeReader) LockPositionAt(_ context.Context, registry common.Address, id uint64) (clients.LockedPosition, error) {
	positions := f.positions[registry]
	if id == 0 || id > uint64(len(positions)) {
		return clients.LockedPosition{}, errors.Errorf("position %d out of range", id)
	}
	return positions[id-1], nil
}

func bigs(sheet *domain.BalanceSheet, t domain.Token, addrs ...common.Address) []int64 {
	out := make([]int64, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, sheet.Balance(a, t).Int64())
	}
	return out
}

func TestResolveTerminalHoldersOnly(t *testing.T) {
	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), addr(2), addr(3)},
			tokenB: {addr(1)},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(100), addr(2): big.NewInt(300), addr(3): big.NewInt(0)},
			tokenB: {addr(1): big.NewInt(50)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(400), tokenB: big.NewInt(50)},
	}

	engine := New(zap.NewNop(), reader, testTokens(), nil, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	require.Equal(t, []int64{100, 300}, bigs(sheet, domain.TokenA, addr(1), addr(2)))
	require.False(t, sheet.Has(addr(3)), "zero balances are pruned")
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveFailsOnShortLedger(t *testing.T) {
	reader := &fakeReader{
		holders:  map[common.Address][]common.Address{tokenA: {addr(1)}},
		balances: map[common.Address]map[common.Address]*big.Int{tokenA: {addr(1): big.NewInt(900)}},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(1000), tokenB: big.NewInt(0)},
	}

	engine := New(zap.NewNop(), reader, testTokens(), nil, nil)
	_, err := engine.Resolve(context.Background())
	require.ErrorIs(t, err, ErrSumInvariant, "a silently-short ledger must never be returned")
}

func TestResolveFungibleWrapper(t *testing.T) {
	wrapper := addr(0x70)
	d1, d2, d3 := addr(0x11), addr(0x12), addr(0x13)

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA:  {addr(1), wrapper},
			wrapper: {d1, d2, d3},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA:  {addr(1): big.NewInt(499), wrapper: big.NewInt(1001)},
			wrapper: {d1: big.NewInt(60), d2: big.NewInt(39), d3: big.NewInt(1)},
		},
		supplies: map[common.Address]*big.Int{
			tokenA:  big.NewInt(1500),
			tokenB:  big.NewInt(0),
			wrapper: big.NewInt(100),
		},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:    wrapper,
		Name:       "staking-vault",
		Kind:       domain.KindFungible,
		Underlying: domain.TokenA,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	// 60/39/1 of 1001 over 100 issued: 600, 390, 10, dust 1 to d1
	require.Equal(t, []int64{601, 390, 10}, bigs(sheet, domain.TokenA, d1, d2, d3))
	require.False(t, sheet.Has(wrapper), "the wrapper itself must hold nothing")
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveLockRegistryWithGap(t *testing.T) {
	registry := addr(0x71)
	owner1, owner2 := addr(0x21), addr(0x22)

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), addr(2), registry},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(100), addr(2): big.NewInt(300), registry: big.NewInt(1000)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(1400), tokenB: big.NewInt(0)},
		positions: map[common.Address][]clients.LockedPosition{
			registry: {
				{Owner: owner1, Amount: big.NewInt(500), Live: true},
				{Owner: common.Address{}, Amount: big.NewInt(0), Live: false}, // burned
				{Owner: owner2, Amount: big.NewInt(60), Live: true},
				{Owner: owner1, Amount: big.NewInt(0), Live: true},
			},
		},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:    registry,
		Name:       "vote-escrow",
		Kind:       domain.KindLockRegistry,
		Underlying: domain.TokenA,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	// locked 560 attributed directly, gap 440 spread over the resolved
	// map (100+300+500+60 = 960): addr1 +45, addr2 +137, owner1 +229,
	// owner2 +27, distributed 438, remainder 2 to the largest (owner1)
	require.Equal(t, int64(145), sheet.Balance(addr(1), domain.TokenA).Int64())
	require.Equal(t, int64(437), sheet.Balance(addr(2), domain.TokenA).Int64())
	require.Equal(t, int64(731), sheet.Balance(owner1, domain.TokenA).Int64())
	require.Equal(t, int64(87), sheet.Balance(owner2, domain.TokenA).Int64())
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveOpaqueQueue(t *testing.T) {
	queue := addr(0x72)

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), addr(2), queue},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(100), addr(2): big.NewInt(300), queue: big.NewInt(61)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(461), tokenB: big.NewInt(0)},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:    queue,
		Name:       "withdraw-queue",
		Kind:       domain.KindOpaque,
		Underlying: domain.TokenA,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	// 61 over 400: addr1 +15, addr2 +45, remainder 1 to the largest
	require.Equal(t, []int64{115, 346}, bigs(sheet, domain.TokenA, addr(1), addr(2)))
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveZeroIssuedFungibleFallsBackToOpaque(t *testing.T) {
	wrapper := addr(0x73)

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), wrapper},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(400), wrapper: big.NewInt(100)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(500), tokenB: big.NewInt(0)},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:    wrapper,
		Name:       "empty-vault",
		Kind:       domain.KindFungible,
		Underlying: domain.TokenA,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(500), sheet.Balance(addr(1), domain.TokenA).Int64(),
		"zero-issued wrapper balance goes to the resolved holders")
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveEnumerationFailureFallsBackToOpaque(t *testing.T) {
	wrapper := addr(0x74)

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), wrapper},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(400), wrapper: big.NewInt(100)},
		},
		supplies:    map[common.Address]*big.Int{tokenA: big.NewInt(500), tokenB: big.NewInt(0), wrapper: big.NewInt(10)},
		failHolders: map[common.Address]bool{wrapper: true},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:    wrapper,
		Name:       "flaky-vault",
		Kind:       domain.KindFungible,
		Underlying: domain.TokenA,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err, "an unenumerable wrapper degrades to opaque, not to a failed run")

	require.Equal(t, int64(500), sheet.Balance(addr(1), domain.TokenA).Int64())
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveNestedWrapperAndPoolOrder(t *testing.T) {
	vault := addr(0x75)  // fungible, 40% of it owned by the queue
	queue := addr(0x76)  // opaque

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), addr(2), vault},
			vault:  {addr(1), queue},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(40), addr(2): big.NewInt(300), vault: big.NewInt(100)},
			vault:  {addr(1): big.NewInt(6), queue: big.NewInt(4)},
		},
		supplies: map[common.Address]*big.Int{
			tokenA: big.NewInt(440),
			tokenB: big.NewInt(0),
			vault:  big.NewInt(10),
		},
	}
	wrappers := []domain.WrapperDescriptor{
		{Address: vault, Name: "vault", Kind: domain.KindFungible, Underlying: domain.TokenA},
		{Address: queue, Name: "queue", Kind: domain.KindOpaque, Underlying: domain.TokenA},
	}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	// vault's 100: 60 to addr1, 40 into the queue, which is unresolvable
	// and spread over {addr1: 100, addr2: 300}: +10 and +30
	require.Equal(t, []int64{110, 330}, bigs(sheet, domain.TokenA, addr(1), addr(2)))
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveRejectsWrapperCycle(t *testing.T) {
	vault := addr(0x77)

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {vault},
			vault:  {vault}, // the vault holds all of its own shares
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {vault: big.NewInt(100)},
			vault:  {vault: big.NewInt(10)},
		},
		supplies: map[common.Address]*big.Int{
			tokenA: big.NewInt(100),
			tokenB: big.NewInt(0),
			vault:  big.NewInt(10),
		},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:    vault,
		Name:       "self-vault",
		Kind:       domain.KindFungible,
		Underlying: domain.TokenA,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	_, err := engine.Resolve(context.Background())
	require.ErrorIs(t, err, ErrWrapperCycle)
}

func TestResolveRejectsOverResolvedRegistry(t *testing.T) {
	registry := addr(0x78)

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {registry},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {registry: big.NewInt(100)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(100), tokenB: big.NewInt(0)},
		positions: map[common.Address][]clients.LockedPosition{
			registry: {{Owner: addr(1), Amount: big.NewInt(150), Live: true}},
		},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:    registry,
		Name:       "broken-escrow",
		Kind:       domain.KindLockRegistry,
		Underlying: domain.TokenA,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	_, err := engine.Resolve(context.Background())
	require.ErrorIs(t, err, ErrOverResolved)
}

func TestResolveDepositorsCSVOverride(t *testing.T) {
	queue := addr(0x79)
	csvPath := filepath.Join(t.TempDir(), "depositors.csv")
	csvBody := "address,amount\n" +
		"0x0000000000000000000000000000000000000031,76\n" +
		"0x0000000000000000000000000000000000000032,25\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csvBody), 0o644))

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), queue},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(100), queue: big.NewInt(101)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(201), tokenB: big.NewInt(0)},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:       queue,
		Name:          "manual-queue",
		Kind:          domain.KindOpaque,
		Underlying:    domain.TokenA,
		DepositorsCSV: csvPath,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	// listed amounts are credited as-is, not rescaled to the balance
	require.Equal(t, int64(76), sheet.Balance(addr(0x31), domain.TokenA).Int64())
	require.Equal(t, int64(25), sheet.Balance(addr(0x32), domain.TokenA).Int64())
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveDepositorsCSVShortfallQueued(t *testing.T) {
	queue := addr(0x79)
	csvPath := filepath.Join(t.TempDir(), "depositors.csv")
	csvBody := "address,amount\n" +
		"0x0000000000000000000000000000000000000031,76\n" +
		"0x0000000000000000000000000000000000000032,20\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csvBody), 0o644))

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), queue},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(100), queue: big.NewInt(101)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(201), tokenB: big.NewInt(0)},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:       queue,
		Name:          "manual-queue",
		Kind:          domain.KindOpaque,
		Underlying:    domain.TokenA,
		DepositorsCSV: csvPath,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	// the list covers 96 of 101; the gap of 5 spreads over the resolved
	// map (100+76+20 = 196): addr1 +2, 0x31 +1, 0x32 +0, remainder 2 to
	// the largest (addr1) — listed depositors are never inflated to fill it
	require.Equal(t, int64(104), sheet.Balance(addr(1), domain.TokenA).Int64())
	require.Equal(t, int64(77), sheet.Balance(addr(0x31), domain.TokenA).Int64())
	require.Equal(t, int64(20), sheet.Balance(addr(0x32), domain.TokenA).Int64())
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveDepositorsCSVOverstatedRejected(t *testing.T) {
	queue := addr(0x79)
	csvPath := filepath.Join(t.TempDir(), "depositors.csv")
	csvBody := "address,amount\n" +
		"0x0000000000000000000000000000000000000031,150\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csvBody), 0o644))

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {queue},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {queue: big.NewInt(101)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(101), tokenB: big.NewInt(0)},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:       queue,
		Name:          "manual-queue",
		Kind:          domain.KindOpaque,
		Underlying:    domain.TokenA,
		DepositorsCSV: csvPath,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	_, err := engine.Resolve(context.Background())
	require.ErrorIs(t, err, ErrOverResolved, "a depositor list claiming more than the balance is an integrity error")
}

func TestResolveWrapperNonUnderlyingBalanceQueued(t *testing.T) {
	vault := addr(0x7c)

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), vault},
			tokenB: {addr(1), vault},
			vault:  {addr(2)},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(400), vault: big.NewInt(100)},
			tokenB: {addr(1): big.NewInt(80), vault: big.NewInt(20)},
			vault:  {addr(2): big.NewInt(10)},
		},
		supplies: map[common.Address]*big.Int{
			tokenA: big.NewInt(500),
			tokenB: big.NewInt(100),
			vault:  big.NewInt(10),
		},
	}
	wrappers := []domain.WrapperDescriptor{{
		Address:    vault,
		Name:       "staking-vault",
		Kind:       domain.KindFungible,
		Underlying: domain.TokenA,
	}}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	// the vault's tokenA goes to its depositor; its tokenB has no
	// attribution mechanism and spreads over the resolved tokenB holders
	require.Equal(t, int64(100), sheet.Balance(addr(2), domain.TokenA).Int64())
	require.Equal(t, int64(100), sheet.Balance(addr(1), domain.TokenB).Int64())
	require.False(t, sheet.Has(vault), "a wrapper must never keep a claim-token balance on the final sheet")
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveAppliesRedirects(t *testing.T) {
	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), addr(2)},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(100), addr(2): big.NewInt(300)},
		},
		supplies: map[common.Address]*big.Int{tokenA: big.NewInt(400), tokenB: big.NewInt(0)},
	}
	redirects := []domain.Redirect{
		{From: addr(1), To: addr(9)},
		{From: addr(2), To: addr(9)},
	}

	engine := New(zap.NewNop(), reader, testTokens(), nil, redirects)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(400), sheet.Balance(addr(9), domain.TokenA).Int64(),
		"redirected sources merge additively")
	require.False(t, sheet.Has(addr(1)))
	require.False(t, sheet.Has(addr(2)))
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}

func TestResolveBothTokensMixed(t *testing.T) {
	vault := addr(0x7a) // fungible on tokenA
	queue := addr(0x7b) // opaque on tokenB

	reader := &fakeReader{
		holders: map[common.Address][]common.Address{
			tokenA: {addr(1), addr(2), vault},
			tokenB: {addr(1), addr(3), queue},
			vault:  {addr(2), addr(3)},
		},
		balances: map[common.Address]map[common.Address]*big.Int{
			tokenA: {addr(1): big.NewInt(500), addr(2): big.NewInt(250), vault: big.NewInt(250)},
			tokenB: {addr(1): big.NewInt(70), addr(3): big.NewInt(20), queue: big.NewInt(10)},
			vault:  {addr(2): big.NewInt(1), addr(3): big.NewInt(3)},
		},
		supplies: map[common.Address]*big.Int{
			tokenA: big.NewInt(1000),
			tokenB: big.NewInt(100),
			vault:  big.NewInt(4),
		},
	}
	wrappers := []domain.WrapperDescriptor{
		{Address: vault, Name: "vault", Kind: domain.KindFungible, Underlying: domain.TokenA},
		{Address: queue, Name: "queue", Kind: domain.KindOpaque, Underlying: domain.TokenB},
	}

	engine := New(zap.NewNop(), reader, testTokens(), wrappers, nil)
	sheet, err := engine.Resolve(context.Background())
	require.NoError(t, err)

	// tokenA: vault's 250 split 1:3 floors to 62 and 187, dust 1 to
	// addr2, the first nonzero depositor
	require.Equal(t, []int64{500, 313, 187}, bigs(sheet, domain.TokenA, addr(1), addr(2), addr(3)))
	// tokenB: queue's 10 spread over 70/20: +7, +2, remainder 1 to addr1
	require.Equal(t, []int64{78, 22}, bigs(sheet, domain.TokenB, addr(1), addr(3)))
	require.NoError(t, sheet.CheckInvariant(nil, nil))
}
