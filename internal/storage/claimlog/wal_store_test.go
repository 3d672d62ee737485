package claimlog

import (
	"math/big"
	"testing"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)

	events := []domain.LedgerEvent{
		{Kind: domain.EventFund, Token: domain.TokenA, Amount: big.NewInt(1000)},
		{Kind: domain.EventCreateRound, RoundID: 1, TotalA: big.NewInt(1000), Deadline: 42},
		{Kind: domain.EventClaim, RoundID: 1, Token: domain.TokenA,
			Address: common.HexToAddress("0xaa"), Amount: big.NewInt(300), Receipt: "r-1"},
	}
	for _, ev := range events {
		require.NoError(t, store.Append(ev))
	}

	got, err := store.Events()
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, domain.EventFund, got[0].Kind)
	require.Equal(t, "1000", got[0].Amount.String())
	require.Equal(t, uint64(1), got[1].RoundID)
	require.Equal(t, "r-1", got[2].Receipt)

	require.NoError(t, store.Close())

	// a fresh store over the same dir must see the same history
	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err = reopened.Events()
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(300), got[2].Amount.Int64())
}

func TestStoreRejectsKindlessEvent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.Error(t, store.Append(domain.LedgerEvent{}))
}
