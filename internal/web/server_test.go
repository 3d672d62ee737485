package web

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/claims"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/distributor"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/waiver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeJournal struct {
	events []domain.LedgerEvent
}

func (j *fakeJournal) Append(ev domain.LedgerEvent) error {
	j.events = append(j.events, ev)
	return nil
}

func (j *fakeJournal) Events() ([]domain.LedgerEvent, error) {
	return append([]domain.LedgerEvent(nil), j.events...), nil
}

type fakeSink struct {
	payments int
}

func (s *fakeSink) Pay(_ domain.Token, _ common.Address, amount *big.Int) error {
	if amount == nil {
		return errors.New("nil amount")
	}
	s.payments++
	return nil
}

type fixture struct {
	routes  http.Handler
	ledger  *claims.Ledger
	waivers *waiver.Registry
	res     *distributor.Result
	key     *ecdsa.PrivateKey
	holder  common.Address
	other   common.Address
	round   uint64
}

// newFixture builds a live stack: two holders split a 1000-token round
// 60/40, with the key-controlled holder able to sign its waiver.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	holder := crypto.PubkeyToAddress(key.PublicKey)
	other := common.Address{19: 0x42}

	sheet := domain.NewBalanceSheet(big.NewInt(1000), new(big.Int))
	sheet.Credit(holder, domain.TokenA, big.NewInt(600))
	sheet.Credit(other, domain.TokenA, big.NewInt(400))

	res, err := distributor.New(zap.NewNop(), distributor.ModePerToken).Build(sheet)
	require.NoError(t, err)
	tree := res.Tree("token-a")
	require.NotNil(t, tree)

	clock := clockwork.NewFakeClockAt(time.Unix(1_755_000_000, 0))
	jrnl := &fakeJournal{}
	waivers := waiver.NewRegistry(zap.NewNop(), clock, jrnl, 146, common.Address{19: 0xCC})
	ledger := claims.NewLedger(zap.NewNop(), clock, waivers, &fakeSink{}, jrnl)

	require.NoError(t, ledger.Fund(domain.TokenA, big.NewInt(1000)))
	round, err := ledger.CreateRound(claims.RoundSpec{
		RootA:    tree.Root,
		TotalA:   big.NewInt(1000),
		Deadline: clock.Now().Add(365 * 24 * time.Hour),
	})
	require.NoError(t, err)

	srv := NewServer("127.0.0.1:0", ledger, waivers, res, zap.NewNop())
	return &fixture{
		routes:  srv.routes(),
		ledger:  ledger,
		waivers: waivers,
		res:     res,
		key:     key,
		holder:  holder,
		other:   other,
		round:   round,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doRaw(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "response must be JSON: %s", rec.Body.String())
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorDTO
	decodeInto(t, rec, &e)
	return e.Error
}

func (f *fixture) leafFor(t *testing.T, addr common.Address) distributor.LeafClaim {
	t.Helper()
	for _, lc := range f.res.Tree("token-a").Leaves {
		if lc.Address == addr {
			return lc
		}
	}
	t.Fatalf("no leaf for %s", addr.Hex())
	return distributor.LeafClaim{}
}

func (f *fixture) claimFor(t *testing.T, addr common.Address) claimBody {
	lc := f.leafFor(t, addr)
	return claimBody{
		RoundID: f.round,
		Address: addr.Hex(),
		Token:   "tokenA",
		Shares:  bigStrings(lc.Shares),
		Proof:   hashHexes(lc.Proof),
	}
}

func (f *fixture) acknowledge(t *testing.T, key *ecdsa.PrivateKey, addr common.Address) {
	t.Helper()

	digest, _, err := apitypes.TypedDataAndHash(f.waivers.TypedData(addr))
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/waiver", waiverBody{Address: addr.Hex(), Signature: hexutil.Encode(sig)})
	require.Equal(t, http.StatusOK, rec.Code, "acknowledgment must succeed: %s", rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "metrics endpoint must serve")
}

func TestRoundListingAndDetail(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/rounds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rounds []roundDTO
	decodeInto(t, rec, &rounds)
	require.Len(t, rounds, 1)
	assert.EqualValues(t, 1, rounds[0].ID)
	assert.Equal(t, "1000", rounds[0].TotalA)
	assert.Equal(t, f.res.Tree("token-a").Root.Hex(), rounds[0].RootA)
	assert.True(t, rounds[0].Active)
	assert.Empty(t, rounds[0].RootB, "no tokenB distribution, no root")

	rec = f.do(t, http.MethodGet, "/api/rounds/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one roundDTO
	decodeInto(t, rec, &one)
	assert.EqualValues(t, 1, one.ID)

	rec = f.do(t, http.MethodGet, "/api/rounds/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "round_not_found", errCode(t, rec))

	rec = f.do(t, http.MethodGet, "/api/rounds/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTreasuryEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/treasury", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr treasuryDTO
	decodeInto(t, rec, &tr)
	assert.Equal(t, "1000", tr.CustodyA, "funded custody")
	assert.Equal(t, "0", tr.AvailableA, "everything is allocated to the round")
	assert.Equal(t, "0", tr.CustodyB)
}

func TestProofLookup(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/proofs/"+f.holder.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp proofsResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, f.res.RunID, resp.RunID)
	require.Len(t, resp.Proofs, 1)
	assert.Equal(t, "token-a", resp.Proofs[0].Tree)
	assert.Equal(t, []string{"600000000000000000"}, resp.Proofs[0].Shares, "60% of one WAD")
	assert.NotEmpty(t, resp.Proofs[0].Proof)

	rec = f.do(t, http.MethodGet, "/api/proofs/0x0000000000000000000000000000000000000099", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_claims", errCode(t, rec))

	rec = f.do(t, http.MethodGet, "/api/proofs/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_address", errCode(t, rec))
}

func TestProofLookupWithoutDistribution(t *testing.T) {
	f := newFixture(t)
	srv := NewServer("127.0.0.1:0", f.ledger, f.waivers, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/proofs/"+f.holder.Hex(), nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "distribution_not_loaded", errCode(t, rec))
}

func TestWaiverFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/waiver/"+f.holder.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var show waiverShowResponse
	decodeInto(t, rec, &show)
	assert.False(t, show.Acknowledged)
	assert.Equal(t, "Waiver", show.TypedData.PrimaryType, "wallets get the exact payload to sign")

	f.acknowledge(t, f.key, f.holder)

	rec = f.do(t, http.MethodGet, "/api/waiver/"+f.holder.Hex(), nil)
	decodeInto(t, rec, &show)
	assert.True(t, show.Acknowledged)

	// garbage signature
	rec = f.do(t, http.MethodPost, "/api/waiver", waiverBody{
		Address: f.other.Hex(), Signature: hexutil.Encode(make([]byte, 65)),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_signature", errCode(t, rec))

	// signature from the wrong key
	intruder, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest, _, err := apitypes.TypedDataAndHash(f.waivers.TypedData(f.other))
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, intruder)
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/waiver", waiverBody{Address: f.other.Hex(), Signature: hexutil.Encode(sig)})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "wrong_signer", errCode(t, rec))

	// not even hex
	rec = f.do(t, http.MethodPost, "/api/waiver", waiverBody{Address: f.other.Hex(), Signature: "zzz"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimFlow(t *testing.T) {
	f := newFixture(t)

	// the other holder never signed the waiver
	rec := f.do(t, http.MethodPost, "/api/claims", f.claimFor(t, f.other))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "waiver_required", errCode(t, rec))

	f.acknowledge(t, f.key, f.holder)

	rec = f.do(t, http.MethodPost, "/api/claims", f.claimFor(t, f.holder))
	require.Equal(t, http.StatusOK, rec.Code, "valid claim must pay: %s", rec.Body.String())
	var receipt receiptDTO
	decodeInto(t, rec, &receipt)
	assert.Equal(t, "600", receipt.Amount, "60% of the 1000-token round")
	assert.Equal(t, "tokenA", receipt.Token)
	assert.NotEmpty(t, receipt.Receipt)

	rec = f.do(t, http.MethodPost, "/api/claims", f.claimFor(t, f.holder))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_claimed", errCode(t, rec))

	tampered := f.claimFor(t, f.holder)
	tampered.Shares = []string{"700000000000000000"}
	rec = f.do(t, http.MethodPost, "/api/claims", tampered)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_proof", errCode(t, rec))

	unknownRound := f.claimFor(t, f.holder)
	unknownRound.RoundID = 99
	rec = f.do(t, http.MethodPost, "/api/claims", unknownRound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "round_not_found", errCode(t, rec))
}

func TestClaimInputValidation(t *testing.T) {
	f := newFixture(t)

	badToken := f.claimFor(t, f.holder)
	badToken.Token = "tokenC"
	rec := f.do(t, http.MethodPost, "/api/claims", badToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_token", errCode(t, rec))

	badShare := f.claimFor(t, f.holder)
	badShare.Shares = []string{"abc"}
	rec = f.do(t, http.MethodPost, "/api/claims", badShare)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_share", errCode(t, rec))

	badProof := f.claimFor(t, f.holder)
	badProof.Proof = []string{"0x1234"}
	rec = f.do(t, http.MethodPost, "/api/claims", badProof)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_proof_node", errCode(t, rec))

	badAddr := f.claimFor(t, f.holder)
	badAddr.Address = "nope"
	rec = f.do(t, http.MethodPost, "/api/claims", badAddr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_address", errCode(t, rec))

	rec = f.doRaw(t, http.MethodPost, "/api/claims", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", errCode(t, rec))
}
