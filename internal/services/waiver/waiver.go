// Package waiver verifies liability-waiver acknowledgments and keeps the
// one-time, per-address flag the claim ledger is gated on.
package waiver

import (
	"sync"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// statement is the text every claimant signs. Changing it invalidates
// all outstanding signatures, so treat it as frozen.
const statement = "I accept this recovery payout as full and final settlement of my claim against the Sonic Earn pool and waive any further claims beyond the distribution committed to my address."

var (
	// ErrBadSignature rejects a signature that is malformed or does not
	// recover to any signer.
	ErrBadSignature = errors.New("signature does not verify")

	// ErrWrongSigner rejects a valid signature made by an address other
	// than the claimant.
	ErrWrongSigner = errors.New("signature was made by a different address")
)

type journal interface {
	Append(event domain.LedgerEvent) error
	Events() ([]domain.LedgerEvent, error)
}

// Registry records which addresses have signed the waiver. Signatures
// are EIP-712 typed data bound to the claimant's own address, so an
// acknowledgment cannot be replayed for somebody else.
type Registry struct {
	mu      sync.RWMutex
	acks    map[common.Address]struct{}
	domain  apitypes.TypedDataDomain
	journal journal
	clock   clockwork.Clock
	l       *zap.Logger
}

// NewRegistry returns an empty registry. Call Replay to reload journaled
// acknowledgments before serving.
func NewRegistry(l *zap.Logger, clock clockwork.Clock, jrnl journal, chainID int64, verifyingContract common.Address) *Registry {
	return &Registry{
		acks: make(map[common.Address]struct{}),
		domain: apitypes.TypedDataDomain{
			Name:              "Sonic Earn Recovery",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: verifyingContract.Hex(),
		},
		journal: jrnl,
		clock:   clock,
		l:       l,
	}
}

// TypedData returns the full EIP-712 payload the claimant must sign.
// Served to wallets so the signed bytes and the verified bytes can never
// drift apart.
func (r *Registry) TypedData(claimant common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Waiver": []apitypes.Type{
				{Name: "claimant", Type: "address"},
				{Name: "statement", Type: "string"},
			},
		},
		PrimaryType: "Waiver",
		Domain:      r.domain,
		Message: apitypes.TypedDataMessage{
			"claimant":  claimant.Hex(),
			"statement": statement,
		},
	}
}

// Acknowledge verifies the claimant's signature over the waiver and sets
// the flag. Acknowledging twice is a no-op: the flag is one-way.
func (r *Registry) Acknowledge(claimant common.Address, sig []byte) error {
	if len(sig) != 65 {
		return errors.Wrapf(ErrBadSignature, "signature is %d bytes, want 65", len(sig))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.acks[claimant]; ok {
		return nil
	}

	signer, err := r.recoverSigner(claimant, sig)
	if err != nil {
		return err
	}
	if signer != claimant {
		return errors.Wrapf(ErrWrongSigner, "signed by %s, claimant is %s", signer.Hex(), claimant.Hex())
	}

	event := domain.LedgerEvent{
		Kind:      domain.EventWaiver,
		At:        r.clock.Now().Unix(),
		Address:   claimant,
		Signature: hexutil.Encode(sig),
	}
	if err := r.journal.Append(event); err != nil {
		return errors.Wrap(err, "journal waiver acknowledgment")
	}
	r.acks[claimant] = struct{}{}

	r.l.Info("waiver acknowledged", zap.String("address", claimant.Hex()))

	return nil
}

// Acknowledged reports whether the address has signed the waiver.
func (r *Registry) Acknowledged(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.acks[addr]
	return ok
}

// Count returns the number of acknowledged addresses.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.acks)
}

// Replay reloads acknowledgments from the journal. Signatures were
// verified before journaling and are not re-checked.
func (r *Registry) Replay() error {
	events, err := r.journal.Events()
	if err != nil {
		return errors.Wrap(err, "read claim journal")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, ev := range events {
		if ev.Kind != domain.EventWaiver {
			continue
		}
		r.acks[ev.Address] = struct{}{}
		loaded++
	}

	r.l.Info("waiver registry replayed", zap.Int("acknowledgments", loaded))

	return nil
}

func (r *Registry) recoverSigner(claimant common.Address, sig []byte) (common.Address, error) {
	digest, _, err := apitypes.TypedDataAndHash(r.TypedData(claimant))
	if err != nil {
		return common.Address{}, errors.Wrap(err, "hash waiver typed data")
	}

	cp := make([]byte, len(sig))
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27 // wallets emit V as 27/28, recovery wants 0/1
	}

	pub, err := crypto.SigToPub(digest, cp)
	if err != nil {
		return common.Address{}, errors.Wrapf(ErrBadSignature, "recover signer: %v", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}
