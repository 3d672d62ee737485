// Package claims implements the round ledger: custody accounting,
// round lifecycle and proof-checked payouts.
package claims

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/Figu3/sonic-earn-recovery-system/pkg/merkle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrRoundNotFound rejects operations on an unknown round id.
	ErrRoundNotFound = errors.New("round not found")

	// ErrRoundInactive rejects claims against a deactivated, swept or
	// fully-claimed round.
	ErrRoundInactive = errors.New("round is not active")

	// ErrWaiverMissing rejects claimants who have not acknowledged the
	// liability waiver.
	ErrWaiverMissing = errors.New("liability waiver not acknowledged")

	// ErrAlreadyClaimed rejects a second claim for the same
	// (round, address, token).
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrProofInvalid rejects a proof that does not verify against the
	// round's root for exactly the supplied address and shares.
	ErrProofInvalid = errors.New("proof does not verify")

	// ErrPayoutExceedsRound rejects a payout that would push the round's
	// claimed total past its allocation.
	ErrPayoutExceedsRound = errors.New("payout would exceed round total")

	// ErrInsufficientCustody rejects allocations not backed by custody.
	ErrInsufficientCustody = errors.New("insufficient custody balance")

	// ErrRootTotalMismatch rejects a nonzero root with a zero total, and
	// a nonzero total with a zero root.
	ErrRootTotalMismatch = errors.New("root and total must be set together")

	// ErrRoundHasClaims rejects a root correction after any claim.
	ErrRoundHasClaims = errors.New("round already has claims")

	// ErrRootAlreadyCorrected rejects a second root correction.
	ErrRootAlreadyCorrected = errors.New("root already corrected once")

	// ErrDeadlineNotReached rejects a sweep before the round deadline.
	ErrDeadlineNotReached = errors.New("deadline not reached")

	// ErrAlreadySwept rejects operations on a swept round.
	ErrAlreadySwept = errors.New("round already swept")
)

type payoutSink interface {
	Pay(token domain.Token, recipient common.Address, amount *big.Int) error
}

type waiverRegistry interface {
	Acknowledged(addr common.Address) bool
}

type journal interface {
	Append(event domain.LedgerEvent) error
	Events() ([]domain.LedgerEvent, error)
}

type claimKey struct {
	addr  common.Address
	token domain.Token
}

type round struct {
	id        uint64
	rootA     common.Hash
	rootB     common.Hash
	joint     bool
	totalA    *big.Int
	totalB    *big.Int
	claimedA  *big.Int
	claimedB  *big.Int
	deadline  time.Time
	active    bool
	swept     bool
	corrected bool
	claims    map[claimKey]bool
}

func (r *round) allocation(t domain.Token) (total, claimed *big.Int) {
	if t == domain.TokenA {
		return r.totalA, r.claimedA
	}
	return r.totalB, r.claimedB
}

// RoundSpec describes a round to create. In a joint round RootA carries
// the single tree root and RootB stays zero.
type RoundSpec struct {
	RootA    common.Hash
	RootB    common.Hash
	Joint    bool
	TotalA   *big.Int
	TotalB   *big.Int
	Deadline time.Time
}

// RoundView is a read-only copy of one round's state.
type RoundView struct {
	ID       uint64
	RootA    common.Hash
	RootB    common.Hash
	Joint    bool
	TotalA   *big.Int
	TotalB   *big.Int
	ClaimedA *big.Int
	ClaimedB *big.Int
	Deadline time.Time
	Active   bool
	Swept    bool
}

// ClaimRequest asks for one payout. Shares appear exactly as committed
// into the claimant's leaf: one value in a per-token round, both values
// in a joint round.
type ClaimRequest struct {
	RoundID uint64
	Address common.Address
	Token   domain.Token
	Shares  []*big.Int
	Proof   []common.Hash
}

// Receipt confirms one executed claim.
type Receipt struct {
	ID      string
	RoundID uint64
	Address common.Address
	Token   domain.Token
	Amount  *big.Int
}

// Ledger mirrors the claim contract's serialization model: a single
// mutex guards every operation, so each claim's check-then-set and
// balance debit are indivisible from any caller's perspective.
type Ledger struct {
	mu      sync.Mutex
	custody map[domain.Token]*big.Int
	rounds  map[uint64]*round
	nextID  uint64
	clock   clockwork.Clock
	waivers waiverRegistry
	sink    payoutSink
	journal journal
	l       *zap.Logger
}

// NewLedger returns an empty ledger. Call Replay to load journaled
// state before serving.
func NewLedger(l *zap.Logger, clock clockwork.Clock, waivers waiverRegistry, sink payoutSink, jrnl journal) *Ledger {
	return &Ledger{
		custody: map[domain.Token]*big.Int{
			domain.TokenA: new(big.Int),
			domain.TokenB: new(big.Int),
		},
		rounds:  make(map[uint64]*round),
		nextID:  1,
		clock:   clock,
		waivers: waivers,
		sink:    sink,
		journal: jrnl,
		l:       l,
	}
}

// Fund records an operator deposit into ledger custody. Funds must be
// in custody before any round can allocate them.
func (g *Ledger) Fund(token domain.Token, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("funding amount must be positive")
	}
	amt := new(big.Int).Set(amount)

	g.mu.Lock()
	defer g.mu.Unlock()

	event := domain.LedgerEvent{
		Kind:   domain.EventFund,
		At:     g.clock.Now().Unix(),
		Token:  token,
		Amount: amt,
	}
	if err := g.append(event); err != nil {
		return err
	}
	g.custody[token].Add(g.custody[token], amt)

	g.l.Info("custody funded",
		zap.Stringer("token", token),
		zap.String("amount", amt.String()),
		zap.String("custody", g.custody[token].String()))

	return nil
}

// CreateRound opens a new round. The cumulative outstanding allocation
// across all active rounds, this one included, must stay within
// custody: one round's funding can never be silently recommitted to
// another.
func (g *Ledger) CreateRound(spec RoundSpec) (uint64, error) {
	totalA, totalB := orZero(spec.TotalA), orZero(spec.TotalB)
	if totalA.Sign() == 0 && totalB.Sign() == 0 {
		return 0, errors.New("round must distribute something")
	}
	if spec.Deadline.IsZero() {
		return 0, errors.New("round deadline is required")
	}
	if err := validateRoots(spec.RootA, spec.RootB, spec.Joint, totalA, totalB); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range domain.Tokens() {
		total := totalA
		if t == domain.TokenB {
			total = totalB
		}
		if total.Sign() == 0 {
			continue
		}
		if available := g.availableLocked(t); available.Cmp(total) < 0 {
			return 0, errors.Wrapf(ErrInsufficientCustody,
				"%s: allocating %s with %s available", t, total, available)
		}
	}

	id := g.nextID
	event := domain.LedgerEvent{
		Kind:     domain.EventCreateRound,
		At:       g.clock.Now().Unix(),
		RoundID:  id,
		RootA:    spec.RootA,
		RootB:    spec.RootB,
		Joint:    spec.Joint,
		TotalA:   totalA,
		TotalB:   totalB,
		Deadline: spec.Deadline.Unix(),
	}
	if err := g.append(event); err != nil {
		return 0, err
	}
	g.applyCreate(id, spec.RootA, spec.RootB, spec.Joint, totalA, totalB, spec.Deadline)

	roundsCreated.Inc()
	g.l.Info("round created",
		zap.Uint64("round", id),
		zap.String("total_a", totalA.String()),
		zap.String("total_b", totalB.String()),
		zap.Time("deadline", spec.Deadline))

	return id, nil
}

// CorrectRoots swaps the round's roots, permitted exactly once and only
// while no claim has been recorded: after even one claim a swap could
// leave some proofs verifying against stale data.
func (g *Ledger) CorrectRoots(roundID uint64, rootA, rootB common.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rounds[roundID]
	if !ok {
		return errors.Wrapf(ErrRoundNotFound, "round %d", roundID)
	}
	if r.swept {
		return errors.Wrapf(ErrAlreadySwept, "round %d", roundID)
	}
	if !r.active {
		return errors.Wrapf(ErrRoundInactive, "round %d", roundID)
	}
	if len(r.claims) > 0 {
		return errors.Wrapf(ErrRoundHasClaims, "round %d has %d claim(s)", roundID, len(r.claims))
	}
	if r.corrected {
		return errors.Wrapf(ErrRootAlreadyCorrected, "round %d", roundID)
	}
	if err := validateRoots(rootA, rootB, r.joint, r.totalA, r.totalB); err != nil {
		return err
	}

	event := domain.LedgerEvent{
		Kind:    domain.EventCorrectRoot,
		At:      g.clock.Now().Unix(),
		RoundID: roundID,
		RootA:   rootA,
		RootB:   rootB,
	}
	if err := g.append(event); err != nil {
		return err
	}
	r.rootA, r.rootB, r.corrected = rootA, rootB, true

	g.l.Warn("round roots corrected", zap.Uint64("round", roundID))

	return nil
}

// Claim verifies and pays one (round, address, token) payout.
func (g *Ledger) Claim(req ClaimRequest) (*Receipt, error) {
	receipt, err := g.claim(req)
	if err != nil {
		claimsRejected.WithLabelValues(reasonLabel(err)).Inc()
		return receipt, err
	}

	claimsProcessed.WithLabelValues(req.Token.String()).Inc()
	return receipt, nil
}

func (g *Ledger) claim(req ClaimRequest) (*Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rounds[req.RoundID]
	if !ok {
		return nil, errors.Wrapf(ErrRoundNotFound, "round %d", req.RoundID)
	}
	if !g.waivers.Acknowledged(req.Address) {
		return nil, errors.Wrapf(ErrWaiverMissing, "address %s", req.Address.Hex())
	}
	if !r.active {
		return nil, errors.Wrapf(ErrRoundInactive, "round %d", req.RoundID)
	}

	key := claimKey{addr: req.Address, token: req.Token}
	if r.claims[key] {
		return nil, errors.Wrapf(ErrAlreadyClaimed, "round %d, %s, %s", req.RoundID, req.Address.Hex(), req.Token)
	}

	share, err := r.verify(req)
	if err != nil {
		return nil, err
	}

	total, claimed := r.allocation(req.Token)
	payout := domain.Payout(share, total)

	// guards a corrupt tree whose leaves were crafted to sum above one WAD
	if new(big.Int).Add(claimed, payout).Cmp(total) > 0 {
		return nil, errors.Wrapf(ErrPayoutExceedsRound,
			"round %d %s: claimed %s + payout %s over total %s", req.RoundID, req.Token, claimed, payout, total)
	}

	receipt := &Receipt{
		ID:      uuid.NewString(),
		RoundID: req.RoundID,
		Address: req.Address,
		Token:   req.Token,
		Amount:  payout,
	}

	event := domain.LedgerEvent{
		Kind:    domain.EventClaim,
		At:      g.clock.Now().Unix(),
		RoundID: req.RoundID,
		Token:   req.Token,
		Address: req.Address,
		Amount:  payout,
		Receipt: receipt.ID,
	}
	if err := g.append(event); err != nil {
		return nil, err
	}
	g.applyClaim(r, key, payout)

	if payout.Sign() > 0 {
		if err := g.sink.Pay(req.Token, req.Address, payout); err != nil {
			// the journaled event is the payout order of record; the
			// transfer is re-run from it, never re-claimed
			g.l.Error("payout transfer failed",
				zap.String("receipt", receipt.ID),
				zap.Error(err))
			return receipt, errors.Wrap(err, "execute payout")
		}
	}

	g.l.Info("claim paid",
		zap.Uint64("round", req.RoundID),
		zap.String("address", req.Address.Hex()),
		zap.Stringer("token", req.Token),
		zap.String("amount", payout.String()),
		zap.String("receipt", receipt.ID))

	return receipt, nil
}

// Deactivate releases the round's unclaimed allocation back to the
// available pool without touching funds already paid out.
func (g *Ledger) Deactivate(roundID uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rounds[roundID]
	if !ok {
		return errors.Wrapf(ErrRoundNotFound, "round %d", roundID)
	}
	if r.swept {
		return errors.Wrapf(ErrAlreadySwept, "round %d", roundID)
	}
	if !r.active {
		return errors.Wrapf(ErrRoundInactive, "round %d", roundID)
	}

	event := domain.LedgerEvent{
		Kind:    domain.EventDeactivate,
		At:      g.clock.Now().Unix(),
		RoundID: roundID,
	}
	if err := g.append(event); err != nil {
		return err
	}
	r.active = false

	g.l.Info("round deactivated",
		zap.Uint64("round", roundID),
		zap.String("released_a", new(big.Int).Sub(r.totalA, r.claimedA).String()),
		zap.String("released_b", new(big.Int).Sub(r.totalB, r.claimedB).String()))

	return nil
}

// Sweep transfers whatever remains unclaimed to recipient, once per
// round and only after the deadline. The remainder is computed fresh
// and the round is marked fully claimed so no claim can race the sweep.
func (g *Ledger) Sweep(roundID uint64, recipient common.Address) (sweptA, sweptB *big.Int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rounds[roundID]
	if !ok {
		return nil, nil, errors.Wrapf(ErrRoundNotFound, "round %d", roundID)
	}
	if r.swept {
		return nil, nil, errors.Wrapf(ErrAlreadySwept, "round %d", roundID)
	}
	if g.clock.Now().Before(r.deadline) {
		return nil, nil, errors.Wrapf(ErrDeadlineNotReached, "round %d deadline %s", roundID, r.deadline)
	}

	remainingA := new(big.Int).Sub(r.totalA, r.claimedA)
	remainingB := new(big.Int).Sub(r.totalB, r.claimedB)

	// sweeping a deactivated round removes custody its released
	// allocation may already back elsewhere
	for _, t := range domain.Tokens() {
		remaining := remainingA
		if t == domain.TokenB {
			remaining = remainingB
		}
		if remaining.Sign() == 0 {
			continue
		}
		outstanding := g.outstandingLocked(t)
		if r.active {
			total, claimed := r.allocation(t)
			outstanding.Sub(outstanding, new(big.Int).Sub(total, claimed))
		}
		if new(big.Int).Sub(g.custody[t], remaining).Cmp(outstanding) < 0 {
			return nil, nil, errors.Wrapf(ErrInsufficientCustody,
				"sweeping %s %s would break the backing of active rounds", remaining, t)
		}
	}

	event := domain.LedgerEvent{
		Kind:      domain.EventSweep,
		At:        g.clock.Now().Unix(),
		RoundID:   roundID,
		Amount:    remainingA,
		AmountB:   remainingB,
		Recipient: recipient,
	}
	if err := g.append(event); err != nil {
		return nil, nil, err
	}
	g.applySweep(r, remainingA, remainingB)

	for _, t := range domain.Tokens() {
		remaining := remainingA
		if t == domain.TokenB {
			remaining = remainingB
		}
		if remaining.Sign() == 0 {
			continue
		}
		if err := g.sink.Pay(t, recipient, remaining); err != nil {
			g.l.Error("sweep transfer failed", zap.Uint64("round", roundID), zap.Error(err))
			return remainingA, remainingB, errors.Wrapf(err, "transfer swept %s", t)
		}
	}

	g.l.Info("round swept",
		zap.Uint64("round", roundID),
		zap.String("recipient", recipient.Hex()),
		zap.String("swept_a", remainingA.String()),
		zap.String("swept_b", remainingB.String()))

	return remainingA, remainingB, nil
}

// Replay rebuilds ledger state from the journal. Transfers already
// executed are not re-run.
func (g *Ledger) Replay() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	events, err := g.journal.Events()
	if err != nil {
		return errors.Wrap(err, "read claim journal")
	}

	for i, ev := range events {
		if err := g.applyEvent(ev); err != nil {
			return errors.Wrapf(err, "replay event %d (%s)", i, ev.Kind)
		}
	}

	g.l.Info("ledger replayed",
		zap.Int("events", len(events)),
		zap.Int("rounds", len(g.rounds)))

	return nil
}

// Custody returns the ledger's balance of the token.
func (g *Ledger) Custody(token domain.Token) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return new(big.Int).Set(g.custody[token])
}

// Available returns custody not yet committed to an active round.
func (g *Ledger) Available(token domain.Token) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.availableLocked(token)
}

// Round returns a copy of one round's state.
func (g *Ledger) Round(roundID uint64) (RoundView, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rounds[roundID]
	if !ok {
		return RoundView{}, false
	}
	return r.view(), true
}

// Rounds returns copies of every round, ordered by id.
func (g *Ledger) Rounds() []RoundView {
	g.mu.Lock()
	defer g.mu.Unlock()

	views := make([]RoundView, 0, len(g.rounds))
	for _, r := range g.rounds {
		views = append(views, r.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	return views
}

func (r *round) view() RoundView {
	return RoundView{
		ID:       r.id,
		RootA:    r.rootA,
		RootB:    r.rootB,
		Joint:    r.joint,
		TotalA:   new(big.Int).Set(r.totalA),
		TotalB:   new(big.Int).Set(r.totalB),
		ClaimedA: new(big.Int).Set(r.claimedA),
		ClaimedB: new(big.Int).Set(r.claimedB),
		Deadline: r.deadline,
		Active:   r.active,
		Swept:    r.swept,
	}
}

// verify checks shape, range and proof, returning the share the payout
// is computed from.
func (r *round) verify(req ClaimRequest) (*big.Int, error) {
	want := 1
	if r.joint {
		want = 2
	}
	if len(req.Shares) != want {
		return nil, errors.Wrapf(ErrProofInvalid, "round %d expects %d share value(s), got %d", r.id, want, len(req.Shares))
	}
	for _, s := range req.Shares {
		if s == nil || s.Sign() < 0 || s.Cmp(domain.WAD) > 0 {
			return nil, errors.Wrapf(ErrProofInvalid, "share out of [0, WAD]")
		}
	}

	root := r.rootA
	if !r.joint && req.Token == domain.TokenB {
		root = r.rootB
	}
	if (root == common.Hash{}) {
		return nil, errors.Wrapf(ErrProofInvalid, "round %d has no %s distribution", r.id, req.Token)
	}

	leaf := merkle.Leaf(req.Address, req.Shares...)
	if !merkle.Verify(leaf, req.Proof, root) {
		return nil, errors.Wrapf(ErrProofInvalid, "round %d, address %s", r.id, req.Address.Hex())
	}

	share := req.Shares[0]
	if r.joint && req.Token == domain.TokenB {
		share = req.Shares[1]
	}

	return share, nil
}

func (g *Ledger) applyCreate(id uint64, rootA, rootB common.Hash, joint bool, totalA, totalB *big.Int, deadline time.Time) {
	g.rounds[id] = &round{
		id:       id,
		rootA:    rootA,
		rootB:    rootB,
		joint:    joint,
		totalA:   totalA,
		totalB:   totalB,
		claimedA: new(big.Int),
		claimedB: new(big.Int),
		deadline: deadline,
		active:   true,
		claims:   make(map[claimKey]bool),
	}
	if id >= g.nextID {
		g.nextID = id + 1
	}
}

func (g *Ledger) applyClaim(r *round, key claimKey, payout *big.Int) {
	r.claims[key] = true
	_, claimed := r.allocation(key.token)
	claimed.Add(claimed, payout)
	g.custody[key.token].Sub(g.custody[key.token], payout)

	// both totals reached: the round is terminal
	if r.claimedA.Cmp(r.totalA) == 0 && r.claimedB.Cmp(r.totalB) == 0 {
		r.active = false
	}
}

func (g *Ledger) applySweep(r *round, remA, remB *big.Int) {
	r.claimedA.Add(r.claimedA, remA)
	r.claimedB.Add(r.claimedB, remB)
	g.custody[domain.TokenA].Sub(g.custody[domain.TokenA], remA)
	g.custody[domain.TokenB].Sub(g.custody[domain.TokenB], remB)
	r.active = false
	r.swept = true
}

func (g *Ledger) applyEvent(ev domain.LedgerEvent) error {
	switch ev.Kind {
	case domain.EventFund:
		g.custody[ev.Token].Add(g.custody[ev.Token], orZero(ev.Amount))

	case domain.EventCreateRound:
		g.applyCreate(ev.RoundID, ev.RootA, ev.RootB, ev.Joint,
			orZero(ev.TotalA), orZero(ev.TotalB), time.Unix(ev.Deadline, 0))

	case domain.EventCorrectRoot:
		r, ok := g.rounds[ev.RoundID]
		if !ok {
			return errors.Wrapf(ErrRoundNotFound, "round %d", ev.RoundID)
		}
		r.rootA, r.rootB, r.corrected = ev.RootA, ev.RootB, true

	case domain.EventClaim:
		r, ok := g.rounds[ev.RoundID]
		if !ok {
			return errors.Wrapf(ErrRoundNotFound, "round %d", ev.RoundID)
		}
		g.applyClaim(r, claimKey{addr: ev.Address, token: ev.Token}, orZero(ev.Amount))

	case domain.EventDeactivate:
		r, ok := g.rounds[ev.RoundID]
		if !ok {
			return errors.Wrapf(ErrRoundNotFound, "round %d", ev.RoundID)
		}
		r.active = false

	case domain.EventSweep:
		r, ok := g.rounds[ev.RoundID]
		if !ok {
			return errors.Wrapf(ErrRoundNotFound, "round %d", ev.RoundID)
		}
		g.applySweep(r, orZero(ev.Amount), orZero(ev.AmountB))

	case domain.EventWaiver:
		// owned by the waiver registry, which replays the same journal

	default:
		return errors.Errorf("unknown event kind %q", ev.Kind)
	}

	return nil
}

func (g *Ledger) append(event domain.LedgerEvent) error {
	if err := g.journal.Append(event); err != nil {
		return errors.Wrapf(err, "journal %s event", event.Kind)
	}
	return nil
}

// outstandingLocked sums total−claimed over active rounds. Caller holds
// the mutex.
func (g *Ledger) outstandingLocked(token domain.Token) *big.Int {
	out := new(big.Int)
	for _, r := range g.rounds {
		if !r.active {
			continue
		}
		total, claimed := r.allocation(token)
		out.Add(out, new(big.Int).Sub(total, claimed))
	}
	return out
}

func (g *Ledger) availableLocked(token domain.Token) *big.Int {
	return new(big.Int).Sub(g.custody[token], g.outstandingLocked(token))
}

// validateRoots enforces the root/total pairing: a nonzero root with
// nothing at stake is trivially forgeable, a nonzero total with no root
// is unclaimable.
func validateRoots(rootA, rootB common.Hash, joint bool, totalA, totalB *big.Int) error {
	if joint {
		if (rootA == common.Hash{}) {
			return errors.Wrap(ErrRootTotalMismatch, "joint round needs a root")
		}
		if (rootB != common.Hash{}) {
			return errors.Wrap(ErrRootTotalMismatch, "joint round carries a single root")
		}
		return nil
	}

	if (rootA == common.Hash{}) != (totalA.Sign() == 0) {
		return errors.Wrapf(ErrRootTotalMismatch, "tokenA root %s with total %s", rootA.Hex(), totalA)
	}
	if (rootB == common.Hash{}) != (totalB.Sign() == 0) {
		return errors.Wrapf(ErrRootTotalMismatch, "tokenB root %s with total %s", rootB.Hex(), totalB)
	}

	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrRoundNotFound):
		return "round_not_found"
	case errors.Is(err, ErrWaiverMissing):
		return "waiver_missing"
	case errors.Is(err, ErrRoundInactive):
		return "round_inactive"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrProofInvalid):
		return "proof_invalid"
	case errors.Is(err, ErrPayoutExceedsRound):
		return "payout_exceeds_round"
	default:
		return "other"
	}
}
