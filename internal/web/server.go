// Package web serves the claim API: round listings, per-address proofs,
// waiver acknowledgment and claim execution.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/claims"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/distributor"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/waiver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const maxBodyBytes = 1 << 20

type roundLedger interface {
	Rounds() []claims.RoundView
	Round(id uint64) (claims.RoundView, bool)
	Custody(token domain.Token) *big.Int
	Available(token domain.Token) *big.Int
	Claim(req claims.ClaimRequest) (*claims.Receipt, error)
}

type waiverGate interface {
	TypedData(claimant common.Address) apitypes.TypedData
	Acknowledge(claimant common.Address, sig []byte) error
	Acknowledged(addr common.Address) bool
}

// Server exposes the HTTP claim API.
type Server struct {
	Addr    string
	ledger  roundLedger
	waivers waiverGate
	dist    *distributor.Result
	l       *zap.Logger
}

// NewServer creates a claim API server. dist may be nil when no
// distribution artifacts are loaded; the proof endpoint then answers 503.
func NewServer(addr string, ledger roundLedger, waivers waiverGate, dist *distributor.Result, l *zap.Logger) *Server {
	return &Server{Addr: addr, ledger: ledger, waivers: waivers, dist: dist, l: l}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("claim api listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates
// via ACME, plus a port-80 server for HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("acme challenge server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme challenge server failed", zap.Error(err))
		}
	}()

	s.l.Info("claim api listening with auto tls", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.instrument("healthz", s.handleHealthz))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/rounds", s.instrument("rounds", s.handleRounds))
	mux.HandleFunc("GET /api/rounds/{id}", s.instrument("round", s.handleRound))
	mux.HandleFunc("GET /api/treasury", s.instrument("treasury", s.handleTreasury))
	mux.HandleFunc("GET /api/proofs/{address}", s.instrument("proofs", s.handleProofs))
	mux.HandleFunc("GET /api/waiver/{address}", s.instrument("waiver_show", s.handleWaiverShow))
	mux.HandleFunc("POST /api/waiver", s.instrument("waiver_ack", s.handleWaiverAck))
	mux.HandleFunc("POST /api/claims", s.instrument("claim", s.handleClaim))
	return mux
}

type errorDTO struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type roundDTO struct {
	ID       uint64 `json:"id"`
	RootA    string `json:"root_a,omitempty"`
	RootB    string `json:"root_b,omitempty"`
	Joint    bool   `json:"joint"`
	TotalA   string `json:"total_a"`
	TotalB   string `json:"total_b"`
	ClaimedA string `json:"claimed_a"`
	ClaimedB string `json:"claimed_b"`
	Deadline int64  `json:"deadline"`
	Active   bool   `json:"active"`
	Swept    bool   `json:"swept"`
}

type treasuryDTO struct {
	CustodyA   string `json:"custody_a"`
	CustodyB   string `json:"custody_b"`
	AvailableA string `json:"available_a"`
	AvailableB string `json:"available_b"`
}

type proofDTO struct {
	Tree   string   `json:"tree"`
	Index  int      `json:"leaf_index"`
	Shares []string `json:"shares"`
	Proof  []string `json:"proof"`
}

type proofsResponse struct {
	Address string     `json:"address"`
	RunID   string     `json:"run_id"`
	Proofs  []proofDTO `json:"proofs"`
}

type waiverShowResponse struct {
	Address      string             `json:"address"`
	Acknowledged bool               `json:"acknowledged"`
	TypedData    apitypes.TypedData `json:"typed_data"`
}

type waiverBody struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type claimBody struct {
	RoundID uint64   `json:"round_id"`
	Address string   `json:"address"`
	Token   string   `json:"token"`
	Shares  []string `json:"shares"`
	Proof   []string `json:"proof"`
}

type receiptDTO struct {
	Receipt string `json:"receipt"`
	RoundID uint64 `json:"round_id"`
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRounds(w http.ResponseWriter, _ *http.Request) {
	views := s.ledger.Rounds()
	out := make([]roundDTO, 0, len(views))
	for _, v := range views {
		out = append(out, roundToDTO(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_round_id", "round id must be a number")
		return
	}
	view, ok := s.ledger.Round(id)
	if !ok {
		writeError(w, http.StatusNotFound, "round_not_found", "no round with that id")
		return
	}
	writeJSON(w, http.StatusOK, roundToDTO(view))
}

func (s *Server) handleTreasury(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, treasuryDTO{
		CustodyA:   s.ledger.Custody(domain.TokenA).String(),
		CustodyB:   s.ledger.Custody(domain.TokenB).String(),
		AvailableA: s.ledger.Available(domain.TokenA).String(),
		AvailableB: s.ledger.Available(domain.TokenB).String(),
	})
}

func (s *Server) handleProofs(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed hex")
		return
	}
	if s.dist == nil {
		writeError(w, http.StatusServiceUnavailable, "distribution_not_loaded", "no distribution artifacts are loaded")
		return
	}

	addr := common.HexToAddress(raw)
	var out []proofDTO
	for _, tc := range s.dist.Trees {
		for _, lc := range tc.Leaves {
			if lc.Address != addr {
				continue
			}
			out = append(out, proofDTO{
				Tree:   tc.Label,
				Index:  lc.Index,
				Shares: bigStrings(lc.Shares),
				Proof:  hashHexes(lc.Proof),
			})
		}
	}
	if len(out) == 0 {
		writeError(w, http.StatusNotFound, "no_claims", "address has no committed shares")
		return
	}

	writeJSON(w, http.StatusOK, proofsResponse{Address: addr.Hex(), RunID: s.dist.RunID, Proofs: out})
}

func (s *Server) handleWaiverShow(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed hex")
		return
	}
	addr := common.HexToAddress(raw)

	writeJSON(w, http.StatusOK, waiverShowResponse{
		Address:      addr.Hex(),
		Acknowledged: s.waivers.Acknowledged(addr),
		TypedData:    s.waivers.TypedData(addr),
	})
}

func (s *Server) handleWaiverAck(w http.ResponseWriter, r *http.Request) {
	var body waiverBody
	if !decodeBody(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.Address) {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed hex")
		return
	}
	sig, err := hexutil.Decode(body.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature must be 0x-prefixed hex")
		return
	}

	addr := common.HexToAddress(body.Address)
	if err := s.waivers.Acknowledge(addr, sig); err != nil {
		switch {
		case errors.Is(err, waiver.ErrBadSignature):
			writeError(w, http.StatusUnprocessableEntity, "invalid_signature", err.Error())
		case errors.Is(err, waiver.ErrWrongSigner):
			writeError(w, http.StatusUnprocessableEntity, "wrong_signer", err.Error())
		default:
			s.l.Error("waiver acknowledgment failed", zap.String("address", addr.Hex()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr.Hex(), "acknowledged": true})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimBody
	if !decodeBody(w, r, &body) {
		return
	}
	if !common.IsHexAddress(body.Address) {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 0x-prefixed hex")
		return
	}
	token, err := domain.ParseToken(body.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_token", err.Error())
		return
	}

	shares := make([]*big.Int, 0, len(body.Shares))
	for _, raw := range body.Shares {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_share", "shares must be base-10 integers")
			return
		}
		shares = append(shares, v)
	}

	proof := make([]common.Hash, 0, len(body.Proof))
	for _, raw := range body.Proof {
		b, err := hexutil.Decode(raw)
		if err != nil || len(b) != common.HashLength {
			writeError(w, http.StatusBadRequest, "invalid_proof_node", "proof nodes must be 32-byte hex")
			return
		}
		proof = append(proof, common.BytesToHash(b))
	}

	receipt, err := s.ledger.Claim(claims.ClaimRequest{
		RoundID: body.RoundID,
		Address: common.HexToAddress(body.Address),
		Token:   token,
		Shares:  shares,
		Proof:   proof,
	})
	if err != nil {
		status, code := claimErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.l.Error("claim failed", zap.Uint64("round", body.RoundID), zap.Error(err))
			writeError(w, status, code, "")
			return
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, receiptDTO{
		Receipt: receipt.ID,
		RoundID: receipt.RoundID,
		Address: receipt.Address.Hex(),
		Token:   receipt.Token.String(),
		Amount:  receipt.Amount.String(),
	})
}

// claimErrorStatus maps ledger errors to distinct HTTP codes so a wallet
// can tell "already claimed" apart from "wrong proof" apart from "waiver
// needed".
func claimErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, claims.ErrRoundNotFound):
		return http.StatusNotFound, "round_not_found"
	case errors.Is(err, claims.ErrWaiverMissing):
		return http.StatusForbidden, "waiver_required"
	case errors.Is(err, claims.ErrRoundInactive):
		return http.StatusGone, "round_inactive"
	case errors.Is(err, claims.ErrAlreadyClaimed):
		return http.StatusConflict, "already_claimed"
	case errors.Is(err, claims.ErrProofInvalid):
		return http.StatusUnprocessableEntity, "invalid_proof"
	case errors.Is(err, claims.ErrPayoutExceedsRound):
		return http.StatusUnprocessableEntity, "payout_exceeds_round"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return false
	}
	return true
}

func roundToDTO(v claims.RoundView) roundDTO {
	dto := roundDTO{
		ID:       v.ID,
		Joint:    v.Joint,
		TotalA:   v.TotalA.String(),
		TotalB:   v.TotalB.String(),
		ClaimedA: v.ClaimedA.String(),
		ClaimedB: v.ClaimedB.String(),
		Deadline: v.Deadline.Unix(),
		Active:   v.Active,
		Swept:    v.Swept,
	}
	if v.RootA != (common.Hash{}) {
		dto.RootA = v.RootA.Hex()
	}
	if v.RootB != (common.Hash{}) {
		dto.RootB = v.RootB.Hex()
	}
	return dto
}

func bigStrings(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

func hashHexes(hs []common.Hash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Hex()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorDTO{Error: code, Message: msg})
}
