// Package config loads and validates the per-run YAML configuration:
// which chain to read, which snapshot height to pin, which wrapper
// contracts to resolve and how the claim service is parameterized.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	defaultWorkers     = 8
	defaultOutDir      = "dist"
	defaultTreeMode    = "per-token"
	defaultWALDir      = "claimlog"
	defaultListenAddr  = ":8080"
	defaultChainID     = 146
	defaultDeadlineTTL = 2160 * time.Hour
)

// Config is one fully validated recovery run.
type Config struct {
	RPCURL         string
	SnapshotHeight uint64
	Tokens         domain.TokenSet
	Wrappers       []domain.WrapperDescriptor
	Redirects      []domain.Redirect
	Workers        int
	OutDir         string
	TreeMode       string
	Claim          ClaimConfig
	Server         ServerConfig
}

// ClaimConfig parameterizes the claim service: the EIP-712 waiver
// domain, the round deadline and the treasury funding plan.
type ClaimConfig struct {
	ChainID           int64
	VerifyingContract common.Address
	DeadlineTTL       time.Duration
	WALDir            string
	Funding           []Funding
}

// Funding is one treasury deposit, already converted to base units.
type Funding struct {
	Token  domain.Token
	Amount *big.Int
}

// ServerConfig is the claim API listen configuration.
type ServerConfig struct {
	Addr       string
	TLSDomains []string
	CertCache  string
}

// ConfigTmp is the raw YAML shape before validation. The setup wizard
// marshals one of these; Parse turns it into a Config.
type ConfigTmp struct {
	RPCURL         string        `yaml:"rpc_url"`
	SnapshotHeight uint64        `yaml:"snapshot_height"`
	TokenA         TokenTmp      `yaml:"token_a"`
	TokenB         TokenTmp      `yaml:"token_b"`
	Wrappers       []WrapperTmp  `yaml:"wrappers,omitempty"`
	Redirects      []RedirectTmp `yaml:"redirects,omitempty"`
	Workers        int           `yaml:"workers,omitempty"`
	OutDir         string        `yaml:"out_dir,omitempty"`
	TreeMode       string        `yaml:"tree_mode,omitempty"`
	Claim          ClaimTmp      `yaml:"claim,omitempty"`
	Server         ServerTmp     `yaml:"server,omitempty"`
}

type TokenTmp struct {
	Symbol      string `yaml:"symbol"`
	Address     string `yaml:"address"`
	Decimals    uint8  `yaml:"decimals"`
	DeployBlock uint64 `yaml:"deploy_block,omitempty"`
}

type WrapperTmp struct {
	Name          string `yaml:"name"`
	Address       string `yaml:"address"`
	Kind          string `yaml:"kind"`
	Underlying    string `yaml:"underlying"`
	DeployBlock   uint64 `yaml:"deploy_block,omitempty"`
	PositionCount uint64 `yaml:"position_count,omitempty"`
	DepositorsCSV string `yaml:"depositors_csv,omitempty"`
}

type RedirectTmp struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type ClaimTmp struct {
	ChainID           int64         `yaml:"chain_id,omitempty"`
	VerifyingContract string        `yaml:"verifying_contract,omitempty"`
	DeadlineTTL       time.Duration `yaml:"deadline_ttl,omitempty"`
	WALDir            string        `yaml:"wal_dir,omitempty"`
	Funding           []FundingTmp  `yaml:"funding,omitempty"`
}

type FundingTmp struct {
	Token  string `yaml:"token"`
	Amount string `yaml:"amount"`
}

type ServerTmp struct {
	Addr       string   `yaml:"addr,omitempty"`
	TLSDomains []string `yaml:"tls_domains,omitempty"`
	CertCache  string   `yaml:"cert_cache,omitempty"`
}

// Load reads and validates one run config from a YAML file.
func Load(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(f)
}

// Parse validates raw YAML into a Config, filling defaults.
func Parse(raw []byte) (*Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}

	if tmp.RPCURL == "" {
		return nil, fmt.Errorf("missing 'rpc_url' param in yaml config")
	}
	if tmp.SnapshotHeight == 0 {
		return nil, fmt.Errorf("missing 'snapshot_height' param in yaml config")
	}

	tokenA, err := parseTokenInfo("token_a", tmp.TokenA)
	if err != nil {
		return nil, err
	}
	tokenB, err := parseTokenInfo("token_b", tmp.TokenB)
	if err != nil {
		return nil, err
	}
	if tokenA.Address == tokenB.Address {
		return nil, fmt.Errorf("incorrect token params in yaml config: token_a and token_b share address %s", tokenA.Address.Hex())
	}
	tokens := domain.TokenSet{A: tokenA, B: tokenB}

	cfg := &Config{
		RPCURL:         tmp.RPCURL,
		SnapshotHeight: tmp.SnapshotHeight,
		Tokens:         tokens,
		Workers:        tmp.Workers,
		OutDir:         tmp.OutDir,
		TreeMode:       tmp.TreeMode,
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.OutDir == "" {
		cfg.OutDir = defaultOutDir
	}
	if cfg.TreeMode == "" {
		cfg.TreeMode = defaultTreeMode
	}
	if cfg.TreeMode != "per-token" && cfg.TreeMode != "joint" {
		return nil, fmt.Errorf("incorrect 'tree_mode' param in yaml config: %q (want per-token or joint)", cfg.TreeMode)
	}

	cfg.Wrappers, err = parseWrappers(tmp.Wrappers, tokens)
	if err != nil {
		return nil, err
	}
	cfg.Redirects, err = parseRedirects(tmp.Redirects)
	if err != nil {
		return nil, err
	}
	cfg.Claim, err = parseClaim(tmp.Claim, tokens)
	if err != nil {
		return nil, err
	}

	cfg.Server = ServerConfig{
		Addr:       tmp.Server.Addr,
		TLSDomains: tmp.Server.TLSDomains,
		CertCache:  tmp.Server.CertCache,
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultListenAddr
	}

	return cfg, nil
}

func parseTokenInfo(field string, tmp TokenTmp) (domain.TokenInfo, error) {
	if tmp.Symbol == "" {
		return domain.TokenInfo{}, fmt.Errorf("incorrect '%s' param in yaml config: missing symbol", field)
	}
	if !common.IsHexAddress(tmp.Address) {
		return domain.TokenInfo{}, fmt.Errorf("incorrect '%s' param in yaml config: bad address %q", field, tmp.Address)
	}
	if tmp.Decimals > 30 {
		return domain.TokenInfo{}, fmt.Errorf("incorrect '%s' param in yaml config: decimals %d out of range", field, tmp.Decimals)
	}

	return domain.TokenInfo{
		Symbol:      tmp.Symbol,
		Address:     common.HexToAddress(tmp.Address),
		Decimals:    tmp.Decimals,
		DeployBlock: tmp.DeployBlock,
	}, nil
}

func parseWrappers(tmps []WrapperTmp, tokens domain.TokenSet) ([]domain.WrapperDescriptor, error) {
	type key struct {
		addr  common.Address
		token domain.Token
	}
	seen := make(map[key]bool, len(tmps))

	out := make([]domain.WrapperDescriptor, 0, len(tmps))
	for i, w := range tmps {
		if !common.IsHexAddress(w.Address) {
			return nil, fmt.Errorf("incorrect 'wrappers[%d]' param in yaml config: bad address %q", i, w.Address)
		}
		kind, err := domain.ParseWrapperKind(w.Kind)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'wrappers[%d]' param in yaml config: %w", i, err)
		}
		underlying, err := domain.ParseToken(w.Underlying)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'wrappers[%d]' param in yaml config: %w", i, err)
		}

		addr := common.HexToAddress(w.Address)
		if addr == tokens.A.Address || addr == tokens.B.Address {
			return nil, fmt.Errorf("incorrect 'wrappers[%d]' param in yaml config: %s is a claim token, not a wrapper", i, addr.Hex())
		}
		k := key{addr, underlying}
		if seen[k] {
			return nil, fmt.Errorf("incorrect 'wrappers[%d]' param in yaml config: duplicate wrapper %s for %s", i, addr.Hex(), underlying)
		}
		seen[k] = true

		name := w.Name
		if name == "" {
			name = addr.Hex()
		}

		out = append(out, domain.WrapperDescriptor{
			Address:       addr,
			Name:          name,
			Kind:          kind,
			Underlying:    underlying,
			DeployBlock:   w.DeployBlock,
			PositionCount: w.PositionCount,
			DepositorsCSV: w.DepositorsCSV,
		})
	}

	return out, nil
}

func parseRedirects(tmps []RedirectTmp) ([]domain.Redirect, error) {
	seen := make(map[common.Address]bool, len(tmps))

	out := make([]domain.Redirect, 0, len(tmps))
	for i, r := range tmps {
		if !common.IsHexAddress(r.From) || !common.IsHexAddress(r.To) {
			return nil, fmt.Errorf("incorrect 'redirects[%d]' param in yaml config: addresses must be hex", i)
		}
		from := common.HexToAddress(r.From)
		to := common.HexToAddress(r.To)
		if from == to {
			return nil, fmt.Errorf("incorrect 'redirects[%d]' param in yaml config: %s redirects to itself", i, from.Hex())
		}
		if seen[from] {
			return nil, fmt.Errorf("incorrect 'redirects[%d]' param in yaml config: %s redirected twice", i, from.Hex())
		}
		seen[from] = true

		out = append(out, domain.Redirect{From: from, To: to})
	}

	return out, nil
}

func parseClaim(tmp ClaimTmp, tokens domain.TokenSet) (ClaimConfig, error) {
	out := ClaimConfig{
		ChainID:     tmp.ChainID,
		DeadlineTTL: tmp.DeadlineTTL,
		WALDir:      tmp.WALDir,
	}
	if out.ChainID == 0 {
		out.ChainID = defaultChainID
	}
	if out.DeadlineTTL == 0 {
		out.DeadlineTTL = defaultDeadlineTTL
	}
	if out.DeadlineTTL < 0 {
		return ClaimConfig{}, fmt.Errorf("incorrect 'claim.deadline_ttl' param in yaml config: negative duration")
	}
	if out.WALDir == "" {
		out.WALDir = defaultWALDir
	}

	if tmp.VerifyingContract != "" {
		if !common.IsHexAddress(tmp.VerifyingContract) {
			return ClaimConfig{}, fmt.Errorf("incorrect 'claim.verifying_contract' param in yaml config: bad address %q", tmp.VerifyingContract)
		}
		out.VerifyingContract = common.HexToAddress(tmp.VerifyingContract)
	}

	for i, f := range tmp.Funding {
		token, err := domain.ParseToken(f.Token)
		if err != nil {
			return ClaimConfig{}, fmt.Errorf("incorrect 'claim.funding[%d]' param in yaml config: %w", i, err)
		}
		amount, err := toBaseUnits(f.Amount, tokens.Info(token).Decimals)
		if err != nil {
			return ClaimConfig{}, fmt.Errorf("incorrect 'claim.funding[%d]' param in yaml config: %w", i, err)
		}
		out.Funding = append(out.Funding, Funding{Token: token, Amount: amount})
	}

	return out, nil
}

// toBaseUnits converts a human-denominated amount ("10000.5") into base
// units using the token's decimals. Amounts finer than one base unit are
// rejected rather than rounded.
func toBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive", amount)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q is finer than one base unit at %d decimals", amount, decimals)
	}

	return scaled.BigInt(), nil
}
