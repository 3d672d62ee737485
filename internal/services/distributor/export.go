package distributor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	exportDirPermissions  = 0o755
	exportFilePermissions = 0o644
)

type snapshotArtifact struct {
	RunID       string         `json:"run_id"`
	Height      uint64         `json:"height"`
	GeneratedAt string         `json:"generated_at"`
	TokenATotal string         `json:"token_a_total"`
	TokenBTotal string         `json:"token_b_total"`
	HolderCount int            `json:"holder_count"`
	Balances    []balanceEntry `json:"balances"`
}

type balanceEntry struct {
	Address string `json:"address"`
	TokenA  string `json:"token_a"`
	TokenB  string `json:"token_b"`
}

type distributionArtifact struct {
	RunID     string       `json:"run_id"`
	Tree      string       `json:"tree"`
	Root      string       `json:"root"`
	LeafCount int          `json:"leaf_count"`
	Claims    []claimEntry `json:"claims"`
}

type claimEntry struct {
	Index    int      `json:"index"`
	Address  string   `json:"address"`
	ShareWad string   `json:"share_wad,omitempty"`
	ShareA   string   `json:"share_a_wad,omitempty"`
	ShareB   string   `json:"share_b_wad,omitempty"`
	Proof    []string `json:"proof"`
}

// Export writes the snapshot artifact, one distribution artifact per
// tree and the flat holders table into dir. These files are what third
// parties verify against before any round is created.
func (d *Distributor) Export(res *Result, sheet *domain.BalanceSheet, height uint64, dir string) error {
	if err := os.MkdirAll(dir, exportDirPermissions); err != nil {
		return errors.Wrapf(err, "ensure export directory %s", dir)
	}

	if err := writeSnapshot(res, sheet, height, filepath.Join(dir, "snapshot.json")); err != nil {
		return err
	}

	for _, tc := range res.Trees {
		path := filepath.Join(dir, fmt.Sprintf("distribution-%s.json", tc.Label))
		if err := writeDistribution(res.RunID, tc, path); err != nil {
			return err
		}
	}

	if err := writeHolderTable(res, sheet, filepath.Join(dir, "holders.csv")); err != nil {
		return err
	}

	d.l.Info("artifacts exported",
		zap.String("run_id", res.RunID),
		zap.String("dir", dir),
		zap.Int("trees", len(res.Trees)))

	return nil
}

func writeSnapshot(res *Result, sheet *domain.BalanceSheet, height uint64, path string) error {
	art := snapshotArtifact{
		RunID:       res.RunID,
		Height:      height,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		TokenATotal: sheet.Total(domain.TokenA).String(),
		TokenBTotal: sheet.Total(domain.TokenB).String(),
		HolderCount: sheet.Len(),
	}
	for _, a := range sheet.Addresses() {
		art.Balances = append(art.Balances, balanceEntry{
			Address: a.Hex(),
			TokenA:  sheet.Balance(a, domain.TokenA).String(),
			TokenB:  sheet.Balance(a, domain.TokenB).String(),
		})
	}

	return writeJSON(path, art)
}

func writeDistribution(runID string, tc *TreeCommitment, path string) error {
	art := distributionArtifact{
		RunID:     runID,
		Tree:      tc.Label,
		Root:      tc.Root.Hex(),
		LeafCount: len(tc.Leaves),
	}
	for _, lc := range tc.Leaves {
		entry := claimEntry{
			Index:   lc.Index,
			Address: lc.Address.Hex(),
			Proof:   make([]string, 0, len(lc.Proof)),
		}
		if len(lc.Shares) == 1 {
			entry.ShareWad = lc.Shares[0].String()
		} else {
			entry.ShareA = lc.Shares[0].String()
			entry.ShareB = lc.Shares[1].String()
		}
		for _, h := range lc.Proof {
			entry.Proof = append(entry.Proof, h.Hex())
		}
		art.Claims = append(art.Claims, entry)
	}

	return writeJSON(path, art)
}

// writeHolderTable emits the human-auditable address/share/percentage
// table. Percentages are display-only; the WAD columns are the source
// of truth.
func writeHolderTable(res *Result, sheet *domain.BalanceSheet, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, exportFilePermissions)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"address",
		"token_a_balance", "token_b_balance",
		"token_a_share_wad", "token_b_share_wad",
		"token_a_pct", "token_b_pct",
	}
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "write holder table header")
	}

	for _, s := range res.Shares {
		row := []string{
			s.Address.Hex(),
			sheet.Balance(s.Address, domain.TokenA).String(),
			sheet.Balance(s.Address, domain.TokenB).String(),
			s.A.String(),
			s.B.String(),
			wadPercent(s.A),
			wadPercent(s.B),
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "write holder row for %s", s.Address.Hex())
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush holder table")
	}

	return nil
}

// wadPercent renders a WAD share as a percentage, e.g. 5e17 -> "50".
func wadPercent(wad *big.Int) string {
	return decimal.NewFromBigInt(wad, -16).String()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal %s", path)
	}

	if err := os.WriteFile(path, data, exportFilePermissions); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}

	return nil
}
