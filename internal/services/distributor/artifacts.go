package distributor

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// ErrNoArtifacts marks a directory with no distribution files to load.
var ErrNoArtifacts = errors.New("no distribution artifacts found")

// Load reads exported distribution artifacts back into a Result. The
// snapshot itself is not reloaded: trees and proofs are all the claim
// service and third-party verifiers need.
func Load(dir string) (*Result, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "distribution-*.json"))
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", dir)
	}
	if len(paths) == 0 {
		return nil, errors.Wrapf(ErrNoArtifacts, "in %s", dir)
	}
	sort.Strings(paths)

	res := &Result{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		var art distributionArtifact
		if err := json.Unmarshal(data, &art); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}

		if res.RunID == "" {
			res.RunID = art.RunID
		} else if res.RunID != art.RunID {
			return nil, errors.Errorf("artifacts from mixed runs: %s vs %s", res.RunID, art.RunID)
		}

		tc, err := art.commitment()
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", path)
		}
		res.Trees = append(res.Trees, tc)
	}

	return res, nil
}

// Verify re-checks every proof against its root and every share column
// against the one-WAD sum. Together with Load this is the independent
// check run before a round commits to an exported root: nothing in the
// artifact files is trusted beyond what re-verifies.
func (r *Result) Verify() error {
	for _, tc := range r.Trees {
		if err := checkShareColumns(tc); err != nil {
			return err
		}
		if err := tc.selfVerify(); err != nil {
			return err
		}
	}

	return nil
}

func (a *distributionArtifact) commitment() (*TreeCommitment, error) {
	root, err := parseHash(a.Root)
	if err != nil {
		return nil, errors.Wrap(err, "root")
	}

	tc := &TreeCommitment{Label: a.Tree, Root: root}
	for _, entry := range a.Claims {
		if !common.IsHexAddress(entry.Address) {
			return nil, errors.Errorf("claim %d has bad address %q", entry.Index, entry.Address)
		}
		lc := LeafClaim{Index: entry.Index, Address: common.HexToAddress(entry.Address)}

		if entry.ShareWad != "" {
			lc.Shares, err = parseShares(entry.ShareWad)
		} else {
			lc.Shares, err = parseShares(entry.ShareA, entry.ShareB)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "claim %d (%s)", entry.Index, entry.Address)
		}

		lc.Proof = make([]common.Hash, 0, len(entry.Proof))
		for _, raw := range entry.Proof {
			node, err := parseHash(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "claim %d proof", entry.Index)
			}
			lc.Proof = append(lc.Proof, node)
		}

		tc.Leaves = append(tc.Leaves, lc)
	}

	if a.LeafCount != len(tc.Leaves) {
		return nil, errors.Errorf("%s tree declares %d leaves but carries %d", a.Tree, a.LeafCount, len(tc.Leaves))
	}

	return tc, nil
}

func parseShares(raws ...string) ([]*big.Int, error) {
	out := make([]*big.Int, 0, len(raws))
	for _, raw := range raws {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok || v.Sign() < 0 {
			return nil, errors.Errorf("share %q is not a non-negative integer", raw)
		}
		out = append(out, v)
	}

	return out, nil
}

func parseHash(raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errors.Errorf("%q is not a 32-byte hash", raw)
	}

	return common.BytesToHash(b), nil
}
