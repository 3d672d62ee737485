package clients

import (
	"bytes"
	"context"
	"math/big"
	"net"
	"sort"
	"strings"

	"github.com/Figu3/sonic-earn-recovery-system/pkg/retrier"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultLogScanStep = 10_000

var (
	selBalanceOf   = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selTotalSupply = crypto.Keccak256([]byte("totalSupply()"))[:4]
	selTokenID     = crypto.Keccak256([]byte("tokenId()"))[:4]
	selOwnerOf     = crypto.Keccak256([]byte("ownerOf(uint256)"))[:4]
	selLocked      = crypto.Keccak256([]byte("locked(uint256)"))[:4]

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	zeroAddress common.Address
)

// Backend is the subset of an RPC client the reader needs. It is
// satisfied by *ethclient.Client.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LockedPosition is one lock-registry slot read at the snapshot height.
// A position whose owner lookup reverts (burned id) is reported with
// Live == false and must not contribute to attribution.
type LockedPosition struct {
	Owner  common.Address
	Amount *big.Int
	Live   bool
}

// ChainReader performs all chain reads for a run, every one of them
// pinned to a single snapshot height so reruns see identical state.
type ChainReader struct {
	backend Backend
	height  *big.Int
	retry   *retrier.Retrier
	logStep uint64
	l       *zap.Logger
}

// ReaderOption configures a ChainReader.
type ReaderOption func(*ChainReader)

// WithLogScanStep sets the initial block-range width for transfer-log
// scans. The width only shrinks from there when the provider rejects a
// range.
func WithLogScanStep(step uint64) ReaderOption {
	return func(r *ChainReader) {
		if step > 0 {
			r.logStep = step
		}
	}
}

// WithRetrier overrides the retry policy for individual requests.
func WithRetrier(retry *retrier.Retrier) ReaderOption {
	return func(r *ChainReader) {
		r.retry = retry
	}
}

// NewChainReader returns a reader pinned to snapshotHeight.
func NewChainReader(backend Backend, snapshotHeight uint64, l *zap.Logger, opts ...ReaderOption) *ChainReader {
	r := &ChainReader{
		backend: backend,
		height:  new(big.Int).SetUint64(snapshotHeight),
		retry:   retrier.New(retrier.WithRetryIf(isTransientRPC)),
		logStep: defaultLogScanStep,
		l:       l,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Height returns the snapshot height the reader is pinned to.
func (r *ChainReader) Height() uint64 {
	return r.height.Uint64()
}

// BalanceAt returns holder's token balance at the snapshot height.
func (r *ChainReader) BalanceAt(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data := append(append([]byte{}, selBalanceOf...), common.LeftPadBytes(holder.Bytes(), 32)...)

	ret, err := r.call(ctx, token, data)
	if err != nil {
		return nil, errors.Wrapf(err, "balanceOf(%s) on %s at height %s", holder.Hex(), token.Hex(), r.height)
	}

	return wordToBig(ret)
}

// TotalSupplyAt returns the token's total supply at the snapshot height.
func (r *ChainReader) TotalSupplyAt(ctx context.Context, token common.Address) (*big.Int, error) {
	ret, err := r.call(ctx, token, append([]byte{}, selTotalSupply...))
	if err != nil {
		return nil, errors.Wrapf(err, "totalSupply on %s at height %s", token.Hex(), r.height)
	}

	return wordToBig(ret)
}

// PositionCount returns the highest minted position id of a lock
// registry at the snapshot height. Position ids run from 1 to the
// returned value inclusive.
func (r *ChainReader) PositionCount(ctx context.Context, registry common.Address) (uint64, error) {
	ret, err := r.call(ctx, registry, append([]byte{}, selTokenID...))
	if err != nil {
		return 0, errors.Wrapf(err, "tokenId on %s at height %s", registry.Hex(), r.height)
	}

	count, err := wordToBig(ret)
	if err != nil {
		return 0, err
	}

	if !count.IsUint64() {
		return 0, errors.Errorf("position count %s on %s overflows uint64", count, registry.Hex())
	}

	return count.Uint64(), nil
}

// LockPositionAt reads one lock-registry position at the snapshot
// height. A reverting owner lookup marks the position dead instead of
// failing the read.
func (r *ChainReader) LockPositionAt(ctx context.Context, registry common.Address, id uint64) (LockedPosition, error) {
	arg := common.LeftPadBytes(new(big.Int).SetUint64(id).Bytes(), 32)

	ownerRet, err := r.call(ctx, registry, append(append([]byte{}, selOwnerOf...), arg...))
	if err != nil {
		if isRevert(err) {
			return LockedPosition{Amount: new(big.Int)}, nil
		}
		return LockedPosition{}, errors.Wrapf(err, "ownerOf(%d) on %s at height %s", id, registry.Hex(), r.height)
	}

	owner, err := wordToAddress(ownerRet)
	if err != nil {
		return LockedPosition{}, errors.Wrapf(err, "ownerOf(%d) on %s", id, registry.Hex())
	}
	if owner == zeroAddress {
		return LockedPosition{Amount: new(big.Int)}, nil
	}

	lockedRet, err := r.call(ctx, registry, append(append([]byte{}, selLocked...), arg...))
	if err != nil {
		return LockedPosition{}, errors.Wrapf(err, "locked(%d) on %s at height %s", id, registry.Hex(), r.height)
	}

	amount, err := wordToBig(lockedRet)
	if err != nil {
		return LockedPosition{}, errors.Wrapf(err, "locked(%d) on %s", id, registry.Hex())
	}

	return LockedPosition{Owner: owner, Amount: amount, Live: true}, nil
}

// Holders enumerates every address the token was ever transferred to
// or from between deployBlock and the snapshot height, deduplicated and
// byte-ascending. The result is a superset of current holders; callers
// prune zero balances after fetching them.
//
// Scans run in fixed-width block windows. When the provider rejects a
// window as too large the width is halved and the window retried;
// transient failures are retried with backoff per request.
func (r *ChainReader) Holders(ctx context.Context, token common.Address, deployBlock uint64) ([]common.Address, error) {
	head := r.height.Uint64()
	if deployBlock > head {
		return nil, errors.Errorf("deploy block %d of %s above snapshot height %d", deployBlock, token.Hex(), head)
	}

	seen := make(map[common.Address]struct{})
	step := r.logStep

	for from := deployBlock; from <= head; {
		to := from + step - 1
		if to > head || to < from {
			to = head
		}

		logs, err := r.filterTransfers(ctx, token, from, to)
		if err != nil {
			if isRangeError(err) && step > 1 {
				step /= 2
				r.l.Debug("halving transfer scan window",
					zap.String("token", token.Hex()),
					zap.Uint64("step", step))
				continue
			}
			return nil, errors.Wrapf(err, "scan transfers of %s in blocks [%d, %d]", token.Hex(), from, to)
		}

		for _, lg := range logs {
			if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
				continue
			}
			if src := topicAddress(lg.Topics[1]); src != zeroAddress {
				seen[src] = struct{}{}
			}
			if dst := topicAddress(lg.Topics[2]); dst != zeroAddress {
				seen[dst] = struct{}{}
			}
		}

		if to == head {
			break
		}
		from = to + 1
	}

	out := make([]common.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })

	r.l.Info("transfer scan complete",
		zap.String("token", token.Hex()),
		zap.Int("candidates", len(out)))

	return out, nil
}

func (r *ChainReader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}

	return retrier.DoWithData(r.retry, ctx, func(ctx context.Context) ([]byte, error) {
		return r.backend.CallContract(ctx, msg, r.height)
	})
}

func (r *ChainReader) filterTransfers(ctx context.Context, token common.Address, from, to uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{transferTopic}},
	}

	return retrier.DoWithData(r.retry, ctx, func(ctx context.Context) ([]types.Log, error) {
		return r.backend.FilterLogs(ctx, q)
	})
}

func wordToBig(ret []byte) (*big.Int, error) {
	if len(ret) < 32 {
		return nil, errors.Errorf("return data too short: %d bytes", len(ret))
	}

	return new(big.Int).SetBytes(ret[:32]), nil
}

func wordToAddress(ret []byte) (common.Address, error) {
	if len(ret) < 32 {
		return common.Address{}, errors.Errorf("return data too short: %d bytes", len(ret))
	}

	return common.BytesToAddress(ret[12:32]), nil
}

func topicAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes()[12:])
}

// isRangeError reports whether the provider rejected a log query for
// covering too many blocks or results.
func isRangeError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"block range",
		"query returned more than",
		"too many results",
		"response size exceeded",
		"range too large",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// isTransientRPC reports whether a request is worth retrying as-is.
// Range rejections and reverts are not: the former need a narrower
// window, the latter never change at a pinned height.
func isTransientRPC(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if isRangeError(err) || isRevert(err) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"rate limit",
		"too many requests",
		"service unavailable",
		"bad gateway",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}
