// Package merkle builds the sorted-pair keccak256 hash trees that
// claim proofs are verified against.
package merkle

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// ErrEmptyTree is returned when a tree is built over zero leaves.
var ErrEmptyTree = errors.New("merkle: no leaves")

// Tree is a binary hash tree over a fixed leaf set. Parents hash the
// concatenation of their children in byte-ascending order, so proofs
// carry no left/right flags. An odd node at any level is promoted to
// the next level unchanged.
type Tree struct {
	// levels[0] is the leaf level, levels[len(levels)-1] holds the root.
	levels [][]common.Hash
}

// New builds a tree over the given leaf hashes. Leaf order is
// preserved: proofs are addressed by the original leaf index.
func New(leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	level := make([]common.Hash, len(leaves))
	copy(level, leaves)

	levels := [][]common.Hash{level}
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{levels: levels}, nil
}

// Root returns the tree root. For a single-leaf tree the root is the
// leaf itself.
func (t *Tree) Root() common.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// Proof returns the sibling path for the leaf at index i, ordered from
// the leaf level upward. A single-leaf tree has an empty proof.
func (t *Tree) Proof(i int) ([]common.Hash, error) {
	if i < 0 || i >= len(t.levels[0]) {
		return nil, errors.Errorf("merkle: leaf index %d out of range [0,%d)", i, len(t.levels[0]))
	}

	proof := make([]common.Hash, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		if sibling := i ^ 1; sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		i /= 2
	}

	return proof, nil
}

// Verify folds the proof over the leaf and reports whether it arrives
// at root, recomputing each pair in byte-ascending order.
func Verify(leaf common.Hash, proof []common.Hash, root common.Hash) bool {
	acc := leaf
	for _, sibling := range proof {
		acc = hashPair(acc, sibling)
	}

	return acc == root
}

// Leaf computes the claim leaf for a holder and its payout amounts:
// keccak256(keccak256(address ‖ uint256(amount)...)). The double hash
// keeps leaf preimages distinct from interior-node preimages.
func Leaf(holder common.Address, amounts ...*big.Int) common.Hash {
	buf := make([]byte, 0, 32*(1+len(amounts)))
	buf = append(buf, common.LeftPadBytes(holder.Bytes(), 32)...)
	for _, amount := range amounts {
		buf = append(buf, common.LeftPadBytes(amount.Bytes(), 32)...)
	}

	return common.BytesToHash(crypto.Keccak256(crypto.Keccak256(buf)))
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}

	return common.BytesToHash(crypto.Keccak256(a[:], b[:]))
}
