// Package versionchain builds hash trees over record version histories and
// produces verifiable inclusion proofs. All functions are pure; the package
// holds no state and performs no I/O.
package versionchain

import (
	"fmt"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/cryptox"
)

// Node is a single node of a binary hash tree.
type Node struct {
	Hash  string
	Left  *Node
	Right *Node
}

// Tree is a balanced binary hash tree built over an ordered sequence of
// leaf values.
type Tree struct {
	Root   *Node
	leaves []*Node
	// index of the first occurrence of each leaf value
	leafIndex map[string]int
	depth     int
	nodeCount int
}

// HashLeaf returns the hash of a raw leaf value.
func HashLeaf(data string) string {
	h, _ := cryptox.Hash([]byte(data), cryptox.HashSHA256)
	return h
}

// Combine is the node-combination rule: the sha256 hex digest of the two
// child hashes concatenated left-to-right. Order matters.
func Combine(hashA, hashB string) string {
	h, _ := cryptox.Hash([]byte(hashA+hashB), cryptox.HashSHA256)
	return h
}

// BuildTree constructs the tree bottom-up from the given leaf values. An
// odd node at any level is paired with a duplicate of itself, so every leaf
// contributes to the root. Zero leaves is a validation error.
func BuildTree(leafData []string) (*Tree, error) {
	if len(leafData) == 0 {
		return nil, fmt.Errorf("build tree: no leaves: %w", common.ErrValidation)
	}

	t := &Tree{leafIndex: make(map[string]int, len(leafData))}
	level := make([]*Node, 0, len(leafData))
	for i, d := range leafData {
		n := &Node{Hash: HashLeaf(d)}
		level = append(level, n)
		t.leaves = append(t.leaves, n)
		if _, seen := t.leafIndex[d]; !seen {
			t.leafIndex[d] = i
		}
	}
	t.nodeCount = len(level)
	t.depth = 1

	for len(level) > 1 {
		next := make([]*Node, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // unpaired leaf is duplicated, not dropped
			if i+1 < len(level) {
				right = level[i+1]
			}
			parent := &Node{Hash: Combine(left.Hash, right.Hash), Left: left, Right: right}
			next = append(next, parent)
		}
		t.nodeCount += len(next)
		t.depth++
		level = next
	}

	t.Root = level[0]
	return t, nil
}

// ProofStep is one element of an inclusion proof: the sibling hash and the
// side it sits on relative to the running hash.
type ProofStep struct {
	Hash string
	Side string // "left" or "right"
}

// GenerateProof returns the ordered inclusion proof for the first leaf with
// the given raw value, from leaf level up to (but excluding) the root. A
// value that is not a leaf of the tree yields an empty proof.
func (t *Tree) GenerateProof(leafValue string) []ProofStep {
	idx, ok := t.leafIndex[leafValue]
	if !ok {
		return nil
	}

	var proof []ProofStep
	level := t.leaves
	for len(level) > 1 {
		sibling := idx ^ 1
		if sibling >= len(level) {
			sibling = idx // duplicated node pairs with itself
		}
		side := "right"
		if sibling < idx {
			side = "left"
		}
		proof = append(proof, ProofStep{Hash: level[sibling].Hash, Side: side})

		next := make([]*Node, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, &Node{Hash: Combine(left.Hash, right.Hash)})
		}
		level = next
		idx /= 2
	}
	return proof
}

// VerifyProof recomputes the root from a leaf value and its proof and
// compares it to expectedRoot. A corrupted proof, a wrong order, or a leaf
// that was never in the tree all verify false.
func VerifyProof(leafValue string, proof []ProofStep, expectedRoot string) bool {
	h := HashLeaf(leafValue)
	for _, step := range proof {
		if step.Side == "left" {
			h = Combine(step.Hash, h)
		} else {
			h = Combine(h, step.Hash)
		}
	}
	return h == expectedRoot
}

// Depth is the number of levels, counting the leaf level and the root.
func (t *Tree) Depth() int { return t.depth }

// NodeCount is the total number of materialized nodes.
func (t *Tree) NodeCount() int { return t.nodeCount }

// LeafCount is the number of leaves the tree was built from.
func (t *Tree) LeafCount() int { return len(t.leaves) }
