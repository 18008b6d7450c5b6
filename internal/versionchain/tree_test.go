package versionchain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/medledger/medledger/internal/common"
)

func TestBuildTree_EmptyInput(t *testing.T) {
	if _, err := BuildTree(nil); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero leaves, got %v", err)
	}
}

func TestBuildTree_Deterministic(t *testing.T) {
	leaves := []string{"v1", "v2", "v3", "v4", "v5"}

	t1, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t2, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if t1.Root.Hash != t2.Root.Hash {
		t.Fatalf("same leaves produced different roots")
	}
}

func TestBuildTree_SingleLeaf(t *testing.T) {
	tree, err := BuildTree([]string{"only"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tree.Root.Hash != HashLeaf("only") {
		t.Fatalf("single-leaf root should equal the leaf hash")
	}
	if tree.Depth() != 1 || tree.NodeCount() != 1 || tree.LeafCount() != 1 {
		t.Fatalf("stats: depth=%d nodes=%d leaves=%d", tree.Depth(), tree.NodeCount(), tree.LeafCount())
	}

	// empty proof verifies directly against the root
	if !VerifyProof("only", tree.GenerateProof("only"), tree.Root.Hash) {
		t.Fatalf("single-leaf proof failed to verify")
	}
}

func TestBuildTree_LeafSensitivity(t *testing.T) {
	base := []string{"a", "b", "c", "d", "e", "f"}
	tree, err := BuildTree(base)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// changing any single leaf must change the root
	for i := range base {
		mutated := append([]string(nil), base...)
		mutated[i] = mutated[i] + "'"
		mt, err := BuildTree(mutated)
		if err != nil {
			t.Fatalf("build mutated: %v", err)
		}
		if mt.Root.Hash == tree.Root.Hash {
			t.Fatalf("mutating leaf %d did not change the root", i)
		}
	}
}

func TestGenerateVerifyProof_AllLeaves(t *testing.T) {
	for n := 1; n <= 9; n++ {
		leaves := make([]string, 0, n)
		for i := 0; i < n; i++ {
			leaves = append(leaves, fmt.Sprintf("cid-%d", i))
		}
		tree, err := BuildTree(leaves)
		if err != nil {
			t.Fatalf("build %d leaves: %v", n, err)
		}

		// no leaf is lost: every leaf must have a verifying proof,
		// including the odd promoted one
		for _, leaf := range leaves {
			proof := tree.GenerateProof(leaf)
			if !VerifyProof(leaf, proof, tree.Root.Hash) {
				t.Fatalf("n=%d: proof for %q failed to verify", n, leaf)
			}
		}
	}
}

func TestGenerateProof_AbsentLeaf(t *testing.T) {
	tree, err := BuildTree([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if proof := tree.GenerateProof("zzz"); len(proof) != 0 {
		t.Fatalf("expected empty proof for absent leaf, got %d steps", len(proof))
	}
	if VerifyProof("zzz", nil, tree.Root.Hash) {
		t.Fatalf("absent leaf with empty proof must not verify")
	}
}

func TestVerifyProof_Corrupted(t *testing.T) {
	tree, err := BuildTree([]string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	proof := tree.GenerateProof("b")
	if len(proof) == 0 {
		t.Fatalf("expected non-empty proof")
	}

	corrupted := append([]ProofStep(nil), proof...)
	corrupted[0].Hash = HashLeaf("evil")
	if VerifyProof("b", corrupted, tree.Root.Hash) {
		t.Fatalf("corrupted proof verified")
	}

	flipped := append([]ProofStep(nil), proof...)
	if flipped[0].Side == "left" {
		flipped[0].Side = "right"
	} else {
		flipped[0].Side = "left"
	}
	if VerifyProof("b", flipped, tree.Root.Hash) {
		t.Fatalf("side-flipped proof verified")
	}
}

func TestTreeStats(t *testing.T) {
	tree, err := BuildTree([]string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tree.LeafCount() != 4 {
		t.Fatalf("leaf count = %d, want 4", tree.LeafCount())
	}
	if tree.Depth() != 3 {
		t.Fatalf("depth = %d, want 3", tree.Depth())
	}
	if tree.NodeCount() != 7 {
		t.Fatalf("node count = %d, want 7", tree.NodeCount())
	}
}

func TestCombine_OrderMatters(t *testing.T) {
	a, b := HashLeaf("a"), HashLeaf("b")
	if Combine(a, b) == Combine(b, a) {
		t.Fatalf("combine must be order-dependent")
	}
	if Combine(a, b) != Combine(a, b) {
		t.Fatalf("combine must be deterministic")
	}
}

func TestCreateVersionInfo_Chain(t *testing.T) {
	v1, err := CreateVersionInfo(nil, "cid-1", "hash-1", "doctorA")
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	if v1.Version != 1 {
		t.Fatalf("v1.Version = %d, want 1", v1.Version)
	}
	if v1.PreviousRoot != "" {
		t.Fatalf("v1 should have no previous root")
	}
	if v1.Root != v1.EntryHash() {
		t.Fatalf("v1 root should equal its entry hash")
	}

	v2, err := CreateVersionInfo([]VersionEntry{v1}, "cid-2", "hash-2", "doctorB")
	if err != nil {
		t.Fatalf("v2: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("v2.Version = %d, want 2", v2.Version)
	}
	if v2.PreviousRoot != v1.Root {
		t.Fatalf("v2 must chain onto v1's root")
	}
	if v2.Root == v1.Root {
		t.Fatalf("v2 root must differ from v1 root")
	}
	if v2.Root != Combine(v1.Root, v2.EntryHash()) {
		t.Fatalf("v2 root must fold previous root with the new entry hash")
	}
}

func TestCreateVersionInfo_Validation(t *testing.T) {
	if _, err := CreateVersionInfo(nil, "", "h", "u"); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty content address, got %v", err)
	}
	if _, err := CreateVersionInfo(nil, "cid", "h", ""); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty creator, got %v", err)
	}
}
