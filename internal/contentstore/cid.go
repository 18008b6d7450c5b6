package contentstore

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ComputeAddress derives the content address of a sealed blob body: a CIDv1
// over the raw codec with a sha2-256 multihash. The address is a pure
// function of the bytes, so re-uploading identical content is idempotent.
func ComputeAddress(body []byte) (string, error) {
	mh, err := multihash.Sum(body, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("computing multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// ParseAddress validates that s is a well-formed content address.
func ParseAddress(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("invalid content address %q: %w", s, err)
	}
	return c, nil
}
