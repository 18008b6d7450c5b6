package versionchain

import (
	"fmt"
	"time"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/cryptox"
)

// VersionEntry is one link of a record's version chain. The chain root at
// version n commits to the root at version n-1, so any rewrite of history
// changes every subsequent root.
type VersionEntry struct {
	Version        int
	ContentAddress string
	ContentHash    string
	PreviousRoot   string
	Root           string
	CreatedBy      string
	CreatedAt      time.Time
}

// EntryHash is the leaf hash of a version entry: the content address bound
// to its creator and creation time.
func (e VersionEntry) EntryHash() string {
	h, _ := cryptox.Hash(
		[]byte(fmt.Sprintf("%s|%s|%d", e.ContentAddress, e.CreatedBy, e.CreatedAt.UTC().UnixNano())),
		cryptox.HashSHA256,
	)
	return h
}

// CreateVersionInfo builds the next VersionEntry for a record given its
// prior versions in order. Version numbers start at 1 and increase strictly
// by one; the new root folds the previous root with the new entry's hash
// via Combine.
func CreateVersionInfo(prior []VersionEntry, contentAddress, contentHash, creatorID string) (VersionEntry, error) {
	if contentAddress == "" || creatorID == "" {
		return VersionEntry{}, fmt.Errorf("create version info: empty content address or creator: %w", common.ErrValidation)
	}

	// Microsecond precision survives a round trip through the database, so
	// entry hashes stay recomputable from persisted rows.
	entry := VersionEntry{
		Version:        len(prior) + 1,
		ContentAddress: contentAddress,
		ContentHash:    contentHash,
		CreatedBy:      creatorID,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}

	if len(prior) == 0 {
		entry.Root = entry.EntryHash()
		return entry, nil
	}

	prev := prior[len(prior)-1]
	entry.PreviousRoot = prev.Root
	entry.Root = Combine(prev.Root, entry.EntryHash())
	return entry, nil
}
