package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/medledger/medledger/internal/common"
)

// PermissionType is the level of an access grant.
type PermissionType string

const (
	PermissionRead  PermissionType = "read"
	PermissionWrite PermissionType = "write"
	PermissionAdmin PermissionType = "admin"
)

// permissionRank orders permission levels: admin > write > read.
var permissionRank = map[PermissionType]int{
	PermissionRead:  1,
	PermissionWrite: 2,
	PermissionAdmin: 3,
}

// ParsePermissionType validates a raw permission string.
func ParsePermissionType(s string) (PermissionType, error) {
	p := PermissionType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := permissionRank[p]; !ok {
		return "", fmt.Errorf("unknown permission type %q: %w", s, common.ErrValidation)
	}
	return p, nil
}

// Covers reports whether p grants at least the required level.
func (p PermissionType) Covers(required PermissionType) bool {
	return permissionRank[p] >= permissionRank[required]
}

// AccessGrant is one access-control entry. At most one grant per
// (record, grantee) pair is active at a time: a new grant supersedes the
// previous one. Revocation deactivates; expiry is passive.
type AccessGrant struct {
	PermissionID   string
	RecordID       string
	GranteeID      string
	PermissionType PermissionType
	GrantorID      string
	GrantedAt      time.Time
	ExpiresAt      *time.Time
	IsActive       bool
}

// Effective reports whether the grant confers access at the given instant:
// it must be active and either unexpiring or not yet expired.
func (g *AccessGrant) Effective(now time.Time) bool {
	if !g.IsActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
