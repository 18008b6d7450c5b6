package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medledger/medledger/internal/common"
)

func TestParseFileType(t *testing.T) {
	ft, err := ParseFileType("pdf")
	require.NoError(t, err)
	require.Equal(t, FileTypePDF, ft)

	ft, err = ParseFileType("  DICOM ")
	require.NoError(t, err)
	require.Equal(t, FileTypeDICOM, ft)

	_, err = ParseFileType("spreadsheet")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = ParseFileType("")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestParsePermissionType(t *testing.T) {
	p, err := ParsePermissionType("READ")
	require.NoError(t, err)
	require.Equal(t, PermissionRead, p)

	p, err = ParsePermissionType(" admin ")
	require.NoError(t, err)
	require.Equal(t, PermissionAdmin, p)

	_, err = ParsePermissionType("owner")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestPermissionCovers(t *testing.T) {
	require.True(t, PermissionAdmin.Covers(PermissionRead))
	require.True(t, PermissionAdmin.Covers(PermissionWrite))
	require.True(t, PermissionWrite.Covers(PermissionRead))
	require.True(t, PermissionRead.Covers(PermissionRead))

	require.False(t, PermissionRead.Covers(PermissionWrite))
	require.False(t, PermissionWrite.Covers(PermissionAdmin))
}

func TestAccessGrant_Effective(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	g := &AccessGrant{IsActive: true}
	require.True(t, g.Effective(now), "active grant without expiry")

	g = &AccessGrant{IsActive: true, ExpiresAt: &future}
	require.True(t, g.Effective(now), "not yet expired")

	g = &AccessGrant{IsActive: true, ExpiresAt: &past}
	require.False(t, g.Effective(now), "expired grant")

	g = &AccessGrant{IsActive: true, ExpiresAt: &now}
	require.False(t, g.Effective(now), "expiry boundary is exclusive")

	g = &AccessGrant{IsActive: false, ExpiresAt: &future}
	require.False(t, g.Effective(now), "deactivated grant")
}
