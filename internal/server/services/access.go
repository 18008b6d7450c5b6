package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/dbx"
	"github.com/medledger/medledger/internal/server/models"
)

func isKeyNotFound(err error) bool {
	return errors.Is(err, common.ErrKeyNotFound)
}

// AccessDecision is the outcome of an authorization check, with the source
// that decided it: "owner", "ledger" or "grant".
type AccessDecision struct {
	Allowed bool
	Source  string
}

// CheckAccess decides whether userID may read the record. Owners are always
// allowed; otherwise the ledger is asked first and the local grant table is
// the fallback when the ledger is unreachable. Any error on the way denies.
func (s *RecordService) CheckAccess(ctx context.Context, recordID, userID string) (*AccessDecision, error) {
	if recordID == "" || userID == "" {
		return nil, fmt.Errorf("record id and user id are required: %w", common.ErrValidation)
	}
	rec, err := s.repos.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return s.checkAccess(ctx, rec, userID), nil
}

func (s *RecordService) checkAccess(ctx context.Context, rec *models.Record, userID string) *AccessDecision {
	if userID == rec.PatientID || userID == rec.CreatorID {
		return &AccessDecision{Allowed: true, Source: "owner"}
	}

	allowed, err := s.ledger.CheckAccess(ctx, rec.RecordID, userID)
	if err == nil {
		return &AccessDecision{Allowed: allowed, Source: "ledger"}
	}
	s.logger.Warn(ctx, "ledger access check unavailable, consulting local grants",
		"record_id", rec.RecordID, "error", err)

	_, err = s.repos.Grants(s.db).GetEffective(ctx, rec.RecordID, userID, s.now())
	if err != nil {
		// fail closed: no provable grant means no access
		return &AccessDecision{Allowed: false, Source: "grant"}
	}
	return &AccessDecision{Allowed: true, Source: "grant"}
}

// GrantAccessRequest describes a new grant. A nil ExpiresAt grants without
// expiry.
type GrantAccessRequest struct {
	RecordID   string
	GranteeID  string
	GrantorID  string
	Permission string
	ExpiresAt  *time.Time
}

// GrantAccessResult reports the stored grant and whether the ledger mirror
// succeeded.
type GrantAccessResult struct {
	PermissionID string
	LedgerTxID   string
	Degraded     []string
}

// GrantAccess stores a grant, superseding any previous grant for the same
// grantee, and mirrors it to the ledger. The database write is authoritative;
// a ledger outage degrades instead of failing.
func (s *RecordService) GrantAccess(ctx context.Context, req *GrantAccessRequest) (*GrantAccessResult, error) {
	if req == nil || req.RecordID == "" || req.GranteeID == "" || req.GrantorID == "" {
		return nil, fmt.Errorf("record id, grantee id and grantor id are required: %w", common.ErrValidation)
	}
	perm, err := models.ParsePermissionType(req.Permission)
	if err != nil {
		return nil, err
	}
	if req.GranteeID == req.GrantorID {
		return nil, fmt.Errorf("cannot grant access to yourself: %w", common.ErrValidation)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("expiry must be in the future: %w", common.ErrValidation)
	}

	rec, err := s.repos.Records(s.db).Get(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	if !s.mayAdminister(ctx, rec, req.GrantorID) {
		return nil, fmt.Errorf("user %s may not grant access to record %s: %w", req.GrantorID, req.RecordID, common.ErrAccessDenied)
	}
	if req.GranteeID == rec.PatientID || req.GranteeID == rec.CreatorID {
		return nil, fmt.Errorf("owners already have access: %w", common.ErrValidation)
	}

	result := &GrantAccessResult{PermissionID: s.newID()}
	grant := &models.AccessGrant{
		PermissionID:   result.PermissionID,
		RecordID:       req.RecordID,
		GranteeID:      req.GranteeID,
		PermissionType: perm,
		GrantorID:      req.GrantorID,
		GrantedAt:      s.now(),
		ExpiresAt:      req.ExpiresAt,
		IsActive:       true,
	}
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repos.Grants(tx).Deactivate(ctx, req.RecordID, req.GranteeID); err != nil {
			return err
		}
		return s.repos.Grants(tx).Insert(ctx, grant)
	})
	if err != nil {
		return nil, fmt.Errorf("storing grant: %w", err)
	}

	var expiry time.Time
	if req.ExpiresAt != nil {
		expiry = *req.ExpiresAt
	}
	txID, err := s.ledger.GrantAccess(ctx, req.RecordID, req.GranteeID, string(perm), expiry)
	if err != nil {
		s.logger.Warn(ctx, "ledger unavailable, grant not mirrored",
			"record_id", req.RecordID, "grantee_id", req.GranteeID, "error", err)
		result.Degraded = append(result.Degraded, DegradedLedgerAnchor)
	} else {
		result.LedgerTxID = txID
	}

	s.logger.Info(ctx, "access granted",
		"record_id", req.RecordID, "grantee_id", req.GranteeID, "permission", string(perm))
	return result, nil
}

// RevokeAccess deactivates a grantee's grants and mirrors the revocation to
// the ledger. Revoking a grantee with no active grant is ErrNotFound.
func (s *RecordService) RevokeAccess(ctx context.Context, recordID, granteeID, revokerID string) (*GrantAccessResult, error) {
	if recordID == "" || granteeID == "" || revokerID == "" {
		return nil, fmt.Errorf("record id, grantee id and revoker id are required: %w", common.ErrValidation)
	}

	rec, err := s.repos.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !s.mayAdminister(ctx, rec, revokerID) {
		return nil, fmt.Errorf("user %s may not revoke access to record %s: %w", revokerID, recordID, common.ErrAccessDenied)
	}

	n, err := s.repos.Grants(s.db).Deactivate(ctx, recordID, granteeID)
	if err != nil {
		return nil, fmt.Errorf("revoking grant: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("no active grant for %s on record %s: %w", granteeID, recordID, common.ErrNotFound)
	}

	result := &GrantAccessResult{}
	txID, err := s.ledger.RevokeAccess(ctx, recordID, granteeID)
	if err != nil {
		s.logger.Warn(ctx, "ledger unavailable, revocation not mirrored",
			"record_id", recordID, "grantee_id", granteeID, "error", err)
		result.Degraded = append(result.Degraded, DegradedLedgerAnchor)
	} else {
		result.LedgerTxID = txID
	}

	s.logger.Info(ctx, "access revoked", "record_id", recordID, "grantee_id", granteeID)
	return result, nil
}

// mayAdminister reports whether userID may manage grants on the record:
// owners always, otherwise an effective admin grant.
func (s *RecordService) mayAdminister(ctx context.Context, rec *models.Record, userID string) bool {
	if userID == rec.PatientID || userID == rec.CreatorID {
		return true
	}
	g, err := s.repos.Grants(s.db).GetEffective(ctx, rec.RecordID, userID, s.now())
	if err != nil {
		return false
	}
	return g.PermissionType.Covers(models.PermissionAdmin)
}

// ListRecordsByPatient returns the patient's records from the authoritative
// database.
func (s *RecordService) ListRecordsByPatient(ctx context.Context, patientID string) ([]*models.Record, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient id is required: %w", common.ErrValidation)
	}
	return s.repos.Records(s.db).ListByPatient(ctx, patientID)
}
