package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/medledger/medledger/internal/common"
)

// RecordAnchor is the on-ledger projection of a record: identity, content
// address and hashes, nothing clinical.
type RecordAnchor struct {
	RecordID    string `json:"recordId"`
	PatientID   string `json:"patientId"`
	CreatorID   string `json:"creatorId"`
	IPFSCid     string `json:"ipfsCid"`
	ContentHash string `json:"contentHash"`
	VersionHash string `json:"versionHash,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Some deployments expose the contract under older function names. Each
// canonical call falls back to its alias once when the contract reports an
// unknown function.
var functionAliases = map[string]string{
	"CreateRecord": "CreateMedicalRecord",
	"ReadRecord":   "GetRecord",
	"UpdateRecord": "UpdateMedicalRecord",
}

func isUnknownFunction(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "function") &&
		(strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") || strings.Contains(msg, "unknown"))
}

func (c *Client) submitWithAlias(ctx context.Context, name string, args ...string) *Result {
	res := c.SubmitTransaction(ctx, name, args...)
	if res.Err != nil && isUnknownFunction(res.Err) {
		if alias, ok := functionAliases[name]; ok {
			return c.SubmitTransaction(ctx, alias, args...)
		}
	}
	return res
}

func (c *Client) evaluateWithAlias(ctx context.Context, name string, args ...string) *Result {
	res := c.EvaluateTransaction(ctx, name, args...)
	if res.Err != nil && isUnknownFunction(res.Err) {
		if alias, ok := functionAliases[name]; ok {
			return c.EvaluateTransaction(ctx, alias, args...)
		}
	}
	return res
}

// CreateRecord anchors a new record on the ledger and returns the
// transaction id.
func (c *Client) CreateRecord(ctx context.Context, anchor *RecordAnchor) (string, error) {
	if anchor == nil || anchor.RecordID == "" || anchor.PatientID == "" || anchor.CreatorID == "" {
		return "", fmt.Errorf("record id, patient id and creator id are required: %w", common.ErrValidation)
	}
	if anchor.Timestamp == "" {
		anchor.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(anchor)
	if err != nil {
		return "", fmt.Errorf("encoding record anchor: %w", err)
	}
	res := c.submitWithAlias(ctx, "CreateRecord", string(payload))
	if res.Err != nil {
		return "", res.Err
	}
	return res.TxID, nil
}

// UpdateRecord re-anchors a record after its content changed.
func (c *Client) UpdateRecord(ctx context.Context, recordID, contentHash, contentAddress string) (string, error) {
	if recordID == "" || contentHash == "" || contentAddress == "" {
		return "", fmt.Errorf("record id, content hash and content address are required: %w", common.ErrValidation)
	}
	res := c.submitWithAlias(ctx, "UpdateRecord", recordID, contentHash, contentAddress)
	if res.Err != nil {
		return "", res.Err
	}
	return res.TxID, nil
}

// ReadRecord fetches the on-ledger anchor for a record.
func (c *Client) ReadRecord(ctx context.Context, recordID string) (*RecordAnchor, error) {
	if recordID == "" {
		return nil, fmt.Errorf("record id is required: %w", common.ErrValidation)
	}
	res := c.evaluateWithAlias(ctx, "ReadRecord", recordID)
	if res.Err != nil {
		return nil, res.Err
	}
	var anchor RecordAnchor
	if err := json.Unmarshal(res.Data, &anchor); err != nil {
		return nil, fmt.Errorf("decoding record anchor: %w", err)
	}
	return &anchor, nil
}

// GrantAccess records an access grant on the ledger. expiresAt may be zero
// for a grant without expiry.
func (c *Client) GrantAccess(ctx context.Context, recordID, granteeID, action string, expiresAt time.Time) (string, error) {
	if recordID == "" || granteeID == "" || action == "" {
		return "", fmt.Errorf("record id, grantee id and action are required: %w", common.ErrValidation)
	}
	expiry := ""
	if !expiresAt.IsZero() {
		expiry = expiresAt.UTC().Format(time.RFC3339)
	}
	res := c.SubmitTransaction(ctx, "GrantAccess", recordID, granteeID, action, expiry)
	if res.Err != nil {
		return "", res.Err
	}
	return res.TxID, nil
}

// RevokeAccess removes a grantee's access on the ledger.
func (c *Client) RevokeAccess(ctx context.Context, recordID, granteeID string) (string, error) {
	if recordID == "" || granteeID == "" {
		return "", fmt.Errorf("record id and grantee id are required: %w", common.ErrValidation)
	}
	res := c.SubmitTransaction(ctx, "RevokeAccess", recordID, granteeID)
	if res.Err != nil {
		return "", res.Err
	}
	return res.TxID, nil
}

// CheckAccess asks the ledger whether userID may access the record. The
// error return distinguishes "denied" from "could not ask".
func (c *Client) CheckAccess(ctx context.Context, recordID, userID string) (bool, error) {
	if recordID == "" || userID == "" {
		return false, fmt.Errorf("record id and user id are required: %w", common.ErrValidation)
	}
	res := c.EvaluateTransaction(ctx, "CheckAccess", recordID, userID)
	if res.Err != nil {
		return false, res.Err
	}
	return parseBoolPayload(res.Data)
}

// VerifyRecord compares a locally computed content hash against the anchored
// one.
func (c *Client) VerifyRecord(ctx context.Context, recordID, contentHash string) (bool, error) {
	if recordID == "" || contentHash == "" {
		return false, fmt.Errorf("record id and content hash are required: %w", common.ErrValidation)
	}
	res := c.EvaluateTransaction(ctx, "ValidateRecordIntegrity", recordID, contentHash)
	if res.Err != nil {
		return false, res.Err
	}
	return parseBoolPayload(res.Data)
}

// ListRecordsByPatient returns all anchors for a patient's records.
func (c *Client) ListRecordsByPatient(ctx context.Context, patientID string) ([]*RecordAnchor, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient id is required: %w", common.ErrValidation)
	}
	res := c.EvaluateTransaction(ctx, "ListRecordsByPatient", patientID)
	if res.Err != nil {
		return nil, res.Err
	}
	if len(bytes.TrimSpace(res.Data)) == 0 {
		return nil, nil
	}
	var anchors []*RecordAnchor
	if err := json.Unmarshal(res.Data, &anchors); err != nil {
		return nil, fmt.Errorf("decoding record anchors: %w", err)
	}
	return anchors, nil
}

// ListAllRecords returns every anchor on the ledger. Intended for audit
// tooling, not request paths.
func (c *Client) ListAllRecords(ctx context.Context) ([]*RecordAnchor, error) {
	res := c.EvaluateTransaction(ctx, "GetAllAssets")
	if res.Err != nil {
		return nil, res.Err
	}
	if len(bytes.TrimSpace(res.Data)) == 0 {
		return nil, nil
	}
	var anchors []*RecordAnchor
	if err := json.Unmarshal(res.Data, &anchors); err != nil {
		return nil, fmt.Errorf("decoding record anchors: %w", err)
	}
	return anchors, nil
}

// parseBoolPayload reads the bare true/false the contract returns for its
// boolean queries.
func parseBoolPayload(data []byte) (bool, error) {
	switch strings.TrimSpace(string(data)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected boolean payload %q: %w", data, common.ErrValidation)
	}
}
