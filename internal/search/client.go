// Package search pushes record metadata to an external search index.
// Indexing is best effort: the orchestrator fires it asynchronously and a
// failure never blocks or fails record creation.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/logging"
)

// Document is the indexable projection of a record. It carries metadata
// only; record content never reaches the index.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Client talks to the search index over HTTP with short-lived signed tokens.
type Client struct {
	baseURL string
	secret  []byte
	http    *http.Client
	logger  logging.Logger
}

// NewClient builds a search client. The secret signs per-request tokens.
func NewClient(baseURL string, secret []byte, logger logging.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("search base url is required: %w", common.ErrValidation)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 2 * time.Second},
		logger:  logger,
	}, nil
}

// Index submits a document to the index.
func (c *Client) Index(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required: %w", common.ErrValidation)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/index", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.signToken(doc.ID)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("indexing document %s: %w", doc.ID, common.ErrConnection)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("indexing document %s: status %d: %w", doc.ID, resp.StatusCode, common.ErrConnection)
	}
	c.logger.Debug(ctx, "document indexed", "id", doc.ID)
	return nil
}

func (c *Client) signToken(subject string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing index token: %w", err)
	}
	return signed, nil
}
