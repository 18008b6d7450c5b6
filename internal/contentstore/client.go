// Package contentstore stores encrypted record blobs in S3-compatible object
// storage under content-derived addresses. Blobs are sealed before they leave
// the process; the store only ever sees ciphertext.
package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/cryptox"
	"github.com/medledger/medledger/internal/logging"
)

// Sealed blob body layout: one version byte, the 12-byte IV, then the
// ciphertext with the GCM tag appended. The content address is computed over
// this whole body.
const (
	bodyVersion  = 0x01
	bodyIVSize   = 12
	bodyTagSize  = 16
	bodyOverhead = 1 + bodyIVSize + bodyTagSize
)

// ObjectAPI is the subset of the S3 client the store uses. Satisfied by
// *s3.Client; tests substitute an in-memory fake.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// SealedBlob describes an uploaded blob: its content address plus the
// encryption parameters the caller must persist to decrypt it later.
type SealedBlob struct {
	ContentAddress string
	IV             []byte
	AuthTag        []byte
	CiphertextSize int64
}

// BlobStat is the result of a metadata probe against the store.
type BlobStat struct {
	ContentAddress string
	Size           int64
}

// Client is the content-addressable store client.
type Client struct {
	api         ObjectAPI
	bucket      string
	fallbackKey []byte
	logger      logging.Logger
}

// NewClient wires a store client over the given object API. fallbackKey is
// the deterministic key used by DownloadDefault for blobs whose per-record
// key is unavailable; it comes from the key custodian.
func NewClient(api ObjectAPI, bucket string, fallbackKey []byte, logger logging.Logger) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("object api is required: %w", common.ErrValidation)
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required: %w", common.ErrValidation)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{api: api, bucket: bucket, fallbackKey: fallbackKey, logger: logger}, nil
}

// NewS3Client builds an S3 client against an S3-compatible endpoint
// (MinIO in the default deployment) with static credentials and path-style
// addressing.
func NewS3Client(ctx context.Context, endpoint, region, accessKey, secretKey string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading s3 config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}), nil
}

// Upload seals plaintext under the given key and stores the resulting body
// under its content address. Uploading the same plaintext twice under
// different IVs yields different addresses; identical bodies are idempotent.
func (c *Client) Upload(ctx context.Context, plaintext, key []byte) (*SealedBlob, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("invalid key size %d: %w", len(key), common.ErrValidation)
	}

	iv := cryptox.RandomBytes(bodyIVSize)
	sealed, err := cryptox.SealWithKey(plaintext, key, iv)
	if err != nil {
		return nil, fmt.Errorf("sealing blob: %w", err)
	}

	body := make([]byte, 0, 1+bodyIVSize+len(sealed))
	body = append(body, bodyVersion)
	body = append(body, iv...)
	body = append(body, sealed...)

	address, err := ComputeAddress(body)
	if err != nil {
		return nil, err
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(address),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("uploading blob %s: %w", address, common.ErrStorage)
	}
	uploadsTotal.WithLabelValues("ok").Inc()
	uploadBytes.Add(float64(len(body)))
	c.logger.Debug(ctx, "blob uploaded", "address", address, "size", len(body))

	return &SealedBlob{
		ContentAddress: address,
		IV:             iv,
		AuthTag:        sealed[len(sealed)-bodyTagSize:],
		CiphertextSize: int64(len(body)),
	}, nil
}

// DownloadWithKey fetches a blob, checks the body against its content
// address and opens it under the given key. An address mismatch or a failed
// authentication is an integrity error; a missing blob is ErrNotFound.
func (c *Client) DownloadWithKey(ctx context.Context, address string, key []byte) ([]byte, error) {
	plaintext, err := c.download(ctx, address, key)
	if err != nil {
		downloadsTotal.WithLabelValues("primary", "error").Inc()
		return nil, err
	}
	downloadsTotal.WithLabelValues("primary", "ok").Inc()
	return plaintext, nil
}

// DownloadDefault fetches and opens a blob under the deterministic fallback
// key. Used when a record has no per-record key on file.
func (c *Client) DownloadDefault(ctx context.Context, address string) ([]byte, error) {
	if len(c.fallbackKey) == 0 {
		return nil, fmt.Errorf("no fallback key configured: %w", common.ErrKeyNotFound)
	}
	plaintext, err := c.download(ctx, address, c.fallbackKey)
	if err != nil {
		downloadsTotal.WithLabelValues("default_key", "error").Inc()
		return nil, err
	}
	downloadsTotal.WithLabelValues("default_key", "ok").Inc()
	return plaintext, nil
}

func (c *Client) download(ctx context.Context, address string, key []byte) ([]byte, error) {
	if _, err := ParseAddress(address); err != nil {
		return nil, fmt.Errorf("%v: %w", err, common.ErrValidation)
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(address),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("blob %s: %w", address, common.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching blob %s: %w", address, common.ErrStorage)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", address, common.ErrStorage)
	}

	actual, err := ComputeAddress(body)
	if err != nil {
		return nil, err
	}
	if actual != address {
		return nil, fmt.Errorf("blob body does not match address %s: %w", address, common.ErrIntegrity)
	}

	if len(body) < bodyOverhead || body[0] != bodyVersion {
		return nil, fmt.Errorf("malformed blob body for %s: %w", address, common.ErrIntegrity)
	}
	p := &cryptox.Payload{
		Algorithm:  cryptox.AlgorithmAESGCM,
		IV:         body[1 : 1+bodyIVSize],
		Ciphertext: body[1+bodyIVSize : len(body)-bodyTagSize],
		AuthTag:    body[len(body)-bodyTagSize:],
	}
	plaintext, err := cryptox.OpenWithKey(p, key)
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", address, err)
	}
	return plaintext, nil
}

// Stat probes the store for a blob's existence and size without fetching it.
func (c *Client) Stat(ctx context.Context, address string) (*BlobStat, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(address),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("blob %s: %w", address, common.ErrNotFound)
		}
		return nil, fmt.Errorf("probing blob %s: %w", address, common.ErrStorage)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &BlobStat{ContentAddress: address, Size: size}, nil
}
