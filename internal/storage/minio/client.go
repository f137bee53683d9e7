// Package minio archives raw enrollment captures in S3-compatible object storage.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Internal adapter interface to enable mocking without a real MinIO server.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Client stores captures under identities/{identityID}/{descriptorID}.jpg
type Client struct {
	api    minioAPI
	bucket string
}

// New connects to the configured endpoint and ensures the bucket exists.
func New(ctx context.Context, cfg config.StorageConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewClientWithAPI(ctx, mc, cfg.Bucket)
}

// NewClientWithAPI allows injecting a mockable API (used in tests).
func NewClientWithAPI(ctx context.Context, api minioAPI, bucket string) (*Client, error) {
	c := &Client{
		api:    api,
		bucket: bucket,
	}

	if err := c.ensureBucketExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return c, nil
}

// ensureBucketExists creates the bucket if it doesn't exist
func (c *Client) ensureBucketExists(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// CaptureKey returns the object key of a descriptor's raw capture.
func CaptureKey(identityID string, descriptorID int64) string {
	return fmt.Sprintf("identities/%s/%d.jpg", identityID, descriptorID)
}

// PutCapture uploads the capture a descriptor was extracted from.
func (c *Client) PutCapture(ctx context.Context, identityID string, descriptorID int64, image []byte) error {
	_, err := c.api.PutObject(ctx, c.bucket, CaptureKey(identityID, descriptorID),
		bytes.NewReader(image), int64(len(image)), minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return fmt.Errorf("failed to upload capture: %w", err)
	}
	return nil
}

// DeleteCapture removes a capture. Missing objects are not an error.
func (c *Client) DeleteCapture(ctx context.Context, identityID string, descriptorID int64) error {
	err := c.api.RemoveObject(ctx, c.bucket, CaptureKey(identityID, descriptorID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete capture: %w", err)
	}
	return nil
}

// HasCapture checks whether a capture is archived.
func (c *Client) HasCapture(ctx context.Context, identityID string, descriptorID int64) (bool, error) {
	_, err := c.api.StatObject(ctx, c.bucket, CaptureKey(identityID, descriptorID), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat capture: %w", err)
	}
	return true, nil
}
