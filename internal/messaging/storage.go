// internal/messaging/storage.go
// Attachment storage: message rows carry metadata, bytes live in S3

package messaging

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
)

// StorageService stores and removes attachment payloads
type StorageService interface {
	Upload(ctx context.Context, filename, contentType string, body io.Reader, size int64) (*Attachment, error)
	Delete(ctx context.Context, fileURL string) error
}

type s3Storage struct {
	uploader *s3manager.Uploader
	client   *s3.S3
	bucket   string
	region   string
}

// NewS3Storage creates the S3-backed attachment store
func NewS3Storage(region, accessKeyID, secretAccessKey, bucket string) (StorageService, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(accessKeyID, secretAccessKey, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &s3Storage{
		uploader: s3manager.NewUploader(sess),
		client:   s3.New(sess),
		bucket:   bucket,
		region:   region,
	}, nil
}

func (s *s3Storage) Upload(ctx context.Context, filename, contentType string, body io.Reader, size int64) (*Attachment, error) {
	key := fmt.Sprintf("attachments/%s%s", uuid.NewString(), filepath.Ext(filename))

	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}

	return &Attachment{
		Filename: filename,
		URL:      result.Location,
		Size:     size,
		MimeType: contentType,
	}, nil
}

func (s *s3Storage) Delete(ctx context.Context, fileURL string) error {
	key, err := s.objectKey(fileURL)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}

// objectKey extracts the bucket key from an attachment URL
func (s *s3Storage) objectKey(fileURL string) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("invalid attachment URL: %w", err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	// Path-style URLs carry the bucket as the first segment
	key = strings.TrimPrefix(key, s.bucket+"/")
	if key == "" {
		return "", fmt.Errorf("attachment URL has no object key: %s", fileURL)
	}
	return key, nil
}
