package deploys3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/k11v/staticdeploy/internal/deploy"
)

// ErrObjectTooLarge is returned when the object store rejects an object's size.
var ErrObjectTooLarge = errors.New("object too large")

var _ deploy.Storage = (*Storage)(nil)

// Storage writes deployment files to one bucket.
type Storage struct {
	client *s3.Client
	bucket string

	// uploadPartSize should be greater than or equal 5MB.
	// See github.com/aws/aws-sdk-go-v2/feature/s3/manager.
	uploadPartSize int64
	uploader       *manager.Uploader
}

func NewStorage(client *s3.Client, bucket string) *Storage {
	s := &Storage{
		client:         client,
		bucket:         bucket,
		uploadPartSize: 10 * 1024 * 1024, // 10MB
	}
	s.uploader = manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = s.uploadPartSize
	})
	return s
}

// PutObject implements deploy.Storage.
func (s *Storage) PutObject(ctx context.Context, params *deploy.StoragePutObjectParams) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(params.Key),
		Body:   params.Body,
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}
	if params.CacheControl != "" {
		input.CacheControl = aws.String(params.CacheControl)
	}

	_, err := s.uploader.Upload(ctx, input)
	if err != nil {
		if apiErr := smithy.APIError(nil); errors.As(err, &apiErr) && apiErr.ErrorCode() == "EntityTooLarge" {
			err = errors.Join(ErrObjectTooLarge, err)
		}
		return fmt.Errorf("deploys3.Storage: %w", err)
	}

	return nil
}

// ListKeys returns the keys stored under prefix.
func (s *Storage) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("deploys3.Storage: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
