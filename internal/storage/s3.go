package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const DefaultBucket = "datalake"

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnvString("AWS_REGION", "us-east-1")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", common.ErrConfiguration, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// S3Lake stores batches in one bucket. It works against AWS and MinIO.
type S3Lake struct {
	client *s3.Client
	bucket string
}

func NewS3Lake(client *s3.Client, bucket string) *S3Lake {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &S3Lake{client: client, bucket: bucket}
}

func (l *S3Lake) Bucket() string { return l.bucket }

func (l *S3Lake) EnsureBucket(ctx context.Context) error {
	_, err := l.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(l.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuch *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuch) {
		return fmt.Errorf("%w: head bucket %s: %v", common.ErrBackendUnavailable, l.bucket, err)
	}

	_, err = l.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(l.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", l.bucket, err)
	}
	logger.Info("[Lake] Created bucket", "bucket", l.bucket)
	return nil
}

func (l *S3Lake) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(l.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := l.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}

func (l *S3Lake) ReadJSON(ctx context.Context, key string, v any) error {
	result, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: %s", common.ErrNotFound, key)
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer result.Body.Close()

	if err := json.NewDecoder(result.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (l *S3Lake) WriteJSON(ctx context.Context, key string, v any) error {
	return l.put(ctx, key, v, false)
}

// CreateJSON uses a conditional put, so two writers racing for the same key
// cannot both succeed.
func (l *S3Lake) CreateJSON(ctx context.Context, key string, v any) error {
	return l.put(ctx, key, v, true)
}

func (l *S3Lake) put(ctx context.Context, key string, v any, exclusive bool) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(strings.TrimPrefix(key, "/")),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}
	if exclusive {
		input.IfNoneMatch = aws.String("*")
	}
	if _, err = l.client.PutObject(ctx, input); err != nil {
		var apiErr smithy.APIError
		if exclusive && errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return fmt.Errorf("%w: %s", ErrObjectExists, key)
		}
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (l *S3Lake) Delete(ctx context.Context, key string) error {
	_, err := l.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
