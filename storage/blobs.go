package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Blobs is the narrow object-store collaborator the ingestion pipeline
// needs: download a raw asset, upload an extracted artefact, and check
// existence for the "path collision means reuse" rule.
// Generalised from s3aws.go's per-operation LakeFS/MinIO/Hetzner functions
// into a single reusable client used across the extraction, crawl, and
// SharePoint sync orchestrators.
type Blobs interface {
	Download(ctx context.Context, bucket, objectKey string) ([]byte, error)
	Upload(ctx context.Context, bucket, objectKey string, data []byte, contentType string) error
	Exists(ctx context.Context, bucket, objectKey string) (bool, error)
}

// S3Blobs is an aws-sdk-go-v2-backed Blobs implementation, constructed the
// same way s3aws.go's per-call functions build a client: static credentials
// plus an optional custom endpoint for S3-compatible backends.
type S3Blobs struct {
	client *s3.Client
}

// S3Config mirrors the (url, accessKey, secretKey, region) tuple every
// s3aws.go function takes as parameters.
type S3Config struct {
	Endpoint  string // empty uses the default AWS resolver
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

func NewS3Blobs(ctx context.Context, cfg S3Config) (*S3Blobs, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Blobs{client: client}, nil
}

func (b *S3Blobs) Download(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s/%s: %w", bucket, objectKey, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Blobs) Upload(ctx context.Context, bucket, objectKey string, data []byte, contentType string) error {
	uploader := manager.NewUploader(b.client)
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := uploader.Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}

func (b *S3Blobs) Exists(ctx context.Context, bucket, objectKey string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}
