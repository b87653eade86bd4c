//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
	testBucket    = "test-bucket"
)

// setupMinIO starts a MinIO container and returns a Blobs client against it
// plus a cleanup func, mirroring the teacher's MinIO-backed S3-compatible
// integration test setup.
func setupMinIO(t *testing.T) (*S3Blobs, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testAccessKey,
			"MINIO_ROOT_PASSWORD": testSecretKey,
		},
		Cmd: []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort("9000/tcp").
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	require.NoError(t, createBucket(ctx, endpoint, testBucket))

	blobs, err := NewS3Blobs(ctx, S3Config{
		Endpoint:  endpoint,
		Region:    "us-east-1",
		AccessKey: testAccessKey,
		SecretKey: testSecretKey,
		PathStyle: true,
	})
	require.NoError(t, err)

	return blobs, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate MinIO container: %v", err)
		}
	}
}

func createBucket(ctx context.Context, endpoint, bucket string) error {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(testAccessKey, testSecretKey, "")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})),
	)
	if err != nil {
		return err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true })
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	return err
}

func TestS3Blobs_UploadDownloadExists(t *testing.T) {
	blobs, cleanup := setupMinIO(t)
	defer cleanup()
	ctx := context.Background()

	ok, err := blobs.Exists(ctx, testBucket, "assets/doc1.pdf")
	require.NoError(t, err)
	require.False(t, ok, "object should not exist before upload")

	content := []byte("extracted markdown content")
	require.NoError(t, blobs.Upload(ctx, testBucket, "assets/doc1.pdf", content, "application/pdf"))

	ok, err = blobs.Exists(ctx, testBucket, "assets/doc1.pdf")
	require.NoError(t, err)
	require.True(t, ok, "object should exist after upload")

	got, err := blobs.Download(ctx, testBucket, "assets/doc1.pdf")
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestS3Blobs_DownloadMissingObject(t *testing.T) {
	blobs, cleanup := setupMinIO(t)
	defer cleanup()
	ctx := context.Background()

	_, err := blobs.Download(ctx, testBucket, "does/not/exist.txt")
	require.Error(t, err)
}
