package s3

import (
	"context"
	"os"
	"testing"

	"github.com/gridkv/gridstore/pkg/kvstore"
	"github.com/gridkv/gridstore/pkg/kvstore/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEtagGeneration(t *testing.T) {
	etag := `"abc123"`
	assert.Equal(t, kvstore.Generation("abc123"), etagGeneration(&etag))

	bare := "def456"
	assert.Equal(t, kvstore.Generation("def456"), etagGeneration(&bare))

	assert.Equal(t, kvstore.NoGeneration, etagGeneration(nil))
}

func TestConfigValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewStore(ctx, Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.True(t, kvstore.IsCode(err, kvstore.ErrInvalidArgument))

	_, err = NewStore(ctx, Config{Bucket: "b"})
	require.Error(t, err)
	assert.True(t, kvstore.IsCode(err, kvstore.ErrInvalidArgument))
}

// TestS3StoreConformance runs the shared conformance suite against a real
// S3-compatible endpoint (MinIO, Localstack). Set GRIDSTORE_S3_TEST_BUCKET
// and, for a local endpoint, GRIDSTORE_S3_TEST_ENDPOINT:
//
//	GRIDSTORE_S3_TEST_BUCKET=test-bucket \
//	GRIDSTORE_S3_TEST_ENDPOINT=http://localhost:9000 \
//	AWS_ACCESS_KEY_ID=minioadmin AWS_SECRET_ACCESS_KEY=minioadmin \
//	go test ./pkg/kvstore/s3/
func TestS3StoreConformance(t *testing.T) {
	bucket := os.Getenv("GRIDSTORE_S3_TEST_BUCKET")
	if bucket == "" {
		t.Skip("GRIDSTORE_S3_TEST_BUCKET not set; skipping S3 integration test")
	}

	region := os.Getenv("GRIDSTORE_S3_TEST_REGION")
	if region == "" {
		region = "us-east-1"
	}

	kvtest.RunStoreConformance(t, func(t *testing.T) kvstore.Store {
		ctx := context.Background()
		store, err := NewStore(ctx, Config{
			Bucket:    bucket,
			Region:    region,
			Endpoint:  os.Getenv("GRIDSTORE_S3_TEST_ENDPOINT"),
			KeyPrefix: "kvtest/" + t.Name() + "/",
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = store.DeletePrefix(ctx, "")
			_ = store.Close()
		})
		return store
	})
}
