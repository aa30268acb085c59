package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestWriterPut(t *testing.T) {
	api := &fakeS3{}
	w := NewWriter(api, "archive", "ledger")
	require.NoError(t, w.Put(context.Background(), "m1.jsonl", strings.NewReader("{}\n"), "application/x-ndjson"))

	assert.Equal(t, "archive", aws.ToString(api.in.Bucket))
	assert.Equal(t, "ledger/m1.jsonl", aws.ToString(api.in.Key))
	assert.Equal(t, "application/x-ndjson", aws.ToString(api.in.ContentType))
	assert.Equal(t, "{}\n", api.body)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"}, "")
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"}, "")
	assert.Error(t, err)
}
