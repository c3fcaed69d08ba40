package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest-backend/internal/shared/storage/object"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "documents/d1/file.pdf", want: "documents/d1/file.pdf"},
		{name: "simple prefix", prefix: "rag", key: "documents/d1/file.pdf", want: "rag/documents/d1/file.pdf"},
		{name: "prefix and key slashes", prefix: "/rag/", key: "/documents/d1/file.pdf", want: "rag/documents/d1/file.pdf"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

type fakeS3 struct {
	objects map[string][]byte
	lastPut *s3.PutObjectInput
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.lastPut = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestStoreRoundTripWithEncryption(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{objects: map[string][]byte{}}
	store := newWithClient(fake, "bucket", "rag/", "kms-key")
	ctx := context.Background()

	n, err := store.Put(ctx, "documents/d1/a.txt", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, "rag/documents/d1/a.txt", aws.ToString(fake.lastPut.Key))
	assert.Equal(t, s3types.ServerSideEncryptionAwsKms, fake.lastPut.ServerSideEncryption)

	rc, err := store.Open(ctx, "documents/d1/a.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.Delete(ctx, "documents/d1/a.txt"))
	_, err = store.Open(ctx, "documents/d1/a.txt")
	assert.True(t, errors.Is(err, object.ErrNotFound))
}
