package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pod042/internal/models"
	"pod042/internal/storage"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	puts    int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (f *fakeBucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeBucket) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestStore_Key(t *testing.T) {
	assert.Equal(t, "pod042/state.json", NewWithClient(newFakeBucket(), "b", "pod042").Key())
	assert.Equal(t, "state.json", NewWithClient(newFakeBucket(), "b", "").Key())
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewWithClient(newFakeBucket(), "bucket", "bot")

	_, err := store.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_LoadGenericNotFound(t *testing.T) {
	bucket := newFakeBucket()
	bucket.getErr = &smithy.GenericAPIError{Code: "NoSuchKey", Message: "gone"}
	store := NewWithClient(bucket, "bucket", "bot")

	_, err := store.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_LoadOtherError(t *testing.T) {
	bucket := newFakeBucket()
	bucket.getErr = errors.New("connection reset")
	store := NewWithClient(bucket, "bucket", "bot")

	_, err := store.LoadSnapshot(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	bucket := newFakeBucket()
	store := NewWithClient(bucket, "bucket", "bot")
	ctx := context.Background()

	want := models.NewSnapshot()
	want.Users["alice"] = 10
	want.Chats[-5] = models.NewChatState("chat")
	want.Chats[-5].Mode = models.ModeConfigureVkGroupsAdd

	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.SaveSnapshot(ctx, want))
	assert.Equal(t, 1, bucket.puts)

	got, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_CorruptObject(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["bucket/bot/state.json"] = []byte("{not json")
	store := NewWithClient(bucket, "bucket", "bot")

	_, err := store.LoadSnapshot(context.Background())
	assert.Error(t, err)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Options{Bucket: "b"})
	assert.Error(t, err)

	store, err := New(Options{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "secret", Endpoint: "http://localhost:9000"})
	require.NoError(t, err)
	assert.Equal(t, "state.json", store.Key())
}
