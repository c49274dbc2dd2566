package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlock.evalgo.org/request"
)

func sha256hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	content := "a,b\n1,2\n"
	hash, size, err := store.Put(ctx, strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, sha256hex(content), hash)
	assert.Equal(t, int64(len(content)), size)

	exists, err := store.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := store.Open(ctx, hash)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestFilesystemStorePutIdempotent(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	hash1, _, err := store.Put(ctx, strings.NewReader("same bytes"))
	require.NoError(t, err)
	hash2, _, err := store.Put(ctx, strings.NewReader("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
}

func TestFilesystemStoreOpenMissing(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), sha256hex("never stored"))
	assert.True(t, request.IsKind(err, request.KindNotFound))
}

func TestS3StoreRoundTrip(t *testing.T) {
	mock := NewMockS3Client()
	store := NewS3StoreWithClient(mock, "airlock-snapshots")
	ctx := context.Background()

	content := "output bytes"
	hash, size, err := store.Put(ctx, strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, sha256hex(content), hash)
	assert.Equal(t, int64(len(content)), size)
	assert.True(t, mock.PutObjectCalled)
	assert.Equal(t, "airlock-snapshots", mock.LastBucket)
	assert.Equal(t, hash, mock.LastMetadata["sha256"])

	exists, err := store.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := store.Open(ctx, hash)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestS3StorePutSkipsExisting(t *testing.T) {
	mock := NewMockS3Client()
	store := NewS3StoreWithClient(mock, "airlock-snapshots")
	ctx := context.Background()

	hash, _, err := store.Put(ctx, strings.NewReader("snapshot"))
	require.NoError(t, err)

	mock.PutObjectCalled = false
	again, _, err := store.Put(ctx, strings.NewReader("snapshot"))
	require.NoError(t, err)
	assert.Equal(t, hash, again)
	assert.False(t, mock.PutObjectCalled, "existing snapshot should not be re-uploaded")
}

func TestS3StoreOpenMissing(t *testing.T) {
	mock := NewMockS3Client()
	store := NewS3StoreWithClient(mock, "airlock-snapshots")

	_, err := store.Open(context.Background(), sha256hex("missing"))
	assert.True(t, request.IsKind(err, request.KindNotFound))
}
