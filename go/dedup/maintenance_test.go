package dedup

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"

	"github.com/stable-delusion/imagestore/go/digest"
	"github.com/stable-delusion/imagestore/go/gcs"
	"github.com/stable-delusion/imagestore/go/gcs/mem_gcsclient"
	"github.com/stable-delusion/imagestore/go/hashcache"
	"github.com/stable-delusion/imagestore/go/testutils/unittest"
)

// seed writes contents under path, attaching digest metadata if asked.
func seed(t *testing.T, client *mem_gcsclient.MemoryGCSClient, path string, contents []byte, withMetadata bool) {
	opts := gcs.FileWriteOptions{ContentType: "image/png"}
	if withMetadata {
		d, err := digest.FromBytes(contents)
		require.NoError(t, err)
		opts.Metadata = map[string]string{digest.MetadataKey: string(d)}
	}
	require.NoError(t, client.SetFileContents(context.Background(), path, opts, contents))
}

func TestSweep_RemovesAllButCanonicalCopy(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()
	client := mem_gcsclient.New("test-bucket")

	shared := []byte("same content, three keys")
	seed(t, client, "images/a.png", shared, true)
	seed(t, client, "images/b.png", shared, true)
	seed(t, client, "images/c.png", shared, true)
	seed(t, client, "images/d.png", []byte("one of a kind"), true)

	cache := hashcache.New(client, testPrefix)
	require.NoError(t, cache.Build(ctx))
	d := New(client, cache, testPrefix)

	res, err := d.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Deleted)
	require.Equal(t, int64(2*len(shared)), res.FreedBytes)

	// The canonical (first listed) copy and the unique object survive.
	require.Equal(t, []string{"images/a.png", "images/d.png"}, listKeys(t, client))
	require.Equal(t, 2, cache.Len())

	// Sweeping again is a no-op.
	res, err = d.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Deleted)
}

func TestSweep_UnbuiltCacheIsStoreUnavailable(t *testing.T) {
	unittest.SmallTest(t)
	client := mem_gcsclient.New("test-bucket")
	d := New(client, hashcache.New(client, testPrefix), testPrefix)

	_, err := d.Sweep(context.Background())
	var unavailable *hashcache.StoreUnavailableError
	require.True(t, errors.As(err, &unavailable))
}

// failingDeletes refuses to delete the named key.
type failingDeletes struct {
	*mem_gcsclient.MemoryGCSClient
	refuse string
}

func (f *failingDeletes) DeleteFile(ctx context.Context, path string) error {
	if path == f.refuse {
		return errors.New("delete refused")
	}
	return f.MemoryGCSClient.DeleteFile(ctx, path)
}

func TestSweep_DeleteFailureIsAggregatedAndSweepContinues(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()
	inner := mem_gcsclient.New("test-bucket")
	client := &failingDeletes{MemoryGCSClient: inner, refuse: "images/b.png"}

	shared := []byte("duplicated content")
	seed(t, inner, "images/a.png", shared, true)
	seed(t, inner, "images/b.png", shared, true)
	seed(t, inner, "images/c.png", shared, true)

	cache := hashcache.New(client, testPrefix)
	require.NoError(t, cache.Build(ctx))
	d := New(client, cache, testPrefix)

	res, err := d.Sweep(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "images/b.png")
	// c was still removed despite b failing.
	require.Equal(t, 1, res.Deleted)
	require.Equal(t, []string{"images/a.png", "images/b.png"}, listKeys(t, inner))
	// The failed key stays in the cache so a retry can pick it up.
	require.True(t, cache.Has("images/b.png"))
}

func TestBackfill_AddsMissingDigestMetadataOnly(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()
	client := mem_gcsclient.New("test-bucket")

	seed(t, client, "images/tagged.png", []byte("already tagged"), true)
	seed(t, client, "images/bare.png", []byte("no metadata yet"), false)

	cache := hashcache.New(client, testPrefix)
	require.NoError(t, cache.Build(ctx))
	d := New(client, cache, testPrefix)

	res, err := d.Backfill(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 0, res.Failed)

	want, err := digest.FromBytes([]byte("no metadata yet"))
	require.NoError(t, err)
	require.NoError(t, client.AllFilesInDirectory(ctx, "images/bare.png", func(item *storage.ObjectAttrs) error {
		require.Equal(t, string(want), item.Metadata[digest.MetadataKey])
		return nil
	}))

	// A second pass skips everything.
	res, err = d.Backfill(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Updated)
	require.Equal(t, 2, res.Skipped)
}

func TestBackfill_FetchFailureIsCountedAndAggregated(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()
	inner := mem_gcsclient.New("test-bucket")
	seed(t, inner, "images/bad.png", []byte("unreachable"), false)
	seed(t, inner, "images/good.png", []byte("reachable"), false)

	client := &failingReads{MemoryGCSClient: inner, refuse: "images/bad.png"}
	cache := hashcache.New(inner, testPrefix)
	require.NoError(t, cache.Build(ctx))
	d := New(client, cache, testPrefix)

	res, err := d.Backfill(ctx)
	require.Error(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.Failed)
	require.Contains(t, err.Error(), "images/bad.png")
}

// failingReads refuses to fetch the named key.
type failingReads struct {
	*mem_gcsclient.MemoryGCSClient
	refuse string
}

func (f *failingReads) GetFileContents(ctx context.Context, path string) ([]byte, error) {
	if path == f.refuse {
		return nil, errors.New("read refused")
	}
	return f.MemoryGCSClient.GetFileContents(ctx, path)
}
