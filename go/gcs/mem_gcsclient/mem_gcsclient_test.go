package mem_gcsclient

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"

	"github.com/stable-delusion/imagestore/go/gcs"
	"github.com/stable-delusion/imagestore/go/testutils/unittest"
)

func TestMemoryGCSClient_ReadWriteDelete(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()
	c := New("test-bucket")

	_, err := c.GetFileContents(ctx, "images/a.png")
	require.Equal(t, storage.ErrObjectNotExist, err)

	opts := gcs.FileWriteOptions{
		ContentType: "image/png",
		Metadata:    map[string]string{"sha256": "abc"},
	}
	require.NoError(t, c.SetFileContents(ctx, "images/a.png", opts, []byte("pretend png")))

	exists, err := c.DoesFileExist(ctx, "images/a.png")
	require.NoError(t, err)
	require.True(t, exists)

	b, err := c.GetFileContents(ctx, "images/a.png")
	require.NoError(t, err)
	require.Equal(t, []byte("pretend png"), b)

	require.NoError(t, c.DeleteFile(ctx, "images/a.png"))
	require.Equal(t, storage.ErrObjectNotExist, c.DeleteFile(ctx, "images/a.png"))
}

func TestMemoryGCSClient_WriteVisibleOnlyAfterClose(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()
	c := New("test-bucket")

	w := c.FileWriter(ctx, "images/b.png", gcs.FileWriteOptions{})
	_, err := w.Write([]byte("partial"))
	require.NoError(t, err)

	exists, err := c.DoesFileExist(ctx, "images/b.png")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, w.Close())
	exists, err = c.DoesFileExist(ctx, "images/b.png")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestMemoryGCSClient_ListIsPrefixFilteredAndSorted(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()
	c := New("test-bucket")

	for _, path := range []string{"images/c.png", "images/a.png", "inputs/z.png", "images/b.png"} {
		require.NoError(t, c.SetFileContents(ctx, path, gcs.FileWriteOptions{}, []byte(path)))
	}

	var listed []string
	require.NoError(t, c.AllFilesInDirectory(ctx, "images/", func(item *storage.ObjectAttrs) error {
		listed = append(listed, item.Name)
		return nil
	}))
	require.Equal(t, []string{"images/a.png", "images/b.png", "images/c.png"}, listed)
}

func TestMemoryGCSClient_SetFileMetadata(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()
	c := New("test-bucket")

	require.Equal(t, storage.ErrObjectNotExist, c.SetFileMetadata(ctx, "images/a.png", map[string]string{"sha256": "abc"}))

	require.NoError(t, c.SetFileContents(ctx, "images/a.png", gcs.FileWriteOptions{}, []byte("x")))
	require.NoError(t, c.SetFileMetadata(ctx, "images/a.png", map[string]string{"sha256": "abc"}))

	var md map[string]string
	require.NoError(t, c.AllFilesInDirectory(ctx, "images/", func(item *storage.ObjectAttrs) error {
		md = item.Metadata
		return nil
	}))
	require.Equal(t, map[string]string{"sha256": "abc"}, md)
}
