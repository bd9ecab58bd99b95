// Package mem_gcsclient provides an in-memory implementation of
// gcs.GCSClient for use in unit tests. It mimics the pieces of GCS
// semantics the imagestore packages rely on: lexicographic listing order,
// storage.ErrObjectNotExist for missing objects, and writes that only become
// visible once the writer is closed.
package mem_gcsclient

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"github.com/stable-delusion/imagestore/go/gcs"
	"github.com/stable-delusion/imagestore/go/now"
)

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	created     time.Time
}

// MemoryGCSClient implements gcs.GCSClient on maps.
type MemoryGCSClient struct {
	bucket string
	mtx    sync.RWMutex
	data   map[string]memObject
}

// New returns an empty MemoryGCSClient for the given bucket name.
func New(bucket string) *MemoryGCSClient {
	return &MemoryGCSClient{
		bucket: bucket,
		data:   map[string]memObject{},
	}
}

// See the gcs.GCSClient interface for more information about FileReader.
func (c *MemoryGCSClient) FileReader(ctx context.Context, path string) (io.ReadCloser, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	obj, ok := c.data[path]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// memWriter buffers writes and commits them to the client on Close.
type memWriter struct {
	buf    bytes.Buffer
	commit func([]byte)
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if !w.closed {
		w.closed = true
		w.commit(w.buf.Bytes())
	}
	return nil
}

// See the gcs.GCSClient interface for more information about FileWriter.
func (c *MemoryGCSClient) FileWriter(ctx context.Context, path string, opts gcs.FileWriteOptions) io.WriteCloser {
	return &memWriter{
		commit: func(b []byte) {
			c.mtx.Lock()
			defer c.mtx.Unlock()
			data := make([]byte, len(b))
			copy(data, b)
			md := map[string]string{}
			for k, v := range opts.Metadata {
				md[k] = v
			}
			c.data[path] = memObject{
				data:        data,
				contentType: opts.ContentType,
				metadata:    md,
				created:     now.Now(ctx),
			}
		},
	}
}

// See the gcs.GCSClient interface for more information about DoesFileExist.
func (c *MemoryGCSClient) DoesFileExist(ctx context.Context, path string) (bool, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	_, ok := c.data[path]
	return ok, nil
}

// See the gcs.GCSClient interface for more information about GetFileContents.
func (c *MemoryGCSClient) GetFileContents(ctx context.Context, path string) ([]byte, error) {
	r, err := c.FileReader(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()
	return io.ReadAll(r)
}

// See the gcs.GCSClient interface for more information about SetFileContents.
func (c *MemoryGCSClient) SetFileContents(ctx context.Context, path string, opts gcs.FileWriteOptions, contents []byte) error {
	w := c.FileWriter(ctx, path, opts)
	if _, err := w.Write(contents); err != nil {
		return err
	}
	return w.Close()
}

// See the gcs.GCSClient interface for more information about SetFileMetadata.
func (c *MemoryGCSClient) SetFileMetadata(ctx context.Context, path string, metadata map[string]string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	obj, ok := c.data[path]
	if !ok {
		return storage.ErrObjectNotExist
	}
	md := map[string]string{}
	for k, v := range metadata {
		md[k] = v
	}
	obj.metadata = md
	c.data[path] = obj
	return nil
}

// See the gcs.GCSClient interface for more information about AllFilesInDirectory.
func (c *MemoryGCSClient) AllFilesInDirectory(ctx context.Context, prefix string, callback func(item *storage.ObjectAttrs) error) error {
	// Snapshot under the lock, then run the callbacks unlocked so they may
	// call back into the client.
	c.mtx.RLock()
	items := make([]*storage.ObjectAttrs, 0, len(c.data))
	for path, obj := range c.data {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		items = append(items, &storage.ObjectAttrs{
			Bucket:      c.bucket,
			Name:        path,
			Size:        int64(len(obj.data)),
			ContentType: obj.contentType,
			Metadata:    obj.metadata,
			Created:     obj.created,
		})
	}
	c.mtx.RUnlock()

	// GCS lists objects in lexicographic key order.
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	for _, item := range items {
		if err := callback(item); err != nil {
			return err
		}
	}
	return nil
}

// See the gcs.GCSClient interface for more information about DeleteFile.
func (c *MemoryGCSClient) DeleteFile(ctx context.Context, path string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if _, ok := c.data[path]; !ok {
		return storage.ErrObjectNotExist
	}
	delete(c.data, path)
	return nil
}

// See the gcs.GCSClient interface for more information about Bucket.
func (c *MemoryGCSClient) Bucket() string {
	return c.bucket
}

// Ensure MemoryGCSClient fulfills gcs.GCSClient.
var _ gcs.GCSClient = (*MemoryGCSClient)(nil)
