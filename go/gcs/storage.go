package gcs

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/stable-delusion/imagestore/go/skerr"
	"github.com/stable-delusion/imagestore/go/util"
)

// GCSClient is an interface for interacting with Google Cloud Storage (GCS).
// Introducing the interface allows for easier mocking and testing for unit
// (small) tests. GCSClient should have common, general functionality; callers
// that need instance-specific behavior should wrap it.
// One intentional thing missing from these method calls is bucket name. The
// bucket name is given at creation time, so as to simplify the method
// signatures. In all methods, context.Background() is a safe value for ctx if
// you don't want to use the context of the web request, for example.
// See also test_gcsclient.NewMockClient() for mocking this in unit tests and
// mem_gcsclient.New() for an in-memory implementation.
type GCSClient interface {
	// FileReader returns an io.ReadCloser pointing to path on GCS, using the provided
	// context. storage.ErrObjectNotExist will be returned if the file is not found.
	// The caller must call Close on the returned Reader when done reading.
	FileReader(ctx context.Context, path string) (io.ReadCloser, error)
	// FileWriter returns an io.WriteCloser that writes to the GCS file given by path
	// using the provided context. A new GCS file will be created if it doesn't already exist.
	// Otherwise, the existing file will be overwritten. The caller must call Close on
	// the returned Writer to flush the writes.
	FileWriter(ctx context.Context, path string, opts FileWriteOptions) io.WriteCloser
	// DoesFileExist returns true if the specified path exists and false if it does not.
	// If any error, other than storage.ErrObjectNotExist, is encountered then it will be
	// returned.
	DoesFileExist(ctx context.Context, path string) (bool, error)
	// GetFileContents returns the []byte represented by the GCS file at path. This is a
	// convenience wrapper around FileReader. storage.ErrObjectNotExist will be returned
	// if the file is not found.
	GetFileContents(ctx context.Context, path string) ([]byte, error)
	// SetFileContents writes the []byte to the GCS file at path. This is a
	// convenience wrapper around FileWriter. The GCS file will be created if it doesn't exist.
	SetFileContents(ctx context.Context, path string, opts FileWriteOptions, contents []byte) error
	// SetFileMetadata replaces the user-provided metadata of the file at path
	// without rewriting its contents. storage.ErrObjectNotExist will be
	// returned if the file is not found.
	SetFileMetadata(ctx context.Context, path string, metadata map[string]string) error
	// AllFilesInDirectory executes the callback on all GCS files with the given prefix,
	// i.e. in the directory prefix. It returns an error if it fails to read any of the
	// ObjectAttrs belonging to files, or the error returned by the callback, which
	// stops the iteration.
	AllFilesInDirectory(ctx context.Context, prefix string, callback func(item *storage.ObjectAttrs) error) error
	// DeleteFile deletes the given file, returning any error.
	DeleteFile(ctx context.Context, path string) error
	// Bucket returns the bucket name of this client.
	Bucket() string
}

// FileWriteOptions represents the metadata for a GCS file.  See storage.ObjectAttrs
// for a more detailed description of what these are.
type FileWriteOptions struct {
	ContentEncoding    string
	ContentType        string
	ContentLanguage    string
	ContentDisposition string
	Metadata           map[string]string
}

// gcsclient holds the information needed to talk to cloud storage.
type gcsclient struct {
	client *storage.Client
	bucket string
}

// NewGCSClient returns a GCSClient. See the interface for more information.
func NewGCSClient(s *storage.Client, bucket string) GCSClient {
	return &gcsclient{
		client: s,
		bucket: bucket,
	}
}

// See the GCSClient interface for more information about FileReader.
func (g *gcsclient) FileReader(ctx context.Context, path string) (io.ReadCloser, error) {
	return g.client.Bucket(g.bucket).Object(path).NewReader(ctx)
}

// See the GCSClient interface for more information about FileWriter.
func (g *gcsclient) FileWriter(ctx context.Context, path string, opts FileWriteOptions) io.WriteCloser {
	w := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	w.ObjectAttrs.ContentEncoding = opts.ContentEncoding
	w.ObjectAttrs.ContentType = opts.ContentType
	w.ObjectAttrs.ContentLanguage = opts.ContentLanguage
	w.ObjectAttrs.ContentDisposition = opts.ContentDisposition
	w.ObjectAttrs.Metadata = opts.Metadata

	return w
}

// See the GCSClient interface for more information about DoesFileExist.
func (g *gcsclient) DoesFileExist(ctx context.Context, path string) (bool, error) {
	if _, err := g.client.Bucket(g.bucket).Object(path).Attrs(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// See the GCSClient interface for more information about GetFileContents.
func (g *gcsclient) GetFileContents(ctx context.Context, path string) ([]byte, error) {
	response, err := g.client.Bucket(g.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer util.Close(response)
	return io.ReadAll(response)
}

// See the GCSClient interface for more information about SetFileContents.
func (g *gcsclient) SetFileContents(ctx context.Context, path string, opts FileWriteOptions, contents []byte) error {
	return WithWriteFile(g, ctx, path, opts, func(w io.Writer) error {
		_, err := w.Write(contents)
		return err
	})
}

// See the GCSClient interface for more information about SetFileMetadata.
func (g *gcsclient) SetFileMetadata(ctx context.Context, path string, metadata map[string]string) error {
	_, err := g.client.Bucket(g.bucket).Object(path).Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: metadata,
	})
	return err
}

// See the GCSClient interface for more information about AllFilesInDirectory.
func (g *gcsclient) AllFilesInDirectory(ctx context.Context, prefix string, callback func(item *storage.ObjectAttrs) error) error {
	total := 0
	q := &storage.Query{Prefix: prefix, Versions: false}
	it := g.client.Bucket(g.bucket).Objects(ctx, q)
	for obj, err := it.Next(); err != iterator.Done; obj, err = it.Next() {
		if err != nil {
			return skerr.Wrapf(err, "problem with object in bucket %s (%d objects processed)", g.bucket, total)
		}
		total++
		if err := callback(obj); err != nil {
			return err
		}
	}
	return nil
}

// See the GCSClient interface for more information about DeleteFile.
func (g *gcsclient) DeleteFile(ctx context.Context, path string) error {
	return g.client.Bucket(g.bucket).Object(path).Delete(ctx)
}

// See the GCSClient interface for more information about Bucket.
func (g *gcsclient) Bucket() string {
	return g.bucket
}

// WithWriteFile writes to a GCS object using the given function, handling the
// case where the write fails. The io.Writer is only valid inside the callback.
func WithWriteFile(client GCSClient, ctx context.Context, path string, opts FileWriteOptions, fn func(io.Writer) error) error {
	writer := client.FileWriter(ctx, path, opts)
	if err := fn(writer); err != nil {
		_ = writer.Close()
		return skerr.Wrapf(err, "writing to gs://%s/%s", client.Bucket(), path)
	}
	// The GCS upload is not durable until Close returns nil.
	return skerr.Wrapf(writer.Close(), "flushing gs://%s/%s", client.Bucket(), path)
}
