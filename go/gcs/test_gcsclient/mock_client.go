package test_gcsclient

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/mock"

	"github.com/stable-delusion/imagestore/go/gcs"
)

// GCSClient is a mock of gcs.GCSClient. All of the methods delegate to
// mock.Mock; set expectations with On() as usual for testify mocks.
type GCSClient struct {
	mock.Mock
}

// NewMockClient returns a pointer to a newly created struct. We return the
// pointer because we want to make sure the methods on mock.Mock stay
// accessible, e.g. m.On().
func NewMockClient() *GCSClient {
	return &GCSClient{}
}

func (m *GCSClient) FileReader(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *GCSClient) FileWriter(ctx context.Context, path string, opts gcs.FileWriteOptions) io.WriteCloser {
	args := m.Called(ctx, path, opts)
	return args.Get(0).(io.WriteCloser)
}

func (m *GCSClient) DoesFileExist(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

func (m *GCSClient) GetFileContents(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *GCSClient) SetFileContents(ctx context.Context, path string, opts gcs.FileWriteOptions, contents []byte) error {
	args := m.Called(ctx, path, opts, contents)
	return args.Error(0)
}

func (m *GCSClient) SetFileMetadata(ctx context.Context, path string, metadata map[string]string) error {
	args := m.Called(ctx, path, metadata)
	return args.Error(0)
}

func (m *GCSClient) AllFilesInDirectory(ctx context.Context, prefix string, callback func(item *storage.ObjectAttrs) error) error {
	args := m.Called(ctx, prefix, callback)
	return args.Error(0)
}

func (m *GCSClient) DeleteFile(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *GCSClient) Bucket() string {
	args := m.Called()
	return args.String(0)
}

// Ensure GCSClient fulfills gcs.GCSClient.
var _ gcs.GCSClient = (*GCSClient)(nil)
