package skerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stable-delusion/imagestore/go/testutils/unittest"
)

var sentinel = errors.New("the underlying problem")

func TestFmt_MessageAndStack(t *testing.T) {
	unittest.SmallTest(t)

	err := Fmt("failure fetching %s", "object")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failure fetching object")
	require.Contains(t, err.Error(), "skerr/skerr_test.go")
}

func TestWrap_NilIsNil(t *testing.T) {
	unittest.SmallTest(t)

	require.NoError(t, Wrap(nil))
	require.NoError(t, Wrapf(nil, "whatever %d", 2))
}

func TestWrap_AlreadyWrapped_Unchanged(t *testing.T) {
	unittest.SmallTest(t)

	once := Wrap(sentinel)
	twice := Wrap(once)
	require.Equal(t, once, twice)
}

func TestWrapf_ErrorsIsSeesThrough(t *testing.T) {
	unittest.SmallTest(t)

	err := Wrapf(Wrap(sentinel), "reading %q", "gs://bucket/key")
	require.True(t, errors.Is(err, sentinel))
	require.Contains(t, err.Error(), `reading "gs://bucket/key"`)
}

func TestUnwrap_ReturnsInnermost(t *testing.T) {
	unittest.SmallTest(t)

	err := Wrapf(Wrapf(sentinel, "inner"), "outer")
	require.Equal(t, sentinel, Unwrap(err))

	plain := fmt.Errorf("not wrapped")
	require.Equal(t, plain, Unwrap(plain))
}
