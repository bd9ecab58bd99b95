package util

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stable-delusion/imagestore/go/testutils/unittest"
)

func TestBytesToHuman(t *testing.T) {
	unittest.SmallTest(t)

	require.Equal(t, "0 B", BytesToHuman(0))
	require.Equal(t, "512 B", BytesToHuman(512))
	require.Equal(t, "1.0 KiB", BytesToHuman(1024))
	require.Equal(t, "6.8 MiB", BytesToHuman(7130317))
	require.Equal(t, "2.0 GiB", BytesToHuman(2<<30))
}
