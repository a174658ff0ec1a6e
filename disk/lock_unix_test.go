//go:build unix

package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLocked(t *testing.T) {
	name := filepath.Join(t.TempDir(), "disk.img")
	d, err := Create(name, 1)
	require.NoError(t, err)

	_, err = Open(name)
	assert.Error(t, err, "second open of a locked image must fail")

	require.NoError(t, d.Close())
	d, err = Open(name)
	require.NoError(t, err)
	require.NoError(t, d.Close())
}
