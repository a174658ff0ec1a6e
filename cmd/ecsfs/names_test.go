package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeName(t *testing.T) {
	for _, test := range []struct {
		host, want string
	}{
		{host: "/tmp/notes.txt", want: "notes.txt"},
		{host: "café.md", want: "cafe.md"},
		{host: "Ångström", want: "Angstrom"},
		{host: "dir/emoji😀.txt", want: "emoji_.txt"},
		{host: "a-very-long-host-file-name.txt", want: "a-very-long-hos"},
		{host: "tab\tname", want: "tab_name"},
	} {
		got, err := volumeName(test.host)
		require.NoError(t, err)
		assert.Equal(t, test.want, got, test.host)
	}
}
