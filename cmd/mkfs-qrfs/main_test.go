package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/volume"
)

func runMkfs(t *testing.T, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"mkfs-qrfs"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCapacityRejected(t *testing.T) {
	for _, arg := range []string{"--blocks=129", "--inodes=129", "--blocksize=256", "--blocksize=100000"} {
		folder := filepath.Join(t.TempDir(), "vol")
		code, _, stderr := runMkfs(t, arg, folder)
		assert.Equal(t, 2, code, arg)
		assert.Contains(t, stderr, "capacity", arg)
		_, err := os.Stat(folder)
		assert.True(t, os.IsNotExist(err), "%s created %s", arg, folder)
	}
}

func TestUsage(t *testing.T) {
	code, _, _ := runMkfs(t)
	assert.Equal(t, 2, code)
	code, _, _ = runMkfs(t, "a", "b")
	assert.Equal(t, 2, code)
	code, _, _ = runMkfs(t, "--blocks=lots", t.TempDir())
	assert.Equal(t, 2, code)
}

func TestNoDataRegion(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "vol")
	code, _, stderr := runMkfs(t, "--blocks=4", "--inodes=4", folder)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "data region")
}

func TestFormat(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "vol")
	code, stdout, _ := runMkfs(t, "--blocks=10", "--inodes=4", "--blocksize=1024", folder)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "QRFS created in '"+folder+"'")
	assert.Contains(t, stdout, "data_region_start: 4")

	for i := common.Bnum(0); i < 10; i++ {
		st, err := os.Stat(filepath.Join(folder, common.BlockName(i)))
		require.NoError(t, err)
		assert.Equal(t, int64(1024), st.Size())
	}
	_, err := os.Stat(filepath.Join(folder, common.BlockName(10)))
	assert.True(t, os.IsNotExist(err))

	v, err := volume.OpenPath(folder)
	require.NoError(t, err)
	defer v.Close()
	sb := v.Superblock()
	assert.Equal(t, uint32(4), sb.DataRegionStart)
	root, err := v.Attributes(v.Root())
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, uint32(2), root.Links)
	assert.Equal(t, uint32(520), root.Size)
	assert.Equal(t, common.Bnum(4), root.Direct[0])
}

func TestFormatStaged(t *testing.T) {
	parent := t.TempDir()
	folder := filepath.Join(parent, "vol")
	code, _, stderr := runMkfs(t, "--staged", "--sync", "--blocks=20", "--blocksize=512", folder)
	require.Equal(t, 0, code, stderr)

	ents, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, ents, 1, "staging folder left behind")
	assert.Equal(t, "vol", ents[0].Name())

	v, err := volume.OpenPath(folder)
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, uint32(20), v.Superblock().TotalBlocks)
	ls, err := v.ListDirectory(v.Root())
	require.NoError(t, err)
	assert.Len(t, ls, 2)
}
