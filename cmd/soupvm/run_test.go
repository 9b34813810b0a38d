package main

import (
	"os"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

func TestImageReaderPassesPlainFilesThrough(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "image-*.soup")
	require.NoError(t, err)
	defer f.Close()

	r := imageReader(f, f.Name(), false)
	require.Same(t, f, r)
}

func TestImageReaderWrapsLZ4BySuffix(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "image-*.soup.lz4")
	require.NoError(t, err)
	defer f.Close()

	r := imageReader(f, f.Name(), false)
	_, ok := r.(*lz4.Reader)
	require.True(t, ok)
}

func TestImageReaderWrapsLZ4WhenForced(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "image-*.soup")
	require.NoError(t, err)
	defer f.Close()

	r := imageReader(f, f.Name(), true)
	_, ok := r.(*lz4.Reader)
	require.True(t, ok)
}
