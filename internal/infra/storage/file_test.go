package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePut(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := FileStore{Dir: dir}

	got, err := s.Put(context.Background(), ExportKey("exports", "abc"), []byte(`{"A":{}}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exports", "abc", ExportFileName), got)

	b, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, `{"A":{}}`, string(b))
}

func TestFileStorePutRejectsTraversal(t *testing.T) {
	t.Parallel()

	s := FileStore{Dir: t.TempDir()}
	_, err := s.Put(context.Background(), "../outside.json", []byte("{}"))
	require.Error(t, err)
}
