package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes exports below a local directory. Used when no object
// storage is configured.
type FileStore struct {
	Dir string
}

func (s FileStore) Put(_ context.Context, key string, data []byte) (string, error) {
	dest := filepath.Join(s.Dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.Dir, dest)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("export key %q escapes %s", key, s.Dir)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, data, 0o640); err != nil {
		return "", err
	}
	return dest, nil
}
