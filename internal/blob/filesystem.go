package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore keeps attachment content under a local directory. Writes
// go through a temp file and rename so readers never see partial content.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "./data/blobs"
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &FilesystemStore{root: root}, nil
}

func (fs *FilesystemStore) Put(_ context.Context, key, _ string, body []byte) error {
	clean, err := normalizeKey(key)
	if err != nil {
		return err
	}
	dst := filepath.Join(fs.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, body, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (fs *FilesystemStore) Get(_ context.Context, key string) ([]byte, error) {
	clean, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(fs.root, filepath.FromSlash(clean)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return data, err
}

func (fs *FilesystemStore) Delete(_ context.Context, key string) error {
	clean, err := normalizeKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(fs.root, filepath.FromSlash(clean)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
