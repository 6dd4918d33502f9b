package state

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileBackend is a PersistenceBackend that stores each key as a file under a
// root directory. Save is atomic: it writes to a temp file in the same
// directory, then renames it over the destination, so a reader never
// observes a partially written file and a crash mid-write leaves the
// previous version (or nothing) rather than a truncated one.
type FileBackend struct {
	root string
}

// NewFileBackend creates a FileBackend rooted at dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{root: dir}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *FileBackend) Save(_ context.Context, key string, data []byte) error {
	dest := b.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, dest)
}

func (b *FileBackend) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.path(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *FileBackend) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	root := b.path(prefix)

	// Walk the root directory and match relative paths against the prefix,
	// since the prefix may name a partial filename rather than a directory.
	walkRoot := b.root
	err := filepath.Walk(walkRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasPrefix(path, root) || strings.HasPrefix(path, walkRoot+string(filepath.Separator)+prefix) {
			rel, relErr := filepath.Rel(walkRoot, path)
			if relErr == nil && strings.HasPrefix(filepath.ToSlash(rel), prefix) {
				keys = append(keys, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

func (b *FileBackend) Close(_ context.Context) error { return nil }
