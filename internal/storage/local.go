package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tempPrefix = ".tmp-"

// LocalStorage keeps archives in a directory tree. Writes go to a temporary
// file that is renamed into place, so readers never see partial archives.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: filepath.Clean(basePath),
	}, nil
}

func (l *LocalStorage) fullPath(op, path string) (string, error) {
	full := filepath.Join(l.basePath, filepath.FromSlash(path))
	rel, err := filepath.Rel(l.basePath, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &StorageError{Op: op, Path: path, Err: ErrInvalidPath}
	}
	return full, nil
}

func (l *LocalStorage) Write(ctx context.Context, path string, reader io.Reader) error {
	fullPath, err := l.fullPath("write", path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Op: "write", Path: path, Err: err}
	}

	return nil
}

func (l *LocalStorage) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := l.fullPath("read", path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("read", path)
		}
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}

	return f, nil
}

func (l *LocalStorage) Delete(ctx context.Context, path string) error {
	fullPath, err := l.fullPath("delete", path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &StorageError{Op: "delete", Path: path, Err: err}
	}

	return nil
}

// List returns files under the root whose slash-separated relative path
// starts with prefix, newest first.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !strings.HasPrefix(rel, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, FileInfo{
			Path:         rel,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})

		return nil
	})

	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, &StorageError{Op: "list", Path: prefix, Err: err}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].LastModified.After(files[j].LastModified)
	})

	return files, nil
}

func (l *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := l.fullPath("exists", path)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StorageError{Op: "exists", Path: path, Err: err}
	}

	return true, nil
}

func (l *LocalStorage) Size(ctx context.Context, path string) (int64, error) {
	fullPath, err := l.fullPath("size", path)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, notFound("size", path)
		}
		return 0, &StorageError{Op: "size", Path: path, Err: err}
	}

	return info.Size(), nil
}
