package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// LocalStore writes previews to a directory, typically under /tmp.
type LocalStore struct {
	BaseDir string
}

// NewLocalStore constructs a store that writes to the provided directory.
// If baseDir is empty, a microstock-previews directory under os.TempDir() is used.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	dir := baseDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "microstock-previews")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &LocalStore{BaseDir: dir}, nil
}

func (l *LocalStore) Put(_ context.Context, input PutInput) (Handle, error) {
	if input.Data == nil {
		return Handle{}, errors.New("preview data is required")
	}

	key := newKey(input.Filename, input.ContentType)
	if err := os.WriteFile(filepath.Join(l.BaseDir, key), input.Data, 0o600); err != nil {
		return Handle{}, fmt.Errorf("write preview file: %w", err)
	}

	return Handle{Key: key, URL: previewURL(key)}, nil
}

func (l *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open preview file: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, "", fmt.Errorf("rewind preview file: %w", err)
		}
	}

	return f, contentType, nil
}

// Release removes the file. A missing file is not an error.
func (l *LocalStore) Release(_ context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove preview file: %w", err)
	}
	return nil
}

// path rejects keys that would escape BaseDir.
func (l *LocalStore) path(key string) (string, error) {
	if key == "" || filepath.Base(key) != key || key == "." || key == ".." {
		return "", ErrNotFound
	}
	return filepath.Join(l.BaseDir, key), nil
}
