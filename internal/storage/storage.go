// Package storage keeps uploaded video files until the upload pipeline
// streams them to the platform.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// Store saves and opens video files. Refs returned by Save are opaque to
// callers and are stored as the video's file path.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, ref string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectName returns a collision free, filesystem safe name for name
func objectName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "video"
	}
	return uuid.NewString()[:8] + "-" + base
}

// Local stores files in a directory
type Local struct {
	dir string
}

// NewLocal creates a Local store rooted at dir, creating it if needed
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload folder: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload folder: %w", err)
	}
	return &Local{dir: abs}, nil
}

func (l *Local) Save(_ context.Context, name string, r io.Reader) (string, error) {
	path := filepath.Join(l.dir, objectName(name))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

func (l *Local) Open(_ context.Context, ref string) (io.ReadCloser, int64, error) {
	return openFile(ref)
}

func (l *Local) Delete(_ context.Context, ref string) error {
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func openFile(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, domain.NotFoundf("file %s not found", path)
		}
		return nil, 0, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if st.IsDir() {
		f.Close()
		return nil, 0, domain.Validationf("%s is a directory", path)
	}
	return f, st.Size(), nil
}
