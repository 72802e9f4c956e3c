package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Handle owns the artifact file for exactly one pipeline run. Temporary
// artifacts are deleted on Close regardless of which stage failed;
// caller-supplied artifacts are never deleted.
type Handle struct {
	path  string
	owned bool

	closeOnce sync.Once
	closeErr  error
}

// NewTemp reserves a uniquely named artifact path under the OS temp
// directory. The file itself is written by the container builder.
func NewTemp() *Handle {
	name := fmt.Sprintf("pbideploy-%s.pbix", uuid.NewString())
	return &Handle{path: filepath.Join(os.TempDir(), name), owned: true}
}

// FromFile wraps a pre-built artifact supplied by the caller.
func FromFile(path string) (*Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("artifact %s is a directory", path)
	}
	return &Handle{path: path}, nil
}

// Path returns the artifact's location on disk.
func (h *Handle) Path() string { return h.path }

// Owned reports whether Close will delete the file.
func (h *Handle) Owned() bool { return h.owned }

// Open returns a fresh reader over the artifact along with its size. Each
// upload attempt needs its own reader positioned at the start.
func (h *Handle) Open() (*os.File, int64, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return nil, 0, fmt.Errorf("open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat artifact: %w", err)
	}
	return f, info.Size(), nil
}

// Close deletes owned artifacts. It is safe to call on every exit path; the
// deletion happens at most once and a missing file is not an error.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if !h.owned {
			return
		}
		if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.closeErr = fmt.Errorf("remove artifact: %w", err)
		}
	})
	return h.closeErr
}
