package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/BaSui01/visionflow/types"
)

// Target locates one element on the live page. Point targeting uses the
// bounding box detected by vision analysis; when no box is available the
// driver falls back to matching the label against visible text.
type Target struct {
	ElementID string
	Kind      types.ElementType
	Label     string
	Point     *types.Box
}

// Driver is the minimal browser surface the executor needs. The chromedp
// implementation lives in this package; tests substitute a fake.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, target Target) error
	Fill(ctx context.Context, target Target, value string) error
	Select(ctx context.Context, target Target, value string) error
	ReadText(ctx context.Context, target Target) (string, error)
	PageText(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, target Target) error
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Factory opens a fresh browser session per run. Each session is owned by
// exactly one run and must be closed by the caller.
type Factory interface {
	Open(ctx context.Context) (Driver, error)
}

// SnapshotStore 保存终态截图并返回一个可对外引用的标识。
type SnapshotStore interface {
	Save(ctx context.Context, data []byte) (string, error)
}

// FileSnapshotStore writes snapshots to a local directory, one PNG per
// run, named by a fresh UUID. The returned reference is the file path.
type FileSnapshotStore struct {
	dir string
}

// NewFileSnapshotStore creates a store rooted at dir. The directory is
// created on first save.
func NewFileSnapshotStore(dir string) *FileSnapshotStore {
	return &FileSnapshotStore{dir: dir}
}

// Save writes the snapshot and returns its path.
func (s *FileSnapshotStore) Save(_ context.Context, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(s.dir, uuid.NewString()+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}
