// Package workspace allocates private scratch directories for grading attempts.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	appErr "codegrader/pkg/errors"
	"codegrader/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	inputFile  = "input.txt"
	outputFile = "output.txt"
	errorFile  = "error.txt"

	dirPerm  fs.FileMode = 0o750
	filePerm fs.FileMode = 0o640

	maxAcquireAttempts = 8
)

// Workspace is one attempt's scratch directory. All artifacts live directly under Dir.
type Workspace struct {
	id   string
	dir  string
	once sync.Once
}

func (w *Workspace) ID() string { return w.id }

func (w *Workspace) Dir() string { return w.dir }

// Path returns the absolute path of an artifact. name must be a bare file name.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

func (w *Workspace) SourcePath(name string) string { return w.Path(name) }

func (w *Workspace) ArtifactPath(name string) string { return w.Path(name) }

func (w *Workspace) InputPath() string { return w.Path(inputFile) }

func (w *Workspace) OutputPath() string { return w.Path(outputFile) }

func (w *Workspace) ErrorPath() string { return w.Path(errorFile) }

// WriteFile writes an artifact, replacing any previous content.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path := w.Path(name)
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return "", appErr.Wrapf(err, appErr.WorkspaceError, "write %s failed", filepath.Base(name))
	}
	return path, nil
}

// WriteSource stores the submission under its language file name.
func (w *Workspace) WriteSource(name, source string) (string, error) {
	return w.WriteFile(name, []byte(source))
}

// WriteInput replaces the input artifact with the given test input.
func (w *Workspace) WriteInput(input string) (string, error) {
	return w.WriteFile(inputFile, []byte(input))
}

// Manager creates and removes workspaces under one root directory.
type Manager struct {
	root  string
	newID func() string
}

// NewManager prepares root and returns a manager.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, appErr.ValidationError("workspace_root", "required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "resolve workspace root failed")
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace root failed")
	}
	return &Manager{root: abs, newID: uuid.NewString}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

// Acquire allocates a fresh directory. The path is created with Mkdir, so an
// existing directory is never reused. Callers must defer Release.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, appErr.Wrapf(err, appErr.WorkspaceError, "acquire workspace canceled")
		}
		id := m.newID()
		dir := filepath.Join(m.root, id)
		err := os.Mkdir(dir, dirPerm)
		if err == nil {
			logger.Debug(ctx, "workspace acquired", zap.String("workspace_id", id))
			return &Workspace{id: id, dir: dir}, nil
		}
		if errors.Is(err, fs.ErrExist) {
			logger.Warn(ctx, "workspace id collision", zap.String("workspace_id", id))
			continue
		}
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace failed")
	}
	return nil, appErr.New(appErr.WorkspaceError).WithMessage(fmt.Sprintf("no free workspace id after %d attempts", maxAcquireAttempts))
}

// Release removes every artifact of ws. It is safe to call more than once and
// with a nil workspace. Errors are logged and never returned.
func (m *Manager) Release(ctx context.Context, ws *Workspace) {
	if ws == nil {
		return
	}
	ws.once.Do(func() {
		if err := os.RemoveAll(ws.dir); err != nil {
			logger.Error(ctx, "workspace cleanup failed",
				zap.String("workspace_id", ws.id),
				zap.Error(err),
			)
			return
		}
		logger.Debug(ctx, "workspace released", zap.String("workspace_id", ws.id))
	})
}
