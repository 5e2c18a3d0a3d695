package scanner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// AddExternalFile implements addExternalFile: write content to
// a temp file, move it into the watched directory under a unique name,
// trigger an immediate scan, and block until that specific candidate's
// AddStatus is resolved (or ctx is done).
func (s *Scanner) AddExternalFile(ctx context.Context, name string, content []byte) (AddStatus, error) {
	if s.cfg.WatchDir == "" {
		return AddStatusFailed, fmt.Errorf("scanner: watch directory not configured")
	}

	unique := uuid.NewString() + "_" + name
	tmpPath := s.cfg.WatchDir + "/." + unique + ".tmp"
	finalPath := s.cfg.WatchDir + "/" + unique

	if err := afero.WriteFile(s.fs, tmpPath, content, 0o644); err != nil {
		return AddStatusFailed, fmt.Errorf("scanner: write temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, finalPath); err != nil {
		return AddStatusFailed, fmt.Errorf("scanner: move into watch dir: %w", err)
	}

	wait := &pendingCandidate{status: AddStatusPending, done: make(chan struct{})}
	s.pendingMu.Lock()
	s.pending[finalPath] = wait
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, finalPath)
		s.pendingMu.Unlock()
	}()

	s.scanOnce(ctx)

	select {
	case <-wait.done:
		return wait.status, nil
	case <-ctx.Done():
		return AddStatusPending, ctx.Err()
	}
}

// notifyPending resolves an in-flight addExternalFile wait for path, if
// any is registered.
func (s *Scanner) notifyPending(path string, status AddStatus) {
	s.pendingMu.Lock()
	wait, ok := s.pending[path]
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	wait.status = status
	close(wait.done)
}
