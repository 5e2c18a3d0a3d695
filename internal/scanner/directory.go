package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/nzb"
	"github.com/nzbget-go/core/internal/queue"
)

// skipSuffixes are the post-scan marker extensions left on already-handled
// files; encountering one of these means "do not touch again".
var skipSuffixes = []string{".queued", ".error", ".processed"}

// Config holds the scanner's tunable knobs.
type Config struct {
	// WatchDir is the directory tree scanned for incoming NZBs.
	WatchDir string
	// FileAge is nzbDirFileAge: how long a file's size must be stable
	// before it is accepted.
	FileAge time.Duration
	// PollCron schedules the periodic directory walk; 6-field cron syntax
	// with a leading seconds field, or a descriptor such as "@every 10s".
	PollCron string
	// ScanScript, if set, is invoked once per accepted candidate before
	// parsing. It receives the candidate path as its sole argument and
	// may rename the file to "<name>.nzb_processed" to signal it edited
	// the content in place.
	ScanScript string
	// Categories maps a detected subdirectory-derived category name to
	// the post-processing parameters it applies.
	Categories map[string]CategoryParams
	// DefaultParams applies when no subdirectory matches Categories.
	DefaultParams CategoryParams
	// LogBuffer sizes a newly-queued job's message ring.
	LogBuffer int
}

func (c *Config) setDefaults() {
	if c.FileAge < 0 {
		c.FileAge = 5 * time.Second
	}
	if c.PollCron == "" {
		c.PollCron = "*/10 * * * * *" // every 10s
	}
	if c.LogBuffer <= 0 {
		c.LogBuffer = 100
	}
}

// Scanner is the long-lived intake thread that watches the incoming
// directory and feeds the queue coordinator.
type Scanner struct {
	cfg Config
	log *slog.Logger

	fs         afero.Fs
	ids        *model.IDGenerator
	queueCoord *queue.Coordinator

	tracker *stateTracker

	cronSched *cron.Cron
	cronEntry cron.EntryID

	pendingMu sync.Mutex
	pending   map[string]*pendingCandidate
}

// New constructs a Scanner. queueCoord.AddNzbToQueue is the only queue
// entry point it ever calls — a normal, self-locking public method, since
// unlike internal/history the scanner never runs inside an
// already-locked call chain.
func New(cfg Config, fs afero.Fs, ids *model.IDGenerator, queueCoord *queue.Coordinator, log *slog.Logger) *Scanner {
	cfg.setDefaults()
	return &Scanner{
		cfg:        cfg,
		log:        log.With("component", "scanner"),
		fs:         fs,
		ids:        ids,
		queueCoord: queueCoord,
		tracker:    newStateTracker(),
		pending:    make(map[string]*pendingCandidate),
	}
}

// Start launches the periodic directory poll.
func (s *Scanner) Start(ctx context.Context) error {
	if s.cfg.WatchDir == "" {
		return nil // scanning disabled
	}
	s.cronSched = cron.New(cron.WithSeconds())
	id, err := s.cronSched.AddFunc(s.cfg.PollCron, func() { s.scanOnce(ctx) })
	if err != nil {
		return err
	}
	s.cronEntry = id
	s.cronSched.Start()
	s.log.Info("scanner started", "dir", s.cfg.WatchDir, "cron", s.cfg.PollCron)
	return nil
}

// Stop halts the poll schedule.
func (s *Scanner) Stop() {
	if s.cronSched != nil {
		<-s.cronSched.Stop().Done()
	}
}

// Status returns the scanner's current progress snapshot.
func (s *Scanner) Status() Status {
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()
	return s.tracker.status
}

// scanOnce performs one full walk of the watch directory.
func (s *Scanner) scanOnce(ctx context.Context) {
	if s.cfg.WatchDir == "" {
		return
	}

	found, added := 0, 0
	err := afero.Walk(s.fs, s.cfg.WatchDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			s.log.Warn("scan: error accessing path", "path", path, "err", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".nzb") {
			return nil
		}
		if hasSkipSuffix(path) {
			return nil
		}
		found++

		stable, err := s.isStable(path, info)
		if err != nil {
			return nil
		}
		if !stable {
			return nil
		}

		if s.acceptCandidate(ctx, path) {
			added++
		}
		return nil
	})
	if err != nil {
		s.log.Error("scan: walk failed", "dir", s.cfg.WatchDir, "err", err)
	}

	s.tracker.mu.Lock()
	s.tracker.status = Status{LastScan: time.Now(), FilesFound: found, FilesAdded: added}
	s.tracker.mu.Unlock()
}

// hasSkipSuffix reports whether path carries one of the already-handled
// marker extensions.
func hasSkipSuffix(path string) bool {
	lower := strings.ToLower(path)
	for _, suf := range skipSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

// isStable checks a candidate's size-stability record and updates it: a
// file is accepted only once its size has held steady for FileAge.
func (s *Scanner) isStable(path string, info fs.FileInfo) (bool, error) {
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()

	now := time.Now()
	prev, known := s.tracker.files[path]
	size := info.Size()

	if !known || prev.size != size {
		s.tracker.files[path] = fileState{size: size, lastChange: now}
		return false, nil
	}

	return now.Sub(prev.lastChange) >= s.cfg.FileAge, nil
}

// acceptCandidate runs one accepted file through scan-scripts, parsing,
// category post-processing, and finally the queue coordinator, renaming
// the source file along every exit path.
func (s *Scanner) acceptCandidate(ctx context.Context, path string) bool {
	s.tracker.mu.Lock()
	delete(s.tracker.files, path)
	s.tracker.mu.Unlock()

	path = s.runScanScript(ctx, path)

	params := s.categoryParams(path)

	f, err := s.fs.Open(path)
	if err != nil {
		s.markFailed(path, err)
		return false
	}
	parsed, err := nzb.Parse(f, path)
	_ = f.Close()
	if err != nil {
		s.markFailed(path, err)
		s.notifyPending(path, AddStatusFailed)
		return false
	}

	job := nzb.BuildJob(s.ids, parsed, s.cfg.LogBuffer)
	job.Category = params.Category
	job.Priority = params.Priority
	job.DupeMode = params.DupeMode
	job.DupeHint = params.DupeHint
	if params.Paused {
		for _, file := range job.Files {
			file.Paused = true
		}
	}

	s.queueCoord.AddNzbToQueue(job, "", params.AddTop)

	if err := s.renameProcessed(path, ".queued"); err != nil {
		s.log.Warn("scan: failed to rename source to .queued", "path", path, "err", err)
	}
	s.notifyPending(path, AddStatusAdded)
	return true
}

// runScanScript invokes the configured external scan-script, if any, and
// returns the path it should continue with: scan-scripts may rename a file
// to "<name>.nzb_processed" to signal an in-place edit, which the scanner
// re-renames back to "<name>.nzb" before parsing.
func (s *Scanner) runScanScript(ctx context.Context, path string) string {
	if s.cfg.ScanScript == "" {
		return path
	}
	cmd := exec.CommandContext(ctx, s.cfg.ScanScript, path)
	if err := cmd.Run(); err != nil {
		s.log.Warn("scan-script failed", "script", s.cfg.ScanScript, "path", path, "err", err)
		return path
	}

	processed := path + "_processed"
	if exists, _ := afero.Exists(s.fs, processed); exists {
		restored := strings.TrimSuffix(path, filepath.Ext(path)) + ".nzb"
		if err := s.fs.Rename(processed, restored); err != nil {
			s.log.Warn("scan: failed to restore scan-script output", "path", processed, "err", err)
			return processed
		}
		return restored
	}
	return path
}

// categoryParams derives post-processing parameters from path's
// subdirectory chain relative to the watch root, recursing subdirectories
// into (or extending) the inferred category.
func (s *Scanner) categoryParams(path string) CategoryParams {
	rel, err := filepath.Rel(s.cfg.WatchDir, filepath.Dir(path))
	if err != nil || rel == "." {
		return s.cfg.DefaultParams
	}
	category := filepath.ToSlash(rel)
	if params, ok := s.cfg.Categories[category]; ok {
		return params
	}
	// Fall back to the first path segment as the category name.
	if first, _, found := strings.Cut(category, "/"); found {
		if params, ok := s.cfg.Categories[first]; ok {
			return params
		}
	}
	params := s.cfg.DefaultParams
	params.Category = category
	return params
}

// markFailed renames a candidate to its .error marker and records why.
func (s *Scanner) markFailed(path string, cause error) {
	s.log.Warn("scan: rejecting candidate", "path", path, "err", cause)
	if err := s.renameProcessed(path, ".error"); err != nil {
		s.log.Warn("scan: failed to rename source to .error", "path", path, "err", err)
	}
}

func (s *Scanner) renameProcessed(path, suffix string) error {
	return s.fs.Rename(path, path+suffix)
}
