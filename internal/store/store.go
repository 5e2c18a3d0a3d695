package store

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/nzbget-go/core/internal/model"
)

// formatVersion is bumped whenever the on-disk record shape changes in a
// way old readers can't tolerate.
const formatVersion = 1

const (
	tagVersion = "V"
	tagNextID  = "N"
	tagJob     = "J"
	tagFile    = "F"
	tagCFile   = "C"
	tagParam   = "P"
	tagScript  = "S"
	tagMessage = "M"
	tagServer  = "SS"
	tagDupInfo = "D"
	tagHistory = "H"
	tagEnd     = "END"
)

// Store persists the Queue and History to a single text-line file plus one
// side file per live File.
type Store struct {
	fs  afero.Fs
	dir string
	log *slog.Logger
}

// New constructs a Store rooted at dir. dir must already exist.
func New(fs afero.Fs, dir string, log *slog.Logger) *Store {
	return &Store{fs: fs, dir: dir, log: log.With("component", "store")}
}

func (s *Store) mainPath() string    { return filepath.Join(s.dir, "queue.dat") }
func (s *Store) dirtyPath() string   { return filepath.Join(s.dir, ".dirty") }
func (s *Store) articlesDir() string { return filepath.Join(s.dir, "articles") }

// MarkDirty drops the crash-detection sentinel before a mutation begins.
func (s *Store) MarkDirty() error {
	f, err := s.fs.Create(s.dirtyPath())
	if err != nil {
		return fmt.Errorf("store: mark dirty: %w", err)
	}
	return f.Close()
}

// MarkClean removes the sentinel after a successful, consistent Save.
func (s *Store) MarkClean() error {
	err := s.fs.Remove(s.dirtyPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: mark clean: %w", err)
	}
	return nil
}

// WasDirty reports whether the sentinel from a previous, uncompleted save
// is still present.
func (s *Store) WasDirty() bool {
	exists, _ := afero.Exists(s.fs, s.dirtyPath())
	return exists
}

// Encoded is a fully serialized point-in-time snapshot of the queue and
// history, produced under the queue lock by Encode and written to disk
// lock-free by WriteEncoded.
type Encoded struct {
	Main     string
	Articles []EncodedArticles
}

// EncodedArticles is one File's serialized article side-file content.
type EncodedArticles struct {
	JobID, FileID int64
	Content       string
}

// Encode serializes the queue, history and next-id generator state. It
// performs no I/O; callers hold whatever lock guards q and h.
func (s *Store) Encode(q *model.Queue, h *model.History, nextID int64) *Encoded {
	var sb stringsBuilder
	sb.writeLine(tagVersion, newLineWriter().i(formatVersion).line())
	sb.writeLine(tagNextID, newLineWriter().i64(nextID).line())

	sb.writeLine(tagJob, newLineWriter().i(len(q.Jobs)).line())
	for _, j := range q.Jobs {
		writeJobRecord(&sb, j)
	}

	sb.writeLine(tagHistory, newLineWriter().i(len(h.Entries)).line())
	for _, e := range h.Entries {
		writeHistoryRecord(&sb, e)
	}
	sb.writeLine(tagEnd, "")

	enc := &Encoded{Main: sb.String()}
	for _, j := range q.Jobs {
		for _, f := range j.Files {
			enc.Articles = append(enc.Articles, EncodedArticles{
				JobID:   j.ID,
				FileID:  f.ID,
				Content: encodeArticles(f.Articles),
			})
		}
	}
	return enc
}

// WriteEncoded commits a previously encoded snapshot to disk,
// atomically. Safe to call without any lock held.
func (s *Store) WriteEncoded(enc *Encoded) error {
	if err := s.MarkDirty(); err != nil {
		return err
	}

	if err := s.atomicWrite(s.mainPath(), enc.Main); err != nil {
		return err
	}

	for _, ea := range enc.Articles {
		if err := s.writeArticleSideFile(ea.JobID, ea.FileID, ea.Content); err != nil {
			return err
		}
	}

	return s.MarkClean()
}

// Save writes the queue, history and next-id generator state to the main
// file and every live File's side file. Callers that cannot hold the queue
// lock across the disk write should Encode under the lock and WriteEncoded
// without it instead.
func (s *Store) Save(q *model.Queue, h *model.History, nextID int64) error {
	return s.WriteEncoded(s.Encode(q, h, nextID))
}

// atomicWrite writes content to a temp file in the same directory as path
// and renames it into place, so a crash mid-write never leaves a truncated
// main file behind.
func (s *Store) atomicWrite(path, content string) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}

// Load reads the main file and every live File's side file back into a
// fresh Queue/History pair, plus the persisted next-id generator watermark.
// If the main file does not exist yet (first run), it returns empty
// structures and no error.
func (s *Store) Load() (*model.Queue, *model.History, int64, error) {
	q := &model.Queue{}
	h := &model.History{}

	f, err := s.fs.Open(s.mainPath())
	if err != nil {
		if os.IsNotExist(err) {
			return q, h, 0, nil
		}
		return nil, nil, 0, fmt.Errorf("store: open main file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var nextID int64
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		tag, rest, _ := strings.Cut(line, "\t")
		switch tag {
		case tagVersion:
			// Nothing to gate on yet; a future version bump would branch here.
		case tagNextID:
			nextID = newLineReader(rest).i64()
		case tagJob:
			count := newLineReader(rest).i()
			for i := 0; i < count; i++ {
				if !sc.Scan() {
					return nil, nil, 0, fmt.Errorf("store: truncated job section")
				}
				j, err := readJobRecord(sc)
				if err != nil {
					return nil, nil, 0, err
				}
				q.Jobs = append(q.Jobs, j)
			}
		case tagHistory:
			count := newLineReader(rest).i()
			for i := 0; i < count; i++ {
				if !sc.Scan() {
					return nil, nil, 0, fmt.Errorf("store: truncated history section")
				}
				e, err := readHistoryRecord(sc)
				if err != nil {
					return nil, nil, 0, err
				}
				h.Entries = append(h.Entries, e)
			}
		case tagEnd:
			// terminator; nothing to do
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, 0, fmt.Errorf("store: scan main file: %w", err)
	}

	for _, j := range q.Jobs {
		for _, file := range j.Files {
			articles, err := s.LoadArticles(j.ID, file.ID)
			if err != nil {
				s.log.Warn("store: could not load article side file, treating as empty", "job", j.ID, "file", file.ID, "err", err)
				continue
			}
			file.Articles = articles
		}
		j.Recompute()
	}

	return q, h, nextID, nil
}

// sectionScanner is the subset of bufio.Scanner the per-record readers use;
// jobs/files/etc. are each a fixed number of lines, consumed with sc.Scan()
// immediately after the line giving their count.
type sectionScanner interface {
	Scan() bool
	Text() string
}

var _ sectionScanner = (*bufio.Scanner)(nil)

func mustUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
