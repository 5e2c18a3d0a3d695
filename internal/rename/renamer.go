package rename

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"

	"github.com/spf13/afero"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/par2"
)

// Scheduler is the subset of queue-coordinator behavior the direct-rename
// state machine needs: the ability to bias article dispatch toward a
// specific par file once its content is wanted for a DirectParLoader pass.
type Scheduler interface {
	UnpauseAndPrioritize(jobID, fileID int64)
}

// QueueView is the minimal read/lock surface the asynchronous par-loader
// callback needs to safely re-enter the queue once the background PAR2
// parse finishes.
type QueueView interface {
	Lock()
	Unlock()
	GetJob(id int64) *model.Job
}

// HashEntry is one parsed PAR2 FileDesc record reduced to what the renamer
// needs: the original (obfuscated-source) filename and its 16 KiB hash.
type HashEntry struct {
	Filename string
	Hash16k  [16]byte
}

// Renamer drives the direct-rename state machine for every job that opts
// in. One Renamer instance is shared by the whole queue.
type Renamer struct {
	queue     QueueView
	scheduler Scheduler
	bus       *events.Bus
	fs        afero.Fs
	log       *slog.Logger

	// loadPars parses the given on-disk PAR2 files into HashEntry records.
	// Extracted as a field (rather than a free function call) so tests can
	// substitute a fake without touching the filesystem.
	loadPars func(ctx context.Context, paths []string) ([]HashEntry, error)

	// launch runs fn in its own goroutine. Defaults to a bare `go fn()`;
	// overridable so tests can run it synchronously.
	launch func(fn func())
}

// New constructs a Renamer. The afero filesystem and a component-scoped
// logger are passed in explicitly rather than reached for as globals.
func New(queue QueueView, scheduler Scheduler, bus *events.Bus, fs afero.Fs, log *slog.Logger) *Renamer {
	r := &Renamer{
		queue:     queue,
		scheduler: scheduler,
		bus:       bus,
		fs:        fs,
		log:       log.With("component", "rename"),
	}
	r.loadPars = r.loadParFiles
	r.launch = func(fn func()) { go fn() }
	return r
}

// OnArticleFingerprint records a per-article Fingerprint against the owning
// File's first-article hash slots, applying the reliability rule
// before trusting it: a partial first article shorter than the 16 KiB
// window can only be trusted when the file has exactly one article. Called by the queue coordinator immediately after an
// article's analyzer finishes, for the file's first article only.
func (r *Renamer) OnArticleFingerprint(f *model.File, fp Fingerprint, rawArticleSize int64) {
	if f.HasHash {
		return
	}
	if !FingerprintIsReliable(rawArticleSize, f.TotalArticles) {
		return
	}
	f.Hash16k = fp.Hash16k
	f.HasHash = true
	if fp.ParFile {
		f.ParFile = true
		f.ParSetID = fp.SetID
		f.HasSetID = fp.HasSetID
	}
}

// CheckState advances the direct-rename state machine for job by however
// many transitions are currently ready. Called by the queue coordinator under its
// lock, after any event that could unblock a transition (an article
// fingerprint lands, a par file finishes downloading).
func (r *Renamer) CheckState(job *model.Job) {
	if job.DirectRenameStatus == model.DirectRenameStatusSuccess ||
		job.DirectRenameStatus == model.DirectRenameStatusFailure {
		return
	}

	if !r.allFingerprintsReady(job) {
		return
	}
	job.DirectRenameStatus = model.DirectRenameStatusRunning

	if !job.WaitingPar {
		// Fall through rather than return: if every par file has already
		// completed there will be no further article completion to advance
		// the machine, so the loader must be able to start on this same call.
		r.beginWaitingPar(job)
	}

	if r.hasOutstandingExtraPriorityPar(job) {
		return
	}

	if !job.LoadingPar {
		r.beginLoadingPar(job)
	}
}

// allFingerprintsReady reports whether every fingerprint that can still
// arrive has arrived: a live File missing its hash16k (or setid, for par
// files) blocks readiness while its first article is in flight or still
// schedulable. A CompletedFile can never gain a fingerprint, so it is
// never waited on.
func (r *Renamer) allFingerprintsReady(job *model.Job) bool {
	for _, f := range job.Files {
		if !f.NeedsFirstArticleFingerprint() {
			continue
		}
		first := f.FirstArticle()
		if first == nil {
			continue
		}
		switch first.Status {
		case model.ArticleStatusRunning:
			return false
		case model.ArticleStatusUndefined:
			if !f.Deleted && !f.Paused {
				return false
			}
		}
	}
	return true
}

// beginWaitingPar picks the smallest not-yet-complete file in each par-set
// and boosts it to the front of the download queue so the par content
// needed for the hash-to-name lookup arrives first.
func (r *Renamer) beginWaitingPar(job *model.Job) {
	job.WaitingPar = true

	bySet := make(map[[16]byte][]*model.File)
	for _, f := range job.Files {
		if f.ParFile && f.HasSetID && !f.IsComplete() {
			bySet[f.ParSetID] = append(bySet[f.ParSetID], f)
		}
	}

	for _, members := range bySet {
		sort.Slice(members, func(i, j int) bool { return members[i].Size < members[j].Size })
		smallest := members[0]
		smallest.ExtraPriority = true
		r.scheduler.UnpauseAndPrioritize(job.ID, smallest.ID)
	}
}

// hasOutstandingExtraPriorityPar reports whether any par file boosted by
// beginWaitingPar is still downloading.
func (r *Renamer) hasOutstandingExtraPriorityPar(job *model.Job) bool {
	for _, f := range job.Files {
		if f.ExtraPriority && f.ParFile && !f.IsComplete() {
			return true
		}
	}
	return false
}

// beginLoadingPar launches the background PAR2 parse of every completed par
// file belonging to job, off the queue lock, and arranges for the result to
// be applied back through RenameFiles once it lands.
func (r *Renamer) beginLoadingPar(job *model.Job) {
	job.LoadingPar = true
	jobID := job.ID

	// Only CompletedFiles are collected: a live File that just terminated
	// is finalized (and its output written to disk) before CheckState runs,
	// so every completed par file is a CompletedFile by the time the loader
	// can start.
	var paths []string
	for _, c := range job.CompletedFiles {
		if c.ParFile {
			paths = append(paths, filepath.Join(job.DestDir, c.Filename))
		}
	}

	r.launch(func() {
		entries, err := r.loadPars(context.Background(), paths)

		r.queue.Lock()
		defer r.queue.Unlock()

		j := r.queue.GetJob(jobID)
		if j == nil {
			return // job was deleted while the parse ran
		}
		r.RenameFiles(j, entries, err)
	})
}

// loadParFiles is the default loadPars implementation: parse FileDesc
// packets out of every given path and reduce them to HashEntry records.
func (r *Renamer) loadParFiles(ctx context.Context, paths []string) ([]HashEntry, error) {
	var out []HashEntry
	for _, p := range paths {
		f, err := r.fs.Open(p)
		if err != nil {
			r.log.Warn("direct rename: could not open par file", "path", p, "err", err)
			continue
		}
		descs, err := par2.ReadFileDescriptors(f, 0)
		f.Close()
		if err != nil {
			r.log.Warn("direct rename: could not parse par file", "path", p, "err", err)
			continue
		}
		for _, d := range descs {
			var h HashEntry
			h.Filename = d.Name
			h.Hash16k = d.Hash16k
			out = append(out, h)
		}
	}
	if len(out) == 0 && len(paths) > 0 {
		return nil, fmt.Errorf("rename: no file descriptors recovered from %d par file(s)", len(paths))
	}
	return out, nil
}

// RenameFiles applies the hash-to-name table recovered from the job's par
// files to every live File and CompletedFile, then records the
// outcome. Called under the queue lock, either synchronously (if
// everything was already resolved) or from the async par-loader callback.
func (r *Renamer) RenameFiles(job *model.Job, entries []HashEntry, loadErr error) {
	if loadErr != nil {
		job.DirectRenameStatus = model.DirectRenameStatusFailure
		job.Messages.Add(model.MessageWarning, fmt.Sprintf("direct rename: failed to load par2 data: %v", loadErr))
		r.bus.Emit(events.Notification{Action: events.RenameCompleted, JobID: job.ID})
		return
	}

	byHash := make(map[[16]byte]string, len(entries))
	for _, e := range entries {
		byHash[e.Hash16k] = e.Filename
	}

	needParRename := r.needRenamePars(job)
	renamedAny := false

	for _, f := range job.Files {
		if r.renameOne(job, f.Filename, f.HasHash, f.Hash16k, f.ParFile, f.HasSetID, f.ParSetID,
			needParRename, byHash, func(newName string) { f.Filename = newName }) {
			renamedAny = true
		}
	}
	for _, c := range job.CompletedFiles {
		if r.renameOne(job, c.Filename, c.HasHash, c.Hash16k, c.ParFile, c.HasSetID, c.ParSetID,
			needParRename, byHash, func(newName string) { r.renameOnDisk(job, c, newName) }) {
			renamedAny = true
		}
	}

	job.DirectRenameStatus = model.DirectRenameStatusSuccess
	if renamedAny {
		job.Messages.Add(model.MessageInfo, "renamed files from par2 index data")
	}
	r.bus.Emit(events.Notification{Action: events.RenameCompleted, JobID: job.ID})
}

// renameOne resolves a single file's new name (par-set convention fix or
// hash16k lookup) and applies it through apply. Returns whether a rename
// happened.
func (r *Renamer) renameOne(
	job *model.Job,
	currentName string,
	hasHash bool,
	hash16k [16]byte,
	isPar, hasSetID bool,
	setID [16]byte,
	needParRename bool,
	byHash map[[16]byte]string,
	apply func(newName string),
) bool {
	if isPar {
		if !needParRename {
			return false
		}
		newName := parVolumeName(currentName, setID)
		if newName == "" || strings.EqualFold(newName, currentName) {
			return false
		}
		apply(newName)
		return true
	}

	if !hasHash {
		return false
	}
	newName, ok := byHash[hash16k]
	if !ok || strings.EqualFold(newName, currentName) {
		return false
	}
	apply(newName)
	return true
}

// renameOnDisk moves an already-completed file's on-disk name, skipping the
// rename (rather than failing the job) if the destination is already taken.
func (r *Renamer) renameOnDisk(job *model.Job, c *model.CompletedFile, newName string) {
	oldPath := filepath.Join(job.DestDir, c.Filename)
	newPath := filepath.Join(job.DestDir, newName)
	if exists, _ := afero.Exists(r.fs, newPath); exists {
		r.log.Warn("direct rename: target name already exists, skipping", "job", job.ID, "name", newName)
		return
	}
	if err := r.fs.Rename(oldPath, newPath); err != nil {
		r.log.Warn("direct rename: rename failed", "job", job.ID, "err", err)
		return
	}
	c.Filename = newName
}

// needRenamePars reports whether the job's par files use an inconsistent or
// non-standard naming convention that must be normalized before the par
// checker can locate the whole set by filename pattern.
func (r *Renamer) needRenamePars(job *model.Job) bool {
	var bases []string
	collect := func(name string, isPar bool) bool {
		if !isPar {
			return false
		}
		if !strings.EqualFold(filepath.Ext(name), ".par2") {
			return true
		}
		bases = append(bases, parBaseName(name))
		return false
	}
	for _, f := range job.Files {
		if collect(f.Filename, f.ParFile) {
			return true
		}
	}
	for _, c := range job.CompletedFiles {
		if collect(c.Filename, c.ParFile) {
			return true
		}
	}
	if len(bases) < 2 {
		return false
	}
	first := strings.ToLower(bases[0])
	for _, b := range bases[1:] {
		if !strings.EqualFold(b, first) {
			return true
		}
	}
	return false
}

// parBaseName strips a ".volNNN+NNN" infix and the extension to recover the
// set's base name for convention comparison.
func parBaseName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if idx := strings.Index(strings.ToLower(base), ".vol"); idx >= 0 {
		base = base[:idx]
	}
	return base
}

// parVolumeName synthesizes a normalized par-set member name, preserving a
// ".volNNN+NNN" infix if the source name already has one.
func parVolumeName(currentName string, setID [16]byte) string {
	lower := strings.ToLower(currentName)
	idx := strings.Index(lower, ".vol")
	setName := fmt.Sprintf("%x", setID[:8])
	if idx >= 0 {
		return setName + currentName[idx:]
	}
	return setName + ".par2"
}
