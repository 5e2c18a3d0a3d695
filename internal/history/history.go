// Package history implements the history coordinator: parking
// finished/removed jobs into history, aging old entries into DupInfo
// shadows, and the operator-facing redownload/retry/mark edit surface.
//
// The coordinator holds no lock of its own, but unlike the dupe
// coordinator it is not always called from inside queue.Coordinator's
// already-locked methods: EditList forwards the "history." action group to
// Edit before acquiring its own lock (so an operator edit can run
// concurrently with a download), so Edit and the cron-driven serviceWork
// must acquire the queue's lock themselves via queueCoord.Lock()/Unlock().
// ParkJob, by contrast,
// is only ever called from inside queue.Coordinator's own locked methods,
// exactly like the dupe coordinator's hooks, so it stays lock-free.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/historyindex"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/queue"
	"github.com/nzbget-go/core/internal/store"
)

// Config holds the history coordinator's tunable knobs.
type Config struct {
	// KeepHistoryDays is serviceWork's retention window.
	KeepHistoryDays int
	// DupeCheckEnabled controls whether aged-out Nzb/Url entries survive as
	// DupInfo shadows (true) or are discarded outright (false).
	DupeCheckEnabled bool
	// ServiceCron schedules serviceWork; standard 5-field cron syntax.
	ServiceCron string
	// MessageLogBuffer sizes a redownloaded job's message ring.
	MessageLogBuffer int
}

func (c *Config) setDefaults() {
	if c.KeepHistoryDays <= 0 {
		c.KeepHistoryDays = 30
	}
	if c.ServiceCron == "" {
		c.ServiceCron = "0 * * * *" // once an hour
	}
	if c.MessageLogBuffer <= 0 {
		c.MessageLogBuffer = 100
	}
}

// DupeMarker is the subset of the dupe coordinator the history coordinator
// calls back into: forwarding an operator mark, and re-running nzbFound
// against a job moved back onto the live queue. Declared here, rather than
// importing internal/dupe directly, for the same reason internal/queue
// declares DupeHook: this package's own tests don't need the real dupe
// coordinator's candidate-search state.
type DupeMarker interface {
	NzbFound(candidate *model.Job)
	HistoryMark(entry *model.HistoryEntry, mark model.MarkStatus)
	SetMark(entry *model.HistoryEntry, mark model.MarkStatus)
	ApplyMark(entry *model.HistoryEntry, mark model.MarkStatus)
}

// Coordinator implements queue.FinalizeHook, queue.HistoryEditor and (once
// wired via dupe.Coordinator.SetHistoryOps) dupe.HistoryOps.
type Coordinator struct {
	cfg Config
	log *slog.Logger

	queue   *model.Queue
	history *model.History
	ids     *model.IDGenerator

	st    *store.Store
	index *historyindex.Index // optional; nil falls back to no accelerator updates
	fs    afero.Fs
	bus   *events.Bus

	queueCoord *queue.Coordinator // Lock/Unlock only; never call its locking edit/add methods from an already-locked path
	dupe       DupeMarker

	cronSched *cron.Cron
	cronEntry cron.EntryID
}

// New constructs a Coordinator over the live Queue/History. SetQueueCoord
// and SetDupe must be called before Start for normal operation; both may be
// left nil in tests that drive ParkJob/addToHistory directly.
func New(cfg Config, q *model.Queue, h *model.History, ids *model.IDGenerator, st *store.Store, index *historyindex.Index, fs afero.Fs, bus *events.Bus, log *slog.Logger) *Coordinator {
	cfg.setDefaults()
	return &Coordinator{
		cfg:     cfg,
		log:     log.With("component", "history"),
		queue:   q,
		history: h,
		ids:     ids,
		st:      st,
		index:   index,
		fs:      fs,
		bus:     bus,
	}
}

// SetQueueCoord wires in the queue coordinator, used for locking and for
// re-inserting jobs the lock-free way (direct slice mutation, never
// AddNzbToQueue, which would try to re-acquire a lock this package's own
// entry points already hold).
func (c *Coordinator) SetQueueCoord(qc *queue.Coordinator) { c.queueCoord = qc }

// SetDupe wires in the dupe coordinator's NzbFound/HistoryMark.
func (c *Coordinator) SetDupe(d DupeMarker) { c.dupe = d }

// Start launches the hourly serviceWork cron schedule.
func (c *Coordinator) Start() {
	c.cronSched = cron.New()
	id, err := c.cronSched.AddFunc(c.cfg.ServiceCron, c.serviceWork)
	if err != nil {
		c.log.Error("invalid service cron schedule, history aging disabled", "cron", c.cfg.ServiceCron, "err", err)
		return
	}
	c.cronEntry = id
	c.cronSched.Start()
}

// Stop halts the serviceWork schedule.
func (c *Coordinator) Stop() {
	if c.cronSched != nil {
		<-c.cronSched.Stop().Done()
	}
}

// withLock brackets fn with the queue coordinator's lock, per this
// package's locking discipline, and notifies the flusher/scheduler
// afterward (still inside the lock, matching markChanged/wake's
// documented precondition).
func (c *Coordinator) withLock(fn func()) {
	if c.queueCoord == nil {
		fn()
		return
	}
	c.queueCoord.Lock()
	defer c.queueCoord.Unlock()
	fn()
	c.queueCoord.NotifyExternalMutation()
}

// ParkJob implements queue.FinalizeHook. Called from inside
// queue.Coordinator's own locked methods, so it must stay lock-free.
func (c *Coordinator) ParkJob(job *model.Job, flavor queue.DeleteFlavor) {
	if flavor == queue.DeleteFlavorAvoidHistory {
		c.cleanupDisk(job)
		return
	}
	c.addToHistory(job)
}

// addToHistory implements addToHistory: wrap job in a
// HistoryEntry, park its remaining live Files as CompletedFile records,
// decide on disk cleanup, and clear its message log.
func (c *Coordinator) addToHistory(job *model.Job) {
	for _, f := range job.Files {
		status := parkedStatus(f)
		job.RecordCompletion(f)
		job.CompletedFiles = append(job.CompletedFiles, f.ToCompletedFile(status))
	}
	job.Files = nil
	job.Recompute()

	if job.CleanupDisk || shouldCleanupParkedFiles(job) {
		c.cleanupDisk(job)
	}

	job.Messages.Clear()

	entry := &model.HistoryEntry{
		ID:   job.ID,
		Kind: historyKindFor(job),
		Time: time.Now(),
		Job:  job,
	}
	c.history.Entries = append(c.history.Entries, entry)

	if c.index != nil {
		_ = c.index.Upsert(context.Background(), historyindex.SourceHistory, job.ID, job.Name, job.DupeKey,
			job.DupeScore, job.DupeMode, job.FullContentHash, job.FilteredContentHash, entry.IsSuccess())
	}

	c.bus.Emit(events.Notification{Action: events.HistoryItemAdded, JobID: job.ID})
}

// parkedStatus classifies a still-live File being parked into a
// CompletedFile, using the same Success/Partial/Failure rule
// finalizeFile applies to a File that terminated normally: no successful articles at all is a Failure, any failed
// article makes it Partial, otherwise Success.
func parkedStatus(f *model.File) model.CompletedFileStatus {
	if f.SuccessArticles == 0 {
		return model.CompletedFileStatusFailure
	}
	if f.FailedArticles > 0 || !f.IsComplete() {
		return model.CompletedFileStatusPartial
	}
	return model.CompletedFileStatusSuccess
}

// shouldCleanupParkedFiles decides whether a freshly-parked job's files
// should also come off disk:
//	cleanup := ((par ∈ {Success, RepairPossible} ∧ unpack ∉ {Failure, Space, Password})
//	            ∨ (unpack = Success ∧ par ≠ Failure)
//	            ∨ (unpack ≤ Skipped ∧ par ≠ Failure ∧ failedSize − parFailedSize = 0)
//	            ∨ deleteStatus ≠ None) ∧ ¬parking
//	           ∨ unpackCleanedUpDisk
func shouldCleanupParkedFiles(job *model.Job) bool {
	par := job.ParStatus
	unpack := job.UnpackStatus

	parOK := (par == model.ParStatusSuccess || par == model.ParStatusRepairPossible) &&
		unpack != model.UnpackStatusFailure && unpack != model.UnpackStatusSpace && unpack != model.UnpackStatusPassword
	unpackOK := unpack == model.UnpackStatusSuccess && par != model.ParStatusFailure
	noFailures := unpack <= model.UnpackStatusSkipped && par != model.ParStatusFailure &&
		job.FailedSize-job.ParFailedSize == 0
	deleted := job.DeleteStatus != model.DeleteStatusNone

	cleanup := (parOK || unpackOK || noFailures || deleted) && !job.Parking

	return cleanup || job.UnpackCleanedUpDisk
}

// cleanupDisk removes a parked job's destination directory and the stale
// per-file article side files its CompletedFiles leave behind.
func (c *Coordinator) cleanupDisk(job *model.Job) {
	if job.DestDir != "" {
		if err := c.fs.RemoveAll(job.DestDir); err != nil {
			c.log.Warn("failed to remove parked job's destination directory", "job", job.ID, "dir", job.DestDir, "err", err)
		}
	}
	if c.st != nil {
		for _, cf := range job.CompletedFiles {
			if err := c.st.SaveArticles(job.ID, cf.ID, nil); err != nil {
				c.log.Warn("failed to remove stale article side file", "job", job.ID, "file", cf.ID, "err", err)
			}
		}
	}
}

// historyKindFor classifies a freshly-parked Job for its HistoryEntry.
func historyKindFor(job *model.Job) model.HistoryEntryKind {
	if job.Kind == model.JobKindURL {
		return model.HistoryKindURL
	}
	return model.HistoryKindNzb
}
