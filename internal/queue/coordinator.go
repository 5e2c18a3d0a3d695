package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/rename"
	"github.com/nzbget-go/core/internal/store"
)

// DupeHook is the subset of the dupe coordinator the queue
// coordinator calls into at add-time and completion-time. Kept as an
// interface, rather than importing internal/dupe directly, because the
// dupe coordinator's own candidate search needs the same *model.Queue and
// *model.History the coordinator already holds — wiring it in as a
// constructor argument here would create an import cycle with no benefit,
// since both packages only need the shared model, not each other's types.
type DupeHook interface {
	// NzbFound runs the nzbFound algorithm against candidate, which is
	// already linked into q.Jobs; it may set candidate.DeleteStatus and
	// mutate other queue/history entries.
	NzbFound(candidate *model.Job)
	// NzbCompleted runs the nzbCompleted/returnBestDupe algorithm for a job
	// that just finished downloading.
	NzbCompleted(job *model.Job)
}

// Config holds the coordinator's scheduling and timeout knobs.
type Config struct {
	MaxActiveDownloads     int
	ForcePriorityThreshold int
	URLTimeout             time.Duration
	MessageLogBuffer       int
	HangCheckInterval      time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxActiveDownloads <= 0 {
		c.MaxActiveDownloads = 8
	}
	if c.URLTimeout <= 0 {
		c.URLTimeout = 60 * time.Second
	}
	if c.HangCheckInterval <= 0 {
		c.HangCheckInterval = time.Second
	}
}

// Coordinator is the single owner of the live Queue and its lock: every
// read and write of queue, history, jobs, files and their counters happens
// while holding its mutex. It implements rename.QueueView and
// rename.Scheduler so the Renamer can re-enter safely from its own
// goroutine.
type Coordinator struct {
	cfg Config
	log *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	queue   *model.Queue
	history *model.History
	ids     *model.IDGenerator

	activeDownloads int
	globalPaused    bool
	stopped         bool

	transport Transport
	writer    OutputWriter
	renamer   *rename.Renamer
	bus       *events.Bus
	flusher   *store.Flusher
	dupe      DupeHook

	finalizeHook  FinalizeHook
	historyEditor HistoryEditor

	lastSortCriterion string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator over the given (already loaded) queue and
// history state. renamer and dupe may be wired in after construction via
// SetRenamer/SetDupeHook if they themselves need a reference back to the
// Coordinator (the common case, since rename.New takes a QueueView).
func New(cfg Config, q *model.Queue, h *model.History, ids *model.IDGenerator, transport Transport, writer OutputWriter, bus *events.Bus, flusher *store.Flusher, log *slog.Logger) *Coordinator {
	cfg.setDefaults()
	c := &Coordinator{
		cfg:       cfg,
		log:       log.With("component", "queue"),
		queue:     q,
		history:   h,
		ids:       ids,
		transport: transport,
		writer:    writer,
		bus:       bus,
		flusher:   flusher,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetRenamer wires in the direct-rename state machine (done post-
// construction since rename.New requires a QueueView, i.e. this Coordinator).
func (c *Coordinator) SetRenamer(r *rename.Renamer) { c.renamer = r }

// SetDupeHook wires in the dupe coordinator, likewise post-construction.
func (c *Coordinator) SetDupeHook(d DupeHook) { c.dupe = d }

// UpdateMaxActiveDownloads changes the scheduler's concurrent-download
// limit live.
func (c *Coordinator) UpdateMaxActiveDownloads(n int) error {
	if n <= 0 {
		return fmt.Errorf("queue: max active downloads must be greater than 0")
	}
	c.mu.Lock()
	c.cfg.MaxActiveDownloads = n
	c.mu.Unlock()
	c.wake()
	return nil
}

// Lock and Unlock satisfy rename.QueueView, letting the async par-loader
// callback re-enter the coordinator safely.
func (c *Coordinator) Lock()   { c.mu.Lock() }
func (c *Coordinator) Unlock() { c.mu.Unlock() }

// GetJob satisfies rename.QueueView: re-resolve a job by id after
// re-acquiring the lock, since the job may have been deleted meanwhile.
func (c *Coordinator) GetJob(id int64) *model.Job {
	return c.queue.Get(id)
}

// UnpauseAndPrioritize satisfies rename.Scheduler: unpause the
// given file and mark it extra-priority so the scheduler fetches it first.
// Called by the Renamer while already holding the lock.
func (c *Coordinator) UnpauseAndPrioritize(jobID, fileID int64) {
	job := c.queue.Get(jobID)
	if job == nil {
		return
	}
	for _, f := range job.Files {
		if f.ID == fileID {
			f.Paused = false
			f.ExtraPriority = true
			return
		}
	}
}

// Start launches the coordinator's background goroutines: the scheduling
// loop and the hanging-download detector.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()
		return // already started
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.stopped = false
	runCtx := c.ctx
	c.mu.Unlock()

	c.wg.Add(2)
	go c.schedulingLoop(runCtx)
	go c.hangCheckLoop(runCtx)
}

// Stop signals every coordinator goroutine to exit and waits for them.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel := c.cancel
	c.cond.Broadcast()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// wake signals the scheduling loop's condition variable; callers must hold c.mu.
func (c *Coordinator) wake() {
	c.cond.Broadcast()
}

// markChanged flags queue-visible state as dirty for the persistence
// flusher. Callers must hold c.mu.
func (c *Coordinator) markChanged() {
	if c.flusher != nil {
		c.flusher.RequestFlush()
	}
}

// NotifyExternalMutation signals the persistence flusher and wakes the
// scheduling loop after a collaborator mutates the shared Queue/History
// directly while holding the lock it acquired via Lock().
// Callers must hold c.mu, exactly like markChanged/wake.
func (c *Coordinator) NotifyExternalMutation() {
	c.markChanged()
	c.wake()
}

// HasMoreJobs reports whether any job still has unfinished download or
// post-processing work.
func (c *Coordinator) HasMoreJobs() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, j := range c.queue.Jobs {
		if !j.IsFinished() || j.DirectRenameStatus == model.DirectRenameStatusRunning {
			return true
		}
	}
	return false
}

// AddNzbToQueue inserts a fully-parsed job at the chosen end of the queue,
// consulting the dupe coordinator first. addFirst places the
// job at the front instead of the back.
func (c *Coordinator) AddNzbToQueue(job *model.Job, urlOrigin string, addFirst bool) *model.Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	if job.ID == 0 {
		job.ID = c.ids.Next()
	}
	if job.Messages == nil {
		job.Messages = model.NewMessageLog(c.cfg.MessageLogBuffer)
	}

	if addFirst {
		c.queue.Jobs = append([]*model.Job{job}, c.queue.Jobs...)
	} else {
		c.queue.Jobs = append(c.queue.Jobs, job)
	}

	if c.dupe != nil {
		c.dupe.NzbFound(job)
	}

	c.bus.Emit(events.Notification{Action: events.NzbFound, JobID: job.ID})
	c.bus.Emit(events.Notification{Action: events.NzbAdded, JobID: job.ID})

	// The dupe coordinator may have just marked job Copy/Dupe/Good/Manual
	//; such a job must never reach the scheduler, so
	// finalize it out of the queue immediately, mirroring
	// the losing-side treatment dupe.resolveQueueDuplicates already gives
	// other queued jobs it displaces.
	if job.DeleteStatus != model.DeleteStatusNone {
		job.Deleting = true
		c.queue.Remove(job.ID)
		if c.finalizeHook != nil {
			c.finalizeHook.ParkJob(job, DeleteFlavorNormal)
		}
		c.bus.Emit(events.Notification{Action: events.NzbDeleted, JobID: job.ID})
		c.markChanged()
		return job
	}

	c.markChanged()
	c.wake()
	return job
}

// DeleteQueueEntry removes a single File from its owning Job, adjusting
// aggregates. If the Job has no Files left afterward, the Job itself is
// not removed here — that is an editor-level group action.
func (c *Coordinator) DeleteQueueEntry(file *model.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteFileLocked(file)
}

// deleteFileLocked is DeleteQueueEntry's body, split out so the editor
// (which already holds c.mu) can call it without deadlocking.
func (c *Coordinator) deleteFileLocked(file *model.File) {
	job := c.queue.Get(file.JobID)
	if job == nil {
		return
	}
	for _, a := range file.Articles {
		if a.Status == model.ArticleStatusRunning {
			c.transport.Cancel(job.ID, file.ID, a.PartNumber)
		}
	}
	for i, f := range job.Files {
		if f.ID == file.ID {
			job.Files = append(job.Files[:i], job.Files[i+1:]...)
			break
		}
	}
	job.Recompute()
	c.markChanged()
	c.wake()
}

// SetQueueEntryCategory renames a job's category.
func (c *Coordinator) SetQueueEntryCategory(job *model.Job, category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job.Category = category
	c.markChanged()
}

// SetQueueEntryName renames a job.
func (c *Coordinator) SetQueueEntryName(job *model.Job, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job.Name = name
	c.markChanged()
}

// MergeQueueEntries appends src's live files onto dst and removes src from
// the queue.
func (c *Coordinator) MergeQueueEntries(dst, src *model.Job) error {
	if dst.ID == src.ID {
		return fmt.Errorf("queue: cannot merge a job into itself")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.mergeQueueEntriesLocked(dst, src)
	if err == nil {
		c.markChanged()
		c.wake()
	}
	return err
}

// SplitQueueEntries moves the given files out of their current job into a
// brand-new job named newName.
func (c *Coordinator) SplitQueueEntries(files []*model.File, newName string) (*model.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, err := c.splitQueueEntriesLocked(files, newName)
	if err == nil {
		c.markChanged()
		c.wake()
	}
	return job, err
}
