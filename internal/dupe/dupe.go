// Package dupe implements the dupe coordinator: the
// nzbFound/nzbCompleted/historyMark algorithms that decide whether a
// candidate job is a duplicate of something already queued or downloaded,
// and which history entry (if any) should be promoted back to the queue
// once a download turns out not to have succeeded.
//
// The Coordinator holds no lock of its own: NzbFound and NzbCompleted are
// called by internal/queue's Coordinator while its own queue mutex is
// already held, so every mutation here is a direct read/write of
// the shared *model.Queue/*model.History, never a call back through a
// locking API.
package dupe

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nzbget-go/core/internal/historyindex"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/queue"
)

// Config holds the dupe coordinator's one tunable knob.
type Config struct {
	// HashCacheSize bounds the in-memory content-hash -> job-id cache used
	// by the queue-resident identical-content check (step 1). Stale
	// entries (pointing at a job-id no longer in the queue) are detected
	// and evicted lazily on next lookup, so sizing this generously costs
	// only memory, never correctness.
	HashCacheSize int
}

func (c *Config) setDefaults() {
	if c.HashCacheSize <= 0 {
		c.HashCacheSize = 512
	}
}

// HistoryOps is the subset of the history coordinator the dupe
// coordinator calls into for actions that require re-parsing a saved NZB
// file or rewriting a history entry's on-disk representation — both out of
// scope for this package. Declared here, rather than importing
// internal/history directly, because internal/history's editList forwards
// markBad/markGood/markSuccess actions to HistoryMark below, which would
// otherwise create an import cycle.
type HistoryOps interface {
	// Redownload re-parses entry's saved NZB and moves it back to the
	// queue with the given redownload hint.
	Redownload(entry *model.HistoryEntry, hint model.DupeHint, restorePauseState bool) bool
	// Hide replaces entry with its DupInfo shadow.
	Hide(entry *model.HistoryEntry) bool
}

// Coordinator implements queue.DupeHook. A bounded LRU cache of
// content-hash -> job-id entries fronts the otherwise-linear
// identical-content scan of the live queue.
type Coordinator struct {
	cfg Config
	log *slog.Logger

	queue   *model.Queue
	history *model.History
	index   *historyindex.Index // optional; nil falls back to a linear scan

	hashCache *lru.Cache[string, int64]

	finalizeHook queue.FinalizeHook
	historyOps   HistoryOps
}

// New constructs a Coordinator over the live Queue and History. index may
// be nil (tests, or a deployment that hasn't finished its startup rebuild
// yet); every index lookup has a correctness-preserving scan fallback.
func New(cfg Config, q *model.Queue, h *model.History, index *historyindex.Index, log *slog.Logger) *Coordinator {
	cfg.setDefaults()
	cache, _ := lru.New[string, int64](cfg.HashCacheSize)
	return &Coordinator{
		cfg:       cfg,
		log:       log.With("component", "dupe"),
		queue:     q,
		history:   h,
		index:     index,
		hashCache: cache,
	}
}

// SetFinalizeHook wires in the history coordinator's ParkJob, used by step 6
// to move a losing queued duplicate straight to history.
func (d *Coordinator) SetFinalizeHook(h queue.FinalizeHook) { d.finalizeHook = h }

// SetHistoryOps wires in the history coordinator's Redownload/Hide.
func (d *Coordinator) SetHistoryOps(h HistoryOps) { d.historyOps = h }

// NzbFound runs the add-time dupe algorithm against candidate, which is
// already linked into the queue.
func (d *Coordinator) NzbFound(candidate *model.Job) {
	ctx := context.Background()

	if d.identicalInQueue(candidate) != nil {
		d.markIdenticalCopy(candidate)
		return
	}
	if d.identicalInHistory(ctx, candidate) {
		d.markIdenticalCopy(candidate)
		return
	}

	if candidate.DupeHint != model.DupeHintNone {
		// Step 4: a redownload hint short-circuits everything except the
		// identical-content checks already performed above.
		d.cacheJob(candidate)
		return
	}

	d.inheritProperties(candidate)

	matches := d.matchingHistory(ctx, candidate.Name, candidate.DupeKey)
	for _, entry := range matches {
		if entry.IsMarkedGood() {
			candidate.DeleteStatus = model.DeleteStatusGood
			return
		}
		// A DupInfo shadow's success is a "Good" disposition; a still-live
		// history Nzb/Url success yields "Dupe" instead (step 5 below).
		if entry.Job == nil && candidate.DupeMode == model.DupeModeScore && entry.IsSuccess() && candidate.DupeScore <= entry.DupeScore() {
			candidate.DeleteStatus = model.DeleteStatusGood
			return
		}
	}

	if candidate.DupeMode == model.DupeModeScore {
		for _, entry := range matches {
			if entry.Job == nil {
				continue // a DupInfo shadow, not a still-live "history Nzb/Url" entry
			}
			if entry.IsSuccess() && candidate.DupeScore <= entry.DupeScore() {
				candidate.DeleteStatus = model.DeleteStatusDupe
				d.cacheJob(candidate)
				return
			}
		}
	}

	if candidate.DupeMode != model.DupeModeForce {
		d.resolveQueueDuplicates(candidate)
	}

	d.cacheJob(candidate)
}

// markIdenticalCopy applies step 1/3a's disposition: Copy ordinarily, or
// Manual when the candidate came in as a URL job. The disk erase itself isn't done here: marking DeleteStatus
// non-None makes the queue coordinator finalize this job through the
// afero-backed history coordinator (internal/history's cleanupDisk), the
// same path every other disk cleanup in this tree goes through, rather
// than this package reaching for the standard library directly.
func (d *Coordinator) markIdenticalCopy(candidate *model.Job) {
	if candidate.Kind == model.JobKindURL {
		candidate.DeleteStatus = model.DeleteStatusManual
		return
	}
	candidate.DeleteStatus = model.DeleteStatusCopy
}

// NzbCompleted runs the completion-time dupe algorithm.
func (d *Coordinator) NzbCompleted(job *model.Job) {
	if job.DupeMode != model.DupeModeScore {
		return
	}
	if job.StatusText() == "SUCCESS/ALL" {
		return // this download itself satisfied the dupe-key; nothing to backfill
	}
	d.returnBestDupe(job.Name, job.DupeKey, job.ID)
}

// HistoryMark implements historyMark: set the operator mark,
// then Good hides matching dupes and Bad recomputes and promotes a
// replacement.
func (d *Coordinator) HistoryMark(entry *model.HistoryEntry, mark model.MarkStatus) {
	d.SetMark(entry, mark)
	d.ApplyMark(entry, mark)
}

// SetMark records the operator mark on entry without running either
// promotion side effect. Split out from HistoryMark so a markBad batch over
// several ids can set every mark first and only then promote, so a
// sibling entry's promotion search never treats an about-to-be-marked-bad
// entry in the same batch as still eligible.
func (d *Coordinator) SetMark(entry *model.HistoryEntry, mark model.MarkStatus) {
	if entry.Job != nil {
		entry.Job.MarkStatus = mark
	} else if entry.DupInfo != nil {
		switch mark {
		case model.MarkStatusGood:
			entry.DupInfo.Status = model.DupInfoStatusGood
		case model.MarkStatusBad:
			entry.DupInfo.Status = model.DupInfoStatusBad
		case model.MarkStatusSuccess:
			entry.DupInfo.Status = model.DupInfoStatusSuccess
		}
	}
}

// ApplyMark runs the promotion/hide side effect for mark, assuming the mark
// has already been set via SetMark.
func (d *Coordinator) ApplyMark(entry *model.HistoryEntry, mark model.MarkStatus) {
	switch mark {
	case model.MarkStatusGood:
		d.hideMatchingDupes(entry)
	case model.MarkStatusBad:
		d.returnBestDupe(entry.Name(), entry.DupeKey(), entry.ID)
	}
}

func (d *Coordinator) hideMatchingDupes(entry *model.HistoryEntry) {
	if d.historyOps == nil {
		return
	}
	for _, other := range d.matchingHistory(context.Background(), entry.Name(), entry.DupeKey()) {
		if other.ID == entry.ID || other.IsMarkedGood() {
			continue
		}
		d.historyOps.Hide(other)
	}
}
