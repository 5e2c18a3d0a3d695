package history

import (
	"context"
	"time"

	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/nameutil"
	"github.com/nzbget-go/core/internal/nzb"
)

// Redownload implements dupe.HistoryOps. Always called from inside a call chain
// that already holds the queue lock (NzbCompleted/HistoryMark, both
// queue-locked contexts), so it stays lock-free.
func (c *Coordinator) Redownload(entry *model.HistoryEntry, hint model.DupeHint, restorePauseState bool) bool {
	return c.historyRedownload(entry, hint, restorePauseState)
}

// Hide implements dupe.HistoryOps. Also always called from an already-locked context.
func (c *Coordinator) Hide(entry *model.HistoryEntry) bool {
	return c.historyHide(entry)
}

// historyRedownload implements historyRedownload: re-parse the
// saved NZB, discard the old destination and parked files, reset status,
// copy over the freshly-parsed file list and content hashes, and move the
// job back onto the live queue. Lock-free: both of its callers (Edit's
// dispatchEdit and dupe's Redownload path) already hold the queue lock.
func (c *Coordinator) historyRedownload(entry *model.HistoryEntry, hint model.DupeHint, restorePauseState bool) bool {
	if entry.Job == nil {
		return false // a DupInfo shadow has no saved NZB left to re-parse
	}
	job := entry.Job
	wasPaused := job.DeletePaused

	f, err := c.fs.Open(job.SourceFilename)
	if err != nil {
		c.log.Warn("historyRedownload: cannot open saved nzb", "entry", entry.ID, "path", job.SourceFilename, "err", err)
		return false
	}
	parsed, err := nzb.Parse(f, job.SourceFilename)
	_ = f.Close()
	if err != nil {
		c.log.Warn("historyRedownload: re-parse failed", "entry", entry.ID, "path", job.SourceFilename, "err", err)
		return false
	}

	c.cleanupDisk(job)
	c.history.Remove(entry.ID)
	c.removeFromIndex(entry.ID)

	job.Files = nzb.BuildFiles(c.ids, job.ID, parsed)
	job.CompletedFiles = nil
	job.FullContentHash, job.FilteredContentHash = nzb.ContentHashes(parsed.Files)
	job.Messages = model.NewMessageLog(c.cfg.MessageLogBuffer)
	resetJobStatus(job)
	job.DupeHint = hint
	checkDupeFileInfos(job)
	job.Recompute()

	if restorePauseState && wasPaused {
		pauseAllFiles(job)
	}

	c.readdToQueue(job)
	return true
}

// historyRetry implements historyRetry: move parked
// CompletedFiles with non-success status (and loadable persisted article
// state) back into the job's live File list, reset their article statuses,
// adjust counters, and return the job to the queue. Lock-free for the same
// reason as historyRedownload.
func (c *Coordinator) historyRetry(entry *model.HistoryEntry, resetFailed, reprocess bool) bool {
	if entry.Job == nil {
		return false
	}
	job := entry.Job

	var remaining []*model.CompletedFile
	retried := false
	for _, cf := range job.CompletedFiles {
		if cf.Status == model.CompletedFileStatusSuccess {
			remaining = append(remaining, cf)
			continue
		}
		articles, err := c.st.LoadArticles(job.ID, cf.ID)
		if err != nil || len(articles) == 0 {
			remaining = append(remaining, cf)
			continue
		}

		allFailed := true
		for _, a := range articles {
			if a.Status != model.ArticleStatusFailed {
				allFailed = false
				break
			}
		}

		file := &model.File{
			ID:          cf.ID,
			JobID:       job.ID,
			Filename:    cf.Filename,
			Origname:    cf.Origname,
			ParFile:     cf.ParFile,
			Hash16k:     cf.Hash16k,
			HasHash:     cf.HasHash,
			ParSetID:    cf.ParSetID,
			HasSetID:    cf.HasSetID,
			CRC:         cf.CRC,
			PartialState: cf.PartialState,
			Articles:    articles,
			ServerStats: make(map[int]*model.ServerStats),
		}
		resetArticles(file, allFailed, resetFailed)
		recountFile(file)
		job.Files = append(job.Files, file)
		retried = true
	}
	if !retried {
		return false
	}

	job.CompletedFiles = remaining
	job.Recompute()

	c.history.Remove(entry.ID)
	c.removeFromIndex(entry.ID)
	c.readdToQueue(job)

	if reprocess {
		job.ParStatus = model.ParStatusNone
		job.UnpackStatus = model.UnpackStatusNone
		job.DeleteStatus = model.DeleteStatusNone
	}
	return true
}

// resetArticles implements resetArticles verbatim:
//   - Failed articles are retried if (resetFailed OR file.partialState = None)
//   - Undefined articles are retried if (resetFailed AND allFailed)
//   - Finished articles are retried only if partialState = None
func resetArticles(file *model.File, allFailed, resetFailed bool) {
	for _, a := range file.Articles {
		switch a.Status {
		case model.ArticleStatusFailed:
			if resetFailed || file.PartialState == model.PartialStateNone {
				a.Status = model.ArticleStatusUndefined
			}
		case model.ArticleStatusUndefined:
			if resetFailed && allFailed {
				a.Status = model.ArticleStatusUndefined
			}
		case model.ArticleStatusFinished:
			if file.PartialState == model.PartialStateNone {
				a.Status = model.ArticleStatusUndefined
			}
		}
	}
}

// recountFile rebuilds a rebuilt File's per-file counters from its
// (possibly just-reset) Article vector, since it was reconstructed outside
// the normal applyArticleResult accumulation path.
func recountFile(file *model.File) {
	file.TotalArticles = len(file.Articles)
	file.Size = 0
	file.SuccessArticles = 0
	file.FailedArticles = 0
	file.CompletedArticles = 0
	file.SuccessSize = 0
	file.FailedSize = 0
	file.RemainingSize = 0
	for _, a := range file.Articles {
		file.Size += a.Size
		switch a.Status {
		case model.ArticleStatusFinished:
			file.SuccessArticles++
			file.SuccessSize += a.Size
			file.CompletedArticles++
		case model.ArticleStatusFailed:
			file.FailedArticles++
			file.FailedSize += a.Size
			file.CompletedArticles++
		default:
			file.RemainingSize += a.Size
		}
	}
}

// checkDupeFileInfos drops files the re-parsed NZB lists more than once
// under the same name and size, which happens when a posting was partially
// re-uploaded. The first occurrence wins; later copies never reach the
// scheduler. Skipped entirely for Force-mode jobs, which never dedupe.
func checkDupeFileInfos(job *model.Job) {
	if job.DupeMode == model.DupeModeForce {
		return
	}
	type key struct {
		name string
		size int64
	}
	seen := make(map[key]bool, len(job.Files))
	kept := job.Files[:0:0]
	for _, f := range job.Files {
		k := key{nameutil.Fold(f.Filename), f.Size}
		if seen[k] {
			f.Deleted = true
			f.DupeDeleted = true
			continue
		}
		seen[k] = true
		kept = append(kept, f)
	}
	job.Files = kept
}

// readdToQueue puts job back onto the live queue the lock-free way: a
// direct append plus the same dupe/event side effects
// queue.Coordinator.AddNzbToQueue would run, without calling back through
// its locking public API (which would deadlock, since every caller of this
// function already holds the lock).
func (c *Coordinator) readdToQueue(job *model.Job) {
	c.queue.Jobs = append(c.queue.Jobs, job)
	if c.dupe != nil {
		c.dupe.NzbFound(job)
	}
}

func (c *Coordinator) removeFromIndex(id int64) {
	if c.index == nil {
		return
	}
	_ = c.index.Delete(context.Background(), id)
}

// resetJobStatus clears the whole per-job status vector ahead of a
// redownload, plus the boolean workflow flags a parked/deleted job
// accumulated.
func resetJobStatus(job *model.Job) {
	job.ParStatus = model.ParStatusNone
	job.UnpackStatus = model.UnpackStatusNone
	job.DirectUnpackStatus = model.DirectUnpackStatusNone
	job.DirectRenameStatus = model.DirectRenameStatusNone
	job.ParRenameStatus = model.PostRenameStatusNone
	job.RarRenameStatus = model.PostRenameStatusNone
	job.CleanupStatus = model.CleanupStatusNone
	job.MoveStatus = model.MoveStatusNone
	job.DeleteStatus = model.DeleteStatusNone
	job.MarkStatus = model.MarkStatusNone
	job.URLStatus = model.UrlStatusNone

	job.Deleting = false
	job.Parking = false
	job.AvoidHistory = false
	job.CleanupDisk = false
	job.UnpackCleanedUpDisk = false
	job.HealthPaused = false
	job.DeletePaused = false
	job.WaitingPar = false
	job.LoadingPar = false
	job.AllFirst = false
	job.ManyDupeFiles = false

	job.PostTotalSeconds = 0
	job.ParSeconds = 0
	job.RepairSeconds = 0
	job.UnpackSeconds = 0
	job.DownloadStartTime = time.Time{}
	job.DownloadedBytes = 0

	job.SetCompletedAccumulators(0, 0, 0, 0, 0, 0, 0, 0, 0)
}

func pauseAllFiles(job *model.Job) {
	for _, f := range job.Files {
		f.Paused = true
	}
}
