package queue

import (
	"context"
	"time"

	apperrors "github.com/nzbget-go/core/internal/errors"
	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/rename"
)

// OnArticleComplete is the Transport completion callback. It is the only entry point
// Transport implementations call back into; everything it does happens
// under the coordinator lock.
func (c *Coordinator) OnArticleComplete(res ArticleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := c.queue.Get(res.JobID)
	if job == nil {
		return // job was deleted while the article was in flight
	}
	file := findFile(job, res.FileID)
	if file == nil {
		return
	}
	article := findArticle(file, res.PartNumber)
	if article == nil {
		return
	}

	c.applyArticleResult(job, file, article, res)
	file.EndDownload()
	c.activeDownloads--

	if article.Status == model.ArticleStatusFinished && len(res.Segment) > 0 && c.renamer != nil {
		c.analyzeFirstArticle(file, article, res.Segment)
	}

	// Finalize before advancing the rename state machine: when this was the
	// last article of the last boosted par file, CheckState launches the
	// par loader, which reads the par file's assembled output from disk —
	// the write happens in finalizeFile.
	if file.IsComplete() {
		c.finalizeFile(job, file)
	}

	if c.renamer != nil {
		c.renamer.CheckState(job)
	}

	if job.Deleting {
		// A delete arrived while articles were still in flight; this may be the last one to
		// report in. Finalization here takes the place of the normal
		// IsFinished/NzbCompleted path below, which a deleting job never
		// reaches (it leaves the queue instead of turning into a success).
		c.finalizeDeletingJobLocked(job)
		c.markChanged()
		c.wake()
		return
	}

	if job.IsFinished() {
		c.bus.Emit(events.Notification{Action: events.NzbDownloaded, JobID: job.ID})
		if c.dupe != nil {
			c.dupe.NzbCompleted(job)
		}
	}

	c.markChanged()
	c.wake()
}

// finalizeDeletingJobLocked completes a group-delete that couldn't finish
// synchronously because articles were still downloading. Once the
// last active download for job reports in, it leaves the queue and is
// handed to the FinalizeHook with the flavor deleteGroupLocked recorded on
// it via Parking/AvoidHistory/CleanupDisk.
func (c *Coordinator) finalizeDeletingJobLocked(job *model.Job) {
	active := 0
	for _, f := range job.Files {
		active += f.ActiveDownloads
	}
	if active > 0 {
		return
	}

	flavor := DeleteFlavorNormal
	switch {
	case job.Parking:
		flavor = DeleteFlavorPark
	case job.AvoidHistory:
		flavor = DeleteFlavorAvoidHistory
	case job.CleanupDisk:
		flavor = DeleteFlavorFinal
	}

	c.queue.Remove(job.ID)
	if c.finalizeHook != nil {
		c.finalizeHook.ParkJob(job, flavor)
	}
	c.bus.Emit(events.Notification{Action: events.NzbDeleted, JobID: job.ID})
}

// applyArticleResult updates the article, File and Job counters for one
// terminal article outcome.
func (c *Coordinator) applyArticleResult(job *model.Job, file *model.File, article *model.Article, res ArticleResult) {
	article.Status = res.Status
	article.CRC = res.CRC
	article.ResultFilename = res.ResultFilename
	article.LastUpdateTime = time.Now()

	switch res.Status {
	case model.ArticleStatusFinished:
		file.SuccessArticles++
		file.SuccessSize += article.Size
		c.bumpServerStats(file, 1, 0, article.Size, 0)
	case model.ArticleStatusFailed:
		file.FailedArticles++
		file.FailedSize += article.Size
		c.bumpServerStats(file, 0, 1, 0, article.Size)
	}
	file.CompletedArticles++
	file.RemainingSize -= article.Size
	if file.RemainingSize < 0 {
		file.RemainingSize = 0
	}
	file.TotalArticles = len(file.Articles)

	job.Recompute()
}

// bumpServerStats accumulates per-server byte/article counters. The core
// doesn't track which server actually served an article (that belongs to
// the external transport/connection-pool); server id 0 is used as the
// single aggregate bucket until a real server-aware transport is wired in.
func (c *Coordinator) bumpServerStats(file *model.File, successArts, failedArts int, successBytes, failedBytes int64) {
	const aggregateServerID = 0
	s, ok := file.ServerStats[aggregateServerID]
	if !ok {
		s = &model.ServerStats{}
		file.ServerStats[aggregateServerID] = s
	}
	s.SuccessArticles += successArts
	s.FailedArticles += failedArts
	s.SuccessBytes += successBytes
	s.FailedBytes += failedBytes
}

// analyzeFirstArticle feeds a first-article's decoded bytes to a fresh
// content analyzer and records the resulting fingerprint.
func (c *Coordinator) analyzeFirstArticle(file *model.File, article *model.Article, segment []byte) {
	az := rename.NewAnalyzer()
	az.Append(segment)
	fp := az.Finish()
	c.renamer.OnArticleFingerprint(file, fp, int64(len(segment)))
}

// finalizeFile converts a terminated File into a CompletedFile, folding its
// final counters into the Job's completed-accumulators first.
func (c *Coordinator) finalizeFile(job *model.Job, file *model.File) {
	status := model.CompletedFileStatusSuccess
	if file.FailedArticles > 0 {
		status = model.CompletedFileStatusPartial
	}
	if file.SuccessArticles == 0 {
		status = model.CompletedFileStatusFailure
	}

	if c.writer != nil && status != model.CompletedFileStatusFailure && !file.OutputInitialized {
		filename, state, err := c.writer.WriteFile(c.writeContext(), job.DestDir, file)
		if err != nil {
			c.log.Warn("output write failed", "job", job.ID, "file", file.ID, "err", err)
			if apperrors.IsNonRetryable(err) {
				// No recovery path remains for this file.
				status = model.CompletedFileStatusFailure
			} else {
				status = model.CompletedFileStatusPartial
			}
		} else {
			file.Filename = filename
			file.PartialState = state
			file.OutputInitialized = true
			if state == model.PartialStatePartial {
				status = model.CompletedFileStatusPartial
			}
		}
	}

	job.RecordCompletion(file)
	completed := file.ToCompletedFile(status)

	for i, f := range job.Files {
		if f.ID == file.ID {
			job.Files = append(job.Files[:i], job.Files[i+1:]...)
			break
		}
	}
	job.CompletedFiles = append(job.CompletedFiles, completed)
	job.Recompute()

	c.bus.Emit(events.Notification{Action: events.FileCompleted, JobID: job.ID, FileID: file.ID})
}

// writeContext returns the coordinator's lifecycle context, or a background
// context when called before Start (e.g. in tests that drive finalization
// directly).
func (c *Coordinator) writeContext() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func findFile(job *model.Job, fileID int64) *model.File {
	for _, f := range job.Files {
		if f.ID == fileID {
			return f
		}
	}
	return nil
}

func findArticle(file *model.File, partNumber int) *model.Article {
	for _, a := range file.Articles {
		if a.PartNumber == partNumber {
			return a
		}
	}
	return nil
}
