package queue

import (
	"context"
	"sort"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/nzbget-go/core/internal/model"
)

// dispatchCandidate is one article chosen for fetch, along with enough
// context to build the ArticleRequest and to know whether its content
// should be fed to the direct-rename analyzer.
type dispatchCandidate struct {
	job         *model.Job
	file        *model.File
	article     *model.Article
	wantSegment bool
}

// schedulingLoop is the coordinator's long-lived thread.
func (c *Coordinator) schedulingLoop(ctx context.Context) {
	defer c.wg.Done()

	// wakeOnCancel lets ctx cancellation also break schedulingLoop out of
	// its cond.Wait(), since sync.Cond has no context-aware wait.
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		c.stopped = true
		c.cond.Broadcast()
		c.mu.Unlock()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.stopped {
			return
		}
		dispatched := c.dispatchOneLocked(ctx)
		if !dispatched {
			c.cond.Wait()
		}
	}
}

// dispatchOneLocked selects and dispatches at most one article. Must be
// called with c.mu held, which it keeps throughout (Fetch itself is
// launched in a new goroutine so the lock is never held across I/O).
func (c *Coordinator) dispatchOneLocked(ctx context.Context) bool {
	if c.activeDownloads >= c.cfg.MaxActiveDownloads && !c.hasForcePriorityWork() {
		return false
	}

	cand := c.selectNextArticle()
	if cand == nil {
		return false
	}

	cand.file.BeginDownload()
	c.activeDownloads++
	cand.article.Status = model.ArticleStatusRunning
	cand.article.LastUpdateTime = time.Now()

	req := ArticleRequest{
		JobID:         cand.job.ID,
		FileID:        cand.file.ID,
		PartNumber:    cand.article.PartNumber,
		MessageID:     cand.article.MessageID,
		Size:          cand.article.Size,
		SegmentOffset: cand.article.SegmentOffset,
		SegmentSize:   cand.article.SegmentSize,
		WantSegment:   cand.wantSegment,
	}

	c.log.Debug("dispatching article", "job", req.JobID, "file", req.FileID, "part", req.PartNumber)
	c.launchFetch(ctx, req)
	return true
}

// launchFetch hands req to the transport from a fresh goroutine, recovering
// any panic from the (external) Transport implementation so a single bad
// Fetch call can't bring down the scheduling loop; a recovered panic is
// turned into a Failed completion so the article isn't lost.
func (c *Coordinator) launchFetch(ctx context.Context, req ArticleRequest) {
	go func() {
		var catcher panics.Catcher
		catcher.Try(func() {
			c.transport.Fetch(ctx, req, func(res ArticleResult) {
				c.OnArticleComplete(res)
			})
		})
		if r := catcher.Recovered(); r != nil {
			c.log.Error("transport panicked during fetch", "job", req.JobID, "file", req.FileID, "part", req.PartNumber, "panic", r.Value)
			c.OnArticleComplete(ArticleResult{
				JobID:      req.JobID,
				FileID:     req.FileID,
				PartNumber: req.PartNumber,
				Status:     model.ArticleStatusFailed,
			})
		}
	}()
}

// hasForcePriorityWork reports whether any job is eligible to dispatch past
// the active-download limit via its force-priority.
func (c *Coordinator) hasForcePriorityWork() bool {
	if c.cfg.ForcePriorityThreshold <= 0 {
		return false
	}
	for _, j := range c.queue.Jobs {
		if j.Priority >= c.cfg.ForcePriorityThreshold && c.isJobDispatchable(j) {
			return true
		}
	}
	return false
}

// selectNextArticle picks the next article in two phases: a "first
// articles" pass for jobs still waiting on direct-rename fingerprints,
// then the general ordered pass. Must be called with c.mu held.
func (c *Coordinator) selectNextArticle() *dispatchCandidate {
	ordered := c.orderedDispatchableJobs()

	for _, j := range ordered {
		if !c.needsFingerprintPass(j) {
			continue
		}
		for _, f := range j.Files {
			if f.ParFile || f.Paused || f.Deleted || len(f.Articles) == 0 {
				continue
			}
			first := f.Articles[0]
			if first.Status != model.ArticleStatusUndefined {
				continue
			}
			return &dispatchCandidate{job: j, file: f, article: first, wantSegment: true}
		}
	}

	for _, j := range ordered {
		for _, f := range orderedFiles(j) {
			if !f.HasRunnableArticle() {
				continue
			}
			for _, a := range f.Articles {
				if a.Status == model.ArticleStatusUndefined {
					return &dispatchCandidate{job: j, file: f, article: a, wantSegment: f.NeedsFirstArticleFingerprint() && a == f.Articles[0]}
				}
			}
		}
	}
	return nil
}

// needsFingerprintPass reports whether job still has a live file whose
// first-article hash hasn't landed yet.
func (c *Coordinator) needsFingerprintPass(j *model.Job) bool {
	if j.DirectRenameStatus == model.DirectRenameStatusNone || j.DirectRenameStatus == model.DirectRenameStatusRunning {
		for _, f := range j.Files {
			if f.NeedsFirstArticleFingerprint() && f.HasRunnableArticle() {
				return true
			}
		}
	}
	return false
}

// isJobDispatchable reports whether job is eligible for scheduling at all.
func (c *Coordinator) isJobDispatchable(j *model.Job) bool {
	if j.Deleting || j.HealthPaused || j.DeletePaused || j.DeleteStatus != model.DeleteStatusNone {
		return false
	}
	for _, f := range j.Files {
		if f.HasRunnableArticle() {
			return true
		}
	}
	return false
}

// orderedDispatchableJobs returns dispatchable jobs sorted by priority
// descending, stable on queue (insertion) order otherwise.
func (c *Coordinator) orderedDispatchableJobs() []*model.Job {
	if !c.globalPaused {
		return c.filterAndSortJobs(func(j *model.Job) bool { return c.isJobDispatchable(j) })
	}
	// Global pause still allows force-priority jobs through.
	return c.filterAndSortJobs(func(j *model.Job) bool {
		return c.isJobDispatchable(j) && c.cfg.ForcePriorityThreshold > 0 && j.Priority >= c.cfg.ForcePriorityThreshold
	})
}

func (c *Coordinator) filterAndSortJobs(keep func(*model.Job) bool) []*model.Job {
	var out []*model.Job
	for _, j := range c.queue.Jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].Priority > out[k].Priority })
	return out
}

// orderedFiles returns j's files with any extra-priority file moved ahead of the rest, stable otherwise.
func orderedFiles(j *model.Job) []*model.File {
	out := make([]*model.File, len(j.Files))
	copy(out, j.Files)
	sort.SliceStable(out, func(i, k int) bool { return out[i].ExtraPriority && !out[k].ExtraPriority })
	return out
}
