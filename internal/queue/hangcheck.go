package queue

import (
	"context"
	"time"

	"github.com/nzbget-go/core/internal/model"
)

// hangGrace is the fixed grace period added to urlTimeout before a running
// article is considered hung.
const hangGrace = 10 * time.Second

// hangCheckLoop periodically cancels articles stuck in Running past their
// deadline.
func (c *Coordinator) hangCheckLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HangCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkHangingDownloads()
		}
	}
}

// checkHangingDownloads scans every Running article across the queue and
// asks the transport to cancel any that has gone stale. It does not mark
// the article Failed itself — that happens when the transport's eventual
// completion callback arrives.
func (c *Coordinator) checkHangingDownloads() {
	deadline := c.cfg.URLTimeout + hangGrace

	c.mu.Lock()
	var toCancel []ArticleRequest
	now := time.Now()
	for _, j := range c.queue.Jobs {
		for _, f := range j.Files {
			for _, a := range f.Articles {
				if a.Status != model.ArticleStatusRunning {
					continue
				}
				if now.Sub(a.LastUpdateTime) < deadline {
					continue
				}
				toCancel = append(toCancel, ArticleRequest{JobID: j.ID, FileID: f.ID, PartNumber: a.PartNumber})
			}
		}
	}
	c.mu.Unlock()

	for _, req := range toCancel {
		c.log.Warn("canceling hung article", "job", req.JobID, "file", req.FileID, "part", req.PartNumber)
		c.transport.Cancel(req.JobID, req.FileID, req.PartNumber)
	}
}
