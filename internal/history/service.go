package history

import (
	"context"
	"time"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/model"
)

// serviceWork runs the hourly maintenance pass. It
// is a top-level entry point (nothing else holds the queue lock for it), so
// it acquires it itself.
func (c *Coordinator) serviceWork() {
	c.withLock(func() {
		cutoff := time.Now().AddDate(0, 0, -c.cfg.KeepHistoryDays)
		kept := c.history.Entries[:0:0]
		for _, e := range c.history.Entries {
			if e.Job == nil {
				// Already a DupInfo shadow: the dupe coordinator's memory is
				// meant to outlive keepHistory, so shadows are never aged
				// out by this pass.
				kept = append(kept, e)
				continue
			}
			if !e.Time.Before(cutoff) {
				kept = append(kept, e)
				continue
			}
			if c.cfg.DupeCheckEnabled {
				c.historyHide(e)
				kept = append(kept, e)
				continue
			}
			c.discardEntry(e)
		}
		c.history.Entries = kept
	})
}

// discardEntry removes an aged-out entry for good: clean its disk state (if
// it still carries a live Job), drop it from the accelerator index, and
// announce the removal.
func (c *Coordinator) discardEntry(e *model.HistoryEntry) {
	if e.Job != nil {
		c.cleanupDisk(e.Job)
	}
	if c.index != nil {
		_ = c.index.Delete(context.Background(), e.ID)
	}
	c.bus.Emit(events.Notification{Action: events.HistoryItemDeleted, JobID: e.ID})
}

// historyHide implements historyHide: replace a full history
// entry with its DupInfo shadow, computed from its current mark/delete
// status, and release the disk state a full Job record was still holding.
// Always called with the queue lock already held (either by serviceWork's
// withLock above, or by Edit's withLock via HistoryMark's Good-mark path).
func (c *Coordinator) historyHide(entry *model.HistoryEntry) bool {
	if entry.Job == nil {
		return true // already hidden, or a Dup-kind entry with nothing to hide
	}

	status := model.DupInfoStatusFailed
	switch {
	case entry.IsMarkedGood():
		status = model.DupInfoStatusGood
	case entry.IsMarkedBad():
		status = model.DupInfoStatusBad
	case entry.IsDupeBackup():
		status = model.DupInfoStatusDupe
	case entry.IsSuccess():
		status = model.DupInfoStatusSuccess
	}

	full, filtered := entry.ContentHashes()
	shadow := &model.DupInfo{
		ID:                  entry.ID,
		Name:                entry.Name(),
		DupeKey:             entry.DupeKey(),
		DupeScore:           entry.DupeScore(),
		DupeMode:            entry.Job.DupeMode,
		Size:                entry.Job.Size,
		FullContentHash:     full,
		FilteredContentHash: filtered,
		Status:              status,
	}

	c.cleanupDisk(entry.Job)
	entry.Job = nil
	entry.DupInfo = shadow
	entry.Kind = model.HistoryKindDup
	return true
}
