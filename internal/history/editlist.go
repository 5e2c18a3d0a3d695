package history

import (
	"context"
	"regexp"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/historyindex"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/nameutil"
	"github.com/nzbget-go/core/internal/queue"
)

// The history action group, forwarded verbatim by
// queue.Coordinator.EditList whenever action has the "history." prefix.
const (
	ActionHistoryMarkBad       = "history.markBad"
	ActionHistoryMarkGood      = "history.markGood"
	ActionHistoryMarkSuccess   = "history.markSuccess"
	ActionHistoryDelete        = "history.delete"
	ActionHistoryFinalDelete   = "history.finalDelete"
	ActionHistoryReturn        = "history.return"
	ActionHistoryProcess       = "history.process"
	ActionHistoryRedownload    = "history.redownload"
	ActionHistoryRetry         = "history.retry"
	ActionHistorySetParameter  = "history.setParameter"
	ActionHistorySetCategory   = "history.setCategory"
	ActionHistorySetName       = "history.setName"
	ActionHistorySetDupeKey    = "history.setDupeKey"
	ActionHistorySetDupeScore  = "history.setDupeScore"
	ActionHistorySetDupeMode   = "history.setDupeMode"
	ActionHistorySetDupeBackup = "history.setDupeBackup"
)

// RetryArgs carries historyRetry's two boolean knobs.
type RetryArgs struct {
	ResetFailed bool
	Reprocess   bool
}

// RedownloadArgs carries historyRedownload's hint and pause-restore knob.
type RedownloadArgs struct {
	Hint              model.DupeHint
	RestorePauseState bool
}

// Edit implements queue.HistoryEditor. It is a
// top-level entry point — EditList calls it before acquiring its own
// lock — so it acquires the queue's lock itself.
func (c *Coordinator) Edit(ids []int64, names []string, mode queue.MatchMode, action string, args any) bool {
	targets := c.resolveEntries(ids, names, mode)
	if len(targets) == 0 {
		return false
	}

	ok := false
	c.withLock(func() {
		ok = c.dispatchEdit(targets, action, args)
	})
	return ok
}

func (c *Coordinator) dispatchEdit(targets []*model.HistoryEntry, action string, args any) bool {
	switch action {
	case ActionHistoryMarkBad:
		// First pass sets every target's mark before any promotion runs, so
		// a later promotion in the same batch doesn't treat an
		// about-to-be-superseded sibling as still eligible.
		for _, e := range targets {
			if c.dupe != nil {
				c.dupe.SetMark(e, model.MarkStatusBad)
			} else if e.Job != nil {
				e.Job.MarkStatus = model.MarkStatusBad
			}
		}
		if c.dupe != nil {
			for _, e := range targets {
				c.dupe.ApplyMark(e, model.MarkStatusBad)
			}
		}
		return true
	case ActionHistoryMarkGood:
		for _, e := range targets {
			if c.dupe != nil {
				c.dupe.HistoryMark(e, model.MarkStatusGood)
			} else if e.Job != nil {
				e.Job.MarkStatus = model.MarkStatusGood
			}
		}
		return true
	case ActionHistoryMarkSuccess:
		for _, e := range targets {
			if c.dupe != nil {
				c.dupe.HistoryMark(e, model.MarkStatusSuccess)
			} else if e.Job != nil {
				e.Job.MarkStatus = model.MarkStatusSuccess
			}
		}
		return true
	case ActionHistoryDelete:
		// A plain delete keeps the dupe coordinator's memory alive when
		// dupe-check is on, the same way serviceWork's aging does; only
		// finalDelete discards an Nzb/Url entry unconditionally.
		for _, e := range targets {
			if c.cfg.DupeCheckEnabled && e.Kind != model.HistoryKindDup {
				c.historyHide(e)
				continue
			}
			c.discardEntry(e)
			c.history.Remove(e.ID)
		}
		return true
	case ActionHistoryFinalDelete:
		for _, e := range targets {
			c.discardEntry(e)
			c.history.Remove(e.ID)
		}
		return true
	case ActionHistoryReturn:
		// Return puts the parked job back on the queue to download whatever
		// is still missing; failed articles are reset only for files with no
		// output on disk yet (PartialState None).
		ok := false
		for _, e := range targets {
			if c.historyRetry(e, false, false) {
				ok = true
			}
		}
		return ok
	case ActionHistoryProcess:
		ok := false
		for _, e := range targets {
			if c.historyProcess(e) {
				ok = true
			}
		}
		return ok
	case ActionHistoryRedownload:
		a, _ := args.(RedownloadArgs)
		ok := false
		for _, e := range targets {
			if c.historyRedownload(e, a.Hint, a.RestorePauseState) {
				ok = true
			}
		}
		return ok
	case ActionHistoryRetry:
		a, _ := args.(RetryArgs)
		ok := false
		for _, e := range targets {
			if c.historyRetry(e, a.ResetFailed, a.Reprocess) {
				ok = true
			}
		}
		return ok
	case ActionHistorySetParameter:
		p, _ := args.(queue.PostParameterArgs)
		ok := false
		for _, e := range targets {
			if e.Job != nil {
				e.Job.SetParameter(p.Name, p.Value)
				ok = true
			}
		}
		return ok
	case ActionHistorySetCategory:
		category, _ := args.(string)
		ok := false
		for _, e := range targets {
			if e.Job != nil {
				e.Job.Category = category
				ok = true
			}
		}
		return ok
	case ActionHistorySetName:
		name, _ := args.(string)
		ok := false
		for _, e := range targets {
			if e.Job != nil {
				e.Job.Name = name
			} else if e.DupInfo != nil {
				e.DupInfo.Name = name
			} else {
				continue
			}
			c.upsertIndex(e)
			ok = true
		}
		return ok
	case ActionHistorySetDupeKey:
		key, _ := args.(string)
		for _, e := range targets {
			if e.Job != nil {
				e.Job.DupeKey = key
			} else if e.DupInfo != nil {
				e.DupInfo.DupeKey = key
			}
			c.upsertIndex(e)
		}
		return true
	case ActionHistorySetDupeScore:
		score, _ := args.(int)
		for _, e := range targets {
			if e.Job != nil {
				e.Job.DupeScore = score
			} else if e.DupInfo != nil {
				e.DupInfo.DupeScore = score
			}
			c.upsertIndex(e)
		}
		return true
	case ActionHistorySetDupeMode:
		mode, _ := args.(model.DupeMode)
		for _, e := range targets {
			if e.Job != nil {
				e.Job.DupeMode = mode
			} else if e.DupInfo != nil {
				e.DupInfo.DupeMode = mode
			}
		}
		return true
	case ActionHistorySetDupeBackup:
		backup, _ := args.(bool)
		ok := false
		for _, e := range targets {
			if c.setDupeBackup(e, backup) {
				ok = true
			}
		}
		return ok
	default:
		return false
	}
}

// historyProcess restarts post-processing for a parked entry: the stage
// statuses go back to None and NzbDownloaded is re-announced, which is the
// signal the (external) post-processing pipeline reacts to.
func (c *Coordinator) historyProcess(e *model.HistoryEntry) bool {
	if e.Job == nil {
		return false
	}
	e.Job.ParStatus = model.ParStatusNone
	e.Job.UnpackStatus = model.UnpackStatusNone
	e.Job.MoveStatus = model.MoveStatusNone
	e.Job.CleanupStatus = model.CleanupStatusNone
	e.Job.ParRenameStatus = model.PostRenameStatusNone
	e.Job.RarRenameStatus = model.PostRenameStatusNone
	c.bus.Emit(events.Notification{Action: events.NzbDownloaded, JobID: e.ID})
	return true
}

// setDupeBackup flips whether a history entry counts as a dupe-backup
// candidate for returnBestDupe: on marks it Delete=Dupe, off demotes it to a
// plain manual deletion.
func (c *Coordinator) setDupeBackup(e *model.HistoryEntry, backup bool) bool {
	switch {
	case e.Job != nil:
		if backup {
			e.Job.DeleteStatus = model.DeleteStatusDupe
		} else if e.Job.DeleteStatus == model.DeleteStatusDupe {
			e.Job.DeleteStatus = model.DeleteStatusManual
		}
		return true
	case e.DupInfo != nil:
		if backup {
			e.DupInfo.Status = model.DupInfoStatusDupe
		} else if e.DupInfo.Status == model.DupInfoStatusDupe {
			e.DupInfo.Status = model.DupInfoStatusDeleted
		}
		return true
	}
	return false
}

// upsertIndex refreshes an entry's accelerator-index row after an edit that
// changed one of the indexed columns.
func (c *Coordinator) upsertIndex(e *model.HistoryEntry) {
	if c.index == nil {
		return
	}
	full, filtered := e.ContentHashes()
	mode := model.DupeModeScore
	if e.Job != nil {
		mode = e.Job.DupeMode
	} else if e.DupInfo != nil {
		mode = e.DupInfo.DupeMode
	}
	_ = c.index.Upsert(context.Background(), historyindex.SourceHistory, e.ID, e.Name(), e.DupeKey(),
		e.DupeScore(), mode, full, filtered, e.IsSuccess())
}

// resolveEntries resolves history targets by id or by entry name / regex,
// mirroring the queue editor's resolveJobs.
func (c *Coordinator) resolveEntries(ids []int64, names []string, mode queue.MatchMode) []*model.HistoryEntry {
	var out []*model.HistoryEntry
	if mode == queue.MatchByID {
		idSet := make(map[int64]bool, len(ids))
		for _, id := range ids {
			idSet[id] = true
		}
		for _, e := range c.history.Entries {
			if idSet[e.ID] {
				out = append(out, e)
			}
		}
		return out
	}
	for _, e := range c.history.Entries {
		if matchesAny(e.Name(), names, mode) {
			out = append(out, e)
		}
	}
	return out
}

func matchesAny(candidate string, patterns []string, mode queue.MatchMode) bool {
	for _, p := range patterns {
		if mode == queue.MatchByRegex {
			if matched, err := regexp.MatchString(p, candidate); err == nil && matched {
				return true
			}
			continue
		}
		if nameutil.EqualFold(candidate, p) {
			return true
		}
	}
	return false
}
