package dupe

import (
	"context"

	"github.com/nzbget-go/core/internal/historyindex"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/nameutil"
	"github.com/nzbget-go/core/internal/queue"
)

// identicalInQueue is step 1: a bounded cache of content-hash -> job-id
// standing in for a full scan of the live queue. A hit is re-validated
// against the queue (the job may since have left) before being trusted.
func (d *Coordinator) identicalInQueue(candidate *model.Job) *model.Job {
	for _, h := range [...]string{candidate.FullContentHash, candidate.FilteredContentHash} {
		if h == "" {
			continue
		}
		id, ok := d.hashCache.Get(h)
		if !ok {
			continue
		}
		if job := d.queue.Get(id); job != nil && job.ID != candidate.ID {
			return job
		}
		d.hashCache.Remove(h)
	}
	return nil
}

// cacheJob records candidate's content hashes for future identicalInQueue
// lookups. Called once a candidate is known not to be a dupe of itself.
func (d *Coordinator) cacheJob(job *model.Job) {
	if job.FullContentHash != "" {
		d.hashCache.Add(job.FullContentHash, job.ID)
	}
	if job.FilteredContentHash != "" {
		d.hashCache.Add(job.FilteredContentHash, job.ID)
	}
}

// identicalInHistory is step 3's content-hash check, accelerated through
// the historyindex when available.
func (d *Coordinator) identicalInHistory(ctx context.Context, candidate *model.Job) bool {
	if candidate.FullContentHash == "" && candidate.FilteredContentHash == "" {
		return false
	}

	if d.index != nil {
		cands, err := d.index.FindByContentHash(ctx, candidate.FullContentHash, candidate.FilteredContentHash)
		if err != nil {
			d.log.Warn("content-hash index lookup failed, falling back to scan", "err", err)
		} else {
			for _, c := range cands {
				if c.Source == historyindex.SourceHistory {
					return true
				}
			}
			return false
		}
	}

	for _, e := range d.history.Entries {
		full, filtered := e.ContentHashes()
		if candidate.FullContentHash != "" && full != "" && candidate.FullContentHash == full {
			return true
		}
		if candidate.FilteredContentHash != "" && filtered != "" && candidate.FilteredContentHash == filtered {
			return true
		}
	}
	return false
}

// inheritProperties is step 2: a candidate with no dupe-key and zero score
// picks up the first matching-name queue or history item's values.
func (d *Coordinator) inheritProperties(candidate *model.Job) {
	if candidate.DupeKey != "" || candidate.DupeScore != 0 {
		return
	}
	for _, j := range d.queue.Jobs {
		if j.ID == candidate.ID {
			continue
		}
		if nameutil.EqualFold(j.Name, candidate.Name) && (j.DupeKey != "" || j.DupeScore != 0) {
			candidate.DupeKey = j.DupeKey
			candidate.DupeScore = j.DupeScore
			return
		}
	}
	for _, e := range d.history.Entries {
		if nameutil.EqualFold(e.Name(), candidate.Name) && (e.DupeKey() != "" || e.DupeScore() != 0) {
			candidate.DupeKey = e.DupeKey()
			candidate.DupeScore = e.DupeScore()
			return
		}
	}
}

// matchingHistory returns every history entry satisfying sameNameOrKey
// against (name, dupeKey), consulting the historyindex first and falling
// back to a linear scan — both when the index is absent and when it
// returns nothing, since the index's underlying lookup is case-sensitive
// while sameNameOrKey is not.
func (d *Coordinator) matchingHistory(ctx context.Context, name, dupeKey string) []*model.HistoryEntry {
	if d.index != nil {
		var cands []historyindex.Candidate
		var err error
		if dupeKey != "" {
			cands, err = d.index.FindByDupeKey(ctx, dupeKey)
		} else {
			cands, err = d.index.FindByName(ctx, name)
		}
		if err != nil {
			d.log.Warn("dupe-key index lookup failed, falling back to scan", "err", err)
		} else {
			var out []*model.HistoryEntry
			for _, c := range cands {
				if c.Source != historyindex.SourceHistory {
					continue
				}
				entry := d.history.Get(c.ID)
				if entry != nil && nameutil.SameNameOrKey(name, dupeKey, entry.Name(), entry.DupeKey()) {
					out = append(out, entry)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}

	var out []*model.HistoryEntry
	for _, e := range d.history.Entries {
		if nameutil.SameNameOrKey(name, dupeKey, e.Name(), e.DupeKey()) {
			out = append(out, e)
		}
	}
	return out
}

// resolveQueueDuplicates is step 6: score-mode resolution against every
// other queued job sharing the candidate's name/key.
func (d *Coordinator) resolveQueueDuplicates(candidate *model.Job) {
	for _, other := range append([]*model.Job(nil), d.queue.Jobs...) {
		if other.ID == candidate.ID || other.DeleteStatus != model.DeleteStatusNone {
			continue
		}
		if !nameutil.SameNameOrKey(candidate.Name, candidate.DupeKey, other.Name, other.DupeKey) {
			continue
		}

		if candidate.DupeScore <= other.DupeScore {
			candidate.DeleteStatus = model.DeleteStatusDupe
			return
		}

		if !other.IsInPostProcessing() {
			other.DeleteStatus = model.DeleteStatusDupe
			d.queue.Remove(other.ID)
			if d.finalizeHook != nil {
				d.finalizeHook.ParkJob(other, queue.DeleteFlavorNormal)
			}
		}
	}
}

// returnBestDupe implements returnBestDupe: if a Good match
// already covers (name, dupeKey), do nothing; otherwise find and promote
// the best dupe-backup candidate.
func (d *Coordinator) returnBestDupe(name, dupeKey string, excludeID int64) {
	ctx := context.Background()

	for _, e := range d.matchingHistory(ctx, name, dupeKey) {
		if e.ID != excludeID && e.IsMarkedGood() {
			return
		}
	}

	best := d.bestDupeBackup(ctx, name, dupeKey, excludeID)
	if best == nil {
		return
	}
	if d.historyOps != nil {
		d.historyOps.Redownload(best, model.DupeHintRedownloadAuto, false)
	}
}

// bestDupeBackup ranks matching Dupe-marked history entries: eligible
// means not marked Bad, health at or above its own critical-health floor,
// and a score that exceeds both the best in-history success and the best
// still-queued duplicate for the same key.
func (d *Coordinator) bestDupeBackup(ctx context.Context, name, dupeKey string, excludeID int64) *model.HistoryEntry {
	matches := d.matchingHistory(ctx, name, dupeKey)

	maxSuccess := -1
	for _, e := range matches {
		if e.IsSuccess() && e.DupeScore() > maxSuccess {
			maxSuccess = e.DupeScore()
		}
	}

	maxQueued := -1
	for _, j := range d.queue.Jobs {
		// Jobs already marked Dupe are on their way out of the queue and
		// don't block a promotion; the caller itself is excluded too.
		if j.ID == excludeID || j.DeleteStatus == model.DeleteStatusDupe {
			continue
		}
		if !nameutil.SameNameOrKey(name, dupeKey, j.Name, j.DupeKey) {
			continue
		}
		if j.DupeScore > maxQueued {
			maxQueued = j.DupeScore
		}
	}

	var best *model.HistoryEntry
	for _, e := range matches {
		if e.ID == excludeID || !e.IsDupeBackup() || e.IsMarkedBad() {
			continue
		}
		if e.Health() < e.CriticalHealth() {
			continue
		}
		if e.DupeScore() <= maxSuccess || e.DupeScore() <= maxQueued {
			continue
		}
		if best == nil || e.DupeScore() > best.DupeScore() {
			best = e
		}
	}
	return best
}
