package model

import "time"

// HistoryEntryKind distinguishes the three shapes a history slot can take.
type HistoryEntryKind int

const (
	HistoryKindNzb HistoryEntryKind = iota
	HistoryKindURL
	HistoryKindDup
)

// HistoryEntry is one record in the History coordinator's ordered
// list. A Dup-kind entry carries only a DupInfo shadow; Nzb
// and Url-kind entries carry the full parked Job.
type HistoryEntry struct {
	ID   int64
	Kind HistoryEntryKind
	Time time.Time

	Job     *Job     // nil for Kind == HistoryKindDup
	DupInfo *DupInfo // nil unless Kind == HistoryKindDup, or the entry has been hidden
}

// Name returns the display name regardless of which shape the entry has.
func (h *HistoryEntry) Name() string {
	if h.Job != nil {
		return h.Job.Name
	}
	if h.DupInfo != nil {
		return h.DupInfo.Name
	}
	return ""
}

// DupeKey returns the dupe-key regardless of shape, used by sameNameOrKey lookups.
func (h *HistoryEntry) DupeKey() string {
	if h.Job != nil {
		return h.Job.DupeKey
	}
	if h.DupInfo != nil {
		return h.DupInfo.DupeKey
	}
	return ""
}

// DupeScore returns the dupe-score regardless of shape.
func (h *HistoryEntry) DupeScore() int {
	if h.Job != nil {
		return h.Job.DupeScore
	}
	if h.DupInfo != nil {
		return h.DupInfo.DupeScore
	}
	return 0
}

// ContentHashes returns the full/filtered content hashes regardless of shape.
func (h *HistoryEntry) ContentHashes() (full, filtered string) {
	if h.Job != nil {
		return h.Job.FullContentHash, h.Job.FilteredContentHash
	}
	if h.DupInfo != nil {
		return h.DupInfo.FullContentHash, h.DupInfo.FilteredContentHash
	}
	return "", ""
}

// DeleteStatus returns the job's delete status, or DeleteStatusNone for a
// hidden (DupInfo-only) entry, whose disposition instead lives in DupInfo.Status.
func (h *HistoryEntry) DeleteStatus() DeleteStatus {
	if h.Job != nil {
		return h.Job.DeleteStatus
	}
	return DeleteStatusNone
}

// IsSuccess reports whether the entry represents a successful download.
func (h *HistoryEntry) IsSuccess() bool {
	if h.Job != nil {
		return h.Job.StatusText() == "SUCCESS/ALL"
	}
	if h.DupInfo != nil {
		return h.DupInfo.Status == DupInfoStatusSuccess || h.DupInfo.Status == DupInfoStatusGood
	}
	return false
}

// IsMarkedGood reports whether the entry has been marked Good (operator
// action or dupe-coordinator HistoryCleanup), regardless of whether it is
// still a full Job or has aged to a DupInfo shadow.
func (h *HistoryEntry) IsMarkedGood() bool {
	if h.Job != nil {
		return h.Job.MarkStatus == MarkStatusGood
	}
	if h.DupInfo != nil {
		return h.DupInfo.Status == DupInfoStatusGood
	}
	return false
}

// IsMarkedBad is the Bad counterpart of IsMarkedGood.
func (h *HistoryEntry) IsMarkedBad() bool {
	if h.Job != nil {
		return h.Job.MarkStatus == MarkStatusBad
	}
	if h.DupInfo != nil {
		return h.DupInfo.Status == DupInfoStatusBad
	}
	return false
}

// IsDupeBackup reports whether the entry is an eligible dupe-backup
// promotion candidate. Only entries still carrying a full Job qualify: a
// DupInfo shadow has no saved NZB left to redownload, so even one that was
// a backup before hiding can never be promoted.
func (h *HistoryEntry) IsDupeBackup() bool {
	return h.Job != nil && h.Job.DeleteStatus == DeleteStatusDupe
}

// Health returns the entry's health score, or 1000 (fully healthy) for a
// DupInfo shadow, which doesn't retain enough detail to recompute one.
func (h *HistoryEntry) Health() int {
	if h.Job != nil {
		return h.Job.Health()
	}
	return 1000
}

// CriticalHealth returns the health floor below which repair is impossible,
// or 1000 for a DupInfo shadow that no longer carries the detail.
func (h *HistoryEntry) CriticalHealth() int {
	if h.Job != nil {
		return h.Job.CriticalHealth
	}
	return 1000
}

// Queue is the ordered sequence of live Jobs.
type Queue struct {
	Jobs []*Job
}

// IndexOf returns the position of the Job with the given id, or -1.
func (q *Queue) IndexOf(id int64) int {
	for i, j := range q.Jobs {
		if j.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the Job with the given id, or nil.
func (q *Queue) Get(id int64) *Job {
	if i := q.IndexOf(id); i >= 0 {
		return q.Jobs[i]
	}
	return nil
}

// Remove deletes the Job with the given id and returns it, or nil if absent.
func (q *Queue) Remove(id int64) *Job {
	i := q.IndexOf(id)
	if i < 0 {
		return nil
	}
	j := q.Jobs[i]
	q.Jobs = append(q.Jobs[:i], q.Jobs[i+1:]...)
	return j
}

// History is the ordered sequence of HistoryEntry records.
type History struct {
	Entries []*HistoryEntry
}

// IndexOf returns the position of the entry with the given id, or -1.
func (h *History) IndexOf(id int64) int {
	for i, e := range h.Entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the entry with the given id, or nil.
func (h *History) Get(id int64) *HistoryEntry {
	if i := h.IndexOf(id); i >= 0 {
		return h.Entries[i]
	}
	return nil
}

// Remove deletes the entry with the given id and returns it, or nil if absent.
func (h *History) Remove(id int64) *HistoryEntry {
	i := h.IndexOf(id)
	if i < 0 {
		return nil
	}
	e := h.Entries[i]
	h.Entries = append(h.Entries[:i], h.Entries[i+1:]...)
	return e
}
