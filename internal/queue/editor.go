package queue

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/nameutil"
)

// MatchMode selects how EditList resolves its targets.
type MatchMode int

const (
	MatchByID MatchMode = iota
	MatchByName
	MatchByRegex
)

// Action groups and individual actions. Grouped as
// string constants rather than a closed enum so history-group actions can
// be forwarded verbatim to the HistoryEditor without the queue package
// needing to know their full vocabulary.
const (
	ActionFilePause          = "file.pause"
	ActionFileResume         = "file.resume"
	ActionFileDelete         = "file.delete"
	ActionFileMoveOffset     = "file.moveOffset"
	ActionFileMoveTop        = "file.moveTop"
	ActionFileMoveBottom     = "file.moveBottom"
	ActionFilePauseAllPars   = "file.pauseAllPars"
	ActionFilePauseExtraPars = "file.pauseExtraPars"
	ActionFileSplit          = "file.split"

	ActionGroupMove          = "group.move"
	ActionGroupPause         = "group.pause"
	ActionGroupResume        = "group.resume"
	ActionGroupPauseAllPars  = "group.pauseAllPars"
	ActionGroupPauseExtra    = "group.pauseExtraPars"
	ActionGroupDelete        = "group.delete"
	ActionGroupSetPriority   = "group.setPriority"
	ActionGroupSetCategory   = "group.setCategory"
	ActionGroupSetName       = "group.setName"
	ActionGroupSetParameter  = "group.setParameter"
	ActionGroupSetDupeKey    = "group.setDupeKey"
	ActionGroupSetDupeScore  = "group.setDupeScore"
	ActionGroupSetDupeMode   = "group.setDupeMode"
	ActionGroupMerge         = "group.merge"
	ActionGroupSort          = "group.sort"

	ActionPostCancel = "post.cancel"

	historyActionPrefix = "history."
)

// DeleteFlavor distinguishes the four ways a group-delete can dispose of a
// job.
type DeleteFlavor int

const (
	DeleteFlavorNormal DeleteFlavor = iota
	DeleteFlavorPark
	DeleteFlavorAvoidHistory
	DeleteFlavorFinal
)

// FinalizeHook receives jobs that have finished deleting (no more active
// downloads) so they can be parked into history. Kept as an interface
// for the same reason as DupeHook: internal/history needs the same shared
// *model.Queue/*model.History, not a dependency on this package.
type FinalizeHook interface {
	ParkJob(job *model.Job, flavor DeleteFlavor)
}

// SetFinalizeHook wires in the history coordinator's parking behavior.
func (c *Coordinator) SetFinalizeHook(h FinalizeHook) { c.finalizeHook = h }

// HistoryEditor forwards the history action group, which
// operates on HistoryEntry records the queue coordinator doesn't own.
type HistoryEditor interface {
	Edit(ids []int64, names []string, mode MatchMode, action string, args any) bool
}

// SetHistoryEditor wires in the history coordinator's edit surface.
func (c *Coordinator) SetHistoryEditor(h HistoryEditor) { c.historyEditor = h }

// errLockContended marks a failed non-blocking lock attempt, used only to
// drive retry.Do's RetryIf/backoff bookkeeping.
type errLockContended struct{}

func (errLockContended) Error() string { return "queue: lock contended" }

// acquireEditLock tries a short bounded series of non-blocking lock
// attempts with jittered backoff before falling back to a plain blocking
// Lock. Purely a fairness measure under heavy editor contention —
// correctness never depends on it succeeding before the fallback.
func (c *Coordinator) acquireEditLock() {
	err := retry.Do(
		func() error {
			if c.mu.TryLock() {
				return nil
			}
			return errLockContended{}
		},
		retry.Attempts(5),
		retry.Delay(time.Millisecond),
		retry.MaxDelay(10*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		c.mu.Lock()
	}
}

// EditEntry applies action to the single id.
func (c *Coordinator) EditEntry(id int64, action string, args any) bool {
	return c.EditList([]int64{id}, nil, MatchByID, action, args)
}

// EditList applies action to every target resolved from
// ids/names/mode. Returns false (no side effects) if nothing resolved or
// the action is unknown.
func (c *Coordinator) EditList(ids []int64, names []string, mode MatchMode, action string, args any) bool {
	if strings.HasPrefix(action, historyActionPrefix) {
		if c.historyEditor == nil {
			return false
		}
		return c.historyEditor.Edit(ids, names, mode, action, args)
	}

	c.acquireEditLock()
	defer c.mu.Unlock()

	ok := c.dispatchEdit(ids, names, mode, action, args)
	if ok {
		c.markChanged()
		c.wake()
	}
	return ok
}

func (c *Coordinator) dispatchEdit(ids []int64, names []string, mode MatchMode, action string, args any) bool {
	switch action {
	case ActionFilePause, ActionFileResume, ActionFileDelete, ActionFileMoveOffset,
		ActionFileMoveTop, ActionFileMoveBottom, ActionFilePauseAllPars, ActionFilePauseExtraPars:
		files := c.resolveFiles(ids, names, mode)
		if len(files) == 0 {
			return false
		}
		return c.applyFileAction(action, files, args)

	case ActionFileSplit:
		files := c.resolveFiles(ids, names, mode)
		if len(files) == 0 {
			return false
		}
		newName, _ := args.(string)
		_, err := c.splitQueueEntriesLocked(files, newName)
		return err == nil

	case ActionGroupMove, ActionGroupPause, ActionGroupResume, ActionGroupPauseAllPars,
		ActionGroupPauseExtra, ActionGroupDelete, ActionGroupSetPriority, ActionGroupSetCategory,
		ActionGroupSetName, ActionGroupSetParameter, ActionGroupSetDupeKey, ActionGroupSetDupeScore,
		ActionGroupSetDupeMode, ActionGroupSort:
		jobs := c.resolveJobs(ids, names, mode)
		if len(jobs) == 0 && action != ActionGroupSort {
			return false
		}
		return c.applyGroupAction(action, jobs, args)

	case ActionGroupMerge:
		jobs := c.resolveJobs(ids, names, mode)
		if len(jobs) < 2 {
			return false
		}
		err := c.mergeQueueEntriesLocked(jobs[0], jobs[1])
		return err == nil

	case ActionPostCancel:
		jobs := c.resolveJobs(ids, names, mode)
		if len(jobs) == 0 {
			return false
		}
		for _, j := range jobs {
			// Post-processing itself (par-check/unpack/scripts) runs as an
			// external collaborator; marking these
			// statuses Skipped is the signal it checks for before starting
			// (or continuing) a stage.
			if j.ParStatus == model.ParStatusNone {
				j.ParStatus = model.ParStatusSkipped
			}
			if j.UnpackStatus == model.UnpackStatusNone {
				j.UnpackStatus = model.UnpackStatusSkipped
			}
		}
		return true
	}
	return false
}

// resolveFiles resolves file targets by id or by the "JobName/BaseFilename"
// path / regex forms.
func (c *Coordinator) resolveFiles(ids []int64, names []string, mode MatchMode) []*model.File {
	var out []*model.File
	if mode == MatchByID {
		idSet := toInt64Set(ids)
		for _, j := range c.queue.Jobs {
			for _, f := range j.Files {
				if idSet[f.ID] {
					out = append(out, f)
				}
			}
		}
		return out
	}
	for _, j := range c.queue.Jobs {
		for _, f := range j.Files {
			path := j.Name + "/" + f.Filename
			if matchesAny(path, names, mode) || matchesAny(f.Filename, names, mode) {
				out = append(out, f)
			}
		}
	}
	return out
}

// resolveJobs resolves job targets by id or by job name / regex.
func (c *Coordinator) resolveJobs(ids []int64, names []string, mode MatchMode) []*model.Job {
	var out []*model.Job
	if mode == MatchByID {
		idSet := toInt64Set(ids)
		for _, j := range c.queue.Jobs {
			if idSet[j.ID] {
				out = append(out, j)
			}
		}
		return out
	}
	for _, j := range c.queue.Jobs {
		if matchesAny(j.Name, names, mode) {
			out = append(out, j)
		}
	}
	return out
}

func matchesAny(candidate string, patterns []string, mode MatchMode) bool {
	for _, p := range patterns {
		if mode == MatchByRegex {
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

func toInt64Set(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// applyFileAction performs one File-group action over files, all
// belonging to whatever job each was resolved from. Must be called with
// c.mu held.
func (c *Coordinator) applyFileAction(action string, files []*model.File, args any) bool {
	switch action {
	case ActionFilePause:
		for _, f := range files {
			f.Paused = true
		}
	case ActionFileResume:
		for _, f := range files {
			f.Paused = false
		}
	case ActionFileDelete:
		for _, f := range files {
			c.deleteFileLocked(f)
		}
	case ActionFileMoveTop:
		for _, f := range files {
			c.moveFileLocked(f, 0, true)
		}
	case ActionFileMoveBottom:
		for _, f := range files {
			c.moveFileLocked(f, 0, false)
		}
	case ActionFileMoveOffset:
		offset, _ := args.(int)
		for _, f := range files {
			c.moveFileByOffsetLocked(f, offset)
		}
	case ActionFilePauseAllPars:
		for _, f := range files {
			if f.ParFile {
				f.Paused = true
			}
		}
	case ActionFilePauseExtraPars:
		touched := make(map[int64]bool)
		for _, f := range files {
			if touched[f.JobID] {
				continue
			}
			touched[f.JobID] = true
			if job := c.queue.Get(f.JobID); job != nil {
				c.pauseExtraParsLocked(job)
			}
		}
	default:
		return false
	}
	for _, f := range files {
		if job := c.queue.Get(f.JobID); job != nil {
			job.Recompute()
		}
	}
	return true
}

// moveFileLocked moves f to the top or bottom of its job's file list.
func (c *Coordinator) moveFileLocked(f *model.File, _ int, top bool) {
	job := c.queue.Get(f.JobID)
	if job == nil {
		return
	}
	idx := indexOfFile(job.Files, f.ID)
	if idx < 0 {
		return
	}
	job.Files = append(job.Files[:idx], job.Files[idx+1:]...)
	if top {
		job.Files = append([]*model.File{f}, job.Files...)
	} else {
		job.Files = append(job.Files, f)
	}
}

// moveFileByOffsetLocked repositions f within its job's Files by a relative
// offset, clamped at the list bounds.
func (c *Coordinator) moveFileByOffsetLocked(f *model.File, offset int) {
	job := c.queue.Get(f.JobID)
	if job == nil {
		return
	}
	idx := indexOfFile(job.Files, f.ID)
	if idx < 0 {
		return
	}
	newIdx := clamp(idx+offset, 0, len(job.Files)-1)
	if newIdx == idx {
		return
	}
	job.Files = append(job.Files[:idx], job.Files[idx+1:]...)
	job.Files = append(job.Files[:newIdx], append([]*model.File{f}, job.Files[newIdx:]...)...)
}

func indexOfFile(files []*model.File, id int64) int {
	for i, f := range files {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// hasVolInfix reports whether a par filename contains ".vol" (ignoring
// case; the digits of a ".volNNN+NNN" infix are not checked), the signal
// used by pauseExtraPars to tell a "main" index par apart from a volumed
// data par.
func hasVolInfix(name string) bool {
	return strings.Contains(strings.ToLower(name), ".vol")
}

// pauseExtraParsLocked pauses redundant par volumes for a single job: if
// any par file lacks a ".vol" infix it is the set's index file and every
// volumed par gets paused; otherwise the smallest par of each set stays
// unpaused and the rest are paused.
func (c *Coordinator) pauseExtraParsLocked(job *model.Job) {
	hasMainPar := false
	for _, f := range job.Files {
		if f.ParFile && !hasVolInfix(f.Filename) {
			hasMainPar = true
			break
		}
	}

	if hasMainPar {
		for _, f := range job.Files {
			if f.ParFile && hasVolInfix(f.Filename) {
				f.Paused = true
			}
		}
		return
	}

	bySet := make(map[[16]byte][]*model.File)
	for _, f := range job.Files {
		if f.ParFile {
			bySet[f.ParSetID] = append(bySet[f.ParSetID], f)
		}
	}
	for _, members := range bySet {
		sort.Slice(members, func(i, k int) bool { return members[i].Size < members[k].Size })
		for i, f := range members {
			f.Paused = i != 0
		}
	}
}

// applyGroupAction performs one Group(Job)-group action over jobs.
// Must be called with c.mu held.
func (c *Coordinator) applyGroupAction(action string, jobs []*model.Job, args any) bool {
	switch action {
	case ActionGroupPause:
		for _, j := range jobs {
			for _, f := range j.Files {
				f.Paused = true
			}
		}
	case ActionGroupResume:
		for _, j := range jobs {
			for _, f := range j.Files {
				f.Paused = false
			}
		}
	case ActionGroupPauseAllPars:
		for _, j := range jobs {
			for _, f := range j.Files {
				if f.ParFile {
					f.Paused = true
				}
			}
		}
	case ActionGroupPauseExtra:
		for _, j := range jobs {
			c.pauseExtraParsLocked(j)
		}
	case ActionGroupDelete:
		flavor, _ := args.(DeleteFlavor)
		for _, j := range jobs {
			c.deleteGroupLocked(j, flavor)
		}
	case ActionGroupSetPriority:
		priority, _ := args.(int)
		for _, j := range jobs {
			j.Priority = priority
		}
	case ActionGroupSetCategory:
		category, _ := args.(string)
		for _, j := range jobs {
			j.Category = category
		}
	case ActionGroupSetName:
		name, _ := args.(string)
		for _, j := range jobs {
			j.Name = name
		}
	case ActionGroupSetParameter:
		p, _ := args.(PostParameterArgs)
		for _, j := range jobs {
			j.SetParameter(p.Name, p.Value)
		}
	case ActionGroupSetDupeKey:
		key, _ := args.(string)
		for _, j := range jobs {
			j.DupeKey = key
		}
	case ActionGroupSetDupeScore:
		score, _ := args.(int)
		for _, j := range jobs {
			j.DupeScore = score
		}
	case ActionGroupSetDupeMode:
		mode, _ := args.(model.DupeMode)
		for _, j := range jobs {
			j.DupeMode = mode
		}
	case ActionGroupMove:
		moveArgs, _ := args.(MoveArgs)
		c.moveJobsLocked(jobs, moveArgs)
	case ActionGroupSort:
		sortArgs, _ := args.(SortArgs)
		c.sortQueueLocked(sortArgs)
	default:
		return false
	}
	for _, j := range jobs {
		j.Recompute()
	}
	return true
}

// PostParameterArgs is the args shape for ActionGroupSetParameter.
type PostParameterArgs struct{ Name, Value string }

// MoveArgs is the args shape for ActionGroupMove: exactly one of Offset,
// Top, Bottom should be set by the caller.
type MoveArgs struct {
	Offset int
	Top    bool
	Bottom bool
}

// moveJobsLocked repositions jobs within the queue, preserving their
// relative order.
func (c *Coordinator) moveJobsLocked(jobs []*model.Job, args MoveArgs) {
	ids := make(map[int64]bool, len(jobs))
	for _, j := range jobs {
		ids[j.ID] = true
	}
	var moving, rest []*model.Job
	for _, j := range c.queue.Jobs {
		if ids[j.ID] {
			moving = append(moving, j)
		} else {
			rest = append(rest, j)
		}
	}
	if len(moving) == 0 {
		return
	}

	switch {
	case args.Top:
		c.queue.Jobs = append(moving, rest...)
	case args.Bottom:
		c.queue.Jobs = append(rest, moving...)
	default:
		idx := c.queue.IndexOf(moving[0].ID)
		newIdx := clamp(idx+args.Offset, 0, len(c.queue.Jobs)-len(moving))
		out := make([]*model.Job, 0, len(c.queue.Jobs))
		out = append(out, rest[:newIdx]...)
		out = append(out, moving...)
		out = append(out, rest[newIdx:]...)
		c.queue.Jobs = out
	}
}

// deleteGroupLocked flags job for removal per flavor. If nothing is still
// downloading, the job leaves the queue immediately and is handed to the
// FinalizeHook; otherwise in-flight articles are canceled and finalization
// completes from OnArticleComplete once the last one reports in.
func (c *Coordinator) deleteGroupLocked(job *model.Job, flavor DeleteFlavor) {
	job.Deleting = true
	switch flavor {
	case DeleteFlavorPark:
		job.Parking = true
		job.DeleteStatus = model.DeleteStatusManual
	case DeleteFlavorAvoidHistory:
		job.AvoidHistory = true
		job.DeleteStatus = model.DeleteStatusManual
	case DeleteFlavorFinal:
		job.CleanupDisk = true
		job.DeleteStatus = model.DeleteStatusManual
	default:
		job.DeleteStatus = model.DeleteStatusManual
	}

	active := 0
	for _, f := range job.Files {
		active += f.ActiveDownloads
		for _, a := range f.Articles {
			if a.Status == model.ArticleStatusRunning {
				c.transport.Cancel(job.ID, f.ID, a.PartNumber)
			}
		}
	}
	if active == 0 {
		c.queue.Remove(job.ID)
		if c.finalizeHook != nil {
			c.finalizeHook.ParkJob(job, flavor)
		}
		c.bus.Emit(events.Notification{Action: events.NzbDeleted, JobID: job.ID})
	}
}

// mergeQueueEntriesLocked is MergeQueueEntries's body for callers already
// holding c.mu.
func (c *Coordinator) mergeQueueEntriesLocked(dst, src *model.Job) error {
	for _, f := range src.Files {
		f.JobID = dst.ID
		dst.Files = append(dst.Files, f)
	}
	dst.CompletedFiles = append(dst.CompletedFiles, src.CompletedFiles...)
	c.queue.Remove(src.ID)
	dst.Recompute()
	return nil
}

// splitQueueEntriesLocked is SplitQueueEntries's body for callers already
// holding c.mu.
func (c *Coordinator) splitQueueEntriesLocked(files []*model.File, newName string) (*model.Job, error) {
	if len(files) == 0 {
		return nil, errNoFiles
	}
	src := c.queue.Get(files[0].JobID)
	if src == nil {
		return nil, errJobNotFound
	}

	newJob := model.NewJob(c.ids.Next(), newName, c.cfg.MessageLogBuffer)
	newJob.DestDir = src.DestDir
	newJob.Category = src.Category
	newJob.Priority = src.Priority
	newJob.DupeMode = src.DupeMode

	moving := toFileIDSet(files)
	remaining := src.Files[:0:0]
	for _, f := range src.Files {
		if moving[f.ID] {
			f.JobID = newJob.ID
			newJob.Files = append(newJob.Files, f)
		} else {
			remaining = append(remaining, f)
		}
	}
	src.Files = remaining
	src.Recompute()
	newJob.Recompute()

	idx := c.queue.IndexOf(src.ID)
	c.queue.Jobs = append(c.queue.Jobs[:idx+1], append([]*model.Job{newJob}, c.queue.Jobs[idx+1:]...)...)
	return newJob, nil
}

func toFileIDSet(files []*model.File) map[int64]bool {
	m := make(map[int64]bool, len(files))
	for _, f := range files {
		m[f.ID] = true
	}
	return m
}

// SortArgs is the args shape for ActionGroupSort.
type SortArgs struct {
	Criterion string // "name" | "size" | "remainingSize" | "age" | "category" | "priority"
	Direction string // "+", "-", or "" for auto
}

func (c *Coordinator) sortQueueLocked(args SortArgs) {
	less := sortLess(args.Criterion)
	if less == nil {
		return
	}

	ascending := args.Direction != "-"
	if args.Direction == "" {
		alreadyAscending := sort.SliceIsSorted(c.queue.Jobs, func(i, k int) bool { return less(c.queue.Jobs[i], c.queue.Jobs[k]) })
		ascending = !(c.lastSortCriterion == args.Criterion && alreadyAscending)
	}
	c.lastSortCriterion = args.Criterion

	sort.SliceStable(c.queue.Jobs, func(i, k int) bool {
		if ascending {
			return less(c.queue.Jobs[i], c.queue.Jobs[k])
		}
		return less(c.queue.Jobs[k], c.queue.Jobs[i])
	})
}

func sortLess(criterion string) func(a, b *model.Job) bool {
	switch criterion {
	case "name":
		return func(a, b *model.Job) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case "size":
		return func(a, b *model.Job) bool { return a.Size < b.Size }
	case "remainingSize":
		return func(a, b *model.Job) bool { return a.RemainingSize < b.RemainingSize }
	case "age":
		return func(a, b *model.Job) bool { return a.DownloadStartTime.Before(b.DownloadStartTime) }
	case "category":
		return func(a, b *model.Job) bool { return strings.ToLower(a.Category) < strings.ToLower(b.Category) }
	case "priority":
		return func(a, b *model.Job) bool { return a.Priority < b.Priority }
	default:
		return nil
	}
}
