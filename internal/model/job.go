package model

import (
	"time"

	"github.com/nzbget-go/core/internal/nameutil"
)

// ScriptStatus records the outcome of one post-processing script run.
type ScriptStatus struct {
	Name   string
	Status string // free-form outcome text reported by the external script runner
}

// PostParameter is a named post-processing parameter. Names are unique
// within a Job, compared case-insensitively.
type PostParameter struct {
	Name  string
	Value string
}

// Job is an NZB collection. A Job owns an ordered list of Files
// and, once each File terminates, an ordered list of CompletedFile records.
// Ids are monotonically assigned and never reused within a run.
type Job struct {
	ID   int64
	Kind JobKind

	Name           string
	SourceFilename string
	DestDir        string
	FinalDir       string
	Category       string

	TotalFiles        int
	PausedFiles       int
	RemainingParCount int
	ActiveDownloads   int
	TotalArticles     int
	SuccessArticles   int
	FailedArticles    int

	Size            int64
	RemainingSize   int64
	PausedSize      int64
	SuccessSize     int64
	FailedSize      int64
	ParSize         int64
	ParSuccessSize  int64
	ParFailedSize   int64

	// CurrentSuccessSize etc. are recomputed on demand by Recompute, never
	// persisted as truth.
	CurrentSuccessSize int64
	CurrentFailedSize  int64
	CurrentParFailedSize int64

	FullContentHash     string
	FilteredContentHash string
	DupeKey             string
	DupeScore           int
	DupeMode            DupeMode
	DupeHint            DupeHint

	ParStatus           ParStatus
	UnpackStatus        UnpackStatus
	MoveStatus          MoveStatus
	CleanupStatus       CleanupStatus
	DeleteStatus        DeleteStatus
	MarkStatus          MarkStatus
	URLStatus           UrlStatus
	DirectRenameStatus  DirectRenameStatus
	ParRenameStatus     PostRenameStatus
	RarRenameStatus     PostRenameStatus
	DirectUnpackStatus  DirectUnpackStatus

	Deleting            bool
	Parking             bool
	AvoidHistory        bool
	HealthPaused        bool
	DeletePaused        bool
	CleanupDisk         bool
	UnpackCleanedUpDisk bool
	AllFirst            bool
	WaitingPar          bool
	LoadingPar          bool
	ManyDupeFiles       bool

	Priority int

	MinArticleTime  time.Time
	MaxArticleTime  time.Time
	DownloadStartTime time.Time
	DownloadedBytes int64

	PostTotalSeconds int
	ParSeconds       int
	RepairSeconds    int
	UnpackSeconds    int

	Files          []*File
	CompletedFiles []*CompletedFile
	Parameters     []PostParameter
	Scripts        []ScriptStatus
	Messages       *MessageLog

	ServerStats        map[int]*ServerStats
	CurrentServerStats map[int]*ServerStats

	// CriticalHealth is the health floor below which repair is
	// mathematically impossible given the par size (glossary).
	CriticalHealth int

	// completed* accumulate the terminal contribution of Files that have
	// already been converted to CompletedFile records (which do not carry
	// size). Recompute adds these to the live Files' current totals so that
	// size/par_size/etc. keep holding the sum over every file the job ever
	// had, even after files leave the live list.
	completedSize           int64
	completedSuccessSize    int64
	completedFailedSize     int64
	completedParSize        int64
	completedParSuccessSize int64
	completedParFailedSize  int64
	completedTotalArticles  int
	completedSuccessArts    int
	completedFailedArts     int
}

// RecordCompletion folds a terminated File's final counters into the Job's
// completed-accumulators just before it is converted to a CompletedFile and
// dropped from the live list.
func (j *Job) RecordCompletion(f *File) {
	j.completedSize += f.Size
	j.completedSuccessSize += f.SuccessSize
	j.completedFailedSize += f.FailedSize
	j.completedTotalArticles += f.TotalArticles
	j.completedSuccessArts += f.SuccessArticles
	j.completedFailedArts += f.FailedArticles
	if f.ParFile {
		j.completedParSize += f.Size
		j.completedParSuccessSize += f.SuccessSize
		j.completedParFailedSize += f.FailedSize
	}
}

// CompletedAccumulators returns the nine completed-file accumulator totals,
// for persistence.
func (j *Job) CompletedAccumulators() (size, successSize, failedSize, parSize, parSuccessSize, parFailedSize int64, totalArticles, successArts, failedArts int) {
	return j.completedSize, j.completedSuccessSize, j.completedFailedSize,
		j.completedParSize, j.completedParSuccessSize, j.completedParFailedSize,
		j.completedTotalArticles, j.completedSuccessArts, j.completedFailedArts
}

// SetCompletedAccumulators restores the accumulators read back from
// persisted state; callers must call Recompute afterward.
func (j *Job) SetCompletedAccumulators(size, successSize, failedSize, parSize, parSuccessSize, parFailedSize int64, totalArticles, successArts, failedArts int) {
	j.completedSize = size
	j.completedSuccessSize = successSize
	j.completedFailedSize = failedSize
	j.completedParSize = parSize
	j.completedParSuccessSize = parSuccessSize
	j.completedParFailedSize = parFailedSize
	j.completedTotalArticles = totalArticles
	j.completedSuccessArts = successArts
	j.completedFailedArts = failedArts
}

// NewJob constructs a Job with an initialized message log and kind=Nzb.
func NewJob(id int64, name string, logBuffer int) *Job {
	return &Job{
		ID:                 id,
		Kind:               JobKindNzb,
		Name:               name,
		DupeMode:           DupeModeScore,
		Messages:           NewMessageLog(logBuffer),
		ServerStats:        make(map[int]*ServerStats),
		CurrentServerStats: make(map[int]*ServerStats),
		CriticalHealth:     1000,
	}
}

// GetParameter looks up a post-processing parameter by name, case-insensitively.
func (j *Job) GetParameter(name string) (string, bool) {
	for _, p := range j.Parameters {
		if nameutil.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

// SetParameter inserts or overwrites a post-processing parameter by name
// (case-insensitive, unique by name).
func (j *Job) SetParameter(name, value string) {
	for i, p := range j.Parameters {
		if nameutil.EqualFold(p.Name, name) {
			j.Parameters[i].Value = value
			return
		}
	}
	j.Parameters = append(j.Parameters, PostParameter{Name: name, Value: value})
}

// Recompute rebuilds every derived aggregate from the live Files and
// CompletedFiles. It must be called after any mutation
// that changes file/article state; its outputs are never persisted as truth.
func (j *Job) Recompute() {
	size := j.completedSize
	success := j.completedSuccessSize
	failed := j.completedFailedSize
	parSize := j.completedParSize
	parSuccess := j.completedParSuccessSize
	parFailed := j.completedParFailedSize
	totalArticles := j.completedTotalArticles
	successArticles := j.completedSuccessArts
	failedArticles := j.completedFailedArts

	var remaining, paused int64
	var pausedFiles, remainingPar int
	currentSuccess := success
	currentFailed := failed
	currentParFailed := parFailed

	for _, f := range j.Files {
		size += f.Size
		remaining += f.RemainingSize
		if f.Paused {
			paused += f.RemainingSize
			pausedFiles++
		}
		success += f.SuccessSize
		failed += f.FailedSize
		if f.ParFile && !f.Deleted {
			remainingPar++
		}
		if f.ParFile {
			parSize += f.Size
			parSuccess += f.SuccessSize
			parFailed += f.FailedSize
			currentParFailed += f.FailedSize
		}
		totalArticles += f.TotalArticles
		successArticles += f.SuccessArticles
		failedArticles += f.FailedArticles
		currentSuccess += f.SuccessSize
		currentFailed += f.FailedSize
	}

	j.Size = size
	j.RemainingSize = remaining
	j.PausedSize = paused
	j.SuccessSize = success
	j.FailedSize = failed
	j.ParSize = parSize
	j.ParSuccessSize = parSuccess
	j.ParFailedSize = parFailed
	j.TotalFiles = len(j.Files) + len(j.CompletedFiles)
	j.PausedFiles = pausedFiles
	j.RemainingParCount = remainingPar
	j.TotalArticles = totalArticles
	j.SuccessArticles = successArticles
	j.FailedArticles = failedArticles
	j.CurrentSuccessSize = currentSuccess
	j.CurrentFailedSize = currentFailed
	j.CurrentParFailedSize = currentParFailed
}

// Health computes the 0..1000 health score.
func (j *Job) Health() int {
	if j.CurrentFailedSize == 0 || j.Size == j.ParSize {
		return 1000
	}
	denom := j.Size - j.ParSize
	if denom <= 0 {
		return 1000
	}
	numer := denom - (j.CurrentFailedSize - j.CurrentParFailedSize)
	health := numer * 1000 / denom
	nonParFailed := j.CurrentFailedSize - j.CurrentParFailedSize
	if nonParFailed > 0 && health >= 1000 {
		health = 999
	}
	if health > 1000 {
		health = 1000
	}
	if health < 0 {
		health = 0
	}
	return int(health)
}

// IsFinished reports whether every live File has terminated.
func (j *Job) IsFinished() bool {
	if len(j.Files) == 0 {
		return true
	}
	for _, f := range j.Files {
		if !f.IsComplete() {
			return false
		}
	}
	return true
}

// IsInPostProcessing reports whether the job has left the download phase
// and entered verification/repair/unpack (used by the dupe coordinator's
// queue-resolution step).
func (j *Job) IsInPostProcessing() bool {
	return j.IsFinished() && j.DeleteStatus == DeleteStatusNone
}

// StatusText renders the deterministic short status string. Delete status
// takes precedence over stage-local failures, which take precedence over a
// generic SUCCESS/ALL.
func (j *Job) StatusText() string {
	switch j.DeleteStatus {
	case DeleteStatusManual:
		return "DELETED/MANUAL"
	case DeleteStatusHealth:
		return "DELETED/HEALTH"
	case DeleteStatusDupe:
		return "DELETED/DUPE"
	case DeleteStatusBad:
		return "DELETED/BAD"
	case DeleteStatusGood:
		return "DELETED/GOOD"
	case DeleteStatusCopy:
		return "DELETED/COPY"
	case DeleteStatusScan:
		return "DELETED/SCAN"
	}
	if j.ParStatus == ParStatusFailure {
		return "FAILURE/PAR"
	}
	if j.UnpackStatus == UnpackStatusFailure {
		return "FAILURE/UNPACK"
	}
	if j.UnpackStatus == UnpackStatusSpace {
		return "WARNING/SPACE"
	}
	if j.UnpackStatus == UnpackStatusPassword {
		return "WARNING/PASSWORD"
	}
	if j.Health() < 1000 {
		return "WARNING/HEALTH"
	}
	return "SUCCESS/ALL"
}
