// Package model defines the persisted-in-memory data model for the
// download queue and post-processing pipeline: Job, File, Article,
// CompletedFile, DupInfo and the small closed status enums that drive
// their lifecycle.
package model

// ParStatus is the outcome of the par-check/repair stage.
type ParStatus int

const (
	ParStatusNone ParStatus = iota
	ParStatusSkipped
	ParStatusFailure
	ParStatusSuccess
	ParStatusRepairPossible
	ParStatusManual
)

func (s ParStatus) String() string {
	switch s {
	case ParStatusSkipped:
		return "SKIPPED"
	case ParStatusFailure:
		return "FAILURE"
	case ParStatusSuccess:
		return "SUCCESS"
	case ParStatusRepairPossible:
		return "REPAIR_POSSIBLE"
	case ParStatusManual:
		return "MANUAL"
	default:
		return "NONE"
	}
}

// UnpackStatus is the outcome of the unpack stage.
type UnpackStatus int

const (
	UnpackStatusNone UnpackStatus = iota
	UnpackStatusSkipped
	UnpackStatusFailure
	UnpackStatusSuccess
	UnpackStatusSpace
	UnpackStatusPassword
)

func (s UnpackStatus) String() string {
	switch s {
	case UnpackStatusSkipped:
		return "SKIPPED"
	case UnpackStatusFailure:
		return "FAILURE"
	case UnpackStatusSuccess:
		return "SUCCESS"
	case UnpackStatusSpace:
		return "SPACE"
	case UnpackStatusPassword:
		return "PASSWORD"
	default:
		return "NONE"
	}
}

// DirectUnpackStatus tracks the streaming-unpack-while-downloading stage.
type DirectUnpackStatus int

const (
	DirectUnpackStatusNone DirectUnpackStatus = iota
	DirectUnpackStatusRunning
	DirectUnpackStatusFailure
	DirectUnpackStatusSuccess
)

// DirectRenameStatus tracks the in-flight direct-rename state machine.
type DirectRenameStatus int

const (
	DirectRenameStatusNone DirectRenameStatus = iota
	DirectRenameStatusRunning
	DirectRenameStatusFailure
	DirectRenameStatusSuccess
)

// PostRenameStatus is shared by the par-rename and rar-rename post-download passes.
type PostRenameStatus int

const (
	PostRenameStatusNone PostRenameStatus = iota
	PostRenameStatusSkipped
	PostRenameStatusNothing
	PostRenameStatusSuccess
)

// CleanupStatus and MoveStatus share the same None/Failure/Success shape.
type CleanupStatus int

const (
	CleanupStatusNone CleanupStatus = iota
	CleanupStatusFailure
	CleanupStatusSuccess
)

type MoveStatus int

const (
	MoveStatusNone MoveStatus = iota
	MoveStatusFailure
	MoveStatusSuccess
)

// DeleteStatus records why a Job was (or will be) removed from the queue.
type DeleteStatus int

const (
	DeleteStatusNone DeleteStatus = iota
	DeleteStatusManual
	DeleteStatusHealth
	DeleteStatusDupe
	DeleteStatusBad
	DeleteStatusGood
	DeleteStatusCopy
	DeleteStatusScan
)

func (s DeleteStatus) String() string {
	switch s {
	case DeleteStatusManual:
		return "MANUAL"
	case DeleteStatusHealth:
		return "HEALTH"
	case DeleteStatusDupe:
		return "DUPE"
	case DeleteStatusBad:
		return "BAD"
	case DeleteStatusGood:
		return "GOOD"
	case DeleteStatusCopy:
		return "COPY"
	case DeleteStatusScan:
		return "SCAN"
	default:
		return "NONE"
	}
}

// MarkStatus is an operator-applied annotation used by the dupe coordinator.
type MarkStatus int

const (
	MarkStatusNone MarkStatus = iota
	MarkStatusBad
	MarkStatusGood
	MarkStatusSuccess
)

// UrlStatus tracks a Url-kind job's fetch-then-add pipeline.
type UrlStatus int

const (
	UrlStatusNone UrlStatus = iota
	UrlStatusRunning
	UrlStatusFinished
	UrlStatusFailed
	UrlStatusRetry
	UrlStatusScanSkipped
	UrlStatusScanFailed
)

// JobKind distinguishes a ready-to-download NZB job from a fetch-then-add URL job.
type JobKind int

const (
	JobKindNzb JobKind = iota
	JobKindURL
)

// DupeMode selects how the dupe coordinator resolves competing candidates.
type DupeMode int

const (
	DupeModeScore DupeMode = iota
	DupeModeAll
	DupeModeForce
)

// DupeHint marks a job as the product of a redownload request, short-circuiting
// most of the nzbFound dupe checks.
type DupeHint int

const (
	DupeHintNone DupeHint = iota
	DupeHintRedownloadManual
	DupeHintRedownloadAuto
)

// ArticleStatus is the lifecycle state of a single posted article.
type ArticleStatus int

const (
	ArticleStatusUndefined ArticleStatus = iota
	ArticleStatusRunning
	ArticleStatusFinished
	ArticleStatusFailed
)

// PartialState describes how much of a File's output has been committed to disk.
type PartialState int

const (
	PartialStateNone PartialState = iota
	PartialStatePartial
	PartialStateCompleted
)

// CompletedFileStatus is the immutable-after-commit status of a CompletedFile record.
type CompletedFileStatus int

const (
	CompletedFileStatusNone CompletedFileStatus = iota
	CompletedFileStatusSuccess
	CompletedFileStatusPartial
	CompletedFileStatusFailure
)

// DupInfoStatus is the status vector carried by a history "shadow" entry.
type DupInfoStatus int

const (
	DupInfoStatusUndefined DupInfoStatus = iota
	DupInfoStatusSuccess
	DupInfoStatusFailed
	DupInfoStatusDeleted
	DupInfoStatusDupe
	DupInfoStatusBad
	DupInfoStatusGood
)

// MessageKind is the severity of a Job log line.
type MessageKind int

const (
	MessageDebug MessageKind = iota
	MessageDetail
	MessageInfo
	MessageWarning
	MessageError
)
