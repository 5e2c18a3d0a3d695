// Package scanner implements the incoming-directory intake: it watches a
// configured directory tree for NZB files, waits for each to go
// size-stable, applies category-derived post-processing parameters, parses
// it via internal/nzb, and hands the resulting Job to the queue
// coordinator.
package scanner

import (
	"sync"
	"time"

	"github.com/nzbget-go/core/internal/model"
)

// AddStatus reports how a scanned candidate resolved, for addExternalFile's
// synchronous RPC callers.
type AddStatus int

const (
	AddStatusPending AddStatus = iota
	AddStatusSkipped
	AddStatusFailed
	AddStatusAdded
)

func (s AddStatus) String() string {
	switch s {
	case AddStatusPending:
		return "pending"
	case AddStatusSkipped:
		return "skipped"
	case AddStatusFailed:
		return "failed"
	case AddStatusAdded:
		return "added"
	default:
		return "unknown"
	}
}

// CategoryParams are the post-processing knobs a watch-directory
// subdirectory (or an external scan-script) can set for a candidate.
type CategoryParams struct {
	Category string
	Priority int
	DupeMode model.DupeMode
	DupeHint model.DupeHint
	Paused   bool
	AddTop   bool
}

// fileState is the per-file size-stability record the scanner keeps so a
// file still being written is never parsed mid-copy.
type fileState struct {
	size       int64
	lastChange time.Time
}

// pendingCandidate is the addExternalFile wait record: one goroutine blocks
// on done until the scan loop resolves the unique-named file it planted.
type pendingCandidate struct {
	status AddStatus
	done   chan struct{}
}

// Status is the scanner's externally-observable state.
type Status struct {
	LastScan    time.Time
	FilesFound  int
	FilesAdded  int
	LastError   string
}

type stateTracker struct {
	mu     sync.Mutex
	files  map[string]fileState
	status Status
}

func newStateTracker() *stateTracker {
	return &stateTracker{files: make(map[string]fileState)}
}
