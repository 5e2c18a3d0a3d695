// Package queue implements the download queue coordinator and
// editor: scheduling, article dispatch, completion handling,
// finalization, and the RPC edit surface, all guarded by one coarse lock.
package queue

import (
	"context"

	"github.com/nzbget-go/core/internal/model"
)

// ArticleRequest is everything a Transport needs to fetch one article. It
// mirrors the subset of model.Article the coordinator has already decided
// to dispatch.
type ArticleRequest struct {
	JobID, FileID int64
	PartNumber    int
	MessageID     string
	Size          int64
	SegmentOffset int64
	SegmentSize   int64

	// WantSegment is true for a file's first article when the direct-rename
	// state machine still needs its content analyzed; the
	// transport should populate ArticleResult.Segment with up to the first
	// 16 KiB of decoded article body in that case.
	WantSegment bool
}

// ArticleResult is what a Transport reports back on completion. Status must be ArticleStatusFinished or ArticleStatusFailed.
type ArticleResult struct {
	JobID, FileID int64
	PartNumber    int

	Status         model.ArticleStatus
	CRC            uint32
	ResultFilename string
	Segment        []byte // populated only when the request set WantSegment
}

// Transport is the external collaborator that performs the actual NNTP
// article fetch and its connection-pool management. The
// coordinator only ever calls Fetch and, for hanging-download detection,
// Cancel; it never inspects connection state itself.
// onComplete must eventually be invoked exactly once per Fetch call, from
// any goroutine; Failed is always an acceptable terminal outcome.
type Transport interface {
	Fetch(ctx context.Context, req ArticleRequest, onComplete func(ArticleResult))
	Cancel(jobID, fileID int64, partNumber int)
}

// OutputWriter assembles a File's per-article result files into the job's
// final on-disk output. Separated from Transport because assembly is
// local disk I/O the core is responsible for, even though article fetch
// itself is not.
type OutputWriter interface {
	// WriteFile writes f's output under destDir, returning the final
	// on-disk filename actually used and how complete the result is.
	WriteFile(ctx context.Context, destDir string, f *model.File) (filename string, state model.PartialState, err error)
}
