package app

import (
	"context"

	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/queue"
)

// NoopTransport is a placeholder queue.Transport for running the core
// without a connected NNTP pool (e.g. in a demo/test deployment). Every
// fetch fails immediately, letting the scheduler's normal failure/retry
// machinery exercise correctly even with nothing on the other end. The
// real article-fetch transport is an external collaborator and is
// intentionally not implemented here.
type NoopTransport struct{}

// Fetch implements queue.Transport.
func (NoopTransport) Fetch(ctx context.Context, req queue.ArticleRequest, onComplete func(queue.ArticleResult)) {
	go onComplete(queue.ArticleResult{
		JobID:      req.JobID,
		FileID:     req.FileID,
		PartNumber: req.PartNumber,
		Status:     model.ArticleStatusFailed,
	})
}

// Cancel implements queue.Transport.
func (NoopTransport) Cancel(jobID, fileID int64, partNumber int) {}
