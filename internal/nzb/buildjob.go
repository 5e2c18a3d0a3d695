package nzb

import "github.com/nzbget-go/core/internal/model"

// BuildJob constructs a fresh model.Job from a parsed NZB, ready to be
// handed to the queue coordinator's AddNzbToQueue.
func BuildJob(ids *model.IDGenerator, parsed *ParsedNzb, logBuffer int) *model.Job {
	job := model.NewJob(ids.Next(), parsed.Filename, logBuffer)
	job.SourceFilename = parsed.Path
	job.Files = BuildFiles(ids, job.ID, parsed)

	full, filtered := ContentHashes(parsed.Files)
	job.FullContentHash = full
	job.FilteredContentHash = filtered

	job.Recompute()
	return job
}

// BuildFiles constructs the live File list a parsed NZB describes, owned by
// jobID. Split out from BuildJob so historyRedownload can re-parse a saved
// NZB back into the id of the Job it is reviving, rather than minting a new
// one (a HistoryEntry keeps the id of the Job it wraps; a redownload must
// keep it too).
func BuildFiles(ids *model.IDGenerator, jobID int64, parsed *ParsedNzb) []*model.File {
	files := make([]*model.File, 0, len(parsed.Files))
	for _, pf := range parsed.Files {
		file := model.NewFile(ids.Next(), jobID, pf.Subject, pf.Filename)
		file.Size = pf.Size
		file.RemainingSize = pf.Size
		file.ParFile = pf.ParFile

		file.Articles = make([]*model.Article, 0, len(pf.Segments))
		for _, seg := range pf.Segments {
			file.Articles = append(file.Articles, &model.Article{
				PartNumber: seg.Number,
				MessageID:  seg.MessageID,
				Size:       seg.Bytes,
			})
		}
		file.TotalArticles = len(file.Articles)

		files = append(files, file)
	}
	return files
}
