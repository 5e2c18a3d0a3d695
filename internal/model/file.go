package model

import "sync"

// File is a posted file within a Job. Files carry their owning
// Job id rather than a pointer back to the Job, so the queue can be
// modeled as an arena of Jobs keyed by id.
type File struct {
	ID       int64
	JobID    int64
	Subject  string
	Filename string // parsed/current filename
	Origname string // pre-rename filename, preserved on first rename only

	FilenameConfirmed bool

	Size         int64
	RemainingSize int64
	SuccessSize  int64
	FailedSize   int64
	MissedSize   int64 // bytes attributable to missing (undefined) articles

	TotalArticles     int
	MissedArticles    int
	FailedArticles    int
	SuccessArticles   int
	CompletedArticles int

	Paused            bool
	Deleted           bool
	ParFile           bool
	ExtraPriority     bool
	OutputInitialized bool
	ForceDirectWrite  bool
	DupeDeleted       bool
	FlushLocked       bool

	Hash16k  [16]byte
	HasHash  bool
	ParSetID [16]byte
	HasSetID bool
	CRC      uint32

	PartialState    PartialState
	OutputFilename  string // on-disk temp name while writing, e.g. "<name>.out.tmp"

	ActiveDownloads int
	outputMu        *sync.Mutex // created on 0->1 active-downloads transition

	Articles []*Article

	ServerStats map[int]*ServerStats // per-server byte/article counters
}

// NewFile constructs a File ready to receive article dispatches.
func NewFile(id, jobID int64, subject, filename string) *File {
	return &File{
		ID:          id,
		JobID:       jobID,
		Subject:     subject,
		Filename:    filename,
		Origname:    filename,
		ServerStats: make(map[int]*ServerStats),
	}
}

// BeginDownload increments the active-download counter and lazily creates
// the per-File output mutex on the 0->1 transition.
func (f *File) BeginDownload() *sync.Mutex {
	if f.ActiveDownloads == 0 {
		f.outputMu = &sync.Mutex{}
	}
	f.ActiveDownloads++
	return f.outputMu
}

// EndDownload decrements the active-download counter and releases the
// output mutex once the last in-flight download for this File completes.
func (f *File) EndDownload() {
	if f.ActiveDownloads > 0 {
		f.ActiveDownloads--
	}
	if f.ActiveDownloads == 0 {
		f.outputMu = nil
	}
}

// OutputMutex returns the mutex guarding writes to the output file, or nil
// if there are no active downloads.
func (f *File) OutputMutex() *sync.Mutex {
	return f.outputMu
}

// HasRunnableArticle reports whether the file is neither deleted nor
// paused and any Article is still Undefined.
func (f *File) HasRunnableArticle() bool {
	if f.Deleted || f.Paused {
		return false
	}
	for _, a := range f.Articles {
		if a.Status == ArticleStatusUndefined {
			return true
		}
	}
	return false
}

// IsComplete reports whether every non-deleted article has terminated.
func (f *File) IsComplete() bool {
	for _, a := range f.Articles {
		if !a.IsTerminal() {
			return false
		}
	}
	return true
}

// FirstArticle returns the file's first article, or nil if it has none.
func (f *File) FirstArticle() *Article {
	if len(f.Articles) == 0 {
		return nil
	}
	return f.Articles[0]
}

// NeedsFirstArticleFingerprint reports whether the direct-rename state
// machine is still waiting on this file's hash16k (and, for par
// files, its setid).
func (f *File) NeedsFirstArticleFingerprint() bool {
	if !f.HasHash {
		return true
	}
	if f.ParFile && !f.HasSetID {
		return true
	}
	return false
}

// ServerStats accumulates per-server byte/article counters, shared by Job and File.
type ServerStats struct {
	SuccessArticles int
	FailedArticles  int
	SuccessBytes    int64
	FailedBytes     int64
}

// ToCompletedFile converts a terminated File into its immutable history
// record.
func (f *File) ToCompletedFile(status CompletedFileStatus) *CompletedFile {
	return &CompletedFile{
		ID:       f.ID,
		Filename: f.Filename,
		Origname: f.Origname,
		Status:   status,
		CRC:      f.CRC,
		ParFile:  f.ParFile,
		Hash16k:  f.Hash16k,
		HasHash:  f.HasHash,
		ParSetID: f.ParSetID,
		HasSetID: f.HasSetID,

		PartialState: f.PartialState,
	}
}
