package model

import "time"

// Article is one posted part of a File. PartNumber identifies a
// unique, stable slot within the owning File's article vector; completed
// articles retain their terminal status until the File finalizes.
type Article struct {
	PartNumber     int
	MessageID      string
	Size           int64
	SegmentOffset  int64
	SegmentSize    int64
	CRC            uint32
	ResultFilename string // per-article tempfile written by the transport
	Status         ArticleStatus
	LastUpdateTime time.Time

	// Segment is an optional in-memory buffer used only while the article
	// is feeding the first-article content analyzer; discarded once
	// the analyzer has consumed it or the article count exceeds the
	// first-article window.
	Segment []byte
}

// IsTerminal reports whether the article has reached a final state and will
// not be retried by the scheduler without an explicit reset.
func (a *Article) IsTerminal() bool {
	return a.Status == ArticleStatusFinished || a.Status == ArticleStatusFailed
}
