package model

// DupInfo is a history "shadow" of a Job after hiding. It is the
// compact record the Dupe coordinator consults once a full HistoryEntry has
// aged out, so the coordinator's memory of what was once downloaded
// outlives the full entry.
type DupInfo struct {
	ID   int64
	Name string

	DupeKey   string
	DupeScore int
	DupeMode  DupeMode

	Size int64

	FullContentHash     string
	FilteredContentHash string

	Status DupInfoStatus
}
