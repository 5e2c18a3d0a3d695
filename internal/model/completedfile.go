package model

// CompletedFile is the immutable-after-commit record a File becomes once
// every non-deleted article has terminated. It carries enough of
// the File's fingerprint state (Hash16k, ParSetID) for the direct/par
// renamer and the history-retry path to operate without resurrecting the
// Article vector.
type CompletedFile struct {
	ID       int64
	Filename string
	Origname string
	Status   CompletedFileStatus
	CRC      uint32
	ParFile  bool
	Hash16k  [16]byte
	HasHash  bool
	ParSetID [16]byte
	HasSetID bool

	// PartialState is preserved so history-retry can rebuild a live File
	// without re-downloading articles that already succeeded. Per-server
	// download counters are not kept here.
	PartialState PartialState
}
