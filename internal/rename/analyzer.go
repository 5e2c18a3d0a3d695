// Package rename implements the per-article content analyzer and the
// direct-rename state machine that identifies obfuscated files from their
// first 16 KiB as articles stream in.
package rename

import (
	"crypto/md5"
	"hash"

	"github.com/nzbget-go/core/internal/par2"
)

// fingerprintWindow is the number of leading bytes hashed and inspected for
// the PAR2 magic signature.
const fingerprintWindow = 16 * 1024

// Fingerprint is the result the analyzer hands back once an article's first
// fingerprintWindow bytes (or its entirety, if shorter) have been observed.
type Fingerprint struct {
	Hash16k  [16]byte
	ParFile  bool
	HasSetID bool
	SetID    [16]byte
}

// Analyzer is a one-shot per-article content fingerprinter: a rolling MD5
// over the first 16 KiB only, plus a PAR2 magic sniff on the first
// par2.HeaderSize bytes. The public shape is a small opaque capability:
// Reset, Append, Finish.
type Analyzer struct {
	md5        hash.Hash
	hashed     int
	header     []byte // buffered until we have HeaderSize bytes; cleared by Reset
	headerDone bool
	isPar      bool
	setID      [16]byte
}

// NewAnalyzer constructs a ready-to-use Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{md5: md5.New()}
}

// Reset returns the Analyzer to its initial state for reuse.
func (a *Analyzer) Reset() {
	a.md5.Reset()
	a.hashed = 0
	a.header = nil
	a.headerDone = false
	a.isPar = false
	a.setID = [16]byte{}
}

// Append feeds the next chunk of raw article bytes into the analyzer. Bytes
// beyond the 16 KiB window are ignored for hashing purposes but the
// PAR2-header sniff only ever needs the first par2.HeaderSize bytes anyway.
func (a *Analyzer) Append(chunk []byte) {
	if !a.headerDone {
		need := par2.HeaderSize - len(a.header)
		if need > len(chunk) {
			need = len(chunk)
		}
		a.header = append(a.header, chunk[:need]...)
		if len(a.header) >= par2.HeaderSize {
			a.headerDone = true
			a.sniffHeader()
		}
	}

	if a.hashed >= fingerprintWindow {
		return
	}
	remaining := fingerprintWindow - a.hashed
	if remaining > len(chunk) {
		remaining = len(chunk)
	}
	a.md5.Write(chunk[:remaining])
	a.hashed += remaining
}

func (a *Analyzer) sniffHeader() {
	if !par2.HasMagic(a.header) {
		return
	}
	a.isPar = true
	// Header layout: Magic(8) Length(8) MD5(16) SetID(16) Type(16).
	if len(a.header) >= 48 {
		copy(a.setID[:], a.header[32:48])
	}
}

// Finish returns the accumulated fingerprint. The Analyzer may be Reset and
// reused afterward.
func (a *Analyzer) Finish() Fingerprint {
	fp := Fingerprint{ParFile: a.isPar, HasSetID: a.isPar, SetID: a.setID}
	copy(fp.Hash16k[:], a.md5.Sum(nil))
	return fp
}

// FingerprintIsReliable reports whether a first-article hash can be
// trusted: the article must cover the whole 16 KiB window, or be the
// file's only article (smaller files can't be fingerprinted reliably with
// a partial article). rawArticleSize is the on-wire size of the article as
// posted — the threshold deliberately applies to the raw size, not any
// decoded size.
func FingerprintIsReliable(rawArticleSize int64, articleCount int) bool {
	return rawArticleSize >= fingerprintWindow || articleCount == 1
}
