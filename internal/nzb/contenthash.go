package nzb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ContentHashes computes the full and filtered content fingerprints the
// dupe coordinator uses for identical-content detection. Both are a deterministic digest
// over the file list's (name, size) pairs, sorted so file order in the NZB
// never affects the result; filtered additionally excludes .par2 index files, since two
// postings of the same release commonly differ only in how they split
// their par redundancy.
func ContentHashes(files []ParsedFile) (full, filtered string) {
	return hashFiles(files, false), hashFiles(files, true)
}

func hashFiles(files []ParsedFile, excludePar bool) string {
	type entry struct {
		name string
		size int64
	}
	entries := make([]entry, 0, len(files))
	for _, f := range files {
		if excludePar && f.ParFile {
			continue
		}
		entries = append(entries, entry{strings.ToLower(f.Filename), f.Size})
	}
	if len(entries) == 0 {
		return ""
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].name != entries[j].name {
			return entries[i].name < entries[j].name
		}
		return entries[i].size < entries[j].size
	})

	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s|%d\n", e.name, e.size)
	}
	return hex.EncodeToString(h.Sum(nil))
}
