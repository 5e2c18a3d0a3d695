// Package nzb parses NZB files into the core data model and derives the
// dupe-coordinator content fingerprints from the result. Only the
// NZB-declared segment sizes are used; decoded-size reconciliation belongs
// to the article transport, an external collaborator.
package nzb

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/javi11/nzbparser"
)

// Segment is one posted part of a file, as declared by the NZB.
type Segment struct {
	Number    int
	MessageID string
	Bytes     int64
}

// ParsedFile is one file entry extracted from an NZB.
type ParsedFile struct {
	Subject  string
	Filename string
	Size     int64
	Groups   []string
	Segments []Segment
	ParFile  bool
}

// ParsedNzb is the result of parsing one NZB file.
type ParsedNzb struct {
	Path     string
	Filename string
	Files    []ParsedFile
	Password *string // from <head><meta type="password">, nil if absent
}

var par2Pattern = regexp.MustCompile(`(?i)\.par2$`)

// yencSuffix strips the "yEnc (n/m)" suffix NZB posting software appends to
// the subject line before any further parsing.
var yencSuffix = regexp.MustCompile(`\s*yEnc\s*\(\d+/\d+\)\s*$`)

// quotedWithDot finds the first double-quoted substring that contains a dot.
var quotedWithDot = regexp.MustCompile(`"([^"]*\.[^"]*)"`)

// privateWtfnzb detects a common obfuscated-subject posting convention;
// the filename hidden behind it is the token after the tag, without the
// square brackets the convention usually wraps it in.
var privateWtfnzb = regexp.MustCompile(`(?i)\[PRiVATE\]-\[WtFnZb\]-\[?([^\]\s]+)`)

// Parse reads an NZB document from r.
func Parse(r io.Reader, path string) (*ParsedNzb, error) {
	n, err := nzbparser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("nzb: parse: %w", err)
	}
	if len(n.Files) == 0 {
		return nil, fmt.Errorf("nzb: no files present")
	}

	parsed := &ParsedNzb{
		Path:     path,
		Filename: filepath.Base(path),
		Files:    make([]ParsedFile, 0, len(n.Files)),
	}
	if n.Meta != nil {
		if pw, ok := n.Meta["password"]; ok && pw != "" {
			parsed.Password = &pw
		}
	}

	for _, f := range n.Files {
		parsed.Files = append(parsed.Files, parseFile(f))
	}
	return parsed, nil
}

func parseFile(f nzbparser.NzbFile) ParsedFile {
	segments := make([]Segment, len(f.Segments))
	for i, s := range f.Segments {
		segments[i] = Segment{Number: s.Number, MessageID: s.ID, Bytes: int64(s.Bytes)}
	}

	name := parseSubjectFilename(f.Subject)
	if name == "" {
		name = f.Filename
	}

	return ParsedFile{
		Subject:  f.Subject,
		Filename: name,
		Size:     fileSize(f, segments),
		Groups:   f.Groups,
		Segments: segments,
		ParFile:  par2Pattern.MatchString(name),
	}
}

// fileSize prefers the NZB-declared total (file.Bytes); nzbparser leaves
// this zero for some posting tools, so fall back to summing segment sizes.
func fileSize(f nzbparser.NzbFile, segments []Segment) int64 {
	if f.Bytes > 0 {
		return int64(f.Bytes)
	}
	var sum int64
	for _, s := range segments {
		sum += s.Bytes
	}
	return sum
}

// parseSubjectFilename recovers a filename from a posted subject: strip the
// yEnc suffix, then prefer quoted content containing a dot, else the last
// dotted whitespace-separated token, with the obfuscated "[PRiVATE]-
// [WtFnZb]-..." posting convention handled by extracting its trailing token
// and re-applying the same last-dotted-token fallback.
func parseSubjectFilename(subject string) string {
	s := strings.TrimSpace(yencSuffix.ReplaceAllString(subject, ""))

	if m := privateWtfnzb.FindStringSubmatch(s); m != nil {
		if name := lastDottedToken(m[1]); name != "" {
			return name
		}
		return m[1]
	}

	if m := quotedWithDot.FindStringSubmatch(s); m != nil {
		return m[1]
	}

	return lastDottedToken(s)
}

func lastDottedToken(s string) string {
	fields := strings.Fields(s)
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.Contains(fields[i], ".") {
			return fields[i]
		}
	}
	return ""
}
