package nzb

import (
	"strings"
	"testing"

	"github.com/nzbget-go/core/internal/model"
)

const sampleNzb = `<?xml version="1.0" encoding="iso-8859-1"?>
<!DOCTYPE nzb PUBLIC "-//newzBin//DTD NZB 1.1//EN" "http://www.newzbin.com/DTD/nzb/nzb-1.1.dtd">
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
<head>
<meta type="password">secret</meta>
</head>
<file subject="[1/2] &quot;testfile.dat&quot; yEnc (1/3)" date="1000000000" poster="poster">
<groups><group>alt.binaries.test</group></groups>
<segments>
<segment bytes="500000" number="1">abc123@example.com</segment>
<segment bytes="500000" number="2">abc124@example.com</segment>
<segment bytes="500000" number="3">abc125@example.com</segment>
</segments>
</file>
<file subject="[2/2] &quot;testfile.par2&quot; yEnc (1/1)" date="1000000000" poster="poster">
<groups><group>alt.binaries.test</group></groups>
<segments>
<segment bytes="20000" number="1">abc200@example.com</segment>
</segments>
</file>
</nzb>
`

func TestParse(t *testing.T) {
	parsed, err := Parse(strings.NewReader(sampleNzb), "/incoming/release.nzb")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Filename != "release.nzb" {
		t.Fatalf("filename = %q", parsed.Filename)
	}
	if parsed.Password == nil || *parsed.Password != "secret" {
		t.Fatalf("password = %v", parsed.Password)
	}
	if len(parsed.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(parsed.Files))
	}

	dat, par := parsed.Files[0], parsed.Files[1]
	if dat.Filename != "testfile.dat" {
		t.Errorf("dat filename = %q", dat.Filename)
	}
	if dat.ParFile {
		t.Errorf("dat file should not be flagged as a par file")
	}
	if dat.Size != 1500000 {
		t.Errorf("dat size = %d, want 1500000", dat.Size)
	}
	if len(dat.Segments) != 3 {
		t.Errorf("dat segments = %d, want 3", len(dat.Segments))
	}

	if par.Filename != "testfile.par2" {
		t.Errorf("par filename = %q", par.Filename)
	}
	if !par.ParFile {
		t.Errorf("par file should be flagged as a par file")
	}
}

func TestParseSubjectFilename(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{`[1/2] "testfile.dat" yEnc (1/3)`, "testfile.dat"},
		{`some.release.name.r01 (1/10)`, "some.release.name.r01"},
		{`[1/1] - "abc.mkv" yEnc (1/1)`, "abc.mkv"},
	}
	for _, c := range cases {
		if got := parseSubjectFilename(c.subject); got != c.want {
			t.Errorf("parseSubjectFilename(%q) = %q, want %q", c.subject, got, c.want)
		}
	}
}

func TestParsePrivateWtfnzbSubject(t *testing.T) {
	got := parseSubjectFilename(`[PRiVATE]-[WtFnZb]-[somehash.dat] yEnc (1/1)`)
	if got != "somehash.dat" {
		t.Errorf("got %q, want somehash.dat", got)
	}
}

func TestParseNoFiles(t *testing.T) {
	empty := `<?xml version="1.0"?><nzb xmlns="http://www.newzbin.com/DTD/2003/nzb"></nzb>`
	if _, err := Parse(strings.NewReader(empty), "x.nzb"); err == nil {
		t.Fatal("expected error for an NZB with no files")
	}
}

func TestContentHashesStableUnderReorder(t *testing.T) {
	files := []ParsedFile{
		{Filename: "testfile.dat", Size: 1500000},
		{Filename: "testfile.par2", Size: 20000, ParFile: true},
	}
	reordered := []ParsedFile{files[1], files[0]}

	full1, filtered1 := ContentHashes(files)
	full2, filtered2 := ContentHashes(reordered)

	if full1 != full2 {
		t.Errorf("full hash differs under reordering: %q vs %q", full1, full2)
	}
	if filtered1 != filtered2 {
		t.Errorf("filtered hash differs under reordering: %q vs %q", filtered1, filtered2)
	}
	if full1 == filtered1 {
		t.Errorf("filtered hash should exclude the par2 file and differ from the full hash")
	}
}

func TestContentHashesCaseInsensitive(t *testing.T) {
	a := []ParsedFile{{Filename: "Testfile.DAT", Size: 100}}
	b := []ParsedFile{{Filename: "testfile.dat", Size: 100}}
	fullA, _ := ContentHashes(a)
	fullB, _ := ContentHashes(b)
	if fullA != fullB {
		t.Errorf("content hash should be case-insensitive over filenames")
	}
}

func TestBuildJob(t *testing.T) {
	parsed, err := Parse(strings.NewReader(sampleNzb), "/incoming/release.nzb")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ids := model.NewIDGenerator(1)
	job := BuildJob(ids, parsed, 100)

	if job.ID != 1 {
		t.Errorf("job id = %d, want 1", job.ID)
	}
	if len(job.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(job.Files))
	}
	if job.FullContentHash == "" || job.FilteredContentHash == "" {
		t.Errorf("expected content hashes to be populated")
	}
	if job.Size != 1520000 {
		t.Errorf("job size = %d, want 1520000", job.Size)
	}
	for _, f := range job.Files {
		if f.JobID != job.ID {
			t.Errorf("file %d jobID = %d, want %d", f.ID, f.JobID, job.ID)
		}
		if f.TotalArticles != len(f.Articles) {
			t.Errorf("file %d TotalArticles = %d, want %d", f.ID, f.TotalArticles, len(f.Articles))
		}
	}
}
