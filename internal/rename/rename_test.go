package rename

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeScheduler struct {
	boosted []int64
}

func (s *fakeScheduler) UnpauseAndPrioritize(jobID, fileID int64) {
	s.boosted = append(s.boosted, fileID)
}

type fakeQueue struct {
	jobs map[int64]*model.Job
}

func (q *fakeQueue) Lock()   {}
func (q *fakeQueue) Unlock() {}
func (q *fakeQueue) GetJob(id int64) *model.Job {
	return q.jobs[id]
}

func TestAnalyzerFingerprintsParMagic(t *testing.T) {
	a := NewAnalyzer()
	header := make([]byte, 64)
	copy(header[0:8], MagicBytesForTest())
	var setID [16]byte
	copy(setID[:], []byte("0123456789abcdef"))
	copy(header[32:48], setID[:])

	a.Append(header)
	a.Append([]byte("trailing payload"))
	fp := a.Finish()

	assert.True(t, fp.ParFile)
	assert.True(t, fp.HasSetID)
	assert.Equal(t, setID, fp.SetID)
}

func TestFingerprintIsReliable(t *testing.T) {
	assert.True(t, FingerprintIsReliable(16*1024, 5))
	assert.True(t, FingerprintIsReliable(100, 1))
	assert.False(t, FingerprintIsReliable(100, 5))
}

func TestOnArticleFingerprintAppliesOnce(t *testing.T) {
	f := model.NewFile(1, 1, "subj", "obfuscated.bin")
	f.TotalArticles = 1

	r := &Renamer{log: testLogger()}
	fp := Fingerprint{Hash16k: [16]byte{1, 2, 3}}
	r.OnArticleFingerprint(f, fp, 20*1024)
	require.True(t, f.HasHash)
	assert.Equal(t, fp.Hash16k, f.Hash16k)

	// A second call must not clobber the first hash.
	r.OnArticleFingerprint(f, Fingerprint{Hash16k: [16]byte{9, 9, 9}}, 20*1024)
	assert.Equal(t, fp.Hash16k, f.Hash16k)
}

func TestCheckStateWaitsOnUnresolvedFingerprint(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	f := model.NewFile(1, 1, "subj", "unknown.dat")
	f.Articles = []*model.Article{{Status: model.ArticleStatusUndefined}}
	job.Files = []*model.File{f}

	r := New(&fakeQueue{}, &fakeScheduler{}, events.NewBus(), afero.NewMemMapFs(), testLogger())
	r.CheckState(job)

	assert.Equal(t, model.DirectRenameStatusNone, job.DirectRenameStatus)
	assert.False(t, job.WaitingPar)
}

func TestCheckStateBoostsSmallestParPerSet(t *testing.T) {
	job := model.NewJob(1, "job", 10)

	var setA [16]byte
	copy(setA[:], []byte("setasetasetaseta"))

	small := model.NewFile(1, 1, "subj", "a.vol00+01.par2")
	small.ParFile, small.HasSetID, small.ParSetID, small.HasHash = true, true, setA, true
	small.Size = 100
	small.Articles = []*model.Article{{Status: model.ArticleStatusUndefined}}

	big := model.NewFile(2, 1, "subj", "a.vol01+02.par2")
	big.ParFile, big.HasSetID, big.ParSetID, big.HasHash = true, true, setA, true
	big.Size = 900
	big.Articles = []*model.Article{{Status: model.ArticleStatusUndefined}}

	job.Files = []*model.File{small, big}

	sched := &fakeScheduler{}
	r := New(&fakeQueue{}, sched, events.NewBus(), afero.NewMemMapFs(), testLogger())
	r.CheckState(job)

	require.True(t, job.WaitingPar)
	require.Len(t, sched.boosted, 1)
	assert.Equal(t, int64(1), sched.boosted[0])
	assert.True(t, small.ExtraPriority)
}

func TestCheckStateLoadsParsImmediatelyWhenAllComplete(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	job.DestDir = "/dl"
	job.CompletedFiles = []*model.CompletedFile{
		{ID: 1, Filename: "set.par2", ParFile: true, HasHash: true, HasSetID: true},
		{ID: 2, Filename: "obfuscated.bin", HasHash: true, Hash16k: [16]byte{3}},
	}

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dl/obfuscated.bin", []byte("x"), 0o644))

	r := New(&fakeQueue{jobs: map[int64]*model.Job{1: job}}, &fakeScheduler{}, events.NewBus(), fs, testLogger())
	var loadedPaths []string
	r.loadPars = func(ctx context.Context, paths []string) ([]HashEntry, error) {
		loadedPaths = paths
		return []HashEntry{{Filename: "movie.mkv", Hash16k: [16]byte{3}}}, nil
	}
	r.launch = func(fn func()) { fn() }

	// Every par file is already a CompletedFile, so there will be no further
	// article completion: one CheckState call must run the whole machine
	// through to the loader.
	r.CheckState(job)

	require.Equal(t, []string{"/dl/set.par2"}, loadedPaths)
	assert.Equal(t, model.DirectRenameStatusSuccess, job.DirectRenameStatus)
	assert.Equal(t, "movie.mkv", job.CompletedFiles[1].Filename)
}

func TestRenameFilesAppliesHashLookup(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	job.DestDir = "/downloads/job"

	target := model.NewFile(1, 1, "subj", "obfuscated.bin")
	target.HasHash = true
	target.Hash16k = [16]byte{5, 5, 5}
	job.Files = []*model.File{target}

	fs := afero.NewMemMapFs()
	r := New(&fakeQueue{}, &fakeScheduler{}, events.NewBus(), fs, testLogger())

	r.RenameFiles(job, []HashEntry{{Filename: "movie.mkv", Hash16k: [16]byte{5, 5, 5}}}, nil)

	assert.Equal(t, model.DirectRenameStatusSuccess, job.DirectRenameStatus)
	assert.Equal(t, "movie.mkv", target.Filename)
}

func TestRenameFilesSkipsWhenTargetExists(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	job.DestDir = "/downloads/job"

	completed := &model.CompletedFile{ID: 1, Filename: "obfuscated.bin", HasHash: true, Hash16k: [16]byte{7}}
	job.CompletedFiles = []*model.CompletedFile{completed}

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/downloads/job/obfuscated.bin", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/downloads/job/movie.mkv", []byte("y"), 0o644))

	r := New(&fakeQueue{}, &fakeScheduler{}, events.NewBus(), fs, testLogger())
	r.RenameFiles(job, []HashEntry{{Filename: "movie.mkv", Hash16k: [16]byte{7}}}, nil)

	assert.Equal(t, "obfuscated.bin", completed.Filename, "rename must be skipped when the destination name is already taken")
}

func TestRenameFilesPropagatesLoadError(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	r := New(&fakeQueue{}, &fakeScheduler{}, events.NewBus(), afero.NewMemMapFs(), testLogger())

	r.RenameFiles(job, nil, context.DeadlineExceeded)

	assert.Equal(t, model.DirectRenameStatusFailure, job.DirectRenameStatus)
}

func TestNeedRenameParsDetectsMixedConventions(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	a := model.NewFile(1, 1, "s", "abc.vol00+01.par2")
	a.ParFile = true
	b := model.NewFile(2, 1, "s", "xyz.vol01+02.par2")
	b.ParFile = true
	job.Files = []*model.File{a, b}

	r := New(&fakeQueue{}, &fakeScheduler{}, events.NewBus(), afero.NewMemMapFs(), testLogger())
	assert.True(t, r.needRenamePars(job))
}

func TestNeedRenameParsFalseForConsistentSet(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	a := model.NewFile(1, 1, "s", "abc.vol00+01.par2")
	a.ParFile = true
	b := model.NewFile(2, 1, "s", "abc.vol01+02.par2")
	b.ParFile = true
	job.Files = []*model.File{a, b}

	r := New(&fakeQueue{}, &fakeScheduler{}, events.NewBus(), afero.NewMemMapFs(), testLogger())
	assert.False(t, r.needRenamePars(job))
}

func TestNeedRenameParsTrueForSingleNonPar2Extension(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	a := model.NewFile(1, 1, "s", "abc123")
	a.ParFile = true
	job.Files = []*model.File{a}

	r := New(&fakeQueue{}, &fakeScheduler{}, events.NewBus(), afero.NewMemMapFs(), testLogger())
	assert.True(t, r.needRenamePars(job))
}

func TestNeedRenameParsTrueWhenWholeSetLacksPar2Extension(t *testing.T) {
	job := model.NewJob(1, "job", 10)
	a := model.NewFile(1, 1, "s", "abc.vol00+01.prt")
	a.ParFile = true
	b := model.NewFile(2, 1, "s", "abc.vol01+02.prt")
	b.ParFile = true
	job.Files = []*model.File{a, b}

	r := New(&fakeQueue{}, &fakeScheduler{}, events.NewBus(), afero.NewMemMapFs(), testLogger())
	assert.True(t, r.needRenamePars(job))
}

// MagicBytesForTest exposes the par2 package's magic bytes without creating
// an import cycle in the test (par2_test.go lives in the par2 package).
func MagicBytesForTest() []byte {
	return []byte{'P', 'A', 'R', '2', 0, 'P', 'K', 'T'}
}
