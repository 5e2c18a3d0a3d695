package queue

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/par2"
	"github.com/nzbget-go/core/internal/rename"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records Fetch/Cancel calls. Fetch always synchronously
// invokes onComplete with the configured status, from the
// caller's goroutine (matching how launchFetch always dispatches Fetch off
// the coordinator lock).
type fakeTransport struct {
	mu             sync.Mutex
	fetches        []ArticleRequest
	cancels        []ArticleRequest
	status         model.ArticleStatus
	segment        []byte
	resultFilename string
	complete       chan struct{}
}

func newFakeTransport(status model.ArticleStatus) *fakeTransport {
	return &fakeTransport{status: status, complete: make(chan struct{}, 64)}
}

func (t *fakeTransport) Fetch(ctx context.Context, req ArticleRequest, onComplete func(ArticleResult)) {
	t.mu.Lock()
	t.fetches = append(t.fetches, req)
	resultFilename := t.resultFilename
	t.mu.Unlock()

	var seg []byte
	if req.WantSegment {
		seg = t.segment
	}
	onComplete(ArticleResult{
		JobID:          req.JobID,
		FileID:         req.FileID,
		PartNumber:     req.PartNumber,
		Status:         t.status,
		ResultFilename: resultFilename,
		Segment:        seg,
	})
	t.complete <- struct{}{}
}

func (t *fakeTransport) Cancel(jobID, fileID int64, partNumber int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels = append(t.cancels, ArticleRequest{JobID: jobID, FileID: fileID, PartNumber: partNumber})
}

func (t *fakeTransport) fetchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fetches)
}

func (t *fakeTransport) cancelCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancels)
}

// fakeDupeHook records invocations without ever deleting/mutating the job.
type fakeDupeHook struct {
	mu        sync.Mutex
	found     []*model.Job
	completed []*model.Job
}

func (d *fakeDupeHook) NzbFound(job *model.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.found = append(d.found, job)
}

func (d *fakeDupeHook) NzbCompleted(job *model.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed = append(d.completed, job)
}

// fakeFinalizeHook records ParkJob calls.
type fakeFinalizeHook struct {
	mu      sync.Mutex
	parked  []*model.Job
	flavors []DeleteFlavor
}

func (h *fakeFinalizeHook) ParkJob(job *model.Job, flavor DeleteFlavor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parked = append(h.parked, job)
	h.flavors = append(h.flavors, flavor)
}

// fakeHistoryEditor records forwarded history-group edits.
type fakeHistoryEditor struct {
	lastAction string
}

func (h *fakeHistoryEditor) Edit(ids []int64, names []string, mode MatchMode, action string, args any) bool {
	h.lastAction = action
	return true
}

// recordingObserver collects every Notification delivered to it.
type recordingObserver struct {
	mu   sync.Mutex
	seen []events.Notification
	ch   chan events.Notification
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{ch: make(chan events.Notification, 64)}
}

func (o *recordingObserver) Notify(n events.Notification) {
	o.mu.Lock()
	o.seen = append(o.seen, n)
	o.mu.Unlock()
	o.ch <- n
}

func (o *recordingObserver) waitFor(t *testing.T, a events.Aspect, timeout time.Duration) events.Notification {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case n := <-o.ch:
			if n.Action == a {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for aspect %s", a)
		}
	}
}

// newJobWithFile builds a single-file job with articleCount undefined
// articles of the given per-article size, ready to be queued.
func newJobWithFile(jobID, fileID int64, articleCount int, articleSize int64) *model.Job {
	job := model.NewJob(jobID, "Test.Job", 100)
	job.DestDir = "/dest"

	f := model.NewFile(fileID, jobID, "subject", "test.file.001")
	for i := 0; i < articleCount; i++ {
		f.Articles = append(f.Articles, &model.Article{
			PartNumber: i + 1,
			MessageID:  "msg",
			Size:       articleSize,
		})
	}
	f.TotalArticles = articleCount
	f.Size = articleSize * int64(articleCount)
	f.RemainingSize = f.Size
	job.Files = append(job.Files, f)
	job.Recompute()
	return job
}

func newTestCoordinator(transport Transport, writer OutputWriter) (*Coordinator, *events.Bus) {
	bus := events.NewBus()
	cfg := Config{
		MaxActiveDownloads: 4,
		URLTimeout:         time.Millisecond,
		HangCheckInterval:  5 * time.Millisecond,
		MessageLogBuffer:   100,
	}
	c := New(cfg, &model.Queue{}, &model.History{}, model.NewIDGenerator(1), transport, writer, bus, nil, testLogger())
	return c, bus
}

func TestAddNzbToQueueAssignsIDAndNotifiesDupeHook(t *testing.T) {
	c, bus := newTestCoordinator(newFakeTransport(model.ArticleStatusFinished), nil)
	dupe := &fakeDupeHook{}
	c.SetDupeHook(dupe)
	obs := newRecordingObserver()
	bus.Subscribe(obs)

	job := &model.Job{Name: "Some.Job"}
	got := c.AddNzbToQueue(job, "", false)

	assert.Equal(t, int64(1), got.ID)
	require.Len(t, dupe.found, 1)
	assert.Same(t, got, dupe.found[0])
	obs.waitFor(t, events.NzbAdded, time.Second)
}

func TestAddNzbToQueueAddFirstPlacesJobAtFront(t *testing.T) {
	c, _ := newTestCoordinator(newFakeTransport(model.ArticleStatusFinished), nil)
	first := c.AddNzbToQueue(&model.Job{Name: "A"}, "", false)
	second := c.AddNzbToQueue(&model.Job{Name: "B"}, "", true)

	require.Len(t, c.queue.Jobs, 2)
	assert.Same(t, second, c.queue.Jobs[0])
	assert.Same(t, first, c.queue.Jobs[1])
}

func TestCoordinatorDispatchesAndFinalizesJob(t *testing.T) {
	transport := newFakeTransport(model.ArticleStatusFinished)
	fs := afero.NewMemMapFs()
	writer := NewFileWriter(fs)

	c, bus := newTestCoordinator(transport, writer)
	obs := newRecordingObserver()
	bus.Subscribe(obs)

	job := newJobWithFile(0, 0, 1, 128)
	// Seed the article's result file so FileWriter has something to copy,
	// and have the fake transport report it back on completion.
	require.NoError(t, afero.WriteFile(fs, "/result/part1", []byte("hello world"), 0o644))
	transport.resultFilename = "/result/part1"

	c.AddNzbToQueue(job, "", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	obs.waitFor(t, events.NzbDownloaded, 2*time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()
	gotJob := c.queue.Get(job.ID)
	require.NotNil(t, gotJob)
	require.Len(t, gotJob.CompletedFiles, 1)
	assert.Equal(t, model.CompletedFileStatusSuccess, gotJob.CompletedFiles[0].Status)

	data, err := afero.ReadFile(fs, "/dest/test.file.001")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestCoordinatorCallsDupeHookOnCompletion(t *testing.T) {
	transport := newFakeTransport(model.ArticleStatusFinished)
	c, bus := newTestCoordinator(transport, NewFileWriter(afero.NewMemMapFs()))
	dupe := &fakeDupeHook{}
	c.SetDupeHook(dupe)
	obs := newRecordingObserver()
	bus.Subscribe(obs)

	job := newJobWithFile(0, 0, 1, 64)
	c.AddNzbToQueue(job, "", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	obs.waitFor(t, events.NzbDownloaded, 2*time.Second)

	dupe.mu.Lock()
	defer dupe.mu.Unlock()
	require.Len(t, dupe.completed, 1)
	assert.Equal(t, job.ID, dupe.completed[0].ID)
}

// markingDupeHook simulates the dupe coordinator deciding a candidate is a
// duplicate at add-time, by setting DeleteStatus on
// every job NzbFound sees.
type markingDupeHook struct {
	status model.DeleteStatus
}

func (d *markingDupeHook) NzbFound(job *model.Job)     { job.DeleteStatus = d.status }
func (d *markingDupeHook) NzbCompleted(job *model.Job) {}

func TestAddNzbToQueueFinalizesDuplicateCandidate(t *testing.T) {
	c, bus := newTestCoordinator(newFakeTransport(model.ArticleStatusFinished), nil)
	c.SetDupeHook(&markingDupeHook{status: model.DeleteStatusCopy})
	finalize := &fakeFinalizeHook{}
	c.SetFinalizeHook(finalize)
	obs := newRecordingObserver()
	bus.Subscribe(obs)

	job := newJobWithFile(0, 0, 1, 128)
	got := c.AddNzbToQueue(job, "", false)

	assert.Equal(t, model.DeleteStatusCopy, got.DeleteStatus)
	assert.True(t, got.Deleting)
	assert.Equal(t, -1, c.queue.IndexOf(got.ID))
	require.Len(t, finalize.parked, 1)
	assert.Same(t, got, finalize.parked[0])
	assert.Equal(t, DeleteFlavorNormal, finalize.flavors[0])
	obs.waitFor(t, events.NzbDeleted, time.Second)

	// A duplicate-marked job must never be picked up by the scheduler.
	assert.False(t, c.isJobDispatchable(got))
}

// perFileTransport completes each article with per-file content: the
// decoded bytes land in a pre-written result file and double as the
// first-article segment.
type perFileTransport struct {
	mu    sync.Mutex
	files map[int64]perFileContent
}

type perFileContent struct {
	resultFilename string
	content        []byte
}

func (t *perFileTransport) Fetch(ctx context.Context, req ArticleRequest, onComplete func(ArticleResult)) {
	t.mu.Lock()
	spec := t.files[req.FileID]
	t.mu.Unlock()

	var seg []byte
	if req.WantSegment {
		seg = spec.content
	}
	onComplete(ArticleResult{
		JobID:          req.JobID,
		FileID:         req.FileID,
		PartNumber:     req.PartNumber,
		Status:         model.ArticleStatusFinished,
		ResultFilename: spec.resultFilename,
		Segment:        seg,
	})
}

func (t *perFileTransport) Cancel(jobID, fileID int64, partNumber int) {}

// buildFileDescPar2 constructs a minimal PAR2 file holding one FileDesc
// packet naming the given file with its first-16KiB content hash.
func buildFileDescPar2(name string, content []byte) []byte {
	h := md5.New()
	n := len(content)
	if n > 16*1024 {
		n = 16 * 1024
	}
	h.Write(content[:n])
	var hash16k [16]byte
	copy(hash16k[:], h.Sum(nil))

	nameBytes := []byte(name)
	pad := (4 - len(nameBytes)%4) % 4
	nameBytes = append(nameBytes, make([]byte, pad)...)

	const minFileDescBody = 56
	total := par2.HeaderSize + minFileDescBody + len(nameBytes)

	buf := &bytes.Buffer{}
	buf.Write(par2.MagicBytes[:])
	binary.Write(buf, binary.LittleEndian, uint64(total))
	buf.Write(make([]byte, 16)) // MD5
	buf.Write(make([]byte, 16)) // SetID
	buf.Write(par2.PacketTypeFileDesc[:])
	buf.Write(make([]byte, 16)) // FileID
	buf.Write(make([]byte, 16)) // FullMD5
	buf.Write(hash16k[:])
	binary.Write(buf, binary.LittleEndian, uint64(len(content)))
	buf.Write(nameBytes)
	return buf.Bytes()
}

func TestDirectRenameEndToEndRenamesObfuscatedFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	dataContent := []byte("the real movie bytes, obfuscated on the wire")
	parContent := buildFileDescPar2("movie.mkv", dataContent)
	require.NoError(t, afero.WriteFile(fs, "/seg/data", dataContent, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/seg/par", parContent, 0o644))

	transport := &perFileTransport{files: map[int64]perFileContent{
		1: {resultFilename: "/seg/data", content: dataContent},
		2: {resultFilename: "/seg/par", content: parContent},
	}}

	c, bus := newTestCoordinator(transport, NewFileWriter(fs))
	renamer := rename.New(c, c, bus, fs, testLogger())
	c.SetRenamer(renamer)
	obs := newRecordingObserver()
	bus.Subscribe(obs)

	job := model.NewJob(1, "Obfuscated.Job", 100)
	job.DestDir = "/dest"

	data := model.NewFile(1, job.ID, "subj", "obfuscated.bin")
	data.Articles = []*model.Article{{PartNumber: 1, MessageID: "d", Size: int64(len(dataContent))}}
	data.TotalArticles = 1
	data.Size = int64(len(dataContent))
	data.RemainingSize = data.Size

	par := model.NewFile(2, job.ID, "subj", "set.par2")
	par.ParFile = true
	par.Articles = []*model.Article{{PartNumber: 1, MessageID: "p", Size: int64(len(parContent))}}
	par.TotalArticles = 1
	par.Size = int64(len(parContent))
	par.RemainingSize = par.Size

	job.Files = append(job.Files, data, par)
	job.Recompute()
	c.AddNzbToQueue(job, "", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	obs.waitFor(t, events.NzbDownloaded, 2*time.Second)

	// The par loader runs on its own goroutine after the last completion.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return job.DirectRenameStatus == model.DirectRenameStatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	renamed, _ := afero.Exists(fs, "/dest/movie.mkv")
	assert.True(t, renamed, "obfuscated output must be renamed to the par-described name")
	gone, _ := afero.Exists(fs, "/dest/obfuscated.bin")
	assert.False(t, gone)
}

func TestHasMoreJobsReflectsUnfinishedFiles(t *testing.T) {
	c, _ := newTestCoordinator(newFakeTransport(model.ArticleStatusFinished), nil)
	assert.False(t, c.HasMoreJobs())

	job := newJobWithFile(0, 0, 1, 32)
	c.AddNzbToQueue(job, "", false)
	assert.True(t, c.HasMoreJobs())
}

func TestHangCheckCancelsStaleRunningArticle(t *testing.T) {
	transport := newFakeTransport(model.ArticleStatusFinished)
	c, _ := newTestCoordinator(transport, nil)
	c.cfg.URLTimeout = time.Millisecond

	job := newJobWithFile(1, 1, 1, 32)
	c.queue.Jobs = append(c.queue.Jobs, job)
	article := job.Files[0].Articles[0]
	article.Status = model.ArticleStatusRunning
	article.LastUpdateTime = time.Now().Add(-time.Hour)

	c.checkHangingDownloads()

	require.Equal(t, 1, transport.cancelCount())
	assert.Equal(t, job.ID, transport.cancels[0].JobID)
	assert.Equal(t, article.PartNumber, transport.cancels[0].PartNumber)
}

func TestHangCheckIgnoresFreshRunningArticle(t *testing.T) {
	transport := newFakeTransport(model.ArticleStatusFinished)
	c, _ := newTestCoordinator(transport, nil)
	c.cfg.URLTimeout = time.Hour

	job := newJobWithFile(1, 1, 1, 32)
	c.queue.Jobs = append(c.queue.Jobs, job)
	article := job.Files[0].Articles[0]
	article.Status = model.ArticleStatusRunning
	article.LastUpdateTime = time.Now()

	c.checkHangingDownloads()

	assert.Equal(t, 0, transport.cancelCount())
}

func TestDeleteQueueEntryRemovesFileAndCancelsRunning(t *testing.T) {
	transport := newFakeTransport(model.ArticleStatusFinished)
	c, _ := newTestCoordinator(transport, nil)

	job := newJobWithFile(1, 1, 1, 32)
	job.Files[0].Articles[0].Status = model.ArticleStatusRunning
	c.queue.Jobs = append(c.queue.Jobs, job)

	c.DeleteQueueEntry(job.Files[0])

	assert.Empty(t, job.Files)
	assert.Equal(t, 1, transport.cancelCount())
}

func TestMergeQueueEntriesMovesFilesAndRemovesSource(t *testing.T) {
	c, _ := newTestCoordinator(newFakeTransport(model.ArticleStatusFinished), nil)
	dst := newJobWithFile(1, 1, 1, 10)
	src := newJobWithFile(2, 2, 1, 20)
	c.queue.Jobs = append(c.queue.Jobs, dst, src)

	require.NoError(t, c.MergeQueueEntries(dst, src))

	assert.Len(t, dst.Files, 2)
	assert.Nil(t, c.queue.Get(src.ID))
	assert.Equal(t, dst.ID, dst.Files[1].JobID)
}

func TestMergeQueueEntriesRejectsSelfMerge(t *testing.T) {
	c, _ := newTestCoordinator(newFakeTransport(model.ArticleStatusFinished), nil)
	job := newJobWithFile(1, 1, 1, 10)
	c.queue.Jobs = append(c.queue.Jobs, job)

	assert.Error(t, c.MergeQueueEntries(job, job))
}

func TestSplitQueueEntriesCreatesNewJob(t *testing.T) {
	c, _ := newTestCoordinator(newFakeTransport(model.ArticleStatusFinished), nil)
	src := newJobWithFile(1, 1, 1, 10)
	extra := model.NewFile(2, 1, "subj2", "test.file.002")
	extra.Articles = []*model.Article{{PartNumber: 1, Size: 10}}
	src.Files = append(src.Files, extra)
	src.Recompute()
	c.queue.Jobs = append(c.queue.Jobs, src)

	newJob, err := c.SplitQueueEntries([]*model.File{extra}, "Split.Job")
	require.NoError(t, err)

	assert.Len(t, src.Files, 1)
	require.Len(t, newJob.Files, 1)
	assert.Equal(t, newJob.ID, newJob.Files[0].JobID)
	assert.Equal(t, 2, len(c.queue.Jobs))
}

func TestSplitQueueEntriesRequiresFiles(t *testing.T) {
	c, _ := newTestCoordinator(newFakeTransport(model.ArticleStatusFinished), nil)
	_, err := c.SplitQueueEntries(nil, "X")
	assert.ErrorIs(t, err, errNoFiles)
}
