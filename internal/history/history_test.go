package history

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/queue"
	"github.com/nzbget-go/core/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinator(t *testing.T) (*Coordinator, *model.Queue, *model.History, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	q := &model.Queue{}
	h := &model.History{}
	ids := model.NewIDGenerator(1)
	st := store.New(fs, "/state", testLogger())
	c := New(Config{KeepHistoryDays: 1, DupeCheckEnabled: true}, q, h, ids, st, nil, fs, events.NewBus(), testLogger())
	return c, q, h, fs
}

type fakeDupe struct {
	nzbFound []*model.Job
	marked   []model.MarkStatus
	applied  []model.MarkStatus
}

func (f *fakeDupe) NzbFound(j *model.Job) { f.nzbFound = append(f.nzbFound, j) }
func (f *fakeDupe) HistoryMark(e *model.HistoryEntry, m model.MarkStatus) {
	f.SetMark(e, m)
	f.ApplyMark(e, m)
}
func (f *fakeDupe) SetMark(e *model.HistoryEntry, m model.MarkStatus) {
	f.marked = append(f.marked, m)
	if e.Job != nil {
		e.Job.MarkStatus = m
	}
}
func (f *fakeDupe) ApplyMark(e *model.HistoryEntry, m model.MarkStatus) {
	f.applied = append(f.applied, m)
}

func downloadingJob(id int64, name string) *model.Job {
	j := model.NewJob(id, name, 10)
	f := model.NewFile(id, id, "subj", name+".001")
	f.Size = 500
	f.RemainingSize = 500
	f.Articles = []*model.Article{{PartNumber: 1, Size: 500, Status: model.ArticleStatusFinished}}
	f.SuccessArticles = 1
	f.CompletedArticles = 1
	j.Files = append(j.Files, f)
	j.Recompute()
	return j
}

func TestParkJobAddsHistoryEntry(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	job := downloadingJob(1, "release.one")
	job.ParStatus = model.ParStatusSuccess
	job.UnpackStatus = model.UnpackStatusSuccess

	c.ParkJob(job, queue.DeleteFlavorNormal)

	require.Len(t, h.Entries, 1)
	entry := h.Entries[0]
	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, model.HistoryKindNzb, entry.Kind)
	require.NotNil(t, entry.Job)
	assert.Empty(t, entry.Job.Files)
	require.Len(t, entry.Job.CompletedFiles, 1)
	assert.Equal(t, model.CompletedFileStatusSuccess, entry.Job.CompletedFiles[0].Status)
}

func TestParkJobAvoidHistoryCleansDiskOnly(t *testing.T) {
	c, _, h, fs := newCoordinator(t)
	job := downloadingJob(2, "release.two")
	job.DestDir = "/downloads/2"
	require.NoError(t, fs.MkdirAll(job.DestDir, 0o755))

	c.ParkJob(job, queue.DeleteFlavorAvoidHistory)

	assert.Empty(t, h.Entries)
	exists, err := afero.DirExists(fs, job.DestDir)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestShouldCleanupParkedFilesSuccessfulUnpack(t *testing.T) {
	job := model.NewJob(1, "j", 10)
	job.ParStatus = model.ParStatusSuccess
	job.UnpackStatus = model.UnpackStatusSuccess
	assert.True(t, shouldCleanupParkedFiles(job))
}

func TestShouldCleanupParkedFilesParkingSuppressesCleanup(t *testing.T) {
	job := model.NewJob(1, "j", 10)
	job.ParStatus = model.ParStatusSuccess
	job.UnpackStatus = model.UnpackStatusSuccess
	job.Parking = true
	assert.False(t, shouldCleanupParkedFiles(job))
}

func TestShouldCleanupParkedFilesUnpackCleanedUpDiskOverridesParking(t *testing.T) {
	job := model.NewJob(1, "j", 10)
	job.Parking = true
	job.UnpackCleanedUpDisk = true
	assert.True(t, shouldCleanupParkedFiles(job))
}

func TestShouldCleanupParkedFilesNoFailuresBranch(t *testing.T) {
	job := model.NewJob(1, "j", 10)
	job.UnpackStatus = model.UnpackStatusSkipped
	job.ParStatus = model.ParStatusSkipped
	job.FailedSize = 0
	job.ParFailedSize = 0
	assert.True(t, shouldCleanupParkedFiles(job))
}

func TestShouldCleanupParkedFilesUnpackFailureBlocksParCleanup(t *testing.T) {
	job := model.NewJob(1, "j", 10)
	job.ParStatus = model.ParStatusSuccess
	job.UnpackStatus = model.UnpackStatusFailure
	assert.False(t, shouldCleanupParkedFiles(job))
}

func TestServiceWorkAgesOldEntryIntoDupInfoWhenDupeCheckEnabled(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	job := model.NewJob(5, "old.release", 10)
	job.DupeKey = "old-release"
	job.MarkStatus = model.MarkStatusGood
	h.Entries = append(h.Entries, &model.HistoryEntry{
		ID: 5, Kind: model.HistoryKindNzb, Time: oldTime(), Job: job,
	})

	c.serviceWork()

	require.Len(t, h.Entries, 1)
	assert.Nil(t, h.Entries[0].Job)
	require.NotNil(t, h.Entries[0].DupInfo)
	assert.Equal(t, model.DupInfoStatusGood, h.Entries[0].DupInfo.Status)
	assert.Equal(t, model.HistoryKindDup, h.Entries[0].Kind)
}

func TestServiceWorkDiscardsOldEntryWhenDupeCheckDisabled(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	c.cfg.DupeCheckEnabled = false
	job := model.NewJob(6, "old.release2", 10)
	h.Entries = append(h.Entries, &model.HistoryEntry{
		ID: 6, Kind: model.HistoryKindNzb, Time: oldTime(), Job: job,
	})

	c.serviceWork()

	assert.Empty(t, h.Entries)
}

func TestServiceWorkKeepsRecentEntries(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	job := model.NewJob(7, "recent.release", 10)
	h.Entries = append(h.Entries, &model.HistoryEntry{ID: 7, Kind: model.HistoryKindNzb, Job: job, Time: time.Now()})

	c.serviceWork()

	require.Len(t, h.Entries, 1)
	assert.NotNil(t, h.Entries[0].Job)
}

func TestServiceWorkNeverReExpiresExistingShadow(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	h.Entries = append(h.Entries, &model.HistoryEntry{
		ID: 8, Kind: model.HistoryKindDup, Time: oldTime(),
		DupInfo: &model.DupInfo{ID: 8, Name: "shadow"},
	})

	c.serviceWork()

	require.Len(t, h.Entries, 1)
}

func TestEditMarkBadTwoPassSetsAllMarksBeforeApplying(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	dupe := &fakeDupe{}
	c.SetDupe(dupe)
	j1 := model.NewJob(10, "one", 10)
	j2 := model.NewJob(11, "two", 10)
	h.Entries = append(h.Entries,
		&model.HistoryEntry{ID: 10, Job: j1},
		&model.HistoryEntry{ID: 11, Job: j2},
	)

	ok := c.Edit([]int64{10, 11}, nil, queue.MatchByID, ActionHistoryMarkBad, nil)

	require.True(t, ok)
	assert.Equal(t, model.MarkStatusBad, j1.MarkStatus)
	assert.Equal(t, model.MarkStatusBad, j2.MarkStatus)
	require.Len(t, dupe.marked, 2)
	require.Len(t, dupe.applied, 2)
}

func TestEditDeleteHidesEntryWhenDupeCheckEnabled(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	h.Entries = append(h.Entries, &model.HistoryEntry{ID: 20, Job: model.NewJob(20, "gone", 10)})

	ok := c.Edit([]int64{20}, nil, queue.MatchByID, ActionHistoryDelete, nil)

	require.True(t, ok)
	require.Len(t, h.Entries, 1)
	assert.Nil(t, h.Entries[0].Job)
	assert.NotNil(t, h.Entries[0].DupInfo)
	assert.Equal(t, model.HistoryKindDup, h.Entries[0].Kind)
}

func TestEditFinalDeleteRemovesEntry(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	h.Entries = append(h.Entries, &model.HistoryEntry{ID: 20, Job: model.NewJob(20, "gone", 10)})

	ok := c.Edit([]int64{20}, nil, queue.MatchByID, ActionHistoryFinalDelete, nil)

	require.True(t, ok)
	assert.Empty(t, h.Entries)
}

func TestEditSetDupeBackupTogglesDeleteStatus(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	job := model.NewJob(21, "backup.me", 10)
	job.DeleteStatus = model.DeleteStatusManual
	h.Entries = append(h.Entries, &model.HistoryEntry{ID: 21, Job: job})

	require.True(t, c.Edit([]int64{21}, nil, queue.MatchByID, ActionHistorySetDupeBackup, true))
	assert.Equal(t, model.DeleteStatusDupe, job.DeleteStatus)

	require.True(t, c.Edit([]int64{21}, nil, queue.MatchByID, ActionHistorySetDupeBackup, false))
	assert.Equal(t, model.DeleteStatusManual, job.DeleteStatus)
}

func TestEditSetDupeKeyAppliesToShadow(t *testing.T) {
	c, _, h, _ := newCoordinator(t)
	h.Entries = append(h.Entries, &model.HistoryEntry{
		ID: 22, Kind: model.HistoryKindDup,
		DupInfo: &model.DupInfo{ID: 22, Name: "shadow", DupeKey: "old"},
	})

	require.True(t, c.Edit([]int64{22}, nil, queue.MatchByID, ActionHistorySetDupeKey, "new-key"))
	assert.Equal(t, "new-key", h.Entries[0].DupInfo.DupeKey)
}

func TestResetArticlesFailedRetriedWhenResetFailedSet(t *testing.T) {
	file := &model.File{PartialState: model.PartialStateCompleted, Articles: []*model.Article{
		{Status: model.ArticleStatusFailed},
	}}
	resetArticles(file, false, true)
	assert.Equal(t, model.ArticleStatusUndefined, file.Articles[0].Status)
}

func TestResetArticlesFailedRetriedWhenPartialStateNone(t *testing.T) {
	file := &model.File{PartialState: model.PartialStateNone, Articles: []*model.Article{
		{Status: model.ArticleStatusFailed},
	}}
	resetArticles(file, false, false)
	assert.Equal(t, model.ArticleStatusUndefined, file.Articles[0].Status)
}

func TestResetArticlesFailedKeptWhenPartialAndNotResetFailed(t *testing.T) {
	file := &model.File{PartialState: model.PartialStatePartial, Articles: []*model.Article{
		{Status: model.ArticleStatusFailed},
	}}
	resetArticles(file, false, false)
	assert.Equal(t, model.ArticleStatusFailed, file.Articles[0].Status)
}

func TestResetArticlesFinishedOnlyRetriedWhenPartialStateNone(t *testing.T) {
	finished := &model.File{PartialState: model.PartialStateNone, Articles: []*model.Article{
		{Status: model.ArticleStatusFinished},
	}}
	resetArticles(finished, false, false)
	assert.Equal(t, model.ArticleStatusUndefined, finished.Articles[0].Status)

	kept := &model.File{PartialState: model.PartialStateCompleted, Articles: []*model.Article{
		{Status: model.ArticleStatusFinished},
	}}
	resetArticles(kept, false, false)
	assert.Equal(t, model.ArticleStatusFinished, kept.Articles[0].Status)
}

func TestResetArticlesUndefinedOnlyRetriedWhenAllFailedAndResetFailed(t *testing.T) {
	file := &model.File{Articles: []*model.Article{{Status: model.ArticleStatusUndefined}}}
	resetArticles(file, false, true)
	assert.Equal(t, model.ArticleStatusUndefined, file.Articles[0].Status)
}

func TestHistoryRetryMovesNonSuccessCompletedFileBack(t *testing.T) {
	c, q, h, _ := newCoordinator(t)
	job := model.NewJob(30, "retry.me", 10)
	cf := &model.CompletedFile{ID: 31, Filename: "retry.me.001", Status: model.CompletedFileStatusPartial}
	job.CompletedFiles = append(job.CompletedFiles, cf)
	require.NoError(t, c.st.SaveArticles(job.ID, cf.ID, []*model.Article{
		{PartNumber: 1, Size: 100, Status: model.ArticleStatusFailed},
	}))
	entry := &model.HistoryEntry{ID: 30, Job: job}
	h.Entries = append(h.Entries, entry)

	ok := c.historyRetry(entry, true, false)

	require.True(t, ok)
	assert.Empty(t, h.Entries)
	require.Len(t, q.Jobs, 1)
	require.Len(t, q.Jobs[0].Files, 1)
	assert.Equal(t, model.ArticleStatusUndefined, q.Jobs[0].Files[0].Articles[0].Status)
}

// oldTime is always "older than cutoff" for any positive KeepHistoryDays,
// which is all serviceWork's tests need.
func oldTime() time.Time { return time.Time{} }

