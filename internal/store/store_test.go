package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbget-go/core/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildSampleQueue() (*model.Queue, *model.History) {
	job := model.NewJob(1, "Some.Show.S01E01", 50)
	job.DestDir = "/downloads/tmp/1"
	job.Category = "tv"
	job.DupeKey = "some-show-s01e01"
	job.DupeScore = 100
	job.Priority = 5
	job.SetParameter("*Unpack:", "yes")
	job.Scripts = append(job.Scripts, model.ScriptStatus{Name: "Verify", Status: "SUCCESS"})
	job.Messages.Add(model.MessageInfo, "starting download")

	f := model.NewFile(1, job.ID, "subject one", "obfuscated.bin")
	f.Size = 2000
	f.RemainingSize = 500
	f.HasHash = true
	f.Hash16k = [16]byte{1, 2, 3, 4}
	f.ServerStats[1] = &model.ServerStats{SuccessArticles: 3, SuccessBytes: 900}
	f.Articles = []*model.Article{
		{PartNumber: 1, MessageID: "<abc@news>", Size: 500, Status: model.ArticleStatusFinished, LastUpdateTime: time.Unix(1700000000, 0).UTC()},
		{PartNumber: 2, MessageID: "<def@news>", Size: 500, Status: model.ArticleStatusRunning},
	}
	job.Files = append(job.Files, f)

	completed := &model.CompletedFile{ID: 2, Filename: "done.r01", Status: model.CompletedFileStatusSuccess, HasHash: true}
	job.CompletedFiles = append(job.CompletedFiles, completed)
	job.RecordCompletion(&model.File{Size: 100, SuccessSize: 100, TotalArticles: 1, SuccessArticles: 1})
	job.Recompute()

	q := &model.Queue{Jobs: []*model.Job{job}}

	histJob := model.NewJob(2, "Old.Movie.2019", 10)
	histJob.DeleteStatus = model.DeleteStatusNone
	histJob.ParStatus = model.ParStatusSuccess
	histEntry := &model.HistoryEntry{ID: 1, Kind: model.HistoryKindNzb, Time: time.Unix(1690000000, 0).UTC(), Job: histJob}

	dupInfo := &model.DupInfo{ID: 2, Name: "Dup.Show", DupeKey: "dup-show", DupeScore: 50, Status: model.DupInfoStatusDupe}
	dupEntry := &model.HistoryEntry{ID: 2, Kind: model.HistoryKindDup, Time: time.Unix(1690001000, 0).UTC(), DupInfo: dupInfo}

	h := &model.History{Entries: []*model.HistoryEntry{histEntry, dupEntry}}

	return q, h
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := New(fs, "/state", testLogger())

	q, h := buildSampleQueue()

	require.NoError(t, st.Save(q, h, 42))
	assert.False(t, st.WasDirty())

	loadedQ, loadedH, nextID, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(42), nextID)

	require.Len(t, loadedQ.Jobs, 1)
	origJob := q.Jobs[0]
	loadedJob := loadedQ.Jobs[0]

	assert.Equal(t, origJob.ID, loadedJob.ID)
	assert.Equal(t, origJob.Name, loadedJob.Name)
	assert.Equal(t, origJob.DestDir, loadedJob.DestDir)
	assert.Equal(t, origJob.DupeKey, loadedJob.DupeKey)
	assert.Equal(t, origJob.Priority, loadedJob.Priority)
	assert.Equal(t, origJob.Size, loadedJob.Size)
	assert.Equal(t, origJob.ParSize, loadedJob.ParSize)

	v, ok := loadedJob.GetParameter("*unpack:")
	require.True(t, ok)
	assert.Equal(t, "yes", v)

	require.Len(t, loadedJob.Scripts, 1)
	assert.Equal(t, "Verify", loadedJob.Scripts[0].Name)

	require.Len(t, loadedJob.Messages.All(), 1)
	assert.Equal(t, "starting download", loadedJob.Messages.All()[0].Text)

	require.Len(t, loadedJob.Files, 1)
	loadedFile := loadedJob.Files[0]
	assert.Equal(t, "obfuscated.bin", loadedFile.Filename)
	assert.Equal(t, int64(2000), loadedFile.Size)
	assert.True(t, loadedFile.HasHash)
	assert.Equal(t, [16]byte{1, 2, 3, 4}, loadedFile.Hash16k)
	require.Contains(t, loadedFile.ServerStats, 1)
	assert.Equal(t, 3, loadedFile.ServerStats[1].SuccessArticles)

	require.Len(t, loadedFile.Articles, 2)
	assert.Equal(t, "<abc@news>", loadedFile.Articles[0].MessageID)
	assert.Equal(t, model.ArticleStatusFinished, loadedFile.Articles[0].Status)
	assert.Equal(t, model.ArticleStatusRunning, loadedFile.Articles[1].Status)

	require.Len(t, loadedJob.CompletedFiles, 1)
	assert.Equal(t, "done.r01", loadedJob.CompletedFiles[0].Filename)

	require.Len(t, loadedH.Entries, 2)
	assert.Equal(t, model.HistoryKindNzb, loadedH.Entries[0].Kind)
	require.NotNil(t, loadedH.Entries[0].Job)
	assert.Equal(t, "Old.Movie.2019", loadedH.Entries[0].Job.Name)
	assert.Equal(t, model.ParStatusSuccess, loadedH.Entries[0].Job.ParStatus)

	assert.Equal(t, model.HistoryKindDup, loadedH.Entries[1].Kind)
	require.NotNil(t, loadedH.Entries[1].DupInfo)
	assert.Equal(t, "Dup.Show", loadedH.Entries[1].DupInfo.Name)
	assert.Equal(t, model.DupInfoStatusDupe, loadedH.Entries[1].DupInfo.Status)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := New(fs, "/state", testLogger())

	q, h, nextID, err := st.Load()
	require.NoError(t, err)
	assert.Empty(t, q.Jobs)
	assert.Empty(t, h.Entries)
	assert.Equal(t, int64(0), nextID)
}

func TestDirtySentinelClearedOnSuccess(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := New(fs, "/state", testLogger())
	require.NoError(t, st.MarkDirty())
	assert.True(t, st.WasDirty())

	q, h := buildSampleQueue()
	require.NoError(t, st.Save(q, h, 1))
	assert.False(t, st.WasDirty())
}

func TestFlusherThrottlesToOncePerInterval(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := New(fs, "/state", testLogger())
	q, h := buildSampleQueue()

	calls := 0
	snap := func() *Encoded {
		calls++
		return st.Encode(q, h, 1)
	}
	fl := NewFlusher(st, snap, testLogger())
	fl.minInterval = time.Hour // never due on its own within the test

	fl.RequestFlush()
	fl.FlushNow(context.Background())
	// A second request inside the interval must not trigger another flush.
	fl.RequestFlush()
	fl.tick(context.Background())
	assert.Equal(t, 1, calls)
}
