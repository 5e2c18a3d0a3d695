package historyindex

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbget-go/core/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestRebuildAndFindByDupeKey(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	job := model.NewJob(1, "Some.Show.S01E01", 10)
	job.DupeKey = "some-show-s01e01"
	job.DupeScore = 75
	q := &model.Queue{Jobs: []*model.Job{job}}

	histJob := model.NewJob(2, "Some.Show.S01E01.REPACK", 10)
	histJob.DupeKey = "some-show-s01e01"
	histJob.DupeScore = 100
	hist := &model.History{Entries: []*model.HistoryEntry{
		{ID: 2, Kind: model.HistoryKindNzb, Job: histJob},
	}}

	require.NoError(t, idx.Rebuild(ctx, q, hist))

	candidates, err := idx.FindByDupeKey(ctx, "some-show-s01e01")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	var sources []Source
	for _, c := range candidates {
		sources = append(sources, c.Source)
	}
	assert.Contains(t, sources, SourceQueue)
	assert.Contains(t, sources, SourceHistory)
}

func TestRebuildClearsPreviousContents(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	job := model.NewJob(1, "First", 10)
	job.DupeKey = "key-a"
	require.NoError(t, idx.Rebuild(ctx, &model.Queue{Jobs: []*model.Job{job}}, &model.History{}))

	candidates, err := idx.FindByDupeKey(ctx, "key-a")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	require.NoError(t, idx.Rebuild(ctx, &model.Queue{}, &model.History{}))
	candidates, err = idx.FindByDupeKey(ctx, "key-a")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFindByContentHash(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	job := model.NewJob(1, "Movie", 10)
	job.FullContentHash = "abc123"
	require.NoError(t, idx.Rebuild(ctx, &model.Queue{Jobs: []*model.Job{job}}, &model.History{}))

	candidates, err := idx.FindByContentHash(ctx, "abc123", "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Movie", candidates[0].Name)
}

func TestUpsertAndDelete(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, SourceQueue, 99, "Example", "example-key", 10, model.DupeModeScore, "", "", false))
	candidates, err := idx.FindByDupeKey(ctx, "example-key")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	require.NoError(t, idx.Delete(ctx, 99))
	candidates, err = idx.FindByDupeKey(ctx, "example-key")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
