package queue

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	apperrors "github.com/nzbget-go/core/internal/errors"
	"github.com/nzbget-go/core/internal/model"
)

// FileWriter is the default OutputWriter: it concatenates each Article's
// ResultFilename (the per-article tempfile the transport already wrote
// decoded bytes to) in part order, in a streaming copy, under a ".out.tmp"
// name, and reports whether every article contributed (Completed) or some
// were missing/failed (Partial).
type FileWriter struct {
	fs afero.Fs
}

// NewFileWriter constructs a FileWriter backed by fs.
func NewFileWriter(fs afero.Fs) *FileWriter {
	return &FileWriter{fs: fs}
}

// WriteFile implements OutputWriter.
func (w *FileWriter) WriteFile(ctx context.Context, destDir string, f *model.File) (string, model.PartialState, error) {
	tmpName := f.Filename + ".out.tmp"
	tmpPath := filepath.Join(destDir, tmpName)
	finalPath := filepath.Join(destDir, f.Filename)

	if err := w.fs.MkdirAll(destDir, 0o755); err != nil {
		// A missing/unwritable destination directory is a permanent I/O
		// failure — no later scheduling tick can recover it, unlike a
		// transient article I/O hiccup.
		return "", model.PartialStateNone, apperrors.WrapNonRetryable(
			fmt.Errorf("queue: mkdir %s: %w", destDir, err))
	}

	out, err := w.fs.Create(tmpPath)
	if err != nil {
		return "", model.PartialStateNone, fmt.Errorf("queue: create output temp: %w", err)
	}
	defer out.Close()

	complete := true
	wroteAny := false
	for _, a := range f.Articles {
		if ctx.Err() != nil {
			return "", model.PartialStateNone, ctx.Err()
		}
		if a.Status != model.ArticleStatusFinished || a.ResultFilename == "" {
			complete = false
			continue
		}
		if err := w.appendSegment(out, a.ResultFilename); err != nil {
			complete = false
			continue
		}
		wroteAny = true
	}

	if err := out.Close(); err != nil {
		return "", model.PartialStateNone, fmt.Errorf("queue: close output temp: %w", err)
	}

	if !wroteAny {
		w.fs.Remove(tmpPath)
		return "", model.PartialStateNone, fmt.Errorf("queue: no article contributed to output for file %d", f.ID)
	}

	if err := w.fs.Rename(tmpPath, finalPath); err != nil {
		return "", model.PartialStatePartial, fmt.Errorf("queue: commit output: %w", err)
	}

	state := model.PartialStateCompleted
	if !complete {
		state = model.PartialStatePartial
	}
	return f.Filename, state, nil
}

func (w *FileWriter) appendSegment(dst io.Writer, resultFilename string) error {
	src, err := w.fs.Open(resultFilename)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}
