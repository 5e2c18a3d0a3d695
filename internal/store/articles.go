package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	"github.com/nzbget-go/core/internal/model"
)

// SaveArticles writes a File's Article vector to its per-file side file,
// zstd-compressed. An empty vector removes any existing side
// file rather than writing an empty one.
func (s *Store) SaveArticles(jobID, fileID int64, articles []*model.Article) error {
	return s.writeArticleSideFile(jobID, fileID, encodeArticles(articles))
}

// encodeArticles serializes an Article vector to the side-file line format.
// Pure serialization, callable under the queue lock.
func encodeArticles(articles []*model.Article) string {
	var sb stringsBuilder
	for _, a := range articles {
		w := newLineWriter()
		w.i(a.PartNumber).str(a.MessageID).i64(a.Size).i64(a.SegmentOffset).i64(a.SegmentSize)
		w.u32(a.CRC).str(a.ResultFilename).i(int(a.Status)).i64(mustUnix(a.LastUpdateTime))
		sb.writeLine("A", w.line())
	}
	return sb.String()
}

// writeArticleSideFile commits one File's encoded article content. Empty
// content removes any existing side file rather than writing an empty one.
func (s *Store) writeArticleSideFile(jobID, fileID int64, content string) error {
	path := s.articleSideFilePath(jobID, fileID)
	if content == "" {
		err := s.fs.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: remove empty article side file: %w", err)
		}
		return nil
	}

	if err := s.fs.MkdirAll(s.articlesDir(), 0o755); err != nil {
		return fmt.Errorf("store: mkdir articles dir: %w", err)
	}

	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := s.writeCompressed(tmp, content); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename article side file: %w", err)
	}
	return nil
}

// LoadArticles reads a File's article side file back, or returns an empty
// slice if none exists (a File with zero articles parsed so far, or one
// that finished and had its side file removed).
func (s *Store) LoadArticles(jobID, fileID int64) ([]*model.Article, error) {
	path := s.articleSideFilePath(jobID, fileID)
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("store: stat article side file: %w", err)
	}
	if !exists {
		return nil, nil
	}

	raw, err := s.readCompressed(path)
	if err != nil {
		return nil, err
	}

	var articles []*model.Article
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		r := newLineReader(stripTag(line))
		a := &model.Article{
			PartNumber:    r.i(),
			MessageID:     r.str(),
			Size:          r.i64(),
			SegmentOffset: r.i64(),
			SegmentSize:   r.i64(),
			CRC:           r.u32(),
		}
		a.ResultFilename = r.str()
		a.Status = model.ArticleStatus(r.i())
		a.LastUpdateTime = fromUnix(r.i64())
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("store: parse article line for file %d: %w", fileID, err)
		}
		articles = append(articles, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: scan article side file: %w", err)
	}
	return articles, nil
}

func (s *Store) articleSideFilePath(jobID, fileID int64) string {
	return filepath.Join(s.articlesDir(), fmt.Sprintf("%d-%d.art.zst", jobID, fileID))
}

func (s *Store) writeCompressed(path, content string) error {
	f, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("store: create compressed file: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("store: new zstd writer: %w", err)
	}
	if _, err := enc.Write([]byte(content)); err != nil {
		enc.Close()
		return fmt.Errorf("store: zstd write: %w", err)
	}
	return enc.Close()
}

func (s *Store) readCompressed(path string) ([]byte, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open compressed file: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("store: new zstd reader: %w", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("store: zstd decode: %w", err)
	}
	return out, nil
}
