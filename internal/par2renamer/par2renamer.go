// Package par2renamer implements the post-download fallback rename
// pass: when direct-rename did not run (or did not finish) during
// download, this scans every file already written to the job's destination
// directory, matches it against the job's own par2 descriptors by content
// hash, and renames whatever it can.
package par2renamer

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/par2"
)

// fingerprintWindow mirrors rename.fingerprintWindow; duplicated rather than
// imported to keep this package's only internal dependencies on model/par2.
const fingerprintWindow = 16 * 1024

// Renamer scans a job's destination directory for par2 descriptors and
// renames on-disk files whose content hash matches one.
type Renamer struct {
	fs  afero.Fs
	log *slog.Logger
}

// New constructs a Renamer over fs.
func New(fs afero.Fs, log *slog.Logger) *Renamer {
	return &Renamer{fs: fs, log: log.With("component", "par2renamer")}
}

// Result is the outcome of one rename pass.
type Result struct {
	Status  model.PostRenameStatus
	Renamed int
	// Missing lists par-described filenames still absent from disk after
	// the pass; populated only when Run was asked to detect them.
	Missing []string
}

// Run walks dir and every subdirectory under it, builds a hash16k ->
// original-name table from each directory's *.par2 FileDesc packets, and
// renames every other file whose first 16 KiB matches an entry.
// The returned Status is what callers store on the Job's ParRenameStatus.
func (r *Renamer) Run(ctx context.Context, dir string, detectMissing bool) (Result, error) {
	dirs, err := r.listDirsRecursive(dir)
	if err != nil {
		return Result{Status: model.PostRenameStatusNone}, err
	}

	res := Result{Status: model.PostRenameStatusSkipped}
	parSeen := false
	for _, d := range dirs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		parFiles, others, err := r.listDir(d)
		if err != nil {
			r.log.Warn("par2renamer: skipping unreadable directory", "dir", d, "err", err)
			continue
		}
		if len(parFiles) == 0 {
			continue
		}
		parSeen = true

		table, err := r.buildHashTable(ctx, d, parFiles)
		if err != nil {
			return res, err
		}
		if len(table) == 0 {
			continue
		}

		for _, name := range others {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			ok, err := r.renameIfMatch(d, name, table)
			if err != nil {
				r.log.Warn("par2renamer: rename attempt failed", "file", name, "err", err)
				continue
			}
			if ok {
				res.Renamed++
			}
		}

		if detectMissing {
			for _, expected := range table {
				if present, _ := afero.Exists(r.fs, filepath.Join(d, expected)); !present {
					res.Missing = append(res.Missing, expected)
				}
			}
		}
	}

	switch {
	case !parSeen:
		res.Status = model.PostRenameStatusSkipped
	case res.Renamed == 0:
		res.Status = model.PostRenameStatusNothing
	default:
		res.Status = model.PostRenameStatusSuccess
	}
	return res, nil
}

// listDirsRecursive returns dir plus every subdirectory under it, depth
// first.
func (r *Renamer) listDirsRecursive(dir string) ([]string, error) {
	var out []string
	err := afero.Walk(r.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("par2renamer: walk: %w", err)
	}
	if len(out) == 0 {
		out = []string{dir}
	}
	return out, nil
}

// listDir partitions one directory's entries into par2 files and everything
// else.
func (r *Renamer) listDir(dir string) (parFiles, others []string, err error) {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("par2renamer: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".par2") {
			parFiles = append(parFiles, e.Name())
		} else {
			others = append(others, e.Name())
		}
	}
	return parFiles, others, nil
}

// buildHashTable parses FileDesc packets out of every par file concurrently
// and merges the results into a single hash16k -> name table. A parse
// failure on one
// file is logged and skipped rather than failing the whole pass, consistent
// with how the direct renamer treats a bad fingerprint: skip it, keep going.
func (r *Renamer) buildHashTable(ctx context.Context, dir string, parFiles []string) (map[[16]byte]string, error) {
	type result struct {
		descs []par2.FileDescriptor
	}
	results := make([]result, len(parFiles))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range parFiles {
		i, name := i, name
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			f, err := r.fs.Open(filepath.Join(dir, name))
			if err != nil {
				r.log.Warn("par2renamer: could not open par file", "file", name, "err", err)
				return nil
			}
			defer f.Close()
			descs, err := par2.ReadFileDescriptors(f, 0)
			if err != nil {
				r.log.Warn("par2renamer: could not parse par file", "file", name, "err", err)
				return nil
			}
			results[i] = result{descs: descs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := make(map[[16]byte]string)
	for _, res := range results {
		for _, d := range res.descs {
			if _, exists := table[d.Hash16k]; !exists {
				table[d.Hash16k] = d.Name
			}
		}
	}
	return table, nil
}

// renameIfMatch hashes the first 16 KiB of dir/name and, if it matches a
// table entry under a different name, renames it on disk. It never
// overwrites an existing file of the target name.
func (r *Renamer) renameIfMatch(dir, name string, table map[[16]byte]string) (bool, error) {
	hash, err := r.hashFirst16k(filepath.Join(dir, name))
	if err != nil {
		return false, err
	}
	newName, ok := table[hash]
	if !ok || strings.EqualFold(newName, name) {
		return false, nil
	}

	newPath := filepath.Join(dir, newName)
	if exists, _ := afero.Exists(r.fs, newPath); exists {
		return false, nil
	}
	if err := r.fs.Rename(filepath.Join(dir, name), newPath); err != nil {
		return false, fmt.Errorf("par2renamer: rename: %w", err)
	}
	return true, nil
}

func (r *Renamer) hashFirst16k(path string) ([16]byte, error) {
	var out [16]byte
	f, err := r.fs.Open(path)
	if err != nil {
		return out, fmt.Errorf("par2renamer: open: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.CopyN(h, f, fingerprintWindow); err != nil && err != io.EOF {
		return out, fmt.Errorf("par2renamer: read: %w", err)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}
