// Package app wires every subsystem into one explicit services struct,
// built once at startup and threaded through every constructor
// (config -> logger -> store -> coordinators -> cross-wiring callbacks ->
// start) instead of a set of global singletons.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/nzbget-go/core/internal/config"
	"github.com/nzbget-go/core/internal/dupe"
	"github.com/nzbget-go/core/internal/events"
	"github.com/nzbget-go/core/internal/history"
	"github.com/nzbget-go/core/internal/historyindex"
	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/par2renamer"
	"github.com/nzbget-go/core/internal/queue"
	"github.com/nzbget-go/core/internal/rename"
	"github.com/nzbget-go/core/internal/scanner"
	"github.com/nzbget-go/core/internal/store"
)

// Services bundles the core subsystems, wired together and ready to
// Start/Stop as a unit. NNTP transport, the PAR2 repair engine, unpackers
// and the RPC/HTTP control surface are external collaborators and are not
// constructed here — Transport must be supplied by the caller (see NoopTransport for the placeholder cmd/nzbgetd uses when
// none is configured).
type Services struct {
	Config *config.Manager
	Log    *slog.Logger

	FS    afero.Fs
	Store *store.Store
	Index *historyindex.Index

	Queue      *queue.Coordinator
	Dupe       *dupe.Coordinator
	History    *history.Coordinator
	Renamer    *rename.Renamer
	Scanner    *scanner.Scanner
	ParRenamer *par2renamer.Renamer

	Bus     *events.Bus
	Flusher *store.Flusher

	queueJobs      *model.Queue
	historyEntries *model.History
	ids            *model.IDGenerator
}

// Build constructs every subsystem from cfg but does not start any
// goroutines; call Start to launch them.
// transport is the NNTP article-fetch collaborator; pass
// NoopTransport{} when none is wired up yet.
func Build(cfg *config.Manager, transport queue.Transport, log *slog.Logger) (*Services, error) {
	if log == nil {
		log = slog.Default()
	}
	c := cfg.GetConfig()

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(c.Store.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create store dir: %w", err)
	}

	st := store.New(fs, c.Store.Dir, log)
	q, h, nextID, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("app: load persisted state: %w", err)
	}
	ids := model.NewIDGenerator(nextID)

	index, err := historyindex.Open(c.HistoryIdx.Path, log)
	if err != nil {
		return nil, fmt.Errorf("app: open history index: %w", err)
	}
	if err := index.Rebuild(context.Background(), q, h); err != nil {
		return nil, fmt.Errorf("app: rebuild history index: %w", err)
	}

	bus := events.NewBus()

	// The flusher's snapshot runs on its own goroutine, so the encode is
	// bracketed by the queue lock; the disk write happens after the closure
	// returns, lock-free.
	var qc *queue.Coordinator
	snapshot := func() *store.Encoded {
		if qc != nil {
			qc.Lock()
			defer qc.Unlock()
		}
		return st.Encode(q, h, ids.Peek())
	}
	flusher := store.NewFlusher(st, snapshot, log)
	flusher.SetInterval(time.Duration(c.Store.FlushIntervalSeconds) * time.Second)

	queueCfg := queue.Config{
		MaxActiveDownloads:     c.Queue.MaxActiveDownloads,
		ForcePriorityThreshold: c.Queue.ForcePriorityThreshold,
		URLTimeout:             c.Queue.URLTimeout(),
		MessageLogBuffer:       c.Queue.MessageLogBuffer,
		HangCheckInterval:      c.Queue.HangCheckInterval(),
	}
	writer := queue.NewFileWriter(fs)
	qc = queue.New(queueCfg, q, h, ids, transport, writer, bus, flusher, log)

	dupeCfg := dupe.Config{HashCacheSize: c.Dupe.HashCacheSize}
	dc := dupe.New(dupeCfg, q, h, index, log)

	histCfg := history.Config{
		KeepHistoryDays:  c.History.KeepHistoryDays,
		DupeCheckEnabled: c.History.DupeCheckEnabled,
		ServiceCron:      c.History.ServiceCron,
		MessageLogBuffer: c.History.MessageLogBuffer,
	}
	hc := history.New(histCfg, q, h, ids, st, index, fs, bus, log)

	// Cross-wire the three coordinators per their declared interfaces.
	qc.SetDupeHook(dc)
	qc.SetFinalizeHook(hc)
	qc.SetHistoryEditor(hc)
	dc.SetFinalizeHook(hc)
	dc.SetHistoryOps(hc)
	hc.SetQueueCoord(qc)
	hc.SetDupe(dc)

	renamer := rename.New(qc, qc, bus, fs, log)
	qc.SetRenamer(renamer)

	parRenamer := par2renamer.New(fs, log)

	categories := make(map[string]scanner.CategoryParams, len(c.Categories))
	for _, cat := range c.Categories {
		categories[cat.Name] = scanner.CategoryParams{
			Category: cat.Name,
			Priority: cat.Priority,
			DupeMode: parseDupeMode(cat.DupeMode),
			DupeHint: parseDupeHint(cat.DupeHint),
			Paused:   cat.Paused,
			AddTop:   cat.AddTop,
		}
	}
	scanCfg := scanner.Config{
		WatchDir:      c.Scanner.WatchDir,
		FileAge:       c.Scanner.FileAge(),
		PollCron:      c.Scanner.PollCron,
		ScanScript:    c.Scanner.ScanScript,
		Categories:    categories,
		DefaultParams: scanner.CategoryParams{DupeMode: model.DupeModeScore},
		LogBuffer:     c.Scanner.LogBuffer,
	}
	sc := scanner.New(scanCfg, fs, ids, qc, log)

	// Logging's ComponentRegistry entry is registered by the caller, which
	// is the one holding the DynamicLeveler backing the actual logger
	// (see cmd/nzbgetd/cmd/root.go's loadManager); only the queue's own
	// live-reload hook is registered here, once the coordinator exists.
	cfg.Registry().RegisterQueue(qc)

	return &Services{
		Config:         cfg,
		Log:            log,
		FS:             fs,
		Store:          st,
		Index:          index,
		Queue:          qc,
		Dupe:           dc,
		History:        hc,
		Renamer:        renamer,
		Scanner:        sc,
		ParRenamer:     parRenamer,
		Bus:            bus,
		Flusher:        flusher,
		queueJobs:      q,
		historyEntries: h,
		ids:            ids,
	}, nil
}

// Start launches every subsystem's background goroutines.
func (s *Services) Start(ctx context.Context) error {
	s.Queue.Start(ctx)
	s.History.Start()
	go s.Flusher.Run(ctx)
	if err := s.Scanner.Start(ctx); err != nil {
		return fmt.Errorf("app: start scanner: %w", err)
	}
	return nil
}

// Stop halts every subsystem and flushes persisted state one last time.
func (s *Services) Stop() {
	s.Scanner.Stop()
	s.History.Stop()
	s.Queue.Stop()
	s.Flusher.FlushNow(context.Background())
	if s.Index != nil {
		s.Index.Close()
	}
}

func parseDupeMode(s string) model.DupeMode {
	switch s {
	case "all":
		return model.DupeModeAll
	case "force":
		return model.DupeModeForce
	default:
		return model.DupeModeScore
	}
}

func parseDupeHint(s string) model.DupeHint {
	switch s {
	case "redownload_manual":
		return model.DupeHintRedownloadManual
	case "redownload_auto":
		return model.DupeHintRedownloadAuto
	default:
		return model.DupeHintNone
	}
}
