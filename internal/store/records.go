package store

import (
	"fmt"

	"github.com/nzbget-go/core/internal/model"
)

// writeJobRecord appends one JOB line (scalar fields + nested-section
// counts) followed by every nested line it promised, in a fixed order:
// FILE*, CFILE*, PARAM*, SCRIPT*, MSG*, SS* (job-level server stats),
// CSS* (job-level current-server-stats).
func writeJobRecord(sb *stringsBuilder, j *model.Job) {
	cSize, cSuccess, cFailed, cParSize, cParSuccess, cParFailed, cTotalArts, cSuccessArts, cFailedArts := j.CompletedAccumulators()

	w := newLineWriter()
	w.i64(j.ID).i(int(j.Kind)).str(j.Name).str(j.SourceFilename).str(j.DestDir).str(j.FinalDir).str(j.Category)
	w.i(j.TotalFiles).i(j.PausedFiles).i(j.RemainingParCount).i(j.ActiveDownloads)
	w.i(j.TotalArticles).i(j.SuccessArticles).i(j.FailedArticles)
	w.i64(j.Size).i64(j.RemainingSize).i64(j.PausedSize).i64(j.SuccessSize).i64(j.FailedSize)
	w.i64(j.ParSize).i64(j.ParSuccessSize).i64(j.ParFailedSize)
	w.str(j.FullContentHash).str(j.FilteredContentHash).str(j.DupeKey).i(j.DupeScore).i(int(j.DupeMode)).i(int(j.DupeHint))
	w.i(int(j.ParStatus)).i(int(j.UnpackStatus)).i(int(j.MoveStatus)).i(int(j.CleanupStatus)).i(int(j.DeleteStatus))
	w.i(int(j.MarkStatus)).i(int(j.URLStatus)).i(int(j.DirectRenameStatus)).i(int(j.ParRenameStatus)).i(int(j.RarRenameStatus)).i(int(j.DirectUnpackStatus))
	w.b(j.Deleting).b(j.Parking).b(j.AvoidHistory).b(j.HealthPaused).b(j.DeletePaused).b(j.CleanupDisk)
	w.b(j.UnpackCleanedUpDisk).b(j.AllFirst).b(j.WaitingPar).b(j.LoadingPar).b(j.ManyDupeFiles)
	w.i(j.Priority)
	w.i64(mustUnix(j.MinArticleTime)).i64(mustUnix(j.MaxArticleTime)).i64(mustUnix(j.DownloadStartTime)).i64(j.DownloadedBytes)
	w.i(j.PostTotalSeconds).i(j.ParSeconds).i(j.RepairSeconds).i(j.UnpackSeconds)
	w.i(j.CriticalHealth)
	w.i64(cSize).i64(cSuccess).i64(cFailed).i64(cParSize).i64(cParSuccess).i64(cParFailed).i(cTotalArts).i(cSuccessArts).i(cFailedArts)
	w.i(len(j.Files)).i(len(j.CompletedFiles)).i(len(j.Parameters)).i(len(j.Scripts)).i(len(j.Messages.All()))
	w.i(len(j.ServerStats)).i(len(j.CurrentServerStats))

	sb.writeLine(tagJob, w.line())

	for _, f := range j.Files {
		writeFileRecord(sb, f)
	}
	for _, c := range j.CompletedFiles {
		writeCompletedFileRecord(sb, c)
	}
	for _, p := range j.Parameters {
		sb.writeLine(tagParam, newLineWriter().str(p.Name).str(p.Value).line())
	}
	for _, sc := range j.Scripts {
		sb.writeLine(tagScript, newLineWriter().str(sc.Name).str(sc.Status).line())
	}
	for _, m := range j.Messages.All() {
		sb.writeLine(tagMessage, newLineWriter().i(int(m.Kind)).i64(mustUnix(m.Time)).str(m.Text).line())
	}
	writeServerStatsMap(sb, j.ServerStats)
	writeServerStatsMap(sb, j.CurrentServerStats)
}

func readJobRecord(sc sectionScanner) (*model.Job, error) {
	r := newLineReader(stripTag(sc.Text()))
	j := model.NewJob(r.i64(), "", 0)
	j.Kind = model.JobKind(r.i())
	j.Name = r.str()
	j.SourceFilename = r.str()
	j.DestDir = r.str()
	j.FinalDir = r.str()
	j.Category = r.str()
	j.TotalFiles = r.i()
	j.PausedFiles = r.i()
	j.RemainingParCount = r.i()
	j.ActiveDownloads = r.i()
	j.TotalArticles = r.i()
	j.SuccessArticles = r.i()
	j.FailedArticles = r.i()
	j.Size = r.i64()
	j.RemainingSize = r.i64()
	j.PausedSize = r.i64()
	j.SuccessSize = r.i64()
	j.FailedSize = r.i64()
	j.ParSize = r.i64()
	j.ParSuccessSize = r.i64()
	j.ParFailedSize = r.i64()
	j.FullContentHash = r.str()
	j.FilteredContentHash = r.str()
	j.DupeKey = r.str()
	j.DupeScore = r.i()
	j.DupeMode = model.DupeMode(r.i())
	j.DupeHint = model.DupeHint(r.i())
	j.ParStatus = model.ParStatus(r.i())
	j.UnpackStatus = model.UnpackStatus(r.i())
	j.MoveStatus = model.MoveStatus(r.i())
	j.CleanupStatus = model.CleanupStatus(r.i())
	j.DeleteStatus = model.DeleteStatus(r.i())
	j.MarkStatus = model.MarkStatus(r.i())
	j.URLStatus = model.UrlStatus(r.i())
	j.DirectRenameStatus = model.DirectRenameStatus(r.i())
	j.ParRenameStatus = model.PostRenameStatus(r.i())
	j.RarRenameStatus = model.PostRenameStatus(r.i())
	j.DirectUnpackStatus = model.DirectUnpackStatus(r.i())
	j.Deleting = r.b()
	j.Parking = r.b()
	j.AvoidHistory = r.b()
	j.HealthPaused = r.b()
	j.DeletePaused = r.b()
	j.CleanupDisk = r.b()
	j.UnpackCleanedUpDisk = r.b()
	j.AllFirst = r.b()
	j.WaitingPar = r.b()
	j.LoadingPar = r.b()
	j.ManyDupeFiles = r.b()
	j.Priority = r.i()
	j.MinArticleTime = fromUnix(r.i64())
	j.MaxArticleTime = fromUnix(r.i64())
	j.DownloadStartTime = fromUnix(r.i64())
	j.DownloadedBytes = r.i64()
	j.PostTotalSeconds = r.i()
	j.ParSeconds = r.i()
	j.RepairSeconds = r.i()
	j.UnpackSeconds = r.i()
	j.CriticalHealth = r.i()
	cSize, cSuccess, cFailed := r.i64(), r.i64(), r.i64()
	cParSize, cParSuccess, cParFailed := r.i64(), r.i64(), r.i64()
	cTotalArts, cSuccessArts, cFailedArts := r.i(), r.i(), r.i()
	j.SetCompletedAccumulators(cSize, cSuccess, cFailed, cParSize, cParSuccess, cParFailed, cTotalArts, cSuccessArts, cFailedArts)
	numFiles := r.i()
	numCFiles := r.i()
	numParams := r.i()
	numScripts := r.i()
	numMessages := r.i()
	numServerStats := r.i()
	numCurrentServerStats := r.i()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("store: parse job record %d: %w", j.ID, err)
	}

	for i := 0; i < numFiles; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("store: truncated file section for job %d", j.ID)
		}
		f, err := readFileRecord(sc)
		if err != nil {
			return nil, err
		}
		j.Files = append(j.Files, f)
	}
	for i := 0; i < numCFiles; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("store: truncated completed-file section for job %d", j.ID)
		}
		c, err := readCompletedFileRecord(sc)
		if err != nil {
			return nil, err
		}
		j.CompletedFiles = append(j.CompletedFiles, c)
	}
	for i := 0; i < numParams; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("store: truncated param section for job %d", j.ID)
		}
		pr := newLineReader(stripTag(sc.Text()))
		name, value := pr.str(), pr.str()
		if err := pr.Err(); err != nil {
			return nil, fmt.Errorf("store: parse param for job %d: %w", j.ID, err)
		}
		j.Parameters = append(j.Parameters, model.PostParameter{Name: name, Value: value})
	}
	for i := 0; i < numScripts; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("store: truncated script section for job %d", j.ID)
		}
		sr := newLineReader(stripTag(sc.Text()))
		name, status := sr.str(), sr.str()
		if err := sr.Err(); err != nil {
			return nil, fmt.Errorf("store: parse script for job %d: %w", j.ID, err)
		}
		j.Scripts = append(j.Scripts, model.ScriptStatus{Name: name, Status: status})
	}
	var messages []model.Message
	for i := 0; i < numMessages; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("store: truncated message section for job %d", j.ID)
		}
		mr := newLineReader(stripTag(sc.Text()))
		kind := model.MessageKind(mr.i())
		when := fromUnix(mr.i64())
		text := mr.str()
		if err := mr.Err(); err != nil {
			return nil, fmt.Errorf("store: parse message for job %d: %w", j.ID, err)
		}
		messages = append(messages, model.Message{Kind: kind, Time: when, Text: text})
	}
	j.Messages.Restore(messages)

	ss, err := readServerStatsMap(sc, numServerStats)
	if err != nil {
		return nil, fmt.Errorf("store: server stats for job %d: %w", j.ID, err)
	}
	j.ServerStats = ss
	css, err := readServerStatsMap(sc, numCurrentServerStats)
	if err != nil {
		return nil, fmt.Errorf("store: current server stats for job %d: %w", j.ID, err)
	}
	j.CurrentServerStats = css

	return j, nil
}

func writeFileRecord(sb *stringsBuilder, f *model.File) {
	w := newLineWriter()
	w.i64(f.ID).i64(f.JobID).str(f.Subject).str(f.Filename).str(f.Origname).b(f.FilenameConfirmed)
	w.i64(f.Size).i64(f.RemainingSize).i64(f.SuccessSize).i64(f.FailedSize).i64(f.MissedSize)
	w.i(f.TotalArticles).i(f.MissedArticles).i(f.FailedArticles).i(f.SuccessArticles).i(f.CompletedArticles)
	w.b(f.Paused).b(f.Deleted).b(f.ParFile).b(f.ExtraPriority).b(f.OutputInitialized).b(f.ForceDirectWrite).b(f.DupeDeleted).b(f.FlushLocked)
	w.bytes16(f.Hash16k).b(f.HasHash).bytes16(f.ParSetID).b(f.HasSetID).u32(f.CRC)
	w.i(int(f.PartialState)).str(f.OutputFilename).i(f.ActiveDownloads)
	w.i(len(f.ServerStats))
	sb.writeLine(tagFile, w.line())
	writeServerStatsMap(sb, f.ServerStats)
}

func readFileRecord(sc sectionScanner) (*model.File, error) {
	r := newLineReader(stripTag(sc.Text()))
	f := &model.File{}
	f.ID = r.i64()
	f.JobID = r.i64()
	f.Subject = r.str()
	f.Filename = r.str()
	f.Origname = r.str()
	f.FilenameConfirmed = r.b()
	f.Size = r.i64()
	f.RemainingSize = r.i64()
	f.SuccessSize = r.i64()
	f.FailedSize = r.i64()
	f.MissedSize = r.i64()
	f.TotalArticles = r.i()
	f.MissedArticles = r.i()
	f.FailedArticles = r.i()
	f.SuccessArticles = r.i()
	f.CompletedArticles = r.i()
	f.Paused = r.b()
	f.Deleted = r.b()
	f.ParFile = r.b()
	f.ExtraPriority = r.b()
	f.OutputInitialized = r.b()
	f.ForceDirectWrite = r.b()
	f.DupeDeleted = r.b()
	f.FlushLocked = r.b()
	f.Hash16k = r.bytes16()
	f.HasHash = r.b()
	f.ParSetID = r.bytes16()
	f.HasSetID = r.b()
	f.CRC = r.u32()
	f.PartialState = model.PartialState(r.i())
	f.OutputFilename = r.str()
	f.ActiveDownloads = r.i()
	numServerStats := r.i()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("store: parse file record %d: %w", f.ID, err)
	}
	ss, err := readServerStatsMap(sc, numServerStats)
	if err != nil {
		return nil, fmt.Errorf("store: server stats for file %d: %w", f.ID, err)
	}
	f.ServerStats = ss
	return f, nil
}

func writeCompletedFileRecord(sb *stringsBuilder, c *model.CompletedFile) {
	w := newLineWriter()
	w.i64(c.ID).str(c.Filename).str(c.Origname).i(int(c.Status)).u32(c.CRC).b(c.ParFile)
	w.bytes16(c.Hash16k).b(c.HasHash).bytes16(c.ParSetID).b(c.HasSetID).i(int(c.PartialState))
	sb.writeLine(tagCFile, w.line())
}

func readCompletedFileRecord(sc sectionScanner) (*model.CompletedFile, error) {
	r := newLineReader(stripTag(sc.Text()))
	c := &model.CompletedFile{}
	c.ID = r.i64()
	c.Filename = r.str()
	c.Origname = r.str()
	c.Status = model.CompletedFileStatus(r.i())
	c.CRC = r.u32()
	c.ParFile = r.b()
	c.Hash16k = r.bytes16()
	c.HasHash = r.b()
	c.ParSetID = r.bytes16()
	c.HasSetID = r.b()
	c.PartialState = model.PartialState(r.i())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("store: parse completed-file record %d: %w", c.ID, err)
	}
	return c, nil
}

func writeServerStatsMap(sb *stringsBuilder, m map[int]*model.ServerStats) {
	for serverID, st := range m {
		w := newLineWriter()
		w.i(serverID).i(st.SuccessArticles).i(st.FailedArticles).i64(st.SuccessBytes).i64(st.FailedBytes)
		sb.writeLine(tagServer, w.line())
	}
}

func readServerStatsMap(sc sectionScanner, count int) (map[int]*model.ServerStats, error) {
	out := make(map[int]*model.ServerStats, count)
	for i := 0; i < count; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("truncated server-stats section")
		}
		r := newLineReader(stripTag(sc.Text()))
		serverID := r.i()
		st := &model.ServerStats{
			SuccessArticles: r.i(),
			FailedArticles:  r.i(),
			SuccessBytes:    r.i64(),
			FailedBytes:     r.i64(),
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		out[serverID] = st
	}
	return out, nil
}

// writeHistoryRecord appends one H line. Job-backed entries embed a full
// JOB record (with its own nested sections); DupInfo-backed "shadow"
// entries embed a D record instead.
func writeHistoryRecord(sb *stringsBuilder, e *model.HistoryEntry) {
	w := newLineWriter()
	w.i64(e.ID).i(int(e.Kind)).i64(mustUnix(e.Time))
	sb.writeLine(tagHistory, w.line())

	if e.Job != nil {
		writeJobRecord(sb, e.Job)
		return
	}
	writeDupInfoRecord(sb, e.DupInfo)
}

func readHistoryRecord(sc sectionScanner) (*model.HistoryEntry, error) {
	r := newLineReader(stripTag(sc.Text()))
	e := &model.HistoryEntry{}
	e.ID = r.i64()
	e.Kind = model.HistoryEntryKind(r.i())
	e.Time = fromUnix(r.i64())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("store: parse history record %d: %w", e.ID, err)
	}

	if !sc.Scan() {
		return nil, fmt.Errorf("store: truncated history payload for entry %d", e.ID)
	}
	if e.Kind == model.HistoryKindDup {
		d, err := readDupInfoRecord(sc)
		if err != nil {
			return nil, err
		}
		e.DupInfo = d
		return e, nil
	}
	j, err := readJobRecord(sc)
	if err != nil {
		return nil, err
	}
	e.Job = j
	return e, nil
}

func writeDupInfoRecord(sb *stringsBuilder, d *model.DupInfo) {
	w := newLineWriter()
	w.i64(d.ID).str(d.Name).str(d.DupeKey).i(d.DupeScore).i(int(d.DupeMode)).i64(d.Size)
	w.str(d.FullContentHash).str(d.FilteredContentHash).i(int(d.Status))
	sb.writeLine(tagDupInfo, w.line())
}

func readDupInfoRecord(sc sectionScanner) (*model.DupInfo, error) {
	r := newLineReader(stripTag(sc.Text()))
	d := &model.DupInfo{}
	d.ID = r.i64()
	d.Name = r.str()
	d.DupeKey = r.str()
	d.DupeScore = r.i()
	d.DupeMode = model.DupeMode(r.i())
	d.Size = r.i64()
	d.FullContentHash = r.str()
	d.FilteredContentHash = r.str()
	d.Status = model.DupInfoStatus(r.i())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("store: parse dupinfo record %d: %w", d.ID, err)
	}
	return d, nil
}
