package schedule

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/roelfdiedericks/tldr/internal/paths"
	"github.com/roelfdiedericks/tldr/internal/pipeline"
)

const (
	// MaxErrorChars bounds the stored error text of a run.
	MaxErrorChars = 2000

	// MaxHistoryBytes triggers pruning of a history file (1MB).
	MaxHistoryBytes = 1024 * 1024

	// MaxHistoryLines is the number of entries kept after pruning.
	MaxHistoryLines = 1000
)

// Run statuses recorded in history.
const (
	RunOK      = "ok"
	RunPartial = "partial" // some messages failed
	RunError   = "error"
	RunLocked  = "locked"
)

// RunEntry is one line of a mailbox's run history.
type RunEntry struct {
	Ts         int64  `json:"ts"` // unix ms
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Fetched    int    `json:"fetched"`
	Summarized int    `json:"summarized"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	MarkedRead int    `json:"markedRead"`
	Error      string `json:"error,omitempty"`
}

// History stores run entries as JSONL, one file per mailbox identity.
type History struct {
	dir string
}

// NewHistory creates a history rooted at dir, defaulting to ~/.tldr/runs.
func NewHistory(dir string) (*History, error) {
	if dir == "" {
		d, err := paths.DataPath("runs")
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &History{dir: dir}, nil
}

// EntryFromReport builds a history entry from a run's report and error.
// report may be nil when the run failed before fetching.
func EntryFromReport(start time.Time, report *pipeline.Report, runErr error) RunEntry {
	e := RunEntry{
		Ts:         start.UnixMilli(),
		Status:     RunOK,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if report != nil {
		e.Fetched = report.Fetched
		e.Summarized = report.Count(pipeline.StatusSummarized)
		e.Skipped = report.Count(pipeline.StatusSkippedEmptyBody) + report.Count(pipeline.StatusSkippedNoChunks)
		e.Failed = report.Count(pipeline.StatusFailed)
		e.MarkedRead = report.MarkedRead
		if e.Failed > 0 || report.MarkReadErr != nil {
			e.Status = RunPartial
		}
	}
	if runErr != nil {
		e.Status = RunError
		e.Error = truncate(runErr.Error())
	}
	return e
}

// Append adds an entry to identity's history, pruning the file when it
// grows past MaxHistoryBytes.
func (h *History) Append(identity string, entry RunEntry) error {
	if err := paths.EnsureDir(h.dir); err != nil {
		return err
	}
	entry.Error = truncate(entry.Error)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	path := h.path(identity)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if stat, err := f.Stat(); err == nil && stat.Size() > MaxHistoryBytes {
		L_debug("schedule: history file exceeds size limit, pruning", "path", path, "size", stat.Size())
		h.prune(path)
	}
	return nil
}

// Recent returns up to limit entries, most recent first. A limit of 0
// returns everything.
func (h *History) Recent(identity string, limit int) ([]RunEntry, error) {
	f, err := os.Open(h.path(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	var entries []RunEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e RunEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // skip malformed lines
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	slices.Reverse(entries)
	return entries, nil
}

// prune keeps the last MaxHistoryLines lines of path.
func (h *History) prune(path string) {
	f, err := os.Open(path)
	if err != nil {
		L_error("schedule: failed to open history for pruning", "path", path, "error", err)
		return
	}
	var lines [][]byte
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, append([]byte{}, scanner.Bytes()...))
	}
	f.Close()

	if len(lines) <= MaxHistoryLines {
		return
	}
	lines = lines[len(lines)-MaxHistoryLines:]

	var buf []byte
	for _, l := range lines {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0600); err != nil {
		L_error("schedule: failed to write pruned history", "path", path, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		L_error("schedule: failed to rename pruned history", "path", path, "error", err)
		os.Remove(tmp)
		return
	}
	L_debug("schedule: pruned history", "path", path, "kept", len(lines))
}

func (h *History) path(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return filepath.Join(h.dir, hex.EncodeToString(sum[:8])+".jsonl")
}

func truncate(s string) string {
	if len(s) <= MaxErrorChars {
		return s
	}
	return s[:MaxErrorChars-3] + "..."
}
