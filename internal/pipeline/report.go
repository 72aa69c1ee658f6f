package pipeline

import (
	"time"

	. "github.com/roelfdiedericks/tldr/internal/logging"
)

// Status is the result of processing one message.
type Status string

const (
	StatusSummarized       Status = "summarized"
	StatusSkippedEmptyBody Status = "skipped_empty_body"
	StatusSkippedNoChunks  Status = "skipped_no_chunks"
	StatusFailed           Status = "failed"
)

// Outcome records what happened to one message.
type Outcome struct {
	UID     uint32
	Subject string
	Status  Status
	Summary string // set when Status is StatusSummarized
	ErrKind string // set when Status is StatusFailed
	Err     error
}

func (o Outcome) fail(kind string, err error) Outcome {
	o.Status = StatusFailed
	o.ErrKind = kind
	o.Err = err
	return o
}

// Report summarizes a run.
type Report struct {
	Started    time.Time
	Duration   time.Duration
	Fetched    int
	MarkedRead int
	Outcomes   []Outcome

	// MarkReadErr is set when delivered messages could not be marked read.
	// They will be summarized again on the next run.
	MarkReadErr error
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Log writes the run totals at info level.
func (r *Report) Log() {
	L_info("pipeline: run complete",
		"fetched", r.Fetched,
		"summarized", r.Count(StatusSummarized),
		"skipped", r.Count(StatusSkippedEmptyBody)+r.Count(StatusSkippedNoChunks),
		"failed", r.Count(StatusFailed),
		"markedRead", r.MarkedRead,
		"elapsed", r.Duration.Round(time.Millisecond),
	)
}
