package deploy

import (
	"fmt"
	"strings"
	"time"
)

// StageEvent is one entry of the pipeline's ordered diagnostic log.
type StageEvent struct {
	Stage   string
	Message string
	Error   string
	At      time.Time
}

// UploadAttempt records the outcome of one upload strategy, kept even for
// the successful attempt.
type UploadAttempt struct {
	Strategy   string
	StatusCode int
	Body       string
	Error      string
}

func (a UploadAttempt) String() string {
	msg := fmt.Sprintf("%s: status=%d", a.Strategy, a.StatusCode)
	if a.Error != "" {
		msg += " error=" + a.Error
	} else if body := strings.TrimSpace(a.Body); body != "" {
		msg += " body=" + truncate(body, 200)
	}
	return msg
}

// Diagnostics is the structured log threaded through one pipeline run and
// attached to its result. It replaces ambient output: every stage records
// here, and the CLI renders it when a run fails.
type Diagnostics struct {
	RunID    string
	Stages   []StageEvent
	Attempts []UploadAttempt
}

// Record appends a stage event.
func (d *Diagnostics) Record(stage, message string) {
	d.Stages = append(d.Stages, StageEvent{Stage: stage, Message: message, At: time.Now().UTC()})
}

// RecordError appends a failed stage event.
func (d *Diagnostics) RecordError(stage string, err error) {
	d.Stages = append(d.Stages, StageEvent{Stage: stage, Error: err.Error(), At: time.Now().UTC()})
}

// RecordAttempt appends one upload strategy attempt.
func (d *Diagnostics) RecordAttempt(a UploadAttempt) {
	d.Attempts = append(d.Attempts, a)
}

// Summary renders the log for human consumption on the error stream.
func (d *Diagnostics) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", d.RunID)
	for _, ev := range d.Stages {
		if ev.Error != "" {
			fmt.Fprintf(&b, "  [%s] FAILED: %s\n", ev.Stage, ev.Error)
			continue
		}
		fmt.Fprintf(&b, "  [%s] %s\n", ev.Stage, ev.Message)
	}
	if len(d.Attempts) > 0 {
		fmt.Fprintf(&b, "  upload attempts:\n")
		for _, a := range d.Attempts {
			fmt.Fprintf(&b, "    %s\n", a.String())
		}
	}
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("... (%d bytes truncated)", len(s)-limit)
}
