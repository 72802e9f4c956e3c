package deploy

import (
	"fmt"
	"strings"
	"time"
)

// AuthError reports a failed token acquisition. Fatal; nothing else can run
// without a bearer token.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// ResolutionError reports that no target workspace could be resolved or
// created. Fatal.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string { return "workspace resolution failed: " + e.Err.Error() }
func (e *ResolutionError) Unwrap() error { return e.Err }

// UploadError reports that every upload strategy was exhausted. It carries
// one attempt record per strategy for diagnosis.
type UploadError struct {
	Attempts []UploadAttempt
}

func (e *UploadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d upload strategies failed", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s", a.String())
	}
	return b.String()
}

// TimeoutError reports that the completion poller's wall-clock budget
// elapsed without observing a terminal state.
type TimeoutError struct {
	Kind    string
	Timeout time.Duration
	Last    error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s did not reach a terminal state within %s", e.Kind, e.Timeout)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// TerminalFailureError reports that the service marked the job failed.
type TerminalFailureError struct {
	Kind  string
	State string
}

func (e *TerminalFailureError) Error() string {
	return fmt.Sprintf("%s reached failure state %q", e.Kind, e.State)
}

// RebindError reports a failed datasource rebind. Non-fatal: the artifact is
// already published, so the pipeline downgrades this to a partial-success
// diagnostic.
type RebindError struct {
	Err error
}

func (e *RebindError) Error() string { return "datasource rebind failed: " + e.Err.Error() }
func (e *RebindError) Unwrap() error { return e.Err }
