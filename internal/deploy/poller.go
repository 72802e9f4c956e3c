package deploy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bitools/pbideploy/internal/powerbi"
)

// PollAPI is the slice of the service surface the completion poller needs.
type PollAPI interface {
	GetImport(ctx context.Context, groupID, importID string) (powerbi.Import, error)
	Datasets(ctx context.Context, groupID string) ([]powerbi.Dataset, error)
}

// pollState is the shared state machine for both polling targets. Anything
// the service reports that is not an explicit terminal state counts as
// pending.
type pollState int

const (
	statePending pollState = iota
	stateSucceeded
	stateFailed
)

func classifyImportState(state string) pollState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "succeeded":
		return stateSucceeded
	case "failed", "error":
		return stateFailed
	default:
		return statePending
	}
}

var errStillPending = errors.New("not in a terminal state yet")

// Poller waits for server-side processing to reach a terminal state within
// a wall-clock budget. The budget is distinct from the per-request network
// timeout carried by the API client.
type Poller struct {
	api      PollAPI
	logger   *slog.Logger
	interval time.Duration
}

// NewPoller creates a poller with the given fixed poll interval.
func NewPoller(api PollAPI, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{api: api, interval: interval, logger: logger}
}

func (p *Poller) wait(ctx context.Context, kind string, timeout time.Duration, probe func(ctx context.Context) error) error {
	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(p.interval))
	err := retry.Do(ctx, backoff, probe)
	if err == nil {
		return nil
	}
	var terminal *TerminalFailureError
	if errors.As(err, &terminal) {
		return terminal
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return ctxErr
	}
	if errors.Is(err, errStillPending) {
		err = nil
	}
	return &TimeoutError{Kind: kind, Timeout: timeout, Last: err}
}

// WaitImport polls the import job until it succeeds, fails, or the budget
// elapses. On success it returns the id of the dataset the import produced,
// or empty when the service reported none.
func (p *Poller) WaitImport(ctx context.Context, groupID, importID string, timeout time.Duration) (string, error) {
	var datasetID string
	err := p.wait(ctx, "import "+importID, timeout, func(ctx context.Context) error {
		imp, err := p.api.GetImport(ctx, groupID, importID)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch classifyImportState(imp.ImportState) {
		case stateSucceeded:
			if len(imp.Datasets) > 0 {
				datasetID = imp.Datasets[0].ID
			}
			return nil
		case stateFailed:
			return &TerminalFailureError{Kind: "import " + importID, State: imp.ImportState}
		default:
			if p.logger != nil {
				p.logger.Debug("import still processing", "import_id", importID, "state", imp.ImportState)
			}
			return retry.RetryableError(errStillPending)
		}
	})
	if err != nil {
		return "", err
	}
	return datasetID, nil
}

// WaitDataset polls the workspace's dataset listing until an entry with the
// given display name appears. Existence of the named entry is itself the
// terminal-success signal; this path is used when the upload returned no
// job identifier.
func (p *Poller) WaitDataset(ctx context.Context, groupID, displayName string, timeout time.Duration) (string, error) {
	var datasetID string
	err := p.wait(ctx, "dataset "+displayName, timeout, func(ctx context.Context) error {
		datasets, err := p.api.Datasets(ctx, groupID)
		if err != nil {
			return retry.RetryableError(err)
		}
		for _, ds := range datasets {
			if ds.Name == displayName {
				datasetID = ds.ID
				return nil
			}
		}
		if p.logger != nil {
			p.logger.Debug("dataset not listed yet", "dataset_name", displayName)
		}
		return retry.RetryableError(errStillPending)
	})
	if err != nil {
		return "", err
	}
	return datasetID, nil
}
