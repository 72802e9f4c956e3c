package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/bitools/pbideploy/internal/artifact"
	"github.com/bitools/pbideploy/internal/powerbi"
)

// UploadAPI is the slice of the service surface the upload strategies need.
type UploadAPI interface {
	CreateTemporaryUploadLocation(ctx context.Context, groupID string) (powerbi.TemporaryUploadLocation, error)
	UploadToLocation(ctx context.Context, location string, r io.Reader, size int64) error
	ImportFromURL(ctx context.Context, groupID, displayName, fileURL string) (powerbi.ImportResult, error)
	ImportStream(ctx context.Context, groupID, displayName string, r io.Reader) (powerbi.ImportResult, error)
	ImportMultipart(ctx context.Context, groupID, displayName, filename string, r io.Reader) (powerbi.ImportResult, error)
	ImportMultipartMinimal(ctx context.Context, groupID, filename string, r io.Reader) (powerbi.ImportResult, error)
}

// strategy is one upload mechanism. Strategies are pure with respect to the
// chain: each opens its own reader over the artifact and reports its outcome
// through the returned result/error, never by mutating shared state.
type strategy struct {
	name string
	run  func(ctx context.Context, api UploadAPI, groupID, displayName string, art *artifact.Handle) (powerbi.ImportResult, error)
}

// strategies returns the chain in priority order. The staged upload goes
// first because it is the only shape that scales to large artifacts; the
// remaining shapes are progressively simpler fallbacks.
func strategies() []strategy {
	return []strategy{
		{name: "staged", run: runStaged},
		{name: "direct", run: runDirect},
		{name: "multipart", run: runMultipart},
		{name: "minimal", run: runMinimal},
	}
}

// runStaged requests a short-lived blob location, transfers the artifact
// bytes, then triggers import by reference. Any failing step abandons the
// whole strategy; there are no internal retries.
func runStaged(ctx context.Context, api UploadAPI, groupID, displayName string, art *artifact.Handle) (powerbi.ImportResult, error) {
	loc, err := api.CreateTemporaryUploadLocation(ctx, groupID)
	if err != nil {
		return powerbi.ImportResult{}, err
	}
	f, size, err := art.Open()
	if err != nil {
		return powerbi.ImportResult{}, err
	}
	defer f.Close()
	if err := api.UploadToLocation(ctx, loc.URL, f, size); err != nil {
		return powerbi.ImportResult{}, err
	}
	return api.ImportFromURL(ctx, groupID, displayName, loc.URL)
}

func runDirect(ctx context.Context, api UploadAPI, groupID, displayName string, art *artifact.Handle) (powerbi.ImportResult, error) {
	f, _, err := art.Open()
	if err != nil {
		return powerbi.ImportResult{}, err
	}
	defer f.Close()
	return api.ImportStream(ctx, groupID, displayName, f)
}

func runMultipart(ctx context.Context, api UploadAPI, groupID, displayName string, art *artifact.Handle) (powerbi.ImportResult, error) {
	f, _, err := art.Open()
	if err != nil {
		return powerbi.ImportResult{}, err
	}
	defer f.Close()
	return api.ImportMultipart(ctx, groupID, displayName, filepath.Base(art.Path()), f)
}

func runMinimal(ctx context.Context, api UploadAPI, groupID, displayName string, art *artifact.Handle) (powerbi.ImportResult, error) {
	f, _, err := art.Open()
	if err != nil {
		return powerbi.ImportResult{}, err
	}
	defer f.Close()
	return api.ImportMultipartMinimal(ctx, groupID, filepath.Base(art.Path()), f)
}

// Uploader walks the strategy chain until one mechanism succeeds.
type Uploader struct {
	api    UploadAPI
	logger *slog.Logger
}

// NewUploader creates an uploader over the given API surface.
func NewUploader(api UploadAPI, logger *slog.Logger) *Uploader {
	return &Uploader{api: api, logger: logger}
}

// Upload tries each strategy in priority order and returns the first
// successful import. Every attempt, including the winning one, is recorded
// in the diagnostics log with its status and body. When all strategies
// exhaust, the returned UploadError aggregates every attempt.
func (u *Uploader) Upload(ctx context.Context, groupID, displayName string, art *artifact.Handle, diag *Diagnostics) (powerbi.Import, error) {
	var attempts []UploadAttempt
	for _, s := range strategies() {
		if ctx.Err() != nil {
			return powerbi.Import{}, ctx.Err()
		}
		result, err := s.run(ctx, u.api, groupID, displayName, art)
		attempt := UploadAttempt{
			Strategy:   s.name,
			StatusCode: result.StatusCode,
			Body:       string(result.Body),
		}
		if err != nil {
			attempt.Error = err.Error()
			var apiErr *powerbi.APIError
			if errors.As(err, &apiErr) && attempt.StatusCode == 0 {
				attempt.StatusCode = apiErr.Status
				attempt.Body = apiErr.Body
			}
			attempts = append(attempts, attempt)
			diag.RecordAttempt(attempt)
			if u.logger != nil {
				u.logger.Warn("upload strategy failed", "strategy", s.name, "status", attempt.StatusCode, "error", err)
			}
			continue
		}
		attempts = append(attempts, attempt)
		diag.RecordAttempt(attempt)
		if u.logger != nil {
			u.logger.Info("upload succeeded", "strategy", s.name, "status", result.StatusCode, "import_id", result.Import.ID)
		}
		return result.Import, nil
	}
	return powerbi.Import{}, &UploadError{Attempts: attempts}
}
