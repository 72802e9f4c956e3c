package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bitools/pbideploy/internal/artifact"
	"github.com/bitools/pbideploy/internal/auth"
	"github.com/bitools/pbideploy/internal/pbix"
)

// API is the full service surface the pipeline consumes.
type API interface {
	UploadAPI
	PollAPI
	RebindAPI
}

// Resolver maps a configured workspace id or name to a concrete id.
type Resolver interface {
	ResolveWorkspace(ctx context.Context, id, name string) (string, error)
}

// containerBuilder produces the artifact for a project directory.
type containerBuilder interface {
	Build(ctx context.Context, project pbix.Project, dest string) error
}

// Request carries the inputs for one pipeline run. Exactly one of
// ProjectDir and ArtifactPath must be set.
type Request struct {
	WorkspaceID   string
	WorkspaceName string
	DisplayName   string
	ProjectDir    string
	ArtifactPath  string
	Warehouse     *WarehouseTarget
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

// Result is the terminal outcome of a run. Diagnostics is always populated,
// including on failure, so callers can render the per-stage log.
type Result struct {
	RunID         string
	DatasetID     string
	RebindUpdates int
	RebindErr     *RebindError
	Diagnostics   *Diagnostics
}

// Service sequences packaging, upload, polling and rebinding. Stages run
// strictly sequentially; each depends on the previous stage's output.
type Service struct {
	tokens   auth.TokenSource
	api      API
	resolver Resolver
	builder  containerBuilder
	logger   *slog.Logger
}

// New creates the pipeline service.
func New(tokens auth.TokenSource, api API, resolver Resolver, logger *slog.Logger) *Service {
	return &Service{
		tokens:   tokens,
		api:      api,
		resolver: resolver,
		builder:  pbix.NewBuilder(logger),
		logger:   logger,
	}
}

// Run executes the pipeline. Fatal errors abort the remaining stages but
// the temporary artifact is deleted on every exit path; rebind failures are
// recorded on the result without failing the run.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	diag := &Diagnostics{RunID: uuid.NewString()}
	result := Result{RunID: diag.RunID, Diagnostics: diag}
	log := s.logger
	if log != nil {
		log = log.With("run_id", diag.RunID)
	}

	if _, err := s.tokens.Token(ctx); err != nil {
		diag.RecordError("auth", err)
		return result, &AuthError{Err: err}
	}
	diag.Record("auth", "bearer token acquired")

	groupID, err := s.resolver.ResolveWorkspace(ctx, req.WorkspaceID, req.WorkspaceName)
	if err != nil {
		diag.RecordError("resolve", err)
		return result, &ResolutionError{Err: err}
	}
	diag.Record("resolve", "workspace "+groupID)

	handle, err := s.prepareArtifact(ctx, req, diag)
	if err != nil {
		return result, err
	}
	defer func() {
		if closeErr := handle.Close(); closeErr != nil && log != nil {
			log.Warn("artifact cleanup failed", "path", handle.Path(), "error", closeErr)
		}
	}()

	uploader := NewUploader(s.api, log)
	imp, err := uploader.Upload(ctx, groupID, req.DisplayName, handle, diag)
	if err != nil {
		diag.RecordError("upload", err)
		return result, err
	}
	diag.Record("upload", "artifact accepted")

	poller := NewPoller(s.api, req.PollInterval, log)
	datasetID := ""
	if imp.ID != "" {
		datasetID, err = poller.WaitImport(ctx, groupID, imp.ID, req.PollTimeout)
		if err != nil {
			diag.RecordError("poll", err)
			return result, err
		}
	}
	if datasetID == "" {
		// No job identifier (or the job reported no dataset): fall back to
		// watching the dataset listing for the display name.
		datasetID, err = poller.WaitDataset(ctx, groupID, req.DisplayName, req.PollTimeout)
		if err != nil {
			diag.RecordError("poll", err)
			return result, err
		}
	}
	result.DatasetID = datasetID
	diag.Record("poll", "dataset "+datasetID+" ready")

	if req.Warehouse != nil {
		rebinder := NewRebinder(s.api, log)
		updates, rebindErr := rebinder.Rebind(ctx, groupID, datasetID, *req.Warehouse)
		if rebindErr != nil {
			var typed *RebindError
			if !errors.As(rebindErr, &typed) {
				typed = &RebindError{Err: rebindErr}
			}
			result.RebindErr = typed
			diag.RecordError("rebind", typed)
			if log != nil {
				log.Warn("continuing despite rebind failure", "error", typed)
			}
		} else {
			result.RebindUpdates = updates
			diag.Record("rebind", fmt.Sprintf("%d datasource update(s) issued", updates))
		}
	}

	return result, nil
}

func (s *Service) prepareArtifact(ctx context.Context, req Request, diag *Diagnostics) (*artifact.Handle, error) {
	if req.ArtifactPath != "" {
		handle, err := artifact.FromFile(req.ArtifactPath)
		if err != nil {
			wrapped := &pbix.PackagingError{Reason: "pre-built artifact not usable", Err: err}
			diag.RecordError("package", wrapped)
			return nil, wrapped
		}
		diag.Record("package", "using pre-built artifact "+req.ArtifactPath)
		return handle, nil
	}

	project, err := pbix.Discover(req.ProjectDir)
	if err != nil {
		diag.RecordError("package", err)
		return nil, err
	}
	handle := artifact.NewTemp()
	if err := s.builder.Build(ctx, project, handle.Path()); err != nil {
		handle.Close()
		diag.RecordError("package", err)
		return nil, err
	}
	diag.Record("package", "container built from "+req.ProjectDir)
	return handle, nil
}
