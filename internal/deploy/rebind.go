package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bitools/pbideploy/internal/powerbi"
)

// RebindAPI is the slice of the service surface the rebinder needs.
type RebindAPI interface {
	Datasources(ctx context.Context, groupID, datasetID string) ([]powerbi.Datasource, error)
	UpdateDatasources(ctx context.Context, groupID, datasetID string, updates []powerbi.DatasourceUpdate) error
}

// WarehouseTarget is the destination the published dataset's datasources
// are rewritten to point at.
type WarehouseTarget struct {
	Connection string
	Catalog    string
	Username   string
	Password   string
}

// ConnectionString builds the replacement connection string for the target.
func (t WarehouseTarget) ConnectionString() string {
	return fmt.Sprintf("powerbi://%s;Initial Catalog=%s", t.Connection, t.Catalog)
}

// Rebinder rewrites a published dataset's connection bindings. It never
// fails the pipeline: by the time it runs the artifact is already
// published, so failures are downgraded to partial-success diagnostics by
// the orchestrator.
type Rebinder struct {
	api    RebindAPI
	logger *slog.Logger
}

// NewRebinder creates a rebinder over the given API surface.
func NewRebinder(api RebindAPI, logger *slog.Logger) *Rebinder {
	return &Rebinder{api: api, logger: logger}
}

// Rebind fetches the dataset's datasources and submits one batched update
// for every entry with a known datasource id. An empty datasource list is a
// no-op success; freshly imported artifacts often have nothing to rebind.
// It returns the number of update descriptors issued.
func (r *Rebinder) Rebind(ctx context.Context, groupID, datasetID string, target WarehouseTarget) (int, error) {
	sources, err := r.api.Datasources(ctx, groupID, datasetID)
	if err != nil {
		return 0, &RebindError{Err: fmt.Errorf("list datasources: %w", err)}
	}
	if len(sources) == 0 {
		if r.logger != nil {
			r.logger.Info("dataset has no datasources to rebind", "dataset_id", datasetID)
		}
		return 0, nil
	}

	updates := buildUpdates(sources, target)
	if len(updates) == 0 {
		if r.logger != nil {
			r.logger.Info("no datasource carries an id, nothing rebindable", "dataset_id", datasetID)
		}
		return 0, nil
	}

	if err := r.api.UpdateDatasources(ctx, groupID, datasetID, updates); err != nil {
		return 0, &RebindError{Err: fmt.Errorf("update datasources: %w", err)}
	}
	if r.logger != nil {
		r.logger.Info("datasources rebound", "dataset_id", datasetID, "updates", len(updates))
	}
	return len(updates), nil
}

// buildUpdates builds one descriptor per datasource that has a
// provider-assigned id. Entries without an id are skipped: there is no safe
// selector for them and inventing one risks rewriting the wrong binding.
// A credential block is attached only when username and password are both
// explicitly supplied.
func buildUpdates(sources []powerbi.Datasource, target WarehouseTarget) []powerbi.DatasourceUpdate {
	connection := target.ConnectionString()
	var updates []powerbi.DatasourceUpdate
	for _, ds := range sources {
		if strings.TrimSpace(ds.DatasourceID) == "" {
			continue
		}
		update := powerbi.DatasourceUpdate{
			DatasourceSelector: powerbi.DatasourceSelector{
				DatasourceID:   ds.DatasourceID,
				DatasourceType: ds.DatasourceType,
			},
			ConnectionDetails: powerbi.ConnectionDetails{ConnectionString: connection},
		}
		if target.Username != "" && target.Password != "" {
			update.CredentialDetails = &powerbi.CredentialDetails{
				CredentialType: "Basic",
				BasicCredentials: powerbi.BasicCredentials{
					Username: target.Username,
					Password: target.Password,
				},
				CredentialsEncrypted: false,
			}
		}
		updates = append(updates, update)
	}
	return updates
}
