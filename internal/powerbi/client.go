package powerbi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bitools/pbideploy/internal/auth"
)

// DefaultBaseURL is the production API root for the caller's organisation.
const DefaultBaseURL = "https://api.powerbi.com/v1.0/myorg"

// nameConflict controls what the service does when an import collides with
// an existing dataset of the same name.
const nameConflict = "CreateOrOverwrite"

// Client provides typed access to the analytics REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
	logger     *slog.Logger
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, tokens auth.TokenSource, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, strings.TrimSpace(e.Body))
}

// send issues one authenticated request and returns the raw status and body.
// Callers that need the payload decode it themselves; import-producing calls
// keep the raw bytes for the pipeline's diagnostic log.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("acquire token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, data, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return resp.StatusCode, data, nil
}

// doJSON marshals body (when non-nil), sends, and decodes into out (when
// non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	_, data, err := c.send(ctx, method, path, contentType, reader)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Group is a workspace on the service side.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Groups lists the workspaces visible to the service principal.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var resp struct {
		Value []Group `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/groups", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// CreateGroup provisions a new workspace with the given name.
func (c *Client) CreateGroup(ctx context.Context, name string) (Group, error) {
	var group Group
	if err := c.doJSON(ctx, http.MethodPost, "/groups", map[string]string{"name": name}, &group); err != nil {
		return Group{}, err
	}
	return group, nil
}

// TemporaryUploadLocation is a short-lived writable blob URL for staged
// uploads.
type TemporaryUploadLocation struct {
	URL            string    `json:"url"`
	ExpirationTime time.Time `json:"expirationTime"`
}

// CreateTemporaryUploadLocation requests a staging location for the
// workspace.
func (c *Client) CreateTemporaryUploadLocation(ctx context.Context, groupID string) (TemporaryUploadLocation, error) {
	path := fmt.Sprintf("/groups/%s/imports/createTemporaryUploadLocation", url.PathEscape(groupID))
	var loc TemporaryUploadLocation
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &loc); err != nil {
		return TemporaryUploadLocation{}, err
	}
	if strings.TrimSpace(loc.URL) == "" {
		return TemporaryUploadLocation{}, fmt.Errorf("temporary upload location response carried no url")
	}
	return loc, nil
}

// UploadToLocation transfers the artifact bytes to the staging blob. The
// location URL is pre-authorised; no bearer token is attached.
func (c *Client) UploadToLocation(ctx context.Context, location string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, location, r)
	if err != nil {
		return fmt.Errorf("create blob request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	if size > 0 {
		req.ContentLength = size
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform blob upload: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return nil
}

// Dataset is the published representation of a data model.
type Dataset struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Import is the service's asynchronous processing unit created by an upload.
type Import struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ImportState string    `json:"importState"`
	Datasets    []Dataset `json:"datasets"`
}

// ImportResult pairs a parsed import with the raw response so callers can
// log status and body for every attempt, successful or not. An empty body
// yields a zero Import; some upload paths return nothing and are treated as
// already complete.
type ImportResult struct {
	Import     Import
	StatusCode int
	Body       []byte
}

func (c *Client) importURL(groupID, displayName string) string {
	q := url.Values{"nameConflict": {nameConflict}}
	if displayName != "" {
		q.Set("datasetDisplayName", displayName)
	}
	return fmt.Sprintf("/groups/%s/imports?%s", url.PathEscape(groupID), q.Encode())
}

func parseImportResult(status int, data []byte) (ImportResult, error) {
	result := ImportResult{StatusCode: status, Body: data}
	if len(bytes.TrimSpace(data)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(data, &result.Import); err != nil {
		return result, fmt.Errorf("decode import response: %w", err)
	}
	return result, nil
}

// ImportFromURL triggers an import referencing a previously staged blob.
func (c *Client) ImportFromURL(ctx context.Context, groupID, displayName, fileURL string) (ImportResult, error) {
	payload, err := json.Marshal(map[string]string{"fileUrl": fileURL})
	if err != nil {
		return ImportResult{}, fmt.Errorf("encode import body: %w", err)
	}
	status, data, err := c.send(ctx, http.MethodPost, c.importURL(groupID, displayName), "application/json", bytes.NewReader(payload))
	if err != nil {
		return ImportResult{StatusCode: status, Body: data}, err
	}
	return parseImportResult(status, data)
}

// ImportStream posts the artifact's raw bytes as an octet stream.
func (c *Client) ImportStream(ctx context.Context, groupID, displayName string, r io.Reader) (ImportResult, error) {
	status, data, err := c.send(ctx, http.MethodPost, c.importURL(groupID, displayName), "application/octet-stream", r)
	if err != nil {
		return ImportResult{StatusCode: status, Body: data}, err
	}
	return parseImportResult(status, data)
}

func (c *Client) importMultipart(ctx context.Context, path, filename string, r io.Reader) (ImportResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return ImportResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return ImportResult{}, fmt.Errorf("copy artifact into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ImportResult{}, fmt.Errorf("finalise form: %w", err)
	}
	status, data, err := c.send(ctx, http.MethodPost, path, writer.FormDataContentType(), &buf)
	if err != nil {
		return ImportResult{StatusCode: status, Body: data}, err
	}
	return parseImportResult(status, data)
}

// ImportMultipart posts the artifact as a multipart form file field.
func (c *Client) ImportMultipart(ctx context.Context, groupID, displayName, filename string, r io.Reader) (ImportResult, error) {
	return c.importMultipart(ctx, c.importURL(groupID, displayName), filename, r)
}

// ImportMultipartMinimal is the multipart form without the display-name
// query parameter, for services that reject the richer call shape.
func (c *Client) ImportMultipartMinimal(ctx context.Context, groupID, filename string, r io.Reader) (ImportResult, error) {
	return c.importMultipart(ctx, c.importURL(groupID, ""), filename, r)
}

// GetImport fetches the current state of an import job.
func (c *Client) GetImport(ctx context.Context, groupID, importID string) (Import, error) {
	path := fmt.Sprintf("/groups/%s/imports/%s", url.PathEscape(groupID), url.PathEscape(importID))
	var imp Import
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &imp); err != nil {
		return Import{}, err
	}
	return imp, nil
}

// Datasets lists the datasets published in the workspace.
func (c *Client) Datasets(ctx context.Context, groupID string) ([]Dataset, error) {
	path := fmt.Sprintf("/groups/%s/datasets", url.PathEscape(groupID))
	var resp struct {
		Value []Dataset `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// ConnectionDetails carries the connection string for a datasource update.
type ConnectionDetails struct {
	ConnectionString string `json:"connectionString,omitempty"`
	Server           string `json:"server,omitempty"`
	Database         string `json:"database,omitempty"`
}

// Datasource is one connection binding attached to a dataset.
type Datasource struct {
	DatasourceID      string            `json:"datasourceId,omitempty"`
	DatasourceType    string            `json:"datasourceType,omitempty"`
	GatewayID         string            `json:"gatewayId,omitempty"`
	ConnectionDetails ConnectionDetails `json:"connectionDetails,omitempty"`
}

// DatasourceSelector identifies the datasource an update applies to.
type DatasourceSelector struct {
	DatasourceID   string `json:"datasourceId,omitempty"`
	DatasourceType string `json:"datasourceType,omitempty"`
}

// BasicCredentials is a plaintext username/password pair forwarded to the
// service.
type BasicCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialDetails wraps the credential payload of a datasource update.
type CredentialDetails struct {
	CredentialType       string           `json:"credentialType"`
	BasicCredentials     BasicCredentials `json:"basicCredentials"`
	CredentialsEncrypted bool             `json:"credentialsEncrypted"`
}

// DatasourceUpdate is one entry of the batched update call.
type DatasourceUpdate struct {
	DatasourceSelector DatasourceSelector `json:"datasourceSelector"`
	ConnectionDetails  ConnectionDetails  `json:"connectionDetails"`
	CredentialDetails  *CredentialDetails `json:"credentialDetails,omitempty"`
}

// Datasources lists the connection bindings of a dataset.
func (c *Client) Datasources(ctx context.Context, groupID, datasetID string) ([]Datasource, error) {
	path := fmt.Sprintf("/groups/%s/datasets/%s/datasources", url.PathEscape(groupID), url.PathEscape(datasetID))
	var resp struct {
		Value []Datasource `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// UpdateDatasources submits all rebinding descriptors as a single batched
// call.
func (c *Client) UpdateDatasources(ctx context.Context, groupID, datasetID string, updates []DatasourceUpdate) error {
	path := fmt.Sprintf("/groups/%s/datasets/%s/Default.UpdateDatasources", url.PathEscape(groupID), url.PathEscape(datasetID))
	body := map[string]any{"updateDetails": updates}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}
