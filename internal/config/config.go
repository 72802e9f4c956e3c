package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgconfig "github.com/bitools/pbideploy/pkg/config"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultPollTimeout    = 120 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultReportName     = "Demo Report"
)

// Warehouse describes the destination data warehouse that published
// datasets are rebound to. Credentials are optional; a credential block is
// only sent when both username and password are present.
type Warehouse struct {
	Connection string `json:"connection"`
	Catalog    string `json:"name"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// Configured reports whether a rebind target was supplied at all.
func (w Warehouse) Configured() bool {
	return strings.TrimSpace(w.Connection) != "" && strings.TrimSpace(w.Catalog) != ""
}

// Environment is one deployment target, loaded from <dir>/<env>.json.
type Environment struct {
	TenantID      string    `json:"tenantId"`
	ClientID      string    `json:"clientId"`
	ClientSecret  string    `json:"clientSecret"`
	WorkspaceID   string    `json:"workspaceId,omitempty"`
	WorkspaceName string    `json:"workspaceName,omitempty"`
	ReportName    string    `json:"reportName,omitempty"`
	DataWarehouse Warehouse `json:"dataWarehouse"`

	// Endpoint overrides, used by tests and sovereign-cloud tenants.
	AuthorityURL string `json:"authorityUrl,omitempty"`
	APIBaseURL   string `json:"apiBaseUrl,omitempty"`

	PollIntervalSeconds   int `json:"pollIntervalSeconds,omitempty"`
	PollTimeoutSeconds    int `json:"pollTimeoutSeconds,omitempty"`
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds,omitempty"`
}

// DefaultDir returns the configuration directory, overridable via
// PBIDEPLOY_CONFIG_DIR.
func DefaultDir() string {
	return pkgconfig.GetString("PBIDEPLOY_CONFIG_DIR", "config")
}

// Load reads and validates the environment document for the named target.
// PBIDEPLOY_CLIENT_SECRET overrides the in-file secret so it can stay out
// of version control.
func Load(dir, env string) (Environment, error) {
	if strings.TrimSpace(env) == "" {
		return Environment{}, errors.New("environment name cannot be empty")
	}
	path := filepath.Join(dir, env+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Environment{}, fmt.Errorf("unknown environment %q: %s does not exist", env, path)
		}
		return Environment{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Environment
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Environment{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if secret := pkgconfig.GetString("PBIDEPLOY_CLIENT_SECRET", ""); secret != "" {
		cfg.ClientSecret = secret
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Environment{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Environment) applyDefaults() {
	if strings.TrimSpace(c.ReportName) == "" {
		c.ReportName = defaultReportName
	}
}

func (c Environment) validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return errors.New("tenantId is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("clientId is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("clientSecret is required (file or PBIDEPLOY_CLIENT_SECRET)")
	}
	if strings.TrimSpace(c.WorkspaceID) == "" && strings.TrimSpace(c.WorkspaceName) == "" {
		return errors.New("workspaceId or workspaceName is required")
	}
	return nil
}

// PollInterval returns the delay between status polls. When the document
// omits the knob, PBIDEPLOY_POLL_INTERVAL_SECONDS applies before the default.
func (c Environment) PollInterval() time.Duration {
	if c.PollIntervalSeconds > 0 {
		return time.Duration(c.PollIntervalSeconds) * time.Second
	}
	return pkgconfig.GetSeconds("PBIDEPLOY_POLL_INTERVAL_SECONDS", defaultPollInterval)
}

// PollTimeout returns the wall-clock budget for the completion poller.
func (c Environment) PollTimeout() time.Duration {
	if c.PollTimeoutSeconds > 0 {
		return time.Duration(c.PollTimeoutSeconds) * time.Second
	}
	return pkgconfig.GetSeconds("PBIDEPLOY_POLL_TIMEOUT_SECONDS", defaultPollTimeout)
}

// RequestTimeout returns the per-request HTTP timeout, always shorter than
// the poll budget.
func (c Environment) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds > 0 {
		return time.Duration(c.RequestTimeoutSeconds) * time.Second
	}
	return pkgconfig.GetSeconds("PBIDEPLOY_REQUEST_TIMEOUT_SECONDS", defaultRequestTimeout)
}
