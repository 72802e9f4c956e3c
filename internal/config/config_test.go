package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, env, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, env+".json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadReadsEnvironmentDocument(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "production", `{
		"tenantId": "tenant-1",
		"clientId": "client-1",
		"clientSecret": "s3cret",
		"workspaceName": "Analytics",
		"reportName": "Sales Report",
		"dataWarehouse": {
			"connection": "server.example/warehouse",
			"name": "SalesDW",
			"username": "svc",
			"password": "p4ss"
		},
		"pollIntervalSeconds": 2,
		"pollTimeoutSeconds": 60
	}`)

	cfg, err := Load(dir, "production")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.TenantID != "tenant-1" || cfg.ClientID != "client-1" || cfg.ClientSecret != "s3cret" {
		t.Fatalf("credentials not loaded: %+v", cfg)
	}
	if cfg.WorkspaceName != "Analytics" {
		t.Fatalf("unexpected workspace name %q", cfg.WorkspaceName)
	}
	if cfg.ReportName != "Sales Report" {
		t.Fatalf("unexpected report name %q", cfg.ReportName)
	}
	if !cfg.DataWarehouse.Configured() {
		t.Fatalf("warehouse should be configured: %+v", cfg.DataWarehouse)
	}
	if cfg.DataWarehouse.Catalog != "SalesDW" {
		t.Fatalf("warehouse catalog not mapped from name field: %q", cfg.DataWarehouse.Catalog)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.PollInterval())
	}
	if cfg.PollTimeout() != time.Minute {
		t.Fatalf("unexpected poll timeout %s", cfg.PollTimeout())
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dev", `{
		"tenantId": "tenant-1",
		"clientId": "client-1",
		"clientSecret": "s3cret",
		"workspaceId": "ws-1"
	}`)

	cfg, err := Load(dir, "dev")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ReportName != "Demo Report" {
		t.Fatalf("expected default report name, got %q", cfg.ReportName)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected default poll interval %s", cfg.PollInterval())
	}
	if cfg.PollTimeout() != 120*time.Second {
		t.Fatalf("unexpected default poll timeout %s", cfg.PollTimeout())
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("unexpected default request timeout %s", cfg.RequestTimeout())
	}
	if cfg.DataWarehouse.Configured() {
		t.Fatalf("absent warehouse must not count as configured")
	}
}

func TestLoadSecretOverrideFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dev", `{
		"tenantId": "tenant-1",
		"clientId": "client-1",
		"clientSecret": "from-file",
		"workspaceId": "ws-1"
	}`)
	t.Setenv("PBIDEPLOY_CLIENT_SECRET", "from-env")

	cfg, err := Load(dir, "dev")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ClientSecret != "from-env" {
		t.Fatalf("environment secret must win, got %q", cfg.ClientSecret)
	}
}

func TestLoadSecretFromEnvironmentOnly(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dev", `{
		"tenantId": "tenant-1",
		"clientId": "client-1",
		"workspaceId": "ws-1"
	}`)
	t.Setenv("PBIDEPLOY_CLIENT_SECRET", "from-env")

	cfg, err := Load(dir, "dev")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ClientSecret != "from-env" {
		t.Fatalf("expected secret from environment, got %q", cfg.ClientSecret)
	}
}

func TestLoadUnknownEnvironment(t *testing.T) {
	_, err := Load(t.TempDir(), "staging")
	if err == nil || !strings.Contains(err.Error(), `unknown environment "staging"`) {
		t.Fatalf("expected unknown environment error, got %v", err)
	}
}

func TestLoadRejectsEmptyEnvironmentName(t *testing.T) {
	if _, err := Load(t.TempDir(), "  "); err == nil {
		t.Fatalf("expected error for empty environment name")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing tenant",
			content: `{"clientId":"c","clientSecret":"s","workspaceId":"ws"}`,
			want:    "tenantId",
		},
		{
			name:    "missing client",
			content: `{"tenantId":"t","clientSecret":"s","workspaceId":"ws"}`,
			want:    "clientId",
		},
		{
			name:    "missing secret",
			content: `{"tenantId":"t","clientId":"c","workspaceId":"ws"}`,
			want:    "clientSecret",
		},
		{
			name:    "missing workspace",
			content: `{"tenantId":"t","clientId":"c","clientSecret":"s"}`,
			want:    "workspaceId or workspaceName",
		},
	}
	t.Setenv("PBIDEPLOY_CLIENT_SECRET", "")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "dev", tc.content)
			_, err := Load(dir, "dev")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestTunableEnvFallbacks(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dev", `{
		"tenantId": "tenant-1",
		"clientId": "client-1",
		"clientSecret": "s3cret",
		"workspaceId": "ws-1",
		"pollIntervalSeconds": 2
	}`)
	t.Setenv("PBIDEPLOY_POLL_INTERVAL_SECONDS", "9")
	t.Setenv("PBIDEPLOY_POLL_TIMEOUT_SECONDS", "300")

	cfg, err := Load(dir, "dev")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	// An in-file value always wins over the environment fallback.
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("file value should win, got %s", cfg.PollInterval())
	}
	if cfg.PollTimeout() != 300*time.Second {
		t.Fatalf("expected env fallback 300s, got %s", cfg.PollTimeout())
	}
}

func TestDefaultDirHonoursOverride(t *testing.T) {
	t.Setenv("PBIDEPLOY_CONFIG_DIR", "/etc/pbideploy")
	if got := DefaultDir(); got != "/etc/pbideploy" {
		t.Fatalf("expected override, got %q", got)
	}
}
