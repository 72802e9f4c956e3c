package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/bitools/pbideploy/internal/auth"
	"github.com/bitools/pbideploy/internal/config"
	"github.com/bitools/pbideploy/internal/deploy"
	"github.com/bitools/pbideploy/internal/powerbi"
	pkgconfig "github.com/bitools/pbideploy/pkg/config"
	"github.com/bitools/pbideploy/pkg/logger"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "deploy":
		err = commandDeploy(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	env := fs.String("env", "", "Environment name (maps to <config-dir>/<env>.json)")
	path := fs.String("path", "", "Path to a .pbix artifact or a source project directory")
	configDir := fs.String("config-dir", config.DefaultDir(), "Configuration directory")
	displayName := fs.String("display-name", "", "Dataset display name (defaults to the configured reportName)")
	promptPassword := fs.Bool("prompt-password", false, "Prompt for the warehouse password instead of reading it from config")
	timeout := fs.Duration("timeout", 0, "Completion poll budget override (e.g. 3m)")
	logLevel := fs.String("log-level", pkgconfig.GetString("PBIDEPLOY_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	fs.Parse(args)

	if strings.TrimSpace(*env) == "" {
		return errors.New("--env is required")
	}
	if strings.TrimSpace(*path) == "" {
		return errors.New("--path is required")
	}
	info, err := os.Stat(*path)
	if err != nil {
		return fmt.Errorf("inspect --path: %w", err)
	}

	cfg, err := config.Load(*configDir, *env)
	if err != nil {
		return err
	}
	log := logger.New("pbideploy", logger.ParseLevel(*logLevel))

	if *promptPassword {
		fmt.Fprint(os.Stderr, "Warehouse password: ")
		secret, readErr := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprint(os.Stderr, "\n")
		if readErr != nil {
			return fmt.Errorf("read password: %w", readErr)
		}
		cfg.DataWarehouse.Password = string(secret)
	}

	httpTimeout := cfg.RequestTimeout()
	tokens := auth.NewClientCredentials(
		cfg.TenantID, cfg.ClientID, cfg.ClientSecret, log,
		auth.WithAuthority(cfg.AuthorityURL),
		auth.WithHTTPClient(&http.Client{Timeout: httpTimeout}),
	)
	client, err := powerbi.New(cfg.APIBaseURL, tokens,
		powerbi.WithLogger(log),
		powerbi.WithHTTPClient(&http.Client{Timeout: httpTimeout}),
	)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(*displayName)
	if name == "" {
		name = cfg.ReportName
	}
	pollTimeout := cfg.PollTimeout()
	if *timeout > 0 {
		pollTimeout = *timeout
	}

	req := deploy.Request{
		WorkspaceID:   cfg.WorkspaceID,
		WorkspaceName: cfg.WorkspaceName,
		DisplayName:   name,
		PollInterval:  cfg.PollInterval(),
		PollTimeout:   pollTimeout,
	}
	if info.IsDir() {
		req.ProjectDir = *path
	} else {
		req.ArtifactPath = *path
	}
	if cfg.DataWarehouse.Configured() {
		req.Warehouse = &deploy.WarehouseTarget{
			Connection: cfg.DataWarehouse.Connection,
			Catalog:    cfg.DataWarehouse.Catalog,
			Username:   cfg.DataWarehouse.Username,
			Password:   cfg.DataWarehouse.Password,
		}
	}

	start := time.Now()
	result, err := deploy.New(tokens, client, client, log).Run(context.Background(), req)
	if err != nil {
		fmt.Fprint(os.Stderr, result.Diagnostics.Summary())
		return err
	}

	fmt.Printf("dataset %s published in %s\n", result.DatasetID, time.Since(start).Round(time.Second))
	if result.RebindErr != nil {
		fmt.Fprintf(os.Stderr, "warning: published but %v\n", result.RebindErr)
	} else if result.RebindUpdates > 0 {
		fmt.Printf("rebound %d datasource(s) to %s\n", result.RebindUpdates, cfg.DataWarehouse.Catalog)
	}
	return nil
}

func printUsage() {
	fmt.Printf("pbideploy %s\n\n", buildVersion)
	fmt.Print(`Usage:
	pbideploy deploy --env <name> --path <pbix-or-project-dir> [--config-dir dir] [--display-name name] [--prompt-password] [--timeout 3m] [--log-level info]
	pbideploy version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
