package pbix

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Container entry names, in mandated write order. The consuming service
// reads Version before anything else; writing it first is a format
// requirement, not a style choice.
const (
	entryVersion          = "Version"
	entryDataModelSchema  = "DataModelSchema"
	entryReportLayout     = "Report/Layout"
	entryDataModel        = "DataModel"
	entryDiagramLayout    = "DiagramLayout"
	entrySettings         = "Settings"
	entrySecurityBindings = "SecurityBindings"
	entryConnections      = "Connections"
	entryMetadata         = "Metadata"
)

const (
	containerVersion   = "4.0"
	dataModelSchemaURL = "http://schemas.microsoft.com/sqlbi/2013/01/PowerBIDataModel"

	defaultSettings = "{}"

	placeholderSecurityBindings = `<?xml version="1.0" encoding="utf-8"?><SecurityBindings xmlns="http://schemas.microsoft.com/powerbi/security" />`
	placeholderConnections      = `<?xml version="1.0" encoding="utf-8"?><Connections xmlns="http://schemas.microsoft.com/powerbi/connections" />`
	placeholderMetadata         = `<?xml version="1.0" encoding="utf-8"?><Metadata xmlns="http://schemas.microsoft.com/powerbi/metadata"><Version>4.0</Version></Metadata>`
)

// textExtensions lists resource file types re-encoded as text; everything
// else is copied verbatim.
var textExtensions = map[string]bool{
	".json": true,
	".txt":  true,
	".css":  true,
	".js":   true,
}

// Builder packages a Project into the binary container format. When the
// external compiler is on PATH it is preferred; the manual entry-by-entry
// construction is otherwise authoritative.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a container builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build writes the container for the project to dest and verifies it by
// reopening it. A container that cannot be re-read is never handed to the
// uploader.
func (b *Builder) Build(ctx context.Context, project Project, dest string) error {
	if CompilerAvailable() {
		if err := Compile(ctx, project.Dir, dest); err != nil {
			if b.logger != nil {
				b.logger.Warn("external compiler failed, building container manually", "error", err)
			}
		} else {
			if err := verifyContainer(dest, nil); err != nil {
				return &PackagingError{Reason: "compiled container failed verification", Err: err}
			}
			return nil
		}
	}

	if err := b.buildManual(project, dest); err != nil {
		return err
	}
	required := []string{entryVersion, entryDataModelSchema, entryReportLayout, entryDataModel}
	if err := verifyContainer(dest, required); err != nil {
		return &PackagingError{Reason: "container failed verification", Err: err}
	}
	return nil
}

func (b *Builder) buildManual(project Project, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return &PackagingError{Reason: "create container file", Err: err}
	}
	defer out.Close()

	w := zip.NewWriter(out)

	if err := writeString(w, entryVersion, containerVersion); err != nil {
		return err
	}
	if err := writeString(w, entryDataModelSchema, dataModelSchemaURL); err != nil {
		return err
	}
	if err := writeJSONFile(w, entryReportLayout, project.ReportLayout); err != nil {
		return err
	}
	if err := writeJSONFile(w, entryDataModel, project.DataModel); err != nil {
		return err
	}
	if project.DiagramLayout != "" {
		if err := writeJSONFile(w, entryDiagramLayout, project.DiagramLayout); err != nil {
			return err
		}
	}
	if project.Settings != "" {
		if err := writeJSONFile(w, entrySettings, project.Settings); err != nil {
			return err
		}
	} else if err := writeString(w, entrySettings, defaultSettings); err != nil {
		return err
	}
	if err := writeString(w, entrySecurityBindings, placeholderSecurityBindings); err != nil {
		return err
	}
	if err := writeString(w, entryConnections, placeholderConnections); err != nil {
		return err
	}
	if err := writeString(w, entryMetadata, placeholderMetadata); err != nil {
		return err
	}
	b.writeStaticResources(w, project)

	if err := w.Close(); err != nil {
		return &PackagingError{Reason: "finalise container", Err: err}
	}
	return nil
}

// writeStaticResources copies the report's static resource subtree into the
// container. A single unreadable resource is logged and skipped; it must not
// abort an otherwise complete artifact.
func (b *Builder) writeStaticResources(w *zip.Writer, project Project) {
	if project.StaticResources == "" {
		return
	}
	reportDir := filepath.Join(project.Dir, "Report")
	walkErr := filepath.WalkDir(project.StaticResources, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if b.logger != nil {
				b.logger.Warn("skipping unreadable resource", "path", path, "error", err)
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(reportDir, path)
		if relErr != nil {
			if b.logger != nil {
				b.logger.Warn("skipping resource outside report tree", "path", path, "error", relErr)
			}
			return nil
		}
		name := "Report/" + filepath.ToSlash(rel)
		if copyErr := copyResource(w, name, path); copyErr != nil {
			if b.logger != nil {
				b.logger.Warn("skipping resource", "entry", name, "error", copyErr)
			}
		}
		return nil
	})
	if walkErr != nil && b.logger != nil {
		b.logger.Warn("resource walk aborted", "error", walkErr)
	}
}

func writeString(w *zip.Writer, name, content string) error {
	entry, err := w.Create(name)
	if err != nil {
		return &PackagingError{Reason: "create entry " + name, Err: err}
	}
	if _, err := io.WriteString(entry, content); err != nil {
		return &PackagingError{Reason: "write entry " + name, Err: err}
	}
	return nil
}

func writeJSONFile(w *zip.Writer, name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &PackagingError{Reason: "read component " + path, Err: err}
	}
	data = stripBOM(data)
	if !json.Valid(data) {
		return &PackagingError{Reason: fmt.Sprintf("component %s is not valid JSON", path)}
	}
	return writeString(w, name, string(data))
}

func copyResource(w *zip.Writer, name, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if textExtensions[ext] {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return writeString(w, name, string(stripBOM(data)))
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	entry, err := w.Create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, src); err != nil {
		return err
	}
	return nil
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}

// verifyContainer reopens the written container and reads every entry back.
// When required names are given, each must be present.
func verifyContainer(path string, required []string) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("reopen container: %w", err)
	}
	defer reader.Close()

	if len(reader.File) == 0 {
		return fmt.Errorf("container has no entries")
	}
	seen := make(map[string]bool, len(reader.File))
	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		seen[f.Name] = true
	}
	for _, name := range required {
		if !seen[name] {
			return fmt.Errorf("container missing entry %s", name)
		}
	}
	return nil
}
