package pbix

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newProjectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Report", "Layout.json"), `{"sections":[{"name":"page1"}]}`)
	writeFile(t, filepath.Join(dir, "DataModel.json"), `{"model":{"tables":[]}}`)
	return dir
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func readEntry(t *testing.T, reader *zip.ReadCloser, name string) []byte {
	t.Helper()
	for _, f := range reader.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read entry %s: %v", name, err)
		}
		return data
	}
	t.Fatalf("entry %s not found", name)
	return nil
}

func TestDiscoverRequiresReportComponent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "DataModel.json"), `{}`)

	_, err := Discover(dir)
	var pkgErr *PackagingError
	if !errors.As(err, &pkgErr) {
		t.Fatalf("expected PackagingError, got %v", err)
	}
}

func TestDiscoverRequiresModelComponent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Report", "Layout.json"), `{}`)

	_, err := Discover(dir)
	var pkgErr *PackagingError
	if !errors.As(err, &pkgErr) {
		t.Fatalf("expected PackagingError, got %v", err)
	}
}

func TestBuildRoundTrip(t *testing.T) {
	dir := newProjectDir(t)
	writeFile(t, filepath.Join(dir, "DiagramLayout.json"), `{"diagrams":[]}`)
	writeFile(t, filepath.Join(dir, "Report", "StaticResources", "theme.json"), "\xEF\xBB\xBF{\"name\":\"dark\"}")
	imageBytes := string([]byte{0x89, 0x50, 0x4E, 0x47, 0x00, 0x01})
	writeFile(t, filepath.Join(dir, "Report", "StaticResources", "img", "logo.png"), imageBytes)

	project, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out.pbix")
	builder := NewBuilder(testLogger())
	if err := builder.buildManual(project, dest); err != nil {
		t.Fatalf("buildManual returned error: %v", err)
	}
	required := []string{entryVersion, entryDataModelSchema, entryReportLayout, entryDataModel}
	if err := verifyContainer(dest, required); err != nil {
		t.Fatalf("verifyContainer returned error: %v", err)
	}

	reader, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("reopen container: %v", err)
	}
	defer reader.Close()

	if got := reader.File[0].Name; got != entryVersion {
		t.Fatalf("expected %s as the first entry, got %s", entryVersion, got)
	}
	if got := string(readEntry(t, reader, entryVersion)); got != containerVersion {
		t.Fatalf("expected version %q, got %q", containerVersion, got)
	}
	if got := string(readEntry(t, reader, entryDataModelSchema)); got != dataModelSchemaURL {
		t.Fatalf("unexpected schema entry %q", got)
	}
	if got := string(readEntry(t, reader, entryReportLayout)); got != `{"sections":[{"name":"page1"}]}` {
		t.Fatalf("report layout did not round-trip: %q", got)
	}
	if got := string(readEntry(t, reader, entryDataModel)); got != `{"model":{"tables":[]}}` {
		t.Fatalf("data model did not round-trip: %q", got)
	}
	if got := string(readEntry(t, reader, entryDiagramLayout)); got != `{"diagrams":[]}` {
		t.Fatalf("diagram layout did not round-trip: %q", got)
	}
	// Text resources are re-encoded: the BOM must be gone.
	if got := string(readEntry(t, reader, "Report/StaticResources/theme.json")); got != `{"name":"dark"}` {
		t.Fatalf("text resource not re-encoded: %q", got)
	}
	// Binary resources are copied verbatim.
	if got := string(readEntry(t, reader, "Report/StaticResources/img/logo.png")); got != imageBytes {
		t.Fatalf("binary resource corrupted: %q", got)
	}
}

func TestBuildRejectsInvalidJSONComponent(t *testing.T) {
	dir := newProjectDir(t)
	writeFile(t, filepath.Join(dir, "Report", "Layout.json"), `{"sections":`)

	project, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out.pbix")
	err = NewBuilder(testLogger()).buildManual(project, dest)
	var pkgErr *PackagingError
	if !errors.As(err, &pkgErr) {
		t.Fatalf("expected PackagingError for invalid JSON, got %v", err)
	}
}

func TestBuildSkipsUnreadableResource(t *testing.T) {
	dir := newProjectDir(t)
	resources := filepath.Join(dir, "Report", "StaticResources")
	writeFile(t, filepath.Join(resources, "good.txt"), "hello")
	if err := os.Symlink(filepath.Join(dir, "does-not-exist"), filepath.Join(resources, "broken.dat")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	project, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "out.pbix")
	if err := NewBuilder(testLogger()).buildManual(project, dest); err != nil {
		t.Fatalf("expected partial success despite broken resource, got %v", err)
	}

	reader, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("reopen container: %v", err)
	}
	defer reader.Close()
	for _, f := range reader.File {
		if f.Name == "Report/StaticResources/broken.dat" {
			t.Fatalf("broken resource should have been skipped")
		}
	}
	if got := string(readEntry(t, reader, "Report/StaticResources/good.txt")); got != "hello" {
		t.Fatalf("good resource missing, got %q", got)
	}
}

func TestVerifyContainerDetectsMissingEntry(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "partial.pbix")
	out, err := os.Create(dest)
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	w := zip.NewWriter(out)
	entry, err := w.Create(entryVersion)
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := entry.Write([]byte(containerVersion)); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	if err := verifyContainer(dest, []string{entryVersion, entryDataModel}); err == nil {
		t.Fatalf("expected verification failure for missing %s", entryDataModel)
	}
}

func TestBuildEndToEndViaBuild(t *testing.T) {
	if CompilerAvailable() {
		t.Skip("external compiler present; manual path not exercised deterministically")
	}
	dir := newProjectDir(t)
	project, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "out.pbix")
	if err := NewBuilder(testLogger()).Build(context.Background(), project, dest); err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected container on disk: %v", err)
	}
}
