package pbix

import (
	"fmt"
	"os"
	"path/filepath"
)

// Project references the source form of a report: a directory plus the
// component paths discovered inside it. Report layout and data model are
// mandatory; everything else is optional.
type Project struct {
	Dir             string
	ReportLayout    string
	DataModel       string
	DiagramLayout   string
	Settings        string
	StaticResources string
}

// PackagingError reports that a project could not be packaged into a valid
// artifact.
type PackagingError struct {
	Reason string
	Err    error
}

func (e *PackagingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("packaging failed: %s: %v", e.Reason, e.Err)
	}
	return "packaging failed: " + e.Reason
}

func (e *PackagingError) Unwrap() error { return e.Err }

// Discover inspects a project directory and locates its components. A
// missing report layout or data model is fatal; publishing a container
// without either produces a dataset the service cannot open.
func Discover(dir string) (Project, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Project{}, &PackagingError{Reason: "project directory not readable", Err: err}
	}
	if !info.IsDir() {
		return Project{}, &PackagingError{Reason: fmt.Sprintf("%s is not a directory", dir)}
	}

	project := Project{Dir: dir}

	layout := filepath.Join(dir, "Report", "Layout.json")
	if !fileExists(layout) {
		return Project{}, &PackagingError{Reason: "report component missing (expected Report/Layout.json)"}
	}
	project.ReportLayout = layout

	for _, name := range []string{"DataModel.json", "DataModelSchema.json"} {
		candidate := filepath.Join(dir, name)
		if fileExists(candidate) {
			project.DataModel = candidate
			break
		}
	}
	if project.DataModel == "" {
		return Project{}, &PackagingError{Reason: "data model component missing (expected DataModel.json or DataModelSchema.json)"}
	}

	if candidate := filepath.Join(dir, "DiagramLayout.json"); fileExists(candidate) {
		project.DiagramLayout = candidate
	}
	if candidate := filepath.Join(dir, "Settings.json"); fileExists(candidate) {
		project.Settings = candidate
	}
	if candidate := filepath.Join(dir, "Report", "StaticResources"); dirExists(candidate) {
		project.StaticResources = candidate
	}

	return project, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
