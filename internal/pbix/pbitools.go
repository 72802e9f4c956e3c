package pbix

import (
	"context"
	"fmt"
	"os/exec"
)

// compilerBinary is the external command-line compiler consulted before the
// manual construction path.
const compilerBinary = "pbi-tools"

// CompilerAvailable reports whether the external compiler is on PATH.
func CompilerAvailable() bool {
	_, err := exec.LookPath(compilerBinary)
	return err == nil
}

// Compile delegates container construction to the external compiler. A
// non-zero exit is a build failure; the caller falls back to the manual
// construction path.
func Compile(ctx context.Context, projectDir, dest string) error {
	if projectDir == "" {
		return fmt.Errorf("project directory cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	cmd := exec.CommandContext(ctx, compilerBinary, "compile", projectDir, dest, "-format", "PBIX", "-overwrite")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s compile failed: %w: %s", compilerBinary, err, string(output))
	}
	return nil
}
