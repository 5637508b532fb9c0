package mcp

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var errRunIDRequired = errors.New("run_id is required")

// resolveRunPath maps a run ID onto its directory under outputDir. Run IDs
// are single path elements generated by the runner, so anything that could
// name another directory is rejected before touching the filesystem.
func resolveRunPath(outputDir, runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	switch {
	case runID == "":
		return "", errRunIDRequired
	case strings.ContainsAny(runID, `/\`) || strings.ContainsRune(runID, filepath.Separator):
		return "", fmt.Errorf("invalid run_id %q: path separators are not allowed", runID)
	case runID == "." || runID == "..":
		return "", fmt.Errorf("invalid run_id %q: path traversal is not allowed", runID)
	}

	base, err := filepath.Abs(outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}
	runPath := filepath.Join(base, runID)
	if !within(base, runPath) {
		return "", fmt.Errorf("invalid run_id %q: path must be within output directory", runID)
	}
	return runPath, nil
}

// joinRunFile returns the path of a file inside a resolved run directory.
func joinRunFile(runPath, name string) string {
	return filepath.Join(runPath, filepath.Base(name))
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
