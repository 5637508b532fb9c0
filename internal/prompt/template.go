package prompt

import (
	_ "embed"
	"fmt"
	"os"
)

// DefaultTemplate is the grading template used when no other template is
// supplied. It carries the scoring rules, including the equal-split
// fallback, as instructions for the grader.
//
//go:embed templates/grading.md
var DefaultTemplate string

// LoadTemplate reads a template file. An empty path returns DefaultTemplate.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return DefaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template: %w", err)
	}
	return string(data), nil
}
