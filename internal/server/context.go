package server

import (
	"github.com/giantswarm/lab-grader/internal/grader"
	"github.com/giantswarm/lab-grader/internal/kserve"
	"github.com/giantswarm/lab-grader/internal/lab"
	"github.com/giantswarm/lab-grader/internal/llm"
	"github.com/giantswarm/lab-grader/internal/prompt"
)

// ServerContext holds shared dependencies for MCP tool handlers.
type ServerContext struct {
	KServeManager *kserve.Manager // nil when no cluster is reachable
	LLMClient     llm.Client
	Namespace     string
	OutputDir     string
	LabsDir       string // external labs directory (optional)

	// TemplatePath overrides both the lab's own template and the built-in one.
	TemplatePath string

	// Grader holds the grading defaults; tool arguments override them per call.
	Grader grader.Config
}

// Template resolves the grading template for l. An explicit path wins over
// the template shipped with the lab, which wins over the built-in template.
func (sc *ServerContext) Template(l *lab.Lab, path string) (string, error) {
	if path == "" {
		path = sc.TemplatePath
	}
	if path != "" {
		return prompt.LoadTemplate(path)
	}
	if l != nil && l.Template != "" {
		return l.Template, nil
	}
	return prompt.DefaultTemplate, nil
}
