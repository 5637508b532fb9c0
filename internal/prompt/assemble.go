// Package prompt assembles the grading prompt for one step of a lab report.
//
// It is a pure text transformation: experiment, step and tool data are
// merged into a template containing {{NAME}} placeholders. Nothing here
// calls a model, reads files (apart from LoadTemplate) or keeps state
// between calls, so every function is safe for concurrent use.
package prompt

import (
	"strconv"
	"strings"

	"github.com/giantswarm/lab-grader/internal/lab"
)

// Template placeholders. Names are case-sensitive and fixed.
const (
	PlaceholderExperimentTitle = "{{EXPERIMENT_TITLE}}"
	PlaceholderExperimentDoc   = "{{EXPERIMENT_DOC}}"
	PlaceholderStepIndex       = "{{STEP_INDEX}}"
	PlaceholderStepTitle       = "{{STEP_TITLE}}"
	PlaceholderStepMaxScore    = "{{STEP_MAX_SCORE}}"
	PlaceholderStepDoc         = "{{STEP_DOC}}"
	PlaceholderToolCount       = "{{TOOL_COUNT}}"
	PlaceholderToolsSection    = "{{TOOLS_DATA_SECTION}}"
)

// Placeholders returns every placeholder the assembler substitutes, in the
// order they appear in the default template.
func Placeholders() []string {
	return []string{
		PlaceholderExperimentTitle,
		PlaceholderExperimentDoc,
		PlaceholderStepIndex,
		PlaceholderStepTitle,
		PlaceholderStepMaxScore,
		PlaceholderStepDoc,
		PlaceholderToolCount,
		PlaceholderToolsSection,
	}
}

// BuildPrompt fills template with the experiment and step data.
//
// All placeholders are replaced in a single pass over the template, so a
// replacement value is never scanned again for further placeholders and the
// result does not depend on substitution order. Placeholders missing from
// the template are simply not substituted, and unknown {{...}} tokens are
// left as literal text.
func BuildPrompt(template string, experiment lab.Experiment, step lab.Step) string {
	return substitute(template, values(experiment, step))
}

// values maps every placeholder to its replacement text.
func values(experiment lab.Experiment, step lab.Step) map[string]string {
	return map[string]string{
		PlaceholderExperimentTitle: experiment.Title,
		PlaceholderExperimentDoc:   experiment.Content,
		PlaceholderStepIndex:       strconv.Itoa(step.Index),
		PlaceholderStepTitle:       step.Title,
		PlaceholderStepMaxScore:    FormatScore(step.MaxScore),
		PlaceholderStepDoc:         step.Content,
		PlaceholderToolCount:       strconv.Itoa(len(step.Tools)),
		PlaceholderToolsSection:    BuildToolsSection(step.Tools),
	}
}

func substitute(template string, mapping map[string]string) string {
	// Placeholders() fixes the pair order; with distinct literal tokens the
	// replacer's result does not depend on it anyway.
	pairs := make([]string, 0, 2*len(mapping))
	for _, name := range Placeholders() {
		if v, ok := mapping[name]; ok {
			pairs = append(pairs, name, v)
		}
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// MissingPlaceholders returns the placeholders that do not occur in template.
// BuildPrompt tolerates missing placeholders; callers use this to warn.
func MissingPlaceholders(template string) []string {
	var missing []string
	for _, name := range Placeholders() {
		if !strings.Contains(template, name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// FormatScore renders a score in its shortest decimal form ("15", "7.5").
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
