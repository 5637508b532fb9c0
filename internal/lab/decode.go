package lab

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lab records arrive from heterogeneous sources (hand-written YAML, JSON
// exported from a database row). Decoding is lenient: text fields accept
// any scalar and keep its literal form, and numeric fields accept numbers
// or numeric strings. A numeric field holding anything else falls back to
// its default with a warning instead of failing the whole record.

// text decodes any YAML node into its textual form.
type text struct {
	value string
	set   bool
}

func (t *text) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		t.value, t.set = node.Value, true
		return nil
	case yaml.AliasNode:
		return t.UnmarshalYAML(node.Alias)
	default:
		out, err := yaml.Marshal(node)
		if err != nil {
			return fmt.Errorf("line %d: failed to stringify value: %w", node.Line, err)
		}
		t.value, t.set = strings.TrimRight(string(out), "\n"), true
		return nil
	}
}

func (t text) or(def string) string {
	if !t.set {
		return def
	}
	return t.value
}

// number decodes a numeric scalar or a numeric string. Anything else is
// kept as invalid so the caller can fall back to its default.
type number struct {
	value   float64
	set     bool
	invalid string
}

func (n *number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.AliasNode {
		return n.UnmarshalYAML(node.Alias)
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind == yaml.ScalarNode {
		if v, err := strconv.ParseFloat(strings.TrimSpace(node.Value), 64); err == nil {
			n.value, n.set = v, true
			return nil
		}
	}
	var t text
	if err := t.UnmarshalYAML(node); err != nil {
		return err
	}
	n.invalid = t.value
	return nil
}

// or returns the decoded value, or def when the field is absent or not a
// number. Invalid values are logged under field.
func (n number) or(def float64, field string, line int) float64 {
	if n.invalid != "" {
		slog.Warn("ignoring non-numeric value", "field", field, "value", n.invalid, "line", line, "default", def)
		return def
	}
	if !n.set {
		return def
	}
	return n.value
}

func (e *Experiment) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Title   text `yaml:"title"`
		Content text `yaml:"content"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*e = Experiment{
		Title:   raw.Title.or(""),
		Content: raw.Content.or(""),
	}
	return nil
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Index   number `yaml:"step_index"`
		Title   text   `yaml:"title"`
		Score   number `yaml:"score"`
		Content text   `yaml:"content"`
		Tools   []Tool `yaml:"tools"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	index := raw.Index.or(DefaultStepIndex, "step_index", node.Line)
	if index != math.Trunc(index) {
		slog.Warn("ignoring non-integer value", "field", "step_index", "value", index, "line", node.Line, "default", DefaultStepIndex)
		index = DefaultStepIndex
	}
	*s = Step{
		Index:    int(index),
		Title:    raw.Title.or(""),
		MaxScore: raw.Score.or(0, "score", node.Line),
		Content:  raw.Content.or(""),
		Tools:    raw.Tools,
	}
	if s.Tools == nil {
		s.Tools = []Tool{}
	}
	return nil
}

func (t *Tool) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Name               text `yaml:"name"`
		ReferenceAnswer    text `yaml:"reference_answer"`
		GradingInstruction text `yaml:"grading_instruction"`
		StudentAnswer      text `yaml:"student_answer"`
		Evidence           text `yaml:"evidence"`
		EvidenceType       text `yaml:"evidence_type"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	d := NewTool()
	*t = Tool{
		Name:               raw.Name.or(d.Name),
		ReferenceAnswer:    raw.ReferenceAnswer.or(d.ReferenceAnswer),
		GradingInstruction: raw.GradingInstruction.or(d.GradingInstruction),
		StudentAnswer:      raw.StudentAnswer.or(d.StudentAnswer),
		Evidence:           raw.Evidence.or(""),
		EvidenceType:       EvidenceType(raw.EvidenceType.or(string(d.EvidenceType))),
	}
	return nil
}

// DecodeExperiment decodes a standalone experiment document (JSON or YAML).
func DecodeExperiment(data []byte) (Experiment, error) {
	var e Experiment
	if err := yaml.Unmarshal(data, &e); err != nil {
		return Experiment{}, fmt.Errorf("failed to decode experiment: %w", err)
	}
	return e, nil
}

// DecodeStep decodes a standalone step document (JSON or YAML).
// An empty document yields a step with all defaults.
func DecodeStep(data []byte) (Step, error) {
	s := Step{Index: DefaultStepIndex, Tools: []Tool{}}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Step{}, fmt.Errorf("failed to decode step: %w", err)
	}
	return s, nil
}
