package lab

import "fmt"

// Defaults applied to tool fields that are left empty.
const (
	DefaultToolName           = "Unknown Tool"
	DefaultReferenceAnswer    = "无"
	DefaultGradingInstruction = "无"
	DefaultStudentAnswer      = "未填写"
	DefaultEvidenceType       = EvidenceText

	// DefaultStepIndex is used when a step record carries no step_index.
	DefaultStepIndex = 1
)

// EvidenceType selects how a tool's evidence is presented to the grader.
type EvidenceType string

const (
	EvidenceText     EvidenceType = "text"
	EvidenceMarkdown EvidenceType = "markdown"
	EvidenceImage    EvidenceType = "image"
)

// Lab is a complete lab report: the experiment description plus its
// gradable steps.
type Lab struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Version     string     `yaml:"version" json:"version"`
	Experiment  Experiment `yaml:"experiment" json:"experiment"`
	Steps       []Step     `yaml:"steps" json:"steps"`

	// Template overrides the default grading template when the lab
	// directory ships its own template.md.
	Template string `yaml:"-" json:"-"`
}

// Experiment is the lab/course-level description injected into every
// step's prompt.
type Experiment struct {
	Title   string `yaml:"title" json:"title"`
	Content string `yaml:"content" json:"content"`
}

// Step is one gradable unit of a lab. MaxScore is the authoritative score
// ceiling for the step. Tool order determines display order.
type Step struct {
	Index    int     `yaml:"step_index" json:"step_index"`
	Title    string  `yaml:"title" json:"title"`
	MaxScore float64 `yaml:"score" json:"score"`
	Content  string  `yaml:"content" json:"content"`
	Tools    []Tool  `yaml:"tools" json:"tools"`
}

// Tool is one discrete checkable sub-task within a step. Defaults are
// applied where a decoded record omits a key (see NewTool), never to
// fields that are present but empty.
type Tool struct {
	Name               string       `yaml:"name" json:"name"`
	ReferenceAnswer    string       `yaml:"reference_answer" json:"reference_answer"`
	GradingInstruction string       `yaml:"grading_instruction" json:"grading_instruction"`
	StudentAnswer      string       `yaml:"student_answer" json:"student_answer"`
	Evidence           string       `yaml:"evidence" json:"evidence"`
	EvidenceType       EvidenceType `yaml:"evidence_type" json:"evidence_type"`
}

// NewTool returns a tool with every defaulted field set, as the decoder
// produces for a record with no keys. Fields a caller leaves empty on a
// Tool literal stay empty: an explicit empty value is rendered as given.
func NewTool() Tool {
	return Tool{
		Name:               DefaultToolName,
		ReferenceAnswer:    DefaultReferenceAnswer,
		GradingInstruction: DefaultGradingInstruction,
		StudentAnswer:      DefaultStudentAnswer,
		EvidenceType:       DefaultEvidenceType,
	}
}

// Step returns the step with the given step_index.
func (l *Lab) Step(index int) (*Step, error) {
	for i := range l.Steps {
		if l.Steps[i].Index == index {
			return &l.Steps[i], nil
		}
	}
	return nil, &StepNotFoundError{Lab: l.Name, Index: index}
}

// TotalScore returns the sum of all step max scores.
func (l *Lab) TotalScore() float64 {
	total := 0.0
	for _, s := range l.Steps {
		total += s.MaxScore
	}
	return total
}

// NotFoundError is returned when a lab cannot be located.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lab %q not found: %v", e.Name, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// StepNotFoundError is returned when a lab has no step with the requested index.
type StepNotFoundError struct {
	Lab   string
	Index int
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("lab %q has no step %d", e.Lab, e.Index)
}
