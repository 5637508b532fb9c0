package grader

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StepEvaluation is the JSON object the grading template asks the model to
// return for one step.
type StepEvaluation struct {
	StepIndex       int              `json:"step_index"`
	IsPassed        bool             `json:"is_passed"`
	TotalScore      float64          `json:"total_score"`
	Reasoning       string           `json:"reasoning"`
	ToolsEvaluation []ToolEvaluation `json:"tools_evaluation"`
	Suggestion      string           `json:"suggestion"`
}

// ToolEvaluation is the grader's verdict on a single tool.
type ToolEvaluation struct {
	ToolName         string  `json:"tool_name"`
	Status           string  `json:"status"`
	Score            float64 `json:"score"`
	MaxScoreForTool  float64 `json:"max_score_for_tool"`
	Comment          string  `json:"comment"`
	EvidenceValidity string  `json:"evidence_validity"`
}

// Tool statuses and evidence validity values the template allows.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusWarning = "warning"

	EvidenceValid   = "valid"
	EvidenceInvalid = "invalid"
	EvidenceMissing = "missing"
)

// ParseError is returned when the grader's output cannot be decoded.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "could not parse evaluation: " + e.Reason
}

// ParseEvaluation decodes a grader response. Models often ignore the
// "JSON only" instruction, so surrounding prose, Markdown code fences and
// the // comments copied from the template's example are tolerated.
func ParseEvaluation(text string) (*StepEvaluation, error) {
	body := stripCodeFence(strings.TrimSpace(text))

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, &ParseError{Reason: "no JSON object found", Raw: text}
	}

	var eval StepEvaluation
	if err := json.Unmarshal([]byte(stripLineComments(body[start:end+1])), &eval); err != nil {
		return nil, &ParseError{Reason: err.Error(), Raw: text}
	}
	return &eval, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// stripLineComments removes // comments that occur outside JSON strings.
func stripLineComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// String renders a one-line summary of the evaluation.
func (e *StepEvaluation) String() string {
	verdict := "failed"
	if e.IsPassed {
		verdict = "passed"
	}
	return fmt.Sprintf("step %d %s with %.2f points (%d tools)", e.StepIndex, verdict, e.TotalScore, len(e.ToolsEvaluation))
}
