package grader

import (
	"fmt"
	"math"
	"slices"

	"github.com/giantswarm/lab-grader/internal/lab"
)

// scoreTolerance absorbs rounding in model-produced arithmetic.
const scoreTolerance = 0.01

// Rule names reported in a Violation.
const (
	RuleTotalWithinMax    = "total_within_max"
	RuleToolSumWithinMax  = "tool_sum_within_max"
	RuleToolWithinToolMax = "tool_within_tool_max"
	RuleTotalMatchesSum   = "total_matches_tool_sum"
	RuleStepIndexMatches  = "step_index_matches"
	RuleToolCountMatches  = "tool_count_matches"
	RuleStatusKnown       = "status_known"
	RuleEvidenceValidity  = "evidence_validity_known"
	RuleScoresNonNegative = "scores_non_negative"
)

// Violation is a consistency problem found in a grader's evaluation.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Validate checks an evaluation against the step it grades. The prompt
// states these rules to the grader but nothing forces the model to obey
// them, so they are checked here. Violations are reported, not corrected.
func Validate(eval *StepEvaluation, step lab.Step) []Violation {
	var out []Violation
	add := func(rule, format string, args ...any) {
		out = append(out, Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	if eval.StepIndex != step.Index {
		add(RuleStepIndexMatches, "evaluation is for step %d, expected step %d", eval.StepIndex, step.Index)
	}
	if eval.TotalScore < 0 {
		add(RuleScoresNonNegative, "total_score %.2f is negative", eval.TotalScore)
	}
	if eval.TotalScore > step.MaxScore+scoreTolerance {
		add(RuleTotalWithinMax, "total_score %.2f exceeds step maximum %.2f", eval.TotalScore, step.MaxScore)
	}
	if len(eval.ToolsEvaluation) != len(step.Tools) {
		add(RuleToolCountMatches, "%d tools evaluated, step has %d", len(eval.ToolsEvaluation), len(step.Tools))
	}

	sum := 0.0
	for i, te := range eval.ToolsEvaluation {
		sum += te.Score
		name := te.ToolName
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		if te.Score < 0 {
			add(RuleScoresNonNegative, "tool %s: score %.2f is negative", name, te.Score)
		}
		if te.MaxScoreForTool > 0 && te.Score > te.MaxScoreForTool+scoreTolerance {
			add(RuleToolWithinToolMax, "tool %s: score %.2f exceeds its maximum %.2f", name, te.Score, te.MaxScoreForTool)
		}
		if !slices.Contains([]string{StatusPass, StatusFail, StatusWarning}, te.Status) {
			add(RuleStatusKnown, "tool %s: unknown status %q", name, te.Status)
		}
		if !slices.Contains([]string{EvidenceValid, EvidenceInvalid, EvidenceMissing}, te.EvidenceValidity) {
			add(RuleEvidenceValidity, "tool %s: unknown evidence_validity %q", name, te.EvidenceValidity)
		}
	}

	if sum > step.MaxScore+scoreTolerance {
		add(RuleToolSumWithinMax, "sum of tool scores %.2f exceeds step maximum %.2f", sum, step.MaxScore)
	}
	if len(eval.ToolsEvaluation) > 0 && math.Abs(sum-eval.TotalScore) > scoreTolerance {
		add(RuleTotalMatchesSum, "total_score %.2f differs from sum of tool scores %.2f", eval.TotalScore, sum)
	}

	return out
}
