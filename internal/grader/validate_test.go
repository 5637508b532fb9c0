package grader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := func() *StepEvaluation {
		eval, err := ParseEvaluation(cleanEvaluation)
		if err != nil {
			t.Fatal(err)
		}
		return eval
	}

	tests := []struct {
		name   string
		mutate func(e *StepEvaluation)
		rules  []string
	}{
		{
			name:   "consistent evaluation",
			mutate: func(*StepEvaluation) {},
		},
		{
			name:   "wrong step index",
			mutate: func(e *StepEvaluation) { e.StepIndex = 3 },
			rules:  []string{RuleStepIndexMatches},
		},
		{
			name: "tool sum over step maximum",
			mutate: func(e *StepEvaluation) {
				e.ToolsEvaluation[1].Score = 9
				e.ToolsEvaluation[1].MaxScoreForTool = 0
				e.TotalScore = 16.5
			},
			rules: []string{RuleTotalWithinMax, RuleToolSumWithinMax},
		},
		{
			name:   "tool over its own maximum",
			mutate: func(e *StepEvaluation) { e.ToolsEvaluation[0].MaxScoreForTool = 5 },
			rules:  []string{RuleToolWithinToolMax},
		},
		{
			name:   "total does not match sum",
			mutate: func(e *StepEvaluation) { e.TotalScore = 10 },
			rules:  []string{RuleTotalMatchesSum},
		},
		{
			name:   "rounding within tolerance",
			mutate: func(e *StepEvaluation) { e.TotalScore = 12.505 },
		},
		{
			name:   "missing tool",
			mutate: func(e *StepEvaluation) { e.ToolsEvaluation = e.ToolsEvaluation[:1]; e.TotalScore = 7.5 },
			rules:  []string{RuleToolCountMatches},
		},
		{
			name: "unknown enums",
			mutate: func(e *StepEvaluation) {
				e.ToolsEvaluation[0].Status = "ok"
				e.ToolsEvaluation[1].EvidenceValidity = "blurry"
			},
			rules: []string{RuleStatusKnown, RuleEvidenceValidity},
		},
		{
			name: "negative score",
			mutate: func(e *StepEvaluation) {
				e.ToolsEvaluation[1].Score = -1
				e.TotalScore = 6.5
			},
			rules: []string{RuleScoresNonNegative},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := valid()
			tt.mutate(eval)

			violations := Validate(eval, vimStep())
			got := ruleNames(violations)
			if len(tt.rules) == 0 {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, len(tt.rules))
			assert.ElementsMatch(t, tt.rules, got)
			for _, v := range violations {
				assert.NotEmpty(t, v.Message)
			}
		})
	}
}
