package runner

import (
	"time"

	"github.com/giantswarm/lab-grader/internal/grader"
)

// GradingRun records a completed grading run of one lab.
type GradingRun struct {
	ID        string        `json:"id"`
	Lab       string        `json:"lab"`
	Title     string        `json:"title"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"-"`
	OutputDir string        `json:"-"`
	Steps     []StepRun     `json:"steps"`
}

// StepRun is the outcome of grading a single step within a run.
type StepRun struct {
	StepIndex      int                `json:"step_index"`
	Title          string             `json:"title"`
	MaxScore       float64            `json:"max_score"`
	PromptFile     string             `json:"prompt_file,omitempty"`
	EvaluationFile string             `json:"evaluation_file,omitempty"`
	Error          string             `json:"error,omitempty"`
	Result         *grader.StepResult `json:"-"`
}

// AwardedScore returns the mean score the grader gave this step, or 0 when
// no run produced a parseable evaluation.
func (s StepRun) AwardedScore() float64 {
	if s.Result == nil || s.Result.Summary.MeanScore == nil {
		return 0
	}
	return *s.Result.Summary.MeanScore
}

// TotalAwarded sums the awarded score over all steps.
func (r *GradingRun) TotalAwarded() float64 {
	total := 0.0
	for _, s := range r.Steps {
		total += s.AwardedScore()
	}
	return total
}

// TotalAvailable sums the maximum score over all steps.
func (r *GradingRun) TotalAvailable() float64 {
	total := 0.0
	for _, s := range r.Steps {
		total += s.MaxScore
	}
	return total
}

// Failed returns the number of steps that could not be graded.
func (r *GradingRun) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Error != "" {
			n++
		}
	}
	return n
}
