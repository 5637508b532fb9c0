package grader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/giantswarm/lab-grader/internal/lab"
	"github.com/giantswarm/lab-grader/internal/llm"
	"github.com/giantswarm/lab-grader/internal/prompt"
)

// DefaultGradingModel is the default vision-capable model used for grading.
const DefaultGradingModel = "qwen-vl-max"

// Config holds grading configuration.
type Config struct {
	Model string

	// Repetitions is the number of independent grading passes per step.
	Repetitions int

	// Temperature defaults to 0 for reproducible grading.
	Temperature *float64

	// SystemMessage is sent ahead of the assembled prompt when set.
	SystemMessage string

	// AttachImages sends image evidence URLs as image parts so the model
	// can look at the screenshots instead of only reading their links.
	AttachImages bool

	// JSONMode requests a JSON object response from servers that support it.
	JSONMode bool
}

// RunEvaluation is the outcome of a single grading pass.
type RunEvaluation struct {
	Evaluation *StepEvaluation `json:"evaluation,omitempty"`
	Violations []Violation     `json:"violations,omitempty"`
	RawOutput  string          `json:"raw_output"`
	ParseErr   string          `json:"parse_error,omitempty"`
}

// StepResult is the full grading output for one step.
type StepResult struct {
	Metadata Metadata        `json:"metadata"`
	Runs     []RunEvaluation `json:"runs"`
	Summary  Summary         `json:"summary"`

	// Prompt is the assembled prompt that was sent to the grader.
	Prompt string `json:"-"`
}

// Metadata holds information about a grading run.
type Metadata struct {
	Timestamp    string   `json:"timestamp"`
	Experiment   string   `json:"experiment"`
	StepIndex    int      `json:"step_index"`
	StepTitle    string   `json:"step_title"`
	StepMaxScore float64  `json:"step_max_score"`
	ToolCount    int      `json:"tool_count"`
	GradingModel string   `json:"grading_model"`
	Repetitions  int      `json:"repetitions"`
	ImageURLs    []string `json:"image_urls,omitempty"`
}

// Summary holds aggregate statistics over the parsed grading passes.
type Summary struct {
	MeanScore     *float64 `json:"mean_score"`
	MinScore      *float64 `json:"min_score"`
	MaxScore      *float64 `json:"max_score"`
	Variance      *float64 `json:"variance"`
	PassRate      *float64 `json:"pass_rate"`
	Violations    int      `json:"violations"`
	AllRunsParsed bool     `json:"all_runs_parsed"`
}

// Grader evaluates lab steps using an LLM.
type Grader struct {
	client llm.Client
	config Config
}

// NewGrader creates a new Grader.
func NewGrader(client llm.Client, config Config) *Grader {
	if config.Repetitions <= 0 {
		config.Repetitions = 1
	}
	if config.Model == "" {
		config.Model = DefaultGradingModel
	}
	if config.Temperature == nil {
		config.Temperature = llm.Float64Ptr(0)
	}
	return &Grader{client: client, config: config}
}

// GradeStep assembles the prompt for step and has the model grade it
// Config.Repetitions times. A failed or unparseable pass is recorded in the
// result; only context cancellation aborts grading.
func (g *Grader) GradeStep(ctx context.Context, template string, experiment lab.Experiment, step lab.Step) (*StepResult, error) {
	req := llm.ChatRequest{
		Model:         g.config.Model,
		SystemMessage: g.config.SystemMessage,
		UserMessage:   prompt.BuildPrompt(template, experiment, step),
		Temperature:   g.config.Temperature,
		JSONMode:      g.config.JSONMode,
	}
	if g.config.AttachImages {
		req.ImageURLs = ImageURLs(step)
	}

	result := &StepResult{
		Metadata: Metadata{
			Timestamp:    time.Now().Format(time.RFC3339),
			Experiment:   experiment.Title,
			StepIndex:    step.Index,
			StepTitle:    step.Title,
			StepMaxScore: step.MaxScore,
			ToolCount:    len(step.Tools),
			GradingModel: g.config.Model,
			Repetitions:  g.config.Repetitions,
			ImageURLs:    req.ImageURLs,
		},
		Runs:   make([]RunEvaluation, 0, g.config.Repetitions),
		Prompt: req.UserMessage,
	}

	for i := 0; i < g.config.Repetitions; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("grading step %d cancelled: %w", step.Index, err)
		}

		slog.Info("grading run",
			"step", step.Index,
			"run", i+1,
			"total", g.config.Repetitions,
		)

		text, err := g.evaluate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("grading step %d cancelled: %w", step.Index, ctx.Err())
			}
			slog.Error("grading run failed", "step", step.Index, "run", i+1, "error", err)
			result.Runs = append(result.Runs, RunEvaluation{ParseErr: err.Error()})
			continue
		}

		run := parseRun(text, step)
		result.Runs = append(result.Runs, run)

		if run.Evaluation != nil {
			slog.Info("evaluation parsed",
				"step", step.Index,
				"run", i+1,
				"total_score", run.Evaluation.TotalScore,
				"passed", run.Evaluation.IsPassed,
				"violations", len(run.Violations),
			)
		}
	}

	result.Summary = calculateStatistics(result.Runs)

	return result, nil
}

func parseRun(text string, step lab.Step) RunEvaluation {
	eval, err := ParseEvaluation(text)
	if err != nil {
		return RunEvaluation{RawOutput: text, ParseErr: err.Error()}
	}
	violations := Validate(eval, step)
	for _, v := range violations {
		slog.Warn("evaluation violates grading rules", "step", step.Index, "rule", v.Rule, "detail", v.Message)
	}
	return RunEvaluation{
		Evaluation: eval,
		Violations: violations,
		RawOutput:  text,
	}
}

func (g *Grader) evaluate(ctx context.Context, req llm.ChatRequest) (string, error) {
	// Try streaming first.
	stream, err := g.client.ChatCompletionStream(ctx, req)
	if err == nil {
		result, streamErr := llm.CollectStream(stream)
		if streamErr == nil {
			return result, nil
		}
		slog.Warn("streaming evaluation failed, falling back to non-streaming", "error", streamErr)
	} else {
		slog.Debug("streaming not available, using non-streaming", "error", err)
	}

	resp, err := g.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("evaluation failed: %w", err)
	}

	return resp.Content, nil
}

// StepFileName returns the per-step file name used in run directories,
// e.g. "step-2_evaluation.json".
func StepFileName(stepIndex int, suffix string) string {
	return fmt.Sprintf("step-%d_%s", stepIndex, suffix)
}

// WriteResultFile writes the step result as JSON into dir.
func WriteResultFile(result *StepResult, dir string) (string, error) {
	if result == nil {
		return "", errors.New("no result to write")
	}
	file := filepath.Join(dir, StepFileName(result.Metadata.StepIndex, "evaluation.json"))

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal evaluation: %w", err)
	}

	if err := os.WriteFile(file, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write evaluation file: %w", err)
	}

	return file, nil
}

func calculateStatistics(runs []RunEvaluation) Summary {
	var scores []float64
	passed, violations := 0, 0

	for _, r := range runs {
		violations += len(r.Violations)
		if r.Evaluation == nil {
			continue
		}
		scores = append(scores, r.Evaluation.TotalScore)
		if r.Evaluation.IsPassed {
			passed++
		}
	}

	if len(scores) == 0 {
		return Summary{AllRunsParsed: false}
	}

	mean := meanFloat(scores)
	minS := slices.Min(scores)
	maxS := slices.Max(scores)
	variance := varianceFloat(scores, mean)
	passRate := round2(float64(passed) / float64(len(scores)))

	return Summary{
		MeanScore:     &mean,
		MinScore:      &minS,
		MaxScore:      &maxS,
		Variance:      &variance,
		PassRate:      &passRate,
		Violations:    violations,
		AllRunsParsed: len(scores) == len(runs),
	}
}

func meanFloat(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return round2(sum / float64(len(vals)))
}

// varianceFloat calculates the population variance given a precomputed mean.
func varianceFloat(vals []float64, mean float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sumSquaredDiff := 0.0
	for _, v := range vals {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	return round2(sumSquaredDiff / float64(len(vals)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
