package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/lab-grader/internal/grader"
	"github.com/giantswarm/lab-grader/internal/lab"
	"github.com/giantswarm/lab-grader/internal/prompt"
)

const (
	// DefaultParallelism is the number of steps graded concurrently.
	DefaultParallelism = 4

	// ResultSetFile is the name of the run manifest inside a run directory.
	ResultSetFile = "resultset.json"
)

// ProgressFunc is called when a step starts grading. n is the 1-based
// position of the step within the run.
type ProgressFunc func(stepIndex, n, total int)

// StepGrader grades a single lab step.
type StepGrader interface {
	GradeStep(ctx context.Context, template string, experiment lab.Experiment, step lab.Step) (*grader.StepResult, error)
}

// Runner orchestrates grading of a whole lab.
type Runner struct {
	grader      StepGrader
	outputDir   string
	parallelism int
	progress    ProgressFunc
}

// NewRunner creates a new lab runner writing results below outputDir.
func NewRunner(g StepGrader, outputDir string) *Runner {
	return &Runner{
		grader:      g,
		outputDir:   outputDir,
		parallelism: DefaultParallelism,
	}
}

// SetProgressFunc sets the progress callback. It may be called from
// several goroutines at once.
func (r *Runner) SetProgressFunc(fn ProgressFunc) {
	r.progress = fn
}

// SetParallelism sets how many steps are graded at once. Values below 1
// grade sequentially.
func (r *Runner) SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	r.parallelism = n
}

// Run grades the given steps of l, or every step when stepIndexes is
// empty, and writes prompts, evaluations and a resultset.json manifest
// into a fresh run directory. template overrides the lab's own template;
// when both are empty the default template is used.
//
// Steps write files named after their step_index, so a lab that fails
// Validate (e.g. duplicate indexes) is rejected before anything is graded.
func (r *Runner) Run(ctx context.Context, l *lab.Lab, template string, stepIndexes []int) (*GradingRun, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lab %q: %w", l.Name, err)
	}
	steps, err := selectSteps(l, stepIndexes)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("lab %q has no steps to grade", l.Name)
	}

	if template == "" {
		template = l.Template
	}
	if template == "" {
		template = prompt.DefaultTemplate
	}
	if missing := prompt.MissingPlaceholders(template); len(missing) > 0 {
		slog.Warn("template is missing placeholders", "lab", l.Name, "missing", missing)
	}

	timestamp := time.Now()
	runID := fmt.Sprintf("%s_%s_%s",
		sanitizeFilename(l.Name),
		timestamp.Format("20060102-150405"),
		uuid.New().String()[:8],
	)

	outputPath := filepath.Join(r.outputDir, runID)
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	run := &GradingRun{
		ID:        runID,
		Lab:       l.Name,
		Title:     l.Experiment.Title,
		Timestamp: timestamp,
		OutputDir: outputPath,
		Steps:     make([]StepRun, len(steps)),
	}

	slog.Info("grading lab",
		"lab", l.Name,
		"run_id", runID,
		"steps", len(steps),
		"parallelism", r.parallelism,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for i, step := range steps {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if r.progress != nil {
				r.progress(step.Index, i+1, len(steps))
			}
			run.Steps[i] = r.gradeStep(gctx, l.Experiment, step, template, outputPath)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("grading run %s cancelled: %w", runID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("grading run %s cancelled: %w", runID, err)
	}

	run.Duration = time.Since(timestamp)

	if err := writeRunMetadata(outputPath, run); err != nil {
		return nil, fmt.Errorf("failed to write run metadata: %w", err)
	}

	slog.Info("lab grading complete",
		"lab", l.Name,
		"run_id", runID,
		"awarded", run.TotalAwarded(),
		"available", run.TotalAvailable(),
		"failed_steps", run.Failed(),
		"duration", run.Duration,
	)

	return run, nil
}

func (r *Runner) gradeStep(ctx context.Context, experiment lab.Experiment, step lab.Step, template, outputPath string) StepRun {
	sr := StepRun{
		StepIndex: step.Index,
		Title:     step.Title,
		MaxScore:  step.MaxScore,
	}

	result, err := r.grader.GradeStep(ctx, template, experiment, step)
	if err != nil {
		slog.Error("step grading failed", "step", step.Index, "error", err)
		sr.Error = err.Error()
		return sr
	}
	sr.Result = result

	promptFile := filepath.Join(outputPath, grader.StepFileName(step.Index, "prompt.md"))
	if err := os.WriteFile(promptFile, []byte(result.Prompt), 0o644); err != nil {
		slog.Error("failed to write prompt file", "step", step.Index, "error", err)
	} else {
		sr.PromptFile = promptFile
	}

	evalFile, err := grader.WriteResultFile(result, outputPath)
	if err != nil {
		slog.Error("failed to write evaluation file", "step", step.Index, "error", err)
		sr.Error = err.Error()
		return sr
	}
	sr.EvaluationFile = evalFile

	return sr
}

func selectSteps(l *lab.Lab, indexes []int) ([]lab.Step, error) {
	if len(indexes) == 0 {
		return l.Steps, nil
	}
	steps := make([]lab.Step, 0, len(indexes))
	var errs []error
	seen := make(map[int]bool)
	for _, idx := range indexes {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		s, err := l.Step(idx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		steps = append(steps, *s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return steps, nil
}

// sanitizeFilename replaces characters unsafe for filenames with underscores.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}

func writeRunMetadata(outputPath string, run *GradingRun) error {
	steps := make([]map[string]interface{}, 0, len(run.Steps))
	for _, s := range run.Steps {
		entry := map[string]interface{}{
			"step_index":      s.StepIndex,
			"title":           s.Title,
			"max_score":       s.MaxScore,
			"awarded_score":   s.AwardedScore(),
			"prompt_file":     baseName(s.PromptFile),
			"evaluation_file": baseName(s.EvaluationFile),
		}
		if s.Error != "" {
			entry["error"] = s.Error
		}
		if s.Result != nil {
			entry["all_runs_parsed"] = s.Result.Summary.AllRunsParsed
			entry["violations"] = s.Result.Summary.Violations
		}
		steps = append(steps, entry)
	}

	metadata := map[string]interface{}{
		"id":              run.ID,
		"lab":             run.Lab,
		"title":           run.Title,
		"timestamp":       run.Timestamp,
		"full_duration":   run.Duration.Seconds(),
		"total_awarded":   run.TotalAwarded(),
		"total_available": run.TotalAvailable(),
		"failed_steps":    run.Failed(),
		"steps":           steps,
	}

	data, err := json.MarshalIndent(metadata, "", "    ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(outputPath, ResultSetFile), data, 0o644)
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
