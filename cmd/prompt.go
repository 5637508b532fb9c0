package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/lab-grader/internal/lab"
	"github.com/giantswarm/lab-grader/internal/prompt"
)

func newPromptCmd() *cobra.Command {
	var (
		labName        string
		stepIndex      int
		experimentFile string
		stepFile       string
		templateFile   string
		labsDir        string
		outputFile     string
	)

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Assemble the grading prompt for one step",
		Long: `Assemble the grading prompt for a single step without calling a model.

The step is taken either from a lab (--lab and --step) or from two standalone
records (--experiment and --step-file, JSON or YAML). Missing fields fall back
to their defaults, so partial records are accepted.`,
		Example: `  lab-grader prompt --lab linux-basics --step 2
  lab-grader prompt --experiment exp.json --step-file step.json --output prompt.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			experiment, step, l, err := resolvePromptInput(labName, stepIndex, labsDir, experimentFile, stepFile)
			if err != nil {
				return err
			}

			template, err := resolveTemplate(templateFile, l)
			if err != nil {
				return err
			}

			text := prompt.BuildPrompt(template, experiment, step)

			if outputFile == "" {
				_, err := io.WriteString(cmd.OutOrStdout(), text)
				return err
			}
			if err := os.WriteFile(outputFile, []byte(text), 0o644); err != nil {
				return fmt.Errorf("failed to write prompt: %w", err)
			}
			slog.Info("prompt written", "file", outputFile, "step", step.Index, "tools", len(step.Tools))
			return nil
		},
	}

	cmd.Flags().StringVar(&labName, "lab", "", "Lab name")
	cmd.Flags().IntVar(&stepIndex, "step", 0, "step_index of the step within --lab")
	cmd.Flags().StringVar(&experimentFile, "experiment", "", "Experiment record file (JSON or YAML)")
	cmd.Flags().StringVar(&stepFile, "step-file", "", "Step record file (JSON or YAML)")
	cmd.Flags().StringVar(&templateFile, "template", "", "Grading template file (default: the lab's template or the built-in one)")
	cmd.Flags().StringVar(&labsDir, "labs-dir", "", "External labs directory")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the prompt to this file instead of stdout")
	cmd.MarkFlagsMutuallyExclusive("lab", "experiment")
	cmd.MarkFlagsMutuallyExclusive("lab", "step-file")

	return cmd
}

func resolvePromptInput(labName string, stepIndex int, labsDir, experimentFile, stepFile string) (lab.Experiment, lab.Step, *lab.Lab, error) {
	if labName != "" {
		l, err := lab.Load(labName, labsDir)
		if err != nil {
			return lab.Experiment{}, lab.Step{}, nil, err
		}
		if stepIndex == 0 {
			return lab.Experiment{}, lab.Step{}, nil, errors.New("--step is required with --lab")
		}
		step, err := l.Step(stepIndex)
		if err != nil {
			return lab.Experiment{}, lab.Step{}, nil, err
		}
		return l.Experiment, *step, l, nil
	}

	if stepFile == "" {
		return lab.Experiment{}, lab.Step{}, nil, errors.New("either --lab and --step or --step-file is required")
	}

	var experiment lab.Experiment
	if experimentFile != "" {
		data, err := os.ReadFile(experimentFile)
		if err != nil {
			return lab.Experiment{}, lab.Step{}, nil, fmt.Errorf("failed to read experiment: %w", err)
		}
		experiment, err = lab.DecodeExperiment(data)
		if err != nil {
			return lab.Experiment{}, lab.Step{}, nil, err
		}
	}

	data, err := os.ReadFile(stepFile)
	if err != nil {
		return lab.Experiment{}, lab.Step{}, nil, fmt.Errorf("failed to read step: %w", err)
	}
	step, err := lab.DecodeStep(data)
	if err != nil {
		return lab.Experiment{}, lab.Step{}, nil, err
	}
	return experiment, step, nil, nil
}

// resolveTemplate picks the explicit template file, then the lab's own
// template, then the built-in one. Missing placeholders are only warned
// about; the prompt is still assembled.
func resolveTemplate(path string, l *lab.Lab) (string, error) {
	var template string
	switch {
	case path != "":
		t, err := prompt.LoadTemplate(path)
		if err != nil {
			return "", err
		}
		template = t
	case l != nil && l.Template != "":
		template = l.Template
	default:
		template = prompt.DefaultTemplate
	}

	if missing := prompt.MissingPlaceholders(template); len(missing) > 0 {
		slog.Warn("template is missing placeholders", "missing", missing)
	}
	return template, nil
}
