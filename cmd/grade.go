package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/lab-grader/internal/grader"
	"github.com/giantswarm/lab-grader/internal/kserve"
	"github.com/giantswarm/lab-grader/internal/lab"
	"github.com/giantswarm/lab-grader/internal/llm"
	"github.com/giantswarm/lab-grader/internal/prompt"
	"github.com/giantswarm/lab-grader/internal/runner"
)

func newGradeCmd() *cobra.Command {
	var (
		steps          []int
		gradingModel   string
		endpoint       string
		apiKey         string
		repetitions    int
		parallelism    int
		attachImages   bool
		jsonMode       bool
		templateFile   string
		labsDir        string
		outputDir      string
		timeout        time.Duration
		deployModelURI string
		gpuCount       int
		maxImages      int
		keepModel      bool
	)

	cmd := &cobra.Command{
		Use:   "grade <lab>",
		Short: "Grade a lab with an LLM",
		Long: `Grade every step (or the steps selected with --steps) of a lab.

For each step the grading prompt is assembled and sent to the grading model.
Prompts, evaluations and a resultset.json manifest are written to a new run
directory below --output-dir.

With --deploy-model-uri the grading model is served via a KServe
InferenceService first and torn down afterwards unless --keep-model is set.`,
		Example: `  lab-grader grade linux-basics --endpoint https://dashscope.aliyuncs.com/compatible-mode/v1
  lab-grader grade linux-basics --steps 2 --repetitions 3 --attach-images
  lab-grader grade linux-basics --grading-model qwen2-vl --deploy-model-uri hf://Qwen/Qwen2-VL-7B-Instruct`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			l, err := lab.Load(args[0], labsDir)
			if err != nil {
				return fmt.Errorf("failed to load lab: %w", err)
			}

			template, err := resolveTemplate(templateFile, l)
			if err != nil {
				return err
			}

			var client llm.Client
			if deployModelURI != "" {
				m, err := newKServeManagerFromFlags(cmd, false)
				if err != nil {
					return err
				}
				cfg := kserve.DefaultDeploymentConfig(gradingModel, deployModelURI)
				cfg.GPUCount = gpuCount
				cfg.MaxImagesPerPrompt = maxImages

				fmt.Printf("Deploying grading model %s from %s...\n", gradingModel, deployModelURI)
				status, err := m.Ensure(ctx, cfg)
				if err != nil {
					return fmt.Errorf("failed to deploy grading model: %w", err)
				}
				if !keepModel {
					defer func() {
						// The run context may already be cancelled; teardown gets its own.
						tctx, cancel := context.WithTimeout(context.Background(), time.Minute)
						defer cancel()
						if err := m.Teardown(tctx, status.Name); err != nil {
							slog.Error("failed to tear down grading model", "name", status.Name, "error", err)
						}
					}()
				}
				client = newLLMClientFromFlags(status.EndpointURL, apiKey, gradingModel)
			} else {
				client = newLLMClientFromFlags(endpoint, apiKey, gradingModel)
			}

			g := grader.NewGrader(client, grader.Config{
				Model:        gradingModel,
				Repetitions:  repetitions,
				AttachImages: attachImages,
				JSONMode:     jsonMode,
			})

			r := runner.NewRunner(g, outputDir)
			r.SetParallelism(parallelism)
			r.SetProgressFunc(func(stepIndex, n, total int) {
				fmt.Printf("  Grading step %d (%d/%d)...\n", stepIndex, n, total)
			})

			fmt.Printf("Lab: %s\n", l.Name)
			fmt.Printf("Experiment: %s\n", l.Experiment.Title)
			fmt.Printf("Grading model: %s\n", gradingModel)
			fmt.Printf("Repetitions: %d\n", repetitions)
			fmt.Println()

			run, err := r.Run(ctx, l, template, steps)
			if err != nil {
				return err
			}

			fmt.Printf("\nGrading completed.\n")
			fmt.Printf("Run ID: %s\n", run.ID)
			fmt.Printf("Duration: %s\n", run.Duration.Round(time.Millisecond))
			fmt.Printf("Results:\n")
			for _, s := range run.Steps {
				switch {
				case s.Error != "":
					fmt.Printf("  - step %d %s: failed: %s\n", s.StepIndex, s.Title, s.Error)
				case s.Result != nil && s.Result.Summary.MeanScore == nil:
					fmt.Printf("  - step %d %s: no parseable evaluation (see %s)\n", s.StepIndex, s.Title, s.EvaluationFile)
				default:
					fmt.Printf("  - step %d %s: %s/%s\n", s.StepIndex, s.Title,
						prompt.FormatScore(s.AwardedScore()), prompt.FormatScore(s.MaxScore))
				}
			}
			fmt.Printf("Total: %s/%s\n", prompt.FormatScore(run.TotalAwarded()), prompt.FormatScore(run.TotalAvailable()))
			fmt.Printf("Output: %s\n", run.OutputDir)

			slog.Info("grading run complete", "run_id", run.ID)
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&steps, "steps", nil, "Step indexes to grade, e.g. 1,3 (default: all)")
	cmd.Flags().StringVar(&gradingModel, "grading-model", grader.DefaultGradingModel, "Model used for grading")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "OpenAI-compatible API endpoint URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (or set OPENAI_API_KEY)")
	cmd.Flags().IntVar(&repetitions, "repetitions", 1, "Independent grading passes per step")
	cmd.Flags().IntVar(&parallelism, "parallelism", runner.DefaultParallelism, "Steps graded concurrently")
	cmd.Flags().BoolVar(&attachImages, "attach-images", false, "Send image evidence to the model as image inputs")
	cmd.Flags().BoolVar(&jsonMode, "json-mode", false, "Request a JSON object response (if the server supports it)")
	cmd.Flags().StringVar(&templateFile, "template", "", "Grading template file (default: the lab's template or the built-in one)")
	cmd.Flags().StringVar(&labsDir, "labs-dir", "", "External labs directory")
	cmd.Flags().StringVar(&outputDir, "output-dir", "results", "Directory for grading results")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall timeout for the grading run (e.g. 30m, 1h). 0 means no timeout")
	cmd.Flags().StringVar(&deployModelURI, "deploy-model-uri", "", "Serve the grading model from this URI via KServe before grading")
	cmd.Flags().IntVar(&gpuCount, "gpu-count", 1, "GPUs for the deployed grading model")
	cmd.Flags().IntVar(&maxImages, "max-images-per-prompt", 4, "Screenshots the deployed grading model accepts per prompt")
	cmd.Flags().BoolVar(&keepModel, "keep-model", false, "Keep the deployed grading model running after grading")
	cmd.MarkFlagsMutuallyExclusive("endpoint", "deploy-model-uri")

	return cmd
}
