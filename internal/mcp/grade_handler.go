package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/lab-grader/internal/grader"
	"github.com/giantswarm/lab-grader/internal/lab"
	"github.com/giantswarm/lab-grader/internal/llm"
	"github.com/giantswarm/lab-grader/internal/runner"
	"github.com/giantswarm/lab-grader/internal/server"
)

func registerGradingTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// grade_step
	gradeStepTool := mcp.NewTool("grade_step",
		mcp.WithDescription("Grade one step of a lab with an LLM and return the parsed evaluation and score statistics"),
		mcp.WithString("lab",
			mcp.Required(),
			mcp.Description("Name of the lab (e.g. 'linux-basics')"),
		),
		mcp.WithNumber("step_index",
			mcp.Required(),
			mcp.Description("step_index of the step to grade"),
		),
		mcp.WithString("grading_model",
			mcp.Description("Model to grade with (default: from server config)"),
		),
		mcp.WithString("endpoint",
			mcp.Description("OpenAI-compatible endpoint URL (overrides auto-discovery from KServe)"),
		),
		mcp.WithNumber("repetitions",
			mcp.Description("Number of independent grading passes (default: 1)"),
		),
		mcp.WithBoolean("attach_images",
			mcp.Description("Send image evidence to the model as image inputs"),
		),
	)
	s.AddTool(gradeStepTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGradeStep(ctx, request, sc)
	})

	// grade_lab
	gradeLabTool := mcp.NewTool("grade_lab",
		mcp.WithDescription("Grade every step (or the selected steps) of a lab and store the results as a run"),
		mcp.WithString("lab",
			mcp.Required(),
			mcp.Description("Name of the lab (e.g. 'linux-basics')"),
		),
		mcp.WithString("steps",
			mcp.Description("Comma separated step indexes to grade (default: all steps)"),
		),
		mcp.WithString("grading_model",
			mcp.Description("Model to grade with (default: from server config)"),
		),
		mcp.WithString("endpoint",
			mcp.Description("OpenAI-compatible endpoint URL (overrides auto-discovery from KServe)"),
		),
		mcp.WithNumber("repetitions",
			mcp.Description("Number of independent grading passes per step (default: 1)"),
		),
		mcp.WithBoolean("attach_images",
			mcp.Description("Send image evidence to the model as image inputs"),
		),
	)
	s.AddTool(gradeLabTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGradeLab(ctx, request, sc)
	})

	// get_results
	getResultsTool := mcp.NewTool("get_results",
		mcp.WithDescription("Retrieve past grading runs, one run's manifest and evaluations, or a single step's evaluation"),
		mcp.WithString("run_id",
			mcp.Description("Specific run ID to retrieve (optional, lists all if omitted)"),
		),
		mcp.WithNumber("step_index",
			mcp.Description("Return only this step's evaluation and prompt (requires run_id)"),
		),
	)
	s.AddTool(getResultsTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetResults(ctx, request, sc)
	})

	return nil
}

// graderConfig merges tool arguments over the server's grading defaults.
func graderConfig(args map[string]interface{}, sc *server.ServerContext) (grader.Config, error) {
	cfg := sc.Grader
	if model := stringArg(args, "grading_model"); model != "" {
		cfg.Model = model
	}
	reps, ok, err := intArg(args, "repetitions")
	if err != nil {
		return cfg, err
	}
	if ok {
		if reps < 1 {
			return cfg, fmt.Errorf("repetitions must be at least 1")
		}
		cfg.Repetitions = reps
	}
	if attach, ok := boolArg(args, "attach_images"); ok {
		cfg.AttachImages = attach
	}
	return cfg, nil
}

// gradingClient picks the LLM client for a grading call. An explicit
// endpoint wins, then a ready KServe deployment named after the grading
// model, then the server's default client.
func gradingClient(ctx context.Context, args map[string]interface{}, sc *server.ServerContext, model string) llm.Client {
	if endpoint := stringArg(args, "endpoint"); endpoint != "" {
		return llm.NewOpenAIClient(llm.WithBaseURL(endpoint), llm.WithModel(model))
	}
	if sc.KServeManager != nil && model != "" {
		status, err := sc.KServeManager.Get(ctx, model)
		if err == nil && status.Ready && status.EndpointURL != "" {
			slog.Info("auto-discovered KServe endpoint for grading model",
				"model", model,
				"endpoint", status.EndpointURL,
			)
			return llm.NewOpenAIClient(llm.WithBaseURL(status.EndpointURL), llm.WithModel(model))
		}
	}
	return sc.LLMClient
}

func handleGradeStep(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	l, step, errResult := loadLabStep(args, sc)
	if errResult != nil {
		return errResult, nil
	}

	cfg, err := graderConfig(args, sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g, errResult := newGrader(ctx, args, sc, cfg)
	if errResult != nil {
		return errResult, nil
	}

	template, err := sc.Template(l, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load template: %v", err)), nil
	}

	result, err := g.GradeStep(ctx, template, l.Experiment, *step)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("grading failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleGradeLab(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	name := stringArg(args, "lab")
	if name == "" {
		return mcp.NewToolResultError("lab is required"), nil
	}
	steps, err := parseStepList(stringArg(args, "steps"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	l, err := lab.Load(name, sc.LabsDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load lab: %v", err)), nil
	}

	cfg, err := graderConfig(args, sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g, errResult := newGrader(ctx, args, sc, cfg)
	if errResult != nil {
		return errResult, nil
	}

	template, err := sc.Template(l, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load template: %v", err)), nil
	}

	r := runner.NewRunner(g, sc.OutputDir)
	run, err := r.Run(ctx, l, template, steps)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("grading run failed: %v", err)), nil
	}

	stepSummaries := make([]map[string]interface{}, 0, len(run.Steps))
	for _, s := range run.Steps {
		entry := map[string]interface{}{
			"step_index":    s.StepIndex,
			"title":         s.Title,
			"max_score":     s.MaxScore,
			"awarded_score": s.AwardedScore(),
		}
		if s.Error != "" {
			entry["error"] = s.Error
		}
		if s.Result != nil {
			entry["all_runs_parsed"] = s.Result.Summary.AllRunsParsed
			entry["violations"] = s.Result.Summary.Violations
		}
		stepSummaries = append(stepSummaries, entry)
	}

	summary := map[string]interface{}{
		"run_id":          run.ID,
		"lab":             run.Lab,
		"output_dir":      run.OutputDir,
		"duration":        run.Duration.String(),
		"total_awarded":   run.TotalAwarded(),
		"total_available": run.TotalAvailable(),
		"failed_steps":    run.Failed(),
		"steps":           stepSummaries,
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func newGrader(ctx context.Context, args map[string]interface{}, sc *server.ServerContext, cfg grader.Config) (*grader.Grader, *mcp.CallToolResult) {
	client := gradingClient(ctx, args, sc, cfg.Model)
	if client == nil {
		return nil, mcp.NewToolResultError("LLM client is not configured")
	}
	return grader.NewGrader(client, cfg), nil
}

func handleGetResults(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	runID := stringArg(args, "run_id")

	stepIndex, hasStep, err := intArg(args, "step_index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if runID == "" {
		if hasStep {
			return mcp.NewToolResultError("step_index requires run_id"), nil
		}
		return listRuns(sc.OutputDir)
	}

	runPath, err := resolveRunPath(sc.OutputDir, runID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := os.Stat(filepath.Join(runPath, runner.ResultSetFile)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %q not found: %v", runID, err)), nil
	}

	if hasStep {
		return getStepResult(runPath, runID, stepIndex)
	}
	return getSpecificRun(runPath, runID)
}
