package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/lab-grader/internal/lab"
	"github.com/giantswarm/lab-grader/internal/prompt"
	"github.com/giantswarm/lab-grader/internal/server"
)

func registerLabTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// list_labs
	listTool := mcp.NewTool("list_labs",
		mcp.WithDescription("List available lab reports with their steps and total score"),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListLabs(ctx, request, sc)
	})

	// build_grading_prompt
	promptTool := mcp.NewTool("build_grading_prompt",
		mcp.WithDescription("Assemble the grading prompt for one step of a lab without calling a model"),
		mcp.WithString("lab",
			mcp.Required(),
			mcp.Description("Name of the lab (e.g. 'linux-basics')"),
		),
		mcp.WithNumber("step_index",
			mcp.Required(),
			mcp.Description("step_index of the step to build the prompt for"),
		),
		mcp.WithString("template_path",
			mcp.Description("Path to a grading template file (default: the lab's template or the built-in one)"),
		),
	)
	s.AddTool(promptTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleBuildGradingPrompt(ctx, request, sc)
	})

	return nil
}

func handleListLabs(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	names, err := lab.List(sc.LabsDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list labs: %v", err)), nil
	}

	type stepInfo struct {
		Index     int     `json:"step_index"`
		Title     string  `json:"title"`
		Score     float64 `json:"score"`
		ToolCount int     `json:"tool_count"`
	}
	type labInfo struct {
		Name        string     `json:"name"`
		Title       string     `json:"title"`
		Description string     `json:"description,omitempty"`
		Version     string     `json:"version,omitempty"`
		TotalScore  float64    `json:"total_score"`
		Steps       []stepInfo `json:"steps"`
	}

	labs := make([]labInfo, 0, len(names))
	for _, name := range names {
		l, err := lab.Load(name, sc.LabsDir)
		if err != nil {
			slog.Warn("skipping unloadable lab", "lab", name, "error", err)
			continue
		}
		info := labInfo{
			Name:        l.Name,
			Title:       l.Experiment.Title,
			Description: l.Description,
			Version:     l.Version,
			TotalScore:  l.TotalScore(),
			Steps:       make([]stepInfo, 0, len(l.Steps)),
		}
		for _, s := range l.Steps {
			info.Steps = append(info.Steps, stepInfo{
				Index:     s.Index,
				Title:     s.Title,
				Score:     s.MaxScore,
				ToolCount: len(s.Tools),
			})
		}
		labs = append(labs, info)
	}

	data, err := json.MarshalIndent(labs, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal labs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleBuildGradingPrompt(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	l, step, errResult := loadLabStep(args, sc)
	if errResult != nil {
		return errResult, nil
	}

	template, err := sc.Template(l, stringArg(args, "template_path"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load template: %v", err)), nil
	}
	if missing := prompt.MissingPlaceholders(template); len(missing) > 0 {
		slog.Warn("template is missing placeholders", "lab", l.Name, "missing", missing)
	}

	return mcp.NewToolResultText(prompt.BuildPrompt(template, l.Experiment, *step)), nil
}

// loadLabStep resolves the "lab" and "step_index" arguments. A non-nil
// result is a user-facing error to return as is.
func loadLabStep(args map[string]interface{}, sc *server.ServerContext) (*lab.Lab, *lab.Step, *mcp.CallToolResult) {
	name := stringArg(args, "lab")
	if name == "" {
		return nil, nil, mcp.NewToolResultError("lab is required")
	}
	index, ok, err := intArg(args, "step_index")
	if err != nil {
		return nil, nil, mcp.NewToolResultError(err.Error())
	}
	if !ok {
		return nil, nil, mcp.NewToolResultError("step_index is required")
	}

	l, err := lab.Load(name, sc.LabsDir)
	if err != nil {
		return nil, nil, mcp.NewToolResultError(fmt.Sprintf("failed to load lab: %v", err))
	}
	step, err := l.Step(index)
	if err != nil {
		return nil, nil, mcp.NewToolResultError(err.Error())
	}
	return l, step, nil
}
