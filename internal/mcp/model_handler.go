package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/lab-grader/internal/kserve"
	"github.com/giantswarm/lab-grader/internal/server"
)

const noManagerMessage = "KServe manager is not configured (no cluster access or KServe not available)"

func registerModelTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// deploy_grader_model
	deployTool := mcp.NewTool("deploy_grader_model",
		mcp.WithDescription("Serve a vision-capable grading model via a KServe InferenceService (vLLM runtime) and wait for it to become ready. An existing ready deployment is reused."),
		mcp.WithString("model_name",
			mcp.Required(),
			mcp.Description("Name for the InferenceService; pass the same name as grading_model when grading"),
		),
		mcp.WithString("model_uri",
			mcp.Required(),
			mcp.Description("Model storage URI (e.g. 'hf://Qwen/Qwen2-VL-7B-Instruct')"),
		),
		mcp.WithNumber("gpu_count",
			mcp.Description("Number of GPUs to request (default: 1)"),
		),
		mcp.WithNumber("max_images_per_prompt",
			mcp.Description("Maximum screenshots accepted per grading prompt (default: 4)"),
		),
		mcp.WithNumber("max_model_len",
			mcp.Description("Context window limit passed to vLLM (default: runtime default)"),
		),
		mcp.WithArray("runtime_args",
			mcp.Description("Additional runtime arguments for vLLM (e.g. ['--enforce-eager'])"),
			mcp.WithStringItems(),
		),
	)
	s.AddTool(deployTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleDeployGraderModel(ctx, request, sc)
	})

	// teardown_grader_model
	teardownTool := mcp.NewTool("teardown_grader_model",
		mcp.WithDescription("Delete a grading model InferenceService to free its GPUs"),
		mcp.WithString("model_name",
			mcp.Required(),
			mcp.Description("Name of the InferenceService to delete"),
		),
	)
	s.AddTool(teardownTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleTeardownGraderModel(ctx, request, sc)
	})

	// list_grader_models
	listTool := mcp.NewTool("list_grader_models",
		mcp.WithDescription("List grading model InferenceServices managed by lab-grader"),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListGraderModels(ctx, request, sc)
	})

	return nil
}

// deploymentConfig builds the deployment from tool arguments.
func deploymentConfig(args map[string]interface{}) (kserve.DeploymentConfig, error) {
	modelName := stringArg(args, "model_name")
	if modelName == "" {
		return kserve.DeploymentConfig{}, fmt.Errorf("model_name is required")
	}
	modelURI := stringArg(args, "model_uri")
	if modelURI == "" {
		return kserve.DeploymentConfig{}, fmt.Errorf("model_uri is required")
	}

	cfg := kserve.DefaultDeploymentConfig(modelName, modelURI)

	for key, target := range map[string]*int{
		"gpu_count":             &cfg.GPUCount,
		"max_images_per_prompt": &cfg.MaxImagesPerPrompt,
		"max_model_len":         &cfg.MaxModelLen,
	} {
		n, ok, err := intArg(args, key)
		if err != nil {
			return cfg, err
		}
		if !ok {
			continue
		}
		if n < 0 {
			return cfg, fmt.Errorf("%s must not be negative", key)
		}
		*target = n
	}

	if rawArgs, ok := args["runtime_args"].([]interface{}); ok && len(rawArgs) > 0 {
		runtimeArgs := make([]string, 0, len(rawArgs))
		for _, arg := range rawArgs {
			argStr, ok := arg.(string)
			if !ok {
				return cfg, fmt.Errorf("runtime_args must be an array of strings")
			}
			argStr = strings.TrimSpace(argStr)
			if argStr == "" {
				return cfg, fmt.Errorf("runtime_args entries must be non-empty strings")
			}
			runtimeArgs = append(runtimeArgs, argStr)
		}
		cfg.RuntimeArgs = runtimeArgs
	}

	return cfg, nil
}

func handleDeployGraderModel(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.KServeManager == nil {
		return mcp.NewToolResultError(noManagerMessage), nil
	}

	cfg, err := deploymentConfig(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status, err := sc.KServeManager.Ensure(ctx, cfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to deploy grader model: %v", err)), nil
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleTeardownGraderModel(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.KServeManager == nil {
		return mcp.NewToolResultError(noManagerMessage), nil
	}

	modelName := stringArg(request.GetArguments(), "model_name")
	if modelName == "" {
		return mcp.NewToolResultError("model_name is required"), nil
	}

	if err := sc.KServeManager.Teardown(ctx, modelName); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to teardown grader model: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("InferenceService %q deleted", modelName)), nil
}

func handleListGraderModels(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.KServeManager == nil {
		return mcp.NewToolResultError(noManagerMessage), nil
	}

	statuses, err := sc.KServeManager.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list grader models: %v", err)), nil
	}

	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal statuses: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
