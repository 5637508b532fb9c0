package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/lab-grader/internal/grader"
	"github.com/giantswarm/lab-grader/internal/runner"
)

const evaluationSuffix = "_evaluation.json"

func listRuns(outputDir string) (*mcp.CallToolResult, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return mcp.NewToolResultText("[]"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to read results directory: %v", err)), nil
	}

	runs := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		metadata, err := readManifest(filepath.Join(outputDir, e.Name()))
		if err != nil {
			continue
		}
		// The per-step detail is available through run_id.
		delete(metadata, "steps")
		metadata["evaluation_files"] = evaluationFiles(filepath.Join(outputDir, e.Name()))
		runs = append(runs, metadata)
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal runs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func getSpecificRun(runPath, runID string) (*mcp.CallToolResult, error) {
	metadata, err := readManifest(runPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse run %q metadata: %v", runID, err)), nil
	}

	evaluations := make(map[string]interface{})
	for _, name := range evaluationFiles(runPath) {
		data, err := os.ReadFile(joinRunFile(runPath, name))
		if err != nil {
			continue
		}
		var obj interface{}
		if json.Unmarshal(data, &obj) == nil {
			evaluations[name] = obj
		}
	}
	if len(evaluations) > 0 {
		metadata["evaluations"] = evaluations
	}

	result, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

func getStepResult(runPath, runID string, stepIndex int) (*mcp.CallToolResult, error) {
	evalData, err := os.ReadFile(joinRunFile(runPath, grader.StepFileName(stepIndex, "evaluation.json")))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %q has no evaluation for step %d", runID, stepIndex)), nil
	}

	var evaluation interface{}
	if err := json.Unmarshal(evalData, &evaluation); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse evaluation: %v", err)), nil
	}

	result := map[string]interface{}{
		"run_id":     runID,
		"step_index": stepIndex,
		"evaluation": evaluation,
	}
	if promptData, err := os.ReadFile(joinRunFile(runPath, grader.StepFileName(stepIndex, "prompt.md"))); err == nil {
		result["prompt"] = string(promptData)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func readManifest(runPath string) (map[string]interface{}, error) {
	data, err := os.ReadFile(joinRunFile(runPath, runner.ResultSetFile))
	if err != nil {
		return nil, err
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func evaluationFiles(runPath string) []string {
	files, _ := os.ReadDir(runPath)
	names := []string{}
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), evaluationSuffix) {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)
	return names
}
