package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/giantswarm/lab-grader/internal/grader"
	"github.com/giantswarm/lab-grader/internal/kserve"
	"github.com/giantswarm/lab-grader/internal/server"
	"github.com/giantswarm/lab-grader/internal/testutil"
)

const stepTwoEvaluation = `{"step_index": 2, "is_passed": true, "total_score": 15, "reasoning": "ok",
"tools_evaluation": [
 {"tool_name": "Shell History Check", "status": "pass", "score": 7.5, "max_score_for_tool": 7.5, "comment": "ok", "evidence_validity": "valid"},
 {"tool_name": "File Content Verification", "status": "pass", "score": 7.5, "max_score_for_tool": 7.5, "comment": "ok", "evidence_validity": "valid"}
], "suggestion": ""}`

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	request := mcp.CallToolRequest{}
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	content, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return content.Text
}

func TestHandleListLabs(t *testing.T) {
	sc := &server.ServerContext{}

	result, err := handleListLabs(context.Background(), mcp.CallToolRequest{}, sc)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var labs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &labs))
	require.NotEmpty(t, labs)

	var linux map[string]interface{}
	for _, l := range labs {
		if l["name"] == "linux-basics" {
			linux = l
		}
	}
	require.NotNil(t, linux, "embedded linux-basics lab should be listed")
	assert.Equal(t, "Linux 基础命令与文本处理", linux["title"])
	assert.Equal(t, 25.0, linux["total_score"])
	assert.Len(t, linux["steps"], 2)
}

func TestHandleBuildGradingPrompt(t *testing.T) {
	sc := &server.ServerContext{}

	result, err := handleBuildGradingPrompt(context.Background(), callRequest(map[string]interface{}{
		"lab":        "linux-basics",
		"step_index": float64(2),
	}), sc)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Vim 编辑器实战")
	assert.Contains(t, text, "### 工具 1: Shell History Check")
	assert.Contains(t, text, "### 工具 2: File Content Verification")
	assert.Contains(t, text, "![学生提交的截图](")
	assert.NotContains(t, text, "{TOOLS_SECTION}")
}

func TestHandleBuildGradingPromptCustomTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.md")
	require.NoError(t, os.WriteFile(path, []byte("{STEP_TITLE} / {STEP_SCORE}"), 0o644))

	result, err := handleBuildGradingPrompt(context.Background(), callRequest(map[string]interface{}{
		"lab":           "linux-basics",
		"step_index":    float64(1),
		"template_path": path,
	}), &server.ServerContext{})
	require.NoError(t, err)
	assert.Equal(t, "目录与文件操作 / 10", resultText(t, result))
}

func TestHandleBuildGradingPromptErrors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing lab", map[string]interface{}{"step_index": float64(1)}, "lab is required"},
		{"missing step", map[string]interface{}{"lab": "linux-basics"}, "step_index is required"},
		{"fractional step", map[string]interface{}{"lab": "linux-basics", "step_index": 1.5}, "whole number"},
		{"unknown lab", map[string]interface{}{"lab": "nonexistent", "step_index": float64(1)}, "failed to load lab"},
		{"unknown step", map[string]interface{}{"lab": "linux-basics", "step_index": float64(9)}, "has no step 9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handleBuildGradingPrompt(context.Background(), callRequest(tt.args), &server.ServerContext{})
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestHandleGradeStep(t *testing.T) {
	mock := &testutil.MockLLMClient{DefaultResponse: stepTwoEvaluation}
	sc := &server.ServerContext{LLMClient: mock, Grader: grader.Config{Model: "grader"}}

	result, err := handleGradeStep(context.Background(), callRequest(map[string]interface{}{
		"lab":           "linux-basics",
		"step_index":    float64(2),
		"repetitions":   float64(2),
		"attach_images": true,
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var decoded grader.StepResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &decoded))
	assert.Len(t, decoded.Runs, 2)
	require.NotNil(t, decoded.Summary.MeanScore)
	assert.Equal(t, 15.0, *decoded.Summary.MeanScore)
	assert.True(t, decoded.Summary.AllRunsParsed)

	assert.Equal(t, 2, mock.Calls())
	req := mock.LastRequest()
	assert.Equal(t, "grader", req.Model)
	assert.Equal(t, []string{"https://oss.example.com/student_uploads/vim_result_snap.png"}, req.ImageURLs)
}

func TestHandleGradeStepNoClient(t *testing.T) {
	result, err := handleGradeStep(context.Background(), callRequest(map[string]interface{}{
		"lab":        "linux-basics",
		"step_index": float64(1),
	}), &server.ServerContext{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "LLM client is not configured")
}

func TestHandleGradeStepInvalidRepetitions(t *testing.T) {
	sc := &server.ServerContext{LLMClient: &testutil.MockLLMClient{}}

	result, err := handleGradeStep(context.Background(), callRequest(map[string]interface{}{
		"lab":         "linux-basics",
		"step_index":  float64(1),
		"repetitions": float64(0),
	}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "repetitions must be at least 1")
}

func TestGradeLabAndGetResults(t *testing.T) {
	tmpDir := t.TempDir()
	mock := &testutil.MockLLMClient{DefaultResponse: stepTwoEvaluation}
	sc := &server.ServerContext{LLMClient: mock, OutputDir: tmpDir}

	result, err := handleGradeLab(context.Background(), callRequest(map[string]interface{}{
		"lab":   "linux-basics",
		"steps": "2",
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &summary))
	runID, _ := summary["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, 15.0, summary["total_awarded"])
	assert.Equal(t, 15.0, summary["total_available"])

	// List all runs.
	result, err = handleGetResults(context.Background(), callRequest(map[string]interface{}{}), sc)
	require.NoError(t, err)
	var runs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0]["id"])
	assert.Equal(t, []interface{}{"step-2_evaluation.json"}, runs[0]["evaluation_files"])

	// One run with its evaluations.
	result, err = handleGetResults(context.Background(), callRequest(map[string]interface{}{"run_id": runID}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"evaluations"`)
	assert.Contains(t, resultText(t, result), "step-2_evaluation.json")

	// A single step with its prompt.
	result, err = handleGetResults(context.Background(), callRequest(map[string]interface{}{
		"run_id":     runID,
		"step_index": float64(2),
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)
	var step map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &step))
	assert.Contains(t, step["prompt"], "Vim 编辑器实战")
	assert.NotNil(t, step["evaluation"])

	// A step that was not graded.
	result, err = handleGetResults(context.Background(), callRequest(map[string]interface{}{
		"run_id":     runID,
		"step_index": float64(1),
	}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGradeLabErrors(t *testing.T) {
	sc := &server.ServerContext{LLMClient: &testutil.MockLLMClient{}, OutputDir: t.TempDir()}

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing lab", map[string]interface{}{}, "lab is required"},
		{"bad steps", map[string]interface{}{"lab": "linux-basics", "steps": "1,x"}, "invalid step index"},
		{"unknown step", map[string]interface{}{"lab": "linux-basics", "steps": "5"}, "has no step 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handleGradeLab(context.Background(), callRequest(tt.args), sc)
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestHandleGradeLabDuplicateStepIndexes(t *testing.T) {
	labsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(labsDir, "dup"), 0o755))
	doc := "steps:\n  - step_index: 1\n    title: A\n  - step_index: 1\n    title: B\n"
	require.NoError(t, os.WriteFile(filepath.Join(labsDir, "dup", "lab.yaml"), []byte(doc), 0o644))

	mock := &testutil.MockLLMClient{DefaultResponse: stepTwoEvaluation}
	sc := &server.ServerContext{LLMClient: mock, OutputDir: t.TempDir(), LabsDir: labsDir}

	result, err := handleGradeLab(context.Background(), callRequest(map[string]interface{}{"lab": "dup"}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "duplicate step_index 1")
	assert.Zero(t, mock.Calls())
}

func TestHandleGetResultsEmptyDir(t *testing.T) {
	sc := &server.ServerContext{OutputDir: t.TempDir()}

	result, err := handleGetResults(context.Background(), callRequest(map[string]interface{}{}), sc)
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, result))
}

func TestHandleGetResultsNonexistentDir(t *testing.T) {
	sc := &server.ServerContext{OutputDir: "/nonexistent/directory"}

	result, err := handleGetResults(context.Background(), callRequest(map[string]interface{}{}), sc)
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, result))
}

func TestHandleGetResultsRejectsTraversal(t *testing.T) {
	sc := &server.ServerContext{OutputDir: t.TempDir()}

	for _, runID := range []string{"..", "../etc", "a/b"} {
		result, err := handleGetResults(context.Background(), callRequest(map[string]interface{}{"run_id": runID}), sc)
		require.NoError(t, err)
		assert.True(t, result.IsError, runID)
		assert.Contains(t, resultText(t, result), "invalid run_id")
	}
}

func TestHandleGetResultsStepWithoutRun(t *testing.T) {
	sc := &server.ServerContext{OutputDir: t.TempDir()}

	result, err := handleGetResults(context.Background(), callRequest(map[string]interface{}{"step_index": float64(1)}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "requires run_id")
}

func TestParseStepList(t *testing.T) {
	tests := []struct {
		input   string
		want    []int
		wantErr bool
	}{
		{input: "", want: nil},
		{input: "1", want: []int{1}},
		{input: " 1, 3 ,", want: []int{1, 3}},
		{input: "0", wantErr: true},
		{input: "1,two", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseStepList(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeploymentConfigFromArgs(t *testing.T) {
	cfg, err := deploymentConfig(map[string]interface{}{
		"model_name":            "qwen-vl",
		"model_uri":             "hf://Qwen/Qwen2-VL-7B-Instruct",
		"gpu_count":             float64(2),
		"max_images_per_prompt": float64(6),
		"runtime_args":          []interface{}{" --enforce-eager "},
	})
	require.NoError(t, err)
	assert.Equal(t, "qwen-vl", cfg.Name)
	assert.Equal(t, 2, cfg.GPUCount)
	assert.Equal(t, 6, cfg.MaxImagesPerPrompt)
	assert.Zero(t, cfg.MaxModelLen)
	assert.Equal(t, []string{"--enforce-eager"}, cfg.RuntimeArgs)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing name", map[string]interface{}{"model_uri": "hf://x"}, "model_name is required"},
		{"missing uri", map[string]interface{}{"model_name": "x"}, "model_uri is required"},
		{"negative gpus", map[string]interface{}{"model_name": "x", "model_uri": "hf://x", "gpu_count": float64(-1)}, "must not be negative"},
		{"non-string arg", map[string]interface{}{"model_name": "x", "model_uri": "hf://x", "runtime_args": []interface{}{1.0}}, "array of strings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := deploymentConfig(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestModelHandlersNoManager(t *testing.T) {
	sc := &server.ServerContext{}
	args := callRequest(map[string]interface{}{"model_name": "test", "model_uri": "hf://org/model"})

	for name, handler := range map[string]func(context.Context, mcp.CallToolRequest, *server.ServerContext) (*mcp.CallToolResult, error){
		"deploy":   handleDeployGraderModel,
		"teardown": handleTeardownGraderModel,
		"list":     handleListGraderModels,
	} {
		t.Run(name, func(t *testing.T) {
			result, err := handler(context.Background(), args, sc)
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), "KServe manager is not configured")
		})
	}
}

func newFakeKServe(objects ...runtime.Object) *kserve.Manager {
	gvr := schema.GroupVersionResource{Group: "serving.kserve.io", Version: "v1beta1", Resource: "inferenceservices"}
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{gvr: "InferenceServiceList"},
		objects...,
	)
	return kserve.NewManagerWithClient(client, "grading")
}

func readyGrader(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "serving.kserve.io/v1beta1",
			"kind":       "InferenceService",
			"metadata": map[string]interface{}{
				"name":      name,
				"namespace": "grading",
				"labels": map[string]interface{}{
					"app.kubernetes.io/managed-by": "lab-grader",
				},
			},
			"status": map[string]interface{}{
				"conditions": []interface{}{
					map[string]interface{}{"type": "Ready", "status": "True"},
				},
				"url": "http://" + name + ".grading.example.com/v1",
			},
		},
	}
}

func TestModelHandlersWithManager(t *testing.T) {
	sc := &server.ServerContext{KServeManager: newFakeKServe(readyGrader("qwen-vl"))}

	result, err := handleDeployGraderModel(context.Background(), callRequest(map[string]interface{}{
		"model_name": "qwen-vl",
		"model_uri":  "hf://Qwen/Qwen2-VL-7B-Instruct",
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), "http://qwen-vl.grading.example.com/v1")

	result, err = handleListGraderModels(context.Background(), mcp.CallToolRequest{}, sc)
	require.NoError(t, err)
	var statuses []kserve.DeploymentStatus
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &statuses))
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Ready)

	result, err = handleTeardownGraderModel(context.Background(), callRequest(map[string]interface{}{"model_name": "qwen-vl"}), sc)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "deleted")
}

func TestGradingClientPrefersEndpoint(t *testing.T) {
	fallback := &testutil.MockLLMClient{}
	sc := &server.ServerContext{LLMClient: fallback, KServeManager: newFakeKServe(readyGrader("qwen-vl"))}

	c := gradingClient(context.Background(), map[string]interface{}{"endpoint": "http://localhost:9000/v1"}, sc, "qwen-vl")
	assert.NotSame(t, fallback, c)

	c = gradingClient(context.Background(), map[string]interface{}{}, sc, "qwen-vl")
	_, isFallback := c.(*testutil.MockLLMClient)
	assert.False(t, isFallback, "ready deployment should be auto-discovered")

	c = gradingClient(context.Background(), map[string]interface{}{}, sc, "not-deployed")
	assert.Same(t, fallback, c)
}
