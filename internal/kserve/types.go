package kserve

import (
	"fmt"
	"time"
)

const (
	// DefaultRuntime is the KServe serving runtime used for grader models.
	DefaultRuntime = "kserve-vllm"

	// DefaultReadyTimeout covers pulling a multi-gigabyte vision model.
	DefaultReadyTimeout = 15 * time.Minute
)

// DeploymentConfig describes a self-hosted grading model served through a
// KServe InferenceService.
type DeploymentConfig struct {
	// Name is the identifier for the InferenceService resource. It is also
	// the model name the OpenAI-compatible endpoint answers to.
	Name string

	// ModelURI is the model storage URI (e.g. "hf://Qwen/Qwen2-VL-7B-Instruct").
	ModelURI string

	Runtime  string
	GPUCount int

	// MaxImagesPerPrompt caps how many screenshots vLLM accepts in a single
	// grading prompt. Zero leaves the runtime default.
	MaxImagesPerPrompt int

	// MaxModelLen bounds the context window; grading prompts with many
	// tools and images get long. Zero leaves the runtime default.
	MaxModelLen int

	// RuntimeArgs are additional arguments passed to the vLLM runtime.
	RuntimeArgs []string

	ReadyTimeout time.Duration
}

// DeploymentStatus represents the observed state of a grader deployment.
type DeploymentStatus struct {
	Name        string `json:"name"`
	ModelURI    string `json:"model_uri,omitempty"`
	Ready       bool   `json:"ready"`
	EndpointURL string `json:"endpoint_url,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	Message     string `json:"message,omitempty"`
}

// DefaultDeploymentConfig returns defaults for a vision-capable grading
// model on a single GPU.
func DefaultDeploymentConfig(name, modelURI string) DeploymentConfig {
	return DeploymentConfig{
		Name:               name,
		ModelURI:           modelURI,
		Runtime:            DefaultRuntime,
		GPUCount:           1,
		MaxImagesPerPrompt: 4,
		ReadyTimeout:       DefaultReadyTimeout,
	}
}

// Args returns the runtime arguments for the deployment.
func (c DeploymentConfig) Args() []string {
	var args []string
	if c.MaxImagesPerPrompt > 0 {
		args = append(args, fmt.Sprintf("--limit-mm-per-prompt=image=%d", c.MaxImagesPerPrompt))
	}
	if c.MaxModelLen > 0 {
		args = append(args, fmt.Sprintf("--max-model-len=%d", c.MaxModelLen))
	}
	return append(args, c.RuntimeArgs...)
}
