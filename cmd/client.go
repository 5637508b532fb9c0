package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/lab-grader/internal/kserve"
	"github.com/giantswarm/lab-grader/internal/llm"
)

// llmRequestTimeout caps one grading request; a stuck model server must not
// hold a step forever when no overall --timeout is set.
const llmRequestTimeout = 5 * time.Minute

// newLLMClientFromFlags creates an LLM client from common CLI flags.
// It checks the endpoint and apiKey flags, falling back to the OPENAI_API_KEY
// environment variable when no explicit key is provided.
func newLLMClientFromFlags(endpoint, apiKey, model string) llm.Client {
	opts := []llm.Option{llm.WithTimeout(llmRequestTimeout)}
	if endpoint != "" {
		opts = append(opts, llm.WithBaseURL(endpoint))
	}
	if apiKey != "" {
		opts = append(opts, llm.WithAPIKey(apiKey))
	} else if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		opts = append(opts, llm.WithAPIKey(envKey))
	}
	if model != "" {
		opts = append(opts, llm.WithModel(model))
	}
	return llm.NewOpenAIClient(opts...)
}

// newKServeManagerFromFlags builds a KServe manager from the persistent
// --namespace and --kubeconfig flags.
func newKServeManagerFromFlags(cmd *cobra.Command, inCluster bool) (*kserve.Manager, error) {
	namespace, _ := cmd.Flags().GetString("namespace")
	kubeconfig, _ := cmd.Flags().GetString("kubeconfig")

	m, err := kserve.NewManager(namespace, kubeconfig, inCluster)
	if err != nil {
		return nil, fmt.Errorf("failed to create KServe manager: %w", err)
	}
	return m, nil
}
