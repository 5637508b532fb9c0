// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/giantswarm/lab-grader/internal/llm"
)

// MockLLMClient is a configurable mock for llm.Client used across test packages.
// It is safe for concurrent use.
type MockLLMClient struct {
	// Responses maps a substring of the user message to a canned response.
	// The first key found in the prompt wins; keys should not overlap.
	Responses map[string]string

	// DefaultResponse is returned when no key in Responses matches.
	DefaultResponse string

	// Err, when set, is returned by every ChatCompletion call.
	Err error

	mu       sync.Mutex
	calls    int
	requests []llm.ChatRequest
}

func (m *MockLLMClient) ChatCompletion(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	for key, resp := range m.Responses {
		if key != "" && strings.Contains(req.UserMessage, key) {
			return &llm.ChatResponse{Content: resp}, nil
		}
	}

	if m.DefaultResponse != "" {
		return &llm.ChatResponse{Content: m.DefaultResponse}, nil
	}

	return &llm.ChatResponse{Content: "mock response"}, nil
}

func (m *MockLLMClient) ChatCompletionStream(_ context.Context, _ llm.ChatRequest) (*llm.StreamReader, error) {
	return nil, fmt.Errorf("streaming not supported in mock")
}

// Calls returns the number of ChatCompletion invocations.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request received, in arrival order.
func (m *MockLLMClient) Requests() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ChatRequest(nil), m.requests...)
}

// LastRequest returns the most recent request.
func (m *MockLLMClient) LastRequest() llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.ChatRequest{}
	}
	return m.requests[len(m.requests)-1]
}
