package llm

import (
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIClientDefaults(t *testing.T) {
	client := NewOpenAIClient()
	assert.Empty(t, client.model)
	assert.Nil(t, client.temperature)
}

func TestNewOpenAIClientWithAllOptions(t *testing.T) {
	client := NewOpenAIClient(
		WithBaseURL("https://api.example.com/v1"),
		WithAPIKey("sk-test"),
		WithModel("qwen-vl-max"),
		WithTemperature(0.5),
		WithTimeout(time.Minute),
	)
	assert.Equal(t, "qwen-vl-max", client.model)
	require.NotNil(t, client.temperature)
	assert.Equal(t, 0.5, *client.temperature)
}

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		req      ChatRequest
		wantMdl  string
		wantTemp *float64
	}{
		{
			name:    "client model fills empty request model",
			opts:    []Option{WithModel("grader")},
			req:     ChatRequest{UserMessage: "hello"},
			wantMdl: "grader",
		},
		{
			name:    "request model takes precedence",
			opts:    []Option{WithModel("grader")},
			req:     ChatRequest{Model: "other"},
			wantMdl: "other",
		},
		{
			name:     "client temperature fills unset temperature",
			opts:     []Option{WithTemperature(0.8)},
			req:      ChatRequest{Model: "m"},
			wantMdl:  "m",
			wantTemp: Float64Ptr(0.8),
		},
		{
			name:     "explicit zero temperature is kept",
			opts:     []Option{WithTemperature(0.8)},
			req:      ChatRequest{Model: "m", Temperature: Float64Ptr(0)},
			wantMdl:  "m",
			wantTemp: Float64Ptr(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewOpenAIClient(tt.opts...).applyDefaults(tt.req)
			assert.Equal(t, tt.wantMdl, req.Model)
			assert.Equal(t, tt.wantTemp, req.Temperature)
		})
	}
}

func TestBuildRequestTextOnly(t *testing.T) {
	client := NewOpenAIClient(WithModel("grader"))

	req := client.buildRequest(ChatRequest{UserMessage: "grade this"})

	assert.Equal(t, "grader", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[0].Role)
	assert.Equal(t, "grade this", req.Messages[0].Content)
	assert.Empty(t, req.Messages[0].MultiContent)
	assert.Nil(t, req.ResponseFormat)
	assert.Zero(t, req.Temperature)
}

func TestBuildRequestWithSystemMessageAndJSONMode(t *testing.T) {
	client := NewOpenAIClient()

	req := client.buildRequest(ChatRequest{
		Model:         "m",
		SystemMessage: "you grade lab reports",
		UserMessage:   "prompt",
		Temperature:   Float64Ptr(0.2),
		JSONMode:      true,
	})

	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
}

func TestBuildRequestWithImages(t *testing.T) {
	client := NewOpenAIClient()

	req := client.buildRequest(ChatRequest{
		Model:       "m",
		UserMessage: "prompt",
		ImageURLs:   []string{"https://x/a.png", "https://x/b.png"},
	})

	require.Len(t, req.Messages, 1)
	msg := req.Messages[0]
	assert.Empty(t, msg.Content)
	require.Len(t, msg.MultiContent, 3)
	assert.Equal(t, openai.ChatMessagePartTypeText, msg.MultiContent[0].Type)
	assert.Equal(t, "prompt", msg.MultiContent[0].Text)
	assert.Equal(t, "https://x/a.png", msg.MultiContent[1].ImageURL.URL)
	assert.Equal(t, "https://x/b.png", msg.MultiContent[2].ImageURL.URL)
}
