package llm

import "time"

// Float64Ptr returns a pointer to v, for ChatRequest.Temperature.
func Float64Ptr(v float64) *float64 {
	return &v
}

type clientConfig struct {
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
	timeout     time.Duration
}

// Option configures an OpenAIClient.
type Option func(*clientConfig)

// WithBaseURL points the client at an OpenAI-compatible API, e.g. a
// DashScope compatible-mode endpoint or a vLLM InferenceService.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) { c.apiKey = key }
}

// WithModel sets the model used when a request names none.
func WithModel(model string) Option {
	return func(c *clientConfig) { c.model = model }
}

// WithTemperature sets the temperature used when a request leaves it unset.
func WithTemperature(temp float64) Option {
	return func(c *clientConfig) { c.temperature = &temp }
}

// WithTimeout bounds each HTTP request. Vision models reading several
// screenshots routinely take over a minute, so zero (no timeout) is the
// default and callers usually rely on the context instead.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}
