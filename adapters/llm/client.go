package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gokpi/ports"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Config holds the OpenAI-compatible endpoint settings
type Config struct {
	APIKey         string
	BaseURL        string // default https://api.openai.com/v1
	ChatModel      string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
}

// NewClient creates an LLM client for an OpenAI-compatible API
func NewClient(config Config) (ports.LLMClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}
	baseURL := strings.TrimSpace(config.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		APIKey:      config.APIKey,
		BaseURL:     baseURL,
		Temperature: config.Temperature,
		http:        &http.Client{Timeout: config.Timeout},
	}, nil
}

// MockLLMClient is a canned LLM client for tests
type MockLLMClient struct {
	Response string
	Vectors  map[string][]float64
	Error    error
	Calls    int
}

func (m *MockLLMClient) ChatCompletion(ctx context.Context, model string, prompt string, maxTokens int) (*ports.LLMResponse, error) {
	m.Calls++
	if m.Error != nil {
		return nil, m.Error
	}
	return &ports.LLMResponse{
		Content: m.Response,
		Usage:   &ports.UsageData{Model: model, Provider: "mock"},
	}, nil
}

func (m *MockLLMClient) Embeddings(ctx context.Context, model string, texts []string) ([][]float64, error) {
	m.Calls++
	if m.Error != nil {
		return nil, m.Error
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := m.Vectors[t]
		if !ok {
			return nil, fmt.Errorf("no mock vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

// OpenAIClient implements ports.LLMClient against the chat completions and
// embeddings endpoints
type OpenAIClient struct {
	APIKey      string
	BaseURL     string
	Temperature float64
	http        *http.Client
}

func (c *OpenAIClient) ChatCompletion(ctx context.Context, model string, prompt string, maxTokens int) (*ports.LLMResponse, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("missing model")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	body := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature,omitempty"`
		MaxTokens   int     `json:"max_tokens,omitempty"`
	}{
		Model: model,
		Messages: []msg{
			{Role: "system", Content: "You are a business analyst. Be concise and only state what the data supports."},
			{Role: "user", Content: prompt},
		},
		Temperature: c.Temperature,
		MaxTokens:   maxTokens,
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := c.post(ctx, "/chat/completions", body, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("openai response missing choices")
	}
	return &ports.LLMResponse{
		Content: decoded.Choices[0].Message.Content,
		Usage: &ports.UsageData{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
			Model:            model,
			Provider:         "openai",
		},
	}, nil
}

func (c *OpenAIClient) Embeddings(ctx context.Context, model string, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: model, Input: texts}

	var decoded struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", body, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(decoded.Data), len(texts))
	}
	out := make([][]float64, len(texts))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body, into interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openai http %d: %s", resp.StatusCode, errorMessage(respRaw))
	}
	if err := json.Unmarshal(respRaw, into); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// errorMessage pulls error.message out of an API error body, falling back to
// the raw body for non-standard errors
func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	return strings.TrimSpace(string(body))
}
