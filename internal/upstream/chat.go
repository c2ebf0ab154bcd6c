package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ChatMessage is one turn of an OpenAI-compatible chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the subset of the chat completions API the proxy
// forwards.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ChatResult wraps a content delta or error from a chat stream.
type ChatResult struct {
	Delta string
	Err   error
}

// ChatClient streams chat completions from an OpenAI-compatible backend.
type ChatClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// ChatOption configures the chat client.
type ChatOption func(*ChatClient)

// WithChatHTTPClient sets a custom HTTP client.
func WithChatHTTPClient(httpClient *http.Client) ChatOption {
	return func(c *ChatClient) {
		c.httpClient = httpClient
	}
}

// NewChatClient creates a chat completions client for baseURL.
func NewChatClient(baseURL, apiKey string, opts ...ChatOption) *ChatClient {
	c := &ChatClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamChatCompletion sends a streaming chat completion request and returns
// a channel of content deltas. The channel closes on [DONE] or stream error.
func (c *ChatClient) StreamChatCompletion(ctx context.Context, req *ChatCompletionRequest) (<-chan ChatResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		if apiErr := parseErrorResponse(respBody); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	out := make(chan ChatResult)
	go c.streamReader(resp.Body, out)
	return out, nil
}

func (c *ChatClient) streamReader(body io.ReadCloser, out chan<- ChatResult) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			return
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			out <- ChatResult{Err: fmt.Errorf("failed to unmarshal chunk: %w", err)}
			return
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			out <- ChatResult{Delta: chunk.Choices[0].Delta.Content}
		}
	}

	if err := scanner.Err(); err != nil {
		out <- ChatResult{Err: fmt.Errorf("stream read error: %w", err)}
	}
}
