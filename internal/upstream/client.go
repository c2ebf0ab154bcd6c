package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/quillback/research-relay/internal/domain"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultAgent   = "deep-research-pro-preview-12-2025"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAgent overrides the research agent an interaction is created with.
func WithAgent(agent string) ClientOption {
	return func(c *Client) {
		c.agent = agent
	}
}

// Client talks to the research-agent interactions API. One instance is shared
// by all queries; it holds no per-interaction state.
type Client struct {
	apiKey     string
	baseURL    string
	agent      string
	httpClient *http.Client
}

// NewClient creates a new interactions API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		agent:      defaultAgent,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamResult wraps an event or error from an interaction stream.
type StreamResult struct {
	Event domain.Event
	Err   error
}

// CreateInteraction opens a new background interaction for prompt and returns
// its event stream. The stream ends when the upstream closes the connection,
// which is not the same thing as the interaction being complete.
func (c *Client) CreateInteraction(ctx context.Context, prompt string) (<-chan StreamResult, error) {
	body, err := json.Marshal(&CreateInteractionRequest{
		Input:      prompt,
		Agent:      c.agent,
		Background: true,
		Stream:     true,
		AgentConfig: &AgentConfig{
			Type:              "deep-research",
			ThinkingSummaries: "auto",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	return c.openStream(httpReq)
}

// ResumeInteraction reopens the event stream of an existing interaction,
// starting just after lastEventID. An empty lastEventID replays from the
// beginning.
func (c *Client) ResumeInteraction(ctx context.Context, interactionID, lastEventID string) (<-chan StreamResult, error) {
	q := url.Values{}
	q.Set("stream", "true")
	if lastEventID != "" {
		q.Set("last_event_id", lastEventID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/interactions/"+url.PathEscape(interactionID)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	return c.openStream(httpReq)
}

// GetInteraction fetches the interaction's persisted state without streaming.
func (c *Client) GetInteraction(ctx context.Context, interactionID string) (*Interaction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/interactions/"+url.PathEscape(interactionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if apiErr := parseErrorResponse(respBody); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result Interaction
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interaction: %w", err)
	}

	return &result, nil
}

func (c *Client) openStream(httpReq *http.Request) (<-chan StreamResult, error) {
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

	out := make(chan StreamResult)
	go c.streamReader(resp.Body, out)
	return out, nil
}

func (c *Client) streamReader(body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Research deltas can be large; grow the line buffer accordingly.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var evt domain.Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			out <- StreamResult{Err: fmt.Errorf("failed to unmarshal event: %w", err)}
			return
		}

		out <- StreamResult{Event: evt}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamResult{Err: fmt.Errorf("stream read error: %w", err)}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("User-Agent", "research-relay/1.0")
}

func parseErrorResponse(body []byte) *APIError {
	var wrapper struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Error == nil || wrapper.Error.Message == "" {
		return nil
	}
	return wrapper.Error
}
