// Package llm holds the one-shot decision client for an OpenAI-style
// chat-completions endpoint, the prompt builder, and the vision model
// whitelist. One Decide call equals one model decision.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Usage accumulates token accounting across a run. Monotonic.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
	Calls            int `json:"calls"`
}

// Add folds another usage sample in.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Calls += other.Calls
}

// Config identifies the endpoint, model, and sampling parameters.
type Config struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	MaxTokens        int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

// ErrTruncated means the model hit the completion-token limit; the
// response is unusable and the caller should surface the budget hint.
var ErrTruncated = errors.New("response truncated: raise max_completion_tokens or shorten the prompt")

// ErrEmptyResponse means the endpoint returned no usable content.
var ErrEmptyResponse = errors.New("llm returned empty content")

// TransientError marks failures worth retrying (rate limits, upstream
// 5xx, connection resets).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient llm failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

const (
	maxAttempts    = 3
	backoffBase    = time.Second
	requestTimeout = 120 * time.Second
)

// Client is a minimal chat-completions client with retry and optional
// vision attachment.
type Client struct {
	cfg  Config
	http *http.Client

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewClient builds a client from config. BaseURL defaults to the
// OpenAI public endpoint.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: requestTimeout},
		sleep: time.Sleep,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []chatMessage   `json:"messages"`
	Temperature         float64         `json:"temperature"`
	MaxCompletionTokens int             `json:"max_completion_tokens"`
	TopP                *float64        `json:"top_p,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Decide performs one decision call and returns the model's JSON along
// with the usage sample. A non-nil screenshot is attached as a JPEG
// data URL content part; JSON response mode is requested only without a
// screenshot because providers widely mishandle JSON mode plus vision.
func (c *Client) Decide(ctx context.Context, system, user string, screenshot []byte) (json.RawMessage, Usage, error) {
	var userContent any = user
	if len(screenshot) > 0 {
		userContent = []contentPart{
			{Type: "text", Text: user},
			{Type: "image_url", ImageURL: &imageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(screenshot),
			}},
		}
	}

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: userContent},
		},
		Temperature:         c.cfg.Temperature,
		MaxCompletionTokens: c.cfg.MaxTokens,
		TopP:                c.cfg.TopP,
		FrequencyPenalty:    c.cfg.FrequencyPenalty,
		PresencePenalty:     c.cfg.PresencePenalty,
	}
	if len(screenshot) == 0 {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Usage{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, usage, err := c.post(ctx, payload)
		if err == nil {
			return raw, usage, nil
		}
		lastErr = err

		var transient *TransientError
		if !errors.As(err, &transient) {
			return nil, usage, err
		}
		if attempt < maxAttempts {
			c.sleep(backoffBase << (attempt - 1))
		}
	}
	return nil, Usage{}, lastErr
}

func (c *Client) post(ctx context.Context, payload []byte) (json.RawMessage, Usage, error) {
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, Usage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTransientNetErr(err) {
			return nil, Usage{}, &TransientError{Err: err}
		}
		return nil, Usage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		httpErr := fmt.Errorf("chat completion failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode >= 500 {
			return nil, Usage{}, &TransientError{Err: httpErr}
		}
		return nil, Usage{}, httpErr
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, Usage{}, err
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
		Calls:            1,
	}

	if len(parsed.Choices) == 0 {
		return nil, usage, ErrEmptyResponse
	}
	choice := parsed.Choices[0]
	if choice.FinishReason == "length" {
		return nil, usage, ErrTruncated
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, usage, ErrEmptyResponse
	}

	raw, err := parseJSONObject(content)
	if err != nil {
		return nil, usage, err
	}
	return raw, usage, nil
}

var transientNetPatterns = []string{
	"econnreset", "etimedout", "socket hang up", "fetch failed",
	"connection reset", "connection refused", "timeout",
}

func isTransientNetErr(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range transientNetPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// parseJSONObject accepts the content verbatim when it is valid JSON;
// otherwise it tries the first {...} block (models occasionally wrap
// the object in prose or a code fence despite instructions).
func parseJSONObject(content string) (json.RawMessage, error) {
	if json.Valid([]byte(content)) {
		return json.RawMessage(content), nil
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in llm response")
	}
	snippet := content[start : end+1]
	if !json.Valid([]byte(snippet)) {
		return nil, fmt.Errorf("llm response is not valid JSON")
	}
	return json.RawMessage(snippet), nil
}
