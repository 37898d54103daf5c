// Package inference calls an OpenAI-compatible vision-language endpoint with
// a text prompt and a set of image URLs, returning the raw response text.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultAPIURL = "https://api.openai.com/v1/chat/completions"
	defaultModel  = "gpt-4o"
)

// ErrMissingAPIKey is returned before any network I/O when the client has no
// credentials configured.
var ErrMissingAPIKey = errors.New("inference API key is not configured")

// APIError is an error object reported inside the endpoint's response payload.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inference API error: %s", e.Message)
}

// TransportError reports an HTTP-level failure: a non-2xx status or a failed
// network call.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference transport error: %v", e.Err)
	}
	return fmt.Sprintf("inference transport error: status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Config struct {
	APIKey  string
	APIURL  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Client{
		apiKey:     config.APIKey,
		apiURL:     config.APIURL,
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Infer makes exactly one chat-completion call carrying the prompt and every
// image URL, and returns the raw text of the first choice.
func (c *Client) Infer(ctx context.Context, prompt string, imageURLs []string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if len(imageURLs) == 0 {
		return "", fmt.Errorf("at least one image URL is required")
	}

	content := make([]contentPart, 0, len(imageURLs)+1)
	content = append(content, contentPart{Type: "text", Text: prompt})
	for _, url := range imageURLs {
		content = append(content, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: url},
		})
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: content},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	log.Debug().Int("images", len(imageURLs)).Str("model", c.model).Msg("calling inference endpoint")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Err: err}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", &TransportError{StatusCode: resp.StatusCode}
		}
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if parsed.Error != nil {
		return "", &APIError{Message: parsed.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TransportError{StatusCode: resp.StatusCode}
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("inference response contained no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
