// Package provider is a minimal client for OpenAI-compatible text and image
// generation endpoints. One call in, one outcome out: no retries, no
// streaming, no provider abstraction.
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Outcome classifies a provider response by the shape of its JSON body.
type Outcome int

const (
	// OutcomeSuccess means the body carried a usable payload.
	OutcomeSuccess Outcome = iota
	// OutcomeProviderError means the remote returned a structured error.
	OutcomeProviderError
	// OutcomeUnexpected means the body was neither a payload nor a
	// structured error. Reportable, never a crash.
	OutcomeUnexpected
)

// Result is the classified outcome of one provider call.
type Result struct {
	Outcome      Outcome
	Text         string          // completion/chat content on success
	ImageURLs    []string        // image URLs on success
	ErrorMessage string          // remote message on provider error
	Raw          json.RawMessage // full response body, for debug logging
}

// ChatMessage is one role/content pair submitted to the chat endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds the endpoint and model parameters for a Client.
type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	ImageCount       int
	ImageSize        string
	TLSSkipVerify    bool
}

// Client performs single-shot calls against an OpenAI-compatible API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a provider client. TLS verification can be disabled for
// self-hosted endpoints with self-signed certificates.
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}
	if cfg.TLSSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{cfg: cfg, httpClient: httpClient}
}

type completionRequest struct {
	Model            string  `json:"model"`
	Prompt           string  `json:"prompt"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

// apiResponse covers all three endpoints. Which fields are present decides
// the classification; the HTTP status is deliberately ignored, matching the
// wire behavior this bot has always had.
type apiResponse struct {
	Choices []struct {
		Text    string `json:"text"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete submits a single prompt to the legacy completions endpoint.
func (c *Client) Complete(ctx context.Context, prompt string) (Result, error) {
	body := completionRequest{
		Model:            c.cfg.Model,
		Prompt:           prompt,
		Temperature:      c.cfg.Temperature,
		MaxTokens:        c.cfg.MaxTokens,
		TopP:             c.cfg.TopP,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		PresencePenalty:  c.cfg.PresencePenalty,
	}
	raw, err := c.post(ctx, "/completions", body)
	if err != nil {
		return Result{}, err
	}
	return classifyText(raw, false), nil
}

// Chat submits an ordered message list to the chat completions endpoint.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (Result, error) {
	body := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	}
	raw, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return Result{}, err
	}
	return classifyText(raw, true), nil
}

// GenerateImages submits a prompt to the image generation endpoint and
// returns the resulting image URLs.
func (c *Client) GenerateImages(ctx context.Context, prompt string) (Result, error) {
	body := imageRequest{
		Prompt: prompt,
		N:      c.cfg.ImageCount,
		Size:   c.cfg.ImageSize,
	}
	raw, err := c.post(ctx, "/images/generations", body)
	if err != nil {
		return Result{}, err
	}
	return classifyImages(raw), nil
}

// post performs one JSON request and returns the raw response body. Errors
// are transport-level only; response classification happens on the body.
func (c *Client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: read response: %w", err)
	}
	return raw, nil
}

func classifyText(raw json.RawMessage, chat bool) Result {
	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{Outcome: OutcomeUnexpected, Raw: raw}
	}

	switch {
	case resp.Choices != nil:
		result := Result{Outcome: OutcomeSuccess, Raw: raw}
		if len(resp.Choices) > 0 {
			if chat {
				result.Text = resp.Choices[0].Message.Content
			} else {
				result.Text = resp.Choices[0].Text
			}
		}
		return result
	case resp.Error != nil:
		return Result{Outcome: OutcomeProviderError, ErrorMessage: resp.Error.Message, Raw: raw}
	default:
		return Result{Outcome: OutcomeUnexpected, Raw: raw}
	}
}

func classifyImages(raw json.RawMessage) Result {
	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{Outcome: OutcomeUnexpected, Raw: raw}
	}

	switch {
	case resp.Data != nil:
		result := Result{Outcome: OutcomeSuccess, Raw: raw}
		for _, item := range resp.Data {
			result.ImageURLs = append(result.ImageURLs, item.URL)
		}
		return result
	case resp.Error != nil:
		return Result{Outcome: OutcomeProviderError, ErrorMessage: resp.Error.Message, Raw: raw}
	default:
		return Result{Outcome: OutcomeUnexpected, Raw: raw}
	}
}
