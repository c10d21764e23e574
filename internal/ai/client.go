package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"blog-content-engine/internal/config"
)

// Generator is the provider surface the pipeline consumes. Tests
// substitute it with stubs instead of resetting shared process state.
type Generator interface {
	// GenerateJSON requests a structured (json_schema) completion and
	// returns the parsed object plus total token usage.
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, int, error)
	// GenerateImage returns raw image bytes for the prompt.
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	// Model identifies the text model for logging.
	Model() string
}

// Client talks to an OpenAI-compatible provider over HTTPS.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	imageModel string
	imageSize  string
	httpClient *http.Client
	maxRetries int
	log        *zap.SugaredLogger
}

// NewClient builds a provider client from config. The API key is
// validated upstream; an empty one here is a programming error.
func NewClient(cfg config.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.ProviderBaseURL, "/"),
		apiKey:     cfg.ProviderAPIKey,
		model:      cfg.TextModel,
		imageModel: cfg.ImageModel,
		imageSize:  cfg.ImageSize,
		httpClient: &http.Client{Timeout: cfg.ProviderTimeout},
		maxRetries: 3,
		log:        log.With("component", "ai"),
	}
}

func (c *Client) Model() string { return c.model }

type responsesRequest struct {
	Model string          `json:"model"`
	Input []promptMessage `json:"input"`
	Text  *textFormat     `json:"text,omitempty"`
}

type promptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textFormat struct {
	Format map[string]any `json:"format"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

// GenerateJSON asks for a completion constrained to the given schema.
// Downstream parsing depends on valid structured data, so free-text
// answers are never requested here.
func (c *Client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, int, error) {
	if schemaName == "" || schema == nil {
		return nil, 0, fmt.Errorf("structured generation requires a named schema")
	}
	req := responsesRequest{
		Model: c.model,
		Input: []promptMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Text: &textFormat{Format: map[string]any{
			"type":   "json_schema",
			"name":   schemaName,
			"schema": schema,
			"strict": true,
		}},
	}

	var resp responsesResponse
	if err := c.do(ctx, "POST", "/v1/responses", req, &resp); err != nil {
		return nil, 0, err
	}
	if resp.Refusal != "" {
		return nil, 0, fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return nil, 0, fmt.Errorf("no output_text in provider response")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, 0, fmt.Errorf("parse structured output: %w; text=%s", err, text)
	}
	return obj, resp.Usage.TotalTokens, nil
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// GenerateImage renders one image for the prompt and returns its bytes,
// downloading from the URL variant if the provider declines base64.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	req := imageRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: "b64_json",
	}
	var resp imageResponse
	if err := c.do(ctx, "POST", "/v1/images/generations", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("provider returned no image data")
	}
	if b64 := resp.Data[0].B64JSON; b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode image base64: %w", err)
		}
		return raw, nil
	}
	if url := resp.Data[0].URL; url != "" {
		return c.download(ctx, url)
	}
	return nil, fmt.Errorf("provider returned neither base64 nor url image data")
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download generated image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: "image download failed"}
	}
	return io.ReadAll(resp.Body)
}

// do runs one provider call with transient retries. Rate-limit and
// payment errors return immediately; the queue runner decides how long
// to hold the claimed job for those.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("decode provider response: %w; raw=%s", uErr, truncate(string(raw), 512))
			}
			return nil
		}
		if IsRateLimited(err) || IsPaymentRequired(err) || !isRetryable(err) || attempt == c.maxRetries {
			return err
		}
		sleep := retryAfter(resp, backoff, 10*time.Second)
		c.log.Warnw("provider request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleep.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return resp, raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
