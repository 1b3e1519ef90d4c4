package llamacpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/menta2k/object-detector/pkg/processing"
	"github.com/menta2k/object-detector/pkg/prompt"
	"github.com/menta2k/object-detector/pkg/types"
)

// Config holds the request settings for a llama.cpp backed engine
type Config struct {
	URL         string
	Model       string
	SendFormat  string
	SendSize    int
	SendQuality int
	Timeout     time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	config     Config
	opts       types.DetectorOptions
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

func NewClient(cfg Config, opts types.DetectorOptions) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		opts:   opts,
	}, nil
}

func (c *Client) Analyze(ctx context.Context, frame types.AssembledFrame) ([]types.DetectionResult, error) {
	img, err := processing.FrameToImage(frame)
	if err != nil {
		return nil, err
	}
	sent, scale := processing.Fit(img, c.config.SendSize)
	imgBytes, mime, err := processing.EncodeForModel(sent, c.config.SendFormat, c.config.SendQuality)
	if err != nil {
		return nil, err
	}

	req := ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: prompt.For(c.opts)},
					{Type: "image_url", ImageURL: &ImageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(imgBytes)}},
				},
			},
		},
		Temperature: 0.2,
		MaxTokens:   2048,
		TopP:        0.8,
		Stream:      false,
	}

	respBody, err := c.sendRequest(ctx, "/v1/chat/completions", req)
	if err != nil {
		return nil, err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrap(err, "parse chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	responseText := textContent(resp.Choices[0].Message.Content)
	if responseText == "" {
		return nil, errors.New("empty response from llama.cpp server")
	}

	w, h := frame.UprightSize()
	results, err := prompt.ParseObjects(responseText, w, h, scale)
	if err != nil {
		return nil, err
	}
	return prompt.Apply(results, c.opts), nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// textContent handles both string and content-part array answers
func textContent(content interface{}) string {
	switch content := content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
