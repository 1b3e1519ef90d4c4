package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/menta2k/object-detector/pkg/processing"
	"github.com/menta2k/object-detector/pkg/prompt"
	"github.com/menta2k/object-detector/pkg/types"
)

// Config holds the request settings for an Ollama backed engine
type Config struct {
	URL         string
	Model       string
	SendFormat  string
	SendSize    int
	SendQuality int
	Timeout     time.Duration
}

// Client detects objects by sending frames to an Ollama vision model
type Client struct {
	client *api.Client
	config Config
	opts   types.DetectorOptions
}

// NewClient creates a new Ollama client
func NewClient(cfg Config, opts types.DetectorOptions) (*Client, error) {
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.Errorf("invalid URL: %q", cfg.URL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}

	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		config: cfg,
		opts:   opts,
	}, nil
}

// Analyze converts the frame to an upright image, asks the model for objects
// and maps its answer back to frame pixels
func (c *Client) Analyze(ctx context.Context, frame types.AssembledFrame) ([]types.DetectionResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	img, err := processing.FrameToImage(frame)
	if err != nil {
		return nil, err
	}
	sent, scale := processing.Fit(img, c.config.SendSize)
	imgBytes, _, err := processing.EncodeForModel(sent, c.config.SendFormat, c.config.SendQuality)
	if err != nil {
		return nil, err
	}

	streamFalse := false
	options := map[string]any{}

	modelLower := strings.ToLower(c.config.Model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["temperature"] = 0.7
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}

	req := &api.ChatRequest{
		Model: c.config.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt.For(c.opts),
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Options: options,
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "ollama chat")
	}
	if responseContent == "" {
		return nil, errors.New("empty response from ollama")
	}

	w, h := frame.UprightSize()
	results, err := prompt.ParseObjects(responseContent, w, h, scale)
	if err != nil {
		return nil, err
	}
	return prompt.Apply(results, c.opts), nil
}

// Close releases nothing; the HTTP client is shared
func (c *Client) Close() error {
	return nil
}
