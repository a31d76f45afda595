package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dwizi/listing-intake/internal/llm"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Client struct {
	cfg    Config
	client *sdk.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)
	return &Client{
		cfg:    cfg,
		client: &client,
		logger: logger.With("component", "llm.anthropic"),
	}
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	response, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		c.logger.Error("anthropic request failed", "error", err)
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}

func (c *Client) Stream(ctx context.Context, req llm.Request, onFragment func(string)) error {
	if err := c.ready(); err != nil {
		return err
	}
	stream := c.client.Messages.NewStreaming(ctx, c.params(req))
	defer stream.Close()
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" && onFragment != nil {
					onFragment(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		c.logger.Warn("anthropic stream failed", "error", err)
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}

func (c *Client) ready() error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return fmt.Errorf("%w: missing anthropic api key", llm.ErrUnavailable)
	}
	return nil
}

func (c *Client) params(req llm.Request) sdk.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.cfg.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: sdk.Float(req.Temperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	return params
}
