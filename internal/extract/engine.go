package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/catalog"
	"github.com/dwizi/listing-intake/internal/llm"
)

type EngineConfig struct {
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
}

type Engine struct {
	provider llm.Provider
	cfg      EngineConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewEngine(provider llm.Provider, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	engine := &Engine{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("component", "extract"),
	}
	if cfg.RequestsPerMinute > 0 {
		engine.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return engine
}

// Extract asks the model for a JSON description of the listing in content.
// The streamed response is preferred; a failed or empty stream falls back
// to one non-streamed call.
func (e *Engine) Extract(ctx context.Context, content string, known catalog.Catalog) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", apperr.New(apperr.KindExtraction, "extract", "message has no content")
	}
	req := llm.Request{
		System:      systemPrompt,
		Prompt:      BuildPrompt(content, known),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}

	if err := e.wait(ctx); err != nil {
		return "", apperr.Wrap(apperr.KindExtraction, "extract", err)
	}
	var streamed strings.Builder
	streamErr := e.provider.Stream(ctx, req, func(fragment string) {
		streamed.WriteString(fragment)
	})
	if streamErr == nil && strings.TrimSpace(streamed.String()) != "" {
		return streamed.String(), nil
	}
	if streamErr == nil {
		streamErr = apperr.ErrEmptyModelOutput
	}
	if ctx.Err() != nil {
		return "", apperr.Wrap(apperr.KindExtraction, "extract", ctx.Err())
	}
	e.logger.Warn("streamed extraction failed, falling back", "error", streamErr)

	if err := e.wait(ctx); err != nil {
		return "", apperr.Wrap(apperr.KindExtraction, "extract", err)
	}
	text, err := e.provider.Complete(ctx, req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindExtraction, "extract", fmt.Errorf("stream: %v; fallback: %w", streamErr, err))
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.Wrap(apperr.KindExtraction, "extract", apperr.ErrEmptyModelOutput)
	}
	return text, nil
}

func (e *Engine) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}
