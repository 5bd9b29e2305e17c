package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/profilia/cv-extractor/internal/config"
)

// ModelInvoker issues one generation call per attempt, racing each attempt
// against a deadline and retrying only transient failures.
type ModelInvoker interface {
	Invoke(ctx context.Context, document []byte, prompt string) (string, error)
}

// GenerateFunc performs a single generation attempt against the provider.
type GenerateFunc func(ctx context.Context, document []byte, prompt string) (string, error)

// sleep is swapped out in tests to keep backoff instant.
var sleep = time.Sleep

const maxBackoff = 8 * time.Second

type modelInvoker struct {
	generate   GenerateFunc
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

// NewModelInvoker wraps a generate function with the deadline race and the
// transient-only retry policy.
func NewModelInvoker(generate GenerateFunc, timeout time.Duration, maxRetries int, logger *zap.Logger) ModelInvoker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &modelInvoker{
		generate:   generate,
		timeout:    timeout,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// NewGeminiInvoker builds the production invoker over the Gemini API.
func NewGeminiInvoker(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger) (ModelInvoker, error) {
	if cfg.APIKey == "" {
		return nil, newPipelineError(KindMissingCredential, "AI credential is not configured", nil)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	generator := &geminiGenerator{client: client, modelName: cfg.Model}
	return NewModelInvoker(generator.generate, cfg.Timeout, cfg.MaxRetries, logger), nil
}

// Invoke runs up to maxRetries attempts. Transient failures (network,
// provider overload, timeout) back off exponentially and retry; anything
// else fails immediately. An abandoned attempt is not cancelled server-side,
// only its result is discarded.
func (i *modelInvoker) Invoke(ctx context.Context, document []byte, prompt string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= i.maxRetries; attempt++ {
		if attempt > 1 {
			sleep(backoff(attempt - 1))
		}

		text, err := withDeadline(ctx, i.timeout, func(ctx context.Context) (string, error) {
			return i.generate(ctx, document, prompt)
		})
		if err == nil {
			return text, nil
		}

		if errors.Is(err, context.Canceled) {
			return "", newPipelineError(KindInternal, "request cancelled", err)
		}

		if errors.Is(err, context.DeadlineExceeded) {
			i.logger.Warn("model attempt timed out",
				zap.Int("attempt", attempt),
				zap.Duration("timeout", i.timeout))
			lastErr = newPipelineError(KindTimeout, "AI service took too long to respond", err)
			continue
		}

		if !isTransient(err) {
			var pe *PipelineError
			if errors.As(err, &pe) {
				return "", err
			}
			return "", newPipelineError(KindInternal, "AI request failed", err)
		}

		i.logger.Warn("model attempt failed, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err))
		lastErr = newPipelineError(KindUpstream, "AI service is temporarily unavailable", err)
	}

	return "", lastErr
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// withDeadline races op against the deadline. It returns op's result if it
// completes first and the context error if the deadline elapses first; the
// abandoned operation may keep consuming resources afterwards.
func withDeadline(ctx context.Context, d time.Duration, op func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}

	done := make(chan outcome, 1)
	go func() {
		text, err := op(ctx)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case out := <-done:
		return out.text, out.err
	}
}

// isTransient reports whether a failure is worth retrying: network-level
// errors and explicit overload signals from the provider. Content failures
// are deterministic with respect to the attempt and are not retried here.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

type geminiGenerator struct {
	client    *genai.Client
	modelName string
}

func (g *geminiGenerator) generate(ctx context.Context, document []byte, prompt string) (string, error) {
	temperature := float32(0.4)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: 8192,
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(document, "application/pdf"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if resp == nil {
		return "", newPipelineError(KindNoJSONFound, "AI returned an empty response", nil)
	}

	text := resp.Text()
	if text == "" {
		return "", newPipelineError(KindNoJSONFound, "AI returned an empty response", nil)
	}

	return text, nil
}
