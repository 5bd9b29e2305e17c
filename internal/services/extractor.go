package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/profilia/cv-extractor/internal/models"
)

// ExtractorService runs the full pipeline for one request:
// validate, rate-limit, invoke the model, normalize the output.
type ExtractorService interface {
	Extract(ctx context.Context, payload, clientKey string) (*models.ExtractionResult, error)
}

type extractorService struct {
	validator     InputValidator
	rateLimiter   RateLimiter
	invoker       ModelInvoker
	normalizer    ResponseNormalizer
	promptBuilder *PromptBuilder
	logger        *zap.Logger
}

func NewExtractorService(
	validator InputValidator,
	rateLimiter RateLimiter,
	invoker ModelInvoker,
	normalizer ResponseNormalizer,
	logger *zap.Logger,
) ExtractorService {
	return &extractorService{
		validator:     validator,
		rateLimiter:   rateLimiter,
		invoker:       invoker,
		normalizer:    normalizer,
		promptBuilder: NewPromptBuilder(),
		logger:        logger,
	}
}

// Extract validates before consuming rate budget, so malformed requests do
// not count against a legitimate client's quota. Content failures from the
// model trigger exactly one re-invocation with a fresh sample; transient
// failures are already retried inside the invoker.
func (e *extractorService) Extract(ctx context.Context, payload, clientKey string) (*models.ExtractionResult, error) {
	requestID := uuid.New().String()
	logger := e.logger.With(zap.String("request_id", requestID))

	document, err := e.validator.Validate(payload)
	if err != nil {
		logger.Info("validation rejected request", zap.String("kind", string(KindOf(err))))
		return nil, err
	}
	logger.Info("document accepted", zap.Int("pdf_bytes", len(document)))

	if err := e.rateLimiter.Admit(clientKey); err != nil {
		logger.Info("rate limit rejected request", zap.String("client_key", clientKey))
		return nil, err
	}

	prompt := e.promptBuilder.BuildExtractionPrompt()

	result, err := e.extractOnce(ctx, logger, document, prompt)
	if err == nil {
		return result, nil
	}

	switch KindOf(err) {
	case KindNoJSONFound, KindParseError:
		logger.Warn("model output unusable, requesting one fresh sample", zap.Error(err))
		return e.extractOnce(ctx, logger, document, prompt)
	}

	return nil, err
}

func (e *extractorService) extractOnce(ctx context.Context, logger *zap.Logger, document []byte, prompt string) (*models.ExtractionResult, error) {
	raw, err := e.invoker.Invoke(ctx, document, prompt)
	if err != nil {
		return nil, err
	}
	logger.Debug("model response received", zap.Int("chars", len(raw)))

	result, err := e.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	logger.Info("extraction completed")
	return result, nil
}
