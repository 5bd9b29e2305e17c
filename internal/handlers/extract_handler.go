package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/profilia/cv-extractor/internal/models"
	"github.com/profilia/cv-extractor/internal/services"
)

type ExtractHandler struct {
	extractor   services.ExtractorService
	logger      *zap.Logger
	development bool
}

func NewExtractHandler(extractor services.ExtractorService, logger *zap.Logger, development bool) *ExtractHandler {
	return &ExtractHandler{
		extractor:   extractor,
		logger:      logger,
		development: development,
	}
}

// HandleExtract handles POST /api/v1/extract.
func (h *ExtractHandler) HandleExtract(c *fiber.Ctx) error {
	var req models.ExtractRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, fiber.StatusBadRequest, "Invalid request payload", err)
	}

	if req.PDFBase64 == "" {
		return h.fail(c, fiber.StatusBadRequest, "pdfBase64 is required", nil)
	}

	result, err := h.extractor.Extract(c.UserContext(), req.PDFBase64, clientKey(c))
	if err != nil {
		return h.failPipeline(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *ExtractHandler) failPipeline(c *fiber.Ctx, err error) error {
	var pe *services.PipelineError
	if !errors.As(err, &pe) {
		h.logger.Error("unclassified pipeline failure", zap.Error(err))
		return h.fail(c, fiber.StatusInternalServerError, "Something went wrong. Please try again later.", err)
	}

	status := statusForKind(pe.Kind)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("pipeline failure", zap.String("kind", string(pe.Kind)), zap.Error(err))
	}

	if pe.Kind == services.KindRateLimited {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(pe.RetryAfter))
	}

	message := pe.Message
	if pe.Kind == services.KindMissingCredential || pe.Kind == services.KindInternal {
		// Generic wording for credential and internal failures.
		message = "Something went wrong. Please try again later."
	}

	return h.fail(c, status, message, err)
}

func (h *ExtractHandler) fail(c *fiber.Ctx, status int, message string, err error) error {
	resp := models.ErrorResponse{Message: message}
	if h.development && err != nil {
		resp.Error = err.Error()
	}
	return c.Status(status).JSON(resp)
}

// clientKey buckets rate-limit state per caller. Behind a proxy the
// first X-Forwarded-For hop identifies the client; otherwise the peer IP.
func clientKey(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		if i := strings.Index(xff, ","); i != -1 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	return c.IP()
}

func statusForKind(kind services.FailureKind) int {
	switch kind {
	case services.KindMissingField,
		services.KindInvalidEncoding,
		services.KindPayloadTooLarge,
		services.KindMalformedDocument:
		return fiber.StatusBadRequest
	case services.KindRateLimited:
		return fiber.StatusTooManyRequests
	case services.KindTimeout:
		return fiber.StatusGatewayTimeout
	case services.KindUpstream:
		return fiber.StatusServiceUnavailable
	case services.KindNoJSONFound, services.KindParseError:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
