package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"

	"github.com/profilia/cv-extractor/internal/models"
	"github.com/profilia/cv-extractor/internal/services"
)

type stubInvoker struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (s *stubInvoker) Invoke(ctx context.Context, document []byte, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.text, s.err
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

const modelResponse = "Here is the extracted data:\n```json\n" +
	`{"cvData": {"fullName": "Alice Johnson"}, "jobData": {"title": "Backend Engineer"}}` +
	"\n```"

func newTestApp(invoker services.ModelInvoker, maxBytes int64, maxRequests int) *fiber.App {
	logger := zap.NewNop()

	extractor := services.NewExtractorService(
		services.NewInputValidator(maxBytes, false),
		services.NewMemoryRateLimiter(maxRequests, time.Minute, 5*time.Minute),
		invoker,
		services.NewResponseNormalizer(logger),
		logger,
	)
	handler := NewExtractHandler(extractor, logger, false)

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	app.Post("/api/v1/extract", handler.HandleExtract)
	return app
}

func validPDFBase64(fillerBytes int) string {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.Write(bytes.Repeat([]byte("a"), fillerBytes))
	buf.WriteString("\n%%EOF\n")
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func doExtract(t *testing.T, app *fiber.App, body string, headers map[string]string) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/v1/extract", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp.StatusCode, payload
}

func TestExtractRejectsNonPOSTMethod(t *testing.T) {
	app := newTestApp(&stubInvoker{text: modelResponse}, 1<<20, 100)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/extract", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestExtractAnswersPreflight(t *testing.T) {
	app := newTestApp(&stubInvoker{text: modelResponse}, 1<<20, 100)

	req := httptest.NewRequest("OPTIONS", "/api/v1/extract", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode >= 300 {
		t.Fatalf("expected preflight success, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected Access-Control-Allow-Origin header")
	}
}

func TestExtractRejectsMissingField(t *testing.T) {
	invoker := &stubInvoker{text: modelResponse}
	app := newTestApp(invoker, 1<<20, 100)

	status, body := doExtract(t, app, `{}`, nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if !strings.Contains(string(body), "pdfBase64") {
		t.Fatalf("expected message to mention pdfBase64, got %s", body)
	}
	if invoker.callCount() != 0 {
		t.Fatalf("model must not be invoked, got %d calls", invoker.callCount())
	}
}

func TestExtractRejectsOversizedPayloadBeforeModelCall(t *testing.T) {
	invoker := &stubInvoker{text: modelResponse}
	app := newTestApp(invoker, 64, 100)

	body, _ := json.Marshal(models.ExtractRequest{PDFBase64: validPDFBase64(500)})
	status, respBody := doExtract(t, app, string(body), nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, respBody)
	}
	if invoker.callCount() != 0 {
		t.Fatalf("model must not be invoked, got %d calls", invoker.callCount())
	}
}

func TestExtractTimesOutWithoutWaitingForHangingCall(t *testing.T) {
	hanging := func(ctx context.Context, document []byte, prompt string) (string, error) {
		select {
		case <-time.After(10 * time.Second):
			return modelResponse, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	invoker := services.NewModelInvoker(hanging, 50*time.Millisecond, 1, zap.NewNop())
	app := newTestApp(invoker, 1<<20, 100)

	body, _ := json.Marshal(models.ExtractRequest{PDFBase64: validPDFBase64(100)})

	start := time.Now()
	status, _ := doExtract(t, app, string(body), nil)
	elapsed := time.Since(start)

	if status != fiber.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", status)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("handler waited for the hanging call: %v", elapsed)
	}
}

func TestExtractReturnsEmbeddedJSONFromFencedResponse(t *testing.T) {
	app := newTestApp(&stubInvoker{text: modelResponse}, 1<<20, 100)

	body, _ := json.Marshal(models.ExtractRequest{PDFBase64: validPDFBase64(100)})
	status, respBody := doExtract(t, app, string(body), nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, respBody)
	}

	var result models.ExtractionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.CVData["fullName"] != "Alice Johnson" {
		t.Fatalf("unexpected cvData: %#v", result.CVData)
	}
	if result.JobData["title"] != "Backend Engineer" {
		t.Fatalf("unexpected jobData: %#v", result.JobData)
	}
}

func TestExtractRateLimitIsolatesClients(t *testing.T) {
	app := newTestApp(&stubInvoker{text: modelResponse}, 1<<20, 1)

	body, _ := json.Marshal(models.ExtractRequest{PDFBase64: validPDFBase64(100)})
	clientA := map[string]string{"X-Forwarded-For": "203.0.113.10"}
	clientB := map[string]string{"X-Forwarded-For": "203.0.113.20"}

	status, _ := doExtract(t, app, string(body), clientA)
	if status != fiber.StatusOK {
		t.Fatalf("first request should pass, got %d", status)
	}

	req := httptest.NewRequest("POST", "/api/v1/extract", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	status, _ = doExtract(t, app, string(body), clientB)
	if status != fiber.StatusOK {
		t.Fatalf("other client should not be affected, got %d", status)
	}
}
