package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const dataURLPrefix = "data:application/pdf;base64,"

var (
	pdfHeader    = []byte("%PDF")
	pdfEOFMarker = []byte("%%EOF")
)

type InputValidator interface {
	Validate(payload string) ([]byte, error)
}

type inputValidator struct {
	maxBytes int64
	strict   bool
}

func NewInputValidator(maxBytes int64, strict bool) InputValidator {
	return &inputValidator{
		maxBytes: maxBytes,
		strict:   strict,
	}
}

// Validate checks the base64 payload and returns the decoded PDF bytes.
// The size ceiling is enforced on the 3/4 estimate before decoding, so an
// oversized payload is rejected without allocating its decoded form.
func (v *inputValidator) Validate(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, newPipelineError(KindMissingField, "pdfBase64 is required", nil)
	}

	payload = strings.TrimPrefix(payload, dataURLPrefix)

	usable := 0
	for _, r := range payload {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if !isBase64Char(r) {
			return nil, newPipelineError(KindInvalidEncoding,
				"pdfBase64 contains characters outside the base64 alphabet",
				fmt.Errorf("unexpected character %q", r))
		}
		usable++
	}
	if usable == 0 {
		return nil, newPipelineError(KindMissingField, "pdfBase64 is required", nil)
	}

	estimated := int64(usable) * 3 / 4
	if estimated > v.maxBytes {
		return nil, newPipelineError(KindPayloadTooLarge,
			fmt.Sprintf("PDF too large. Max size: %d bytes", v.maxBytes),
			fmt.Errorf("estimated %d bytes", estimated))
	}

	cleaned := stripWhitespace(payload)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		// Alphabet already checked, so this is bad padding or truncation.
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
		if err != nil {
			return nil, newPipelineError(KindInvalidEncoding, "pdfBase64 is not valid base64", err)
		}
	}

	if !bytes.HasPrefix(decoded, pdfHeader) {
		return nil, newPipelineError(KindMalformedDocument,
			"document does not look like a PDF", fmt.Errorf("missing %s header", pdfHeader))
	}
	if !bytes.Contains(decoded, pdfEOFMarker) {
		return nil, newPipelineError(KindMalformedDocument,
			"document does not look like a PDF", fmt.Errorf("missing %s marker", pdfEOFMarker))
	}

	if v.strict {
		if err := v.checkStructure(decoded); err != nil {
			return nil, newPipelineError(KindMalformedDocument,
				"document does not look like a PDF", err)
		}
	}

	return decoded, nil
}

// checkStructure opens the document with the PDF reader to confirm the
// cross-reference table resolves. No text is extracted.
func (v *inputValidator) checkStructure(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to open PDF: %w", err)
	}
	if reader.NumPage() < 1 {
		return fmt.Errorf("PDF has no pages")
	}
	return nil
}

func isBase64Char(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '+' || r == '/' || r == '=':
		return true
	}
	return false
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
