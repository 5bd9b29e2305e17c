package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/profilia/cv-extractor/internal/models"
)

// ResponseNormalizer turns raw model text into a validated ExtractionResult.
type ResponseNormalizer interface {
	Normalize(raw string) (*models.ExtractionResult, error)
}

type responseNormalizer struct {
	logger *zap.Logger
}

func NewResponseNormalizer(logger *zap.Logger) ResponseNormalizer {
	return &responseNormalizer{logger: logger}
}

func (n *responseNormalizer) Normalize(raw string) (*models.ExtractionResult, error) {
	cleaned := stripFences(raw)

	span, ok := jsonSpan(cleaned)
	if !ok {
		return nil, newPipelineError(KindNoJSONFound,
			"AI response did not contain a JSON object", fmt.Errorf("no object span in %d chars", len(cleaned)))
	}
	span = stripControlChars(span)

	result, err := parseResult(span)
	if err == nil {
		return result, nil
	}

	repaired := repairJSON(span)
	result, repairErr := parseResult(repaired)
	if repairErr != nil {
		// Raw and repaired text stay in server logs only.
		n.logger.Debug("repair pass failed",
			zap.String("original", truncateForLog(span, maxLoggedChars)),
			zap.String("repaired", truncateForLog(repaired, maxLoggedChars)),
			zap.NamedError("strict_error", err),
			zap.NamedError("repair_error", repairErr))
		return nil, newPipelineError(KindParseError, "AI response could not be parsed", repairErr)
	}

	return result, nil
}

// parseResult enforces the only hard shape invariant: a top-level object
// with cvData and jobData present as objects. Nested content is trusted.
func parseResult(text string) (*models.ExtractionResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, err
	}

	result := &models.ExtractionResult{}
	for key, target := range map[string]*map[string]interface{}{
		"cvData":  &result.CVData,
		"jobData": &result.JobData,
	} {
		raw, ok := top[key]
		if !ok {
			return nil, fmt.Errorf("missing required key %q", key)
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("key %q is not an object: %w", key, err)
		}
		// Unmarshalling "null" into a map is a no-op, so it slips past the
		// error check above while leaving the map nil.
		if *target == nil {
			return nil, fmt.Errorf("key %q is not an object", key)
		}
	}

	return result, nil
}

// stripFences removes markdown code fences so a wrapped payload and any
// surrounding prose collapse to plain text before span extraction.
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

func jsonSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

func stripControlChars(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, text)
}

var (
	smartQuoteReplacer = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
	)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	singleQuotedRe  = regexp.MustCompile(`'([^']*)'`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareScalarRe    = regexp.MustCompile(`:\s*([A-Za-z_][A-Za-z0-9_ .\-]*[A-Za-z0-9_.])\s*([,}\]])`)
)

// repairTransforms is the ordered best-effort repair pass. Each step is a
// standalone textual transform so individual failure modes stay diagnosable.
var repairTransforms = []struct {
	name  string
	apply func(string) string
}{
	{"normalize_smart_quotes", func(s string) string {
		return smartQuoteReplacer.Replace(s)
	}},
	{"quote_bare_keys", func(s string) string {
		return bareKeyRe.ReplaceAllString(s, `$1"$2":`)
	}},
	{"single_to_double_quotes", func(s string) string {
		return singleQuotedRe.ReplaceAllString(s, `"$1"`)
	}},
	{"remove_trailing_commas", func(s string) string {
		return trailingCommaRe.ReplaceAllString(s, `$1`)
	}},
	{"quote_bare_scalars", func(s string) string {
		return bareScalarRe.ReplaceAllStringFunc(s, func(match string) string {
			sub := bareScalarRe.FindStringSubmatch(match)
			value := sub[1]
			switch value {
			case "true", "false", "null":
				return match
			}
			return fmt.Sprintf(`: "%s"%s`, value, sub[2])
		})
	}},
	{"collapse_newlines", func(s string) string {
		s = strings.ReplaceAll(s, "\r\n", " ")
		s = strings.ReplaceAll(s, "\n", " ")
		return s
	}},
}

func repairJSON(text string) string {
	for _, t := range repairTransforms {
		text = t.apply(text)
	}
	return text
}

const maxLoggedChars = 500

func truncateForLog(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
