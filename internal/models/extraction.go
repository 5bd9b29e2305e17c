package models

type ExtractRequest struct {
	PDFBase64 string `json:"pdfBase64"`
}

// ExtractionResult is the normalized model output. Only the presence of the
// two top-level keys is guaranteed; the nested shape follows the prompt
// contract and is not schema-validated.
type ExtractionResult struct {
	CVData  map[string]interface{} `json:"cvData"`
	JobData map[string]interface{} `json:"jobData"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
