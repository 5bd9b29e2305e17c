package services

type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildExtractionPrompt creates the structured-extraction prompt sent
// alongside the PDF document.
func (pb *PromptBuilder) BuildExtractionPrompt() string {
	return `You are an expert HR analyst. You receive a candidate's CV as a PDF document.

Your task has two parts:
1. Extract the candidate's profile from the CV.
2. Write a realistic synthetic job posting that this candidate would be a strong match for, based on their skills and experience.

Return your response as a single JSON object with EXACTLY this structure:
{
  "cvData": {
    "fullName": "<candidate name>",
    "email": "<email or empty string>",
    "phone": "<phone or empty string>",
    "location": "<city/country or empty string>",
    "summary": "<2-3 sentence professional summary>",
    "skills": ["<skill>", "..."],
    "experience": [
      {
        "title": "<job title>",
        "company": "<company>",
        "period": "<e.g. 2020-2023>",
        "description": "<1-2 sentences>"
      }
    ],
    "education": [
      {
        "degree": "<degree>",
        "institution": "<institution>",
        "year": "<year or empty string>"
      }
    ],
    "languages": ["<language>", "..."]
  },
  "jobData": {
    "title": "<job title matching the candidate>",
    "company": "<plausible fictional company>",
    "location": "<location>",
    "employmentType": "<full-time/part-time/contract>",
    "description": "<3-4 sentence posting description>",
    "requirements": ["<requirement>", "..."],
    "salaryRange": "<plausible range or empty string>"
  }
}

Rules:
- Return ONLY the JSON object. No markdown fences, no commentary.
- Both "cvData" and "jobData" must always be present.
- Use empty strings or empty arrays for information you cannot find. Never invent contact details.
- All output must be valid JSON with double-quoted keys and strings.`
}
