package llm

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// candidatesMarker is where the rendered candidate list is inserted into
// the prompt template.
const candidatesMarker = "[CANDIDATES_JSON]"

// defaultPromptTemplate is used when no template file is configured.
const defaultPromptTemplate = `You are classifying phone number candidates found on company websites.

Below is a JSON list of candidate items. Each item has a "number" (the exact string found on the page), a "source_url", a "company_name", and a "snippet" of surrounding page text.

For every input item, in the same order, return one JSON object with:
- "number": the candidate number COPIED VERBATIM from the input item
- "type": a short label for what the number is (e.g. "Main Line", "Sales", "Customer Service", "Support", "Fax", "Mobile", "Info-Hotline", "Non-Priority-Country Contact", "Unknown")
- "classification": one of "Primary", "Secondary", "Support", "Low-Relevance", "Non-Business"

Use the snippet to decide. A number that is a date, an order ID, or otherwise not a phone number is "Non-Business". Return ONLY a JSON array with exactly one object per input item, in input order.

Candidates:
[CANDIDATES_JSON]`

// PromptTemplate renders candidate chunks into model prompts.
type PromptTemplate struct {
	text string
}

// LoadPromptTemplate reads the template from path, or returns the built-in
// template when path is empty.
func LoadPromptTemplate(path string) (*PromptTemplate, error) {
	if path == "" {
		return &PromptTemplate{text: defaultPromptTemplate}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "llm: read prompt template %s", path)
	}
	text := string(data)
	if !strings.Contains(text, candidatesMarker) {
		return nil, eris.Errorf("llm: prompt template %s lacks %s marker", path, candidatesMarker)
	}
	return &PromptTemplate{text: text}, nil
}

// promptCandidate is the candidate shape embedded in prompts.
type promptCandidate struct {
	Number      string `json:"number"`
	SourceURL   string `json:"source_url"`
	CompanyName string `json:"company_name"`
	Snippet     string `json:"snippet"`
}

// Render embeds the chunk as a JSON list at the template marker.
func (t *PromptTemplate) Render(chunk []model.PhoneCandidateItem) (string, error) {
	payload := make([]promptCandidate, len(chunk))
	for i, c := range chunk {
		payload[i] = promptCandidate{
			Number:      c.Number,
			SourceURL:   c.SourceURL,
			CompanyName: c.CompanyName,
			Snippet:     c.Snippet,
		}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "llm: marshal candidates")
	}
	return strings.Replace(t.text, candidatesMarker, string(data), 1), nil
}
