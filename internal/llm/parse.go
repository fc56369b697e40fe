package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// rawOutput is one parsed model output object before enrichment.
type rawOutput struct {
	Number         string `json:"number"`
	Type           string `json:"type"`
	Classification string `json:"classification"`
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseResponse extracts the JSON array from a model response, tolerating
// surrounding whitespace and markdown code fences.
func parseResponse(text string) ([]rawOutput, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, eris.New("llm: empty response")
	}

	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	// Fall back to the first bracketed array in the text.
	if !strings.HasPrefix(text, "[") {
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start < 0 || end <= start {
			return nil, eris.New("llm: no JSON array in response")
		}
		text = text[start : end+1]
	}

	var out []rawOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, eris.Wrap(err, "llm: unmarshal response")
	}
	return out, nil
}
