package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// Error-substitute item types. Classification is always Non-Business so
// consolidation drops them from contact-focused reports.
const (
	typePersistentMismatch = "Error_PersistentMismatch"
	typeParseError         = "Error_LLMParse"
	typeTransportError     = "Error_LLMTransport"
	errorClassification    = "Non-Business"
)

// DomainResult aggregates the model outputs for one canonical base domain.
type DomainResult struct {
	Outputs   []model.PhoneNumberLLMOutput
	Usage     model.TokenUsage
	CallsMade int
	// Errors collects per-chunk failure messages; non-empty marks the
	// domain's journey with llm_error_encountered.
	Errors []string
}

// Extractor runs the chunked extraction protocol against a Client.
// Stateless per call; chunk calls within one domain are sequential.
type Extractor struct {
	client     Client
	template   *PromptTemplate
	chunkSize  int
	maxChunks  int
	maxRetries int
	contextDir string
}

// NewExtractor builds an Extractor. contextDir receives per-call prompt
// and response artifacts; empty disables artifact saving.
func NewExtractor(client Client, template *PromptTemplate, cfg config.LLMConfig, contextDir string) *Extractor {
	chunkSize := cfg.CandidateChunkSize
	if chunkSize <= 0 {
		chunkSize = 10
	}
	return &Extractor{
		client:     client,
		template:   template,
		chunkSize:  chunkSize,
		maxChunks:  cfg.MaxChunksPerURL,
		maxRetries: cfg.MaxRetriesOnNumberMismatch,
		contextDir: contextDir,
	}
}

// ExtractForDomain processes the candidates of one base canonical domain.
// It returns exactly one output per processed candidate; candidates beyond
// the chunk budget are not processed and yield no outputs.
func (e *Extractor) ExtractForDomain(ctx context.Context, domainKey string, candidates []model.PhoneCandidateItem) *DomainResult {
	result := &DomainResult{}
	if len(candidates) == 0 {
		return result
	}

	chunks := chunkCandidates(candidates, e.chunkSize)
	if e.maxChunks >= 0 && len(chunks) > e.maxChunks {
		zap.L().Warn("llm: chunk budget reached, truncating",
			zap.String("domain", domainKey),
			zap.Int("chunks", len(chunks)),
			zap.Int("budget", e.maxChunks),
		)
		chunks = chunks[:e.maxChunks]
	}

	for i, chunk := range chunks {
		outputs := e.processChunk(ctx, domainKey, i, chunk, result)
		result.Outputs = append(result.Outputs, outputs...)
	}
	return result
}

// processChunk runs one chunk through the call → parse → identity-check →
// retry protocol and returns one output per candidate.
func (e *Extractor) processChunk(ctx context.Context, domainKey string, chunkIdx int, chunk []model.PhoneCandidateItem, result *DomainResult) []model.PhoneNumberLLMOutput {
	outputs := make([]model.PhoneNumberLLMOutput, len(chunk))
	resolved := make([]bool, len(chunk))

	// pending holds indexes into chunk still awaiting a matching output.
	pending := make([]int, len(chunk))
	for i := range chunk {
		pending[i] = i
	}

	// attempt 0 is the initial call; each subsequent attempt re-sends only
	// the still-mismatched candidates.
	for attempt := 0; attempt <= e.maxRetries && len(pending) > 0; attempt++ {
		items := make([]model.PhoneCandidateItem, len(pending))
		for i, idx := range pending {
			items[i] = chunk[idx]
		}

		raws, err := e.callOnce(ctx, domainKey, chunkIdx, attempt, items, result)
		if err != nil {
			errType := typeTransportError
			if isParseError(err) {
				errType = typeParseError
			}
			result.Errors = append(result.Errors, fmt.Sprintf("chunk %d attempt %d: %v", chunkIdx, attempt, err))
			for _, idx := range pending {
				outputs[idx] = errorItem(chunk[idx], errType)
				resolved[idx] = true
			}
			return outputs
		}

		if len(raws) != len(items) {
			zap.L().Warn("llm: response length mismatch, treating chunk as mismatched",
				zap.String("domain", domainKey),
				zap.Int("chunk", chunkIdx),
				zap.Int("want", len(items)),
				zap.Int("got", len(raws)),
			)
			result.Errors = append(result.Errors, fmt.Sprintf("chunk %d attempt %d: length mismatch (want %d, got %d)", chunkIdx, attempt, len(items), len(raws)))
			continue
		}

		var stillPending []int
		for i, raw := range raws {
			idx := pending[i]
			if raw.Number != chunk[idx].Number {
				stillPending = append(stillPending, idx)
				continue
			}
			outputs[idx] = model.PhoneNumberLLMOutput{
				Number:         raw.Number,
				Type:           raw.Type,
				Classification: raw.Classification,
				SourceURL:      chunk[idx].SourceURL,
				CompanyName:    chunk[idx].CompanyName,
			}
			resolved[idx] = true
		}
		if len(stillPending) > 0 {
			zap.L().Info("llm: number identity mismatches, retrying subset",
				zap.String("domain", domainKey),
				zap.Int("chunk", chunkIdx),
				zap.Int("mismatched", len(stillPending)),
				zap.Int("attempt", attempt),
			)
		}
		pending = stillPending
	}

	for _, idx := range pending {
		outputs[idx] = errorItem(chunk[idx], typePersistentMismatch)
		resolved[idx] = true
	}

	// Defensive: every candidate must have exactly one output.
	for i := range resolved {
		if !resolved[i] {
			outputs[i] = errorItem(chunk[i], typeParseError)
		}
	}
	return outputs
}

// callOnce renders, sends, persists artifacts, and parses a single model
// call.
func (e *Extractor) callOnce(ctx context.Context, domainKey string, chunkIdx, attempt int, items []model.PhoneCandidateItem, result *DomainResult) ([]rawOutput, error) {
	prompt, err := e.template.Render(items)
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("%s_chunk%d_try%d", sanitizeKey(domainKey), chunkIdx, attempt)
	e.saveArtifact(prefix+"_prompt.txt", prompt)

	text, usage, err := e.client.Complete(ctx, prompt)
	result.CallsMade++
	result.Usage.Add(usage)
	if err != nil {
		return nil, err
	}

	e.saveArtifact(prefix+"_response.txt", text)

	return parseResponse(text)
}

func (e *Extractor) saveArtifact(name, content string) {
	if e.contextDir == "" {
		return
	}
	path := filepath.Join(e.contextDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		zap.L().Warn("llm: failed to save context artifact", zap.String("path", path), zap.Error(err))
	}
}

func errorItem(c model.PhoneCandidateItem, errType string) model.PhoneNumberLLMOutput {
	return model.PhoneNumberLLMOutput{
		Number:         c.Number,
		Type:           errType,
		Classification: errorClassification,
		SourceURL:      c.SourceURL,
		CompanyName:    c.CompanyName,
	}
}

func chunkCandidates(candidates []model.PhoneCandidateItem, size int) [][]model.PhoneCandidateItem {
	var chunks [][]model.PhoneCandidateItem
	for start := 0; start < len(candidates); start += size {
		end := start + size
		if end > len(candidates) {
			end = len(candidates)
		}
		chunks = append(chunks, candidates[start:end])
	}
	return chunks
}

func isParseError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "llm: unmarshal response") ||
		strings.Contains(msg, "llm: no JSON array") ||
		strings.Contains(msg, "llm: empty response")
}

func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
