// Package store persists the run-scoped caches: pathful-processed claims
// and raw model outputs, keyed by pathful canonical URL.
package store

import (
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// Store is the persistence interface for the run caches.
type Store interface {
	// ClaimPathful returns true when the caller is the first to claim the
	// pathful URL this run. Later callers observe AlreadyProcessed.
	ClaimPathful(pathfulURL string) bool

	// SaveRawOutputs caches the raw model outputs produced from one
	// pathful URL's candidates.
	SaveRawOutputs(pathfulURL string, outputs []model.PhoneNumberLLMOutput) error

	// GetRawOutputs returns cached raw outputs for a pathful URL.
	GetRawOutputs(pathfulURL string) ([]model.PhoneNumberLLMOutput, bool, error)

	Close() error
}
